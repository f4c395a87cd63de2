// Package store is the gorm data access layer for settlements and the
// read-only game tables they are computed from.
package store

import (
	"context"
	"errors"
	"fmt"

	"pokersettle/internal/audit"
	"pokersettle/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound wraps gorm.ErrRecordNotFound for lookups by id.
var ErrNotFound = gorm.ErrRecordNotFound

// Store wraps a *gorm.DB. Inside Transaction the wrapped handle is the
// transaction, so every method participates in it.
type Store struct {
	db *gorm.DB
}

// New creates a Store on db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn in one database transaction. fn must use the Store it is
// given, not the outer one.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// GetGame loads one game.
func (s *Store) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	if err := s.db.WithContext(ctx).Where("id = ?", gameID).Take(&game).Error; err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	return &game, nil
}

// ListSettlements returns every settlement of a game in calculation order.
func (s *Store) ListSettlements(ctx context.Context, gameID string) ([]models.Settlement, error) {
	var settlements []models.Settlement
	if err := s.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("seq asc").Order("id asc").
		Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("list settlements for game %s: %w", gameID, err)
	}
	return settlements, nil
}

// LockPositions reads the positions of a game with FOR UPDATE so the
// game-play side cannot change them until the transaction ends. SQLite has
// no row locks; there the single connection gives the same isolation.
func (s *Store) LockPositions(ctx context.Context, gameID string) ([]models.ParticipantPosition, error) {
	var positions []models.ParticipantPosition
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ?", gameID).
		Order("participant_id asc").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("lock positions for game %s: %w", gameID, err)
	}
	return positions, nil
}

// CreateSettlements bulk-inserts one calculation run.
func (s *Store) CreateSettlements(ctx context.Context, settlements []models.Settlement) error {
	if len(settlements) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&settlements, 100).Error; err != nil {
		return fmt.Errorf("insert settlements: %w", err)
	}
	return nil
}

// GetSettlementForUpdate loads a settlement and locks its row.
func (s *Store) GetSettlementForUpdate(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&settlement).Error; err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", id, err)
	}
	return &settlement, nil
}

// GetSettlement loads a settlement without locking.
func (s *Store) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&settlement).Error; err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", id, err)
	}
	return &settlement, nil
}

// ErrStaleStatus is returned when a transition finds the row no longer in the
// expected status.
var ErrStaleStatus = errors.New("settlement status changed concurrently")

// TransitionSettlement writes the new status and completion time of s, but
// only if the stored status is still fromStatus.
func (s *Store) TransitionSettlement(ctx context.Context, settlement *models.Settlement, fromStatus string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ? AND status = ?", settlement.ID, fromStatus).
		Updates(map[string]interface{}{
			"status":       settlement.Status,
			"completed_at": settlement.CompletedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update settlement %s: %w", settlement.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update settlement %s: %w", settlement.ID, ErrStaleStatus)
	}
	return nil
}

// ListPendingForUpdate returns and locks the pending settlements of a game.
func (s *Store) ListPendingForUpdate(ctx context.Context, gameID string) ([]models.Settlement, error) {
	var settlements []models.Settlement
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ? AND status = ?", gameID, models.SettlementPending).
		Order("seq asc").
		Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("list pending settlements for game %s: %w", gameID, err)
	}
	return settlements, nil
}

// IsGroupAdmin reports whether userID is an admin of groupID.
func (s *Store) IsGroupAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND role = ?", groupID, userID, models.RoleAdmin).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check admin %s of group %s: %w", userID, groupID, err)
	}
	return count > 0, nil
}

// ListByParticipant returns the settlements a participant pays or receives,
// newest first, optionally filtered by status.
func (s *Store) ListByParticipant(ctx context.Context, participantID, status string) ([]models.Settlement, error) {
	query := s.db.WithContext(ctx).
		Where("(payer_id = ? OR payee_id = ?)", participantID, participantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var settlements []models.Settlement
	if err := query.Order("created_at desc").Order("game_id asc").Order("seq asc").
		Find(&settlements).Error; err != nil {
		return nil, fmt.Errorf("list settlements for participant %s: %w", participantID, err)
	}
	return settlements, nil
}

// AppendEvents writes settlement events on this Store's handle.
func (s *Store) AppendEvents(ctx context.Context, events []models.SettlementEvent) error {
	return audit.AppendEvents(ctx, s.db, events)
}
