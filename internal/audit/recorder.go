// Package audit owns the append-only records of the settlement subsystem:
// calculation attempts, settlement mutations and infrastructure incidents.
// Rows are only ever inserted; nothing here updates or deletes.
package audit

import (
	"context"
	"fmt"
	"time"

	"pokersettle/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recorder writes audit rows. An append that fails is logged and copied to
// system_logs when possible; it never fails the caller's operation.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder on db.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordAttempt appends one calculation attempt.
func (r *Recorder) RecordAttempt(ctx context.Context, attempt models.CalculationAttempt) {
	attempt.ID = 0
	if err := r.db.WithContext(ctx).Create(&attempt).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"game_id":   attempt.GameID,
			"holder_id": attempt.HolderID,
			"status":    attempt.Status,
			"error":     attempt.ErrorMessage,
		}).Errorf("failed to append calculation attempt: %v", err)
		r.RecordIncident(ctx, attempt.GameID, "audit", "calculation attempt not recorded", err, models.JSONMap{
			"holder_id":     attempt.HolderID,
			"status":        attempt.Status,
			"error_message": attempt.ErrorMessage,
			"started_at":    attempt.StartedAt,
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"game_id":   attempt.GameID,
		"holder_id": attempt.HolderID,
		"status":    attempt.Status,
	}).Info("calculation attempt recorded")
}

// RecordIncident writes an ERROR row to system_logs. If even that fails the
// incident only reaches the process log.
func (r *Recorder) RecordIncident(ctx context.Context, gameID, module, message string, cause error, meta models.JSONMap) {
	entry := models.SystemLog{
		GameID:  gameID,
		Level:   "ERROR",
		Message: message,
		Module:  module,
		Meta:    meta,
	}
	if cause != nil {
		entry.ErrorStack = cause.Error()
	}

	fields := logrus.Fields{"game_id": gameID, "module": module}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	logrus.WithFields(fields).Error(message)

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logrus.WithFields(fields).Errorf("failed to write system log: %v", err)
	}
}

// ListAttempts returns the attempt log of a game, newest first.
func (r *Recorder) ListAttempts(ctx context.Context, gameID string) ([]models.CalculationAttempt, error) {
	var attempts []models.CalculationAttempt
	if err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("id desc").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("list calculation attempts for game %s: %w", gameID, err)
	}
	return attempts, nil
}

// HasSucceeded reports whether a calculation for the game has ever committed.
func (r *Recorder) HasSucceeded(ctx context.Context, gameID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CalculationAttempt{}).
		Where("game_id = ? AND status = ?", gameID, models.AttemptSuccess).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check calculation attempts for game %s: %w", gameID, err)
	}
	return count > 0, nil
}

// ListEvents returns the mutation history of a settlement, oldest first.
func (r *Recorder) ListEvents(ctx context.Context, settlementID string) ([]models.SettlementEvent, error) {
	var events []models.SettlementEvent
	if err := r.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("id asc").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events for settlement %s: %w", settlementID, err)
	}
	return events, nil
}

// ListIncidents returns the most recent system log rows, newest first.
func (r *Recorder) ListIncidents(ctx context.Context, limit int) ([]models.SystemLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []models.SystemLog
	if err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list system logs: %w", err)
	}
	return logs, nil
}

// AppendEvents inserts settlement mutation events on db, which is normally the
// transaction that performed the mutation so both commit or neither does.
func AppendEvents(ctx context.Context, db *gorm.DB, events []models.SettlementEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		events[i].ID = 0
	}
	if err := db.WithContext(ctx).CreateInBatches(&events, 100).Error; err != nil {
		return fmt.Errorf("append settlement events: %w", err)
	}
	return nil
}

// EventFor builds the audit event for a settlement entering toStatus.
func EventFor(s models.Settlement, actorID, action, fromStatus string, at time.Time) models.SettlementEvent {
	return models.SettlementEvent{
		SettlementID: s.ID,
		GameID:       s.GameID,
		ActorID:      actorID,
		Action:       action,
		FromStatus:   fromStatus,
		ToStatus:     s.Status,
		Amount:       s.Amount,
		CreatedAt:    at,
	}
}
