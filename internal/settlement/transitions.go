package settlement

import (
	"context"
	"errors"

	"pokersettle/internal/audit"
	"pokersettle/internal/calculator"
	"pokersettle/internal/models"
	"pokersettle/internal/store"

	"github.com/sirupsen/logrus"
)

// MarkComplete moves a pending settlement to completed. The payer, the
// payee, or an admin of the game's group may do it.
func (s *Service) MarkComplete(ctx context.Context, settlementID, actorID string) (*models.Settlement, error) {
	updated, err := s.transition(ctx, settlementID, actorID, models.SettlementCompleted)
	if err != nil {
		return nil, err
	}
	s.publish(newEvent(EventCompleted, updated.GameID, actorID, s.now(), []models.Settlement{*updated}))
	return updated, nil
}

// Cancel moves a pending settlement to cancelled. Only a group admin may do it.
func (s *Service) Cancel(ctx context.Context, settlementID, actorID string) (*models.Settlement, error) {
	updated, err := s.transition(ctx, settlementID, actorID, models.SettlementCancelled)
	if err != nil {
		return nil, err
	}
	s.publish(newEvent(EventCancelled, updated.GameID, actorID, s.now(), []models.Settlement{*updated}))
	return updated, nil
}

func (s *Service) transition(ctx context.Context, settlementID, actorID, toStatus string) (*models.Settlement, error) {
	var updated models.Settlement
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		current, err := tx.GetSettlementForUpdate(ctx, settlementID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeSettlementNotFound, "settlement not found", err)
		}
		if err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}

		if err := s.authorize(ctx, tx, current, actorID, toStatus); err != nil {
			return err
		}
		if current.Status != models.SettlementPending {
			return newError(CodeInvalidTransition, "settlement is already "+current.Status, nil)
		}
		if err := calculator.ValidateSettlement(*current); err != nil {
			return newError(CodeCorruptSettlement, "settlement failed validation and cannot be updated", err)
		}

		now := s.now()
		next := *current
		next.Status = toStatus
		if toStatus == models.SettlementCompleted {
			next.CompletedAt = &now
		}
		if err := tx.TransitionSettlement(ctx, &next, current.Status); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return newError(CodeInvalidTransition, "settlement changed while updating", err)
			}
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}

		event := audit.EventFor(next, actorID, actionFor(toStatus), current.Status, now)
		if err := tx.AppendEvents(ctx, []models.SettlementEvent{event}); err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}

		updated = next
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"settlement_id": settlementID,
			"actor_id":      actorID,
			"to_status":     toStatus,
			"code":          CodeOf(err),
		}).Warnf("settlement transition rejected: %v", err)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"settlement_id": updated.ID,
		"game_id":       updated.GameID,
		"actor_id":      actorID,
		"status":        updated.Status,
	}).Info("settlement updated")
	return &updated, nil
}

// authorize checks that actorID may move st to toStatus. Completion is open
// to both parties; everything else needs a group admin.
func (s *Service) authorize(ctx context.Context, tx *store.Store, st *models.Settlement, actorID, toStatus string) error {
	if toStatus == models.SettlementCompleted && st.IsParty(actorID) {
		return nil
	}

	game, err := tx.GetGame(ctx, st.GameID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeUnauthorized, "not allowed to update this settlement", err)
	}
	if err != nil {
		return newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	admin, err := tx.IsGroupAdmin(ctx, game.GroupID, actorID)
	if err != nil {
		return newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	if !admin {
		return newError(CodeUnauthorized, "not allowed to update this settlement", nil)
	}
	return nil
}

// CancelGame cancels every pending settlement of a voided game. Only a group
// admin may do it. Completed settlements are left alone.
func (s *Service) CancelGame(ctx context.Context, gameID, actorID string) ([]models.Settlement, error) {
	var cancelled []models.Settlement
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		game, err := tx.GetGame(ctx, gameID)
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeGameNotFound, "game not found", err)
		}
		if err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}
		admin, err := tx.IsGroupAdmin(ctx, game.GroupID, actorID)
		if err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}
		if !admin {
			return newError(CodeUnauthorized, "only a group admin can cancel settlements", nil)
		}

		pending, err := tx.ListPendingForUpdate(ctx, gameID)
		if err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}

		now := s.now()
		events := make([]models.SettlementEvent, 0, len(pending))
		for _, st := range pending {
			next := st
			next.Status = models.SettlementCancelled
			if err := tx.TransitionSettlement(ctx, &next, models.SettlementPending); err != nil {
				return newError(CodeStoreUnavailable, msgTryAgain, err)
			}
			events = append(events, audit.EventFor(next, actorID, models.ActionCancelled, models.SettlementPending, now))
			cancelled = append(cancelled, next)
		}
		if err := tx.AppendEvents(ctx, events); err != nil {
			return newError(CodeStoreUnavailable, msgTryAgain, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"game_id":   gameID,
		"actor_id":  actorID,
		"cancelled": len(cancelled),
	}).Info("game settlements cancelled")
	if len(cancelled) > 0 {
		s.publish(newEvent(EventCancelled, gameID, actorID, s.now(), cancelled))
	}
	return cancelled, nil
}

func actionFor(status string) string {
	if status == models.SettlementCompleted {
		return models.ActionCompleted
	}
	return models.ActionCancelled
}
