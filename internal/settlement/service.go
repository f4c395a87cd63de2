// Package settlement coordinates the calculation lock, the calculator, the
// store and the audit log into the operations the API and worker expose.
package settlement

import (
	"context"
	"errors"
	"time"

	"pokersettle/internal/audit"
	"pokersettle/internal/calculator"
	"pokersettle/internal/lock"
	"pokersettle/internal/models"
	"pokersettle/internal/store"

	"github.com/sirupsen/logrus"
)

const (
	msgInProgress = "calculation already in progress, please retry shortly"
	msgTryAgain   = "settlement service is temporarily unavailable, please try again"
)

// Service implements settlement calculation and status transitions.
type Service struct {
	store       *store.Store
	locks       lock.Locker
	audit       *audit.Recorder
	publisher   Publisher
	eventsQueue string
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPublisher publishes an Event to queue after every mutation.
func WithPublisher(p Publisher, queue string) Option {
	return func(s *Service) {
		s.publisher = p
		s.eventsQueue = queue
	}
}

// NewService wires a Service.
func NewService(st *store.Store, locks lock.Locker, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store: st,
		locks: locks,
		audit: recorder,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCalculateSettlements returns the settlements of a game, calculating
// them first if none exist. At most one caller per game calculates; others
// get the stored result or CodeAlreadyInProgress.
func (s *Service) GetOrCalculateSettlements(ctx context.Context, gameID, requesterID string) (result []models.Settlement, err error) {
	existing, done, err := s.calculated(ctx, gameID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	if done {
		return existing, nil
	}

	startedAt := s.now()
	outcome := models.AttemptFailed
	defer func() {
		s.recordAttempt(ctx, gameID, requesterID, outcome, startedAt, err)
	}()

	if err := s.checkSettleable(ctx, gameID); err != nil {
		return nil, err
	}

	acquired, err := s.locks.Acquire(ctx, gameID, requesterID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	if !acquired {
		logrus.WithFields(logrus.Fields{"game_id": gameID, "holder_id": requesterID}).Info("calculation already in progress")
		return nil, newError(CodeAlreadyInProgress, msgInProgress, nil)
	}
	defer s.releaseLock(ctx, gameID, requesterID)

	existing, done, err = s.calculated(ctx, gameID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	if done {
		outcome = models.AttemptAlreadyCalculated
		return existing, nil
	}

	created, err := s.calculateAndPersist(ctx, gameID, requesterID)
	if err != nil {
		return nil, newError(CodeCalculationFailed, calculationMessage(err), err)
	}
	outcome = models.AttemptSuccess

	logrus.WithFields(logrus.Fields{
		"game_id":     gameID,
		"holder_id":   requesterID,
		"settlements": len(created),
	}).Info("settlements calculated")
	s.publish(newEvent(EventCalculated, gameID, requesterID, s.now(), created))
	return created, nil
}

// calculated returns the stored settlements of a game and whether a
// calculation already happened. A game where everyone broke even has no rows,
// so its earlier successful attempt is what marks it done.
func (s *Service) calculated(ctx context.Context, gameID string) ([]models.Settlement, bool, error) {
	existing, err := s.store.ListSettlements(ctx, gameID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, true, nil
	}
	done, err := s.audit.HasSucceeded(ctx, gameID)
	if err != nil {
		return nil, false, err
	}
	return existing, done, nil
}

// calculateAndPersist runs snapshot, calculation and insert in one
// transaction so a failure leaves no settlement rows behind.
func (s *Service) calculateAndPersist(ctx context.Context, gameID, requesterID string) ([]models.Settlement, error) {
	var created []models.Settlement
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		positions, err := tx.LockPositions(ctx, gameID)
		if err != nil {
			return err
		}

		settlements, err := calculator.Calculate(positions)
		if err != nil {
			return err
		}
		if err := calculator.Verify(positions, settlements); err != nil {
			return err
		}

		now := s.now()
		for i := range settlements {
			settlements[i].GameID = gameID
			settlements[i].CreatedAt = now
		}
		if err := tx.CreateSettlements(ctx, settlements); err != nil {
			return err
		}

		events := make([]models.SettlementEvent, 0, len(settlements))
		for _, st := range settlements {
			events = append(events, audit.EventFor(st, requesterID, models.ActionCreated, "", now))
		}
		if err := tx.AppendEvents(ctx, events); err != nil {
			return err
		}

		created = settlements
		return nil
	})
	return created, err
}

func (s *Service) checkSettleable(ctx context.Context, gameID string) error {
	game, err := s.store.GetGame(ctx, gameID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeGameNotFound, "game not found", err)
	}
	if err != nil {
		return newError(CodeStoreUnavailable, msgTryAgain, err)
	}

	switch game.Status {
	case models.GameCompleted:
		return nil
	case models.GameCancelled:
		return newError(CodeGameCancelled, "game was cancelled and cannot be settled", nil)
	default:
		return newError(CodeGameNotFinished, "game is not finished yet", nil)
	}
}

// releaseLock runs even when ctx is already cancelled. A failure is logged
// and written to system_logs; the lock still expires on its own.
func (s *Service) releaseLock(ctx context.Context, gameID, holderID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.locks.Release(ctx, gameID, holderID); err != nil {
		s.audit.RecordIncident(ctx, gameID, "lock", "calculation lock release failed", err, models.JSONMap{
			"holder_id": holderID,
		})
	}
}

func (s *Service) recordAttempt(ctx context.Context, gameID, holderID, outcome string, startedAt time.Time, err error) {
	completedAt := s.now()
	attempt := models.CalculationAttempt{
		GameID:      gameID,
		HolderID:    holderID,
		Status:      outcome,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
	}
	if err != nil {
		attempt.ErrorMessage = err.Error()
	}
	s.audit.RecordAttempt(context.WithoutCancel(ctx), attempt)
}

func calculationMessage(err error) string {
	switch {
	case errors.Is(err, calculator.ErrUnbalanced):
		return "net positions of the game do not balance; fix the buy-ins and cash-outs"
	case errors.Is(err, calculator.ErrEmptyInput):
		return "game has no participant positions"
	case errors.Is(err, calculator.ErrInvalidPosition):
		return "game has an invalid participant position"
	default:
		return msgTryAgain
	}
}

// IsInputError reports whether err comes from the game's own data and will
// fail the same way on retry.
func IsInputError(err error) bool {
	return errors.Is(err, calculator.ErrUnbalanced) ||
		errors.Is(err, calculator.ErrEmptyInput) ||
		errors.Is(err, calculator.ErrInvalidPosition)
}

// ListSettlements returns the settlements of a game without locking.
func (s *Service) ListSettlements(ctx context.Context, gameID string) ([]models.Settlement, error) {
	settlements, err := s.store.ListSettlements(ctx, gameID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	return settlements, nil
}

// ListForParticipant returns the settlements participantID pays or receives.
func (s *Service) ListForParticipant(ctx context.Context, participantID, status string) ([]models.Settlement, error) {
	switch status {
	case "", models.SettlementPending, models.SettlementCompleted, models.SettlementCancelled:
	default:
		return nil, newError(CodeInvalidRequest, "unknown settlement status "+status, nil)
	}
	settlements, err := s.store.ListByParticipant(ctx, participantID, status)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	return settlements, nil
}

// ListAttempts returns the calculation attempt log of a game.
func (s *Service) ListAttempts(ctx context.Context, gameID string) ([]models.CalculationAttempt, error) {
	attempts, err := s.audit.ListAttempts(ctx, gameID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	return attempts, nil
}

// ListEvents returns the mutation history of one settlement.
func (s *Service) ListEvents(ctx context.Context, settlementID string) ([]models.SettlementEvent, error) {
	if _, err := s.store.GetSettlement(ctx, settlementID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeSettlementNotFound, "settlement not found", err)
		}
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	events, err := s.audit.ListEvents(ctx, settlementID)
	if err != nil {
		return nil, newError(CodeStoreUnavailable, msgTryAgain, err)
	}
	return events, nil
}

func (s *Service) publish(event Event) {
	if s.publisher == nil || s.eventsQueue == "" {
		return
	}
	if err := s.publisher.Publish(s.eventsQueue, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"game_id": event.GameID,
			"type":    event.Type,
		}).Errorf("failed to publish settlement event: %v", err)
	}
}
