// Package lock implements the per-game calculation lock on top of a
// relational table. Exclusion comes from the primary key on game_id, so it
// holds across processes; nothing here uses an in-memory mutex.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pokersettle/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTimeout is how long a lock is honored before it can be reclaimed.
const DefaultTimeout = 5 * time.Minute

// ErrNotHeld is returned by Release when the lock row no longer belongs to the holder.
var ErrNotHeld = errors.New("calculation lock not held")

// Locker is what the settlement orchestrator needs from a lock manager.
type Locker interface {
	Acquire(ctx context.Context, gameID, holderID string) (bool, error)
	Release(ctx context.Context, gameID, holderID string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// Manager is a Locker backed by the calculation_locks table.
type Manager struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager on db.
func NewManager(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		timeout: DefaultTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire inserts the lock row for gameID. If a row already exists and is
// older than the timeout it is replaced in the same statement. It returns
// false without waiting when a live lock is held by someone else.
func (m *Manager) Acquire(ctx context.Context, gameID, holderID string) (bool, error) {
	now := m.now()
	row := models.CalculationLock{
		GameID:     gameID,
		HolderID:   holderID,
		AcquiredAt: now,
	}

	res := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"holder_id", "acquired_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "calculation_locks.acquired_at < ?", Vars: []interface{}{now.Add(-m.timeout)}},
		}},
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("acquire calculation lock for game %s: %w", gameID, res.Error)
	}

	acquired := res.RowsAffected > 0
	logrus.WithFields(logrus.Fields{
		"game_id":   gameID,
		"holder_id": holderID,
		"acquired":  acquired,
	}).Debug("calculation lock acquire")
	return acquired, nil
}

// Release deletes the lock row only if holderID still owns it.
func (m *Manager) Release(ctx context.Context, gameID, holderID string) error {
	res := m.db.WithContext(ctx).
		Where("game_id = ? AND holder_id = ?", gameID, holderID).
		Delete(&models.CalculationLock{})
	if res.Error != nil {
		return fmt.Errorf("release calculation lock for game %s: %w", gameID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("release calculation lock for game %s by %s: %w", gameID, holderID, ErrNotHeld)
	}
	return nil
}

// CleanupExpired removes every lock older than the timeout and returns how
// many rows went away. A live lock is never touched.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-m.timeout)
	res := m.db.WithContext(ctx).
		Where("acquired_at < ?", cutoff).
		Delete(&models.CalculationLock{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup expired calculation locks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		logrus.WithField("removed", res.RowsAffected).Info("expired calculation locks removed")
	}
	return res.RowsAffected, nil
}

// Holder returns the current lock row for gameID, or nil when none exists.
func (m *Manager) Holder(ctx context.Context, gameID string) (*models.CalculationLock, error) {
	var row models.CalculationLock
	err := m.db.WithContext(ctx).Where("game_id = ?", gameID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load calculation lock for game %s: %w", gameID, err)
	}
	return &row, nil
}
