// Package testdb opens a private in-memory SQLite database with every
// settlement table migrated, for tests that exercise the real gorm code.
package testdb

import (
	"fmt"
	"testing"
	"time"

	"pokersettle/internal/models"
	"pokersettle/pkg/config"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open returns a migrated database that lives as long as the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := config.OpenDatabase(config.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, config.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

// NewClock starts a clock at a fixed UTC instant.
func NewClock() *Clock {
	return &Clock{T: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	return c.T
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}

// Seed inserts a finished game in group "group-1" with the given nets
// (participant -> cash-out minus buy-in) and returns the game ID.
func Seed(t *testing.T, db *gorm.DB, gameID string, nets map[string]string) string {
	t.Helper()

	require.NoError(t, db.Create(&models.Game{ID: gameID, GroupID: "group-1", Status: models.GameCompleted}).Error)
	for participant, net := range nets {
		n := decimal.RequireFromString(net)
		p := models.ParticipantPosition{
			GameID:        gameID,
			ParticipantID: participant,
			TotalBuyIn:    decimal.NewFromInt(100),
			TotalCashOut:  n.Add(decimal.NewFromInt(100)),
		}
		if n.IsNegative() {
			p.TotalBuyIn = n.Neg()
			p.TotalCashOut = decimal.Zero
		}
		require.NoError(t, db.Create(&p).Error)
	}
	return gameID
}

// AddMember adds userID to group-1 with role.
func AddMember(t *testing.T, db *gorm.DB, userID, role string) {
	t.Helper()
	require.NoError(t, db.Create(&models.GroupMember{GroupID: "group-1", UserID: userID, Role: role}).Error)
}
