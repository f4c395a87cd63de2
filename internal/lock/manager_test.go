package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pokersettle/internal/models"
	"pokersettle/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire free lock", func(t *testing.T) {
		db := testdb.Open(t)
		clock := testdb.NewClock()
		m := NewManager(db, WithClock(clock.Now))

		ok, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		row, err := m.Holder(ctx, "game-1")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "alice", row.HolderID)
		assert.True(t, clock.Now().Equal(row.AcquiredAt))
	})

	t.Run("live lock is not stolen", func(t *testing.T) {
		db := testdb.Open(t)
		clock := testdb.NewClock()
		m := NewManager(db, WithClock(clock.Now))

		ok, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(DefaultTimeout - time.Second)
		ok, err = m.Acquire(ctx, "game-1", "bob")
		require.NoError(t, err)
		assert.False(t, ok)

		row, err := m.Holder(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", row.HolderID)
	})

	t.Run("expired lock is reclaimed", func(t *testing.T) {
		db := testdb.Open(t)
		clock := testdb.NewClock()
		m := NewManager(db, WithClock(clock.Now))

		ok, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(DefaultTimeout + time.Second)
		ok, err = m.Acquire(ctx, "game-1", "bob")
		require.NoError(t, err)
		assert.True(t, ok)

		row, err := m.Holder(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, "bob", row.HolderID)
		assert.True(t, clock.Now().Equal(row.AcquiredAt))
	})

	t.Run("different games do not contend", func(t *testing.T) {
		db := testdb.Open(t)
		m := NewManager(db)

		ok, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = m.Acquire(ctx, "game-2", "bob")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release by holder", func(t *testing.T) {
		db := testdb.Open(t)
		m := NewManager(db)

		_, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, "game-1", "alice"))

		row, err := m.Holder(ctx, "game-1")
		require.NoError(t, err)
		assert.Nil(t, row)

		ok, err := m.Acquire(ctx, "game-1", "bob")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release after reclaim does not free the new holder", func(t *testing.T) {
		db := testdb.Open(t)
		clock := testdb.NewClock()
		m := NewManager(db, WithClock(clock.Now))

		_, err := m.Acquire(ctx, "game-1", "alice")
		require.NoError(t, err)
		clock.Advance(DefaultTimeout + time.Minute)
		ok, err := m.Acquire(ctx, "game-1", "bob")
		require.NoError(t, err)
		require.True(t, ok)

		err = m.Release(ctx, "game-1", "alice")
		assert.ErrorIs(t, err, ErrNotHeld)

		row, err := m.Holder(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, "bob", row.HolderID)
	})

	t.Run("cleanup removes only expired locks", func(t *testing.T) {
		db := testdb.Open(t)
		clock := testdb.NewClock()
		m := NewManager(db, WithClock(clock.Now), WithTimeout(time.Minute))

		_, err := m.Acquire(ctx, "old-1", "alice")
		require.NoError(t, err)
		_, err = m.Acquire(ctx, "old-2", "alice")
		require.NoError(t, err)
		clock.Advance(2 * time.Minute)
		_, err = m.Acquire(ctx, "fresh", "bob")
		require.NoError(t, err)

		removed, err := m.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		var left []models.CalculationLock
		require.NoError(t, db.Find(&left).Error)
		require.Len(t, left, 1)
		assert.Equal(t, "fresh", left[0].GameID)

		removed, err = m.CleanupExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("concurrent acquirers get exactly one winner", func(t *testing.T) {
		db := testdb.Open(t)
		m := NewManager(db)

		const callers = 16
		var wg sync.WaitGroup
		results := make(chan bool, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(holder string) {
				defer wg.Done()
				ok, err := m.Acquire(ctx, "game-1", holder)
				assert.NoError(t, err)
				results <- ok
			}(fmt.Sprintf("holder-%d", i))
		}
		wg.Wait()
		close(results)

		winners := 0
		for ok := range results {
			if ok {
				winners++
			}
		}
		assert.Equal(t, 1, winners)
	})
}
