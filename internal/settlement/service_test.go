package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pokersettle/internal/audit"
	"pokersettle/internal/calculator"
	"pokersettle/internal/lock"
	lockmock "pokersettle/internal/lock/mock"
	"pokersettle/internal/models"
	"pokersettle/internal/store"
	"pokersettle/internal/testdb"
	configmock "pokersettle/pkg/config/mock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const eventsQueue = "settlement_events"

type fixture struct {
	db      *gorm.DB
	clock   *testdb.Clock
	locks   *lock.Manager
	svc     *Service
	pub     *configmock.Publisher
	records *audit.Recorder
}

func newFixture(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	db := testdb.Open(t)
	clock := testdb.NewClock()
	f := &fixture{
		db:      db,
		clock:   clock,
		locks:   lock.NewManager(db, lock.WithClock(clock.Now)),
		pub:     &configmock.Publisher{},
		records: audit.NewRecorder(db),
	}
	if locker == nil {
		locker = f.locks
	}
	f.pub.On("Publish", eventsQueue, mock.Anything).Return(nil).Maybe()
	f.svc = NewService(store.New(db), locker, f.records, WithClock(clock.Now), WithPublisher(f.pub, eventsQueue))
	return f
}

func (f *fixture) attempts(t *testing.T, gameID string) []models.CalculationAttempt {
	t.Helper()
	attempts, err := f.records.ListAttempts(context.Background(), gameID)
	require.NoError(t, err)
	return attempts
}

func (f *fixture) settlementCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Settlement{}).Count(&n).Error)
	return n
}

func TestGetOrCalculateSettlements(t *testing.T) {
	ctx := context.Background()

	t.Run("calculates once then reads", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "30", "bob": "-10", "carol": "-20"})

		first, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "carol", first[0].PayerID)
		assert.Equal(t, "alice", first[0].PayeeID)
		assert.True(t, first[0].Amount.Equal(decimal.NewFromInt(20)))
		assert.Equal(t, "bob", first[1].PayerID)
		assert.True(t, first[1].Amount.Equal(decimal.NewFromInt(10)))

		second, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "bob")
		require.NoError(t, err)
		require.Len(t, second, 2)
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.True(t, first[i].Amount.Equal(second[i].Amount))
		}
		assert.Equal(t, int64(2), f.settlementCount(t))

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptSuccess, attempts[0].Status)
		assert.Equal(t, "alice", attempts[0].HolderID)
		assert.NotNil(t, attempts[0].CompletedAt)

		holder, err := f.locks.Holder(ctx, "g1")
		require.NoError(t, err)
		assert.Nil(t, holder)

		events, err := f.svc.ListEvents(ctx, first[0].ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.ActionCreated, events[0].Action)

		f.pub.AssertNumberOfCalls(t, "Publish", 1)
		f.pub.AssertCalled(t, "Publish", eventsQueue, mock.MatchedBy(func(e Event) bool {
			return e.Type == EventCalculated && e.GameID == "g1" && len(e.Settlements) == 2 && e.Settlements[0].Amount == "20.00"
		}))
	})

	t.Run("everyone even is calculated once", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "0", "bob": "0"})

		first, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		require.NoError(t, err)
		assert.Empty(t, first)

		second, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "bob")
		require.NoError(t, err)
		assert.Empty(t, second)

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptSuccess, attempts[0].Status)
		assert.Zero(t, f.settlementCount(t))
	})

	t.Run("unbalanced game persists nothing", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-5"})

		_, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		require.Error(t, err)
		assert.Equal(t, CodeCalculationFailed, CodeOf(err))
		assert.ErrorIs(t, err, calculator.ErrUnbalanced)
		assert.True(t, IsInputError(err))
		assert.False(t, IsRetryable(err))
		assert.Zero(t, f.settlementCount(t))

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptFailed, attempts[0].Status)
		assert.Contains(t, attempts[0].ErrorMessage, "do not balance")

		holder, err := f.locks.Holder(ctx, "g1")
		require.NoError(t, err)
		assert.Nil(t, holder)
		f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("game without positions", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", nil)

		_, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		assert.ErrorIs(t, err, calculator.ErrEmptyInput)
	})

	t.Run("live lock held by someone else", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-10"})
		ok, err := f.locks.Acquire(ctx, "g1", "bob")
		require.NoError(t, err)
		require.True(t, ok)

		_, err = f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		assert.Equal(t, CodeAlreadyInProgress, CodeOf(err))
		assert.True(t, IsRetryable(err))
		assert.Zero(t, f.settlementCount(t))

		holder, err := f.locks.Holder(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "bob", holder.HolderID)

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptFailed, attempts[0].Status)
		assert.Contains(t, attempts[0].ErrorMessage, "already in progress")
	})

	t.Run("contention does not release", func(t *testing.T) {
		locker := &lockmock.Locker{}
		locker.On("Acquire", mock.Anything, "g1", "alice").Return(false, nil)
		f := newFixture(t, locker)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-10"})

		_, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		assert.Equal(t, CodeAlreadyInProgress, CodeOf(err))
		locker.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("result found after acquiring the lock", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-10"})

		locker := &lockmock.Locker{}
		locker.On("Acquire", mock.Anything, "g1", "alice").Return(true, nil).Run(func(mock.Arguments) {
			// Another holder finishes between the first read and acquisition.
			require.NoError(t, f.db.Create(&models.Settlement{
				GameID: "g1", Seq: 1, PayerID: "bob", PayeeID: "alice",
				Amount: decimal.NewFromInt(10), Status: models.SettlementPending, CreatedAt: f.clock.Now(),
			}).Error)
		})
		locker.On("Release", mock.Anything, "g1", "alice").Return(nil)
		f.svc.locks = locker

		got, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), f.settlementCount(t))
		locker.AssertExpectations(t)

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptAlreadyCalculated, attempts[0].Status)
		f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("release failure is recorded separately", func(t *testing.T) {
		locker := &lockmock.Locker{}
		locker.On("Acquire", mock.Anything, "g1", "alice").Return(true, nil)
		locker.On("Release", mock.Anything, "g1", "alice").Return(errors.New("connection reset"))
		f := newFixture(t, locker)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-10"})

		got, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
		require.NoError(t, err)
		assert.Len(t, got, 1)
		locker.AssertExpectations(t)

		incidents, err := f.records.ListIncidents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, incidents, 1)
		assert.Equal(t, "lock", incidents[0].Module)
		assert.Equal(t, "g1", incidents[0].GameID)
		assert.Contains(t, incidents[0].ErrorStack, "connection reset")

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptSuccess, attempts[0].Status)
	})

	t.Run("release runs after the caller's context is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		locker := &lockmock.Locker{}
		locker.On("Acquire", mock.Anything, "g1", "alice").Return(true, nil).Run(func(mock.Arguments) { cancel() })
		locker.On("Release", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "g1", "alice").Return(nil)
		f := newFixture(t, locker)
		testdb.Seed(t, f.db, "g1", map[string]string{"alice": "10", "bob": "-10"})

		_, err := f.svc.GetOrCalculateSettlements(cctx, "g1", "alice")
		assert.Equal(t, CodeStoreUnavailable, CodeOf(err))
		locker.AssertExpectations(t)

		attempts := f.attempts(t, "g1")
		require.Len(t, attempts, 1)
		assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	})

	t.Run("games that cannot be settled", func(t *testing.T) {
		locker := &lockmock.Locker{}
		f := newFixture(t, locker)
		require.NoError(t, f.db.Create(&models.Game{ID: "live", GroupID: "group-1", Status: models.GameActive}).Error)
		require.NoError(t, f.db.Create(&models.Game{ID: "void", GroupID: "group-1", Status: models.GameCancelled}).Error)

		cases := []struct {
			gameID string
			code   string
		}{
			{"live", CodeGameNotFinished},
			{"void", CodeGameCancelled},
			{"missing", CodeGameNotFound},
		}
		for _, tc := range cases {
			_, err := f.svc.GetOrCalculateSettlements(ctx, tc.gameID, "alice")
			assert.Equal(t, tc.code, CodeOf(err), tc.gameID)

			attempts := f.attempts(t, tc.gameID)
			require.Len(t, attempts, 1, tc.gameID)
			assert.Equal(t, models.AttemptFailed, attempts[0].Status)
		}
		locker.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("concurrent callers calculate once", func(t *testing.T) {
		f := newFixture(t, nil)
		testdb.Seed(t, f.db, "g1", map[string]string{"a": "50", "b": "10", "c": "-30", "d": "-30"})

		const callers = 8
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		results := make(chan []models.Settlement, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(requester string) {
				defer wg.Done()
				got, err := f.svc.GetOrCalculateSettlements(ctx, "g1", requester)
				if err != nil {
					errs <- err
					return
				}
				results <- got
			}(string(rune('p' + i)))
		}
		wg.Wait()
		close(errs)
		close(results)

		for err := range errs {
			assert.Equal(t, CodeAlreadyInProgress, CodeOf(err))
		}
		var ids []string
		for got := range results {
			require.Len(t, got, 3)
			if ids == nil {
				for _, s := range got {
					ids = append(ids, s.ID)
				}
				continue
			}
			for i, s := range got {
				assert.Equal(t, ids[i], s.ID)
			}
		}
		assert.NotNil(t, ids)
		assert.Equal(t, int64(3), f.settlementCount(t))

		var successes int64
		require.NoError(t, f.db.Model(&models.CalculationAttempt{}).
			Where("game_id = ? AND status = ?", "g1", models.AttemptSuccess).
			Count(&successes).Error)
		assert.Equal(t, int64(1), successes)
	})
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	testdb.Seed(t, f.db, "g1", map[string]string{"alice": "30", "bob": "-10", "carol": "-20"})

	none, err := f.svc.ListSettlements(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, none)

	created, err := f.svc.GetOrCalculateSettlements(ctx, "g1", "alice")
	require.NoError(t, err)

	listed, err := f.svc.ListSettlements(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, listed, len(created))

	forBob, err := f.svc.ListForParticipant(ctx, "bob", "")
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, "bob", forBob[0].PayerID)

	_, err = f.svc.ListForParticipant(ctx, "bob", "paid")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))

	_, err = f.svc.ListEvents(ctx, "missing")
	assert.Equal(t, CodeSettlementNotFound, CodeOf(err))
}
