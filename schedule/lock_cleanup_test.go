package main

import (
	"context"
	"errors"
	"testing"

	lockmock "pokersettle/internal/lock/mock"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCleanupLocks(t *testing.T) {
	t.Run("runs cleanup", func(t *testing.T) {
		locks := &lockmock.Locker{}
		locks.On("CleanupExpired", mock.Anything).Return(int64(3), nil).Once()

		require.NoError(t, CleanupLocks(context.Background(), locks))
		locks.AssertExpectations(t)
	})

	t.Run("propagates failure", func(t *testing.T) {
		locks := &lockmock.Locker{}
		locks.On("CleanupExpired", mock.Anything).Return(int64(0), errors.New("db down"))

		assert.Error(t, CleanupLocks(context.Background(), locks))
	})
}

func TestDefaultScheduleParses(t *testing.T) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse("0 * * * * *")
	assert.NoError(t, err)
}
