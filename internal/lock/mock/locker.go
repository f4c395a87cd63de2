// Package mock provides a testify mock of lock.Locker.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// Locker is a mock lock.Locker.
type Locker struct {
	mock.Mock
}

func (m *Locker) Acquire(ctx context.Context, gameID, holderID string) (bool, error) {
	args := m.Called(ctx, gameID, holderID)
	return args.Bool(0), args.Error(1)
}

func (m *Locker) Release(ctx context.Context, gameID, holderID string) error {
	args := m.Called(ctx, gameID, holderID)
	return args.Error(0)
}

func (m *Locker) CleanupExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
