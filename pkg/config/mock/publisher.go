// Package mock provides a testify mock of the queue publisher.
package mock

import (
	"github.com/stretchr/testify/mock"
)

// Publisher is a mock of config.Publisher.
type Publisher struct {
	mock.Mock
}

func (m *Publisher) Publish(queueName string, message interface{}) error {
	args := m.Called(queueName, message)
	return args.Error(0)
}
