package config

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var RabbitMQ *amqp.Connection

// InitRabbitMQ connects to the broker, retrying while it starts up.
func InitRabbitMQ(s *Settings) {
	maxRetries := 10
	retryDelay := 3 * time.Second

	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(s.RabbitMQURL())
		if err == nil {
			RabbitMQ = conn
			logrus.WithField("host", s.RabbitMQHost).Info("connected to RabbitMQ")
			return
		}

		if i < maxRetries-1 {
			logrus.Warnf("Failed to connect to RabbitMQ (attempt %d/%d): %v. Retrying in %v...", i+1, maxRetries, err, retryDelay)
			time.Sleep(retryDelay)
		}
	}

	logrus.Fatalf("Failed to connect to RabbitMQ after %d attempts: %v", maxRetries, err)
}

// CloseRabbitMQ closes the shared connection if one is open.
func CloseRabbitMQ() {
	if RabbitMQ == nil {
		return
	}
	if err := RabbitMQ.Close(); err != nil {
		logrus.Warnf("failed to close RabbitMQ connection: %v", err)
	}
	RabbitMQ = nil
}

// PurgeQueue removes all messages from a queue without deleting the queue itself.
func PurgeQueue(queueName string) (int, error) {
	if RabbitMQ == nil {
		return 0, fmt.Errorf("RabbitMQ connection not initialized")
	}

	ch, err := RabbitMQ.Channel()
	if err != nil {
		return 0, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	n, err := ch.QueuePurge(queueName, false)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue %s: %w", queueName, err)
	}

	logrus.WithFields(logrus.Fields{"queue": queueName, "messages": n}).Info("purged RabbitMQ queue")
	return n, nil
}
