package config

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrDrop tells Consume to ack a message that failed and must not be retried.
var ErrDrop = errors.New("drop message")

// Consumer reads one durable queue with manual acks.
type Consumer struct {
	channel *amqp.Channel
	queue   string
}

// NewConsumer opens a channel and declares queueName. prefetch bounds how many
// unacked messages the broker hands out at once.
func NewConsumer(queueName string, prefetch int) (*Consumer, error) {
	if RabbitMQ == nil {
		return nil, fmt.Errorf("RabbitMQ connection not initialized")
	}

	ch, err := RabbitMQ.Channel()
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return nil, err
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	return &Consumer{
		channel: ch,
		queue:   q.Name,
	}, nil
}

// Consume delivers messages to handler until ctx is done or the channel
// closes. A nil error acks, ErrDrop acks, any other error requeues.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, []byte) error) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",    // consumer
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return err
	}

	logrus.WithField("queue", c.queue).Info("consumer is running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			Dispatch(ctx, msg, handler)
		}
	}
}

// Acknowledger is the part of amqp.Delivery Dispatch needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Dispatch runs handler on one delivery and acks or requeues it.
func Dispatch(ctx context.Context, msg amqp.Delivery, handler func(context.Context, []byte) error) {
	settle(&msg, handler(ctx, msg.Body))
}

func settle(msg Acknowledger, err error) {
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, ErrDrop):
		logrus.Warnf("dropping message: %v", err)
		msg.Ack(false)
	default:
		logrus.Errorf("Handle msg failed: %v", err)
		msg.Nack(false, true)
	}
}

// Close closes the consumer channel.
func (c *Consumer) Close() error {
	return c.channel.Close()
}
