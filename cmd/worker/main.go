package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"pokersettle/internal/audit"
	"pokersettle/internal/lock"
	"pokersettle/internal/settlement"
	"pokersettle/internal/store"
	"pokersettle/pkg/config"

	logrus "github.com/sirupsen/logrus"
)

func main() {
	purge := flag.Bool("purge", false, "drop every queued settlement request before consuming")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatalf("Failed to load settings: %v", err)
	}
	config.InitLogger(settings.LogLevel, settings.LogFormat)

	config.InitDB(settings)

	if !settings.RabbitMQEnabled() {
		logrus.Fatal("RABBITMQ_HOST is required for the settlement worker")
	}
	config.InitRabbitMQ(settings)
	defer config.CloseRabbitMQ()

	if *purge {
		if _, err := config.PurgeQueue(settings.RequestsQueue); err != nil {
			logrus.Fatalf("Failed to purge %s: %v", settings.RequestsQueue, err)
		}
	}

	opts := []settlement.Option{}
	publisher, err := config.NewPublisher()
	if err != nil {
		logrus.Warnf("settlement events will not be published: %v", err)
	} else {
		defer publisher.Close()
		opts = append(opts, settlement.WithPublisher(publisher, settings.EventsQueue))
	}

	locks := lock.NewManager(config.DB, lock.WithTimeout(settings.LockTimeout))
	svc := settlement.NewService(store.New(config.DB), locks, audit.NewRecorder(config.DB), opts...)
	handler := &requestHandler{svc: svc, retryDelay: 2 * time.Second}

	msgConsumer, err := config.NewConsumer(settings.RequestsQueue, 4)
	if err != nil {
		logrus.Fatal("Failed to create consumer: ", err)
	}
	defer msgConsumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.WithField("queue", settings.RequestsQueue).Info("settlement worker started, waiting for messages...")
	if err := msgConsumer.Consume(ctx, handler.handle); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("consumer stopped: %v", err)
	}
	logrus.Info("settlement worker stopped")
}
