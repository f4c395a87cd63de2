package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pokersettle/internal/audit"
	"pokersettle/internal/handlers"
	"pokersettle/internal/lock"
	"pokersettle/internal/middleware"
	"pokersettle/internal/routes"
	"pokersettle/internal/settlement"
	"pokersettle/internal/store"
	"pokersettle/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	migrateDown := flag.Bool("migrate-down", false, "roll back the last SQL migration and exit")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatalf("Failed to load settings: %v", err)
	}
	config.InitLogger(settings.LogLevel, settings.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	config.InitDB(settings)

	if *migrateDown {
		if settings.DBDriver != config.DriverPostgres {
			logrus.Fatalf("-migrate-down needs the %s driver, got %s", config.DriverPostgres, settings.DBDriver)
		}
		if err := config.RollbackMigration(config.DB, settings.MigrationsPath); err != nil {
			logrus.Fatalf("Failed to roll back migration: %v", err)
		}
		return
	}

	if settings.RunMigrations {
		if settings.DBDriver != config.DriverPostgres {
			logrus.Warnf("RUN_MIGRATIONS ignored for driver %s", settings.DBDriver)
		} else if err := config.ExecuteMigrations(config.DB, settings.MigrationsPath); err != nil {
			logrus.Fatalf("Failed to run migrations: %v", err)
		}
	}

	opts := []settlement.Option{}
	if settings.RabbitMQEnabled() {
		config.InitRabbitMQ(settings)
		defer config.CloseRabbitMQ()

		publisher, err := config.NewPublisher()
		if err != nil {
			logrus.Fatalf("Failed to create publisher: %v", err)
		}
		defer publisher.Close()
		opts = append(opts, settlement.WithPublisher(publisher, settings.EventsQueue))
	} else {
		logrus.Info("RabbitMQ not configured, settlement events will not be published")
	}

	locks := lock.NewManager(config.DB, lock.WithTimeout(settings.LockTimeout))
	svc := settlement.NewService(store.New(config.DB), locks, audit.NewRecorder(config.DB), opts...)

	r := routes.SetupRouter(routes.Options{
		AllowedOrigins: settings.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: settings.RateLimitRPS,
			Burst:             settings.RateLimitBurst,
		},
	}, handlers.NewSettlementHandler(svc, locks))

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithField("port", settings.Port).Info("settlement api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server shutdown: %v", err)
	}
	logrus.Info("settlement api stopped")
}
