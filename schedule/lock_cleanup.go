package main

import (
	"context"
	"os"
	"time"

	"pokersettle/internal/lock"
	dbconfig "pokersettle/pkg/config"

	"github.com/robfig/cron/v3"
	logger "github.com/sirupsen/logrus"
)

// CleanupLocks removes expired calculation locks once.
func CleanupLocks(ctx context.Context, locks lock.Locker) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := locks.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	logger.WithField("removed", removed).Info("> expired calculation locks cleaned up")
	return nil
}

func main() {
	settings, err := dbconfig.LoadSettings()
	if err != nil {
		logger.Fatalf("> failed to load settings: %v", err)
	}
	dbconfig.InitLogger(settings.LogLevel, settings.LogFormat)

	os.MkdirAll("logs", 0755)
	file, err := os.OpenFile("logs/lock_cleanup.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		logger.SetOutput(file)
	} else {
		logger.Warn("> cannot open log file, logging to stdout")
	}

	dbconfig.InitDB(settings)
	locks := lock.NewManager(dbconfig.DB, lock.WithTimeout(settings.LockTimeout))

	c := cron.New(cron.WithSeconds())
	_, err = c.AddFunc(settings.LockCleanupSchedule, func() {
		if err := CleanupLocks(context.Background(), locks); err != nil {
			logger.Errorf("> lock cleanup failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("> invalid LOCK_CLEANUP_SCHEDULE %q: %v", settings.LockCleanupSchedule, err)
	}

	logger.WithField("schedule", settings.LockCleanupSchedule).Info("> lock cleanup scheduled")
	c.Start()

	select {}
}
