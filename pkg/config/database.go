package config

import (
	"fmt"
	"time"

	"pokersettle/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Models lists every table AutoMigrate manages.
var Models = []interface{}{
	&models.Game{},
	&models.GroupMember{},
	&models.ParticipantPosition{},
	&models.Settlement{},
	&models.CalculationLock{},
	&models.CalculationAttempt{},
	&models.SettlementEvent{},
	&models.SystemLog{},
}

// InitDB opens the configured database, stores it in DB and migrates all models.
func InitDB(s *Settings) {
	db, err := OpenDatabase(s.DBDriver, s.DSN())
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	if s.DBDriver == DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			logrus.Fatalf("Failed to get database instance: %v", err)
		}
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := AutoMigrate(db); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	DB = db
	logrus.WithField("driver", s.DBDriver).Info("database initialized")
}

// OpenDatabase opens a gorm connection for driver ("postgres" or "sqlite").
// SQLite connections are capped at one so writers queue instead of failing
// with "database is locked".
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sqlite instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// AutoMigrate creates or updates every settlement table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models...)
}
