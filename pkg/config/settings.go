package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Settings is everything the binaries read from the environment.
type Settings struct {
	Port string

	DBDriver     string
	DBHost       string
	DBUser       string
	DBPassword   string
	DBName       string
	DBPort       string
	DBSQLitePath string

	RunMigrations  bool
	MigrationsPath string

	LockTimeout         time.Duration
	LockCleanupSchedule string

	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int

	RabbitMQHost     string
	RabbitMQPort     string
	RabbitMQUser     string
	RabbitMQPassword string
	EventsQueue      string
	RequestsQueue    string

	LogLevel  string
	LogFormat string
}

// LoadSettings reads an optional .env file, then the process environment.
func LoadSettings() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	s := &Settings{
		Port:                getEnv("PORT", "8080"),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DBHost:              os.Getenv("DB_HOST"),
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBName:              os.Getenv("DB_NAME"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBSQLitePath:        getEnv("DB_SQLITE_PATH", "data/settlements.db"),
		MigrationsPath:      getEnv("MIGRATIONS_PATH", "migrations"),
		LockCleanupSchedule: getEnv("LOCK_CLEANUP_SCHEDULE", "0 * * * * *"),
		AllowedOrigins:      splitList(os.Getenv("ALLOWED_ORIGINS")),
		RabbitMQHost:        os.Getenv("RABBITMQ_HOST"),
		RabbitMQPort:        getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:        os.Getenv("RABBITMQ_USER"),
		RabbitMQPassword:    os.Getenv("RABBITMQ_PASSWORD"),
		EventsQueue:         getEnv("SETTLEMENT_EVENTS_QUEUE", "settlement_events"),
		RequestsQueue:       getEnv("SETTLEMENT_REQUESTS_QUEUE", "settlement_requests"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if s.RunMigrations, err = strconv.ParseBool(getEnv("RUN_MIGRATIONS", "false")); err != nil {
		return nil, fmt.Errorf("invalid RUN_MIGRATIONS: %w", err)
	}
	if s.LockTimeout, err = time.ParseDuration(getEnv("LOCK_TIMEOUT", "5m")); err != nil {
		return nil, fmt.Errorf("invalid LOCK_TIMEOUT: %w", err)
	}
	if s.LockTimeout <= 0 {
		return nil, fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", s.LockTimeout)
	}
	if s.RateLimitRPS, err = strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if s.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "10")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	switch s.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", s.DBDriver)
	}

	return s, nil
}

// DSN builds the connection string for the configured driver.
func (s *Settings) DSN() string {
	if s.DBDriver == DriverSQLite {
		return s.DBSQLitePath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		s.DBHost, s.DBUser, s.DBPassword, s.DBName, s.DBPort)
}

// RabbitMQEnabled reports whether a broker host is configured.
func (s *Settings) RabbitMQEnabled() bool {
	return s.RabbitMQHost != ""
}

// RabbitMQURL builds the amqp:// URL.
func (s *Settings) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", s.RabbitMQUser, s.RabbitMQPassword, s.RabbitMQHost, s.RabbitMQPort)
}

// InitLogger configures the global logrus logger.
func InitLogger(level, format string) {
	if strings.EqualFold(format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
