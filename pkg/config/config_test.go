package config

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestSettle(t *testing.T) {
	t.Run("success acks", func(t *testing.T) {
		msg := &fakeAck{}
		settle(msg, nil)
		assert.True(t, msg.acked)
		assert.False(t, msg.nacked)
	})

	t.Run("drop acks", func(t *testing.T) {
		msg := &fakeAck{}
		settle(msg, fmt.Errorf("bad payload: %w", ErrDrop))
		assert.True(t, msg.acked)
		assert.False(t, msg.nacked)
	})

	t.Run("other errors requeue", func(t *testing.T) {
		msg := &fakeAck{}
		settle(msg, errors.New("busy"))
		assert.False(t, msg.acked)
		assert.True(t, msg.nacked)
		assert.True(t, msg.requeued)
	})
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "")
		t.Setenv("LOCK_TIMEOUT", "")
		t.Setenv("RABBITMQ_HOST", "")

		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, s.DBDriver)
		assert.Equal(t, 5*time.Minute, s.LockTimeout)
		assert.Equal(t, "settlement_events", s.EventsQueue)
		assert.False(t, s.RabbitMQEnabled())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "SQLite")
		t.Setenv("DB_SQLITE_PATH", "/tmp/x.db")
		t.Setenv("LOCK_TIMEOUT", "90s")
		t.Setenv("ALLOWED_ORIGINS", "http://a, ,http://b")
		t.Setenv("RABBITMQ_HOST", "mq")
		t.Setenv("RABBITMQ_USER", "u")
		t.Setenv("RABBITMQ_PASSWORD", "p")

		s, err := LoadSettings()
		require.NoError(t, err)
		assert.Equal(t, DriverSQLite, s.DBDriver)
		assert.Equal(t, "/tmp/x.db", s.DSN())
		assert.Equal(t, 90*time.Second, s.LockTimeout)
		assert.Equal(t, []string{"http://a", "http://b"}, s.AllowedOrigins)
		assert.True(t, s.RabbitMQEnabled())
		assert.Equal(t, "amqp://u:p@mq:5672/", s.RabbitMQURL())
	})

	t.Run("invalid values", func(t *testing.T) {
		for key, value := range map[string]string{
			"LOCK_TIMEOUT":   "-1m",
			"DB_DRIVER":      "mysql",
			"RUN_MIGRATIONS": "maybe",
		} {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				_, err := LoadSettings()
				assert.Error(t, err)
			})
		}
	})
}

func TestOpenDatabase(t *testing.T) {
	_, err := OpenDatabase("mysql", "")
	assert.Error(t, err)

	db, err := OpenDatabase(DriverSQLite, "file:config_test?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	assert.True(t, db.Migrator().HasTable("calculation_locks"))
}
