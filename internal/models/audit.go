package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Calculation attempt outcomes.
const (
	AttemptSuccess           = "success"
	AttemptFailed            = "failed"
	AttemptAlreadyCalculated = "already_calculated"
)

// Settlement mutation actions.
const (
	ActionCreated   = "created"
	ActionCompleted = "completed"
	ActionCancelled = "cancelled"
)

// JSONMap stores free-form metadata in a jsonb column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("JSONMap: unsupported column type")
	}

	return json.Unmarshal(bytes, j)
}

// CalculationAttempt is one append-only entry of the calculation attempt log.
type CalculationAttempt struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	GameID       string     `gorm:"type:varchar(64);not null;index" json:"game_id"`
	HolderID     string     `gorm:"type:varchar(64);not null" json:"holder_id"`
	Status       string     `gorm:"size:32;not null" json:"status"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func (CalculationAttempt) TableName() string {
	return "calculation_attempts"
}

// SettlementEvent records one mutation of a settlement row.
type SettlementEvent struct {
	ID           uint            `gorm:"primarykey" json:"id"`
	SettlementID string          `gorm:"type:varchar(36);not null;index" json:"settlement_id"`
	GameID       string          `gorm:"type:varchar(64);not null;index" json:"game_id"`
	ActorID      string          `gorm:"type:varchar(64);not null" json:"actor_id"`
	Action       string          `gorm:"size:20;not null" json:"action"`
	FromStatus   string          `gorm:"size:20" json:"from_status"`
	ToStatus     string          `gorm:"size:20;not null" json:"to_status"`
	Amount       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (SettlementEvent) TableName() string {
	return "settlement_events"
}

// SystemLog records infrastructure incidents that need an operator's attention.
type SystemLog struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	GameID     string    `gorm:"column:game_id;type:varchar(64);default:''" json:"game_id"`
	Level      string    `gorm:"column:level;size:10;not null" json:"level"` // DEBUG, INFO, WARN, ERROR, FATAL
	Message    string    `gorm:"column:message;type:text;not null" json:"message"`
	Module     string    `gorm:"column:module;size:100" json:"module"`
	ErrorStack string    `gorm:"column:error_stack;type:text" json:"error_stack"`
	Meta       JSONMap   `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SystemLog) TableName() string {
	return "system_logs"
}
