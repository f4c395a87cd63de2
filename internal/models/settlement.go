package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Settlement statuses.
const (
	SettlementPending   = "pending"
	SettlementCompleted = "completed"
	SettlementCancelled = "cancelled"
)

// Settlement is one directed payment obligation produced by a calculation run.
// Rows are never deleted; cancellation is a status.
type Settlement struct {
	ID          string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	GameID      string          `gorm:"type:varchar(64);not null;index:idx_settlements_game_seq" json:"game_id"`
	Seq         int             `gorm:"not null;default:0;index:idx_settlements_game_seq" json:"seq"`
	PayerID     string          `gorm:"type:varchar(64);not null;index;check:chk_settlements_parties,payer_id <> payee_id" json:"payer_id"`
	PayeeID     string          `gorm:"type:varchar(64);not null;index" json:"payee_id"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null;check:chk_settlements_amount,amount > 0" json:"amount"`
	Status      string          `gorm:"size:20;not null;default:'pending'" json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}

// BeforeCreate assigns a UUID when the caller did not.
func (s *Settlement) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsParty reports whether userID pays or receives this settlement.
func (s *Settlement) IsParty(userID string) bool {
	return userID != "" && (s.PayerID == userID || s.PayeeID == userID)
}

// CalculationLock marks a game as being calculated by HolderID.
type CalculationLock struct {
	GameID     string    `gorm:"type:varchar(64);primaryKey" json:"game_id"`
	HolderID   string    `gorm:"type:varchar(64);not null" json:"holder_id"`
	AcquiredAt time.Time `gorm:"not null;index" json:"acquired_at"`
}

func (CalculationLock) TableName() string {
	return "calculation_locks"
}
