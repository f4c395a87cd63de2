package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Game statuses as written by the game-play subsystem.
const (
	GameActive    = "active"
	GameCompleted = "completed"
	GameCancelled = "cancelled"
)

// Group member roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Game is owned by the game-play subsystem. Settlement code only reads it.
type Game struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	GroupID   string    `gorm:"type:varchar(64);not null;index" json:"group_id"`
	Name      string    `gorm:"size:128" json:"name"`
	Status    string    `gorm:"size:20;not null;default:'active'" json:"status"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Game) TableName() string {
	return "games"
}

// GroupMember links a user to a group with a role.
type GroupMember struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	GroupID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_group_members_group_user" json:"group_id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_group_members_group_user" json:"user_id"`
	Role      string    `gorm:"size:20;not null;default:'member'" json:"role"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// ParticipantPosition is one participant's buy-in and cash-out totals for a game.
type ParticipantPosition struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	GameID        string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_positions_game_participant" json:"game_id"`
	ParticipantID string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_positions_game_participant" json:"participant_id"`
	TotalBuyIn    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_buy_in"`
	TotalCashOut  decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_cash_out"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ParticipantPosition) TableName() string {
	return "participant_positions"
}

// Net returns cash-out minus buy-in. Positive means the participant is owed money.
func (p ParticipantPosition) Net() decimal.Decimal {
	return p.TotalCashOut.Sub(p.TotalBuyIn)
}
