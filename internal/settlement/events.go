package settlement

import (
	"time"

	"pokersettle/internal/models"
)

// Event types published to the settlement events queue.
const (
	EventCalculated = "settlements.calculated"
	EventCompleted  = "settlement.completed"
	EventCancelled  = "settlement.cancelled"
)

// Publisher sends a JSON message to a named queue.
type Publisher interface {
	Publish(queueName string, message interface{}) error
}

// EventSettlement is the wire form of a settlement inside an Event. Amounts
// travel as fixed two-place decimal strings.
type EventSettlement struct {
	ID          string     `json:"id"`
	Seq         int        `json:"seq"`
	PayerID     string     `json:"payer_id"`
	PayeeID     string     `json:"payee_id"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is the message published after a settlement mutation.
type Event struct {
	Type        string            `json:"type"`
	GameID      string            `json:"game_id"`
	ActorID     string            `json:"actor_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Settlements []EventSettlement `json:"settlements"`
}

// Request is the message the worker consumes to trigger a calculation.
type Request struct {
	GameID      string `json:"game_id"`
	RequesterID string `json:"requester_id"`
}

func newEvent(eventType, gameID, actorID string, at time.Time, settlements []models.Settlement) Event {
	out := make([]EventSettlement, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, EventSettlement{
			ID:          s.ID,
			Seq:         s.Seq,
			PayerID:     s.PayerID,
			PayeeID:     s.PayeeID,
			Amount:      s.Amount.StringFixed(2),
			Status:      s.Status,
			CompletedAt: s.CompletedAt,
		})
	}
	return Event{
		Type:        eventType,
		GameID:      gameID,
		ActorID:     actorID,
		OccurredAt:  at,
		Settlements: out,
	}
}
