package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"pokersettle/internal/calculator"
	"pokersettle/internal/lock"
	"pokersettle/internal/middleware"
	"pokersettle/internal/models"
	"pokersettle/internal/settlement"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SettlementResponse is the JSON form of a settlement. Amounts are fixed
// two-place decimal strings, never floats.
type SettlementResponse struct {
	ID          string     `json:"id"`
	GameID      string     `json:"game_id"`
	Seq         int        `json:"seq"`
	PayerID     string     `json:"payer_id"`
	PayeeID     string     `json:"payee_id"`
	Amount      string     `json:"amount"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// SettlementEventResponse is the JSON form of one settlement mutation.
type SettlementEventResponse struct {
	ID         uint      `json:"id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Amount     string    `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSettlementResponse(s models.Settlement) SettlementResponse {
	return SettlementResponse{
		ID:          s.ID,
		GameID:      s.GameID,
		Seq:         s.Seq,
		PayerID:     s.PayerID,
		PayeeID:     s.PayeeID,
		Amount:      s.Amount.StringFixed(calculator.Places),
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}

func toSettlementResponses(settlements []models.Settlement) []SettlementResponse {
	out := make([]SettlementResponse, 0, len(settlements))
	for _, s := range settlements {
		out = append(out, toSettlementResponse(s))
	}
	return out
}

// SettlementHandler serves the settlement endpoints.
type SettlementHandler struct {
	svc   *settlement.Service
	locks lock.Locker
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(svc *settlement.Service, locks lock.Locker) *SettlementHandler {
	return &SettlementHandler{svc: svc, locks: locks}
}

// GetOrCalculate returns the settlements of a game, calculating them on first use.
func (h *SettlementHandler) GetOrCalculate(c *gin.Context) {
	gameID := c.Param("game_id")
	settlements, err := h.svc.GetOrCalculateSettlements(c.Request.Context(), gameID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponses(settlements)})
}

// List returns the settlements of a game without calculating.
func (h *SettlementHandler) List(c *gin.Context) {
	settlements, err := h.svc.ListSettlements(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponses(settlements)})
}

// CancelGame cancels every pending settlement of a game.
func (h *SettlementHandler) CancelGame(c *gin.Context) {
	cancelled, err := h.svc.CancelGame(c.Request.Context(), c.Param("game_id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponses(cancelled)})
}

// ListAttempts returns the calculation attempt log of a game.
func (h *SettlementHandler) ListAttempts(c *gin.Context) {
	attempts, err := h.svc.ListAttempts(c.Request.Context(), c.Param("game_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": attempts})
}

// Complete marks one settlement as paid.
func (h *SettlementHandler) Complete(c *gin.Context) {
	updated, err := h.svc.MarkComplete(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponse(*updated)})
}

// Cancel voids one pending settlement.
func (h *SettlementHandler) Cancel(c *gin.Context) {
	updated, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponse(*updated)})
}

// ListEvents returns the mutation history of one settlement.
func (h *SettlementHandler) ListEvents(c *gin.Context) {
	events, err := h.svc.ListEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]SettlementEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, SettlementEventResponse{
			ID:         e.ID,
			ActorID:    e.ActorID,
			Action:     e.Action,
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			Amount:     e.Amount.StringFixed(calculator.Places),
			CreatedAt:  e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// ListForParticipant returns the settlements a participant pays or receives.
func (h *SettlementHandler) ListForParticipant(c *gin.Context) {
	settlements, err := h.svc.ListForParticipant(c.Request.Context(), c.Param("participant_id"), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toSettlementResponses(settlements)})
}

// CleanupLocks removes expired calculation locks on demand.
func (h *SettlementHandler) CleanupLocks(c *gin.Context) {
	removed, err := h.locks.CleanupExpired(c.Request.Context())
	if err != nil {
		logrus.Errorf("lock cleanup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lock cleanup failed, please try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// retryAfterSeconds is the back-off suggested to callers that lost the lock race.
const retryAfterSeconds = 5

func respondError(c *gin.Context, err error) {
	var se *settlement.Error
	if !errors.As(err, &se) {
		logrus.WithField("path", c.FullPath()).Errorf("unexpected settlement error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}

	status := http.StatusInternalServerError
	switch se.Code {
	case settlement.CodeAlreadyInProgress:
		status = http.StatusConflict
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	case settlement.CodeCalculationFailed:
		if settlement.IsInputError(err) {
			status = http.StatusUnprocessableEntity
		}
	case settlement.CodeGameNotFound, settlement.CodeSettlementNotFound:
		status = http.StatusNotFound
	case settlement.CodeUnauthorized:
		status = http.StatusForbidden
	case settlement.CodeInvalidTransition, settlement.CodeCorruptSettlement, settlement.CodeGameCancelled:
		status = http.StatusConflict
	case settlement.CodeGameNotFinished, settlement.CodeInvalidRequest:
		status = http.StatusUnprocessableEntity
	}

	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{"path": c.FullPath(), "code": se.Code}).Errorf("settlement request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": se.Message, "code": se.Code})
}
