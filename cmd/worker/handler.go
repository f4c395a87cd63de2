package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pokersettle/internal/models"
	"pokersettle/internal/settlement"
	"pokersettle/pkg/config"

	"github.com/sirupsen/logrus"
)

// settlementRunner is the part of settlement.Service the worker drives.
type settlementRunner interface {
	GetOrCalculateSettlements(ctx context.Context, gameID, requesterID string) ([]models.Settlement, error)
}

// requestHandler turns settlement requests into calculations. Retryable
// failures wait retryDelay and return an error so the message is requeued;
// everything the game's own data caused is dropped.
type requestHandler struct {
	svc        settlementRunner
	retryDelay time.Duration
}

func (h *requestHandler) handle(ctx context.Context, body []byte) error {
	var req settlement.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("invalid settlement request %q: %v: %w", string(body), err, config.ErrDrop)
	}
	req.GameID = strings.TrimSpace(req.GameID)
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.GameID == "" || req.RequesterID == "" {
		return fmt.Errorf("settlement request missing game_id or requester_id: %w", config.ErrDrop)
	}

	fields := logrus.Fields{"game_id": req.GameID, "requester_id": req.RequesterID}
	settlements, err := h.svc.GetOrCalculateSettlements(ctx, req.GameID, req.RequesterID)
	if err == nil {
		logrus.WithFields(fields).WithField("settlements", len(settlements)).Info("settlement request handled")
		return nil
	}

	if settlement.IsRetryable(err) {
		logrus.WithFields(fields).Warnf("settlement request will be retried: %v", err)
		select {
		case <-time.After(h.retryDelay):
		case <-ctx.Done():
		}
		return err
	}

	return fmt.Errorf("settlement request for game %s rejected: %v: %w", req.GameID, err, config.ErrDrop)
}
