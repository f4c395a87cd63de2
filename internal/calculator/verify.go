package calculator

import (
	"fmt"

	"pokersettle/internal/models"

	"github.com/shopspring/decimal"
)

// Residuals applies settlements to the unrounded net positions and returns what
// is left for each participant. Cent inputs that sum to zero leave zero for everyone.
func Residuals(positions []models.ParticipantPosition, settlements []models.Settlement) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		balances[p.ParticipantID] = balances[p.ParticipantID].Add(p.Net())
	}
	for _, s := range settlements {
		// The payer owes, so paying raises their balance toward zero.
		balances[s.PayerID] = balances[s.PayerID].Add(s.Amount)
		balances[s.PayeeID] = balances[s.PayeeID].Sub(s.Amount)
	}
	return balances
}

// Verify checks the output guarantees of Calculate: distinct parties, positive
// cent amounts, and every residual within Tolerance.
func Verify(positions []models.ParticipantPosition, settlements []models.Settlement) error {
	for _, s := range settlements {
		if err := ValidateSettlement(s); err != nil {
			return err
		}
	}
	for id, rest := range Residuals(positions, settlements) {
		if rest.Abs().GreaterThan(Tolerance) {
			return fmt.Errorf("participant %s left with residual %s", id, rest.StringFixed(Places))
		}
	}
	return nil
}

// ValidateSettlement checks the invariants a single settlement row must hold.
func ValidateSettlement(s models.Settlement) error {
	if s.PayerID == "" || s.PayeeID == "" {
		return fmt.Errorf("settlement %s is missing a party", s.ID)
	}
	if s.PayerID == s.PayeeID {
		return fmt.Errorf("settlement %s pays %s to themselves", s.ID, s.PayerID)
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("settlement %s has non-positive amount %s", s.ID, s.Amount.String())
	}
	if !s.Amount.Equal(s.Amount.Round(Places)) {
		return fmt.Errorf("settlement %s amount %s has more than %d decimal places", s.ID, s.Amount.String(), Places)
	}
	return nil
}
