// Package calculator turns the net positions of a finished game into the
// smallest practical set of payer -> payee transfers.
//
// Amounts are fixed-point decimals rounded to cents after every subtraction.
// The greedy pass always pairs the largest remaining creditor with the largest
// remaining debtor; ties are broken by ascending participant ID so the output
// is deterministic.
package calculator

import (
	"errors"
	"fmt"
	"sort"

	"pokersettle/internal/models"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places every amount is rounded to.
const Places = 2

var (
	ErrEmptyInput      = errors.New("no participant positions")
	ErrInvalidPosition = errors.New("invalid participant position")
	ErrUnbalanced      = errors.New("net positions do not balance")
)

// Tolerance is the largest absolute sum of net positions still treated as balanced.
var Tolerance = decimal.New(1, -Places)

type party struct {
	id        string
	remaining decimal.Decimal
}

// Calculate produces the settlements for one game. It either returns the whole
// list or an error; it never returns a partial result.
func Calculate(positions []models.ParticipantPosition) ([]models.Settlement, error) {
	if len(positions) == 0 {
		return nil, ErrEmptyInput
	}

	gameID := positions[0].GameID
	seen := make(map[string]bool, len(positions))
	sum := decimal.Zero

	for _, p := range positions {
		switch {
		case p.ParticipantID == "":
			return nil, fmt.Errorf("%w: empty participant id", ErrInvalidPosition)
		case p.GameID != gameID:
			return nil, fmt.Errorf("%w: participant %s belongs to game %s, expected %s", ErrInvalidPosition, p.ParticipantID, p.GameID, gameID)
		case seen[p.ParticipantID]:
			return nil, fmt.Errorf("%w: participant %s appears more than once", ErrInvalidPosition, p.ParticipantID)
		case p.TotalBuyIn.IsNegative():
			return nil, fmt.Errorf("%w: participant %s has negative buy-in %s", ErrInvalidPosition, p.ParticipantID, p.TotalBuyIn.String())
		case p.TotalCashOut.IsNegative():
			return nil, fmt.Errorf("%w: participant %s has negative cash-out %s", ErrInvalidPosition, p.ParticipantID, p.TotalCashOut.String())
		}
		seen[p.ParticipantID] = true
		sum = sum.Add(p.Net())
	}

	if sum.Abs().GreaterThan(Tolerance) {
		return nil, fmt.Errorf("%w: net positions sum to %s", ErrUnbalanced, sum.String())
	}

	var creditors, debtors []*party
	for _, p := range centNets(positions) {
		switch p.remaining.Sign() {
		case 1:
			creditors = append(creditors, p)
		case -1:
			p.remaining = p.remaining.Neg()
			debtors = append(debtors, p)
		}
	}

	var settlements []models.Settlement
	for len(creditors) > 0 && len(debtors) > 0 {
		ci, di := largest(creditors), largest(debtors)
		creditor, debtor := creditors[ci], debtors[di]

		amount := decimal.Min(creditor.remaining, debtor.remaining).Round(Places)
		if amount.IsPositive() {
			settlements = append(settlements, models.Settlement{
				GameID:  gameID,
				Seq:     len(settlements) + 1,
				PayerID: debtor.id,
				PayeeID: creditor.id,
				Amount:  amount,
				Status:  models.SettlementPending,
			})
		}

		creditor.remaining = creditor.remaining.Sub(amount).Round(Places)
		debtor.remaining = debtor.remaining.Sub(amount).Round(Places)
		if !creditor.remaining.IsPositive() {
			creditors = remove(creditors, ci)
		}
		if !debtor.remaining.IsPositive() {
			debtors = remove(debtors, di)
		}
	}

	return settlements, nil
}

// largest returns the index of the party with the most remaining, lowest ID first on ties.
func largest(parties []*party) int {
	best := 0
	for i := 1; i < len(parties); i++ {
		cmp := parties[i].remaining.Cmp(parties[best].remaining)
		if cmp > 0 || (cmp == 0 && parties[i].id < parties[best].id) {
			best = i
		}
	}
	return best
}

func remove(parties []*party, i int) []*party {
	return append(parties[:i], parties[i+1:]...)
}

// centNets rounds every net position to cents so that the rounded nets sum to
// exactly zero. Each net is floored and the missing cents go to the largest
// remainders, lowest ID first on ties. A cent the input sum is over by comes
// off the largest creditor.
func centNets(positions []models.ParticipantPosition) []*party {
	unit := decimal.New(1, -Places)
	parties := make([]*party, 0, len(positions))
	remainders := make(map[string]decimal.Decimal, len(positions))
	sum := decimal.Zero
	for _, p := range positions {
		net := p.Net()
		floor := net.RoundFloor(Places)
		parties = append(parties, &party{id: p.ParticipantID, remaining: floor})
		remainders[p.ParticipantID] = net.Sub(floor)
		sum = sum.Add(floor)
	}

	missing := sum.Neg().Shift(Places).IntPart()
	if missing > 0 {
		order := make([]*party, len(parties))
		copy(order, parties)
		sort.SliceStable(order, func(i, j int) bool {
			cmp := remainders[order[i].id].Cmp(remainders[order[j].id])
			if cmp != 0 {
				return cmp > 0
			}
			return order[i].id < order[j].id
		})
		for i := int64(0); i < missing && i < int64(len(order)); i++ {
			order[i].remaining = order[i].remaining.Add(unit)
		}
	}
	for ; missing < 0; missing++ {
		p := parties[largest(parties)]
		p.remaining = p.remaining.Sub(unit)
	}
	return parties
}

