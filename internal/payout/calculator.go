// Package payout computes how a resolved pot is distributed.
package payout

import (
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Winners returns the joined parties whose stance matches the sense of
// outcome: supporters for YES, opposers for NO. Order follows
// Wager.Participants.
func Winners(w domain.Wager, outcome domain.Outcome) []string {
	want := domain.StanceDisagree
	if outcome == domain.OutcomeYes {
		want = domain.StanceAgree
	}
	var out []string
	for _, p := range w.Participants() {
		if p.Stance == want {
			out = append(out, p.Address)
		}
	}
	return out
}

// Calculate distributes w.Pot according to v. The allocations always sum
// to the pot exactly.
//
//   - never accepted: playerA is refunded the whole pot
//   - no winners: playerA gets floor(pot/2), playerB the remainder
//   - one winner: the winner takes the pot
//   - several winners: even split, remainder to the first winner
func Calculate(w domain.Wager, v domain.VerificationResult) (domain.Settlement, error) {
	if !v.Outcome.Valid() {
		return domain.Settlement{}, fmt.Errorf("payout: outcome %q: %w", v.Outcome, domain.ErrInvalidOutcome)
	}
	if w.Pot < 0 {
		return domain.Settlement{}, fmt.Errorf("payout: negative pot %d on wager %s: %w", w.Pot, w.ID, domain.ErrValidation)
	}

	s := domain.Settlement{Outcome: v.Outcome}

	if !w.Accepted() {
		s.Kind = domain.SettlementRefund
		s.Allocations = []domain.Allocation{{Address: w.PlayerA, Amount: w.Pot}}
		return s, nil
	}

	winners := Winners(w, v.Outcome)
	switch len(winners) {
	case 0:
		half := w.Pot / 2
		s.Kind = domain.SettlementPush
		s.Allocations = []domain.Allocation{
			{Address: w.PlayerA, Amount: half},
			{Address: w.PlayerB, Amount: w.Pot - half},
		}
	case 1:
		s.Kind = domain.SettlementWinner
		s.Winners = winners
		s.Allocations = allocate(w, winners, w.Pot)
	default:
		s.Kind = domain.SettlementSplit
		s.Winners = winners
		s.Allocations = allocate(w, winners, w.Pot)
	}

	if sum := total(s.Allocations); sum != w.Pot {
		return domain.Settlement{}, fmt.Errorf("payout: allocations sum %d, pot %d: %w", sum, w.Pot, domain.ErrInvalidState)
	}
	return s, nil
}

// allocate splits pot evenly among winners and lists every participant,
// losers at zero, in participant order.
func allocate(w domain.Wager, winners []string, pot int64) []domain.Allocation {
	n := int64(len(winners))
	share := pot / n
	remainder := pot - share*n

	amounts := make(map[string]int64, len(winners))
	for i, addr := range winners {
		amounts[addr] += share
		if i == 0 {
			amounts[addr] += remainder
		}
	}

	parts := w.Participants()
	out := make([]domain.Allocation, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.Allocation{Address: p.Address, Amount: amounts[p.Address]})
		delete(amounts, p.Address)
	}
	return out
}

func total(allocs []domain.Allocation) int64 {
	var sum int64
	for _, a := range allocs {
		sum += a.Amount
	}
	return sum
}
