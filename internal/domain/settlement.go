package domain

import "time"

// SettlementKind names which payout rule applied to a resolved wager.
type SettlementKind string

const (
	SettlementRefund SettlementKind = "refund"
	SettlementPush   SettlementKind = "push"
	SettlementWinner SettlementKind = "winner"
	SettlementSplit  SettlementKind = "split"
)

// Allocation is one address's share of a pot.
type Allocation struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// Settlement is the authoritative payout mapping recorded on resolution.
// Allocations are ordered by participant order and always sum to the pot.
type Settlement struct {
	Kind        SettlementKind `json:"kind"`
	Outcome     Outcome        `json:"outcome"`
	Winners     []string       `json:"winners"`
	Allocations []Allocation   `json:"allocations"`
}

// Amounts returns the allocations as an address-keyed map.
func (s Settlement) Amounts() map[string]int64 {
	out := make(map[string]int64, len(s.Allocations))
	for _, a := range s.Allocations {
		out[a.Address] += a.Amount
	}
	return out
}

// IsWinner reports whether address is in the winner set.
func (s Settlement) IsWinner(address string) bool {
	for _, w := range s.Winners {
		if SameAddress(w, address) {
			return true
		}
	}
	return false
}

// PayoutStatus is the delivery state of a pending payout record.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutDelivered PayoutStatus = "delivered"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout is an owed transfer created atomically with resolution. The ID is
// the idempotency key handed to the transfer capability.
type Payout struct {
	ID          string       `json:"id"`
	WagerID     string       `json:"wager_id"`
	Address     string       `json:"address"`
	Amount      int64        `json:"amount"`
	Status      PayoutStatus `json:"status"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	TxRef       string       `json:"tx_ref,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeliveredAt *time.Time   `json:"delivered_at,omitempty"`
}
