package domain

import (
	"strings"
	"time"
)

// Quorum sizes for the two arbitration tiers.
const (
	MinQuorum    = 3
	AppealQuorum = 50
)

// Stance is the side a party takes on a prediction.
type Stance string

const (
	StanceAgree    Stance = "agree"
	StanceDisagree Stance = "disagree"
)

// ParseStance normalises raw caller input. An empty stance joins as
// disagree.
func ParseStance(raw string) (Stance, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch Stance(s) {
	case "":
		return StanceDisagree, nil
	case StanceAgree, StanceDisagree:
		return Stance(s), nil
	default:
		return "", ErrValidation
	}
}

// WagerStatus is the lifecycle state of a wager.
type WagerStatus string

const (
	WagerWaiting  WagerStatus = "waiting"
	WagerActive   WagerStatus = "active"
	WagerVerified WagerStatus = "verified"
	WagerResolved WagerStatus = "resolved"
)

// Outcome is the committed answer to a prediction.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Valid reports whether o is one of YES or NO.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Wager is one escrow agreement between two stances on a prediction.
// Amounts are integer stake units.
type Wager struct {
	ID                   string              `json:"id"`
	Prediction           string              `json:"prediction"`
	VerificationCriteria string              `json:"verification_criteria"`
	Category             string              `json:"category"`
	PlayerA              string              `json:"player_a"`
	PlayerAStance        Stance              `json:"player_a_stance"`
	PlayerB              string              `json:"player_b,omitempty"`
	PlayerBStance        Stance              `json:"player_b_stance,omitempty"`
	StakeAmount          int64               `json:"stake_amount"`
	Pot                  int64               `json:"pot"`
	Deadline             time.Time           `json:"deadline"`
	Status               WagerStatus         `json:"status"`
	Verification         *VerificationResult `json:"verification,omitempty"`
	Settlement           *Settlement         `json:"settlement,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	AcceptedAt           *time.Time          `json:"accepted_at,omitempty"`
	ResolvedAt           *time.Time          `json:"resolved_at,omitempty"`
	// Version is bumped on every committed write and guards against
	// lost updates when two writers race past the wager lock.
	Version int64 `json:"-"`
}

// Accepted reports whether a second party has joined.
func (w Wager) Accepted() bool {
	return w.PlayerB != ""
}

// Participants returns the parties that actually joined, playerA first.
func (w Wager) Participants() []Participant {
	out := []Participant{{Address: w.PlayerA, Stance: w.PlayerAStance}}
	if w.Accepted() {
		out = append(out, Participant{Address: w.PlayerB, Stance: w.PlayerBStance})
	}
	return out
}

// Participant is one joined party and its stance.
type Participant struct {
	Address string `json:"address"`
	Stance  Stance `json:"stance"`
}

// WagerStatusView is the projection returned by getStatus.
type WagerStatusView struct {
	ID           string              `json:"id"`
	Status       WagerStatus         `json:"status"`
	Pot          int64               `json:"pot"`
	Deadline     time.Time           `json:"deadline"`
	Verification *VerificationResult `json:"verification,omitempty"`
	ResolvedAt   *time.Time          `json:"resolved_at,omitempty"`
}

// StatusView projects a wager onto its status fields.
func (w Wager) StatusView() WagerStatusView {
	return WagerStatusView{
		ID:           w.ID,
		Status:       w.Status,
		Pot:          w.Pot,
		Deadline:     w.Deadline,
		Verification: w.Verification,
		ResolvedAt:   w.ResolvedAt,
	}
}

// SameAddress compares two ledger addresses ignoring hex case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
