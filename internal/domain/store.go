package domain

import (
	"context"
	"time"
)

// ListOpts carries offset pagination parameters.
type ListOpts struct {
	Limit  int
	Offset int
}

// Batch is one atomic repository write. Either every part becomes visible
// to readers or none does.
//
// A Wager with Version 0 is inserted and appended to the insertion index;
// otherwise it replaces the stored record only if the stored Version still
// matches, failing with ErrConflict when it does not. Player deltas create
// missing records and append them to the address index.
type Batch struct {
	Wager   *Wager
	Players []PlayerDelta
	Payouts []Payout
	Global  GlobalDelta
}

// WagerRepository is the ordered system of record for wagers and players.
type WagerRepository interface {
	NextWagerSeq(ctx context.Context) (int64, error)
	GetWager(ctx context.Context, id string) (Wager, error)
	// ListWagerIDs returns ids in insertion order.
	ListWagerIDs(ctx context.Context, opts ListOpts) ([]string, error)
	LastWagerID(ctx context.Context) (string, error)
	ListResolved(ctx context.Context, from, to time.Time) ([]Wager, error)
	GetPlayer(ctx context.Context, address string) (PlayerStats, error)
	// ListPlayerAddresses returns addresses in first-touch order.
	ListPlayerAddresses(ctx context.Context, opts ListOpts) ([]string, error)
	ListPlayers(ctx context.Context) ([]PlayerStats, error)
	GlobalStats(ctx context.Context) (GlobalStats, error)
	Commit(ctx context.Context, b Batch) error
}

// PayoutStore tracks owed transfers until they are delivered. UpdatePayout
// only applies to records that are still pending and fails with ErrConflict
// otherwise.
type PayoutStore interface {
	GetPayout(ctx context.Context, id string) (Payout, error)
	ListPayouts(ctx context.Context, wagerID string) ([]Payout, error)
	ListPending(ctx context.Context, limit int) ([]Payout, error)
	UpdatePayout(ctx context.Context, p Payout) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
