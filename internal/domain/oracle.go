package domain

import (
	"context"
	"time"
)

// Oracle is the external judgment capability. Classify may answer
// differently for the same prompt.
type Oracle interface {
	Classify(ctx context.Context, prompt string) (string, error)
	FetchPage(ctx context.Context, url string) (string, error)
}

// Clock yields the time of the action carried by ctx.
type Clock interface {
	Now(ctx context.Context) time.Time
}

// TransferMode is the payout capability resolved once at startup.
type TransferMode string

const (
	TransferNone   TransferMode = "none"
	TransferDirect TransferMode = "direct"
	TransferEvent  TransferMode = "event"
)

// LedgerTransfer delivers a payout. Implementations must treat p.ID as an
// idempotency key.
type LedgerTransfer interface {
	Mode() TransferMode
	Pay(ctx context.Context, p Payout) (txRef string, err error)
}

// Call identifies the caller of a state-changing action and the value
// that accompanied it.
type Call struct {
	Sender string
	Value  int64
}
