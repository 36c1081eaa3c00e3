package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Lifecycle event topics.
const (
	EventWagerCreated    = "wager.created"
	EventWagerAccepted   = "wager.accepted"
	EventWagerVerified   = "wager.verified"
	EventWagerAppealed   = "wager.appealed"
	EventWagerResolved   = "wager.resolved"
	EventPayoutDelivered = "payout.delivered"
	EventPayoutFailed    = "payout.failed"
)

// Notification event names, matched against notify.events in config.
const (
	NotifyWagerResolved    = "wager_resolved"
	NotifyPayoutFailed     = "payout_failed"
	NotifyConsensusFailure = "consensus_failure"
)

// Notifier delivers operator notifications. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Event is the envelope written to the event sink.
type Event struct {
	Event  string         `json:"event"`
	At     time.Time      `json:"at"`
	Wager  *domain.Wager  `json:"wager,omitempty"`
	Payout *domain.Payout `json:"payout,omitempty"`
}

func emit(ctx context.Context, sink domain.EventSink, logger *slog.Logger, key string, evt Event) {
	if sink == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed",
			slog.String("event", evt.Event),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := sink.Emit(ctx, evt.Event, key, payload); err != nil {
		logger.WarnContext(ctx, "emit event failed",
			slog.String("event", evt.Event),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func audit(ctx context.Context, store domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if store == nil {
		return
	}
	if err := store.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func notify(ctx context.Context, n Notifier, logger *slog.Logger, event, title, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event, title, message); err != nil {
		logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// resultLabel names the outcome of an action for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrValidation):
		return "validation_failed"
	case errors.Is(err, domain.ErrTooEarly):
		return "too_early"
	case errors.Is(err, domain.ErrMissingVerification):
		return "missing_verification"
	case errors.Is(err, domain.ErrNotFinal):
		return "not_final"
	case errors.Is(err, domain.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, domain.ErrConsensusFailure):
		return "consensus_failure"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
