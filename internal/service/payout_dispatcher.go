package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
)

// DispatcherConfig controls payout delivery retries.
type DispatcherConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
	BatchSize     int
	LockTTL       time.Duration
}

// PayoutDispatcher moves pending payout records through the transfer
// capability. A resolution is never undone by a failed transfer; the
// record stays pending until it is delivered or runs out of attempts.
type PayoutDispatcher struct {
	store    domain.PayoutStore
	transfer domain.LedgerTransfer
	locks    domain.LockManager
	clock    domain.Clock
	events   domain.EventSink
	audit    domain.AuditStore
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      DispatcherConfig
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// DispatcherDeps are the collaborators of a PayoutDispatcher. Store,
// Transfer and Clock are required.
type DispatcherDeps struct {
	Store    domain.PayoutStore
	Transfer domain.LedgerTransfer
	Locks    domain.LockManager
	Clock    domain.Clock
	Events   domain.EventSink
	Audit    domain.AuditStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// NewPayoutDispatcher creates a PayoutDispatcher.
func NewPayoutDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *slog.Logger) *PayoutDispatcher {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &PayoutDispatcher{
		store:    deps.Store,
		transfer: deps.Transfer,
		locks:    deps.Locks,
		clock:    deps.Clock,
		events:   deps.Events,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "payout_dispatcher")),
		inflight: make(map[string]struct{}),
	}
}

// Deliver attempts each payout once and returns the records as they were
// left. Payouts already being delivered elsewhere are returned unchanged.
func (d *PayoutDispatcher) Deliver(ctx context.Context, payouts []domain.Payout) []domain.Payout {
	out := make([]domain.Payout, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, d.deliverOne(ctx, p))
	}
	return out
}

// RetryPending attempts every pending payout up to the batch size and
// returns how many were delivered.
func (d *PayoutDispatcher) RetryPending(ctx context.Context) (int, error) {
	pending, err := d.store.ListPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("payout_dispatcher: list pending: %w", err)
	}
	delivered := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if d.deliverOne(ctx, p).Status == domain.PayoutDelivered {
			delivered++
		}
	}
	return delivered, nil
}

// Run retries pending payouts every RetryInterval until ctx is done.
func (d *PayoutDispatcher) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "payout dispatcher started",
		slog.String("mode", string(d.transfer.Mode())),
		slog.Duration("interval", d.cfg.RetryInterval),
		slog.Int("max_attempts", d.cfg.MaxAttempts),
	)
	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("payout dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := d.RetryPending(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.ErrorContext(ctx, "payout retry failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				d.logger.InfoContext(ctx, "payouts delivered on retry", slog.Int("count", n))
			}
		}
	}
}

func (d *PayoutDispatcher) deliverOne(ctx context.Context, p domain.Payout) domain.Payout {
	if p.Status != domain.PayoutPending {
		return p
	}
	if !d.claim(p.ID) {
		return p
	}
	defer d.release(p.ID)

	if d.locks != nil {
		unlock, err := d.locks.Acquire(ctx, "payout:"+p.ID, d.cfg.LockTTL)
		if err != nil {
			d.logger.DebugContext(ctx, "payout locked elsewhere",
				slog.String("payout_id", p.ID),
				slog.String("error", err.Error()),
			)
			return p
		}
		defer unlock()
	}

	// The snapshot may predate a delivery by another process.
	cur, err := d.store.GetPayout(ctx, p.ID)
	if err != nil {
		d.logger.WarnContext(ctx, "reload payout failed",
			slog.String("payout_id", p.ID),
			slog.String("error", err.Error()),
		)
		return p
	}
	if cur.Status != domain.PayoutPending {
		return cur
	}
	p = cur

	mode := string(d.transfer.Mode())
	txRef, err := d.transfer.Pay(ctx, p)
	now := d.clock.Now(ctx)
	p.Attempts++
	p.UpdatedAt = now

	if err == nil {
		p.Status = domain.PayoutDelivered
		p.TxRef = txRef
		p.LastError = ""
		p.DeliveredAt = &now
	} else {
		p.LastError = err.Error()
		if p.Attempts >= d.cfg.MaxAttempts {
			p.Status = domain.PayoutFailed
		}
	}

	if uerr := d.store.UpdatePayout(ctx, p); uerr != nil {
		d.logger.ErrorContext(ctx, "update payout failed",
			slog.String("payout_id", p.ID),
			slog.String("error", uerr.Error()),
		)
	}
	d.metrics.RecordPayout(mode, string(p.Status), p.Amount)

	switch p.Status {
	case domain.PayoutDelivered:
		d.logger.InfoContext(ctx, "payout delivered",
			slog.String("payout_id", p.ID),
			slog.String("wager_id", p.WagerID),
			slog.String("address", p.Address),
			slog.Int64("amount", p.Amount),
			slog.String("tx_ref", txRef),
		)
		audit(ctx, d.audit, d.logger, EventPayoutDelivered, map[string]any{
			"payout_id": p.ID,
			"wager_id":  p.WagerID,
			"address":   p.Address,
			"amount":    p.Amount,
			"tx_ref":    txRef,
		})
		emit(ctx, d.events, d.logger, p.WagerID, Event{Event: EventPayoutDelivered, At: now, Payout: &p})
	case domain.PayoutFailed:
		d.logger.ErrorContext(ctx, "payout failed permanently",
			slog.String("payout_id", p.ID),
			slog.String("wager_id", p.WagerID),
			slog.Int("attempts", p.Attempts),
			slog.String("error", p.LastError),
		)
		audit(ctx, d.audit, d.logger, EventPayoutFailed, map[string]any{
			"payout_id": p.ID,
			"wager_id":  p.WagerID,
			"address":   p.Address,
			"amount":    p.Amount,
			"attempts":  p.Attempts,
			"error":     p.LastError,
		})
		emit(ctx, d.events, d.logger, p.WagerID, Event{Event: EventPayoutFailed, At: now, Payout: &p})
		notify(ctx, d.notifier, d.logger, NotifyPayoutFailed,
			"Payout failed",
			fmt.Sprintf("payout %s of %d to %s for %s gave up after %d attempts: %s",
				p.ID, p.Amount, p.Address, p.WagerID, p.Attempts, p.LastError))
	default:
		d.logger.WarnContext(ctx, "payout attempt failed",
			slog.String("payout_id", p.ID),
			slog.Int("attempts", p.Attempts),
			slog.String("error", p.LastError),
		)
	}
	return p
}

func (d *PayoutDispatcher) claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *PayoutDispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

var _ Payer = (*PayoutDispatcher)(nil)
