// Package memory provides in-process implementations of the repository,
// lock, bus, and audit interfaces. They back single-node deployments and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Repository implements domain.WagerRepository and domain.PayoutStore.
// Every Commit runs under one mutex, so a batch is visible all at once.
type Repository struct {
	mu sync.RWMutex

	seq     int64
	wagers  map[string]domain.Wager
	wagerIx []string

	players  map[string]domain.PlayerStats
	playerIx []string

	payouts  map[string]domain.Payout
	payoutIx []string

	global domain.GlobalStats
}

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		wagers:  make(map[string]domain.Wager),
		players: make(map[string]domain.PlayerStats),
		payouts: make(map[string]domain.Payout),
	}
}

func (r *Repository) NextWagerSeq(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

func (r *Repository) GetWager(_ context.Context, id string) (domain.Wager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wagers[id]
	if !ok {
		return domain.Wager{}, fmt.Errorf("memory: wager %s: %w", id, domain.ErrNotFound)
	}
	return cloneWager(w), nil
}

func (r *Repository) ListWagerIDs(_ context.Context, opts domain.ListOpts) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pageStrings(r.wagerIx, opts), nil
}

func (r *Repository) LastWagerID(_ context.Context) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.wagerIx) == 0 {
		return "", fmt.Errorf("memory: last wager: %w", domain.ErrNotFound)
	}
	return r.wagerIx[len(r.wagerIx)-1], nil
}

func (r *Repository) ListResolved(_ context.Context, from, to time.Time) ([]domain.Wager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Wager
	for _, id := range r.wagerIx {
		w := r.wagers[id]
		if w.Status != domain.WagerResolved || w.ResolvedAt == nil {
			continue
		}
		if w.ResolvedAt.Before(from) || !w.ResolvedAt.Before(to) {
			continue
		}
		out = append(out, cloneWager(w))
	}
	return out, nil
}

func (r *Repository) GetPlayer(_ context.Context, address string) (domain.PlayerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[address]
	if !ok {
		return domain.PlayerStats{}, fmt.Errorf("memory: player %s: %w", address, domain.ErrNotFound)
	}
	return p, nil
}

func (r *Repository) ListPlayerAddresses(_ context.Context, opts domain.ListOpts) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pageStrings(r.playerIx, opts), nil
}

func (r *Repository) ListPlayers(_ context.Context) ([]domain.PlayerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PlayerStats, 0, len(r.playerIx))
	for _, addr := range r.playerIx {
		out = append(out, r.players[addr])
	}
	return out, nil
}

func (r *Repository) GlobalStats(_ context.Context) (domain.GlobalStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global, nil
}

// Commit applies b atomically. The version check happens before any write.
func (r *Repository) Commit(_ context.Context, b domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b.Wager != nil {
		stored, exists := r.wagers[b.Wager.ID]
		switch {
		case b.Wager.Version == 0 && exists:
			return fmt.Errorf("memory: insert wager %s: %w", b.Wager.ID, domain.ErrConflict)
		case b.Wager.Version != 0 && !exists:
			return fmt.Errorf("memory: update wager %s: %w", b.Wager.ID, domain.ErrNotFound)
		case b.Wager.Version != 0 && stored.Version != b.Wager.Version:
			return fmt.Errorf("memory: update wager %s at version %d (stored %d): %w",
				b.Wager.ID, b.Wager.Version, stored.Version, domain.ErrConflict)
		}
	}
	for _, p := range b.Payouts {
		if _, exists := r.payouts[p.ID]; exists {
			return fmt.Errorf("memory: insert payout %s: %w", p.ID, domain.ErrConflict)
		}
	}

	if b.Wager != nil {
		w := cloneWager(*b.Wager)
		if w.Version == 0 {
			r.wagerIx = append(r.wagerIx, w.ID)
		}
		w.Version++
		r.wagers[w.ID] = w
	}
	for _, d := range b.Players {
		p, exists := r.players[d.Address]
		if !exists {
			r.playerIx = append(r.playerIx, d.Address)
		}
		r.players[d.Address] = d.Apply(p)
	}
	for _, p := range b.Payouts {
		r.payouts[p.ID] = p
		r.payoutIx = append(r.payoutIx, p.ID)
	}
	r.global.TotalWagers += b.Global.Wagers
	r.global.TotalResolved += b.Global.Resolved
	r.global.TotalVolume += b.Global.Volume
	return nil
}

func (r *Repository) ListPayouts(_ context.Context, wagerID string) ([]domain.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Payout
	for _, id := range r.payoutIx {
		if p := r.payouts[id]; p.WagerID == wagerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Repository) GetPayout(_ context.Context, id string) (domain.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payouts[id]
	if !ok {
		return domain.Payout{}, fmt.Errorf("memory: payout %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (r *Repository) ListPending(_ context.Context, limit int) ([]domain.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Payout
	for _, id := range r.payoutIx {
		if limit > 0 && len(out) >= limit {
			break
		}
		if p := r.payouts[id]; p.Status == domain.PayoutPending {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Repository) UpdatePayout(_ context.Context, p domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.payouts[p.ID]
	if !ok {
		return fmt.Errorf("memory: payout %s: %w", p.ID, domain.ErrNotFound)
	}
	if cur.Status != domain.PayoutPending {
		return fmt.Errorf("memory: payout %s is %s: %w", p.ID, cur.Status, domain.ErrConflict)
	}
	r.payouts[p.ID] = p
	return nil
}

func pageStrings(ix []string, opts domain.ListOpts) []string {
	if opts.Offset < 0 || opts.Offset >= len(ix) || opts.Limit <= 0 {
		return []string{}
	}
	end := opts.Offset + opts.Limit
	if end > len(ix) {
		end = len(ix)
	}
	out := make([]string, end-opts.Offset)
	copy(out, ix[opts.Offset:end])
	return out
}

func cloneWager(w domain.Wager) domain.Wager {
	if w.Verification != nil {
		v := *w.Verification
		w.Verification = &v
	}
	if w.Settlement != nil {
		s := *w.Settlement
		s.Winners = append([]string(nil), s.Winners...)
		s.Allocations = append([]domain.Allocation(nil), s.Allocations...)
		w.Settlement = &s
	}
	if w.AcceptedAt != nil {
		t := *w.AcceptedAt
		w.AcceptedAt = &t
	}
	if w.ResolvedAt != nil {
		t := *w.ResolvedAt
		w.ResolvedAt = &t
	}
	return w
}

var (
	_ domain.WagerRepository = (*Repository)(nil)
	_ domain.PayoutStore     = (*Repository)(nil)
)
