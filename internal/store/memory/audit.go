package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// AuditStore keeps the audit log in memory, newest last.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (a *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first, matching the Postgres store.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		out = append(out, a.entries[i])
	}
	if opts.Offset >= len(out) {
		return []domain.AuditEntry{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
