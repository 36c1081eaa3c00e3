package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager within one process. Leases
// expire after their TTL like the Redis implementation.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl or fails with domain.ErrLockHeld. The returned
// unlock is idempotent and only releases the caller's own lease.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, held := lm.leases[key]; held && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}

	token := uuid.NewString()
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
