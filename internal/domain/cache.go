package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides mutual exclusion keyed by string. Acquire does not
// block: it fails with ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// Recent returns up to n of the newest stream entries, oldest first.
	Recent(ctx context.Context, stream string, n int) ([][]byte, error)
}

// EventSink receives lifecycle events keyed by wager id.
type EventSink interface {
	Emit(ctx context.Context, topic, key string, payload []byte) error
}
