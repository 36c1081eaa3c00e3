package memory

import (
	"context"
	"path"
	"sync"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

const defaultStreamMaxLen = 10000

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus implements domain.SignalBus in process. Channel names may use
// glob patterns when subscribing. Slow subscribers drop messages.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	streams map[string][][]byte
	maxLen  int
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[*subscriber]struct{}),
		streams: make(map[string][][]byte),
		maxLen:  defaultStreamMaxLen,
	}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed once ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := append(b.streams[stream], append([]byte(nil), payload...))
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

func (b *SignalBus) Recent(_ context.Context, stream string, n int) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.streams[stream]
	if n <= 0 {
		return [][]byte{}, nil
	}
	if n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	return append([][]byte{}, entries...), nil
}

// Stream returns a copy of the entries appended to stream.
func (b *SignalBus) Stream(stream string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([][]byte(nil), b.streams[stream]...)
}

var _ domain.SignalBus = (*SignalBus)(nil)
