// Package events routes lifecycle events to the signal bus and any
// additional sinks configured for a deployment.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// StreamName is the durable stream every event is appended to.
const StreamName = "wager-events"

// BusSink publishes each event on its topic channel for live subscribers
// and appends it to a capped stream for late readers.
type BusSink struct {
	bus    domain.SignalBus
	stream string
}

// NewBusSink creates a BusSink. An empty stream disables stream appends.
func NewBusSink(bus domain.SignalBus, stream string) *BusSink {
	return &BusSink{bus: bus, stream: stream}
}

func (s *BusSink) Emit(ctx context.Context, topic, _ string, payload []byte) error {
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	if s.stream == "" {
		return nil
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		return fmt.Errorf("events: append %s: %w", s.stream, err)
	}
	return nil
}

// Multi fans an event out to every sink and joins their errors.
type Multi []domain.EventSink

func (m Multi) Emit(ctx context.Context, topic, key string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, topic, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domain.EventSink = (*BusSink)(nil)
	_ domain.EventSink = Multi(nil)
)
