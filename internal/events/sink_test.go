package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

func TestBusSinkPublishesAndAppends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	sub, err := bus.Subscribe(ctx, "wager.*")
	require.NoError(t, err)

	sink := NewBusSink(bus, StreamName)
	require.NoError(t, sink.Emit(ctx, "wager.created", "w1", []byte(`{"event":"wager.created"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"event":"wager.created"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message on subscription")
	}
	assert.Len(t, bus.Stream(StreamName), 1)
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, string, string, []byte) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	bus := memory.NewSignalBus()
	boom := errors.New("broker down")
	m := Multi{NewBusSink(bus, StreamName), nil, failingSink{boom}}

	err := m.Emit(context.Background(), "wager.resolved", "w1", []byte(`{}`))
	require.ErrorIs(t, err, boom)
	assert.Len(t, bus.Stream(StreamName), 1, "earlier sinks still receive the event")
}
