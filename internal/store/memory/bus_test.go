package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalBusPatternSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus()

	ch, err := bus.Subscribe(ctx, "wager.*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "wager.created", []byte("a")))
	require.NoError(t, bus.Publish(ctx, "payout.delivered", []byte("b")))

	select {
	case msg := <-ch:
		assert.Equal(t, "a", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	default:
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestSignalBusStreamTrims(t *testing.T) {
	bus := NewSignalBus()
	bus.maxLen = 2
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}
	assert.Equal(t, [][]byte{[]byte("2"), []byte("3")}, bus.Stream("s"))
}

func TestSignalBusRecent(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, bus.StreamAppend(ctx, "s", []byte(p)))
	}
	got, err := bus.Recent(ctx, "s", 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("2"), []byte("3")}, got)

	got, err = bus.Recent(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
