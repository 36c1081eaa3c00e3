package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (r *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingWriter) Close() error {
	r.closed = true
	return nil
}

func TestSinkPrefixesTopicAndKeys(t *testing.T) {
	w := &recordingWriter{}
	s := newSink(w, "wagerd.", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Emit(context.Background(), "wager.resolved", "wager_1", []byte(`{}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "wagerd.wager.resolved", w.msgs[0].Topic)
	assert.Equal(t, "wager_1", string(w.msgs[0].Key))

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestSinkWrapsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	s := newSink(w, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.Emit(context.Background(), "payout.instruction", "p1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payout.instruction")
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}

func TestNewSinkRequiresBrokers(t *testing.T) {
	_, err := NewSink(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
