package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.sent = append(r.sent, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"payout_failed", " "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "wager_resolved", "t", "m"))
	require.NoError(t, n.Notify(context.Background(), "payout_failed", "t", "m"))
	assert.Equal(t, []string{"t|m"}, s.sent)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, quietLogger()).Enabled())
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "wager_resolved", "t", "m")
	require.ErrorContains(t, err, "bad: boom")
	assert.Len(t, good.sent, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	require.NoError(t, s.Send(context.Background(), "Wager resolved", "wager_1 paid"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Wager resolved*\nwager\\_1 paid", got["text"])
}

func TestTelegramSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	err := s.Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "400")
}

func TestDiscordSenderTruncates(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Payout failed", strings.Repeat("x", 3000)))
	content := got["content"].(string)
	assert.True(t, strings.HasPrefix(content, "**Payout failed**\n"))
	assert.Len(t, []rune(content), discordContentLimit)
}
