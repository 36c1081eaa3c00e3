package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/config"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
	"github.com/alanyoungcy/wagerbot/internal/transfer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireMemoryDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Oracle.Provider = "fixed"
	cfg.Oracle.FixedOutcome = "no"
	require.NoError(t, cfg.Validate())

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &memory.Repository{}, deps.Store)
	assert.IsType(t, &memory.LockManager{}, deps.Locks)
	assert.Nil(t, deps.Limiter)
	assert.Nil(t, deps.Transfer, "transfer mode none wires no capability")
	assert.Nil(t, deps.Evidence)
	assert.Empty(t, deps.Checks)
	assert.NotNil(t, deps.Notifier)
	assert.False(t, deps.Notifier.Enabled())
}

func TestWireEventTransfer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Oracle.Provider = "fixed"
	cfg.Oracle.FixedOutcome = "YES"
	cfg.Transfer.Mode = "event"

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	require.IsType(t, &transfer.EventTransfer{}, deps.Transfer)
	assert.Equal(t, domain.TransferEvent, deps.Transfer.Mode())
}

func TestWireRejectsBadFixedOutcome(t *testing.T) {
	cfg := config.Defaults()
	cfg.Oracle.Provider = "fixed"
	cfg.Oracle.FixedOutcome = "maybe"

	_, _, err := Wire(context.Background(), &cfg, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestPolicyFollowsConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Escrow.AllowUnpaidStakes = true
	cfg.Arbiter.MinQuorum = 5
	cfg.Arbiter.AppealQuorum = 7

	a := New(&cfg, testLogger())
	p := a.policy()
	assert.True(t, p.AllowUnpaidStakes)
	assert.Equal(t, 5, p.Verify.Quorum)
	assert.Equal(t, 3, p.Verify.MaxAttempts)
	assert.Equal(t, 7, p.Appeal.Quorum)
	assert.Equal(t, 5*time.Minute, p.LockTTL)
}

func TestBuildServicesWithoutTransfer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Oracle.Provider = "fixed"
	cfg.Oracle.FixedOutcome = "YES"

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	a := New(&cfg, testLogger())
	svcs := a.buildServices(deps)
	assert.NotNil(t, svcs.wagers)
	assert.NotNil(t, svcs.queries)
	assert.Nil(t, svcs.dispatcher)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "batch"
	cfg.Oracle.Provider = "fixed"
	cfg.Oracle.FixedOutcome = "YES"

	a := New(&cfg, testLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), `unsupported mode "batch"`)
}
