package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/arbiter"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

const (
	alice = "0xaaaa000000000000000000000000000000000001"
	bob   = "0xbbbb000000000000000000000000000000000002"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubEvaluator struct {
	outcome atomic.Value
	digests atomic.Int64
	split   atomic.Bool
}

func (e *stubEvaluator) set(o domain.Outcome) { e.outcome.Store(o) }

func (e *stubEvaluator) Classify(_ context.Context, req arbiter.Request) (arbiter.Classification, error) {
	o, _ := e.outcome.Load().(domain.Outcome)
	digest := "d"
	if e.split.Load() {
		if e.digests.Add(1)%2 == 0 {
			digest = "other"
		}
	}
	return arbiter.Classification{Outcome: o, Digest: digest, Evidence: arbiter.EvidenceString(req, digest)}, nil
}

type recordingTransfer struct {
	mu    sync.Mutex
	paid  map[string]int64
	keys  []string
	fails int
}

func (r *recordingTransfer) Mode() domain.TransferMode { return domain.TransferDirect }

func (r *recordingTransfer) Pay(_ context.Context, p domain.Payout) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails > 0 {
		r.fails--
		return "", errors.New("rpc unavailable")
	}
	if r.paid == nil {
		r.paid = make(map[string]int64)
	}
	r.paid[p.Address] += p.Amount
	r.keys = append(r.keys, p.ID)
	return "0xtx" + p.ID[:8], nil
}

type harness struct {
	svc      *WagerService
	query    *QueryService
	repo     *memory.Repository
	eval     *stubEvaluator
	transfer *recordingTransfer
	audit    *memory.AuditStore
	bus      *memory.SignalBus
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	h := &harness{
		repo:     memory.NewRepository(),
		eval:     &stubEvaluator{},
		transfer: &recordingTransfer{},
		audit:    memory.NewAuditStore(),
		bus:      memory.NewSignalBus(),
	}
	h.eval.set(domain.OutcomeYes)
	clock := ContextClock{Fallback: func() time.Time { return t0 }}
	logger := discardLogger()

	dispatcher := NewPayoutDispatcher(DispatcherDeps{
		Store:    h.repo,
		Transfer: h.transfer,
		Clock:    clock,
		Audit:    h.audit,
	}, DispatcherConfig{MaxAttempts: 2}, logger)

	h.svc = NewWagerService(Capabilities{
		Repo:    h.repo,
		Locks:   memory.NewLockManager(),
		Arbiter: arbiter.NewAggregator(h.eval, arbiter.Config{EvaluationTimeout: time.Second, Concurrency: 16}, nil, logger),
		Clock:   clock,
		Payer:   dispatcher,
		Events:  busSink{h.bus},
		Audit:   h.audit,
	}, policy, logger)
	h.query = NewQueryService(h.repo, h.repo)
	return h
}

// busSink publishes events straight to the in-memory bus.
type busSink struct{ bus *memory.SignalBus }

func (s busSink) Emit(ctx context.Context, topic, _ string, payload []byte) error {
	return s.bus.StreamAppend(ctx, topic, payload)
}

func at(d time.Duration) context.Context {
	return WithActionTime(context.Background(), t0.Add(d))
}

func paid(addr string, v int64) domain.Call { return domain.Call{Sender: addr, Value: v} }

func (h *harness) create(t *testing.T, stake int64) domain.Wager {
	t.Helper()
	w, err := h.svc.CreateWager(at(0), paid(alice, stake), CreateWagerParams{
		Prediction:  "It rains in Lisbon on March 2nd",
		StakeAmount: stake,
		Deadline:    t0.Add(time.Hour),
		Category:    "weather",
		Criteria:    "https://weather.example/lisbon",
	})
	require.NoError(t, err)
	return w
}

func (h *harness) active(t *testing.T, stake int64, stance string) domain.Wager {
	t.Helper()
	w := h.create(t, stake)
	w, err := h.svc.AcceptWager(at(time.Minute), paid(bob, stake), w.ID, stance)
	require.NoError(t, err)
	return w
}

func TestScenarioVerifyThenAppealThenResolve(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	w := h.create(t, 100)
	assert.Equal(t, domain.WagerWaiting, w.Status)
	assert.Equal(t, int64(100), w.Pot)
	assert.Equal(t, "wager_20260301T120000Z_1", w.ID)

	w, err := h.svc.AcceptWager(at(time.Minute), paid(bob, 100), w.ID, "disagree")
	require.NoError(t, err)
	assert.Equal(t, domain.WagerActive, w.Status)
	assert.Equal(t, int64(200), w.Pot)

	v, err := h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, v.Outcome)
	assert.False(t, v.IsFinal)
	assert.Equal(t, domain.MinQuorum, v.ValidatorsUsed)
	assert.Equal(t, "url=https://weather.example/lisbon; sha256=d", v.Evidence)

	st, err := h.query.GetStatus(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerVerified, st.Status)

	_, err = h.svc.ResolveWager(at(2*time.Hour), paid(alice, 0), w.ID)
	require.ErrorIs(t, err, domain.ErrNotFinal)

	v, err = h.svc.SubmitAppeal(at(3*time.Hour), paid(bob, 0), w.ID, "source was stale", "")
	require.NoError(t, err)
	assert.True(t, v.IsFinal)
	assert.InDelta(t, 0.95, v.Confidence, 1e-9)
	assert.Equal(t, domain.AppealQuorum, v.ValidatorsUsed)

	res, err := h.svc.ResolveWager(at(3*time.Hour), paid(alice, 0), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerResolved, res.Wager.Status)
	assert.Equal(t, map[string]int64{alice: 200, bob: 0}, res.Wager.Settlement.Amounts())
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, domain.PayoutDelivered, res.Payouts[0].Status)
	assert.Equal(t, map[string]int64{alice: 200}, h.transfer.paid)

	a, err := h.query.GetPlayerStats(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Wins)
	assert.Equal(t, int64(200), a.VolumeWon)
	b, err := h.query.GetPlayerStats(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Losses)

	g, err := h.query.GetGlobalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalStats{TotalWagers: 1, TotalResolved: 1, TotalVolume: 200}, g)

	_, err = h.svc.ResolveWager(at(4*time.Hour), paid(alice, 0), w.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Len(t, h.bus.Stream(EventWagerResolved), 1)
	assert.Len(t, h.bus.Stream(EventWagerCreated), 1)
}

func TestScenarioRefundUnacceptedWager(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.create(t, 100)

	w.Status = domain.WagerVerified
	w.Verification = &domain.VerificationResult{Outcome: domain.OutcomeNo, Confidence: 0.95, IsFinal: true}
	require.NoError(t, h.repo.Commit(context.Background(), domain.Batch{Wager: &w}))

	res, err := h.svc.ResolveWager(at(2*time.Hour), paid(alice, 0), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementRefund, res.Wager.Settlement.Kind)
	assert.Equal(t, map[string]int64{alice: 100}, h.transfer.paid)

	a, err := h.query.GetPlayerStats(context.Background(), alice)
	require.NoError(t, err)
	assert.Zero(t, a.Wins)
	assert.Zero(t, a.Losses)
}

func TestScenarioPushSplitsRemainderToB(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.create(t, 100)
	w, err := h.svc.AcceptWager(at(time.Minute), paid(bob, 100), w.ID, "agree")
	require.NoError(t, err)

	// Both parties agree, so a NO verdict has no winner.
	w.Pot = 201
	require.NoError(t, h.repo.Commit(context.Background(), domain.Batch{Wager: &w}))
	h.eval.set(domain.OutcomeNo)

	_, err = h.svc.SubmitAppeal(at(2*time.Hour), paid(bob, 0), w.ID, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidState, "appeal needs a prior verification")

	_, err = h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitAppeal(at(2*time.Hour), paid(bob, 0), w.ID, "", "")
	require.NoError(t, err)

	res, err := h.svc.ResolveWager(at(2*time.Hour), paid(bob, 0), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPush, res.Wager.Settlement.Kind)
	assert.Equal(t, map[string]int64{alice: 100, bob: 101}, res.Wager.Settlement.Amounts())
}

func TestCreateWagerValidation(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	future := t0.Add(time.Hour)

	tests := []struct {
		name string
		call domain.Call
		p    CreateWagerParams
		want error
	}{
		{"no caller", paid("", 10), CreateWagerParams{Prediction: "p", Deadline: future}, domain.ErrUnauthorized},
		{"empty prediction", paid(alice, 10), CreateWagerParams{Prediction: "  ", Deadline: future}, domain.ErrValidation},
		{"unpaid", paid(alice, 0), CreateWagerParams{Prediction: "p", StakeAmount: 10, Deadline: future}, domain.ErrValidation},
		{"mismatch", paid(alice, 10), CreateWagerParams{Prediction: "p", StakeAmount: 20, Deadline: future}, domain.ErrValidation},
		{"negative", paid(alice, -1), CreateWagerParams{Prediction: "p", Deadline: future}, domain.ErrValidation},
		{"past deadline", paid(alice, 10), CreateWagerParams{Prediction: "p", Deadline: t0}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateWager(at(0), tt.call, tt.p)
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.query.LastWagerID(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptWagerErrors(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.create(t, 50)

	_, err := h.svc.AcceptWager(at(time.Minute), paid(bob, 50), "wager_missing", "agree")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.AcceptWager(at(time.Minute), paid(" 0XAAAA000000000000000000000000000000000001 ", 50), w.ID, "agree")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.svc.AcceptWager(at(time.Minute), paid(bob, 50), w.ID, "maybe")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.svc.AcceptWager(at(time.Minute), paid(bob, 49), w.ID, "agree")
	require.ErrorIs(t, err, domain.ErrValidation)

	got, err := h.svc.AcceptWager(at(time.Minute), paid(bob, 50), w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StanceDisagree, got.PlayerBStance)

	_, err = h.svc.AcceptWager(at(time.Minute), paid("0xcccc", 50), w.ID, "agree")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVerificationGuards(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	waiting := h.create(t, 10)

	_, err := h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), waiting.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	w, err := h.svc.AcceptWager(at(time.Minute), paid(bob, 10), waiting.ID, "disagree")
	require.NoError(t, err)

	_, err = h.svc.SubmitVerification(at(30*time.Minute), paid(bob, 0), w.ID, "")
	require.ErrorIs(t, err, domain.ErrTooEarly)

	_, err = h.svc.ResolveWager(at(2*time.Hour), paid(bob, 0), w.ID)
	require.ErrorIs(t, err, domain.ErrMissingVerification)

	h.eval.split.Store(true)
	_, err = h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.ErrorIs(t, err, domain.ErrConsensusFailure)
	got, err := h.query.GetWager(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WagerActive, got.Status)
	assert.Nil(t, got.Verification)

	h.eval.split.Store(false)
	_, err = h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "https://override.example")
	require.NoError(t, err, "verification may be re-run before it is final")

	_, err = h.svc.SubmitAppeal(at(2*time.Hour), paid(bob, 0), w.ID, "", "")
	require.NoError(t, err)
	_, err = h.svc.SubmitAppeal(at(2*time.Hour), paid(bob, 0), w.ID, "", "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestResolveRejectsCorruptedOutcome(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.active(t, 10, "disagree")
	w.Status = domain.WagerVerified
	w.Verification = &domain.VerificationResult{Outcome: "MAYBE", IsFinal: true}
	require.NoError(t, h.repo.Commit(context.Background(), domain.Batch{Wager: &w}))

	_, err := h.svc.ResolveWager(at(2*time.Hour), paid(bob, 0), w.ID)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestDevPolicyTrustsUnpaidStakesAndSkipsDeadlines(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowUnpaidStakes = true
	policy.EnforceDeadlines = false
	h := newHarness(t, policy)

	w, err := h.svc.CreateWager(at(0), paid(alice, 0), CreateWagerParams{
		Prediction: "p", StakeAmount: 25, Deadline: t0.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), w.Pot)

	w, err = h.svc.AcceptWager(at(0), paid(bob, 0), w.ID, "disagree")
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Pot)

	_, err = h.svc.SubmitVerification(at(0), paid(bob, 0), w.ID, "")
	require.NoError(t, err)
}

func TestConcurrentAcceptAdmitsOneJoiner(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.create(t, 10)

	const n = 16
	var (
		wg sync.WaitGroup
		ok atomic.Int64
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			caller := "0xdd" + string(rune('a'+i))
			if _, err := h.svc.AcceptWager(at(time.Minute), paid(caller, 10), w.ID, "disagree"); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok.Load())
	got, err := h.query.GetWager(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Pot)
}

func TestConcurrentResolvePaysOnce(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	w := h.active(t, 10, "disagree")
	_, err := h.svc.SubmitVerification(at(2*time.Hour), paid(bob, 0), w.ID, "")
	require.NoError(t, err)
	_, err = h.svc.SubmitAppeal(at(2*time.Hour), paid(bob, 0), w.ID, "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int64
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ResolveWager(at(2*time.Hour), paid(alice, 0), w.ID); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok.Load())
	assert.Equal(t, map[string]int64{alice: 20}, h.transfer.paid)
	a, err := h.query.GetPlayerStats(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Wins)
}

func TestSetUsername(t *testing.T) {
	h := newHarness(t, DefaultPolicy())

	p, err := h.svc.SetUsername(at(0), paid(alice, 0), "  oracle-fan ")
	require.NoError(t, err)
	assert.Equal(t, "oracle-fan", p.Username)
	assert.Equal(t, alice, p.Address)

	_, err = h.svc.SetUsername(at(0), paid(alice, 0), "   ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestQueryPagination(t *testing.T) {
	h := newHarness(t, DefaultPolicy())
	var ids []string
	for range 3 {
		ids = append(ids, h.create(t, 10).ID)
	}

	got, err := h.query.ListWagers(context.Background(), domain.ListOpts{Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[1], got[0].ID)

	_, err = h.query.ListWagers(context.Background(), domain.ListOpts{Offset: -1, Limit: 1})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = h.query.GetLeaderboard(context.Background(), domain.ListOpts{Limit: -1})
	require.ErrorIs(t, err, domain.ErrValidation)

	last, err := h.query.LastWagerID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids[2], last)

	lb, err := h.query.GetLeaderboard(context.Background(), domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, lb, 1)
	assert.Equal(t, 1, lb[0].Rank)
	assert.Equal(t, int64(3), lb[0].WagersCreated)

	_, err = h.query.GetPlayerStats(context.Background(), "0xunknown")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
