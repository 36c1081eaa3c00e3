package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerbot/internal/arbiter"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
	"github.com/alanyoungcy/wagerbot/internal/payout"
	"github.com/alanyoungcy/wagerbot/internal/standings"
)

// Arbiter runs one quorum round. *arbiter.Aggregator satisfies it.
type Arbiter interface {
	Run(ctx context.Context, s arbiter.Strategy, req arbiter.Request) (domain.VerificationResult, error)
}

// Payer delivers freshly committed payouts. *PayoutDispatcher satisfies it.
type Payer interface {
	Deliver(ctx context.Context, payouts []domain.Payout) []domain.Payout
}

// Capabilities is everything the state machine talks to. Repo, Locks,
// Arbiter and Clock are required; the rest may be nil.
type Capabilities struct {
	Repo     domain.WagerRepository
	Locks    domain.LockManager
	Arbiter  Arbiter
	Clock    domain.Clock
	Payer    Payer
	Events   domain.EventSink
	Audit    domain.AuditStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Policy holds the escrow rules that differ between production and
// development deployments.
type Policy struct {
	// AllowUnpaidStakes trusts zero-value calls at their declared stake.
	AllowUnpaidStakes bool
	// EnforceDeadlines rejects verification and appeals before the deadline
	// and wagers created with a past deadline.
	EnforceDeadlines bool
	LockTTL          time.Duration
	LockWait         time.Duration
	Verify           arbiter.Equivalence
	Appeal           arbiter.Plurality
}

// DefaultPolicy is the production policy.
func DefaultPolicy() Policy {
	return Policy{
		EnforceDeadlines: true,
		LockTTL:          5 * time.Minute,
		LockWait:         3 * time.Minute,
		Verify:           arbiter.Equivalence{Quorum: domain.MinQuorum, MaxAttempts: 3, Confidence: 0.85},
		Appeal:           arbiter.Plurality{Quorum: domain.AppealQuorum, Confidence: 0.95},
	}
}

// CreateWagerParams are the caller-supplied fields of a new wager.
type CreateWagerParams struct {
	Prediction  string
	StakeAmount int64
	Deadline    time.Time
	Category    string
	Criteria    string
}

// Resolution is the result of resolving a wager.
type Resolution struct {
	Wager   domain.Wager
	Payouts []domain.Payout
}

// WagerService owns the wager lifecycle. Actions on one wager id are
// serialised through the lock manager; the repository version check
// catches any writer that slipped past an expired lease.
type WagerService struct {
	repo     domain.WagerRepository
	locks    domain.LockManager
	arbiter  Arbiter
	clock    domain.Clock
	payer    Payer
	events   domain.EventSink
	audit    domain.AuditStore
	notifier Notifier
	metrics  *metrics.Metrics
	policy   Policy
	logger   *slog.Logger
}

// NewWagerService creates a WagerService.
func NewWagerService(caps Capabilities, policy Policy, logger *slog.Logger) *WagerService {
	return &WagerService{
		repo:     caps.Repo,
		locks:    caps.Locks,
		arbiter:  caps.Arbiter,
		clock:    caps.Clock,
		payer:    caps.Payer,
		events:   caps.Events,
		audit:    caps.Audit,
		notifier: caps.Notifier,
		metrics:  caps.Metrics,
		policy:   policy,
		logger:   logger.With(slog.String("component", "wager_service")),
	}
}

// CreateWager opens a wager owned by the caller with stance agree.
func (s *WagerService) CreateWager(ctx context.Context, call domain.Call, p CreateWagerParams) (_ domain.Wager, err error) {
	defer func() { s.metrics.RecordAction("create", resultLabel(err)) }()

	now := s.clock.Now(ctx)
	sender, err := callerAddress(call)
	if err != nil {
		return domain.Wager{}, err
	}
	if strings.TrimSpace(p.Prediction) == "" {
		return domain.Wager{}, fmt.Errorf("wager_service: prediction must not be empty: %w", domain.ErrValidation)
	}
	stake, err := s.stakeForCreate(call.Value, p.StakeAmount)
	if err != nil {
		return domain.Wager{}, err
	}
	if s.policy.EnforceDeadlines && !p.Deadline.After(now) {
		return domain.Wager{}, fmt.Errorf("wager_service: deadline %s is not after %s: %w",
			p.Deadline.Format(time.RFC3339), now.Format(time.RFC3339), domain.ErrValidation)
	}

	seq, err := s.repo.NextWagerSeq(ctx)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("wager_service: next wager id: %w", err)
	}

	w := domain.Wager{
		ID:                   fmt.Sprintf("wager_%s_%d", now.Format("20060102T150405Z"), seq),
		Prediction:           p.Prediction,
		VerificationCriteria: p.Criteria,
		Category:             p.Category,
		PlayerA:              sender,
		PlayerAStance:        domain.StanceAgree,
		StakeAmount:          stake,
		Pot:                  stake,
		Deadline:             p.Deadline.UTC(),
		Status:               domain.WagerWaiting,
		CreatedAt:            now,
	}

	if err := s.repo.Commit(ctx, domain.Batch{
		Wager:   &w,
		Players: []domain.PlayerDelta{standings.Created(sender, stake, now)},
		Global:  domain.GlobalDelta{Wagers: 1, Volume: stake},
	}); err != nil {
		return domain.Wager{}, fmt.Errorf("wager_service: create %s: %w", w.ID, err)
	}
	w.Version++

	s.logger.InfoContext(ctx, "wager created",
		slog.String("wager_id", w.ID),
		slog.String("player_a", sender),
		slog.Int64("stake", stake),
	)
	audit(ctx, s.audit, s.logger, EventWagerCreated, map[string]any{
		"wager_id": w.ID,
		"player_a": sender,
		"stake":    stake,
		"deadline": w.Deadline.Format(time.RFC3339),
	})
	emit(ctx, s.events, s.logger, w.ID, Event{Event: EventWagerCreated, At: now, Wager: &w})
	return w, nil
}

// AcceptWager joins a waiting wager as playerB.
func (s *WagerService) AcceptWager(ctx context.Context, call domain.Call, id, stance string) (_ domain.Wager, err error) {
	defer func() { s.metrics.RecordAction("accept", resultLabel(err)) }()

	sender, err := callerAddress(call)
	if err != nil {
		return domain.Wager{}, err
	}

	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.Wager{}, err
	}
	defer unlock()

	now := s.clock.Now(ctx)
	w, err := s.repo.GetWager(ctx, id)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("wager_service: accept %s: %w", id, err)
	}
	if w.Status != domain.WagerWaiting {
		return domain.Wager{}, fmt.Errorf("wager_service: accept %s in status %s: %w", id, w.Status, domain.ErrInvalidState)
	}
	if domain.SameAddress(sender, w.PlayerA) {
		return domain.Wager{}, fmt.Errorf("wager_service: creator cannot accept own wager %s: %w", id, domain.ErrUnauthorized)
	}
	st, err := domain.ParseStance(stance)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("wager_service: stance %q must be agree or disagree: %w", stance, err)
	}
	received, err := s.stakeForAccept(call.Value, w.StakeAmount)
	if err != nil {
		return domain.Wager{}, err
	}
	if received > math.MaxInt64-w.Pot {
		return domain.Wager{}, fmt.Errorf("wager_service: pot overflow on %s: %w", id, domain.ErrValidation)
	}

	w.PlayerB = sender
	w.PlayerBStance = st
	w.Pot += received
	w.Status = domain.WagerActive
	w.AcceptedAt = &now

	if err := s.repo.Commit(ctx, domain.Batch{
		Wager:   &w,
		Players: []domain.PlayerDelta{standings.Joined(sender, received, now)},
		Global:  domain.GlobalDelta{Volume: received},
	}); err != nil {
		return domain.Wager{}, fmt.Errorf("wager_service: accept %s: %w", id, err)
	}
	w.Version++

	s.logger.InfoContext(ctx, "wager accepted",
		slog.String("wager_id", id),
		slog.String("player_b", sender),
		slog.String("stance", string(st)),
		slog.Int64("pot", w.Pot),
	)
	audit(ctx, s.audit, s.logger, EventWagerAccepted, map[string]any{
		"wager_id": id,
		"player_b": sender,
		"stance":   string(st),
		"pot":      w.Pot,
	})
	emit(ctx, s.events, s.logger, id, Event{Event: EventWagerAccepted, At: now, Wager: &w})
	return w, nil
}

// SubmitVerification runs the equivalence tier and stores a non-final
// result.
func (s *WagerService) SubmitVerification(ctx context.Context, call domain.Call, id, evidenceURL string) (_ domain.VerificationResult, err error) {
	defer func() { s.metrics.RecordAction("verify", resultLabel(err)) }()

	return s.arbitrate(ctx, call, id, arbiter.Request{EvidenceURL: strings.TrimSpace(evidenceURL)}, false)
}

// SubmitAppeal runs the plurality tier and stores a final result,
// replacing the previous one.
func (s *WagerService) SubmitAppeal(ctx context.Context, call domain.Call, id, reason, evidenceURL string) (_ domain.VerificationResult, err error) {
	defer func() { s.metrics.RecordAction("appeal", resultLabel(err)) }()

	return s.arbitrate(ctx, call, id, arbiter.Request{
		EvidenceURL:  strings.TrimSpace(evidenceURL),
		AppealReason: reason,
	}, true)
}

func (s *WagerService) arbitrate(ctx context.Context, call domain.Call, id string, req arbiter.Request, appeal bool) (domain.VerificationResult, error) {
	op := "verify"
	if appeal {
		op = "appeal"
	}

	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	defer unlock()

	now := s.clock.Now(ctx)
	w, err := s.repo.GetWager(ctx, id)
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("wager_service: %s %s: %w", op, id, err)
	}

	switch {
	case appeal && w.Status != domain.WagerVerified:
		return domain.VerificationResult{}, fmt.Errorf("wager_service: appeal %s in status %s: %w", id, w.Status, domain.ErrInvalidState)
	case !appeal && w.Status != domain.WagerActive && w.Status != domain.WagerVerified:
		return domain.VerificationResult{}, fmt.Errorf("wager_service: verify %s in status %s: %w", id, w.Status, domain.ErrInvalidState)
	}
	if w.Verification != nil && w.Verification.IsFinal {
		return domain.VerificationResult{}, fmt.Errorf("wager_service: %s %s: verification is final: %w", op, id, domain.ErrInvalidState)
	}
	if s.policy.EnforceDeadlines && now.Before(w.Deadline) {
		return domain.VerificationResult{}, fmt.Errorf("wager_service: %s %s before deadline %s: %w",
			op, id, w.Deadline.Format(time.RFC3339), domain.ErrTooEarly)
	}

	req.Prediction = w.Prediction
	req.Criteria = w.VerificationCriteria
	if req.EvidenceURL == "" && strings.HasPrefix(w.VerificationCriteria, "http") {
		req.EvidenceURL = w.VerificationCriteria
	}

	var (
		res      domain.VerificationResult
		strategy arbiter.Strategy = s.policy.Verify
		quorum                    = s.policy.Verify.Quorum
	)
	if appeal {
		strategy, quorum = s.policy.Appeal, s.policy.Appeal.Quorum
	}
	res, err = s.arbiter.Run(ctx, strategy, req)
	if err != nil {
		if errors.Is(err, domain.ErrConsensusFailure) {
			notify(ctx, s.notifier, s.logger, NotifyConsensusFailure,
				"Consensus failure",
				fmt.Sprintf("wager %s: %d evaluations could not agree", id, quorum))
		}
		return domain.VerificationResult{}, fmt.Errorf("wager_service: %s %s: %w", op, id, err)
	}
	res.IsFinal = appeal
	res.ValidatorsUsed = quorum

	w.Verification = &res
	w.Status = domain.WagerVerified
	if err := s.repo.Commit(ctx, domain.Batch{Wager: &w}); err != nil {
		return domain.VerificationResult{}, fmt.Errorf("wager_service: %s %s: %w", op, id, err)
	}
	w.Version++

	event := EventWagerVerified
	if appeal {
		event = EventWagerAppealed
	}
	s.logger.InfoContext(ctx, "verification committed",
		slog.String("wager_id", id),
		slog.String("outcome", string(res.Outcome)),
		slog.Float64("confidence", res.Confidence),
		slog.Int("validators", res.ValidatorsUsed),
		slog.Bool("final", res.IsFinal),
	)
	audit(ctx, s.audit, s.logger, event, map[string]any{
		"wager_id":      id,
		"by":            normalizeAddress(call.Sender),
		"outcome":       string(res.Outcome),
		"confidence":    res.Confidence,
		"evidence":      res.Evidence,
		"validators":    res.ValidatorsUsed,
		"is_final":      res.IsFinal,
		"appeal_reason": req.AppealReason,
	})
	emit(ctx, s.events, s.logger, id, Event{Event: event, At: now, Wager: &w})
	return res, nil
}

// ResolveWager settles a wager with a final verification. It commits the
// wager, player stats and pending payouts as one batch, then attempts
// delivery. Delivery failures never undo the resolution.
func (s *WagerService) ResolveWager(ctx context.Context, call domain.Call, id string) (_ Resolution, err error) {
	defer func() { s.metrics.RecordAction("resolve", resultLabel(err)) }()

	w, payouts, err := s.settle(ctx, call, id)
	if err != nil {
		return Resolution{}, err
	}

	if s.payer != nil && len(payouts) > 0 {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		payouts = s.payer.Deliver(dctx, payouts)
		cancel()
	}

	winners := "none"
	if len(w.Settlement.Winners) > 0 {
		winners = strings.Join(w.Settlement.Winners, ", ")
	}
	notify(ctx, s.notifier, s.logger, NotifyWagerResolved,
		"Wager resolved",
		fmt.Sprintf("%s resolved %s (%s), pot %d, winners: %s",
			w.ID, w.Verification.Outcome, w.Settlement.Kind, w.Pot, winners))

	return Resolution{Wager: w, Payouts: payouts}, nil
}

func (s *WagerService) settle(ctx context.Context, call domain.Call, id string) (domain.Wager, []domain.Payout, error) {
	unlock, err := s.lockWager(ctx, id)
	if err != nil {
		return domain.Wager{}, nil, err
	}
	defer unlock()

	now := s.clock.Now(ctx)
	w, err := s.repo.GetWager(ctx, id)
	if err != nil {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: %w", id, err)
	}
	if w.Status == domain.WagerResolved {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: already resolved: %w", id, domain.ErrInvalidState)
	}
	if w.Verification == nil {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: %w", id, domain.ErrMissingVerification)
	}
	if !w.Verification.IsFinal {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: %w", id, domain.ErrNotFinal)
	}
	if !w.Verification.Outcome.Valid() {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: outcome %q: %w", id, w.Verification.Outcome, domain.ErrInvalidOutcome)
	}
	if w.Status != domain.WagerVerified {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s in status %s: %w", id, w.Status, domain.ErrInvalidState)
	}

	settlement, err := payout.Calculate(w, *w.Verification)
	if err != nil {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: %w", id, err)
	}

	payouts := make([]domain.Payout, 0, len(settlement.Allocations))
	for _, a := range settlement.Allocations {
		if a.Amount <= 0 {
			continue
		}
		payouts = append(payouts, domain.Payout{
			ID:        uuid.NewString(),
			WagerID:   w.ID,
			Address:   a.Address,
			Amount:    a.Amount,
			Status:    domain.PayoutPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	w.Status = domain.WagerResolved
	w.ResolvedAt = &now
	w.Settlement = &settlement

	if err := s.repo.Commit(ctx, domain.Batch{
		Wager:   &w,
		Players: standings.Resolved(w, settlement, now),
		Payouts: payouts,
		Global:  domain.GlobalDelta{Resolved: 1},
	}); err != nil {
		return domain.Wager{}, nil, fmt.Errorf("wager_service: resolve %s: %w", id, err)
	}
	w.Version++
	s.metrics.RecordResolution(w.Pot)

	s.logger.InfoContext(ctx, "wager resolved",
		slog.String("wager_id", id),
		slog.String("outcome", string(settlement.Outcome)),
		slog.String("kind", string(settlement.Kind)),
		slog.Int64("pot", w.Pot),
	)
	audit(ctx, s.audit, s.logger, EventWagerResolved, map[string]any{
		"wager_id":    id,
		"by":          normalizeAddress(call.Sender),
		"outcome":     string(settlement.Outcome),
		"kind":        string(settlement.Kind),
		"pot":         w.Pot,
		"allocations": settlement.Amounts(),
	})
	emit(ctx, s.events, s.logger, id, Event{Event: EventWagerResolved, At: now, Wager: &w})
	return w, payouts, nil
}

// SetUsername sets the caller's display name.
func (s *WagerService) SetUsername(ctx context.Context, call domain.Call, name string) (_ domain.PlayerStats, err error) {
	defer func() { s.metrics.RecordAction("set_username", resultLabel(err)) }()

	sender, err := callerAddress(call)
	if err != nil {
		return domain.PlayerStats{}, err
	}
	d, err := standings.Rename(sender, name, s.clock.Now(ctx))
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("wager_service: set username: %w", err)
	}
	if err := s.repo.Commit(ctx, domain.Batch{Players: []domain.PlayerDelta{d}}); err != nil {
		return domain.PlayerStats{}, fmt.Errorf("wager_service: set username for %s: %w", sender, err)
	}
	p, err := s.repo.GetPlayer(ctx, sender)
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("wager_service: set username for %s: %w", sender, err)
	}
	return p, nil
}

// lockWager waits up to Policy.LockWait for the wager's lock.
func (s *WagerService) lockWager(ctx context.Context, id string) (func(), error) {
	wait := s.policy.LockWait
	if wait <= 0 {
		wait = 3 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	backoff := 5 * time.Millisecond
	for {
		unlock, err := s.locks.Acquire(ctx, "wager:"+id, s.policy.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("wager_service: lock %s: %w", id, err)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("wager_service: wager %s busy: %w", id, domain.ErrLockHeld)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 100*time.Millisecond)
	}
}

// stakeForCreate applies the payment rules for a new wager and returns the
// stake.
func (s *WagerService) stakeForCreate(value, declared int64) (int64, error) {
	switch {
	case value < 0 || declared < 0:
		return 0, fmt.Errorf("wager_service: negative stake: %w", domain.ErrValidation)
	case value == 0 && declared == 0:
		return 0, fmt.Errorf("wager_service: a positive stake is required: %w", domain.ErrValidation)
	case value == 0 && !s.policy.AllowUnpaidStakes:
		return 0, fmt.Errorf("wager_service: stake of %d was not paid: %w", declared, domain.ErrValidation)
	case value == 0:
		return declared, nil
	case declared != 0 && declared != value:
		return 0, fmt.Errorf("wager_service: payment %d does not match stake %d: %w", value, declared, domain.ErrValidation)
	default:
		return value, nil
	}
}

// stakeForAccept applies the payment rules for joining and returns the
// amount added to the pot.
func (s *WagerService) stakeForAccept(value, stake int64) (int64, error) {
	switch {
	case value < 0:
		return 0, fmt.Errorf("wager_service: negative payment: %w", domain.ErrValidation)
	case value == 0 && !s.policy.AllowUnpaidStakes:
		return 0, fmt.Errorf("wager_service: stake of %d was not paid: %w", stake, domain.ErrValidation)
	case value == 0:
		return stake, nil
	case value != stake:
		return 0, fmt.Errorf("wager_service: payment %d does not match stake %d: %w", value, stake, domain.ErrValidation)
	default:
		return value, nil
	}
}

func callerAddress(call domain.Call) (string, error) {
	addr := normalizeAddress(call.Sender)
	if addr == "" {
		return "", fmt.Errorf("wager_service: caller address required: %w", domain.ErrUnauthorized)
	}
	return addr, nil
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
