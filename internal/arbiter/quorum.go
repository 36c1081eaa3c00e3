package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/metrics"
)

// Strategy selects how a quorum of votes becomes a committed result. The
// two implementations are Equivalence and Plurality.
type Strategy interface {
	tier() string
	size() int
}

// Equivalence commits only when every vote carries the same outcome and
// digest. Disagreeing rounds are rerun up to MaxAttempts times before the
// call fails with ErrConsensusFailure.
type Equivalence struct {
	Quorum      int
	MaxAttempts int
	// Confidence is reported by each successful evaluation.
	Confidence float64
}

func (Equivalence) tier() string { return "equivalence" }
func (e Equivalence) size() int { return e.Quorum }

// Plurality runs every evaluation once and picks the outcome with strictly
// more votes, falling back to NO on a tie. The result is always final.
type Plurality struct {
	Quorum     int
	Confidence float64
}

func (Plurality) tier() string { return "plurality" }
func (p Plurality) size() int { return p.Quorum }

// Evaluator produces one classification. *Classifier satisfies it.
type Evaluator interface {
	Classify(ctx context.Context, req Request) (Classification, error)
}

// Config bounds the fan-out of a round.
type Config struct {
	// EvaluationTimeout caps a single evaluation; zero disables the cap.
	EvaluationTimeout time.Duration
	// Concurrency limits in-flight evaluations; zero means unbounded.
	Concurrency int
}

// Aggregator runs quorum rounds.
type Aggregator struct {
	eval    Evaluator
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator. m may be nil.
func NewAggregator(eval Evaluator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		eval:    eval,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "quorum")),
	}
}

// Run executes one arbitration round with strategy s. It returns ctx.Err()
// if the owning action is cancelled, and no partial result is produced.
func (a *Aggregator) Run(ctx context.Context, s Strategy, req Request) (domain.VerificationResult, error) {
	if s.size() < 1 {
		return domain.VerificationResult{}, fmt.Errorf("arbiter: quorum must be positive, got %d: %w", s.size(), domain.ErrValidation)
	}

	start := time.Now()
	var (
		res domain.VerificationResult
		err error
	)
	switch st := s.(type) {
	case Equivalence:
		res, err = a.commit(ctx, st, req)
	case Plurality:
		res, err = a.plurality(ctx, st, req)
	default:
		return domain.VerificationResult{}, fmt.Errorf("arbiter: unknown strategy %T", s)
	}

	result := "ok"
	if err != nil {
		result = "error"
		if ctx.Err() != nil {
			result = "cancelled"
		}
	}
	a.metrics.RecordRound(s.tier(), result, time.Since(start).Seconds())
	return res, err
}

func (a *Aggregator) commit(ctx context.Context, s Equivalence, req Request) (domain.VerificationResult, error) {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		votes, err := a.collect(ctx, s, req)
		if err != nil {
			return domain.VerificationResult{}, err
		}
		if res, ok := CommitVotes(votes); ok {
			a.metrics.RecordCommitAttempts("committed", attempt)
			return res, nil
		}
		a.logger.InfoContext(ctx, "equivalence round disagreed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Int("quorum", s.Quorum),
		)
	}

	a.metrics.RecordCommitAttempts("exhausted", attempts)
	return domain.VerificationResult{}, fmt.Errorf("arbiter: %d evaluations disagreed on %d attempts: %w",
		s.Quorum, attempts, domain.ErrConsensusFailure)
}

func (a *Aggregator) plurality(ctx context.Context, s Plurality, req Request) (domain.VerificationResult, error) {
	votes, err := a.collect(ctx, s, req)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	return AggregateVotes(votes), nil
}

// collect fans out s.size() evaluations and waits for all of them.
func (a *Aggregator) collect(ctx context.Context, s Strategy, req Request) ([]domain.QuorumVote, error) {
	confidence := successConfidence(s)
	votes := make([]domain.QuorumVote, s.size())

	var g errgroup.Group
	if a.cfg.Concurrency > 0 {
		g.SetLimit(a.cfg.Concurrency)
	}
	for i := range votes {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			votes[i] = a.evaluate(ctx, confidence, req)
			a.metrics.RecordEvaluation(s.tier(), string(votes[i].Outcome), votes[i].Failed)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}

type evalResult struct {
	cls Classification
	err error
}

// evaluate never returns an error: any failure becomes the failed vote.
func (a *Aggregator) evaluate(ctx context.Context, confidence float64, req Request) domain.QuorumVote {
	ectx := ctx
	if a.cfg.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, a.cfg.EvaluationTimeout)
		defer cancel()
	}

	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- evalResult{err: fmt.Errorf("arbiter: evaluation panic: %v", r)}
			}
		}()
		cls, err := a.eval.Classify(ectx, req)
		done <- evalResult{cls: cls, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			a.logger.DebugContext(ctx, "evaluation failed", slog.String("error", r.err.Error()))
			return FailedVote()
		}
		return domain.QuorumVote{
			Outcome:    r.cls.Outcome,
			Digest:     r.cls.Digest,
			Confidence: confidence,
			Evidence:   r.cls.Evidence,
		}
	case <-ectx.Done():
		a.logger.DebugContext(ctx, "evaluation timed out")
		return FailedVote()
	}
}

func successConfidence(s Strategy) float64 {
	switch st := s.(type) {
	case Equivalence:
		return st.Confidence
	case Plurality:
		return st.Confidence
	}
	return 0
}

// FailedVote is the vote contributed by an evaluation that errored or
// timed out.
func FailedVote() domain.QuorumVote {
	return domain.QuorumVote{
		Outcome:    domain.OutcomeNo,
		Confidence: 0.5,
		Evidence:   domain.VerifierFailedEvidence,
		Failed:     true,
	}
}

// CommitVotes applies the equivalence rule. ok is false unless every vote
// has the same outcome and digest. Evidence comes from the first vote that
// did not fail. The result is never final.
func CommitVotes(votes []domain.QuorumVote) (domain.VerificationResult, bool) {
	if len(votes) == 0 {
		return domain.VerificationResult{}, false
	}
	first := votes[0]
	for _, v := range votes[1:] {
		if v.Outcome != first.Outcome || v.Digest != first.Digest {
			return domain.VerificationResult{}, false
		}
	}
	evidence := first.Evidence
	for _, v := range votes {
		if !v.Failed {
			evidence = v.Evidence
			break
		}
	}
	return domain.VerificationResult{
		Outcome:        first.Outcome,
		Confidence:     meanConfidence(votes),
		Evidence:       evidence,
		ValidatorsUsed: len(votes),
		IsFinal:        false,
	}, true
}

// AggregateVotes applies the plurality rule: YES needs strictly more votes
// than NO, confidence is the mean, evidence comes from the first vote. The
// result is always final.
func AggregateVotes(votes []domain.QuorumVote) domain.VerificationResult {
	var yes, no int
	for _, v := range votes {
		if v.Outcome == domain.OutcomeYes {
			yes++
		} else {
			no++
		}
	}

	outcome := domain.OutcomeNo
	if yes > no {
		outcome = domain.OutcomeYes
	}

	var evidence string
	if len(votes) > 0 {
		evidence = votes[0].Evidence
	}

	return domain.VerificationResult{
		Outcome:        outcome,
		Confidence:     meanConfidence(votes),
		Evidence:       evidence,
		ValidatorsUsed: len(votes),
		IsFinal:        true,
	}
}

// meanConfidence averages in decimal so every node commits the same value.
func meanConfidence(votes []domain.QuorumVote) float64 {
	if len(votes) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, v := range votes {
		sum = sum.Add(decimal.NewFromFloat(v.Confidence))
	}
	mean, _ := sum.Div(decimal.NewFromInt(int64(len(votes)))).Float64()
	return mean
}
