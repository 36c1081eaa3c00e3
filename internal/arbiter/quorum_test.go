package arbiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type evalFunc func(ctx context.Context, n int64) (Classification, error)

type scriptedEvaluator struct {
	calls atomic.Int64
	fn    evalFunc
}

func (s *scriptedEvaluator) Classify(ctx context.Context, _ Request) (Classification, error) {
	n := s.calls.Add(1) - 1
	return s.fn(ctx, n)
}

func fixed(outcome domain.Outcome, digest string) *scriptedEvaluator {
	return &scriptedEvaluator{fn: func(context.Context, int64) (Classification, error) {
		return Classification{Outcome: outcome, Digest: digest, Evidence: "url=u; sha256=" + digest}, nil
	}}
}

func vote(o domain.Outcome, c float64, evidence string) domain.QuorumVote {
	return domain.QuorumVote{Outcome: o, Confidence: c, Evidence: evidence}
}

func TestAggregateVotesPlurality(t *testing.T) {
	votes := []domain.QuorumVote{
		vote(domain.OutcomeYes, 0.9, "first"),
		vote(domain.OutcomeYes, 0.8, "second"),
		vote(domain.OutcomeNo, 0.6, "third"),
		vote(domain.OutcomeYes, 0.7, "fourth"),
		vote(domain.OutcomeNo, 0.5, "fifth"),
	}

	got := AggregateVotes(votes)
	assert.Equal(t, domain.OutcomeYes, got.Outcome)
	assert.InDelta(t, 0.7, got.Confidence, 1e-12)
	assert.Equal(t, "first", got.Evidence)
	assert.Equal(t, 5, got.ValidatorsUsed)
	assert.True(t, got.IsFinal)
}

func TestAggregateVotesTieFavoursNo(t *testing.T) {
	got := AggregateVotes([]domain.QuorumVote{
		vote(domain.OutcomeYes, 1, "a"),
		vote(domain.OutcomeNo, 1, "b"),
	})
	assert.Equal(t, domain.OutcomeNo, got.Outcome)
	assert.Equal(t, "a", got.Evidence)
}

func TestCommitVotesRequiresStrictEquality(t *testing.T) {
	agree := []domain.QuorumVote{
		{Outcome: domain.OutcomeYes, Digest: "d", Confidence: 0.85, Evidence: "e"},
		{Outcome: domain.OutcomeYes, Digest: "d", Confidence: 0.85, Evidence: "e"},
		{Outcome: domain.OutcomeYes, Digest: "d", Confidence: 0.85, Evidence: "e"},
	}
	res, ok := CommitVotes(agree)
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.False(t, res.IsFinal)
	assert.InDelta(t, 0.85, res.Confidence, 1e-12)

	digestDiffers := append([]domain.QuorumVote{}, agree...)
	digestDiffers[2].Digest = "other"
	_, ok = CommitVotes(digestDiffers)
	assert.False(t, ok)

	_, ok = CommitVotes(nil)
	assert.False(t, ok)
}

func TestCommitVotesSkipsFailedEvidence(t *testing.T) {
	ok := domain.QuorumVote{Outcome: domain.OutcomeNo, Confidence: 0.85, Evidence: "criteria=official result page"}
	res, committed := CommitVotes([]domain.QuorumVote{FailedVote(), ok, ok})
	require.True(t, committed)
	assert.Equal(t, "criteria=official result page", res.Evidence)
	assert.InDelta(t, 0.7333, res.Confidence, 1e-4)

	res, committed = CommitVotes([]domain.QuorumVote{FailedVote(), FailedVote()})
	require.True(t, committed)
	assert.Equal(t, domain.VerifierFailedEvidence, res.Evidence)
}

func TestRunEquivalenceCommits(t *testing.T) {
	a := NewAggregator(fixed(domain.OutcomeYes, "abc"), Config{}, nil, discard)

	res, err := a.Run(context.Background(), Equivalence{Quorum: domain.MinQuorum, MaxAttempts: 3, Confidence: 0.85}, Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.Equal(t, domain.MinQuorum, res.ValidatorsUsed)
	assert.False(t, res.IsFinal)
	assert.InDelta(t, 0.85, res.Confidence, 1e-12)
	assert.Equal(t, "url=u; sha256=abc", res.Evidence)
}

func TestRunEquivalenceExhaustsRetries(t *testing.T) {
	eval := &scriptedEvaluator{fn: func(_ context.Context, n int64) (Classification, error) {
		if n%2 == 0 {
			return Classification{Outcome: domain.OutcomeYes}, nil
		}
		return Classification{Outcome: domain.OutcomeNo}, nil
	}}
	a := NewAggregator(eval, Config{}, nil, discard)

	_, err := a.Run(context.Background(), Equivalence{Quorum: 3, MaxAttempts: 2, Confidence: 0.85}, Request{})
	require.ErrorIs(t, err, domain.ErrConsensusFailure)
	assert.Equal(t, int64(6), eval.calls.Load())
}

func TestRunEquivalenceRetrySettles(t *testing.T) {
	eval := &scriptedEvaluator{fn: func(_ context.Context, n int64) (Classification, error) {
		if n < 3 && n%2 == 1 {
			return Classification{Outcome: domain.OutcomeNo}, nil
		}
		return Classification{Outcome: domain.OutcomeYes, Digest: "d"}, nil
	}}
	a := NewAggregator(eval, Config{}, nil, discard)

	res, err := a.Run(context.Background(), Equivalence{Quorum: 3, MaxAttempts: 3, Confidence: 0.85}, Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.Equal(t, int64(6), eval.calls.Load())
}

func TestRunPluralityIsFinal(t *testing.T) {
	a := NewAggregator(fixed(domain.OutcomeYes, "d"), Config{Concurrency: 8}, nil, discard)

	res, err := a.Run(context.Background(), Plurality{Quorum: domain.AppealQuorum, Confidence: 0.95}, Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.True(t, res.IsFinal)
	assert.Equal(t, domain.AppealQuorum, res.ValidatorsUsed)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
}

func TestFailedEvaluationsBecomeNoVotes(t *testing.T) {
	eval := &scriptedEvaluator{fn: func(context.Context, int64) (Classification, error) {
		return Classification{Outcome: domain.OutcomeNo}, errors.New("oracle down")
	}}
	a := NewAggregator(eval, Config{}, nil, discard)

	res, err := a.Run(context.Background(), Plurality{Quorum: 5, Confidence: 0.95}, Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, res.Outcome)
	assert.InDelta(t, 0.5, res.Confidence, 1e-12)
	assert.Equal(t, domain.VerifierFailedEvidence, res.Evidence)
}

func TestPanickingEvaluationBecomesNoVote(t *testing.T) {
	eval := &scriptedEvaluator{fn: func(_ context.Context, n int64) (Classification, error) {
		if n == 0 {
			panic("boom")
		}
		return Classification{Outcome: domain.OutcomeYes}, nil
	}}
	a := NewAggregator(eval, Config{Concurrency: 1}, nil, discard)

	res, err := a.Run(context.Background(), Plurality{Quorum: 3, Confidence: 0.9}, Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.Equal(t, domain.VerifierFailedEvidence, res.Evidence)
}

func TestEvaluationTimeoutDegrades(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	eval := &scriptedEvaluator{fn: func(_ context.Context, n int64) (Classification, error) {
		if n == 1 {
			<-release
		}
		return Classification{Outcome: domain.OutcomeYes}, nil
	}}
	a := NewAggregator(eval, Config{EvaluationTimeout: 20 * time.Millisecond, Concurrency: 1}, nil, discard)

	start := time.Now()
	res, err := a.Run(context.Background(), Plurality{Quorum: 3, Confidence: 0.9}, Request{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.OutcomeYes, res.Outcome)
	assert.InDelta(t, (0.9+0.5+0.9)/3, res.Confidence, 1e-9)
}

func TestRunCancelledDiscardsPartialVotes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eval := &scriptedEvaluator{fn: func(ctx context.Context, n int64) (Classification, error) {
		if n == 0 {
			cancel()
		}
		<-ctx.Done()
		return Classification{}, ctx.Err()
	}}
	a := NewAggregator(eval, Config{}, nil, discard)

	res, err := a.Run(ctx, Plurality{Quorum: 10, Confidence: 0.95}, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.VerificationResult{}, res)
}

func TestRunRejectsEmptyQuorum(t *testing.T) {
	a := NewAggregator(fixed(domain.OutcomeYes, ""), Config{}, nil, discard)
	_, err := a.Run(context.Background(), Plurality{}, Request{})
	require.ErrorIs(t, err, domain.ErrValidation)
}
