package domain

// VerificationResult is the committed outcome of one arbitration round.
type VerificationResult struct {
	Outcome        Outcome `json:"outcome"`
	Confidence     float64 `json:"confidence"`
	Evidence       string  `json:"evidence"`
	ValidatorsUsed int     `json:"validators_used"`
	IsFinal        bool    `json:"is_final"`
}

// QuorumVote is one evaluation's contribution to a round. It never leaves
// the aggregator.
type QuorumVote struct {
	Outcome    Outcome
	Digest     string
	Confidence float64
	Evidence   string
	Failed     bool
}

// Evidence placeholder recorded for an evaluation that errored or timed out.
const VerifierFailedEvidence = "verifier-failed"
