// Package arbiter turns a nondeterministic oracle into committed
// verification results. A Classifier normalises one oracle evaluation and
// an Aggregator reduces a quorum of them with one of two strategies.
package arbiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// maxEvidenceRunes caps how much evidence text is placed in a prompt.
const maxEvidenceRunes = 4000

// Request is the input to one classification.
type Request struct {
	Prediction   string
	Criteria     string
	EvidenceURL  string
	AppealReason string
}

// Classification is the normalised verdict of a single evaluation.
type Classification struct {
	Outcome  domain.Outcome
	Digest   string
	Evidence string
}

// Classifier wraps an Oracle into normalised YES/NO verdicts bound to a
// digest of the evidence they were based on.
type Classifier struct {
	oracle  domain.Oracle
	archive domain.EvidenceArchive
	logger  *slog.Logger

	archived sync.Map // digest -> struct{}
}

// NewClassifier creates a Classifier backed by oracle.
func NewClassifier(oracle domain.Oracle, logger *slog.Logger) *Classifier {
	return &Classifier{
		oracle: oracle,
		logger: logger.With(slog.String("component", "classifier")),
	}
}

// WithArchive stores every fetched page under its digest.
func (c *Classifier) WithArchive(archive domain.EvidenceArchive) *Classifier {
	c.archive = archive
	return c
}

// Classify runs one evaluation. When the oracle fails the returned
// classification is still a usable NO verdict and err reports the failure.
func (c *Classifier) Classify(ctx context.Context, req Request) (Classification, error) {
	var page string
	if req.EvidenceURL != "" {
		text, err := c.oracle.FetchPage(ctx, req.EvidenceURL)
		if err != nil {
			c.logger.DebugContext(ctx, "evidence fetch failed",
				slog.String("url", req.EvidenceURL),
				slog.String("error", err.Error()),
			)
		} else {
			page = text
		}
	}

	basis := page
	if basis == "" {
		basis = req.Criteria
	}

	var digest string
	if page != "" {
		digest = Digest(page)
		c.archiveEvidence(ctx, digest, req.EvidenceURL, page)
	}

	cls := Classification{
		Outcome:  domain.OutcomeNo,
		Digest:   digest,
		Evidence: EvidenceString(req, digest),
	}

	answer, err := c.oracle.Classify(ctx, BuildPrompt(req, basis))
	if err != nil {
		return cls, fmt.Errorf("arbiter: classify: %w", err)
	}
	cls.Outcome = NormalizeVerdict(answer)
	return cls, nil
}

func (c *Classifier) archiveEvidence(ctx context.Context, digest, url, text string) {
	if c.archive == nil {
		return
	}
	if _, loaded := c.archived.LoadOrStore(digest, struct{}{}); loaded {
		return
	}
	if err := c.archive.StoreEvidence(ctx, digest, url, text); err != nil {
		c.archived.Delete(digest)
		c.logger.WarnContext(ctx, "evidence archive failed",
			slog.String("digest", digest),
			slog.String("error", err.Error()),
		)
	}
}

// BuildPrompt renders the judgment prompt for req using basis as the
// evidence text.
func BuildPrompt(req Request, basis string) string {
	var b strings.Builder
	b.WriteString("Answer ONLY 'YES' or 'NO'.\n")
	fmt.Fprintf(&b, "Prediction: %s\n", req.Prediction)
	fmt.Fprintf(&b, "Criteria: %s\n", req.Criteria)
	fmt.Fprintf(&b, "Appeal Reason: %s\n", req.AppealReason)
	fmt.Fprintf(&b, "Evidence: %s\n", truncateRunes(basis, maxEvidenceRunes))
	return b.String()
}

// NormalizeVerdict maps free text to YES when it contains YES and to NO
// otherwise.
func NormalizeVerdict(answer string) domain.Outcome {
	if strings.Contains(strings.ToUpper(strings.TrimSpace(answer)), "YES") {
		return domain.OutcomeYes
	}
	return domain.OutcomeNo
}

// Digest returns the hex SHA-256 of the evidence text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EvidenceString binds a verdict to its input: the URL and page digest
// when a URL was used, the criteria text otherwise.
func EvidenceString(req Request, digest string) string {
	if req.EvidenceURL != "" {
		return fmt.Sprintf("url=%s; sha256=%s", req.EvidenceURL, digest)
	}
	return "criteria=" + req.Criteria
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
