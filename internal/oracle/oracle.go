package oracle

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Classifier answers a classification prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// PageFetcher retrieves evidence pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// Oracle joins a page fetcher and a classifier into a domain.Oracle.
type Oracle struct {
	Pages PageFetcher
	Model Classifier
}

// New creates an Oracle.
func New(pages PageFetcher, model Classifier) *Oracle {
	return &Oracle{Pages: pages, Model: model}
}

func (o *Oracle) Classify(ctx context.Context, prompt string) (string, error) {
	return o.Model.Classify(ctx, prompt)
}

func (o *Oracle) FetchPage(ctx context.Context, url string) (string, error) {
	return o.Pages.FetchPage(ctx, url)
}

// Fixed answers every prompt with the same verdict. It stands in for the
// model in development deployments and still fetches real pages when a
// fetcher is set.
type Fixed struct {
	Answer string
	Pages  PageFetcher
}

// NewFixed creates a Fixed oracle answering outcome.
func NewFixed(outcome domain.Outcome, pages PageFetcher) (*Fixed, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("oracle: fixed outcome %q: %w", outcome, domain.ErrInvalidOutcome)
	}
	return &Fixed{Answer: string(outcome), Pages: pages}, nil
}

func (f *Fixed) Classify(context.Context, string) (string, error) {
	return f.Answer, nil
}

func (f *Fixed) FetchPage(ctx context.Context, url string) (string, error) {
	if f.Pages == nil {
		return "", nil
	}
	return f.Pages.FetchPage(ctx, url)
}

var (
	_ domain.Oracle = (*Oracle)(nil)
	_ domain.Oracle = (*Fixed)(nil)
)
