// Package oracle implements domain.Oracle: a rate-limited web page fetcher
// that reduces HTML to visible text, and an OpenAI-compatible chat model
// that answers the YES/NO prompt.
package oracle

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	defaultFetchRPS   = 5.0
	defaultFetchBurst = 2
	defaultMaxPage    = 2 << 20
	userAgent         = "wagerd/1.0 (+evidence fetcher)"
)

// Fetcher retrieves evidence pages as plain text.
type Fetcher struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetchClient sets a custom HTTP client.
func WithFetchClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithFetchRate paces outbound requests.
func WithFetchRate(rps float64, burst int) FetcherOption {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithFetchTimeout bounds one page download, body included.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithMaxPageBytes caps how much of a response body is read.
func WithMaxPageBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(rate.Limit(defaultFetchRPS), defaultFetchBurst),
		maxBytes: defaultMaxPage,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPage downloads url and returns its visible text. HTML is stripped of
// markup, scripts and styles; other text content types are returned as is.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle/fetch: rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("oracle/fetch: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle/fetch: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("oracle/fetch: %s returned status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "" && mediaType != "text/html" && mediaType != "application/xhtml+xml" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("oracle/fetch: read body: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	text, err := ExtractText(body)
	if err != nil {
		return "", fmt.Errorf("oracle/fetch: parse html: %w", err)
	}
	return text, nil
}

// ExtractText returns the visible text of an HTML document with runs of
// whitespace collapsed to single spaces.
func ExtractText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return strings.Join(strings.Fields(b.String()), " "), nil
		case html.StartTagToken:
			if hidden(z) {
				skip++
			}
		case html.EndTagToken:
			if hidden(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func hidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "noscript", "template", "head":
		return true
	}
	return false
}
