package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultModelRPS = 2.0

// Model sends prompts to an OpenAI-compatible chat completions endpoint.
type Model struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithModelClient sets a custom HTTP client.
func WithModelClient(c *http.Client) ModelOption {
	return func(m *Model) { m.httpClient = c }
}

// WithModelRate paces completion requests.
func WithModelRate(rps float64, burst int) ModelOption {
	return func(m *Model) {
		if rps > 0 {
			m.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// NewModel creates a Model for baseURL (e.g. "https://api.openai.com/v1").
func NewModel(baseURL, apiKey, model string, opts ...ModelOption) *Model {
	m := &Model{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultModelRPS), 4),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Classify returns the model's raw answer to prompt.
func (m *Model) Classify(ctx context.Context, prompt string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle/model: rate limit: %w", err)
	}

	payload, err := json.Marshal(chatRequest{
		Model:     m.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: 8,
	})
	if err != nil {
		return "", fmt.Errorf("oracle/model: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("oracle/model: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle/model: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("oracle/model: read response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("oracle/model: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("oracle/model: status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("oracle/model: empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
