// Package ollama talks to a local Ollama-compatible completion endpoint.
package ollama

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

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "llama3"
)

type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
	// RatePerMinute caps requests; zero means unlimited.
	RatePerMinute int
	HTTPClient    *http.Client
}

type Client struct {
	endpoint string
	model    string
	timeout  time.Duration
	limiter  *rate.Limiter
	client   *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("invalid completion endpoint %q", cfg.Endpoint)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{endpoint: endpoint, model: model, timeout: timeout, limiter: limiter, client: hc}, nil
}

func (c *Client) Model() string { return c.model }

// CompletionError is any failure to obtain a completion.
type CompletionError struct {
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion endpoint returned HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion request failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error     { return e.Err }
func (e *CompletionError) ErrorCode() string { return core.CodeCompletionFailure }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate sends prompt for a single non-streaming completion and returns the
// model's response text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", &CompletionError{Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	})
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	telemetry.ObserveCompletionDuration(time.Since(start))
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &CompletionError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &CompletionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", truncate(string(raw), 256))}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &CompletionError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != "" {
		return "", &CompletionError{Err: fmt.Errorf("%s", out.Error)}
	}
	return out.Response, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
