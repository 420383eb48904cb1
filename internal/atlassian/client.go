// Package atlassian is a small client for the Jira Cloud REST v3 and
// Confluence content APIs used by the live executor backend.
package atlassian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/atlasbridge/atlasbridge/internal/telemetry"
)

const (
	defaultMaxAttempts   = 4
	defaultRatePerSecond = 10
	defaultBurst         = 5
	maxErrorBody         = 512
)

// Config describes how to reach one Atlassian site.
type Config struct {
	BaseURL     string
	Credentials Credentials
	// RatePerSecond bounds outgoing requests; zero uses a default.
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	HTTPClient    *http.Client
}

type Client struct {
	baseURL     *url.URL
	auth        authenticator
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("atlassian base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid atlassian base url %q", cfg.BaseURL)
	}
	auth, err := newAuthenticator(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:     u,
		auth:        auth,
		httpClient:  hc,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		maxAttempts: attempts,
	}, nil
}

// AuthKind reports which credential set the client signs requests with.
func (c *Client) AuthKind() AuthKind {
	return c.auth.kind()
}

// BaseURL returns the site URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doAPI sends one request. path is already escaped.
func (c *Client) doAPI(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := *c.baseURL
	escaped := c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u.Path, u.RawPath = unescaped, escaped
	u.RawQuery = query.Encode()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	if err := c.auth.sign(req, path, query); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// do sends one logical request with retries on 429 and, for idempotent
// methods, on 5xx and network errors. out, when non-nil, receives the
// decoded 2xx body.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		body = b
	}
	idempotent := method != http.MethodPost

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}

		resp, err := c.doAPI(ctx, method, path, query, body)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", operation, err)
			if idempotent && attempt < c.maxAttempts && isRetryableError(err) {
				if !sleepWithBackoff(ctx, attempt, 0) {
					return ctx.Err()
				}
				continue
			}
			return lastErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out == nil || resp.StatusCode == http.StatusNoContent {
				io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%s: decode response: %w", operation, err)
			}
			return nil
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("%s HTTP %d and read body failed: %w", operation, resp.StatusCode, readErr)
		} else {
			telemetry.IncAtlassianAPIError(operation, resp.StatusCode)
			lastErr = &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: summarizeErrorBody(raw)}
		}

		retryAfter := retryAfterDuration(resp)
		if attempt < c.maxAttempts && isRetryableStatus(resp.StatusCode, idempotent) {
			if !sleepWithBackoff(ctx, attempt, retryAfter) {
				return ctx.Err()
			}
			continue
		}
		return lastErr
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s failed", operation)
	}
	return lastErr
}

// summarizeErrorBody extracts the readable messages from Jira
// ({"errorMessages":[..],"errors":{..}}) and Confluence ({"message":..})
// error bodies, falling back to the truncated raw text.
func summarizeErrorBody(raw []byte) string {
	var parsed struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
		Message       string            `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		var parts []string
		parts = append(parts, parsed.ErrorMessages...)
		for _, k := range sortedKeys(parsed.Errors) {
			parts = append(parts, k+": "+parsed.Errors[k])
		}
		if parsed.Message != "" {
			parts = append(parts, parsed.Message)
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

func isRetryableStatus(code int, idempotent bool) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return idempotent && code >= 500 && code <= 599
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryAfterDuration(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}

func sleepWithBackoff(ctx context.Context, attempt int, retryAfter time.Duration) bool {
	base := 250 * time.Millisecond
	ceiling := 5 * time.Second
	backoff := base * time.Duration(1<<(attempt-1))
	if backoff > ceiling {
		backoff = ceiling
	}
	jitter := time.Duration(rand.Intn(200)) * time.Millisecond
	wait := backoff + jitter
	if retryAfter > wait {
		wait = retryAfter
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
