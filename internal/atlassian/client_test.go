package atlassian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

func newTestClient(t *testing.T, h http.Handler, creds Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Credentials: creds, RatePerSecond: 1000, Burst: 100})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

var basicCreds = Credentials{Email: "bot@example.com", APIToken: "tok"}

func TestNewClientRequiresCompleteCredentials(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "https://x.atlassian.net", Credentials: Credentials{Email: "a@b.c"}}); err == nil {
		t.Fatal("expected error for incomplete credentials")
	}
	if _, err := NewClient(Config{BaseURL: "not a url", Credentials: basicCreds}); err == nil {
		t.Fatal("expected error for invalid base url")
	}
}

func TestCredentialsKind(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  AuthKind
	}{
		{name: "basic", creds: basicCreds, want: AuthBasic},
		{name: "bearer", creds: Credentials{PersonalAccessToken: "pat"}, want: AuthBearer},
		{name: "connect", creds: Credentials{ConnectAppKey: "app", ConnectSharedSecret: "s"}, want: AuthConnectJWT},
		{name: "email only", creds: Credentials{Email: "a@b.c"}, want: ""},
		{name: "empty", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Kind(); got != tt.want {
				t.Fatalf("Kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthHeaders(t *testing.T) {
	var got atomic.Value
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, h, basicCreds)
	if err := c.DeleteIssue(context.Background(), "PROJ-1"); err != nil {
		t.Fatalf("DeleteIssue: %v", err)
	}
	if !strings.HasPrefix(got.Load().(string), "Basic ") {
		t.Fatalf("basic auth header = %q", got.Load())
	}

	c = newTestClient(t, h, Credentials{PersonalAccessToken: "pat-123"})
	if err := c.DeleteIssue(context.Background(), "PROJ-1"); err != nil {
		t.Fatalf("DeleteIssue: %v", err)
	}
	if got.Load().(string) != "Bearer pat-123" {
		t.Fatalf("bearer auth header = %q", got.Load())
	}
}

func TestConnectJWTCarriesQueryStringHash(t *testing.T) {
	secret := "shared-secret"
	var header, path string
	var query url.Values
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		path = r.URL.Path
		query = r.URL.Query()
		w.Write([]byte(`{"issues":[]}`))
	})
	c := newTestClient(t, h, Credentials{ConnectAppKey: "com.example.bot", ConnectSharedSecret: secret})

	if _, err := c.SearchIssues(context.Background(), `project = "PROJ"`, 5); err != nil {
		t.Fatalf("SearchIssues: %v", err)
	}
	if !strings.HasPrefix(header, "JWT ") {
		t.Fatalf("auth header = %q", header)
	}

	var claims connectClaims
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "JWT "), &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse jwt: %v", err)
	}
	if claims.Issuer != "com.example.bot" {
		t.Fatalf("iss = %q", claims.Issuer)
	}
	if want := QueryStringHash(http.MethodGet, path, query); claims.QSH != want {
		t.Fatalf("qsh = %s, want %s", claims.QSH, want)
	}
}

func TestQueryStringHashCanonicalization(t *testing.T) {
	a := QueryStringHash("get", "/rest/api/3/issue/PROJ-1/", url.Values{"b": {"2"}, "a": {"x y"}, "jwt": {"ignored"}})
	b := QueryStringHash("GET", "/rest/api/3/issue/PROJ-1", url.Values{"a": {"x y"}, "b": {"2"}})
	if a != b {
		t.Fatal("equivalent requests hash differently")
	}
	if a == QueryStringHash("POST", "/rest/api/3/issue/PROJ-1", url.Values{"a": {"x y"}, "b": {"2"}}) {
		t.Fatal("method is not part of the hash")
	}
}

func TestRetriesOn429HonoringRetryAfter(t *testing.T) {
	var calls int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"10001","key":"PROJ-9"}`))
	})
	c := newTestClient(t, h, basicCreds)

	created, err := c.CreateIssue(context.Background(), CreateIssueInput{ProjectKey: "PROJ", Summary: "s", Description: "d", IssueType: "Bug"})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if created.Key != "PROJ-9" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("key=%s calls=%d", created.Key, calls)
	}
}

func TestPostIsNotRetriedOn5xx(t *testing.T) {
	var calls int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, h, basicCreds)

	_, err := c.CreateIssue(context.Background(), CreateIssueInput{ProjectKey: "PROJ", Summary: "s", IssueType: "Bug"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("POST retried %d times", calls)
	}
}

func TestGetIsRetriedOn5xx(t *testing.T) {
	var calls int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"key":"PROJ-1","fields":{"summary":"ok"}}`))
	})
	c := newTestClient(t, h, basicCreds)

	issue, err := c.GetIssue(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Fields.Summary != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("summary=%q calls=%d", issue.Fields.Summary, calls)
	}
}

func TestNotFoundIsAPIErrorWithReadableBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errorMessages":["Issue does not exist or you do not have permission to see it."],"errors":{}}`))
	})
	c := newTestClient(t, h, basicCreds)

	_, err := c.GetIssue(context.Background(), "PROJ-404")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	want := "get issue HTTP 404: Issue does not exist or you do not have permission to see it."
	if err.Error() != want {
		t.Fatalf("error = %q", err.Error())
	}
	if info := core.MapError(err, 502); info.Code != core.CodeNotFound {
		t.Fatalf("mapped code = %q", info.Code)
	}
}

func TestMalformedBodyIsDecodeError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway</html>`))
	})
	c := newTestClient(t, h, basicCreds)

	_, err := c.GetPage(context.Background(), "1")
	if err == nil || !strings.Contains(err.Error(), "get page: decode response") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, h, basicCreds)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.GetIssue(ctx, "PROJ-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry ignored context deadline")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": {"3"}}}
	if d := retryAfterDuration(resp); d != 3*time.Second {
		t.Fatalf("retry-after = %v", d)
	}
	resp.Header.Set("Retry-After", "garbage")
	if d := retryAfterDuration(resp); d != 0 {
		t.Fatalf("retry-after = %v", d)
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode body %s: %v", b, err)
	}
	return m
}

func TestRequestPathEscapedOnce(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{name: "site root", base: "", want: "/rest/api/3/issue/A%2FB%201"},
		{name: "context path", base: "/jira", want: "/jira/rest/api/3/issue/A%2FB%201"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.URL.EscapedPath()
				w.Write([]byte(`{"key":"A/B 1","fields":{"summary":"s"}}`))
			}))
			t.Cleanup(srv.Close)
			c, err := NewClient(Config{BaseURL: srv.URL + tt.base, Credentials: basicCreds, RatePerSecond: 1000, Burst: 100})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if c.AuthKind() != AuthBasic {
				t.Fatalf("auth kind = %q", c.AuthKind())
			}
			if _, err := c.GetIssue(context.Background(), "A/B 1"); err != nil {
				t.Fatalf("GetIssue: %v", err)
			}
			if got != tt.want {
				t.Fatalf("escaped path = %q, want %q", got, tt.want)
			}
		})
	}
}
