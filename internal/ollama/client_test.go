package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

func TestGenerateSendsNonStreamingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tiny", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, "hello", req.Prompt)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: `{"tool":"none"}`, Done: true})
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL + "/", Model: "tiny"})
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"tool":"none"}`, out)
}

func TestGenerateHTTPErrorIsCompletionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "x")
	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, http.StatusNotFound, ce.StatusCode)
	assert.Equal(t, core.CodeCompletionFailure, core.MapError(err, 500).Code)
}

func TestGenerateTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNewClientRejectsBadEndpoint(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:11434"})
	require.Error(t, err)

	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
}
