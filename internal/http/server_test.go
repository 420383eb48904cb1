package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/executor"
	"github.com/atlasbridge/atlasbridge/internal/mockstore"
	"github.com/atlasbridge/atlasbridge/internal/pipeline"
	"github.com/atlasbridge/atlasbridge/internal/resolver"
)

type recordingHandler struct {
	got   []pipeline.Command
	reply pipeline.Reply
}

func (h *recordingHandler) Handle(_ context.Context, cmd pipeline.Command) pipeline.Reply {
	h.got = append(h.got, cmd)
	return h.reply
}

type execInvoker struct{ ex *executor.Executor }

func (i execInvoker) Invoke(ctx context.Context, call core.ToolCall) string {
	return i.ex.Execute(ctx, call).Marshal()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newPipelineServer(t *testing.T) (*Server, *core.AuditService) {
	t.Helper()
	ex, err := executor.New(executor.NewMockBackend(mockstore.New()), quietLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	audit := core.NewAuditService(nil)
	res := resolver.New(nil, resolver.Config{}, quietLogger())
	svc := pipeline.New(res, execInvoker{ex: ex}, audit, nil, quietLogger(), pipeline.Options{})
	return NewServer("127.0.0.1:0", svc, audit, quietLogger(), BuildInfo{}), audit
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestCommandEndpointPassesCommandThrough(t *testing.T) {
	h := &recordingHandler{reply: pipeline.Reply{Text: "done", Tool: "get_jira_ticket", Success: true, Outcome: "ok", CommandID: "c-1"}}
	s := NewServer("127.0.0.1:0", h, nil, quietLogger(), BuildInfo{})

	rr := do(t, s, http.MethodPost, "/api/v1/commands", `{"text":"get_jira_ticket PROJ-1","event_id":"Ev1","user":"U1","channel":"C1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(h.got) != 1 || h.got[0].EventID != "Ev1" || h.got[0].Channel != "C1" || h.got[0].User != "U1" {
		t.Fatalf("unexpected command: %+v", h.got)
	}

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["reply"] != "done" || got["tool"] != "get_jira_ticket" || got["success"] != true || got["command_id"] != "c-1" {
		t.Fatalf("unexpected response: %v", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestCommandEndpointRejectsBadBodies(t *testing.T) {
	h := &recordingHandler{}
	s := NewServer("127.0.0.1:0", h, nil, quietLogger(), BuildInfo{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{name: "not json", body: `text=hi`, code: "invalid_request_schema"},
		{name: "unknown field", body: `{"text":"help","extra":1}`, code: "invalid_request_schema"},
		{name: "two objects", body: `{"text":"help"}{"text":"help"}`, code: "invalid_request_schema"},
		{name: "empty text", body: `{"text":"   "}`, code: "invalid_request_schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/v1/commands", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			var got map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got["code"] != tt.code {
				t.Fatalf("code = %q", got["code"])
			}
		})
	}
	if len(h.got) != 0 {
		t.Fatalf("handler should not run for bad bodies, got %d calls", len(h.got))
	}
}

func TestCommandEndpointRunsPipelineAndRecordsHistory(t *testing.T) {
	s, _ := newPipelineServer(t)

	rr := do(t, s, http.MethodPost, "/api/v1/commands", `{"text":"get_jira_ticket PROJ-123","user":"U1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var reply pipeline.Reply
	if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !reply.Success || !strings.Contains(reply.Text, "PROJ-123") || reply.CommandID == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/commands?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d", rr.Code)
	}
	var history struct {
		Commands []commandView `json:"commands"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Commands) != 1 || history.Commands[0].CommandID != reply.CommandID || history.Commands[0].ToolName != "get_jira_ticket" {
		t.Fatalf("unexpected history: %+v", history.Commands)
	}

	rr = do(t, s, http.MethodGet, "/api/v1/commands/"+reply.CommandID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get command status = %d", rr.Code)
	}
	var one commandView
	if err := json.Unmarshal(rr.Body.Bytes(), &one); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if one.Text != "get_jira_ticket PROJ-123" || one.Reply != reply.Text || one.UserID != "U1" {
		t.Fatalf("unexpected command: %+v", one)
	}
	if rr := do(t, s, http.MethodGet, "/api/v1/commands/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown command status = %d", rr.Code)
	}

	if rr := do(t, s, http.MethodGet, "/api/v1/commands?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestToolsEndpointListsCatalogue(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil, quietLogger(), BuildInfo{})
	rr := do(t, s, http.MethodGet, "/api/v1/tools", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var got struct {
		Tools []toolView `json:"tools"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Tools) != 10 {
		t.Fatalf("expected 10 tools, got %d", len(got.Tools))
	}
	byName := map[string]toolView{}
	for _, tool := range got.Tools {
		byName[tool.Name] = tool
	}
	del, ok := byName["delete_jira_ticket"]
	if !ok || !del.Mutating || del.Domain != "jira" {
		t.Fatalf("unexpected delete_jira_ticket entry: %+v", del)
	}
	if get := byName["get_jira_ticket"]; get.Mutating || get.Usage != "get_jira_ticket <ticket_id>" {
		t.Fatalf("unexpected get_jira_ticket entry: %+v", get)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s, _ := newPipelineServer(t)
	do(t, s, http.MethodPost, "/api/v1/commands", `{"text":"help"}`)

	if rr := do(t, s, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}
	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "atlasbridge_commands_total") {
		t.Fatalf("metrics missing command counter:\n%s", rr.Body.String())
	}
}

func TestEndpointsWithoutBackends(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil, nil, quietLogger(), BuildInfo{})
	if rr := do(t, s, http.MethodPost, "/api/v1/commands", `{"text":"help"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("commands status = %d", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/api/v1/commands", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("history status = %d", rr.Code)
	}
}
