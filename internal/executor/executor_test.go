package executor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/atlasbridge/atlasbridge/internal/atlassian"
	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/mockstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newMockExecutor(t *testing.T) *Executor {
	t.Helper()
	ex, err := New(NewMockBackend(mockstore.New()), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ex
}

func call(tool string, kv ...string) core.ToolCall {
	args := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		args[kv[i]] = kv[i+1]
	}
	return core.ToolCall{Tool: tool, Arguments: args}
}

func TestMockGetTicketReturnsSeedData(t *testing.T) {
	ex := newMockExecutor(t)
	env := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "PROJ-123"))
	if !env.Success || env.Shape != core.ShapeSingle {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	e := env.Entity
	if e.Title != "This is a sample ticket summary from mock mode." || e.Status != "In Progress" {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if e.Extra["assignee"] != "Mock User" {
		t.Fatalf("assignee = %q", e.Extra["assignee"])
	}
	if e.URL != "https://mock-jira.com/browse/PROJ-123" {
		t.Fatalf("url = %q", e.URL)
	}
}

func TestMockGetUnknownTicket(t *testing.T) {
	ex := newMockExecutor(t)
	env := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "NOPE-1"))
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Code != core.CodeNotFound {
		t.Fatalf("code = %q", env.Code)
	}
	if env.Error != "Ticket 'NOPE-1' not found in mock data." {
		t.Fatalf("error = %q", env.Error)
	}
}

func TestMockCreateThenGet(t *testing.T) {
	ex := newMockExecutor(t)
	ctx := context.Background()
	created := ex.Execute(ctx, call("create_jira_ticket",
		"project_key", "PROJ", "summary", "Checkout times out",
		"description", "Payment step spins forever", "issue_type", "Bug"))
	if !created.Success || created.Shape != core.ShapeAck {
		t.Fatalf("create: %+v", created)
	}
	if created.Ack.ID != "PROJ-126" || created.Ack.Action != "created" {
		t.Fatalf("unexpected ack: %+v", created.Ack)
	}
	if !strings.Contains(created.Ack.Message, "Created Bug PROJ-126") {
		t.Fatalf("message = %q", created.Ack.Message)
	}

	got := ex.Execute(ctx, call("get_jira_ticket", "ticket_id", "PROJ-126"))
	if !got.Success || got.Entity.Title != "Checkout times out" || got.Entity.Status != "To Do" {
		t.Fatalf("get after create: %+v", got)
	}
}

func TestMockUpdateRequiresAChange(t *testing.T) {
	ex := newMockExecutor(t)
	env := ex.Execute(context.Background(), call("update_jira_ticket", "ticket_id", "PROJ-123"))
	if env.Success || env.Code != core.CodeValidationFailure {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	env = ex.Execute(context.Background(), call("update_jira_ticket", "ticket_id", "PROJ-123", "status", "Done"))
	if !env.Success || env.Ack.Action != "updated" {
		t.Fatalf("update: %+v", env)
	}
	got := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "PROJ-123"))
	if got.Entity.Status != "Done" {
		t.Fatalf("status after update = %q", got.Entity.Status)
	}
}

func TestMockDeleteIsIdempotent(t *testing.T) {
	ex := newMockExecutor(t)
	ctx := context.Background()
	first := ex.Execute(ctx, call("delete_jira_ticket", "ticket_id", "PROJ-124"))
	second := ex.Execute(ctx, call("delete_jira_ticket", "ticket_id", "PROJ-124"))
	if !first.Success || !second.Success {
		t.Fatalf("deletes should both succeed: %+v / %+v", first, second)
	}
	if !strings.Contains(first.Ack.Message, "deleted") || strings.Contains(first.Ack.Message, "already") {
		t.Fatalf("first message = %q", first.Ack.Message)
	}
	if !strings.Contains(second.Ack.Message, "already deleted") {
		t.Fatalf("second message = %q", second.Ack.Message)
	}
	got := ex.Execute(ctx, call("get_jira_ticket", "ticket_id", "PROJ-124"))
	if got.Success {
		t.Fatal("deleted ticket should not be found")
	}
}

func TestMockSearchAndPages(t *testing.T) {
	ex := newMockExecutor(t)
	ctx := context.Background()

	env := ex.Execute(ctx, call("search_jira_tickets", "jql_query", "project = PROJ AND status = Done"))
	if !env.Success || env.Shape != core.ShapeList || len(env.Entities) != 1 || env.Entities[0].ID != "PROJ-125" {
		t.Fatalf("search: %+v", env)
	}

	empty := ex.Execute(ctx, call("search_jira_tickets", "jql_query", "project = NOPE"))
	if !empty.Success || empty.Shape != core.ShapeList || len(empty.Entities) != 0 {
		t.Fatalf("empty search: %+v", empty)
	}

	pages := ex.Execute(ctx, call("search_confluence_pages", "query", "runbook", "space_key", "ENG"))
	if !pages.Success || len(pages.Entities) == 0 {
		t.Fatalf("page search: %+v", pages)
	}

	page := ex.Execute(ctx, call("get_confluence_page", "page_id", "1002"))
	if !page.Success || page.Entity.Title != "Incident Runbook" || page.Entity.Extra["space_key"] != "ENG" {
		t.Fatalf("get page: %+v", page)
	}
}

func TestValidationFailures(t *testing.T) {
	ex := newMockExecutor(t)
	tests := []struct {
		name string
		call core.ToolCall
		want string
	}{
		{name: "unknown tool", call: call("drop_database"), want: "drop_database"},
		{name: "missing argument", call: call("get_jira_ticket"), want: "ticket_id"},
		{name: "unknown argument", call: call("get_jira_ticket", "ticket_id", "PROJ-1", "color", "red"), want: "color"},
		{name: "non numeric max_results", call: call("search_jira_tickets", "jql_query", "project = PROJ", "max_results", "ten"), want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ex.Execute(context.Background(), tt.call)
			if env.Success {
				t.Fatal("expected failure")
			}
			if env.Code != core.CodeValidationFailure {
				t.Fatalf("code = %q (%s)", env.Code, env.Error)
			}
			if !strings.Contains(env.Error, tt.want) {
				t.Fatalf("error %q should mention %q", env.Error, tt.want)
			}
			if err := env.Validate(); err != nil {
				t.Fatalf("invalid envelope: %v", err)
			}
		})
	}
}

type panickingBackend struct {
	Backend
}

func (panickingBackend) Mode() Mode { return ModeMock }

func (panickingBackend) GetTicket(context.Context, string) (core.Entity, error) {
	panic("boom")
}

func TestExecuteRecoversFromBackendPanic(t *testing.T) {
	ex, err := New(panickingBackend{}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "PROJ-1"))
	if env.Success || env.Code != core.CodeExecutionFailure {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !strings.Contains(env.Error, "get_jira_ticket") {
		t.Fatalf("error = %q", env.Error)
	}
}

func newLiveExecutor(t *testing.T, h http.Handler) *Executor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := atlassian.NewClient(atlassian.Config{
		BaseURL:       srv.URL,
		Credentials:   atlassian.Credentials{Email: "bot@example.com", APIToken: "tok"},
		RatePerSecond: 1000,
		Burst:         100,
		MaxAttempts:   1,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ex, err := New(NewLiveBackend(client), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ex
}

func TestLiveNotFoundBecomesFailureEnvelope(t *testing.T) {
	ex := newLiveExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`)
	}))
	env := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "PROJ-9"))
	if env.Success || env.Code != core.CodeNotFound {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Error != "Ticket 'PROJ-9' not found." {
		t.Fatalf("error = %q", env.Error)
	}
}

func TestLiveDeleteOfMissingIssueSucceeds(t *testing.T) {
	ex := newLiveExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	env := ex.Execute(context.Background(), call("delete_jira_ticket", "ticket_id", "PROJ-9"))
	if !env.Success || !strings.Contains(env.Ack.Message, "already deleted") {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestLiveGetIssueMapsFields(t *testing.T) {
	ex := newLiveExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/rest/api/3/issue/PROJ-1") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"key":"PROJ-1","fields":{"summary":"Fix login","status":{"name":"In Review"},"assignee":{"accountId":"abc","displayName":"Ada"},"issuetype":{"name":"Bug"},"project":{"key":"PROJ"},"description":null}}`)
	}))
	env := ex.Execute(context.Background(), call("get_jira_ticket", "ticket_id", "PROJ-1"))
	if !env.Success {
		t.Fatalf("unexpected failure: %+v", env)
	}
	e := env.Entity
	if e.Title != "Fix login" || e.Status != "In Review" || e.Extra["assignee"] != "Ada" || e.Extra["issue_type"] != "Bug" {
		t.Fatalf("unexpected entity: %+v", e)
	}
	if !strings.HasSuffix(e.URL, "/browse/PROJ-1") {
		t.Fatalf("url = %q", e.URL)
	}
}

func TestLiveServerErrorIsExecutionFailure(t *testing.T) {
	ex := newLiveExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	env := ex.Execute(context.Background(), call("search_jira_tickets", "jql_query", "project = PROJ"))
	if env.Success || env.Code != core.CodeExecutionFailure {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestPolicyScopesTicketSearch(t *testing.T) {
	ex := newMockExecutor(t)
	ex.SetPolicy(core.NewPolicy("", "OPS"))

	env := ex.Execute(context.Background(), call("search_jira_tickets", "jql_query", "status = \"In Progress\" ORDER BY created DESC"))
	if !env.Success {
		t.Fatalf("search failed: %+v", env)
	}
	if len(env.Entities) != 1 || env.Entities[0].ID != "OPS-7" {
		t.Fatalf("search escaped the allowlist: %+v", env.Entities)
	}
}

func TestPolicyChecksPageSpaceByID(t *testing.T) {
	ctx := context.Background()
	ex := newMockExecutor(t)
	ex.SetPolicy(core.NewPolicy("", "OPS"))

	tests := []struct {
		name string
		call core.ToolCall
		want bool
	}{
		{name: "get other space", call: call("get_confluence_page", "page_id", "1001")},
		{name: "update other space", call: call("update_confluence_page", "page_id", "1002", "title", "x")},
		{name: "delete other space", call: call("delete_confluence_page", "page_id", "1001")},
		{name: "create under other space", call: call("create_confluence_page", "space_key", "OPS", "title", "t", "body", "b", "parent_id", "1001")},
		{name: "get allowed space", call: call("get_confluence_page", "page_id", "2001"), want: true},
		{name: "create under allowed space", call: call("create_confluence_page", "space_key", "OPS", "title", "t", "body", "b", "parent_id", "2001"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ex.Execute(ctx, tt.call)
			if env.Success != tt.want {
				t.Fatalf("success = %v, want %v: %+v", env.Success, tt.want, env)
			}
			if !tt.want && env.Code != core.CodePolicyDenied {
				t.Fatalf("code = %q, want %q", env.Code, core.CodePolicyDenied)
			}
		})
	}

	if env := ex.Execute(ctx, call("get_confluence_page", "page_id", "1001")); env.Success {
		t.Fatal("page 1001 should stay hidden")
	}
	if env := ex.Execute(ctx, call("get_confluence_page", "page_id", "9999")); env.Code != core.CodeNotFound {
		t.Fatalf("absent page code = %q", env.Code)
	}
}
