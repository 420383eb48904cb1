package core

import (
	"errors"
	"testing"
)

func TestPolicyCheckTool(t *testing.T) {
	p := NewPolicy("get_jira_ticket,search_jira_tickets", "")

	if err := p.CheckTool("get_jira_ticket"); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := p.CheckTool("search_jira_tickets"); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := p.CheckTool("delete_jira_ticket"); err == nil {
		t.Fatal("expected denied for unlisted tool")
	}
}

func TestPolicyEmptyAllowlistAllowsAll(t *testing.T) {
	p := NewPolicy("", "")

	if err := p.CheckTool("any_tool"); err != nil {
		t.Fatalf("expected allowed when allowlist is empty, got %v", err)
	}
	if err := p.CheckProject("ANY"); err != nil {
		t.Fatalf("expected allowed when allowlist is empty, got %v", err)
	}
}

func TestPolicyCheckProjectUsesTicketPrefix(t *testing.T) {
	p := NewPolicy("", " proj , ops ")

	if err := p.CheckProject("PROJ-123"); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := p.CheckProject("ops"); err != nil {
		t.Fatalf("expected allowed after trimming and upper-casing, got %v", err)
	}
	if err := p.CheckProject("HR-7"); err == nil {
		t.Fatal("expected denied for unlisted project")
	}
}

func TestPolicyReadOnlyRefusesMutations(t *testing.T) {
	p := NewPolicy("", "")
	p.SetReadOnly(true)

	call := ToolCall{Tool: "delete_jira_ticket", Arguments: map[string]string{"ticket_id": "PROJ-1"}}
	err := p.Check(call, true)
	if err == nil {
		t.Fatal("expected read-only denial")
	}
	var pe *PolicyError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PolicyError, got %T", err)
	}
	if err := p.Check(ToolCall{Tool: "get_jira_ticket"}, false); err != nil {
		t.Fatalf("reads should pass in read-only mode: %v", err)
	}
}

func TestPolicyScopeWrapsTicketSearch(t *testing.T) {
	p := NewPolicy("", "proj,ops")

	tests := []struct {
		jql  string
		want string
	}{
		{jql: "", want: "project in (OPS, PROJ)"},
		{jql: "status = Done", want: "project in (OPS, PROJ) AND (status = Done)"},
		{jql: "project = HR OR status = Done", want: "project in (OPS, PROJ) AND (project = HR OR status = Done)"},
		{jql: "status = Done ORDER BY created DESC", want: "project in (OPS, PROJ) AND (status = Done) ORDER BY created DESC"},
		{jql: "order by key", want: "project in (OPS, PROJ) order by key"},
		{jql: `summary ~ "sort order by hand"`, want: `project in (OPS, PROJ) AND (summary ~ "sort order by hand")`},
	}
	for _, tt := range tests {
		call := ToolCall{Tool: "search_jira_tickets", Arguments: map[string]string{"jql_query": tt.jql, "max_results": "5"}}
		got := p.Scope(call)
		if got.Arg("jql_query") != tt.want {
			t.Fatalf("Scope(%q) = %q, want %q", tt.jql, got.Arg("jql_query"), tt.want)
		}
		if got.Arg("max_results") != "5" {
			t.Fatalf("Scope dropped max_results: %v", got.Arguments)
		}
		if call.Arguments["jql_query"] != tt.jql {
			t.Fatalf("Scope modified its input: %q", call.Arguments["jql_query"])
		}
	}
}

func TestPolicyScopeLeavesOtherCallsAlone(t *testing.T) {
	open := NewPolicy("", "")
	call := ToolCall{Tool: "search_jira_tickets", Arguments: map[string]string{"jql_query": "status = Done"}}
	if got := open.Scope(call); got.Arg("jql_query") != "status = Done" {
		t.Fatalf("empty allowlist rewrote jql to %q", got.Arg("jql_query"))
	}

	scoped := NewPolicy("", "PROJ")
	get := ToolCall{Tool: "get_jira_ticket", Arguments: map[string]string{"ticket_id": "PROJ-1"}}
	if got := scoped.Scope(get); got.Arg("ticket_id") != "PROJ-1" || len(got.Arguments) != 1 {
		t.Fatalf("Scope changed a non-search call: %v", got.Arguments)
	}
}

func TestPolicyPageSearchNeedsSpaceUnderAllowlist(t *testing.T) {
	p := NewPolicy("", "ENG")

	var pe *PolicyError
	err := p.Check(ToolCall{Tool: "search_confluence_pages", Arguments: map[string]string{"query": "runbook"}}, false)
	if !errors.As(err, &pe) {
		t.Fatalf("expected PolicyError without space_key, got %v", err)
	}
	err = p.Check(ToolCall{Tool: "search_confluence_pages", Arguments: map[string]string{"query": "runbook", "space_key": "OPS"}}, false)
	if !errors.As(err, &pe) {
		t.Fatalf("expected PolicyError for unlisted space, got %v", err)
	}
	if err := p.Check(ToolCall{Tool: "search_confluence_pages", Arguments: map[string]string{"query": "runbook", "space_key": "eng"}}, false); err != nil {
		t.Fatalf("expected allowed space, got %v", err)
	}
	if err := NewPolicy("", "").Check(ToolCall{Tool: "search_confluence_pages", Arguments: map[string]string{"query": "x"}}, false); err != nil {
		t.Fatalf("open policy should not need a space: %v", err)
	}
}
