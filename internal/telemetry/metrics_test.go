package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestRenderPrometheus_LabelOrderingStable(t *testing.T) {
	defaultRegistry = newRegistry()

	IncToolCall("search_jira_tickets", "ok")
	IncToolCall("get_jira_ticket", "fail")
	IncResolverOutcome("model", "no_match")
	IncResolverOutcome("help", "help")
	IncBridgeFailure("initialize")
	IncBridgeFailure("call")
	IncAtlassianAPIError("get issue", 404)
	IncAtlassianAPIError("get issue", 401)

	out := RenderPrometheus()

	get := strings.Index(out, `atlasbridge_tool_calls_total{tool="get_jira_ticket",status="fail"} 1`)
	search := strings.Index(out, `atlasbridge_tool_calls_total{tool="search_jira_tickets",status="ok"} 1`)
	if get < 0 || search < 0 {
		t.Fatal("tool call metrics missing from output")
	}
	if get >= search {
		t.Fatal("tool labels are not rendered in stable lexical order")
	}

	help := strings.Index(out, `atlasbridge_resolver_outcomes_total{path="help",outcome="help"} 1`)
	model := strings.Index(out, `atlasbridge_resolver_outcomes_total{path="model",outcome="no_match"} 1`)
	if help < 0 || model < 0 || help >= model {
		t.Fatalf("resolver outcomes missing or unordered:\n%s", out)
	}

	call := strings.Index(out, `atlasbridge_bridge_failures_total{stage="call"} 1`)
	initialize := strings.Index(out, `atlasbridge_bridge_failures_total{stage="initialize"} 1`)
	if call < 0 || initialize < 0 || call >= initialize {
		t.Fatal("bridge failure metrics missing or unordered")
	}

	s401 := strings.Index(out, `atlasbridge_atlassian_api_errors_total{operation="get issue",status_code="401"} 1`)
	s404 := strings.Index(out, `atlasbridge_atlassian_api_errors_total{operation="get issue",status_code="404"} 1`)
	if s401 < 0 || s404 < 0 || s401 >= s404 {
		t.Fatal("api error status codes missing or unordered")
	}
}

func TestObserveToolDurationBuckets(t *testing.T) {
	defaultRegistry = newRegistry()

	ObserveToolDuration("get_jira_ticket", 50*time.Millisecond)
	ObserveToolDuration("get_jira_ticket", 90*time.Second)
	ObserveCompletionDuration(3 * time.Second)

	out := RenderPrometheus()
	for _, want := range []string{
		`atlasbridge_tool_duration_seconds_bucket{tool="get_jira_ticket",le="0.1"} 1`,
		`atlasbridge_tool_duration_seconds_bucket{tool="get_jira_ticket",le="+Inf"} 1`,
		`atlasbridge_completion_duration_seconds_bucket{le="5"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestCommandAndReplayCounters(t *testing.T) {
	defaultRegistry = newRegistry()

	IncCommand("ok")
	IncCommand("ok")
	IncEventReplay()

	out := RenderPrometheus()
	if !strings.Contains(out, `atlasbridge_commands_total{outcome="ok"} 2`) {
		t.Fatal("command counter missing")
	}
	if !strings.Contains(out, "atlasbridge_event_replays_total 1") {
		t.Fatal("replay counter missing")
	}
}
