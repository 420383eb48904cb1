package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/atlasbridge/atlasbridge/internal/atlassian"
	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/executor"
)

// promptCompleter answers like a model would for the scenario texts.
type promptCompleter struct {
	replies map[string]string
	prompts []string
}

func (p *promptCompleter) Generate(_ context.Context, prompt string) (string, error) {
	p.prompts = append(p.prompts, prompt)
	for text, reply := range p.replies {
		if strings.HasSuffix(prompt, "Request: "+text+"\nReply: ") {
			return reply, nil
		}
	}
	return `{"tool":"none","arguments":{}}`, nil
}

func TestScenarioGetTicketFromPlainText(t *testing.T) {
	model := &promptCompleter{replies: map[string]string{
		"Get ticket PROJ-123": `{"tool":"get_jira_ticket","arguments":{"ticket_id":"PROJ-123"}}`,
	}}
	svc := newService(model, newLocalInvoker(t), nil)

	reply := svc.Handle(context.Background(), Command{Text: "Get ticket PROJ-123"})
	if !reply.Success || reply.Tool != "get_jira_ticket" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.Text, "PROJ-123") {
		t.Fatalf("reply should name the ticket:\n%s", reply.Text)
	}
	if len(model.prompts) != 1 || !strings.Contains(model.prompts[0], "get_jira_ticket(ticket_id)") {
		t.Fatalf("prompt should carry the tool listing: %q", model.prompts)
	}
}

func TestScenarioCreateBugWithDefaultProject(t *testing.T) {
	model := &promptCompleter{replies: map[string]string{
		"Create a bug ticket for login issues": `{"tool":"create_jira_ticket","arguments":{"project_key":"PROJ","summary":"login issues","description":"login issues","issue_type":"Bug"}}`,
	}}
	svc := newService(model, newLocalInvoker(t), nil)

	reply := svc.Handle(context.Background(), Command{Text: "Create a bug ticket for login issues"})
	if !reply.Success {
		t.Fatalf("unexpected failure: %+v", reply)
	}
	if !regexp.MustCompile(`PROJ-\d+`).MatchString(reply.Text) || !strings.Contains(reply.Text, "https://") {
		t.Fatalf("confirmation should carry the new id and url:\n%s", reply.Text)
	}
	if !strings.Contains(model.prompts[0], "use project_key PROJ") {
		t.Fatalf("prompt should carry the default project:\n%s", model.prompts[0])
	}
}

func TestScenarioLiveNotFoundBecomesErrorLine(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`))
	}))
	defer api.Close()

	client, err := atlassian.NewClient(atlassian.Config{
		BaseURL:     api.URL,
		Credentials: atlassian.Credentials{Email: "bot@example.com", APIToken: "token"},
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ex, err := executor.New(executor.NewLiveBackend(client), quietLogger())
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	svc := newService(nil, &localInvoker{ex: ex}, nil)

	reply := svc.Handle(context.Background(), Command{Text: "get_jira_ticket PROJ-404"})
	if reply.Success || reply.Code != core.CodeNotFound {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if strings.Contains(reply.Text, "\n") || !strings.HasPrefix(reply.Text, ":x: get_jira_ticket failed:") {
		t.Fatalf("expected one error line naming the tool, got %q", reply.Text)
	}
}

func TestMalformedModelReplyIsNoMatch(t *testing.T) {
	inv := newLocalInvoker(t)
	svc := newService(staticCompleter{reply: "I think you want the ticket tool"}, inv, nil)
	reply := svc.Handle(context.Background(), Command{Text: "do the thing"})
	if reply.Outcome != "no_match" || reply.Code != core.CodeParseFailure {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if inv.calls.Load() != 0 {
		t.Fatal("a malformed reply must not reach the executor")
	}
}
