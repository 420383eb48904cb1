package resolver

import (
	"encoding/json"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/registry"
)

// Example is one worked phrase-to-call mapping shown to the model.
type Example struct {
	Text      string            `yaml:"text"`
	Tool      string            `yaml:"tool"`
	Arguments map[string]string `yaml:"arguments"`
}

func DefaultExamples() []Example {
	return []Example{
		{Text: "show me PROJ-123", Tool: "get_jira_ticket", Arguments: map[string]string{"ticket_id": "PROJ-123"}},
		{
			Text: "file a bug in PROJ: login page returns 500 when the password is wrong",
			Tool: "create_jira_ticket",
			Arguments: map[string]string{
				"project_key": "PROJ",
				"summary":     "Login page returns 500 on wrong password",
				"description": "The login page returns HTTP 500 when the password is wrong.",
				"issue_type":  "Bug",
			},
		},
		{Text: "move PROJ-7 to Done", Tool: "update_jira_ticket", Arguments: map[string]string{"ticket_id": "PROJ-7", "status": "Done"}},
		{Text: "what's open in PROJ?", Tool: "search_jira_tickets", Arguments: map[string]string{"jql_query": "project = PROJ AND status != Done"}},
		{Text: "find the onboarding docs in ENG", Tool: "search_confluence_pages", Arguments: map[string]string{"query": "onboarding", "space_key": "ENG"}},
		{Text: "open confluence page 1001", Tool: "get_confluence_page", Arguments: map[string]string{"page_id": "1001"}},
		{Text: "tell me a joke", Tool: "none", Arguments: map[string]string{}},
	}
}

// BuildPrompt assembles the instructions, tool listing, worked examples,
// defaults and user text sent to the model.
func BuildPrompt(text string, cfg Config) string {
	examples := cfg.Examples
	if len(examples) == 0 {
		examples = DefaultExamples()
	}

	var b strings.Builder
	b.WriteString("You translate chat requests into exactly one tool call for a Jira and Confluence assistant.\n")
	b.WriteString("Reply with a single JSON object of the form {\"tool\": \"<name>\", \"arguments\": {\"<arg>\": \"<string value>\"}} and nothing else.\n")
	b.WriteString("Use only the tools and argument names listed below. Bracketed arguments are optional; omit them unless the request mentions them.\n")
	b.WriteString("If no tool fits the request, reply {\"tool\": \"none\", \"arguments\": {}}.\n\n")

	b.WriteString("Tools:\n")
	b.WriteString(registry.Describe())
	b.WriteString("\n")

	if cfg.DefaultProject != "" || cfg.DefaultSpace != "" {
		b.WriteString("Defaults:\n")
		if cfg.DefaultProject != "" {
			b.WriteString("- when no Jira project is named, use project_key " + cfg.DefaultProject + "\n")
		}
		if cfg.DefaultSpace != "" {
			b.WriteString("- when no Confluence space is named, use space_key " + cfg.DefaultSpace + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Examples:\n")
	for _, ex := range examples {
		args := ex.Arguments
		if args == nil {
			args = map[string]string{}
		}
		out, err := json.Marshal(struct {
			Tool      string            `json:"tool"`
			Arguments map[string]string `json:"arguments"`
		}{ex.Tool, args})
		if err != nil {
			continue
		}
		b.WriteString("Request: " + ex.Text + "\n")
		b.WriteString("Reply: " + string(out) + "\n")
	}

	b.WriteString("\nRequest: " + strings.TrimSpace(text) + "\n")
	b.WriteString("Reply: ")
	return b.String()
}
