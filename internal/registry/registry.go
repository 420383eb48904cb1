// Package registry holds the static catalogue of Jira and Confluence tools.
// It is pure and read-only; every other component consults it to build
// prompts, validate calls and advertise tool schemas.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

// ErrNotFound is returned (wrapped) by Resolve for unknown tool names.
var ErrNotFound = errors.New("tool not found")

// Domain groups tools by remote product.
type Domain string

const (
	DomainJira       Domain = "jira"
	DomainConfluence Domain = "confluence"
)

// ToolSpec describes one operation. Required and Optional keep catalogue
// order; positional arguments in the direct command syntax follow Required.
type ToolSpec struct {
	Name        string
	Description string
	Required    []string
	Optional    []string
	Shape       core.ResultShape
	Domain      Domain
	Mutating    bool
}

// Accepts reports whether name is a required or optional argument.
func (s ToolSpec) Accepts(name string) bool {
	for _, a := range s.Required {
		if a == name {
			return true
		}
	}
	for _, a := range s.Optional {
		if a == name {
			return true
		}
	}
	return false
}

var argHelp = map[string]string{
	"ticket_id":   "Jira issue key, e.g. PROJ-123",
	"project_key": "Jira project key, e.g. PROJ",
	"summary":     "one-line ticket summary",
	"description": "ticket description",
	"issue_type":  "Bug, Task, Story or Epic",
	"assignee":    "assignee display name or account id",
	"status":      "target workflow status, e.g. Done",
	"jql_query":   "JQL filter, e.g. project = PROJ AND status = \"In Progress\"",
	"max_results": "maximum number of results (default 20)",
	"page_id":     "Confluence page id",
	"space_key":   "Confluence space key, e.g. ENG",
	"title":       "page title",
	"body":        "page body (plain text or storage format)",
	"parent_id":   "parent page id",
	"query":       "free-text search query",
}

// ArgHelp returns the one-line description of an argument, or "".
func ArgHelp(name string) string {
	return argHelp[name]
}

var catalogue = []ToolSpec{
	{
		Name:        "get_jira_ticket",
		Description: "Get a Jira ticket by its key",
		Required:    []string{"ticket_id"},
		Shape:       core.ShapeSingle,
		Domain:      DomainJira,
	},
	{
		Name:        "create_jira_ticket",
		Description: "Create a new Jira ticket",
		Required:    []string{"project_key", "summary", "description", "issue_type"},
		Optional:    []string{"assignee"},
		Shape:       core.ShapeAck,
		Domain:      DomainJira,
		Mutating:    true,
	},
	{
		Name:        "update_jira_ticket",
		Description: "Update fields of an existing Jira ticket",
		Required:    []string{"ticket_id"},
		Optional:    []string{"summary", "description", "status", "assignee"},
		Shape:       core.ShapeAck,
		Domain:      DomainJira,
		Mutating:    true,
	},
	{
		Name:        "delete_jira_ticket",
		Description: "Delete a Jira ticket",
		Required:    []string{"ticket_id"},
		Shape:       core.ShapeAck,
		Domain:      DomainJira,
		Mutating:    true,
	},
	{
		Name:        "search_jira_tickets",
		Description: "Search Jira tickets with a JQL query",
		Required:    []string{"jql_query"},
		Optional:    []string{"max_results"},
		Shape:       core.ShapeList,
		Domain:      DomainJira,
	},
	{
		Name:        "get_confluence_page",
		Description: "Get a Confluence page by id",
		Required:    []string{"page_id"},
		Shape:       core.ShapeSingle,
		Domain:      DomainConfluence,
	},
	{
		Name:        "create_confluence_page",
		Description: "Create a Confluence page in a space",
		Required:    []string{"space_key", "title", "body"},
		Optional:    []string{"parent_id"},
		Shape:       core.ShapeAck,
		Domain:      DomainConfluence,
		Mutating:    true,
	},
	{
		Name:        "update_confluence_page",
		Description: "Update the title or body of a Confluence page",
		Required:    []string{"page_id"},
		Optional:    []string{"title", "body"},
		Shape:       core.ShapeAck,
		Domain:      DomainConfluence,
		Mutating:    true,
	},
	{
		Name:        "delete_confluence_page",
		Description: "Delete a Confluence page",
		Required:    []string{"page_id"},
		Shape:       core.ShapeAck,
		Domain:      DomainConfluence,
		Mutating:    true,
	},
	{
		Name:        "search_confluence_pages",
		Description: "Search Confluence pages by text",
		Required:    []string{"query"},
		Optional:    []string{"space_key", "max_results"},
		Shape:       core.ShapeList,
		Domain:      DomainConfluence,
	},
}

var byName = func() map[string]int {
	m := make(map[string]int, len(catalogue))
	for i, s := range catalogue {
		if _, dup := m[s.Name]; dup {
			panic("registry: duplicate tool " + s.Name)
		}
		m[s.Name] = i
	}
	return m
}()

// List returns every tool in catalogue order. The slice is a copy.
func List() []ToolSpec {
	out := make([]ToolSpec, len(catalogue))
	for i, s := range catalogue {
		out[i] = clone(s)
	}
	return out
}

// Names returns the tool names in catalogue order.
func Names() []string {
	out := make([]string, len(catalogue))
	for i, s := range catalogue {
		out[i] = s.Name
	}
	return out
}

// Resolve looks up a tool by exact name.
func Resolve(name string) (ToolSpec, error) {
	i, ok := byName[name]
	if !ok {
		return ToolSpec{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return clone(catalogue[i]), nil
}

// Validate checks that call names a known tool and supplies every required
// argument with a non-blank value. Unknown argument names are rejected too.
func Validate(call core.ToolCall) error {
	spec, err := Resolve(call.Tool)
	if err != nil {
		return &core.ValidationError{Detail: err.Error()}
	}
	var missing []string
	for _, a := range spec.Required {
		if call.Arg(a) == "" {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return &core.ValidationError{Tool: spec.Name, Detail: "missing required argument(s): " + strings.Join(missing, ", ")}
	}
	var unknown []string
	for k := range call.Arguments {
		if !spec.Accepts(k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &core.ValidationError{Tool: spec.Name, Detail: "unknown argument(s): " + strings.Join(unknown, ", ")}
	}
	return nil
}

// IsMutating reports whether the named tool changes remote state.
func IsMutating(name string) bool {
	i, ok := byName[name]
	return ok && catalogue[i].Mutating
}

func clone(s ToolSpec) ToolSpec {
	s.Required = append([]string(nil), s.Required...)
	s.Optional = append([]string(nil), s.Optional...)
	return s
}
