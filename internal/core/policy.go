package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Policy gates resolved tool calls: an optional tool allowlist, an optional
// project/space allowlist, and a read-only switch that refuses mutations.
// Empty allowlists allow everything.
type Policy struct {
	allowedTools    map[string]bool
	allowedProjects map[string]bool
	readOnly        bool
}

// NewPolicy creates a Policy from comma-separated allowlist strings.
func NewPolicy(toolCSV, projectCSV string) *Policy {
	return &Policy{
		allowedTools:    parseCSV(toolCSV),
		allowedProjects: parseUpperCSV(projectCSV),
	}
}

func (p *Policy) SetReadOnly(readOnly bool) {
	p.readOnly = readOnly
}

func (p *Policy) ReadOnly() bool {
	return p.readOnly
}

// Restricted reports whether a project allowlist is in force.
func (p *Policy) Restricted() bool {
	return len(p.allowedProjects) > 0
}

// CheckTool returns an error if toolName is not in the allowlist.
func (p *Policy) CheckTool(toolName string) error {
	if len(p.allowedTools) == 0 {
		return nil
	}
	if !p.allowedTools[toolName] {
		return &PolicyError{Detail: fmt.Sprintf("tool %q not in allowlist", toolName)}
	}
	return nil
}

// CheckProject returns an error if a project or space key is not allowed.
// Ticket ids (PROJ-123) are checked by their project prefix.
func (p *Policy) CheckProject(key string) error {
	if len(p.allowedProjects) == 0 || key == "" {
		return nil
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if i := strings.LastIndex(key, "-"); i > 0 {
		key = key[:i]
	}
	if !p.allowedProjects[key] {
		return &PolicyError{Detail: fmt.Sprintf("project %q not in allowlist", key)}
	}
	return nil
}

// Check applies every rule to a resolved call.
func (p *Policy) Check(call ToolCall, mutating bool) error {
	if err := p.CheckTool(call.Tool); err != nil {
		return err
	}
	if mutating && p.readOnly {
		return &PolicyError{Detail: fmt.Sprintf("tool %q modifies data and the bridge is read-only", call.Tool)}
	}
	for _, arg := range []string{"project_key", "space_key", "ticket_id"} {
		if err := p.CheckProject(call.Arg(arg)); err != nil {
			return err
		}
	}
	if call.Tool == "search_confluence_pages" && len(p.allowedProjects) > 0 && call.Arg("space_key") == "" {
		return &PolicyError{Detail: "search_confluence_pages needs a space_key while a project allowlist is set"}
	}
	return nil
}

// Scope confines a ticket search to the allowed projects by wrapping its JQL
// filter. Other calls, and every call under an empty allowlist, are returned
// unchanged.
func (p *Policy) Scope(call ToolCall) ToolCall {
	if call.Tool != "search_jira_tickets" || len(p.allowedProjects) == 0 {
		return call
	}
	keys := make([]string, 0, len(p.allowedProjects))
	for k := range p.allowedProjects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	filter, order := splitOrderBy(call.Arg("jql_query"))
	jql := "project in (" + strings.Join(keys, ", ") + ")"
	if filter != "" {
		jql += " AND (" + filter + ")"
	}
	if order != "" {
		jql += " " + order
	}

	args := make(map[string]string, len(call.Arguments)+1)
	for k, v := range call.Arguments {
		args[k] = v
	}
	args["jql_query"] = jql
	return ToolCall{Tool: call.Tool, Arguments: args}
}

var orderByRe = regexp.MustCompile(`(?i)\border\s+by\b`)

// splitOrderBy separates a trailing ORDER BY clause from a JQL filter. A
// match inside a quoted string is not a clause.
func splitOrderBy(jql string) (filter, order string) {
	jql = strings.TrimSpace(jql)
	matches := orderByRe.FindAllStringIndex(jql, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		at := matches[i][0]
		if quoted(jql[:at]) {
			continue
		}
		return strings.TrimSpace(jql[:at]), strings.TrimSpace(jql[at:])
	}
	return jql, ""
}

// quoted reports whether the end of prefix falls inside a string literal.
func quoted(prefix string) bool {
	var open byte
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		switch {
		case c == '\\' && open != 0:
			i++
		case open == 0 && (c == '"' || c == '\''):
			open = c
		case c == open:
			open = 0
		}
	}
	return open != 0
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}

func parseUpperCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for item := range parseCSV(s) {
		m[strings.ToUpper(item)] = true
	}
	return m
}
