package registry

import "strings"

// InputSchema returns the MCP inputSchema for spec: an object whose
// properties are all strings.
func InputSchema(spec ToolSpec) map[string]any {
	props := make(map[string]any, len(spec.Required)+len(spec.Optional))
	for _, a := range append(append([]string(nil), spec.Required...), spec.Optional...) {
		p := map[string]any{"type": "string"}
		if h := argHelp[a]; h != "" {
			p["description"] = h
		}
		if a == "max_results" {
			p["pattern"] = "^[0-9]+$"
		}
		props[a] = p
	}
	required := spec.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// ToolDefinitions returns the MCP tools/list payload.
func ToolDefinitions() []map[string]any {
	out := make([]map[string]any, 0, len(catalogue))
	for _, s := range catalogue {
		out = append(out, map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"inputSchema": InputSchema(s),
		})
	}
	return out
}

// Describe renders the human-readable tool listing, one tool per line with
// its arguments. Optional arguments are bracketed.
func Describe() string {
	var b strings.Builder
	for _, s := range catalogue {
		b.WriteString("- ")
		b.WriteString(s.Name)
		b.WriteString("(")
		args := make([]string, 0, len(s.Required)+len(s.Optional))
		args = append(args, s.Required...)
		for _, o := range s.Optional {
			args = append(args, "["+o+"]")
		}
		b.WriteString(strings.Join(args, ", "))
		b.WriteString("): ")
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	return b.String()
}

// Usage returns the direct-syntax usage line for a tool,
// e.g. "get_jira_ticket <ticket_id>".
func Usage(spec ToolSpec) string {
	parts := []string{spec.Name}
	for _, a := range spec.Required {
		parts = append(parts, "<"+a+">")
	}
	for _, o := range spec.Optional {
		parts = append(parts, "["+o+"=...]")
	}
	return strings.Join(parts, " ")
}
