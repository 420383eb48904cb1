// Package format turns executor replies into chat text. Every input, however
// malformed, produces a non-empty line.
package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/registry"
)

const (
	NoMatchText   = "Sorry, I didn't understand that command. Please use the format: `<tool_name> <arguments...>`"
	maxSnippetLen = 300

	maxListSnippetLen = 120
)

// Render formats the raw reply text of one tool call. Replies that are not a
// strict envelope go through the relaxed parser and then the raw fallback.
func Render(tool, raw string) string {
	if env, err := core.DecodeEnvelope(raw); err == nil {
		return RenderEnvelope(tool, env)
	}
	if obj, ok := relaxedObject(raw); ok {
		if env, ok := adaptObject(obj); ok {
			return RenderEnvelope(tool, env)
		}
		return renderObject(tool, obj)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		text = "(no output)"
	}
	return fmt.Sprintf("%s: %s", tool, text)
}

func RenderEnvelope(tool string, env core.ResultEnvelope) string {
	if !env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Sprintf(":x: %s failed: %s", tool, msg)
	}
	switch env.Shape {
	case core.ShapeAck:
		if env.Ack != nil {
			return renderAck(tool, *env.Ack)
		}
	case core.ShapeSingle:
		if env.Entity != nil {
			return renderEntity(*env.Entity)
		}
	case core.ShapeList:
		return renderList(tool, env.Entities)
	}
	return fmt.Sprintf("%s: done", tool)
}

func renderAck(tool string, a core.Ack) string {
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = strings.TrimSpace(fmt.Sprintf("%s %s %s", titleCase(a.Action), a.Kind, a.ID))
	}
	line := fmt.Sprintf(":white_check_mark: %s: %s", tool, msg)
	if a.URL != "" {
		line += " " + a.URL
	}
	return line
}

func renderEntity(e core.Entity) string {
	var b strings.Builder
	switch e.Kind {
	case core.KindPage:
		fmt.Fprintf(&b, "*Page %s*\n", e.ID)
		fmt.Fprintf(&b, "Title: %s\n", e.Title)
		writeField(&b, "Space", e.Extra["space_key"])
		writeField(&b, "Status", e.Status)
		writeField(&b, "Version", e.Extra["version"])
		snippet := e.Extra["snippet"]
		if body := e.Extra["body"]; body != "" {
			snippet = body
		}
		writeField(&b, "Content", clip(snippet, maxSnippetLen))
	default:
		fmt.Fprintf(&b, "*%s*\n", e.ID)
		fmt.Fprintf(&b, "Summary: %s\n", e.Title)
		writeField(&b, "Status", e.Status)
		writeField(&b, "Assignee", e.Extra["assignee"])
		writeField(&b, "Type", e.Extra["issue_type"])
		writeField(&b, "Description", clip(e.Extra["description"], maxSnippetLen))
	}
	writeField(&b, "URL", e.URL)
	return strings.TrimRight(b.String(), "\n")
}

func renderList(tool string, es []core.Entity) string {
	if len(es) == 0 {
		return fmt.Sprintf("%s: 0 results", tool)
	}
	noun := "results"
	if len(es) == 1 {
		noun = "result"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d %s", tool, len(es), noun)
	for i, e := range es {
		fmt.Fprintf(&b, "\n%d. *%s* %s", i+1, e.ID, e.Title)
		var meta []string
		if e.Kind == core.KindPage {
			meta = appendMeta(meta, "Space", e.Extra["space_key"])
		} else {
			meta = appendMeta(meta, "Status", e.Status)
			meta = appendMeta(meta, "Assignee", e.Extra["assignee"])
		}
		if len(meta) > 0 {
			b.WriteString(" (" + strings.Join(meta, ", ") + ")")
		}
		if e.Kind == core.KindPage {
			if snippet := strings.TrimSpace(e.Extra["snippet"]); snippet != "" {
				b.WriteString("\n   " + clip(snippet, maxListSnippetLen))
			}
		}
		if e.URL != "" {
			b.WriteString("\n   " + e.URL)
		}
	}
	return b.String()
}

// Help renders the tool listing returned for help requests.
func Help() string {
	var b strings.Builder
	b.WriteString("Here is what I can do:\n")
	b.WriteString(registry.Describe())
	b.WriteString("\nAsk in plain words, or use `<tool_name> <arguments...>`, e.g. `get_jira_ticket PROJ-123`.")
	return b.String()
}

// NoMatch renders the reply for text that could not be resolved.
func NoMatch(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NoMatchText
	}
	return NoMatchText + "\n(" + reason + ")"
}

// renderObject lists the keys of a decoded reply that matches no known
// layout, in sorted order.
func renderObject(tool string, m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", tool)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, m[k])
	}
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func appendMeta(meta []string, label, value string) []string {
	if value == "" {
		return meta
	}
	return append(meta, label+": "+value)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
