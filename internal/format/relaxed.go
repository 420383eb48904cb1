package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/atlasbridge/atlasbridge/internal/core"
)

// relaxedObject parses text that is almost JSON: Python dict literals with
// single quotes and True/False/None, comments and trailing commas.
func relaxedObject(raw string) (map[string]any, bool) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	normalized, ok := pythonToJSON(text)
	if !ok {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(normalized)), &m); err != nil {
		return nil, false
	}
	return m, true
}

// pythonToJSON rewrites single-quoted strings as JSON strings and the
// Python constants True, False and None as their JSON spellings. Text inside
// double-quoted strings is copied unchanged.
func pythonToJSON(s string) (string, bool) {
	var b strings.Builder
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"' || r == '\'':
			end, str, ok := scanString(rs, i)
			if !ok {
				return "", false
			}
			if r == '"' {
				b.WriteString(string(rs[i : end+1]))
			} else {
				enc, _ := json.Marshal(str)
				b.Write(enc)
			}
			i = end
		case isIdentStart(r):
			j := i
			for j < len(rs) && isIdentPart(rs[j]) {
				j++
			}
			switch word := string(rs[i:j]); word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), true
}

// scanString reads the quoted string starting at rs[start] and returns the
// index of its closing quote and its decoded value.
func scanString(rs []rune, start int) (int, string, bool) {
	quote := rs[start]
	var b strings.Builder
	for i := start + 1; i < len(rs); i++ {
		r := rs[i]
		switch r {
		case '\\':
			if i+1 >= len(rs) {
				return 0, "", false
			}
			i++
			switch rs[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(rs[i])
			}
		case quote:
			return i, b.String(), true
		default:
			b.WriteRune(r)
		}
	}
	return 0, "", false
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

// adaptObject maps a decoded reply onto an envelope. It accepts envelopes
// that only failed strict decoding and the flat records older executors
// return: {success, ticket_id, summary, status, assignee, url} and
// {success: false, error}.
func adaptObject(m map[string]any) (core.ResultEnvelope, bool) {
	if _, hasShape := m["shape"]; hasShape {
		raw, err := json.Marshal(m)
		if err == nil {
			if env, err := core.DecodeEnvelope(string(raw)); err == nil {
				return env, true
			}
		}
	}

	success, hasSuccess := m["success"].(bool)
	if errText := str(m, "error"); errText != "" && (!hasSuccess || !success) {
		return core.Failure(core.CodeExecutionFailure, errText), true
	}
	if hasSuccess && !success {
		return core.Failure(core.CodeExecutionFailure, firstNonEmpty(str(m, "message"), "the tool reported a failure")), true
	}

	if id := firstNonEmpty(str(m, "ticket_id"), str(m, "key")); id != "" {
		e := core.Entity{
			Kind:   core.KindTicket,
			ID:     id,
			Title:  str(m, "summary"),
			Status: str(m, "status"),
			URL:    str(m, "url"),
			Extra:  map[string]string{},
		}
		for _, k := range []string{"assignee", "description", "issue_type"} {
			if v := str(m, k); v != "" {
				e.Extra[k] = v
			}
		}
		return core.SingleResult(e), true
	}
	if id := str(m, "page_id"); id != "" {
		e := core.Entity{
			Kind:  core.KindPage,
			ID:    id,
			Title: str(m, "title"),
			URL:   str(m, "url"),
			Extra: map[string]string{},
		}
		if v := str(m, "space_key"); v != "" {
			e.Extra["space_key"] = v
		}
		return core.SingleResult(e), true
	}
	if msg := str(m, "message"); hasSuccess && msg != "" {
		return core.AckResult(core.Ack{Action: "done", Message: msg, URL: str(m, "url")}), true
	}
	return core.ResultEnvelope{}, false
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
