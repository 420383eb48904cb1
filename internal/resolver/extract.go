package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/registry"
)

// ExtractObject returns the first balanced {...} substring of s. Braces inside
// JSON strings are ignored and escapes inside strings are honored.
func ExtractObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

type modelCall struct {
	Tool      string                     `json:"tool"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

// DecodeCall strictly decodes {"tool": ..., "arguments": {...}}. Scalar
// argument values become strings; null and empty values are dropped; nested
// objects and arrays are rejected. Arguments a known tool does not accept are
// left out and their names returned in dropped.
func DecodeCall(obj string) (call core.ToolCall, dropped []string, err error) {
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.DisallowUnknownFields()
	var mc modelCall
	if err := dec.Decode(&mc); err != nil {
		return core.ToolCall{}, nil, &core.ParseError{Detail: "invalid tool object: " + err.Error()}
	}
	tool := strings.TrimSpace(mc.Tool)
	if tool == "" {
		return core.ToolCall{}, nil, &core.ParseError{Detail: "tool name is missing"}
	}
	if strings.EqualFold(tool, "none") {
		return core.ToolCall{}, nil, errNone
	}
	spec, lookupErr := registry.Resolve(tool)
	known := lookupErr == nil

	args := make(map[string]string, len(mc.Arguments))
	for k, raw := range mc.Arguments {
		if known && !spec.Accepts(k) {
			dropped = append(dropped, k)
			continue
		}
		v, err := scalarString(raw)
		if err != nil {
			return core.ToolCall{}, nil, &core.ParseError{Detail: fmt.Sprintf("argument %s: %v", k, err)}
		}
		if v = strings.TrimSpace(v); v != "" {
			args[k] = v
		}
	}
	sort.Strings(dropped)
	return core.ToolCall{Tool: tool, Arguments: args}, dropped, nil
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("must be a scalar")
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
