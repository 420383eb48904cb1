package resolver

import (
	"fmt"
	"strings"

	"github.com/atlasbridge/atlasbridge/internal/core"
	"github.com/atlasbridge/atlasbridge/internal/registry"
)

// ParseDirect handles the "<tool_name> <arguments...>" syntax. ok is false
// when the first word is not a tool name, so the caller should try the model.
// When ok is true, err reports a malformed or incomplete call.
//
// Positional words fill the required arguments in order. When one required
// argument is left it takes the whole remainder verbatim, so JQL and search
// text keep their quoting. key=value words set any argument by name, and
// quotes group words.
func ParseDirect(text string) (call core.ToolCall, ok bool, err error) {
	text = strings.TrimSpace(text)
	name, rest, _ := strings.Cut(text, " ")
	spec, lookupErr := registry.Resolve(strings.TrimSpace(name))
	if lookupErr != nil {
		return core.ToolCall{}, false, nil
	}

	args := map[string]string{}
	var positional []word
	for _, w := range splitWords(rest) {
		if k, v, found := strings.Cut(w.text, "="); found && w.bareEq && spec.Accepts(k) {
			args[k] = v
			continue
		}
		positional = append(positional, w)
	}

	var open []string
	for _, a := range spec.Required {
		if _, set := args[a]; !set {
			open = append(open, a)
		}
	}
	switch {
	case len(positional) == 0:
	case len(open) == 1:
		raws := make([]string, len(positional))
		for i, w := range positional {
			raws[i] = w.raw
		}
		args[open[0]] = strings.Join(raws, " ")
	case len(positional) > len(open):
		return core.ToolCall{}, true, &core.ValidationError{
			Tool:   spec.Name,
			Detail: fmt.Sprintf("too many arguments; usage: %s", registry.Usage(spec)),
		}
	default:
		for i, w := range positional {
			args[open[i]] = w.text
		}
	}

	call = core.ToolCall{Tool: spec.Name, Arguments: args}
	if err := registry.Validate(call); err != nil {
		return core.ToolCall{}, true, err
	}
	return call, true, nil
}

// word is one argument token: text has quotes removed, raw is the token as
// typed, and bareEq is set when an '=' appeared outside quotes.
type word struct {
	text   string
	raw    string
	bareEq bool
}

// splitWords splits on whitespace, keeping "double" or 'single' quoted runs
// (and smart quotes pasted from chat clients) together. Input with an
// unbalanced quote, such as an apostrophe, is split on whitespace only.
func splitWords(s string) []word {
	var (
		out     []word
		cur     strings.Builder
		raw     strings.Builder
		w       word
		inWord  bool
		closing rune
	)
	flush := func() {
		if inWord {
			w.text, w.raw = cur.String(), raw.String()
			out = append(out, w)
		}
		cur.Reset()
		raw.Reset()
		w = word{}
		inWord = false
	}
	for _, r := range s {
		switch {
		case closing != 0:
			raw.WriteRune(r)
			if r == closing {
				closing = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'' || r == '“' || r == '‘':
			raw.WriteRune(r)
			closing = matchingQuote(r)
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			if r == '=' && !w.bareEq && cur.Len() > 0 {
				w.bareEq = true
			}
			cur.WriteRune(r)
			raw.WriteRune(r)
			inWord = true
		}
	}
	if closing != 0 {
		return plainWords(s)
	}
	flush()
	return out
}

func plainWords(s string) []word {
	fields := strings.Fields(s)
	out := make([]word, len(fields))
	for i, f := range fields {
		out[i] = word{text: f, raw: f, bareEq: strings.Index(f, "=") > 0}
	}
	return out
}

func matchingQuote(r rune) rune {
	switch r {
	case '“':
		return '”'
	case '‘':
		return '’'
	}
	return r
}
