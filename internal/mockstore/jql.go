package mockstore

import (
	"fmt"
	"strings"
)

// Matcher reports whether a ticket satisfies a compiled query.
type Matcher func(*Ticket) bool

// CompileJQL compiles the subset of JQL the mock backend understands:
// clauses joined by AND, optionally grouped in parentheses, each one of
//
//	field = value | field != value | field ~ text | field !~ text
//	field in (a, b) | field not in (a, b) | field is [not] EMPTY
//
// over project, status, assignee, issuetype, summary, description, text and
// key. A trailing ORDER BY is ignored. Anything else is an error.
func CompileJQL(q string) (Matcher, error) {
	toks, err := lexJQL(q)
	if err != nil {
		return nil, err
	}
	p := &jqlParser{toks: toks}
	m, err := p.conjunction()
	if err != nil {
		return nil, err
	}
	if !p.done() && !p.peekWord("order") {
		return nil, fmt.Errorf("unbalanced ')' in JQL")
	}
	if p.peekWord("order") {
		p.pos++
		if !p.peekWord("by") {
			return nil, fmt.Errorf("expected BY after ORDER")
		}
	}
	return m, nil
}

// conjunction parses AND-joined clauses up to the end of input, an ORDER BY
// or a closing parenthesis.
func (p *jqlParser) conjunction() (Matcher, error) {
	var clauses []Matcher
	for !p.atGroupEnd() {
		var c Matcher
		var err error
		if p.peek().kind == tokLParen {
			p.pos++
			if c, err = p.conjunction(); err != nil {
				return nil, err
			}
			if t, ok := p.next(); !ok || t.kind != tokRParen {
				return nil, fmt.Errorf("expected ')' in JQL")
			}
		} else if c, err = p.clause(); err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
		if p.atGroupEnd() {
			break
		}
		if !p.peekWord("and") {
			return nil, fmt.Errorf("unsupported JQL near %q", p.peek().text)
		}
		p.pos++
	}
	return func(t *Ticket) bool {
		for _, c := range clauses {
			if !c(t) {
				return false
			}
		}
		return true
	}, nil
}

func (p *jqlParser) atGroupEnd() bool {
	return p.done() || p.peekWord("order") || p.peek().kind == tokRParen
}

func freeTextMatcher(q string) Matcher {
	needle := strings.ToLower(strings.TrimSpace(q))
	return func(t *Ticket) bool {
		if needle == "" {
			return true
		}
		hay := strings.ToLower(t.Key + "\n" + t.Summary + "\n" + t.Description)
		return strings.Contains(hay, needle)
	}
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
}

func lexJQL(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '"' || c == '\'':
			var b strings.Builder
			j := i + 1
			for j < len(s) && s[j] != c {
				if s[j] == '\\' && j+1 < len(s) {
					j++
				}
				b.WriteByte(s[j])
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string in JQL")
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case c == '=' || c == '~':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c == '!':
			if i+1 < len(s) && (s[i+1] == '=' || s[i+1] == '~') {
				toks = append(toks, token{tokOp, s[i : i+2]})
				i += 2
				continue
			}
			return nil, fmt.Errorf("unexpected '!' in JQL")
		case c == '<' || c == '>':
			return nil, fmt.Errorf("comparison operators are not supported")
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r(),=!~<>\"'", rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokWord, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

type jqlParser struct {
	toks []token
	pos  int
}

func (p *jqlParser) done() bool { return p.pos >= len(p.toks) }

func (p *jqlParser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *jqlParser) peekWord(w string) bool {
	t := p.peek()
	return !p.done() && t.kind == tokWord && strings.EqualFold(t.text, w)
}

func (p *jqlParser) next() (token, bool) {
	if p.done() {
		return token{}, false
	}
	t := p.toks[p.pos]
	p.pos++
	return t, true
}

func (p *jqlParser) value() (string, error) {
	t, ok := p.next()
	if !ok || (t.kind != tokWord && t.kind != tokString) {
		return "", fmt.Errorf("expected value")
	}
	return t.text, nil
}

func (p *jqlParser) list() ([]string, error) {
	if t, ok := p.next(); !ok || t.kind != tokLParen {
		return nil, fmt.Errorf("expected '(' after IN")
	}
	var out []string
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		t, ok := p.next()
		if !ok {
			return nil, fmt.Errorf("unterminated IN list")
		}
		if t.kind == tokRParen {
			return out, nil
		}
		if t.kind != tokComma {
			return nil, fmt.Errorf("expected ',' in IN list")
		}
	}
}

func (p *jqlParser) clause() (Matcher, error) {
	ft, ok := p.next()
	if !ok || (ft.kind != tokWord && ft.kind != tokString) {
		return nil, fmt.Errorf("expected field name")
	}
	get, err := fieldGetter(ft.text)
	if err != nil {
		return nil, err
	}
	contains := strings.EqualFold(ft.text, "text")

	switch {
	case p.peekWord("in"):
		p.pos++
		vals, err := p.list()
		if err != nil {
			return nil, err
		}
		return func(t *Ticket) bool { return inFold(get(t), vals) }, nil
	case p.peekWord("not"):
		p.pos++
		if !p.peekWord("in") {
			return nil, fmt.Errorf("expected IN after NOT")
		}
		p.pos++
		vals, err := p.list()
		if err != nil {
			return nil, err
		}
		return func(t *Ticket) bool { return !inFold(get(t), vals) }, nil
	case p.peekWord("is"):
		p.pos++
		negate := false
		if p.peekWord("not") {
			negate = true
			p.pos++
		}
		if !p.peekWord("empty") && !p.peekWord("null") {
			return nil, fmt.Errorf("expected EMPTY after IS")
		}
		p.pos++
		return func(t *Ticket) bool { return isEmpty(get(t)) != negate }, nil
	}

	op, ok := p.next()
	if !ok || op.kind != tokOp {
		return nil, fmt.Errorf("expected operator after %q", ft.text)
	}
	val, err := p.value()
	if err != nil {
		return nil, err
	}
	switch op.text {
	case "=":
		if contains {
			return func(t *Ticket) bool { return containsFold(get(t), val) }, nil
		}
		return func(t *Ticket) bool { return strings.EqualFold(get(t), val) }, nil
	case "!=":
		return func(t *Ticket) bool { return !strings.EqualFold(get(t), val) }, nil
	case "~":
		return func(t *Ticket) bool { return containsFold(get(t), val) }, nil
	case "!~":
		return func(t *Ticket) bool { return !containsFold(get(t), val) }, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op.text)
}

func fieldGetter(name string) (func(*Ticket) string, error) {
	switch strings.ToLower(name) {
	case "project":
		return func(t *Ticket) string { return t.Project }, nil
	case "status":
		return func(t *Ticket) string { return t.Status }, nil
	case "assignee":
		return func(t *Ticket) string {
			if t.Assignee == unassigned {
				return ""
			}
			return t.Assignee
		}, nil
	case "issuetype", "type":
		return func(t *Ticket) string { return t.IssueType }, nil
	case "summary":
		return func(t *Ticket) string { return t.Summary }, nil
	case "description":
		return func(t *Ticket) string { return t.Description }, nil
	case "text":
		return func(t *Ticket) string { return t.Summary + "\n" + t.Description }, nil
	case "key", "issuekey", "id":
		return func(t *Ticket) string { return t.Key }, nil
	}
	return nil, fmt.Errorf("unsupported JQL field %q", name)
}

func containsFold(hay, needle string) bool {
	return strings.Contains(strings.ToLower(hay), strings.ToLower(needle))
}

func inFold(v string, vals []string) bool {
	for _, x := range vals {
		if strings.EqualFold(v, x) {
			return true
		}
	}
	return false
}

func isEmpty(v string) bool {
	return strings.TrimSpace(v) == ""
}
