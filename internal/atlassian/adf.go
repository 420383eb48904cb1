package atlassian

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"
)

// adfNode is the subset of the Atlassian Document Format needed to carry
// plain text descriptions.
type adfNode struct {
	Type    string    `json:"type"`
	Version int       `json:"version,omitempty"`
	Text    string    `json:"text,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

// TextToADF converts plain text into an ADF document. Blank lines separate
// paragraphs; single newlines become hard breaks.
func TextToADF(text string) any {
	doc := adfNode{Type: "doc", Version: 1, Content: []adfNode{}}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		para := adfNode{Type: "paragraph"}
		for i, line := range strings.Split(block, "\n") {
			if i > 0 {
				para.Content = append(para.Content, adfNode{Type: "hardBreak"})
			}
			if line != "" {
				para.Content = append(para.Content, adfNode{Type: "text", Text: line})
			}
		}
		doc.Content = append(doc.Content, para)
	}
	return doc
}

// ADFToText flattens an ADF document (or a legacy plain string) to text.
func ADFToText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	writeADF(&b, doc)
	return strings.TrimSpace(b.String())
}

func writeADF(b *strings.Builder, n adfNode) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
		return
	case "hardBreak":
		b.WriteString("\n")
		return
	}
	for _, c := range n.Content {
		writeADF(b, c)
	}
	switch n.Type {
	case "paragraph", "heading", "codeBlock", "blockquote", "rule":
		b.WriteString("\n\n")
	case "listItem":
		b.WriteString("\n")
	}
}

// TextToStorage wraps plain text in Confluence storage-format paragraphs.
// Text that already looks like markup is passed through.
func TextToStorage(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return trimmed
	}
	var b strings.Builder
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(block), "\n", "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}

var (
	blockTagRe = regexp.MustCompile(`(?i)</p>|<br\s*/?>|</h[1-6]>|</li>`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
	spaceRe    = regexp.MustCompile(`[ \t]+`)
	blankRe    = regexp.MustCompile(`\n{3,}`)
)

// StorageToText strips Confluence storage markup down to readable text.
func StorageToText(storage string) string {
	s := blockTagRe.ReplaceAllString(storage, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
