package core

import (
	"fmt"
	"strings"
)

const (
	MaxSummaryLen     = 255
	MaxDescriptionLen = 32767
	MaxPageTitleLen   = 255
	MaxPageBodyLen    = 1 << 20
	MaxCommandTextLen = 4000
	DefaultMaxResults = 20
	MaxMaxResults     = 100
)

// ValidateTicketInput checks summary and description limits enforced by Jira.
// An empty summary is only an error when required is set (create).
func ValidateTicketInput(summary, description string, required bool) error {
	s := strings.TrimSpace(summary)
	if required && s == "" {
		return fmt.Errorf("summary is required")
	}
	if len(s) > MaxSummaryLen {
		return fmt.Errorf("summary exceeds %d characters", MaxSummaryLen)
	}
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("summary must be a single line")
	}
	if len(description) > MaxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", MaxDescriptionLen)
	}
	return nil
}

// ValidatePageInput checks Confluence title and body limits.
func ValidatePageInput(title, body string, required bool) error {
	t := strings.TrimSpace(title)
	if required && t == "" {
		return fmt.Errorf("title is required")
	}
	if len(t) > MaxPageTitleLen {
		return fmt.Errorf("title exceeds %d characters", MaxPageTitleLen)
	}
	if len(body) > MaxPageBodyLen {
		return fmt.Errorf("body exceeds %d bytes", MaxPageBodyLen)
	}
	return nil
}

// ValidateCommandText checks raw chat text before it reaches the resolver.
func ValidateCommandText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	if len(text) > MaxCommandTextLen {
		return fmt.Errorf("text exceeds %d characters", MaxCommandTextLen)
	}
	return nil
}

// ParseMaxResults reads an optional max_results argument, clamping it to
// [1, MaxMaxResults]. Empty or non-numeric input yields DefaultMaxResults.
func ParseMaxResults(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultMaxResults
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return DefaultMaxResults
	}
	if n > MaxMaxResults {
		return MaxMaxResults
	}
	return n
}
