package core

import (
	"strings"
	"testing"
)

func TestValidateTicketInput(t *testing.T) {
	if err := ValidateTicketInput("login issues", "users cannot log in", true); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	if err := ValidateTicketInput("   ", "body", true); err == nil {
		t.Fatal("expected summary validation error")
	}
	if err := ValidateTicketInput("", "", false); err != nil {
		t.Fatalf("empty summary is fine on update: %v", err)
	}
	if err := ValidateTicketInput("two\nlines", "", false); err == nil {
		t.Fatal("expected single-line validation error")
	}

	tooLong := strings.Repeat("a", MaxSummaryLen+1)
	if err := ValidateTicketInput(tooLong, "body", true); err == nil {
		t.Fatal("expected summary length validation error")
	}
}

func TestValidatePageInput(t *testing.T) {
	if err := ValidatePageInput("Runbook", "<p>hi</p>", true); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
	if err := ValidatePageInput("", "<p>hi</p>", true); err == nil {
		t.Fatal("expected title validation error")
	}
}

func TestParseMaxResults(t *testing.T) {
	tests := map[string]int{
		"":     DefaultMaxResults,
		"abc":  DefaultMaxResults,
		"-3":   DefaultMaxResults,
		"5":    5,
		"1000": MaxMaxResults,
	}
	for in, want := range tests {
		if got := ParseMaxResults(in); got != want {
			t.Fatalf("ParseMaxResults(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMakeEventKeyStableAndScopedByChannel(t *testing.T) {
	k1, err := MakeEventKey("Ev01", "C1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	k2, err := MakeEventKey(" Ev01 ", "C1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected equal keys, got %s and %s", k1, k2)
	}
	k3, err := MakeEventKey("Ev01", "C2")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if k1 == k3 {
		t.Fatal("expected different keys for different channels")
	}
	if _, err := MakeEventKey("", "C1"); err == nil {
		t.Fatal("expected error for empty event id")
	}
}
