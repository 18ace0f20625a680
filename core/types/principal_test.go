package types

import "testing"

func TestParsePrincipal(t *testing.T) {
	p, err := ParsePrincipal("  ST1ABC  ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p != "ST1ABC" {
		t.Fatalf("expected trimmed principal, got %q", p)
	}

	if _, err := ParsePrincipal("   "); err == nil {
		t.Fatalf("blank principal must be rejected")
	}
	if _, err := ParsePrincipal(""); err == nil {
		t.Fatalf("empty principal must be rejected")
	}
}

func TestPrincipalIsZero(t *testing.T) {
	if !Principal("").IsZero() {
		t.Fatalf("empty principal must be zero")
	}
	if Principal("ST1ABC").IsZero() {
		t.Fatalf("non-empty principal must not be zero")
	}
}
