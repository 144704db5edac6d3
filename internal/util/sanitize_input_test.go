package util

import "testing"

func TestContainsSuspicious(t *testing.T) {
	tests := map[string]bool{
		"Jean-Pierre":         false,
		"O'Brien":             false,
		"<b>bold</b>":         true,
		"{{.Secret}}":         true,
		"javascript:alert(1)": true,
		"Société Générale":    false,
		"img onerror=steal()": true,
	}
	for in, want := range tests {
		if got := ContainsSuspicious(in); got != want {
			t.Fatalf("ContainsSuspicious(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCollapseSpaces(t *testing.T) {
	if got := CollapseSpaces("  12   rue \t de la Paix "); got != "12 rue de la Paix" {
		t.Fatalf("expected collapsed string, got %q", got)
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("  a<b  "); got != "a&lt;b" {
		t.Fatalf("expected escaped string, got %q", got)
	}
}
