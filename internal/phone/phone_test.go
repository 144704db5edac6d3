package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	n, err := NewNormalizer("+33")
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"+33612345678", "+33612345678"},
		{"06 12 34 56 78", "+33612345678"},
		{"0033612345678", "+33612345678"},
		{"+1 650-253-0000", "+16502530000"},
	}
	for _, tt := range tests {
		got, err := n.Normalize(tt.in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestNormalizeInvalid(t *testing.T) {
	n, _ := NewNormalizer("+33")
	for _, in := range []string{"", "12", "not a number", "+33 12"} {
		if _, err := n.Normalize(in); !errors.Is(err, ErrInvalidNumber) {
			t.Fatalf("%q: expected ErrInvalidNumber, got %v", in, err)
		}
	}
}

func TestNewNormalizerRejectsUnknownCode(t *testing.T) {
	if _, err := NewNormalizer("+999"); err == nil {
		t.Fatal("expected error for unknown country code")
	}
	if _, err := NewNormalizer("abc"); err == nil {
		t.Fatal("expected error for malformed country code")
	}
}

func TestLooksLikePhone(t *testing.T) {
	if !LooksLikePhone("+33 6 12 34 56 78") {
		t.Fatal("expected phone")
	}
	if LooksLikePhone("a@x.io") || LooksLikePhone("abc123456") {
		t.Fatal("expected not a phone")
	}
}
