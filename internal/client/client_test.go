package client

import "testing"

func TestExtractHostPort(t *testing.T) {
	cases := map[string]string{
		"http://ch.internal":       "ch.internal:9000",
		"https://ch.internal":      "ch.internal:9440",
		"ch.internal:9001":         "ch.internal:9001",
		"clickhouse://10.0.0.1":    "10.0.0.1:9000",
		"https://ch.internal:9443": "ch.internal:9443",
	}
	for in, want := range cases {
		if got := extractHostPort(in); got != want {
			t.Errorf("extractHostPort(%q): expected %q, got %q", in, want, got)
		}
	}
	if got := extractHostname("https://ch.internal:9443"); got != "ch.internal" {
		t.Fatalf("expected ch.internal, got %q", got)
	}
}
