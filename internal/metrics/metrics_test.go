package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	ObserveItem("success")
	ObserveItem("success")
	ObserveHeal("proposed", 3)
	ObserveRateLimitDenied("llm")

	if val := testutil.ToFloat64(itemsTotal.WithLabelValues("success")); val < 2 {
		t.Errorf("expected items_total{success} >= 2, got %f", val)
	}
	if val := testutil.ToFloat64(rateLimitDeniedTotal.WithLabelValues("llm")); val < 1 {
		t.Errorf("expected rate_limit_denied_total{llm} >= 1, got %f", val)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://arxiv.org", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeHost(in) == "" {
			t.Fatalf("SanitizeHost(%q) returned empty string", in)
		}
	})
}
