package domain

import "testing"

func TestNormalizePair(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"XBTUSD", "BTC/USD"},
		{"XXBTZUSD", "BTC/USD"},
		{"XLMUSD", "XLM/USD"},
		{"ETHUSD", "ETH/USD"},
		{"BTC/USD", "BTC/USD"}, // already canonical: mapped table misses, passthrough
		{"FOO/BAR", "FOO/BAR"}, // unmapped symbols pass through unchanged
	}

	for _, c := range cases {
		if got := NormalizePair(c.in); got != c.want {
			t.Errorf("NormalizePair(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
