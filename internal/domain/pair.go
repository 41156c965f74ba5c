package domain

import "strings"

// pairTable maps venue-native pair codes to the canonical BASE/QUOTE form
// used by the V2 streaming API and everywhere inside the engine.
var pairTable = map[string]string{
	"XBTUSD":   "BTC/USD",
	"XBT/USD":  "BTC/USD",
	"XXBTZUSD": "BTC/USD",
	"ETHUSD":   "ETH/USD",
	"XETHZUSD": "ETH/USD",
	"ADAUSD":   "ADA/USD",
	"XLMUSD":   "XLM/USD",
	"XXLMZUSD": "XLM/USD",
	"SOLUSD":   "SOL/USD",
	"DOTUSD":   "DOT/USD",
	"LINKUSD":  "LINK/USD",
	"MATICUSD": "MATIC/USD",
	"AVAXUSD":  "AVAX/USD",
	"ATOMUSD":  "ATOM/USD",
}

// NormalizePair converts a venue-native symbol to canonical BASE/QUOTE form.
// Symbols absent from the table pass through unchanged.
func NormalizePair(pair string) string {
	if canonical, ok := pairTable[pair]; ok {
		return canonical
	}
	return pair
}

// venueTable is the REST-side inverse of pairTable, preferring altnames.
var venueTable = map[string]string{
	"BTC/USD": "XBTUSD",
}

// VenuePair converts a canonical BASE/QUOTE symbol to the venue's REST code.
// Unmapped pairs fall back to the concatenated altname form.
func VenuePair(pair string) string {
	if venue, ok := venueTable[pair]; ok {
		return venue
	}
	return strings.ReplaceAll(pair, "/", "")
}
