package kraken

import (
	"fmt"
	"strings"
)

// ErrorKind buckets venue and transport failures into retry categories.
type ErrorKind int

const (
	KindAPI        ErrorKind = iota // Venue rejected the request (default bucket)
	KindNonce                       // Nonce too low / invalid nonce
	KindRateLimit                   // Venue-side throttling
	KindPermission                  // Key lacks rights, or auth failed
	KindNetwork                     // Transport failure, never reached a verdict
)

func (k ErrorKind) String() string {
	switch k {
	case KindNonce:
		return "nonce"
	case KindRateLimit:
		return "rate_limit"
	case KindPermission:
		return "permission"
	case KindNetwork:
		return "network"
	default:
		return "api"
	}
}

// APIError is a classified venue or transport error.
type APIError struct {
	Kind       ErrorKind
	Message    string
	Endpoint   string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("kraken %s error on %s: %s", e.Kind, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("kraken %s error: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is transient. Nonce errors retry with
// a fresh nonce, rate limits retry after backoff, network errors retry as-is.
// Permission and generic API errors never retry.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindNonce, KindRateLimit, KindNetwork:
		return true
	}
	return false
}

// Severity maps the kind to a log level name for the event journal.
func (e *APIError) Severity() string {
	switch e.Kind {
	case KindPermission:
		return "critical"
	case KindNonce, KindRateLimit:
		return "warning"
	default:
		return "error"
	}
}

// classRule matches a lowercase substring of the venue error text.
type classRule struct {
	needle string
	kind   ErrorKind
}

// Order matters: the first match wins. Kraken error strings look like
// "EAPI:Invalid nonce" or "EOrder:Insufficient funds".
var classRules = []classRule{
	{"invalid nonce", KindNonce},
	{"nonce", KindNonce},
	{"rate limit", KindRateLimit},
	{"too many requests", KindRateLimit},
	{"throttl", KindRateLimit},
	{"permission", KindPermission},
	{"forbidden", KindPermission},
	{"invalid key", KindPermission},
	{"invalid signature", KindPermission},
	{"unauthorized", KindPermission},
	{"timeout", KindNetwork},
	{"connection", KindNetwork},
	{"temporary", KindNetwork},
	{"unavailable", KindNetwork},
	{"eof", KindNetwork},
}

// Classify builds an APIError from a raw venue error string.
func Classify(endpoint, message string) *APIError {
	lower := strings.ToLower(message)
	kind := KindAPI
	for _, r := range classRules {
		if strings.Contains(lower, r.needle) {
			kind = r.kind
			break
		}
	}
	return &APIError{Kind: kind, Message: message, Endpoint: endpoint}
}

// NetworkError wraps a transport-level failure (DNS, TLS, timeouts, 5xx)
// that never produced a venue verdict.
func NetworkError(endpoint string, err error) *APIError {
	return &APIError{Kind: KindNetwork, Message: err.Error(), Endpoint: endpoint}
}
