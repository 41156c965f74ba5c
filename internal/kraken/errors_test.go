package kraken

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    ErrorKind
	}{
		{"EAPI:Invalid nonce", KindNonce},
		{"EGeneral:Nonce window exceeded", KindNonce},
		{"EAPI:Rate limit exceeded", KindRateLimit},
		{"EService:Throttled", KindRateLimit},
		{"EGeneral:Permission denied", KindPermission},
		{"EGeneral:Forbidden", KindPermission},
		{"EAPI:Insufficient permissions", KindPermission},
		{"EAPI:Invalid key", KindPermission},
		{"EAPI:Invalid signature", KindPermission},
		{"read tcp: connection reset by peer", KindNetwork},
		{"context deadline exceeded (Client.Timeout)", KindNetwork},
		{"EService:Unavailable", KindNetwork},
		{"EOrder:Insufficient funds", KindAPI},
		{"EQuery:Unknown asset pair", KindAPI},
	}

	for _, tt := range tests {
		got := Classify("/0/private/AddOrder", tt.message)
		if got.Kind != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.message, got.Kind, tt.want)
		}
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	if Classify("", "EAPI:INVALID NONCE").Kind != KindNonce {
		t.Error("classification must be case-insensitive")
	}
}

func TestSeverity_PermissionIsCritical(t *testing.T) {
	for _, msg := range []string{"EGeneral:Forbidden", "EGeneral:Permission denied"} {
		if got := Classify("", msg).Severity(); got != "critical" {
			t.Errorf("Severity(%q) = %s, want critical", msg, got)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindNonce, true},
		{KindRateLimit, true},
		{KindNetwork, true},
		{KindPermission, false},
		{KindAPI, false},
	}

	for _, tt := range tests {
		e := &APIError{Kind: tt.kind, Message: "x"}
		if e.Retryable() != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.kind, e.Retryable(), tt.want)
		}
	}
}
