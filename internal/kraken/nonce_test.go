package kraken

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNonceManager_Monotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.json")
	nm, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}

	var prev int64
	for i := 0; i < 100; i++ {
		n, err := nm.Next()
		if err != nil {
			t.Fatal(err)
		}
		if n <= prev {
			t.Fatalf("nonce %d not greater than previous %d", n, prev)
		}
		prev = n
	}
}

func TestNonceManager_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.json")

	nm1, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}
	var last int64
	for i := 0; i < 10; i++ {
		last, err = nm1.Next()
		if err != nil {
			t.Fatal(err)
		}
	}

	// Simulate restart with a clock stuck in the past: the persisted
	// floor must still win.
	nm2, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}
	nm2.clock = func() time.Time { return time.UnixMilli(1000) }

	n, err := nm2.Next()
	if err != nil {
		t.Fatal(err)
	}
	if n <= last {
		t.Fatalf("nonce %d after restart not greater than %d", n, last)
	}
}

func TestNonceManager_CorruptStateReseeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	nm, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}

	n, err := nm.Next()
	if err != nil {
		t.Fatal(err)
	}
	// Reseeded from the clock, so roughly current unix millis.
	if n < time.Now().Add(-time.Minute).UnixMilli() {
		t.Fatalf("nonce %d not reseeded from clock", n)
	}
}

func TestNonceManager_ResetJumpsForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonce.json")
	nm, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}

	before, err := nm.Next()
	if err != nil {
		t.Fatal(err)
	}

	if err := nm.Reset(10 * time.Second); err != nil {
		t.Fatal(err)
	}

	after := nm.Peek()
	if after-before < 5000 {
		t.Fatalf("Reset jumped only %dms forward", after-before)
	}

	// State on disk must reflect the jump.
	nm2, err := NewNonceManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if nm2.Peek() < after {
		t.Fatalf("persisted nonce %d lost the jump to %d", nm2.Peek(), after)
	}
}
