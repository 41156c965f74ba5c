package infra

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_TryAcquire(t *testing.T) {
	// 2 calls per second
	rl := NewRateLimiter(2, time.Second)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Error("expected second TryAcquire to succeed")
	}

	// Third should fail (window is full)
	if rl.TryAcquire() {
		t.Error("expected third TryAcquire to fail")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 100*time.Millisecond)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Error("expected immediate TryAcquire to fail")
	}

	// Wait for the recorded call to leave the window
	time.Sleep(120 * time.Millisecond)

	if !rl.TryAcquire() {
		t.Error("expected TryAcquire to succeed after the window slid")
	}
}

func TestRateLimiter_AcquireBlocks(t *testing.T) {
	rl := NewRateLimiter(1, 100*time.Millisecond)

	ctx := context.Background()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	// Second Acquire should block until the window slides (~100ms)
	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected Acquire to block, but elapsed=%v", elapsed)
	}
}

func TestRateLimiter_BurstsNeverExceedLimit(t *testing.T) {
	// 3 per 150ms window, 7 sequential calls: completing all of them
	// requires at least two full window slides.
	rl := NewRateLimiter(3, 150*time.Millisecond)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 7; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 200*time.Millisecond {
		t.Errorf("7 calls at 3 per 150ms finished too fast: %v", elapsed)
	}
}

func TestRateLimiter_AcquireHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Second)

	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Acquire(ctx)
	if err == nil {
		t.Fatal("expected Acquire to fail when the context expires")
	}
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
