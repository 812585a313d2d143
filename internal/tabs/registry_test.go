package tabs

import (
	"context"
	"testing"
	"time"
)

func TestMarkReadyAndReady(t *testing.T) {
	r := NewRegistry()

	if r.Ready("t1") {
		t.Fatalf("Ready(t1) = true before MarkReady; want false")
	}
	r.MarkReady("t1")
	if !r.Ready("t1") {
		t.Fatalf("Ready(t1) = false after MarkReady; want true")
	}

	// Idempotent; a second announce must not panic on the closed channel.
	r.MarkReady("t1")

	if r.Count() != 1 {
		t.Fatalf("Count() = %d; want 1", r.Count())
	}
}

func TestMarkReady_IgnoresEmptyID(t *testing.T) {
	r := NewRegistry()
	r.MarkReady("")
	if r.Count() != 0 {
		t.Fatalf("Count() = %d after empty-id MarkReady; want 0", r.Count())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.MarkReady("t1")
	r.Remove("t1")
	if r.Ready("t1") {
		t.Fatalf("Ready(t1) = true after Remove; want false")
	}
}

func TestWaitReady_AlreadyReady(t *testing.T) {
	r := NewRegistry()
	r.MarkReady("t1")
	if !r.WaitReady(context.Background(), "t1", 10*time.Millisecond) {
		t.Fatalf("WaitReady() = false for ready tab; want true")
	}
}

// A readiness signal arriving mid-wait must release the waiter promptly,
// not after the full timeout.
func TestWaitReady_SignalReleasesEarly(t *testing.T) {
	r := NewRegistry()

	go func() {
		time.Sleep(30 * time.Millisecond)
		r.MarkReady("t1")
	}()

	start := time.Now()
	ok := r.WaitReady(context.Background(), "t1", 5*time.Second)
	elapsed := time.Since(start)

	if !ok {
		t.Fatalf("WaitReady() = false; want true after signal")
	}
	if elapsed >= time.Second {
		t.Fatalf("WaitReady() took %v; want prompt release after signal", elapsed)
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	r := NewRegistry()
	start := time.Now()
	if r.WaitReady(context.Background(), "t1", 50*time.Millisecond) {
		t.Fatalf("WaitReady() = true without signal; want false")
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("WaitReady() returned after %v; want at least the timeout", elapsed)
	}
}

func TestWaitReady_ContextCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if r.WaitReady(ctx, "t1", 5*time.Second) {
		t.Fatalf("WaitReady() = true after cancel; want false")
	}
}
