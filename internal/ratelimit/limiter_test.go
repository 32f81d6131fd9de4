package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	limiter := New(3, time.Minute, time.Hour)
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		if !limiter.Allow("1.2.3.4") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("attempt over budget should be denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := New(1, time.Minute, time.Hour)
	defer limiter.Close()

	if !limiter.Allow("a") {
		t.Fatalf("first attempt for a should be allowed")
	}
	if !limiter.Allow("b") {
		t.Fatalf("first attempt for b should be allowed")
	}
	if limiter.Allow("a") {
		t.Fatalf("second attempt for a should be denied")
	}
}

func TestResetClearsKey(t *testing.T) {
	limiter := New(1, time.Minute, time.Hour)
	defer limiter.Close()

	limiter.Allow("1.2.3.4")
	if limiter.Allow("1.2.3.4") {
		t.Fatalf("expected denial before reset")
	}
	limiter.Reset("1.2.3.4")
	if !limiter.Allow("1.2.3.4") {
		t.Fatalf("expected allowance after reset")
	}
}

func TestWindowExpiry(t *testing.T) {
	limiter := New(1, 10*time.Millisecond, time.Hour)
	defer limiter.Close()

	limiter.Allow("1.2.3.4")
	time.Sleep(20 * time.Millisecond)
	if !limiter.Allow("1.2.3.4") {
		t.Fatalf("expected allowance after window passed")
	}
}

func TestSweepDropsStaleKeys(t *testing.T) {
	limiter := New(5, 5*time.Millisecond, 10*time.Millisecond)
	defer limiter.Close()

	limiter.Allow("stale")

	deadline := time.Now().Add(time.Second)
	for {
		limiter.mu.Lock()
		_, present := limiter.attempts["stale"]
		limiter.mu.Unlock()
		if !present {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep did not drop stale key")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
