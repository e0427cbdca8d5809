package provisioning

import (
	"testing"
	"time"
)

// ── Backoff ───────────────────────────────────────────────────

func TestBackoff_DefaultPolicy(t *testing.T) {
	t.Parallel()
	policy := DefaultRetryPolicy()

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, c := range cases {
		if got := Backoff(c.n, policy); got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	t.Parallel()
	policy := DefaultRetryPolicy()

	// 1000ms * 2^9 = 512000ms > 300000ms cap
	if got := Backoff(9, policy); got != 300*time.Second {
		t.Errorf("Backoff(9) = %v, want cap %v", got, 300*time.Second)
	}
	// Far past any representable exponent still returns the cap.
	if got := Backoff(10_000, policy); got != 300*time.Second {
		t.Errorf("Backoff(10000) = %v, want cap %v", got, 300*time.Second)
	}
}

func TestBackoff_NegativeAttemptClampsToZero(t *testing.T) {
	t.Parallel()
	policy := DefaultRetryPolicy()
	if got := Backoff(-3, policy); got != Backoff(0, policy) {
		t.Errorf("Backoff(-3) = %v, want %v", got, Backoff(0, policy))
	}
}

func TestBackoff_Deterministic(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{MaxRetries: 3, InitialBackoffMs: 250, MaxBackoffMs: 60000, Multiplier: 3.0}
	for n := 0; n < 6; n++ {
		a, b := Backoff(n, policy), Backoff(n, policy)
		if a != b {
			t.Fatalf("Backoff(%d) not deterministic: %v vs %v", n, a, b)
		}
	}
}

// ── Exhaustion ────────────────────────────────────────────────

func TestIsExhausted(t *testing.T) {
	t.Parallel()
	policy := DefaultRetryPolicy()

	if IsExhausted(4, policy) {
		t.Error("retry_count=4 should not be exhausted under max_retries=5")
	}
	if !IsExhausted(5, policy) {
		t.Error("retry_count=5 should be exhausted under max_retries=5")
	}
}

func TestIsExhausted_ZeroRetries(t *testing.T) {
	t.Parallel()
	// max_retries=0: the first retryable failure is terminal.
	policy := RetryPolicy{MaxRetries: 0, InitialBackoffMs: 1000, MaxBackoffMs: 1000, Multiplier: 2.0}
	if !IsExhausted(0, policy) {
		t.Error("retry_count=0 should be exhausted under max_retries=0")
	}
}
