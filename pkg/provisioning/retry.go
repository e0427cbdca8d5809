package provisioning

import (
	"math"
	"time"
)

// Backoff returns the delay before retry attempt n (zero-based) under the
// policy: min(initial * multiplier^n, max). Deterministic for a given
// (n, policy) pair, so reschedules computed on different nodes agree.
func Backoff(n int, policy RetryPolicy) time.Duration {
	if n < 0 {
		n = 0
	}

	initial := float64(policy.InitialBackoffMs)
	maxMs := float64(policy.MaxBackoffMs)

	// delay = initial * multiplier^n, capped before the float can overflow
	delay := initial * math.Pow(policy.Multiplier, float64(n))
	if math.IsInf(delay, 1) || math.IsNaN(delay) || delay > maxMs {
		delay = maxMs
	}
	if delay < 0 {
		delay = 0
	}

	return time.Duration(int64(delay)) * time.Millisecond
}

// IsExhausted reports whether a delivery with the given retry count has used
// up the policy's retry budget.
func IsExhausted(retryCount int, policy RetryPolicy) bool {
	return retryCount >= policy.MaxRetries
}
