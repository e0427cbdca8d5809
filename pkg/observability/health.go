package observability

import (
	"sort"
	"sync"
	"time"
)

// DeliveryHealthTarget is the objective destinations are graded against.
type DeliveryHealthTarget struct {
	SuccessRate float64       `json:"success_rate"` // minimum fraction of attempts that settle successfully (0-1)
	LatencyP99  time.Duration `json:"latency_p99"`  // target p99 attempt latency
	Window      time.Duration `json:"window"`       // evaluation window
}

// DefaultHealthTarget grades destinations on the trailing hour.
func DefaultHealthTarget() DeliveryHealthTarget {
	return DeliveryHealthTarget{
		SuccessRate: 0.99,
		LatencyP99:  10 * time.Second,
		Window:      time.Hour,
	}
}

// DeliveryObservation is a single settled delivery attempt.
type DeliveryObservation struct {
	DestinationID string        `json:"destination_id"`
	Latency       time.Duration `json:"latency"`
	Success       bool          `json:"success"`
	Timestamp     time.Time     `json:"timestamp"`
}

// DestinationHealth reports rolling delivery health for one destination.
type DestinationHealth struct {
	DestinationID   string  `json:"destination_id"`
	CurrentP99Ms    float64 `json:"current_p99_ms"`
	SuccessRate     float64 `json:"success_rate"`
	Healthy         bool    `json:"healthy"`
	BurnRate        float64 `json:"burn_rate"`         // >1 means burning error budget faster than the target allows
	ErrorBudgetLeft float64 `json:"error_budget_left"` // percentage remaining
	Observations    int     `json:"observations"`
}

// DeliveryHealthTracker keeps a rolling window of attempt outcomes per
// destination. Observations older than the window are pruned on insert so
// memory stays bounded by attempt rate.
type DeliveryHealthTracker struct {
	mu      sync.Mutex
	target  DeliveryHealthTarget
	windows map[string][]DeliveryObservation
	clock   func() time.Time
}

// NewDeliveryHealthTracker creates a tracker graded against target.
func NewDeliveryHealthTracker(target DeliveryHealthTarget) *DeliveryHealthTracker {
	if target.Window <= 0 {
		target.Window = time.Hour
	}
	return &DeliveryHealthTracker{
		target:  target,
		windows: make(map[string][]DeliveryObservation),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *DeliveryHealthTracker) WithClock(clock func() time.Time) *DeliveryHealthTracker {
	t.clock = clock
	return t
}

// Record adds an observation.
func (t *DeliveryHealthTracker) Record(obs DeliveryObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}

	cutoff := t.clock().Add(-t.target.Window)
	window := t.windows[obs.DestinationID]
	kept := window[:0]
	for _, o := range window {
		if o.Timestamp.After(cutoff) {
			kept = append(kept, o)
		}
	}
	t.windows[obs.DestinationID] = append(kept, obs)
}

// Health computes the destination's current standing. A destination with no
// observations in the window is healthy: nothing has gone wrong yet.
func (t *DeliveryHealthTracker) Health(destinationID string) *DestinationHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	cutoff := now.Add(-t.target.Window)

	var windowed []DeliveryObservation
	for _, obs := range t.windows[destinationID] {
		if obs.Timestamp.After(cutoff) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &DestinationHealth{
			DestinationID:   destinationID,
			Healthy:         true,
			ErrorBudgetLeft: 100.0,
		}
	}

	successCount := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			successCount++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(successCount) / float64(len(windowed))

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(t.target.LatencyP99.Milliseconds())
	successOK := successRate >= t.target.SuccessRate

	errorBudget := 1.0 - t.target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - burnRate)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	} else if errorRate > 0 {
		budgetLeft = 0
	}

	return &DestinationHealth{
		DestinationID:   destinationID,
		CurrentP99Ms:    p99,
		SuccessRate:     successRate,
		Healthy:         latencyOK && successOK,
		BurnRate:        burnRate,
		ErrorBudgetLeft: budgetLeft,
		Observations:    len(windowed),
	}
}
