package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func healthClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestHealth_NoObservations(t *testing.T) {
	tracker := NewDeliveryHealthTracker(DefaultHealthTarget())

	h := tracker.Health("dest-1")
	require.True(t, h.Healthy)
	require.Equal(t, 100.0, h.ErrorBudgetLeft)
	require.Zero(t, h.Observations)
}

func TestHealth_AllSuccessful(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewDeliveryHealthTracker(DefaultHealthTarget()).WithClock(healthClock(now))

	for i := 0; i < 10; i++ {
		tracker.Record(DeliveryObservation{
			DestinationID: "dest-1",
			Latency:       200 * time.Millisecond,
			Success:       true,
		})
	}

	h := tracker.Health("dest-1")
	require.True(t, h.Healthy)
	require.Equal(t, 1.0, h.SuccessRate)
	require.Equal(t, 10, h.Observations)
	require.Equal(t, float64(200), h.CurrentP99Ms)
	require.Equal(t, 0.0, h.BurnRate)
}

func TestHealth_FailuresBreachTarget(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	target := DeliveryHealthTarget{SuccessRate: 0.9, LatencyP99: time.Second, Window: time.Hour}
	tracker := NewDeliveryHealthTracker(target).WithClock(healthClock(now))

	// 6 of 10 succeed: 40% error rate against a 10% budget.
	for i := 0; i < 10; i++ {
		tracker.Record(DeliveryObservation{
			DestinationID: "dest-1",
			Latency:       100 * time.Millisecond,
			Success:       i < 6,
		})
	}

	h := tracker.Health("dest-1")
	require.False(t, h.Healthy)
	require.InDelta(t, 0.6, h.SuccessRate, 1e-9)
	require.InDelta(t, 4.0, h.BurnRate, 1e-9)
	require.Equal(t, 0.0, h.ErrorBudgetLeft)
}

func TestHealth_SlowAttemptsBreachLatency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	target := DeliveryHealthTarget{SuccessRate: 0.5, LatencyP99: time.Second, Window: time.Hour}
	tracker := NewDeliveryHealthTracker(target).WithClock(healthClock(now))

	for i := 0; i < 5; i++ {
		tracker.Record(DeliveryObservation{
			DestinationID: "dest-1",
			Latency:       30 * time.Second,
			Success:       true,
		})
	}

	h := tracker.Health("dest-1")
	require.False(t, h.Healthy)
	require.Equal(t, float64(30000), h.CurrentP99Ms)
	require.Equal(t, 1.0, h.SuccessRate)
}

func TestHealth_OldObservationsAgeOut(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	target := DeliveryHealthTarget{SuccessRate: 0.99, LatencyP99: time.Second, Window: time.Hour}

	current := base
	tracker := NewDeliveryHealthTracker(target).WithClock(func() time.Time { return current })

	tracker.Record(DeliveryObservation{DestinationID: "dest-1", Latency: time.Millisecond, Success: false})

	// Two hours later the failure is outside the window.
	current = base.Add(2 * time.Hour)
	h := tracker.Health("dest-1")
	require.True(t, h.Healthy)
	require.Zero(t, h.Observations)
}

func TestHealth_TracksDestinationsIndependently(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewDeliveryHealthTracker(DefaultHealthTarget()).WithClock(healthClock(now))

	tracker.Record(DeliveryObservation{DestinationID: "dest-ok", Latency: time.Millisecond, Success: true})
	tracker.Record(DeliveryObservation{DestinationID: "dest-bad", Latency: time.Millisecond, Success: false})

	require.True(t, tracker.Health("dest-ok").Healthy)
	require.False(t, tracker.Health("dest-bad").Healthy)
}
