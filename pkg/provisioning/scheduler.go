package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/halyard/pkg/observability"
)

// EventProcessor drives pending deliveries to their terminal states. Start
// launches background work, Stop drains it. OnEvent hints that deliveries
// were just created for an event so an implementation can react ahead of its
// normal cadence; implementations may ignore it, all pending work is found
// through the store regardless.
type EventProcessor interface {
	Start(ctx context.Context) error
	Stop()
	OnEvent(ctx context.Context, e *LocalEvent)
}

// SchedulerConfig tunes the polling processor.
type SchedulerConfig struct {
	// PollInterval is the cadence of the claim loop.
	PollInterval time.Duration
	// BatchSize caps how many deliveries one poll may claim.
	BatchSize int
	// MaxConcurrency bounds deliveries processed simultaneously. A poll
	// never claims more than the free slots, so a claimed record is always
	// being worked on.
	MaxConcurrency int
	// StaleAfter is how long a claim may sit IN_PROGRESS before a poll
	// returns it to PENDING. Covers crashed workers.
	StaleAfter time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight deliveries.
	DrainTimeout time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:   5 * time.Second,
		BatchSize:      50,
		MaxConcurrency: 8,
		StaleAfter:     5 * time.Minute,
		DrainTimeout:   30 * time.Second,
	}
}

// ScheduledProcessor is the polling EventProcessor: every PollInterval it
// reclaims stale claims, claims due deliveries up to its free capacity, and
// hands them to the worker grouped by event. Polling keeps working across
// restarts because every claimable fact lives in the delivery store.
type ScheduledProcessor struct {
	deliveries DeliveryStore
	worker     *Worker
	config     SchedulerConfig
	obs        *observability.Provider
	health     *observability.DeliveryHealthTracker
	logger     *slog.Logger
	now        func() time.Time

	inFlight atomic.Int64
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wakeCh  chan struct{}
}

// SchedulerOption configures a ScheduledProcessor.
type SchedulerOption func(*ScheduledProcessor)

// WithSchedulerObservability records RED metrics and spans per attempt.
func WithSchedulerObservability(p *observability.Provider) SchedulerOption {
	return func(s *ScheduledProcessor) {
		s.obs = p
	}
}

// WithSchedulerHealth feeds settled attempts into the per-destination
// health tracker.
func WithSchedulerHealth(t *observability.DeliveryHealthTracker) SchedulerOption {
	return func(s *ScheduledProcessor) {
		s.health = t
	}
}

// WithSchedulerClock substitutes the time source used for claims and
// reclaims.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *ScheduledProcessor) {
		s.now = now
	}
}

// NewScheduledProcessor wires a polling processor over the delivery store
// and worker. Zero config fields fall back to the defaults.
func NewScheduledProcessor(deliveries DeliveryStore, worker *Worker, config SchedulerConfig, opts ...SchedulerOption) *ScheduledProcessor {
	defaults := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	s := &ScheduledProcessor{
		deliveries: deliveries,
		worker:     worker,
		config:     config,
		logger:     slog.Default().With("component", "delivery_scheduler"),
		now:        time.Now,
		wakeCh:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the polling loop.
func (s *ScheduledProcessor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop(ctx, stopCh)

	s.logger.InfoContext(ctx, "delivery scheduler started",
		"poll_interval", s.config.PollInterval, "batch_size", s.config.BatchSize,
		"max_concurrency", s.config.MaxConcurrency)
	return nil
}

// Stop halts the loop and waits up to DrainTimeout for in-flight deliveries.
// Whatever does not finish stays IN_PROGRESS and is reclaimed later.
func (s *ScheduledProcessor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("delivery scheduler stopped")
	case <-time.After(s.config.DrainTimeout):
		s.logger.Warn("drain timeout elapsed, in-flight deliveries left for reclaim",
			"in_flight", s.inFlight.Load())
	}
}

// IsRunning reports whether the loop is active.
func (s *ScheduledProcessor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// OnEvent nudges the loop to poll ahead of its ticker. Fan-out has already
// persisted the deliveries, so losing the nudge only costs latency.
func (s *ScheduledProcessor) OnEvent(ctx context.Context, e *LocalEvent) {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *ScheduledProcessor) pollLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Initial poll picks up whatever a previous process left behind.
	s.PollNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.PollNow(ctx)
		case <-s.wakeCh:
			s.PollNow(ctx)
		}
	}
}

// PollNow runs one scheduling pass immediately: reclaim stale claims, claim
// due deliveries up to free capacity, dispatch them grouped by event. It
// returns how many deliveries were claimed and does not wait for them to
// finish.
func (s *ScheduledProcessor) PollNow(ctx context.Context) int {
	now := s.now()

	reclaimed, err := s.deliveries.ReclaimStuck(ctx, now.Add(-s.config.StaleAfter))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reclaim stuck deliveries", "error", err)
	} else if reclaimed > 0 {
		s.logger.WarnContext(ctx, "reclaimed stuck deliveries", "count", reclaimed)
	}

	free := s.config.MaxConcurrency - int(s.inFlight.Load())
	if free <= 0 {
		return 0
	}
	claimed, err := s.deliveries.ClaimDue(ctx, now, min(free, s.config.BatchSize))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to claim due deliveries", "error", err)
		return 0
	}
	if len(claimed) == 0 {
		return 0
	}

	for _, group := range groupByEvent(claimed) {
		s.logger.DebugContext(ctx, "dispatching delivery group",
			"event_id", group[0].EventID, "deliveries", len(group))
		for _, d := range group {
			s.dispatch(ctx, d)
		}
	}
	return len(claimed)
}

func (s *ScheduledProcessor) dispatch(ctx context.Context, d *Delivery) {
	s.inFlight.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		// A panicking attempt must not take the loop down. The record stays
		// IN_PROGRESS and a later reclaim retries it.
		defer func() {
			if r := recover(); r != nil {
				s.logger.ErrorContext(ctx, "delivery attempt panicked, record left for reclaim",
					"delivery_id", d.ID, "panic", r)
			}
		}()
		s.processOne(ctx, d)
	}()
}

func (s *ScheduledProcessor) processOne(ctx context.Context, d *Delivery) {
	start := s.now()

	var status DeliveryStatus
	if s.obs != nil {
		tctx, done := s.obs.TrackOperation(ctx, "scim.delivery.attempt",
			observability.DeliveryAttempt(d.ID, d.DestinationID, d.EventID)...)
		status = s.worker.Process(tctx, d)
		if status == StatusInProgress {
			done(fmt.Errorf("attempt on delivery %s did not finalize", d.ID))
		} else {
			observability.AddSpanEvent(tctx, "delivery.settled",
				observability.AttrDeliveryStatus.String(string(status)))
			done(nil)
		}
	} else {
		status = s.worker.Process(ctx, d)
	}

	// Attempts that never settled say nothing about the destination.
	if s.health != nil && status != StatusInProgress {
		s.health.Record(observability.DeliveryObservation{
			DestinationID: d.DestinationID,
			Latency:       s.now().Sub(start),
			Success:       status == StatusSuccess,
		})
	}
}

// groupByEvent splits a claimed batch into per-event groups, preserving the
// claim order of first appearance.
func groupByEvent(deliveries []*Delivery) [][]*Delivery {
	index := make(map[string]int)
	var groups [][]*Delivery
	for _, d := range deliveries {
		i, ok := index[d.EventID]
		if !ok {
			i = len(groups)
			index[d.EventID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], d)
	}
	return groups
}
