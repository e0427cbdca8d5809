package provisioning

import (
	"context"
	"log/slog"
)

// Intake turns accepted local events into PENDING deliveries, one per enabled
// destination of the event's tenant. It sits behind the event bus: failures
// are logged and swallowed so the primary write path never observes
// provisioning trouble.
type Intake struct {
	events       EventStore
	destinations DestinationStore
	deliveries   DeliveryStore
	validator    *SnapshotValidator
	filter       *EventFilter
	logger       *slog.Logger
}

// NewIntake wires the fanout stage.
func NewIntake(events EventStore, destinations DestinationStore, deliveries DeliveryStore, validator *SnapshotValidator, filter *EventFilter) *Intake {
	return &Intake{
		events:       events,
		destinations: destinations,
		deliveries:   deliveries,
		validator:    validator,
		filter:       filter,
		logger:       slog.Default().With("component", "scim_intake"),
	}
}

// OnLocalEvent records the event and fans it out. Irrelevant resource types
// are ignored, invalid snapshots are dropped, and per-destination failures
// skip only that destination. Inserting the same event twice is a no-op
// thanks to the (event, destination) uniqueness in the delivery store.
func (in *Intake) OnLocalEvent(ctx context.Context, e *LocalEvent) {
	if !e.SCIMRelevant() {
		return
	}

	if err := in.validator.Validate(e); err != nil {
		in.logger.WarnContext(ctx, "dropping event with invalid snapshot",
			"event_id", e.ID, "resource_type", e.ResourceType, "error", err)
		return
	}

	if err := in.events.Record(ctx, e); err != nil {
		in.logger.ErrorContext(ctx, "failed to record event, fanout aborted",
			"event_id", e.ID, "error", err)
		return
	}

	dests, err := in.destinations.ListEnabledByTenant(ctx, e.TenantID)
	if err != nil {
		in.logger.ErrorContext(ctx, "failed to list destinations, fanout aborted",
			"event_id", e.ID, "tenant_id", e.TenantID, "error", err)
		return
	}

	fanned := 0
	for _, dest := range dests {
		if !in.destinationMatches(ctx, dest, e) {
			continue
		}
		if _, err := in.deliveries.InsertPending(ctx, e.ID, dest.ID); err != nil {
			in.logger.ErrorContext(ctx, "failed to create delivery",
				"event_id", e.ID, "destination_id", dest.ID, "error", err)
			continue
		}
		fanned++
	}

	if fanned > 0 {
		in.logger.InfoContext(ctx, "event fanned out",
			"event_id", e.ID, "resource_type", e.ResourceType, "kind", e.Kind, "deliveries", fanned)
	}
}

// destinationMatches applies the destination's scoping filter. Deletes
// without a snapshot always match: a delete for a resource the destination
// never received resolves downstream as a synthetic success, while filtering
// it out here could leave an orphan behind.
func (in *Intake) destinationMatches(ctx context.Context, dest *Destination, e *LocalEvent) bool {
	if dest.FilterExpression == "" {
		return true
	}
	if e.Kind == EventDelete && e.Snapshot == nil {
		return true
	}

	matched, err := in.filter.Matches(dest.FilterExpression, e)
	if err != nil {
		in.logger.WarnContext(ctx, "scoping filter failed, skipping destination",
			"event_id", e.ID, "destination_id", dest.ID, "error", err)
		return false
	}
	return matched
}
