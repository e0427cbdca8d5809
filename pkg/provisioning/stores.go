package provisioning

import (
	"context"
	"errors"
	"time"
)

// Errors callers branch on when talking to the stores or the facade.
var (
	ErrDestinationNotFound = errors.New("destination not found")
	ErrNameTaken           = errors.New("destination name already in use for tenant")
	ErrEventNotFound       = errors.New("event not found")
)

// DestinationStore persists destination configuration. Get returns
// (nil, nil) when the id is unknown; the facade translates that into
// ErrDestinationNotFound for its callers.
type DestinationStore interface {
	Create(ctx context.Context, d *Destination) error
	Get(ctx context.Context, id string) (*Destination, error)
	Update(ctx context.Context, d *Destination) error
	Delete(ctx context.Context, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Destination, error)
	// ListEnabledByTenant returns only destinations with Enabled=true,
	// the set an event fans out to.
	ListEnabledByTenant(ctx context.Context, tenantID string) ([]*Destination, error)
}

// EventStore records accepted local events so workers can translate them
// later, possibly after a restart. Record is idempotent by event id.
// Get returns (nil, nil) for unknown ids.
type EventStore interface {
	Record(ctx context.Context, e *LocalEvent) error
	Get(ctx context.Context, id string) (*LocalEvent, error)
}

// DeliveryStore is the durable delivery state machine. ClaimDue hands each
// returned record to exactly one caller by atomically flipping it to
// IN_PROGRESS; a claimed record stays IN_PROGRESS until one of the Mark
// operations or a reclaim moves it on.
type DeliveryStore interface {
	// InsertPending creates the PENDING record for (eventID, destinationID),
	// or returns the existing one: at most one row exists per pair.
	InsertPending(ctx context.Context, eventID, destinationID string) (*Delivery, error)
	Get(ctx context.Context, id string) (*Delivery, error)
	// ClaimDue returns up to limit records that are PENDING or RETRYING with
	// next_retry_at <= now, oldest created_at first, flipped to IN_PROGRESS.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	// MarkSuccess finalizes the record; scimResourceID is stored when
	// non-empty (successful CREATE responses).
	MarkSuccess(ctx context.Context, id string, httpStatus int, scimResourceID string) error
	// MarkRetry schedules the next attempt. httpStatus 0 means no HTTP
	// response was observed (transport failure) and is stored as null.
	MarkRetry(ctx context.Context, id string, httpStatus int, errMsg string, nextRetryAt time.Time, newRetryCount int) error
	// MarkFailed finalizes the record as FAILED. httpStatus 0 keeps the
	// previously recorded status, if any.
	MarkFailed(ctx context.Context, id string, httpStatus int, errMsg string) error
	// ReclaimStuck flips IN_PROGRESS records claimed before threshold back
	// to PENDING and reports how many were reclaimed.
	ReclaimStuck(ctx context.Context, threshold time.Time) (int, error)
	// ListByDestination pages through a destination's deliveries, newest
	// first.
	ListByDestination(ctx context.Context, destinationID string, limit, offset int) ([]*Delivery, error)
	ListByEvent(ctx context.Context, eventID string) ([]*Delivery, error)
}

// MappingStore binds local resource ids to the ids downstream servers
// assigned. Get returns (nil, nil) when no mapping exists.
type MappingStore interface {
	// Upsert creates the mapping or replaces its scim id if the downstream
	// re-issued one. The (destination, type, local id) triple stays unique.
	Upsert(ctx context.Context, m *ResourceMapping) error
	Get(ctx context.Context, destinationID string, localType ResourceType, localResourceID string) (*ResourceMapping, error)
	Delete(ctx context.Context, destinationID string, localType ResourceType, localResourceID string) error
	// DeleteByDestination removes every mapping of a destination, used when
	// the destination itself is deleted.
	DeleteByDestination(ctx context.Context, destinationID string) error
}
