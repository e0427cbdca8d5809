// Package provisioning implements the outbound SCIM provisioning core:
// lifecycle events recorded for users, groups, and group memberships are
// fanned out into per-destination deliveries and propagated to downstream
// SCIM 2.0 service providers with at-least-once semantics.
package provisioning

import (
	"time"
)

// ResourceType identifies the kind of local resource an event refers to.
type ResourceType string

const (
	ResourceUser        ResourceType = "USER"
	ResourceGroup       ResourceType = "GROUP"
	ResourceGroupMember ResourceType = "GROUP_MEMBER"
)

// EventKind is the lifecycle transition recorded by a local event.
type EventKind string

const (
	EventCreate EventKind = "CREATE"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// OperationKind is one of the nine SCIM operations the core may emit.
type OperationKind string

const (
	OpCreateUser        OperationKind = "CREATE_USER"
	OpUpdateUser        OperationKind = "UPDATE_USER"
	OpDeactivateUser    OperationKind = "DEACTIVATE_USER"
	OpDeleteUser        OperationKind = "DELETE_USER"
	OpCreateGroup       OperationKind = "CREATE_GROUP"
	OpUpdateGroup       OperationKind = "UPDATE_GROUP"
	OpDeleteGroup       OperationKind = "DELETE_GROUP"
	OpAddGroupMember    OperationKind = "ADD_GROUP_MEMBER"
	OpRemoveGroupMember OperationKind = "REMOVE_GROUP_MEMBER"
)

// AllOperations lists every operation kind in a stable order.
var AllOperations = []OperationKind{
	OpCreateUser, OpUpdateUser, OpDeactivateUser, OpDeleteUser,
	OpCreateGroup, OpUpdateGroup, OpDeleteGroup,
	OpAddGroupMember, OpRemoveGroupMember,
}

// DeliveryStatus tracks a delivery through its attempt sequence.
type DeliveryStatus string

const (
	StatusPending    DeliveryStatus = "PENDING"
	StatusInProgress DeliveryStatus = "IN_PROGRESS"
	StatusSuccess    DeliveryStatus = "SUCCESS"
	StatusRetrying   DeliveryStatus = "RETRYING"
	StatusFailed     DeliveryStatus = "FAILED"
)

// DeleteAction selects how a local USER delete is propagated downstream.
type DeleteAction string

const (
	DeleteActionDeactivate DeleteAction = "DEACTIVATE"
	DeleteActionHardDelete DeleteAction = "HARD_DELETE"
)

// AuthMode selects how requests to a destination are authenticated.
type AuthMode string

const (
	// AuthModeOAuthJWT mints a fresh signed bearer token for every attempt.
	AuthModeOAuthJWT AuthMode = "OAUTH_JWT"
	// AuthModeStaticBearer sends a stored long-lived bearer credential.
	AuthModeStaticBearer AuthMode = "STATIC_BEARER"
)

// RetryPolicy governs backoff and the terminal decision for one destination.
type RetryPolicy struct {
	MaxRetries       int     `json:"max_retries"`
	InitialBackoffMs int64   `json:"initial_backoff_ms"`
	MaxBackoffMs     int64   `json:"max_backoff_ms"`
	Multiplier       float64 `json:"multiplier"`
}

// DefaultRetryPolicy returns the policy applied when a destination does not
// configure its own: 5 retries, 1s initial, 5m cap, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       5,
		InitialBackoffMs: 1000,
		MaxBackoffMs:     300000,
		Multiplier:       2.0,
	}
}

// Destination is a configured downstream SCIM service provider bound to one
// tenant (authorization server).
type Destination struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	ClientAppID       string            `json:"client_app_id"`
	Name              string            `json:"name"`
	BaseURL           string            `json:"base_url"`
	AttributeMapping  map[string]string `json:"attribute_mapping,omitempty"`
	EnabledOperations []OperationKind   `json:"enabled_operations"`
	DeleteAction      DeleteAction      `json:"delete_action"`
	RetryPolicy       RetryPolicy       `json:"retry_policy"`
	FilterExpression  string            `json:"filter_expression,omitempty"`
	AuthMode          AuthMode          `json:"auth_mode"`
	Enabled           bool              `json:"enabled"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// OperationEnabled reports whether op is in the destination's enabled set.
func (d *Destination) OperationEnabled(op OperationKind) bool {
	for _, o := range d.EnabledOperations {
		if o == op {
			return true
		}
	}
	return false
}

// Delivery is the durable record of propagating one local event to one
// destination. Exactly one row exists per (event, destination) pair.
type Delivery struct {
	ID             string         `json:"id"`
	EventID        string         `json:"event_id"`
	DestinationID  string         `json:"destination_id"`
	Status         DeliveryStatus `json:"status"`
	SCIMResourceID string         `json:"scim_resource_id,omitempty"`
	HTTPStatus     *int           `json:"http_status,omitempty"`
	RetryCount     int            `json:"retry_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the delivery has reached a final state.
func (d *Delivery) Terminal() bool {
	return d.Status == StatusSuccess || d.Status == StatusFailed
}

// ResourceMapping binds a local resource id to the opaque id a specific
// downstream SCIM server assigned to it. Unique per
// (destination, local type, local id).
type ResourceMapping struct {
	ID              string       `json:"id"`
	DestinationID   string       `json:"destination_id"`
	LocalType       ResourceType `json:"local_resource_type"`
	LocalResourceID string       `json:"local_resource_id"`
	SCIMResourceID  string       `json:"scim_resource_id"`
	CreatedAt       time.Time    `json:"created_at"`
}

// LocalEvent is the contract producers publish after their primary write
// commits. Snapshot holds a tenant-local structural dump of the entity at
// event time, keyed by view ("user"/"profile", "group", "groupMember").
type LocalEvent struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Kind         EventKind      `json:"kind"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Snapshot     map[string]any `json:"snapshot,omitempty"`
}

// SCIMRelevant reports whether the event's resource type participates in
// outbound provisioning at all.
func (e *LocalEvent) SCIMRelevant() bool {
	switch e.ResourceType {
	case ResourceUser, ResourceGroup, ResourceGroupMember:
		return true
	}
	return false
}

// MaxLastErrorLen caps the persisted last_error column.
const MaxLastErrorLen = 1000

// TruncateError trims an error message to the persisted column limit.
func TruncateError(msg string) string {
	if len(msg) <= MaxLastErrorLen {
		return msg
	}
	return msg[:MaxLastErrorLen]
}
