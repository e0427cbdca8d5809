package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

// EventPublisher hands accepted lifecycle events to the fan-out pipeline.
// Implemented by *bus.Bus.
type EventPublisher interface {
	Publish(ctx context.Context, event *provisioning.LocalEvent)
}

// EventsIngest is the ingress for deployments where the system of record
// runs out of process: it accepts one lifecycle event per POST and queues it
// for fan-out. A 202 acknowledges receipt, not delivery; delivery progress
// is visible under /api/v1/events/{id}/deliveries.
type EventsIngest struct {
	pub EventPublisher
}

// NewEventsIngest builds the event ingress over a publisher.
func NewEventsIngest(pub EventPublisher) *EventsIngest {
	return &EventsIngest{pub: pub}
}

func (h *EventsIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var e provisioning.LocalEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return
	}
	if e.TenantID == "" || e.ResourceID == "" {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "tenant_id and resource_id are required")
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	// Snapshot validation happens at intake; the ingress only gates shape.
	h.pub.Publish(r.Context(), &e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"event_id": e.ID})
}
