// Package store provides the persistence backends for the provisioning
// core: in-memory (tests, lite mode), PostgreSQL, and SQLite.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

// MemoryDestinationStore keeps destinations in a mutex-guarded map.
type MemoryDestinationStore struct {
	mu           sync.RWMutex
	destinations map[string]*provisioning.Destination
}

func NewMemoryDestinationStore() *MemoryDestinationStore {
	return &MemoryDestinationStore{destinations: make(map[string]*provisioning.Destination)}
}

func (s *MemoryDestinationStore) Create(ctx context.Context, d *provisioning.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.destinations {
		if existing.TenantID == d.TenantID && existing.Name == d.Name {
			return provisioning.ErrNameTaken
		}
	}
	s.destinations[d.ID] = copyDestination(d)
	return nil
}

func (s *MemoryDestinationStore) Get(ctx context.Context, id string) (*provisioning.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.destinations[id]
	if !ok {
		return nil, nil
	}
	return copyDestination(d), nil
}

func (s *MemoryDestinationStore) Update(ctx context.Context, d *provisioning.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.destinations[d.ID]; !ok {
		return provisioning.ErrDestinationNotFound
	}
	for _, existing := range s.destinations {
		if existing.ID != d.ID && existing.TenantID == d.TenantID && existing.Name == d.Name {
			return provisioning.ErrNameTaken
		}
	}
	s.destinations[d.ID] = copyDestination(d)
	return nil
}

func (s *MemoryDestinationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.destinations, id)
	return nil
}

func (s *MemoryDestinationStore) ListByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	return s.list(tenantID, false), nil
}

func (s *MemoryDestinationStore) ListEnabledByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	return s.list(tenantID, true), nil
}

func (s *MemoryDestinationStore) list(tenantID string, enabledOnly bool) []*provisioning.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*provisioning.Destination
	for _, d := range s.destinations {
		if d.TenantID != tenantID {
			continue
		}
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, copyDestination(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func copyDestination(d *provisioning.Destination) *provisioning.Destination {
	cp := *d
	if d.AttributeMapping != nil {
		cp.AttributeMapping = make(map[string]string, len(d.AttributeMapping))
		for k, v := range d.AttributeMapping {
			cp.AttributeMapping[k] = v
		}
	}
	cp.EnabledOperations = append([]provisioning.OperationKind(nil), d.EnabledOperations...)
	return &cp
}

// MemoryEventStore records accepted events, first write wins per id.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*provisioning.LocalEvent
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]*provisioning.LocalEvent)}
}

func (s *MemoryEventStore) Record(ctx context.Context, e *provisioning.LocalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID]; ok {
		return nil
	}
	s.events[e.ID] = copyEvent(e)
	return nil
}

func (s *MemoryEventStore) Get(ctx context.Context, id string) (*provisioning.LocalEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

func copyEvent(e *provisioning.LocalEvent) *provisioning.LocalEvent {
	cp := *e
	if e.Snapshot != nil {
		cp.Snapshot = make(map[string]any, len(e.Snapshot))
		for k, v := range e.Snapshot {
			cp.Snapshot[k] = v
		}
	}
	return &cp
}

type deliveryPair struct {
	eventID       string
	destinationID string
}

// MemoryDeliveryStore implements the delivery state machine in memory.
// Records are kept in creation order so ClaimDue and the list operations
// stay deterministic.
type MemoryDeliveryStore struct {
	mu     sync.Mutex
	byID   map[string]*provisioning.Delivery
	byPair map[deliveryPair]string
	order  []string
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{
		byID:   make(map[string]*provisioning.Delivery),
		byPair: make(map[deliveryPair]string),
	}
}

func (s *MemoryDeliveryStore) InsertPending(ctx context.Context, eventID, destinationID string) (*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := deliveryPair{eventID: eventID, destinationID: destinationID}
	if id, ok := s.byPair[pair]; ok {
		return copyDelivery(s.byID[id]), nil
	}

	d := &provisioning.Delivery{
		ID:            uuid.NewString(),
		EventID:       eventID,
		DestinationID: destinationID,
		Status:        provisioning.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	s.byID[d.ID] = d
	s.byPair[pair] = d.ID
	s.order = append(s.order, d.ID)
	return copyDelivery(d), nil
}

func (s *MemoryDeliveryStore) Get(ctx context.Context, id string) (*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return copyDelivery(d), nil
}

func (s *MemoryDeliveryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*provisioning.Delivery
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		d := s.byID[id]
		due := d.Status == provisioning.StatusPending ||
			(d.Status == provisioning.StatusRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now))
		if !due {
			continue
		}
		d.Status = provisioning.StatusInProgress
		claimedAt := now
		d.ClaimedAt = &claimedAt
		claimed = append(claimed, copyDelivery(d))
	}
	return claimed, nil
}

func (s *MemoryDeliveryStore) MarkSuccess(ctx context.Context, id string, httpStatus int, scimResourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	d.Status = provisioning.StatusSuccess
	d.HTTPStatus = &httpStatus
	if scimResourceID != "" {
		d.SCIMResourceID = scimResourceID
	}
	d.NextRetryAt = nil
	d.ClaimedAt = nil
	now := time.Now().UTC()
	d.CompletedAt = &now
	return nil
}

func (s *MemoryDeliveryStore) MarkRetry(ctx context.Context, id string, httpStatus int, errMsg string, nextRetryAt time.Time, newRetryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	d.Status = provisioning.StatusRetrying
	if httpStatus != 0 {
		d.HTTPStatus = &httpStatus
	} else {
		d.HTTPStatus = nil
	}
	d.LastError = provisioning.TruncateError(errMsg)
	retryAt := nextRetryAt
	d.NextRetryAt = &retryAt
	d.RetryCount = newRetryCount
	d.ClaimedAt = nil
	return nil
}

func (s *MemoryDeliveryStore) MarkFailed(ctx context.Context, id string, httpStatus int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("delivery %s not found", id)
	}
	d.Status = provisioning.StatusFailed
	if httpStatus != 0 {
		d.HTTPStatus = &httpStatus
	}
	d.LastError = provisioning.TruncateError(errMsg)
	d.NextRetryAt = nil
	d.ClaimedAt = nil
	now := time.Now().UTC()
	d.CompletedAt = &now
	return nil
}

func (s *MemoryDeliveryStore) ReclaimStuck(ctx context.Context, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for _, d := range s.byID {
		if d.Status == provisioning.StatusInProgress && d.ClaimedAt != nil && d.ClaimedAt.Before(threshold) {
			d.Status = provisioning.StatusPending
			d.ClaimedAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *MemoryDeliveryStore) ListByDestination(ctx context.Context, destinationID string, limit, offset int) ([]*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*provisioning.Delivery
	skipped := 0
	for i := len(s.order) - 1; i >= 0; i-- {
		d := s.byID[s.order[i]]
		if d.DestinationID != destinationID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(out) >= limit {
			break
		}
		out = append(out, copyDelivery(d))
	}
	return out, nil
}

func (s *MemoryDeliveryStore) ListByEvent(ctx context.Context, eventID string) ([]*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*provisioning.Delivery
	for _, id := range s.order {
		d := s.byID[id]
		if d.EventID == eventID {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

// ListTerminalBefore returns SUCCESS/FAILED deliveries completed before
// cutoff, oldest completion first. Used by the retention exporter.
func (s *MemoryDeliveryStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*provisioning.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*provisioning.Delivery
	for _, id := range s.order {
		d := s.byID[id]
		if !d.Terminal() || d.CompletedAt == nil || !d.CompletedAt.Before(cutoff) {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt.Equal(*out[j].CompletedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CompletedAt.Before(*out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByIDs removes delivery records after they have been archived.
func (s *MemoryDeliveryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		d, ok := s.byID[id]
		if !ok {
			continue
		}
		drop[id] = true
		delete(s.byPair, deliveryPair{eventID: d.EventID, destinationID: d.DestinationID})
		delete(s.byID, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

func copyDelivery(d *provisioning.Delivery) *provisioning.Delivery {
	cp := *d
	if d.HTTPStatus != nil {
		v := *d.HTTPStatus
		cp.HTTPStatus = &v
	}
	if d.NextRetryAt != nil {
		v := *d.NextRetryAt
		cp.NextRetryAt = &v
	}
	if d.ClaimedAt != nil {
		v := *d.ClaimedAt
		cp.ClaimedAt = &v
	}
	if d.CompletedAt != nil {
		v := *d.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

type mappingKey struct {
	destinationID string
	localType     provisioning.ResourceType
	localID       string
}

// MemoryMappingStore keeps resource id mappings in memory.
type MemoryMappingStore struct {
	mu       sync.RWMutex
	mappings map[mappingKey]*provisioning.ResourceMapping
}

func NewMemoryMappingStore() *MemoryMappingStore {
	return &MemoryMappingStore{mappings: make(map[mappingKey]*provisioning.ResourceMapping)}
}

func (s *MemoryMappingStore) Upsert(ctx context.Context, m *provisioning.ResourceMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey{destinationID: m.DestinationID, localType: m.LocalType, localID: m.LocalResourceID}
	if existing, ok := s.mappings[key]; ok {
		existing.SCIMResourceID = m.SCIMResourceID
		return nil
	}
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.mappings[key] = &cp
	return nil
}

func (s *MemoryMappingStore) Get(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) (*provisioning.ResourceMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[mappingKey{destinationID: destinationID, localType: localType, localID: localResourceID}]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMappingStore) Delete(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, mappingKey{destinationID: destinationID, localType: localType, localID: localResourceID})
	return nil
}

func (s *MemoryMappingStore) DeleteByDestination(ctx context.Context, destinationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.mappings {
		if key.destinationID == destinationID {
			delete(s.mappings, key)
		}
	}
	return nil
}
