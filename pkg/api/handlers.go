package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/halyard/pkg/clientapps"
	"github.com/Mindburn-Labs/halyard/pkg/observability"
	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Server is the admin HTTP surface over the destination facade. Handlers stay
// thin: decode, call the facade, map errors to problem+json.
type Server struct {
	svc    *provisioning.DestinationService
	health *observability.DeliveryHealthTracker
	obs    *observability.Provider
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDeliveryHealth exposes per-destination delivery health on the API.
func WithDeliveryHealth(t *observability.DeliveryHealthTracker) ServerOption {
	return func(s *Server) { s.health = t }
}

// WithObservability traces admin operations through the provider.
func WithObservability(p *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = p }
}

// NewServer builds the admin API over the destination service.
func NewServer(svc *provisioning.DestinationService, opts ...ServerOption) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes attaches the admin API to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/destinations", s.handleDestinations)
	mux.HandleFunc("/api/v1/destinations/", s.handleDestinationsRouter)
	mux.HandleFunc("/api/v1/events/", s.handleEventsRouter)
	mux.HandleFunc("/api/v1/applications/", s.handleApplicationsRouter)
}

// handleDestinations serves /api/v1/destinations — list or create.
func (s *Server) handleDestinations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDestinations(w, r)
	case http.MethodPost:
		s.handleCreateDestination(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

// handleDestinationsRouter routes requests to /api/v1/destinations/{id}[/...].
func (s *Server) handleDestinationsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/destinations/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if parts[0] == "" {
		WriteBadRequest(w, "Missing destination ID")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handleDestinationItem(w, r, id)
	case len(parts) == 2 && parts[1] == "deliveries":
		s.handleDestinationDeliveries(w, r, id)
	case len(parts) == 2 && parts[1] == "health":
		s.handleDestinationHealth(w, r, id)
	default:
		WriteNotFound(w, "Unknown destination resource")
	}
}

func (s *Server) handleCreateDestination(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		WriteBadRequest(w, "Missing required header: X-Tenant-ID")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var in provisioning.DestinationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, done := s.track(r, "admin.destination.create")
	created, err := s.svc.CreateDestination(ctx, tenantID, in)
	done(err)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		WriteBadRequest(w, "Missing required header: X-Tenant-ID")
		return
	}

	dests, err := s.svc.ListDestinations(r.Context(), tenantID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if dests == nil {
		dests = []*provisioning.Destination{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"destinations": dests})
}

// handleDestinationItem serves GET/PUT/DELETE on a single destination.
func (s *Server) handleDestinationItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		dest, err := s.svc.GetDestination(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dest)

	case http.MethodPut:
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
		var in provisioning.DestinationInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
		ctx, done := s.track(r, "admin.destination.update")
		updated, err := s.svc.UpdateDestination(ctx, id, in)
		done(err)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(updated)

	case http.MethodDelete:
		ctx, done := s.track(r, "admin.destination.delete")
		err := s.svc.DeleteDestination(ctx, id)
		done(err)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		WriteMethodNotAllowed(w)
	}
}

// handleDestinationDeliveries serves GET /api/v1/destinations/{id}/deliveries.
// Paginated via limit/offset query parameters, newest first.
func (s *Server) handleDestinationDeliveries(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	limit, offset := pagination(r)
	deliveries, err := s.svc.ListDeliveries(r.Context(), id, limit, offset)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []*provisioning.Delivery{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"deliveries": deliveries,
		"limit":      limit,
		"offset":     offset,
	})
}

// handleDestinationHealth serves GET /api/v1/destinations/{id}/health:
// rolling-window delivery health for one destination.
func (s *Server) handleDestinationHealth(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.health == nil {
		WriteNotFound(w, "Delivery health tracking is not enabled on this deployment")
		return
	}

	// 404 for unknown destinations; the tracker itself answers for any id.
	if _, err := s.svc.GetDestination(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.health.Health(id))
}

// handleEventsRouter serves GET /api/v1/events/{id}/deliveries.
func (s *Server) handleEventsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "deliveries" {
		WriteNotFound(w, "Unknown event resource")
		return
	}
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	deliveries, err := s.svc.EventDeliveries(r.Context(), parts[0])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if deliveries == nil {
		deliveries = []*provisioning.Delivery{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"deliveries": deliveries})
}

// validateApplicationRequest asks whether a client application can serve a
// destination with the given operations enabled.
type validateApplicationRequest struct {
	Operations []provisioning.OperationKind `json:"operations"`
}

type validateApplicationResponse struct {
	Valid         bool     `json:"valid"`
	MissingScopes []string `json:"missing_scopes,omitempty"`
}

// handleApplicationsRouter serves POST /api/v1/applications/{id}/validate.
func (s *Server) handleApplicationsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/applications/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "validate" {
		WriteNotFound(w, "Unknown application resource")
		return
	}
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req validateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	ops := req.Operations
	if len(ops) == 0 {
		ops = provisioning.AllOperations
	}

	valid, missing, err := s.svc.ValidateApplication(r.Context(), parts[0], ops)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(validateApplicationResponse{Valid: valid, MissingScopes: missing})
}

// track opens a traced operation when a provider is configured. The returned
// done func must be called with the operation's error.
func (s *Server) track(r *http.Request, name string) (context.Context, func(error)) {
	if s.obs == nil {
		return r.Context(), func(error) {}
	}
	return s.obs.TrackOperation(r.Context(), name)
}

// writeServiceError maps facade errors onto problem+json responses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *provisioning.ValidationError
	var serr *provisioning.ScopeError
	switch {
	case errors.As(err, &verr):
		WriteBadRequest(w, verr.Message)
	case errors.As(err, &serr):
		WriteBadRequest(w, serr.Error())
	case errors.Is(err, provisioning.ErrNameTaken):
		WriteConflict(w, "A destination with this name already exists for the tenant")
	case errors.Is(err, provisioning.ErrDestinationNotFound):
		WriteNotFound(w, "Destination does not exist")
	case errors.Is(err, clientapps.ErrApplicationNotFound):
		WriteNotFound(w, "Client application does not exist")
	default:
		WriteInternal(w, err)
	}
}

// pagination parses limit/offset query parameters with sane bounds.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
