package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/halyard/pkg/clientapps"
	"github.com/Mindburn-Labs/halyard/pkg/scim"
)

// ClientAppDirectory is the slice of the client-application registry the
// facade needs. Implemented by the clientapps stores.
type ClientAppDirectory interface {
	EnsureTenantScopes(ctx context.Context, tenantID string, scopes []string) error
	// CreateApplication returns the new application id and its raw secret.
	// The secret is shown exactly once.
	CreateApplication(ctx context.Context, tenantID, name string, scopes []string) (string, string, error)
	ApplicationScopes(ctx context.Context, id string) ([]string, error)
}

// StaticCredentialStore keeps long-lived bearer tokens for STATIC_BEARER
// destinations. Implemented by the credentials stores.
type StaticCredentialStore interface {
	Put(ctx context.Context, destinationID, token string) error
	Delete(ctx context.Context, destinationID string) error
}

// ValidationError rejects a destination configuration. The message is safe
// to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ScopeError reports that a client application lacks scopes the enabled
// operations require.
type ScopeError struct {
	ClientAppID string
	Missing     []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("client application %s is missing required scopes: %s",
		e.ClientAppID, strings.Join(e.Missing, ", "))
}

// DestinationInput is the caller-settable destination state. Create and
// Update both take the full intent: zero-valued optional fields fall back to
// defaults, they never mean "keep the old value".
type DestinationInput struct {
	Name             string            `json:"name"`
	BaseURL          string            `json:"base_url"`
	ClientAppID      string            `json:"client_app_id,omitempty"`
	AttributeMapping map[string]string `json:"attribute_mapping,omitempty"`
	// EnabledOperations defaults to every operation when empty.
	EnabledOperations []OperationKind `json:"enabled_operations,omitempty"`
	DeleteAction      DeleteAction    `json:"delete_action,omitempty"`
	RetryPolicy       *RetryPolicy    `json:"retry_policy,omitempty"`
	FilterExpression  string          `json:"filter_expression,omitempty"`
	AuthMode          AuthMode        `json:"auth_mode,omitempty"`
	// StaticBearerToken is stored encrypted for STATIC_BEARER destinations.
	// Empty on update keeps the stored credential.
	StaticBearerToken string `json:"static_bearer_token,omitempty"`
	// Enabled defaults to true when nil.
	Enabled *bool `json:"enabled,omitempty"`
}

// ProvisionedDestination is a create result. ClientSecret is non-empty only
// when a client application was provisioned in the same call; it is never
// retrievable again.
type ProvisionedDestination struct {
	Destination  *Destination `json:"destination"`
	ClientSecret string       `json:"client_secret,omitempty"`
}

// DestinationService is the admin facade over destination configuration. It
// owns validation, scope checks against the client-app registry, and the
// cleanup that keeps mappings and credentials consistent with the
// destination set.
type DestinationService struct {
	destinations DestinationStore
	deliveries   DeliveryStore
	mappings     MappingStore
	apps         ClientAppDirectory
	credentials  StaticCredentialStore
	filter       *EventFilter
	hostPolicy   func(host string) bool
	logger       *slog.Logger
	now          func() time.Time
}

// ServiceOption configures a DestinationService.
type ServiceOption func(*DestinationService)

// WithStaticCredentials enables STATIC_BEARER destinations.
func WithStaticCredentials(cs StaticCredentialStore) ServiceOption {
	return func(s *DestinationService) {
		s.credentials = cs
	}
}

// WithBaseURLPolicy restricts which hosts destination base URLs may target,
// per the deployment's outbound networking policy.
func WithBaseURLPolicy(allowed func(host string) bool) ServiceOption {
	return func(s *DestinationService) {
		s.hostPolicy = allowed
	}
}

// WithServiceClock substitutes the time source for created/updated stamps.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *DestinationService) {
		s.now = now
	}
}

// NewDestinationService wires the facade over its stores.
func NewDestinationService(
	destinations DestinationStore,
	deliveries DeliveryStore,
	mappings MappingStore,
	apps ClientAppDirectory,
	filter *EventFilter,
	opts ...ServiceOption,
) *DestinationService {
	s := &DestinationService{
		destinations: destinations,
		deliveries:   deliveries,
		mappings:     mappings,
		apps:         apps,
		filter:       filter,
		logger:       slog.Default().With("component", "destination_service"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDestination validates and persists a destination. When no client
// application id is supplied, one is provisioned with exactly the scopes the
// enabled operations require and its secret is returned once.
func (s *DestinationService) CreateDestination(ctx context.Context, tenantID string, in DestinationInput) (*ProvisionedDestination, error) {
	if tenantID == "" {
		return nil, validationErrf("tenant_id is required")
	}
	norm, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	if err := s.apps.EnsureTenantScopes(ctx, tenantID, AllSCIMScopes); err != nil {
		return nil, fmt.Errorf("failed to ensure tenant scopes: %w", err)
	}

	clientAppID := in.ClientAppID
	clientSecret := ""
	if clientAppID != "" {
		if err := s.checkAppScopes(ctx, clientAppID, norm.operations); err != nil {
			return nil, err
		}
	} else {
		appName := fmt.Sprintf("%s SCIM Client", norm.name)
		id, secret, err := s.apps.CreateApplication(ctx, tenantID, appName, RequiredScopes(norm.operations))
		if err != nil {
			return nil, fmt.Errorf("failed to provision client application: %w", err)
		}
		clientAppID, clientSecret = id, secret
	}

	now := s.now().UTC()
	dest := &Destination{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		ClientAppID:       clientAppID,
		Name:              norm.name,
		BaseURL:           norm.baseURL,
		AttributeMapping:  in.AttributeMapping,
		EnabledOperations: norm.operations,
		DeleteAction:      norm.deleteAction,
		RetryPolicy:       norm.retryPolicy,
		FilterExpression:  norm.filterExpression,
		AuthMode:          norm.authMode,
		Enabled:           norm.enabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if norm.authMode == AuthModeStaticBearer {
		if s.credentials == nil {
			return nil, validationErrf("static bearer auth is not configured on this deployment")
		}
		if in.StaticBearerToken == "" {
			return nil, validationErrf("static_bearer_token is required for STATIC_BEARER auth")
		}
		if err := s.credentials.Put(ctx, dest.ID, in.StaticBearerToken); err != nil {
			return nil, fmt.Errorf("failed to store static bearer credential: %w", err)
		}
	}

	if err := s.destinations.Create(ctx, dest); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "destination created",
		"destination_id", dest.ID, "tenant_id", tenantID, "name", dest.Name,
		"client_app_provisioned", clientSecret != "")
	return &ProvisionedDestination{Destination: dest, ClientSecret: clientSecret}, nil
}

// UpdateDestination replaces a destination's configuration. Scopes are
// re-checked against the (possibly new) client application, so widening
// enabled operations past the app's grants fails.
func (s *DestinationService) UpdateDestination(ctx context.Context, id string, in DestinationInput) (*Destination, error) {
	existing, err := s.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}
	norm, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	clientAppID := existing.ClientAppID
	if in.ClientAppID != "" {
		clientAppID = in.ClientAppID
	}
	if err := s.checkAppScopes(ctx, clientAppID, norm.operations); err != nil {
		return nil, err
	}

	if norm.authMode == AuthModeStaticBearer {
		if s.credentials == nil {
			return nil, validationErrf("static bearer auth is not configured on this deployment")
		}
		if in.StaticBearerToken == "" && existing.AuthMode != AuthModeStaticBearer {
			return nil, validationErrf("static_bearer_token is required when switching to STATIC_BEARER auth")
		}
		if in.StaticBearerToken != "" {
			if err := s.credentials.Put(ctx, id, in.StaticBearerToken); err != nil {
				return nil, fmt.Errorf("failed to store static bearer credential: %w", err)
			}
		}
	}

	updated := *existing
	updated.ClientAppID = clientAppID
	updated.Name = norm.name
	updated.BaseURL = norm.baseURL
	updated.AttributeMapping = in.AttributeMapping
	updated.EnabledOperations = norm.operations
	updated.DeleteAction = norm.deleteAction
	updated.RetryPolicy = norm.retryPolicy
	updated.FilterExpression = norm.filterExpression
	updated.AuthMode = norm.authMode
	updated.Enabled = norm.enabled
	updated.UpdatedAt = s.now().UTC()

	if err := s.destinations.Update(ctx, &updated); err != nil {
		return nil, err
	}

	// A destination moved off static auth no longer needs its credential.
	if existing.AuthMode == AuthModeStaticBearer && norm.authMode != AuthModeStaticBearer && s.credentials != nil {
		if err := s.credentials.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "failed to remove stale static credential",
				"destination_id", id, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "destination updated", "destination_id", id)
	return &updated, nil
}

// DeleteDestination removes the destination, its resource mappings, and any
// stored static credential. Historical deliveries are retained for audit.
func (s *DestinationService) DeleteDestination(ctx context.Context, id string) error {
	if _, err := s.GetDestination(ctx, id); err != nil {
		return err
	}

	if err := s.mappings.DeleteByDestination(ctx, id); err != nil {
		return fmt.Errorf("failed to remove resource mappings: %w", err)
	}
	if s.credentials != nil {
		if err := s.credentials.Delete(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "failed to remove static credential",
				"destination_id", id, "error", err)
		}
	}
	if err := s.destinations.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "destination deleted", "destination_id", id)
	return nil
}

// GetDestination loads one destination or returns ErrDestinationNotFound.
func (s *DestinationService) GetDestination(ctx context.Context, id string) (*Destination, error) {
	d, err := s.destinations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDestinationNotFound
	}
	return d, nil
}

// ListDestinations returns every destination of a tenant.
func (s *DestinationService) ListDestinations(ctx context.Context, tenantID string) ([]*Destination, error) {
	return s.destinations.ListByTenant(ctx, tenantID)
}

// ListDeliveries pages through a destination's deliveries, newest first.
func (s *DestinationService) ListDeliveries(ctx context.Context, destinationID string, limit, offset int) ([]*Delivery, error) {
	if _, err := s.GetDestination(ctx, destinationID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByDestination(ctx, destinationID, limit, offset)
}

// EventDeliveries returns every delivery fanned out from one event.
func (s *DestinationService) EventDeliveries(ctx context.Context, eventID string) ([]*Delivery, error) {
	return s.deliveries.ListByEvent(ctx, eventID)
}

// EnsureTenantScopes registers the SCIM scope set for a tenant's
// authorization server. Idempotent.
func (s *DestinationService) EnsureTenantScopes(ctx context.Context, tenantID string) error {
	return s.apps.EnsureTenantScopes(ctx, tenantID, AllSCIMScopes)
}

// ValidateApplication reports whether the client application holds every
// scope the operations require, and which scopes are absent when not.
func (s *DestinationService) ValidateApplication(ctx context.Context, clientAppID string, ops []OperationKind) (bool, []string, error) {
	granted, err := s.apps.ApplicationScopes(ctx, clientAppID)
	if err != nil {
		return false, nil, err
	}
	missing := MissingScopes(granted, RequiredScopes(ops))
	return len(missing) == 0, missing, nil
}

func (s *DestinationService) checkAppScopes(ctx context.Context, clientAppID string, ops []OperationKind) error {
	granted, err := s.apps.ApplicationScopes(ctx, clientAppID)
	if errors.Is(err, clientapps.ErrApplicationNotFound) {
		return validationErrf("client application %s does not exist", clientAppID)
	}
	if err != nil {
		return fmt.Errorf("failed to load client application scopes: %w", err)
	}
	if missing := MissingScopes(granted, RequiredScopes(ops)); len(missing) > 0 {
		return &ScopeError{ClientAppID: clientAppID, Missing: missing}
	}
	return nil
}

// normalized is a DestinationInput after defaulting and validation.
type normalized struct {
	name             string
	baseURL          string
	operations       []OperationKind
	deleteAction     DeleteAction
	retryPolicy      RetryPolicy
	filterExpression string
	authMode         AuthMode
	enabled          bool
}

func (s *DestinationService) normalize(in DestinationInput) (*normalized, error) {
	n := &normalized{
		name:             strings.TrimSpace(in.Name),
		baseURL:          strings.TrimRight(strings.TrimSpace(in.BaseURL), "/"),
		operations:       in.EnabledOperations,
		deleteAction:     in.DeleteAction,
		filterExpression: strings.TrimSpace(in.FilterExpression),
		authMode:         in.AuthMode,
		enabled:          in.Enabled == nil || *in.Enabled,
	}

	if n.name == "" {
		return nil, validationErrf("name is required")
	}
	if err := validateBaseURL(n.baseURL); err != nil {
		return nil, err
	}
	if s.hostPolicy != nil {
		u, _ := url.Parse(n.baseURL)
		if !s.hostPolicy(u.Hostname()) {
			return nil, validationErrf("base_url host %q is not permitted by the outbound networking policy", u.Hostname())
		}
	}

	if len(n.operations) == 0 {
		n.operations = append([]OperationKind(nil), AllOperations...)
	}
	for _, op := range n.operations {
		if _, ok := ScopeForOperation(op); !ok {
			return nil, validationErrf("unknown operation kind %q", op)
		}
	}

	switch n.deleteAction {
	case "":
		n.deleteAction = DeleteActionDeactivate
	case DeleteActionDeactivate, DeleteActionHardDelete:
	default:
		return nil, validationErrf("unknown delete_action %q", n.deleteAction)
	}

	switch n.authMode {
	case "":
		n.authMode = AuthModeOAuthJWT
	case AuthModeOAuthJWT, AuthModeStaticBearer:
	default:
		return nil, validationErrf("unknown auth_mode %q", n.authMode)
	}

	if in.RetryPolicy == nil {
		n.retryPolicy = DefaultRetryPolicy()
	} else {
		p := *in.RetryPolicy
		if p.MaxRetries < 0 {
			return nil, validationErrf("retry_policy.max_retries must be >= 0")
		}
		if p.InitialBackoffMs <= 0 || p.MaxBackoffMs < p.InitialBackoffMs {
			return nil, validationErrf("retry_policy backoff bounds are invalid")
		}
		if p.Multiplier < 1 {
			return nil, validationErrf("retry_policy.multiplier must be >= 1")
		}
		n.retryPolicy = p
	}

	if err := scim.ValidateMapping(in.AttributeMapping); err != nil {
		return nil, validationErrf("invalid attribute_mapping: %v", err)
	}

	if n.filterExpression != "" && s.filter != nil {
		if err := s.filter.Check(n.filterExpression); err != nil {
			return nil, validationErrf("invalid filter_expression: %v", err)
		}
	}

	return n, nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return validationErrf("base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return validationErrf("base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationErrf("base_url scheme must be http or https")
	}
	return nil
}
