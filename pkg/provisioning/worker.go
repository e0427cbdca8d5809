package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/halyard/pkg/scim"
)

// TokenSource mints a fresh bearer token for one delivery attempt against an
// OAUTH_JWT destination. Implemented by *identity.Minter.
type TokenSource interface {
	MintDestinationToken(ctx context.Context, tenantID, clientAppID, baseURL string, scopes []string) (string, error)
}

// CredentialSource loads stored long-lived bearer credentials for
// destinations in STATIC_BEARER mode. Implemented by the credentials stores.
type CredentialSource interface {
	BearerToken(ctx context.Context, destinationID string) (string, error)
}

// SCIMClient is the HTTP boundary the worker drives. Implemented by
// *scim.Client; tests substitute fakes.
type SCIMClient interface {
	Do(ctx context.Context, req scim.Request) scim.Result
}

// Worker executes one claimed delivery at a time: load the destination and
// event, resolve the SCIM operation, translate, authenticate, call, and
// record the outcome. All state lives in the stores, so any worker can pick
// up any delivery.
type Worker struct {
	destinations DestinationStore
	events       EventStore
	deliveries   DeliveryStore
	mappings     MappingStore
	tokens       TokenSource
	credentials  CredentialSource
	client       SCIMClient
	logger       *slog.Logger
	now          func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithCredentialSource enables STATIC_BEARER destinations. Without one,
// deliveries to such destinations fail permanently.
func WithCredentialSource(cs CredentialSource) WorkerOption {
	return func(w *Worker) {
		w.credentials = cs
	}
}

// WithWorkerClock substitutes the time source used for retry scheduling.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker wires a worker over the given stores, token minter, and SCIM
// client.
func NewWorker(
	destinations DestinationStore,
	events EventStore,
	deliveries DeliveryStore,
	mappings MappingStore,
	tokens TokenSource,
	client SCIMClient,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		destinations: destinations,
		events:       events,
		deliveries:   deliveries,
		mappings:     mappings,
		tokens:       tokens,
		client:       client,
		logger:       slog.Default().With("component", "delivery_worker"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process runs one attempt for a delivery that has already been claimed
// (IN_PROGRESS) and records the outcome. It returns the status the record
// was moved to; StatusInProgress means a store read failed mid-attempt and
// the record was left for the reclaim pass.
func (w *Worker) Process(ctx context.Context, d *Delivery) DeliveryStatus {
	dest, err := w.destinations.Get(ctx, d.DestinationID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to load destination, leaving delivery for reclaim",
			"delivery_id", d.ID, "destination_id", d.DestinationID, "error", err)
		return StatusInProgress
	}
	if dest == nil || !dest.Enabled {
		return w.fail(ctx, d, 0, fmt.Sprintf("destination %s is missing or disabled", d.DestinationID))
	}

	event, err := w.events.Get(ctx, d.EventID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to load event, leaving delivery for reclaim",
			"delivery_id", d.ID, "event_id", d.EventID, "error", err)
		return StatusInProgress
	}
	if event == nil {
		return w.fail(ctx, d, 0, fmt.Sprintf("event %s no longer exists", d.EventID))
	}

	op, err := ResolveOperation(event.ResourceType, event.Kind, dest.DeleteAction)
	if errors.Is(err, ErrNoOperation) {
		return w.syntheticSuccess(ctx, d, "event shape maps to no scim operation")
	}
	if err != nil {
		return w.fail(ctx, d, 0, err.Error())
	}
	if !dest.OperationEnabled(op) {
		return w.syntheticSuccess(ctx, d, fmt.Sprintf("operation %s disabled for destination", op))
	}

	att, status := w.prepare(ctx, d, dest, event, op)
	if att == nil {
		return status
	}

	token, status, ok := w.token(ctx, d, dest, op)
	if !ok {
		return status
	}

	res := w.client.Do(ctx, scim.Request{
		DestinationID: dest.ID,
		BaseURL:       dest.BaseURL,
		Method:        op.Method(),
		ResourcePath:  op.ResourcePath(),
		ResourceID:    att.targetSCIMID,
		Token:         token,
		Body:          att.body,
	})
	return w.classify(ctx, d, dest, event, op, res)
}

// attempt is the translated, addressed request for one delivery: the id the
// URL targets (empty for creates) and the marshaled-later body.
type attempt struct {
	targetSCIMID string
	body         any
}

// prepare resolves mappings and builds the request body. A nil attempt means
// the delivery was already finalized; the returned status says how.
func (w *Worker) prepare(ctx context.Context, d *Delivery, dest *Destination, event *LocalEvent, op OperationKind) (*attempt, DeliveryStatus) {
	if op.IsMembership() {
		return w.prepareMembership(ctx, d, dest, event, op)
	}

	var targetSCIMID string
	if !op.IsCreate() {
		m, err := w.mappings.Get(ctx, dest.ID, op.TargetType(), event.ResourceID)
		if err != nil {
			w.logger.ErrorContext(ctx, "failed to load resource mapping, leaving delivery for reclaim",
				"delivery_id", d.ID, "error", err)
			return nil, StatusInProgress
		}
		if m == nil {
			if op.IsDelete() {
				return nil, w.syntheticSuccess(ctx, d, "no downstream resource to delete")
			}
			return nil, w.fail(ctx, d, 0, fmt.Sprintf(
				"no mapping for %s %s: resource was never provisioned to this destination",
				op.TargetType(), event.ResourceID))
		}
		targetSCIMID = m.SCIMResourceID
	}

	body, err := w.buildBody(dest, event, op, targetSCIMID)
	if err != nil {
		return nil, w.fail(ctx, d, 0, fmt.Sprintf("failed to translate event: %v", err))
	}
	return &attempt{targetSCIMID: targetSCIMID, body: body}, ""
}

// prepareMembership resolves both sides of a group-member edge. The group id
// addresses the PATCH; the user id rides in the patch body.
func (w *Worker) prepareMembership(ctx context.Context, d *Delivery, dest *Destination, event *LocalEvent, op OperationKind) (*attempt, DeliveryStatus) {
	localGroupID, localUserID, err := memberIDs(event)
	if err != nil {
		return nil, w.fail(ctx, d, 0, err.Error())
	}

	groupMapping, err := w.mappings.Get(ctx, dest.ID, ResourceGroup, localGroupID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to load group mapping, leaving delivery for reclaim",
			"delivery_id", d.ID, "error", err)
		return nil, StatusInProgress
	}
	userMapping, err := w.mappings.Get(ctx, dest.ID, ResourceUser, localUserID)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to load user mapping, leaving delivery for reclaim",
			"delivery_id", d.ID, "error", err)
		return nil, StatusInProgress
	}
	if groupMapping == nil || userMapping == nil {
		return nil, w.fail(ctx, d, 0, fmt.Sprintf(
			"membership requires both sides provisioned: group %s mapped=%t, user %s mapped=%t",
			localGroupID, groupMapping != nil, localUserID, userMapping != nil))
	}

	var body any
	if op == OpAddGroupMember {
		body = scim.AddMemberPatch(userMapping.SCIMResourceID)
	} else {
		body = scim.RemoveMemberPatch(userMapping.SCIMResourceID)
	}
	return &attempt{targetSCIMID: groupMapping.SCIMResourceID, body: body}, ""
}

// buildBody translates the event snapshot for non-membership operations.
// Deletes carry no body; deactivation is a fixed PATCH.
func (w *Worker) buildBody(dest *Destination, event *LocalEvent, op OperationKind, targetSCIMID string) (any, error) {
	switch op {
	case OpCreateUser:
		return scim.BuildUserResource(event.Snapshot, dest.AttributeMapping, "")
	case OpUpdateUser:
		return scim.BuildUserResource(event.Snapshot, dest.AttributeMapping, targetSCIMID)
	case OpCreateGroup:
		return scim.BuildGroupResource(event.Snapshot, "")
	case OpUpdateGroup:
		return scim.BuildGroupResource(event.Snapshot, targetSCIMID)
	case OpDeactivateUser:
		return scim.DeactivatePatch(), nil
	case OpDeleteUser, OpDeleteGroup:
		return nil, nil
	}
	return nil, fmt.Errorf("no body builder for operation %s", op)
}

// token obtains the bearer credential for the attempt per the destination's
// auth mode. ok=false means the delivery was finalized or left for reclaim.
func (w *Worker) token(ctx context.Context, d *Delivery, dest *Destination, op OperationKind) (string, DeliveryStatus, bool) {
	if dest.AuthMode == AuthModeStaticBearer {
		if w.credentials == nil {
			return "", w.fail(ctx, d, 0, "destination uses static bearer auth but no credential store is configured"), false
		}
		token, err := w.credentials.BearerToken(ctx, dest.ID)
		if err != nil {
			return "", w.scheduleRetry(ctx, d, dest.RetryPolicy, 0,
				fmt.Sprintf("failed to load static bearer credential: %v", err)), false
		}
		return token, "", true
	}

	token, err := w.tokens.MintDestinationToken(ctx, dest.TenantID, dest.ClientAppID, dest.BaseURL, RequiredScopes([]OperationKind{op}))
	if err != nil {
		return "", w.scheduleRetry(ctx, d, dest.RetryPolicy, 0,
			fmt.Sprintf("failed to mint bearer token: %v", err)), false
	}
	return token, "", true
}

// classify turns the HTTP result into the delivery's next state and keeps
// the mapping table in step with what the downstream now holds.
func (w *Worker) classify(ctx context.Context, d *Delivery, dest *Destination, event *LocalEvent, op OperationKind, res scim.Result) DeliveryStatus {
	switch {
	case res.Success():
		scimID := ""
		if op.IsCreate() {
			scimID = res.ResourceID
			if scimID == "" {
				w.logger.WarnContext(ctx, "create response carried no resource id, later updates will fail",
					"delivery_id", d.ID, "destination_id", dest.ID)
			} else if err := w.mappings.Upsert(ctx, &ResourceMapping{
				DestinationID:   dest.ID,
				LocalType:       op.TargetType(),
				LocalResourceID: event.ResourceID,
				SCIMResourceID:  scimID,
			}); err != nil {
				w.logger.ErrorContext(ctx, "failed to save resource mapping, leaving delivery for reclaim",
					"delivery_id", d.ID, "error", err)
				return StatusInProgress
			}
		}
		if op.IsDelete() {
			if err := w.mappings.Delete(ctx, dest.ID, op.TargetType(), event.ResourceID); err != nil {
				w.logger.ErrorContext(ctx, "failed to remove resource mapping, leaving delivery for reclaim",
					"delivery_id", d.ID, "error", err)
				return StatusInProgress
			}
		}
		return w.succeed(ctx, d, res.Status, scimID)

	// The downstream already lost the resource this delete-shaped operation
	// targets. Nothing is left to remove, so the mapping is dropped and the
	// delivery completes.
	case res.Status == http.StatusNotFound && op.IsDelete():
		if err := w.mappings.Delete(ctx, dest.ID, op.TargetType(), event.ResourceID); err != nil {
			w.logger.ErrorContext(ctx, "failed to remove resource mapping, leaving delivery for reclaim",
				"delivery_id", d.ID, "error", err)
			return StatusInProgress
		}
		return w.succeed(ctx, d, res.Status, "")

	case res.Retryable():
		return w.scheduleRetry(ctx, d, dest.RetryPolicy, res.Status, attemptError(res))

	default:
		return w.fail(ctx, d, res.Status, attemptError(res))
	}
}

// scheduleRetry moves the delivery to RETRYING with the policy's next slot,
// or to FAILED when the budget is spent.
func (w *Worker) scheduleRetry(ctx context.Context, d *Delivery, policy RetryPolicy, httpStatus int, errMsg string) DeliveryStatus {
	if IsExhausted(d.RetryCount, policy) {
		return w.fail(ctx, d, httpStatus, errMsg)
	}
	next := w.now().Add(Backoff(d.RetryCount, policy))
	if err := w.deliveries.MarkRetry(ctx, d.ID, httpStatus, errMsg, next, d.RetryCount+1); err != nil {
		w.logger.ErrorContext(ctx, "failed to record retry", "delivery_id", d.ID, "error", err)
		return StatusInProgress
	}
	w.logger.InfoContext(ctx, "delivery scheduled for retry",
		"delivery_id", d.ID, "retry_count", d.RetryCount+1, "next_retry_at", next, "http_status", httpStatus, "error", errMsg)
	return StatusRetrying
}

func (w *Worker) succeed(ctx context.Context, d *Delivery, httpStatus int, scimResourceID string) DeliveryStatus {
	if err := w.deliveries.MarkSuccess(ctx, d.ID, httpStatus, scimResourceID); err != nil {
		w.logger.ErrorContext(ctx, "failed to record success", "delivery_id", d.ID, "error", err)
		return StatusInProgress
	}
	w.logger.InfoContext(ctx, "delivery succeeded", "delivery_id", d.ID, "http_status", httpStatus)
	return StatusSuccess
}

// syntheticSuccess finalizes a delivery that intentionally made no network
// call. The recorded status is a synthetic 200.
func (w *Worker) syntheticSuccess(ctx context.Context, d *Delivery, reason string) DeliveryStatus {
	if err := w.deliveries.MarkSuccess(ctx, d.ID, http.StatusOK, ""); err != nil {
		w.logger.ErrorContext(ctx, "failed to record synthetic success", "delivery_id", d.ID, "error", err)
		return StatusInProgress
	}
	w.logger.InfoContext(ctx, "delivery completed without a downstream call", "delivery_id", d.ID, "reason", reason)
	return StatusSuccess
}

func (w *Worker) fail(ctx context.Context, d *Delivery, httpStatus int, errMsg string) DeliveryStatus {
	if err := w.deliveries.MarkFailed(ctx, d.ID, httpStatus, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "failed to record permanent failure", "delivery_id", d.ID, "error", err)
		return StatusInProgress
	}
	w.logger.WarnContext(ctx, "delivery failed permanently",
		"delivery_id", d.ID, "http_status", httpStatus, "error", errMsg)
	return StatusFailed
}

// memberIDs pulls both local ids off a groupMember snapshot.
func memberIDs(event *LocalEvent) (groupID, userID string, err error) {
	view, ok := event.Snapshot["groupMember"].(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("event %s snapshot is missing the groupMember view", event.ID)
	}
	groupID, _ = view["groupId"].(string)
	userID, _ = view["userId"].(string)
	if groupID == "" || userID == "" {
		return "", "", fmt.Errorf("event %s groupMember view is missing groupId or userId", event.ID)
	}
	return groupID, userID, nil
}

// attemptError renders a Result as the persisted last_error text.
func attemptError(res scim.Result) string {
	if res.ErrorMessage != "" {
		return res.ErrorMessage
	}
	if detail := scim.ErrorDetail(res.Body); detail != "" {
		return fmt.Sprintf("downstream returned %d: %s", res.Status, detail)
	}
	return fmt.Sprintf("downstream returned %d", res.Status)
}
