package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS scim_destination (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	client_app_id TEXT NOT NULL,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	attribute_mapping JSONB,
	enabled_operations JSONB NOT NULL,
	delete_action TEXT NOT NULL,
	retry_policy JSONB NOT NULL,
	filter_expression TEXT NOT NULL DEFAULT '',
	auth_mode TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, name)
);
CREATE INDEX IF NOT EXISTS idx_scim_destination_tenant ON scim_destination(tenant_id);

CREATE TABLE IF NOT EXISTS scim_event (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	snapshot JSONB
);

CREATE TABLE IF NOT EXISTS scim_delivery (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	status TEXT NOT NULL,
	scim_resource_id TEXT,
	http_status INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMPTZ,
	last_error TEXT,
	claimed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	UNIQUE (event_id, destination_id)
);
CREATE INDEX IF NOT EXISTS idx_scim_delivery_due ON scim_delivery(status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_scim_delivery_event ON scim_delivery(event_id);
CREATE INDEX IF NOT EXISTS idx_scim_delivery_destination ON scim_delivery(destination_id, created_at);

CREATE TABLE IF NOT EXISTS scim_resource_mapping (
	id TEXT PRIMARY KEY,
	destination_id TEXT NOT NULL,
	local_resource_type TEXT NOT NULL,
	local_resource_id TEXT NOT NULL,
	scim_resource_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (destination_id, local_resource_type, local_resource_id)
);
CREATE INDEX IF NOT EXISTS idx_scim_mapping_destination ON scim_resource_mapping(destination_id);
`

// InitPostgresSchema creates the provisioning tables.
func InitPostgresSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, postgresSchema)
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// PostgresDestinationStore implements provisioning.DestinationStore.
type PostgresDestinationStore struct {
	db *sql.DB
}

func NewPostgresDestinationStore(db *sql.DB) *PostgresDestinationStore {
	return &PostgresDestinationStore{db: db}
}

const destinationColumns = `id, tenant_id, client_app_id, name, base_url, attribute_mapping, enabled_operations, delete_action, retry_policy, filter_expression, auth_mode, enabled, created_at, updated_at`

func (s *PostgresDestinationStore) Create(ctx context.Context, d *provisioning.Destination) error {
	mappingJSON, opsJSON, policyJSON, err := marshalDestinationFields(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scim_destination (` + destinationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.TenantID, d.ClientAppID, d.Name, d.BaseURL,
		mappingJSON, opsJSON, string(d.DeleteAction), policyJSON,
		d.FilterExpression, string(d.AuthMode), d.Enabled, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return provisioning.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert destination: %w", err)
	}
	return nil
}

func (s *PostgresDestinationStore) Get(ctx context.Context, id string) (*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE id = $1`
	d, err := scanDestination(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return d, nil
}

func (s *PostgresDestinationStore) Update(ctx context.Context, d *provisioning.Destination) error {
	mappingJSON, opsJSON, policyJSON, err := marshalDestinationFields(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE scim_destination
		SET client_app_id = $2, name = $3, base_url = $4, attribute_mapping = $5,
		    enabled_operations = $6, delete_action = $7, retry_policy = $8,
		    filter_expression = $9, auth_mode = $10, enabled = $11, updated_at = $12
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		d.ID, d.ClientAppID, d.Name, d.BaseURL, mappingJSON, opsJSON,
		string(d.DeleteAction), policyJSON, d.FilterExpression,
		string(d.AuthMode), d.Enabled, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return provisioning.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to update destination: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return provisioning.ErrDestinationNotFound
	}
	return nil
}

func (s *PostgresDestinationStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scim_destination WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}
	return nil
}

func (s *PostgresDestinationStore) ListByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE tenant_id = $1 ORDER BY created_at ASC, id ASC`
	return s.queryList(ctx, query, tenantID)
}

func (s *PostgresDestinationStore) ListEnabledByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE tenant_id = $1 AND enabled = TRUE ORDER BY created_at ASC, id ASC`
	return s.queryList(ctx, query, tenantID)
}

func (s *PostgresDestinationStore) queryList(ctx context.Context, query string, args ...any) ([]*provisioning.Destination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*provisioning.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func marshalDestinationFields(d *provisioning.Destination) (mapping, ops, policy []byte, err error) {
	if d.AttributeMapping != nil {
		mapping, err = json.Marshal(d.AttributeMapping)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal attribute mapping: %w", err)
		}
	}
	ops, err = json.Marshal(d.EnabledOperations)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal enabled operations: %w", err)
	}
	policy, err = json.Marshal(d.RetryPolicy)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal retry policy: %w", err)
	}
	return mapping, ops, policy, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDestination(row rowScanner) (*provisioning.Destination, error) {
	var (
		d            provisioning.Destination
		mappingJSON  []byte
		opsJSON      []byte
		policyJSON   []byte
		deleteAction string
		authMode     string
	)
	err := row.Scan(
		&d.ID, &d.TenantID, &d.ClientAppID, &d.Name, &d.BaseURL,
		&mappingJSON, &opsJSON, &deleteAction, &policyJSON,
		&d.FilterExpression, &authMode, &d.Enabled, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &d.AttributeMapping); err != nil {
			return nil, fmt.Errorf("corrupt attribute mapping for destination %s: %w", d.ID, err)
		}
	}
	if err := json.Unmarshal(opsJSON, &d.EnabledOperations); err != nil {
		return nil, fmt.Errorf("corrupt enabled operations for destination %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(policyJSON, &d.RetryPolicy); err != nil {
		return nil, fmt.Errorf("corrupt retry policy for destination %s: %w", d.ID, err)
	}
	d.DeleteAction = provisioning.DeleteAction(deleteAction)
	d.AuthMode = provisioning.AuthMode(authMode)
	return &d, nil
}

// PostgresEventStore implements provisioning.EventStore.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Record(ctx context.Context, e *provisioning.LocalEvent) error {
	var snapshotJSON []byte
	if e.Snapshot != nil {
		var err error
		snapshotJSON, err = json.Marshal(e.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
	}

	query := `
		INSERT INTO scim_event (id, tenant_id, resource_type, resource_id, kind, occurred_at, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, string(e.ResourceType), e.ResourceID, string(e.Kind), e.OccurredAt, snapshotJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) Get(ctx context.Context, id string) (*provisioning.LocalEvent, error) {
	query := `
		SELECT id, tenant_id, resource_type, resource_id, kind, occurred_at, snapshot
		FROM scim_event WHERE id = $1
	`
	var (
		e            provisioning.LocalEvent
		resourceType string
		kind         string
		snapshotJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.TenantID, &resourceType, &e.ResourceID, &kind, &e.OccurredAt, &snapshotJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.ResourceType = provisioning.ResourceType(resourceType)
	e.Kind = provisioning.EventKind(kind)
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("corrupt snapshot for event %s: %w", id, err)
		}
	}
	return &e, nil
}

// PostgresDeliveryStore implements provisioning.DeliveryStore. ClaimDue
// relies on FOR UPDATE SKIP LOCKED so concurrent pollers never hand the
// same record to two workers.
type PostgresDeliveryStore struct {
	db *sql.DB
}

func NewPostgresDeliveryStore(db *sql.DB) *PostgresDeliveryStore {
	return &PostgresDeliveryStore{db: db}
}

const deliveryColumns = `id, event_id, destination_id, status, scim_resource_id, http_status, retry_count, next_retry_at, last_error, claimed_at, created_at, completed_at`

func (s *PostgresDeliveryStore) InsertPending(ctx context.Context, eventID, destinationID string) (*provisioning.Delivery, error) {
	insert := `
		INSERT INTO scim_delivery (id, event_id, destination_id, status, retry_count, created_at)
		VALUES ($1, $2, $3, 'PENDING', 0, $4)
		ON CONFLICT (event_id, destination_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert, uuid.NewString(), eventID, destinationID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to insert delivery: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM scim_delivery WHERE event_id = $1 AND destination_id = $2`
	d, err := scanPostgresDelivery(s.db.QueryRowContext(ctx, query, eventID, destinationID))
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresDeliveryStore) Get(ctx context.Context, id string) (*provisioning.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM scim_delivery WHERE id = $1`
	d, err := scanPostgresDelivery(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresDeliveryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*provisioning.Delivery, error) {
	query := `
		UPDATE scim_delivery
		SET status = 'IN_PROGRESS', claimed_at = $1
		WHERE id IN (
			SELECT id FROM scim_delivery
			WHERE status = 'PENDING' OR (status = 'RETRYING' AND next_retry_at <= $1)
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []*provisioning.Delivery
	for rows.Next() {
		d, err := scanPostgresDelivery(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not promise the subquery's order.
	sort.Slice(claimed, func(i, j int) bool {
		if claimed[i].CreatedAt.Equal(claimed[j].CreatedAt) {
			return claimed[i].ID < claimed[j].ID
		}
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

func (s *PostgresDeliveryStore) MarkSuccess(ctx context.Context, id string, httpStatus int, scimResourceID string) error {
	query := `
		UPDATE scim_delivery
		SET status = 'SUCCESS', http_status = $2, scim_resource_id = NULLIF($3, ''),
		    next_retry_at = NULL, claimed_at = NULL, completed_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, id, query, id, httpStatus, scimResourceID, time.Now().UTC())
}

func (s *PostgresDeliveryStore) MarkRetry(ctx context.Context, id string, httpStatus int, errMsg string, nextRetryAt time.Time, newRetryCount int) error {
	query := `
		UPDATE scim_delivery
		SET status = 'RETRYING', http_status = NULLIF($2, 0), last_error = $3,
		    next_retry_at = $4, retry_count = $5, claimed_at = NULL
		WHERE id = $1
	`
	return s.exec(ctx, id, query, id, httpStatus, provisioning.TruncateError(errMsg), nextRetryAt, newRetryCount)
}

func (s *PostgresDeliveryStore) MarkFailed(ctx context.Context, id string, httpStatus int, errMsg string) error {
	query := `
		UPDATE scim_delivery
		SET status = 'FAILED', http_status = COALESCE(NULLIF($2, 0), http_status),
		    last_error = $3, next_retry_at = NULL, claimed_at = NULL, completed_at = $4
		WHERE id = $1
	`
	return s.exec(ctx, id, query, id, httpStatus, provisioning.TruncateError(errMsg), time.Now().UTC())
}

func (s *PostgresDeliveryStore) exec(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delivery %s not found", id)
	}
	return nil
}

func (s *PostgresDeliveryStore) ReclaimStuck(ctx context.Context, threshold time.Time) (int, error) {
	query := `
		UPDATE scim_delivery
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'IN_PROGRESS' AND claimed_at IS NOT NULL AND claimed_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresDeliveryStore) ListByDestination(ctx context.Context, destinationID string, limit, offset int) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE destination_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	return s.queryList(ctx, query, destinationID, limit, offset)
}

func (s *PostgresDeliveryStore) ListByEvent(ctx context.Context, eventID string) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return s.queryList(ctx, query, eventID)
}

// ListTerminalBefore returns SUCCESS/FAILED deliveries completed before
// cutoff, oldest completion first. Used by the retention exporter.
func (s *PostgresDeliveryStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE status IN ('SUCCESS', 'FAILED') AND completed_at IS NOT NULL AND completed_at < $1
		ORDER BY completed_at ASC, id ASC
		LIMIT $2
	`
	return s.queryList(ctx, query, cutoff, limit)
}

// DeleteByIDs removes delivery rows after they have been archived. The
// deletes share one transaction so a failed sweep leaves every row in place.
func (s *PostgresDeliveryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delivery prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scim_delivery WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to prune delivery %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery prune: %w", err)
	}
	return nil
}

func (s *PostgresDeliveryStore) queryList(ctx context.Context, query string, args ...any) ([]*provisioning.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*provisioning.Delivery
	for rows.Next() {
		d, err := scanPostgresDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanPostgresDelivery(row rowScanner) (*provisioning.Delivery, error) {
	var (
		d              provisioning.Delivery
		status         string
		scimResourceID sql.NullString
		httpStatus     sql.NullInt64
		nextRetryAt    sql.NullTime
		lastError      sql.NullString
		claimedAt      sql.NullTime
		completedAt    sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.EventID, &d.DestinationID, &status, &scimResourceID,
		&httpStatus, &d.RetryCount, &nextRetryAt, &lastError, &claimedAt,
		&d.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = provisioning.DeliveryStatus(status)
	d.SCIMResourceID = scimResourceID.String
	if httpStatus.Valid {
		v := int(httpStatus.Int64)
		d.HTTPStatus = &v
	}
	if nextRetryAt.Valid {
		v := nextRetryAt.Time
		d.NextRetryAt = &v
	}
	d.LastError = lastError.String
	if claimedAt.Valid {
		v := claimedAt.Time
		d.ClaimedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		d.CompletedAt = &v
	}
	return &d, nil
}

// PostgresMappingStore implements provisioning.MappingStore.
type PostgresMappingStore struct {
	db *sql.DB
}

func NewPostgresMappingStore(db *sql.DB) *PostgresMappingStore {
	return &PostgresMappingStore{db: db}
}

func (s *PostgresMappingStore) Upsert(ctx context.Context, m *provisioning.ResourceMapping) error {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO scim_resource_mapping (id, destination_id, local_resource_type, local_resource_id, scim_resource_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (destination_id, local_resource_type, local_resource_id)
		DO UPDATE SET scim_resource_id = EXCLUDED.scim_resource_id
	`
	_, err := s.db.ExecContext(ctx, query,
		id, m.DestinationID, string(m.LocalType), m.LocalResourceID, m.SCIMResourceID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

func (s *PostgresMappingStore) Get(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) (*provisioning.ResourceMapping, error) {
	query := `
		SELECT id, destination_id, local_resource_type, local_resource_id, scim_resource_id, created_at
		FROM scim_resource_mapping
		WHERE destination_id = $1 AND local_resource_type = $2 AND local_resource_id = $3
	`
	var (
		m   provisioning.ResourceMapping
		typ string
	)
	err := s.db.QueryRowContext(ctx, query, destinationID, string(localType), localResourceID).Scan(
		&m.ID, &m.DestinationID, &typ, &m.LocalResourceID, &m.SCIMResourceID, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	m.LocalType = provisioning.ResourceType(typ)
	return &m, nil
}

func (s *PostgresMappingStore) Delete(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) error {
	query := `
		DELETE FROM scim_resource_mapping
		WHERE destination_id = $1 AND local_resource_type = $2 AND local_resource_id = $3
	`
	_, err := s.db.ExecContext(ctx, query, destinationID, string(localType), localResourceID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

func (s *PostgresMappingStore) DeleteByDestination(ctx context.Context, destinationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scim_resource_mapping WHERE destination_id = $1`, destinationID)
	if err != nil {
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	return nil
}
