package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS scim_destination (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	client_app_id TEXT NOT NULL,
	name TEXT NOT NULL,
	base_url TEXT NOT NULL,
	attribute_mapping TEXT,
	enabled_operations TEXT NOT NULL,
	delete_action TEXT NOT NULL,
	retry_policy TEXT NOT NULL,
	filter_expression TEXT NOT NULL DEFAULT '',
	auth_mode TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS scim_event (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	snapshot TEXT
);

CREATE TABLE IF NOT EXISTS scim_delivery (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	destination_id TEXT NOT NULL,
	status TEXT NOT NULL,
	scim_resource_id TEXT,
	http_status INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at TEXT,
	last_error TEXT,
	claimed_at TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT,
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
	created_at TEXT NOT NULL,
	UNIQUE (destination_id, local_resource_type, local_resource_id)
);
`

// sqliteTimeFormat pads nanoseconds to a fixed width so stored UTC
// timestamps compare correctly as strings in SQL.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseSQLiteTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(sqliteTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func migrateSQLite(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), sqliteSchema)
	return err
}

// SQLiteDestinationStore implements provisioning.DestinationStore on
// SQLite for single-node deployments.
type SQLiteDestinationStore struct {
	db *sql.DB
}

func NewSQLiteDestinationStore(db *sql.DB) (*SQLiteDestinationStore, error) {
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &SQLiteDestinationStore{db: db}, nil
}

func (s *SQLiteDestinationStore) Create(ctx context.Context, d *provisioning.Destination) error {
	mappingJSON, opsJSON, policyJSON, err := marshalDestinationFields(d)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scim_destination (` + destinationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.TenantID, d.ClientAppID, d.Name, d.BaseURL,
		nullableString(mappingJSON), string(opsJSON), string(d.DeleteAction), string(policyJSON),
		d.FilterExpression, string(d.AuthMode), d.Enabled,
		formatSQLiteTime(d.CreatedAt), formatSQLiteTime(d.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return provisioning.ErrNameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert destination: %w", err)
	}
	return nil
}

func (s *SQLiteDestinationStore) Get(ctx context.Context, id string) (*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE id = ?`
	d, err := scanSQLiteDestination(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get destination: %w", err)
	}
	return d, nil
}

func (s *SQLiteDestinationStore) Update(ctx context.Context, d *provisioning.Destination) error {
	mappingJSON, opsJSON, policyJSON, err := marshalDestinationFields(d)
	if err != nil {
		return err
	}

	query := `
		UPDATE scim_destination
		SET client_app_id = ?, name = ?, base_url = ?, attribute_mapping = ?,
		    enabled_operations = ?, delete_action = ?, retry_policy = ?,
		    filter_expression = ?, auth_mode = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		d.ClientAppID, d.Name, d.BaseURL, nullableString(mappingJSON),
		string(opsJSON), string(d.DeleteAction), string(policyJSON),
		d.FilterExpression, string(d.AuthMode), d.Enabled,
		formatSQLiteTime(d.UpdatedAt), d.ID,
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

func (s *SQLiteDestinationStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scim_destination WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete destination: %w", err)
	}
	return nil
}

func (s *SQLiteDestinationStore) ListByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE tenant_id = ? ORDER BY created_at ASC, id ASC`
	return s.queryList(ctx, query, tenantID)
}

func (s *SQLiteDestinationStore) ListEnabledByTenant(ctx context.Context, tenantID string) ([]*provisioning.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM scim_destination WHERE tenant_id = ? AND enabled = 1 ORDER BY created_at ASC, id ASC`
	return s.queryList(ctx, query, tenantID)
}

func (s *SQLiteDestinationStore) queryList(ctx context.Context, query string, args ...any) ([]*provisioning.Destination, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*provisioning.Destination
	for rows.Next() {
		d, err := scanSQLiteDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func scanSQLiteDestination(row rowScanner) (*provisioning.Destination, error) {
	var (
		d            provisioning.Destination
		mappingJSON  sql.NullString
		opsJSON      string
		policyJSON   string
		deleteAction string
		authMode     string
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&d.ID, &d.TenantID, &d.ClientAppID, &d.Name, &d.BaseURL,
		&mappingJSON, &opsJSON, &deleteAction, &policyJSON,
		&d.FilterExpression, &authMode, &d.Enabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mappingJSON.Valid && mappingJSON.String != "" {
		if err := json.Unmarshal([]byte(mappingJSON.String), &d.AttributeMapping); err != nil {
			return nil, fmt.Errorf("corrupt attribute mapping for destination %s: %w", d.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(opsJSON), &d.EnabledOperations); err != nil {
		return nil, fmt.Errorf("corrupt enabled operations for destination %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(policyJSON), &d.RetryPolicy); err != nil {
		return nil, fmt.Errorf("corrupt retry policy for destination %s: %w", d.ID, err)
	}
	d.DeleteAction = provisioning.DeleteAction(deleteAction)
	d.AuthMode = provisioning.AuthMode(authMode)
	d.CreatedAt = parseSQLiteTime(createdAt)
	d.UpdatedAt = parseSQLiteTime(updatedAt)
	return &d, nil
}

// SQLiteEventStore implements provisioning.EventStore.
type SQLiteEventStore struct {
	db *sql.DB
}

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &SQLiteEventStore{db: db}, nil
}

func (s *SQLiteEventStore) Record(ctx context.Context, e *provisioning.LocalEvent) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.TenantID, string(e.ResourceType), e.ResourceID, string(e.Kind),
		formatSQLiteTime(e.OccurredAt), nullableString(snapshotJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) Get(ctx context.Context, id string) (*provisioning.LocalEvent, error) {
	query := `
		SELECT id, tenant_id, resource_type, resource_id, kind, occurred_at, snapshot
		FROM scim_event WHERE id = ?
	`
	var (
		e            provisioning.LocalEvent
		resourceType string
		kind         string
		occurredAt   string
		snapshotJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.TenantID, &resourceType, &e.ResourceID, &kind, &occurredAt, &snapshotJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.ResourceType = provisioning.ResourceType(resourceType)
	e.Kind = provisioning.EventKind(kind)
	e.OccurredAt = parseSQLiteTime(occurredAt)
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		if err := json.Unmarshal([]byte(snapshotJSON.String), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("corrupt snapshot for event %s: %w", id, err)
		}
	}
	return &e, nil
}

// SQLiteDeliveryStore implements provisioning.DeliveryStore. SQLite has no
// SKIP LOCKED, so ClaimDue selects and flips inside one transaction; run
// the database with a single writer connection.
type SQLiteDeliveryStore struct {
	db *sql.DB
}

func NewSQLiteDeliveryStore(db *sql.DB) (*SQLiteDeliveryStore, error) {
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &SQLiteDeliveryStore{db: db}, nil
}

func (s *SQLiteDeliveryStore) InsertPending(ctx context.Context, eventID, destinationID string) (*provisioning.Delivery, error) {
	insert := `
		INSERT INTO scim_delivery (id, event_id, destination_id, status, retry_count, created_at)
		VALUES (?, ?, ?, 'PENDING', 0, ?)
		ON CONFLICT (event_id, destination_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, insert, uuid.NewString(), eventID, destinationID, formatSQLiteTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to insert delivery: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM scim_delivery WHERE event_id = ? AND destination_id = ?`
	d, err := scanSQLiteDelivery(s.db.QueryRowContext(ctx, query, eventID, destinationID))
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery: %w", err)
	}
	return d, nil
}

func (s *SQLiteDeliveryStore) Get(ctx context.Context, id string) (*provisioning.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM scim_delivery WHERE id = ?`
	d, err := scanSQLiteDelivery(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

func (s *SQLiteDeliveryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*provisioning.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE status = 'PENDING' OR (status = 'RETRYING' AND next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	rows, err := tx.QueryContext(ctx, query, formatSQLiteTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due deliveries: %w", err)
	}

	var claimed []*provisioning.Delivery
	for rows.Next() {
		d, err := scanSQLiteDelivery(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		claimed = append(claimed, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	claimedAt := now.UTC()
	for _, d := range claimed {
		_, err := tx.ExecContext(ctx,
			`UPDATE scim_delivery SET status = 'IN_PROGRESS', claimed_at = ? WHERE id = ?`,
			formatSQLiteTime(claimedAt), d.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim delivery %s: %w", d.ID, err)
		}
		d.Status = provisioning.StatusInProgress
		at := claimedAt
		d.ClaimedAt = &at
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLiteDeliveryStore) MarkSuccess(ctx context.Context, id string, httpStatus int, scimResourceID string) error {
	query := `
		UPDATE scim_delivery
		SET status = 'SUCCESS', http_status = ?, scim_resource_id = NULLIF(?, ''),
		    next_retry_at = NULL, claimed_at = NULL, completed_at = ?
		WHERE id = ?
	`
	return s.exec(ctx, id, query, httpStatus, scimResourceID, formatSQLiteTime(time.Now()), id)
}

func (s *SQLiteDeliveryStore) MarkRetry(ctx context.Context, id string, httpStatus int, errMsg string, nextRetryAt time.Time, newRetryCount int) error {
	query := `
		UPDATE scim_delivery
		SET status = 'RETRYING', http_status = NULLIF(?, 0), last_error = ?,
		    next_retry_at = ?, retry_count = ?, claimed_at = NULL
		WHERE id = ?
	`
	return s.exec(ctx, id, query, httpStatus, provisioning.TruncateError(errMsg), formatSQLiteTime(nextRetryAt), newRetryCount, id)
}

func (s *SQLiteDeliveryStore) MarkFailed(ctx context.Context, id string, httpStatus int, errMsg string) error {
	query := `
		UPDATE scim_delivery
		SET status = 'FAILED', http_status = COALESCE(NULLIF(?, 0), http_status),
		    last_error = ?, next_retry_at = NULL, claimed_at = NULL, completed_at = ?
		WHERE id = ?
	`
	return s.exec(ctx, id, query, httpStatus, provisioning.TruncateError(errMsg), formatSQLiteTime(time.Now()), id)
}

func (s *SQLiteDeliveryStore) exec(ctx context.Context, id, query string, args ...any) error {
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

func (s *SQLiteDeliveryStore) ReclaimStuck(ctx context.Context, threshold time.Time) (int, error) {
	query := `
		UPDATE scim_delivery
		SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'IN_PROGRESS' AND claimed_at IS NOT NULL AND claimed_at < ?
	`
	res, err := s.db.ExecContext(ctx, query, formatSQLiteTime(threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteDeliveryStore) ListByDestination(ctx context.Context, destinationID string, limit, offset int) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE destination_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	return s.queryList(ctx, query, destinationID, limit, offset)
}

func (s *SQLiteDeliveryStore) ListByEvent(ctx context.Context, eventID string) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE event_id = ?
		ORDER BY created_at ASC, id ASC
	`
	return s.queryList(ctx, query, eventID)
}

// ListTerminalBefore returns SUCCESS/FAILED deliveries completed before
// cutoff, oldest completion first. Used by the retention exporter.
func (s *SQLiteDeliveryStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*provisioning.Delivery, error) {
	query := `
		SELECT ` + deliveryColumns + ` FROM scim_delivery
		WHERE status IN ('SUCCESS', 'FAILED') AND completed_at IS NOT NULL AND completed_at < ?
		ORDER BY completed_at ASC, id ASC
		LIMIT ?
	`
	return s.queryList(ctx, query, formatSQLiteTime(cutoff), limit)
}

// DeleteByIDs removes delivery rows after they have been archived. The
// deletes share one transaction so a failed sweep leaves every row in place.
func (s *SQLiteDeliveryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delivery prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scim_delivery WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to prune delivery %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery prune: %w", err)
	}
	return nil
}

func (s *SQLiteDeliveryStore) queryList(ctx context.Context, query string, args ...any) ([]*provisioning.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*provisioning.Delivery
	for rows.Next() {
		d, err := scanSQLiteDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanSQLiteDelivery(row rowScanner) (*provisioning.Delivery, error) {
	var (
		d              provisioning.Delivery
		status         string
		scimResourceID sql.NullString
		httpStatus     sql.NullInt64
		nextRetryAt    sql.NullString
		lastError      sql.NullString
		claimedAt      sql.NullString
		createdAt      string
		completedAt    sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.EventID, &d.DestinationID, &status, &scimResourceID,
		&httpStatus, &d.RetryCount, &nextRetryAt, &lastError, &claimedAt,
		&createdAt, &completedAt,
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
	if nextRetryAt.Valid && nextRetryAt.String != "" {
		v := parseSQLiteTime(nextRetryAt.String)
		d.NextRetryAt = &v
	}
	d.LastError = lastError.String
	if claimedAt.Valid && claimedAt.String != "" {
		v := parseSQLiteTime(claimedAt.String)
		d.ClaimedAt = &v
	}
	d.CreatedAt = parseSQLiteTime(createdAt)
	if completedAt.Valid && completedAt.String != "" {
		v := parseSQLiteTime(completedAt.String)
		d.CompletedAt = &v
	}
	return &d, nil
}

// SQLiteMappingStore implements provisioning.MappingStore.
type SQLiteMappingStore struct {
	db *sql.DB
}

func NewSQLiteMappingStore(db *sql.DB) (*SQLiteMappingStore, error) {
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &SQLiteMappingStore{db: db}, nil
}

func (s *SQLiteMappingStore) Upsert(ctx context.Context, m *provisioning.ResourceMapping) error {
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (destination_id, local_resource_type, local_resource_id)
		DO UPDATE SET scim_resource_id = excluded.scim_resource_id
	`
	_, err := s.db.ExecContext(ctx, query,
		id, m.DestinationID, string(m.LocalType), m.LocalResourceID, m.SCIMResourceID, formatSQLiteTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return nil
}

func (s *SQLiteMappingStore) Get(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) (*provisioning.ResourceMapping, error) {
	query := `
		SELECT id, destination_id, local_resource_type, local_resource_id, scim_resource_id, created_at
		FROM scim_resource_mapping
		WHERE destination_id = ? AND local_resource_type = ? AND local_resource_id = ?
	`
	var (
		m         provisioning.ResourceMapping
		typ       string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, destinationID, string(localType), localResourceID).Scan(
		&m.ID, &m.DestinationID, &typ, &m.LocalResourceID, &m.SCIMResourceID, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	m.LocalType = provisioning.ResourceType(typ)
	m.CreatedAt = parseSQLiteTime(createdAt)
	return &m, nil
}

func (s *SQLiteMappingStore) Delete(ctx context.Context, destinationID string, localType provisioning.ResourceType, localResourceID string) error {
	query := `
		DELETE FROM scim_resource_mapping
		WHERE destination_id = ? AND local_resource_type = ? AND local_resource_id = ?
	`
	_, err := s.db.ExecContext(ctx, query, destinationID, string(localType), localResourceID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

func (s *SQLiteMappingStore) DeleteByDestination(ctx context.Context, destinationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scim_resource_mapping WHERE destination_id = ?`, destinationID)
	if err != nil {
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	return nil
}
