package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

func TestPostgresDeliveryStore_InsertPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scim_delivery")).
		WithArgs(sqlmock.AnyArg(), "evt-1", "dest-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := sqlmock.NewRows([]string{
		"id", "event_id", "destination_id", "status", "scim_resource_id",
		"http_status", "retry_count", "next_retry_at", "last_error", "claimed_at",
		"created_at", "completed_at",
	}).AddRow("del-1", "evt-1", "dest-1", "PENDING", nil, nil, 0, nil, nil, nil, now, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+deliveryColumns+" FROM scim_delivery WHERE event_id = $1 AND destination_id = $2")).
		WithArgs("evt-1", "dest-1").
		WillReturnRows(rows)

	d, err := s.InsertPending(ctx, "evt-1", "dest-1")
	require.NoError(t, err)
	assert.Equal(t, "del-1", d.ID)
	assert.Equal(t, provisioning.StatusPending, d.Status)
	assert.Nil(t, d.HTTPStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeliveryStore_ClaimDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	// Rows come back in arbitrary order from RETURNING; the store re-sorts.
	rows := sqlmock.NewRows([]string{
		"id", "event_id", "destination_id", "status", "scim_resource_id",
		"http_status", "retry_count", "next_retry_at", "last_error", "claimed_at",
		"created_at", "completed_at",
	}).
		AddRow("del-2", "evt-2", "dest-1", "IN_PROGRESS", nil, nil, 0, nil, nil, now, now.Add(time.Second), nil).
		AddRow("del-1", "evt-1", "dest-1", "IN_PROGRESS", nil, 503, 1, nil, "unavailable", now, now, nil)

	mock.ExpectQuery("UPDATE scim_delivery").
		WithArgs(sqlmock.AnyArg(), 10).
		WillReturnRows(rows)

	claimed, err := s.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "del-1", claimed[0].ID)
	assert.Equal(t, "del-2", claimed[1].ID)
	assert.Equal(t, provisioning.StatusInProgress, claimed[0].Status)
	require.NotNil(t, claimed[0].HTTPStatus)
	assert.Equal(t, 503, *claimed[0].HTTPStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeliveryStore_MarkSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scim_delivery")).
		WithArgs("del-1", 201, "scim-abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.MarkSuccess(context.Background(), "del-1", 201, "scim-abc")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeliveryStore_MarkUnknownDelivery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scim_delivery")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.MarkFailed(context.Background(), "del-missing", 400, "bad request")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "del-missing")
}

func TestPostgresDeliveryStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + deliveryColumns + " FROM scim_delivery WHERE id = $1")).
		WithArgs("del-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	d, err := s.Get(context.Background(), "del-missing")
	assert.NoError(t, err)
	assert.Nil(t, d)
}

func TestPostgresDeliveryStore_ReclaimStuck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDeliveryStore(db)

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'PENDING', claimed_at = NULL")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ReclaimStuck(context.Background(), time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPostgresDestinationStore_CreateNameTaken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDestinationStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scim_destination")).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "scim_destination_tenant_id_name_key"`))

	err = s.Create(context.Background(), testDestination("dest-1", "tenant-1", "workday"))
	assert.ErrorIs(t, err, provisioning.ErrNameTaken)
}

func TestPostgresDestinationStore_UpdateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDestinationStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scim_destination")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Update(context.Background(), testDestination("dest-missing", "tenant-1", "workday"))
	assert.ErrorIs(t, err, provisioning.ErrDestinationNotFound)
}

func TestPostgresDestinationStore_GetRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresDestinationStore(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "client_app_id", "name", "base_url",
		"attribute_mapping", "enabled_operations", "delete_action", "retry_policy",
		"filter_expression", "auth_mode", "enabled", "created_at", "updated_at",
	}).AddRow(
		"dest-1", "tenant-1", "app-1", "workday", "https://scim.example.com/v2",
		[]byte(`{"userName":"$.user.email"}`), []byte(`["CREATE_USER","DELETE_USER"]`),
		"HARD_DELETE", []byte(`{"max_retries":3,"initial_backoff_ms":500,"max_backoff_ms":60000,"multiplier":2}`),
		`event.resource_type == "USER"`, "OAUTH_JWT", true, now, now,
	)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + destinationColumns + " FROM scim_destination WHERE id = $1")).
		WithArgs("dest-1").
		WillReturnRows(rows)

	d, err := s.Get(context.Background(), "dest-1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "workday", d.Name)
	assert.Equal(t, "$.user.email", d.AttributeMapping["userName"])
	assert.Equal(t, []provisioning.OperationKind{provisioning.OpCreateUser, provisioning.OpDeleteUser}, d.EnabledOperations)
	assert.Equal(t, provisioning.DeleteActionHardDelete, d.DeleteAction)
	assert.Equal(t, 3, d.RetryPolicy.MaxRetries)
	assert.Equal(t, provisioning.AuthModeOAuthJWT, d.AuthMode)
}

func TestPostgresEventStore_RecordConflictIgnored(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresEventStore(db)

	// ON CONFLICT DO NOTHING reports zero rows for a duplicate; Record
	// still succeeds.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scim_event")).
		WithArgs("evt-1", "tenant-1", "USER", "user-1", "CREATE", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Record(context.Background(), &provisioning.LocalEvent{
		ID:           "evt-1",
		TenantID:     "tenant-1",
		ResourceType: provisioning.ResourceUser,
		ResourceID:   "user-1",
		Kind:         provisioning.EventCreate,
		OccurredAt:   time.Now().UTC(),
		Snapshot:     map[string]any{"user": map[string]any{"id": "user-1"}},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMappingStore_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresMappingStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scim_resource_mapping")).
		WithArgs(sqlmock.AnyArg(), "dest-1", "USER", "user-1", "scim-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.Upsert(context.Background(), &provisioning.ResourceMapping{
		DestinationID:   "dest-1",
		LocalType:       provisioning.ResourceUser,
		LocalResourceID: "user-1",
		SCIMResourceID:  "scim-1",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
