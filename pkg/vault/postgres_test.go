package vault

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO vault_records").
		WithArgs("identity:ap_000000000001", "blob", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStoreWithDB(db)
	err = store.Put(context.Background(), "identity:ap_000000000001", "blob")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"blob", "created_at", "updated_at"}).
		AddRow("encrypted-bundle", now, now)
	mock.ExpectQuery("SELECT blob, created_at, updated_at FROM vault_records").
		WithArgs("identity:ap_000000000001").
		WillReturnRows(rows)

	store := NewPostgresStoreWithDB(db)
	rec, err := store.Get(context.Background(), "identity:ap_000000000001")
	require.NoError(t, err)
	assert.Equal(t, "encrypted-bundle", rec.Blob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT blob, created_at, updated_at FROM vault_records").
		WithArgs("identity:ap_ffffffffffff").
		WillReturnRows(sqlmock.NewRows([]string{"blob", "created_at", "updated_at"}))

	store := NewPostgresStoreWithDB(db)
	_, err = store.Get(context.Background(), "identity:ap_ffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Delete_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM vault_records").
		WithArgs("identity:ap_ffffffffffff").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStoreWithDB(db)
	err = store.Delete(context.Background(), "identity:ap_ffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"key", "blob", "created_at", "updated_at"}).
		AddRow("credential:ap_000000000001:github.com", "b1", now, now).
		AddRow("credential:ap_000000000001:gitlab.com", "b2", now, now)
	mock.ExpectQuery("SELECT key, blob, created_at, updated_at FROM vault_records").
		WithArgs("credential:ap_000000000001:").
		WillReturnRows(rows)

	store := NewPostgresStoreWithDB(db)
	records, err := store.List(context.Background(), "credential:ap_000000000001:")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
