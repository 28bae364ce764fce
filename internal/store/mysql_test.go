package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(db), mock
}

func TestMySQLStore_GetSyncState(t *testing.T) {
	s, mock := newMockStore(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"stream", "last_sync_time", "rows_synced", "status", "error_message", "updated_at"}).
		AddRow("mongoToSheet_users", t0, int64(7), "ok", nil, t0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_state WHERE stream = ?")).
		WithArgs("mongoToSheet_users").
		WillReturnRows(rows)

	st, err := s.GetSyncState(context.Background(), "mongoToSheet_users")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(7), st.RowsSynced)
	assert.Equal(t, t0, st.LastSyncTime)
	assert.Empty(t, st.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_GetSyncStateMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM sync_state").WillReturnError(sql.ErrNoRows)

	st, err := s.GetSyncState(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestMySQLStore_UpdateSyncState(t *testing.T) {
	s, mock := newMockStore(t)
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_state")).
		WithArgs("mongoToSheet_apps", t0, int64(3), "ok", sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateSyncState(context.Background(), &SyncState{
		Stream: "mongoToSheet_apps", LastSyncTime: t0, RowsSynced: 3, Status: "ok",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_HistoryRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	done := start.Add(time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_history SET")).
		WithArgs(sql.NullTime{Time: done, Valid: true}, "users,applications", int64(4), 1, "completed", sql.NullString{}, "h1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateSyncHistory(context.Background(), &SyncHistory{
		ID: "h1", StartedAt: start, CompletedAt: &done, StreamsSynced: "users,applications",
		TotalRows: 4, ConflictsDetected: 1, Status: "completed",
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "started_at", "completed_at", "trigger_source", "streams_synced", "total_rows", "conflicts_detected", "status", "error_message"}).
		AddRow("h1", start, done, "manual", "users,applications", int64(4), 1, "completed", nil).
		AddRow("h0", start.Add(-time.Hour), nil, "scheduled", "", int64(0), 0, "failed", "boom")
	mock.ExpectQuery(regexp.QuoteMeta("FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?")).
		WithArgs(20, 0).
		WillReturnRows(rows)

	hist, err := s.GetSyncHistory(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.NotNil(t, hist[0].CompletedAt)
	assert.Equal(t, done, *hist[0].CompletedAt)
	assert.Nil(t, hist[1].CompletedAt)
	assert.Equal(t, "boom", hist[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_Conflicts(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_conflicts")).
		WithArgs("c1", "sheetToMongo_users", "R1", "{}", "{}", "same_timestamp", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CreateConflict(context.Background(), &Conflict{
		ID: "c1", Stream: "sheetToMongo_users", Key: "R1", StoreData: "{}", SheetData: "{}",
		Type: "same_timestamp", DetectedAt: at,
	}))

	rows := sqlmock.NewRows([]string{"id", "stream", "record_key", "store_data", "sheet_data", "conflict_type", "detected_at"}).
		AddRow("c1", "sheetToMongo_users", "R1", "{}", "{}", "same_timestamp", at)
	mock.ExpectQuery("FROM sync_conflicts").WithArgs(10, 0).WillReturnRows(rows)

	list, err := s.ListConflicts(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "R1", list[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)
	for range mysqlSchema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
