package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// MySQLStore persists sync state, conflicts and pass history in MySQL.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS sync_state (
		stream VARCHAR(128) PRIMARY KEY,
		last_sync_time DATETIME(3) NOT NULL,
		rows_synced BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error_message TEXT NULL,
		updated_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_conflicts (
		id CHAR(36) PRIMARY KEY,
		stream VARCHAR(128) NOT NULL,
		record_key VARCHAR(255) NOT NULL,
		store_data TEXT NOT NULL,
		sheet_data TEXT NOT NULL,
		conflict_type VARCHAR(64) NOT NULL,
		detected_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_history (
		id CHAR(36) PRIMARY KEY,
		started_at DATETIME(3) NOT NULL,
		completed_at DATETIME(3) NULL,
		trigger_source VARCHAR(32) NOT NULL,
		streams_synced TEXT NOT NULL,
		total_rows BIGINT NOT NULL DEFAULT 0,
		conflicts_detected INT NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL,
		error_message TEXT NULL
	)`,
}

// Migrate creates the state tables when they do not exist yet.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) GetSyncState(ctx context.Context, stream string) (*SyncState, error) {
	query := `SELECT stream, last_sync_time, rows_synced, status, error_message, updated_at
			  FROM sync_state WHERE stream = ?`

	row := s.db.QueryRowContext(ctx, query, stream)

	var state SyncState
	var errMsg sql.NullString
	err := row.Scan(
		&state.Stream,
		&state.LastSyncTime,
		&state.RowsSynced,
		&state.Status,
		&errMsg,
		&state.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state.ErrorMessage = errMsg.String

	return &state, nil
}

func (s *MySQLStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (stream, last_sync_time, rows_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, NOW(3))
			  ON DUPLICATE KEY UPDATE
			  last_sync_time = VALUES(last_sync_time),
			  rows_synced = VALUES(rows_synced),
			  status = VALUES(status),
			  error_message = VALUES(error_message),
			  updated_at = NOW(3)`

	_, err := s.db.ExecContext(ctx, query,
		state.Stream,
		state.LastSyncTime.UTC(),
		state.RowsSynced,
		state.Status,
		nullString(state.ErrorMessage),
	)

	return err
}

func (s *MySQLStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	query := `INSERT INTO sync_conflicts (id, stream, record_key, store_data, sheet_data, conflict_type, detected_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		conflict.ID,
		conflict.Stream,
		conflict.Key,
		conflict.StoreData,
		conflict.SheetData,
		conflict.Type,
		conflict.DetectedAt.UTC(),
	)

	return err
}

func (s *MySQLStore) ListConflicts(ctx context.Context, limit, offset int) ([]*Conflict, error) {
	query := `SELECT id, stream, record_key, store_data, sheet_data, conflict_type, detected_at
			  FROM sync_conflicts ORDER BY detected_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*Conflict
	for rows.Next() {
		var c Conflict
		err := rows.Scan(
			&c.ID,
			&c.Stream,
			&c.Key,
			&c.StoreData,
			&c.SheetData,
			&c.Type,
			&c.DetectedAt,
		)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, &c)
	}

	return conflicts, rows.Err()
}

func (s *MySQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, trigger_source, streams_synced, total_rows, conflicts_detected, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		history.ID,
		history.StartedAt.UTC(),
		nullTime(history.CompletedAt),
		history.Trigger,
		history.StreamsSynced,
		history.TotalRows,
		history.ConflictsDetected,
		history.Status,
		nullString(history.ErrorMessage),
	)

	return err
}

func (s *MySQLStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, streams_synced = ?, total_rows = ?, conflicts_detected = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		nullTime(history.CompletedAt),
		history.StreamsSynced,
		history.TotalRows,
		history.ConflictsDetected,
		history.Status,
		nullString(history.ErrorMessage),
		history.ID,
	)

	return err
}

func (s *MySQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, trigger_source, streams_synced, total_rows, conflicts_detected, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var completed sql.NullTime
		var errMsg sql.NullString
		err := rows.Scan(
			&h.ID,
			&h.StartedAt,
			&completed,
			&h.Trigger,
			&h.StreamsSynced,
			&h.TotalRows,
			&h.ConflictsDetected,
			&h.Status,
			&errMsg,
		)
		if err != nil {
			return nil, err
		}
		if completed.Valid {
			t := completed.Time
			h.CompletedAt = &t
		}
		h.ErrorMessage = errMsg.String
		history = append(history, &h)
	}

	return history, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
