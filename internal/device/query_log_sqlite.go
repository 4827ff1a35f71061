package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultQueryLogLimit = 50
	maxQueryLogLimit     = 500
)

// SQLiteQueryLogRepository implements QueryLogRepository using SQLite.
type SQLiteQueryLogRepository struct {
	db *sql.DB
}

// NewSQLiteQueryLogRepository creates a new SQLite query log repository.
//
// Parameters:
//   - db: Open SQLite connection with the query_log table migrated
//
// Returns:
//   - *SQLiteQueryLogRepository: Repository instance ready for use
func NewSQLiteQueryLogRepository(db *sql.DB) *SQLiteQueryLogRepository {
	return &SQLiteQueryLogRepository{db: db}
}

// Record inserts a query outcome.
func (r *SQLiteQueryLogRepository) Record(ctx context.Context, entry QueryLogEntry) error {
	if entry.GroupID == "" {
		return fmt.Errorf("group id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO query_log
		 (request_id, group_id, total, temperatures, not_available, device_not_available, timed_out, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID,
		entry.GroupID,
		entry.Summary.Total,
		entry.Summary.Temperatures,
		entry.Summary.NoReading,
		entry.Summary.Unavailable,
		entry.Summary.TimedOut,
		entry.Duration.Milliseconds(),
		time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting query log: %w", err)
	}
	return nil
}

// List returns recent query outcomes for a group, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - groupID: Group identifier
//   - limit: Maximum entries to return (default 50, max 500)
func (r *SQLiteQueryLogRepository) List(ctx context.Context, groupID string, limit int) ([]QueryLogEntry, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group id is required")
	}
	if limit <= 0 {
		limit = defaultQueryLogLimit
	}
	if limit > maxQueryLogLimit {
		limit = maxQueryLogLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, request_id, group_id, total, temperatures, not_available,
		        device_not_available, timed_out, duration_ms, created_at
		 FROM query_log
		 WHERE group_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		groupID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying query log: %w", err)
	}
	defer rows.Close()

	entries := make([]QueryLogEntry, 0, limit)
	for rows.Next() {
		var entry QueryLogEntry
		var durationMS int64
		var createdAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.GroupID,
			&entry.Summary.Total,
			&entry.Summary.Temperatures,
			&entry.Summary.NoReading,
			&entry.Summary.Unavailable,
			&entry.Summary.TimedOut,
			&durationMS,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning query log: %w", err)
		}

		entry.Duration = time.Duration(durationMS) * time.Millisecond
		if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query log: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteQueryLogRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM query_log WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting query log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}
