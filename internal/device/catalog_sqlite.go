package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SQLiteCatalogRepository implements CatalogRepository using SQLite.
type SQLiteCatalogRepository struct {
	db *sql.DB
}

// NewSQLiteCatalogRepository creates a new SQLite catalogue repository.
//
// Parameters:
//   - db: Open SQLite connection with the devices_catalog table migrated
//
// Returns:
//   - *SQLiteCatalogRepository: Repository instance ready for use
func NewSQLiteCatalogRepository(db *sql.DB) *SQLiteCatalogRepository {
	return &SQLiteCatalogRepository{db: db}
}

// Upsert inserts a device identity or refreshes its updated_at timestamp.
func (r *SQLiteCatalogRepository) Upsert(ctx context.Context, groupID, deviceID string) error {
	if groupID == "" || deviceID == "" {
		return fmt.Errorf("group id and device id are required")
	}

	now := time.Now().UTC().Format(timestampLayout)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices_catalog (group_id, device_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (group_id, device_id) DO UPDATE SET updated_at = excluded.updated_at`,
		groupID,
		deviceID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting catalog entry: %w", err)
	}
	return nil
}

// Delete removes a single device identity.
func (r *SQLiteCatalogRepository) Delete(ctx context.Context, groupID, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM devices_catalog WHERE group_id = ? AND device_id = ?",
		groupID,
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("deleting catalog entry: %w", err)
	}
	return nil
}

// DeleteGroup removes all device identities of a group.
func (r *SQLiteCatalogRepository) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM devices_catalog WHERE group_id = ?",
		groupID,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting catalog group: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// List returns every catalogued device ordered by group_id, device_id.
func (r *SQLiteCatalogRepository) List(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, device_id, created_at, updated_at
		 FROM devices_catalog
		 ORDER BY group_id, device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var entry CatalogEntry
		var createdAt, updatedAt string

		if err := rows.Scan(&entry.GroupID, &entry.DeviceID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning catalog entry: %w", err)
		}
		if entry.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if entry.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating catalog: %w", err)
	}
	return entries, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}
