package device

import (
	"context"
	"time"
)

// CatalogEntry is a tracked device identity. Only identities are stored;
// readings live in the device workers and are lost on restart.
type CatalogEntry struct {
	GroupID   string    `json:"group_id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CatalogRepository persists the set of tracked devices so the hierarchy
// can be rebuilt at startup.
//
// Implementations must be thread-safe and use UTC timestamps.
type CatalogRepository interface {
	// Upsert records that a device is tracked. Repeated calls for the same
	// identity only refresh UpdatedAt.
	Upsert(ctx context.Context, groupID, deviceID string) error

	// Delete removes a device. Deleting an unknown device is not an error.
	Delete(ctx context.Context, groupID, deviceID string) error

	// DeleteGroup removes every device of a group.
	//
	// Returns:
	//   - int64: Number of devices removed
	//   - error: nil on success, otherwise the underlying persistence error
	DeleteGroup(ctx context.Context, groupID string) (int64, error)

	// List returns all tracked devices ordered by group and device ID.
	List(ctx context.Context) ([]CatalogEntry, error)
}
