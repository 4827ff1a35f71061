package device

import (
	"context"
	"time"
)

// QueryLogEntry records the outcome of one aggregate query.
type QueryLogEntry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// RequestID is the ID the query was issued with.
	RequestID int64 `json:"request_id"`

	// GroupID is the queried group.
	GroupID string `json:"group_id"`

	// Summary holds the per-variant outcome counts.
	Summary Summary `json:"summary"`

	// Duration is the time from request to reply.
	Duration time.Duration `json:"duration_ns"`

	// CreatedAt is when the reply was received (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// QueryLogRepository stores and retrieves aggregate query outcomes.
//
// Implementations must be thread-safe and use UTC timestamps.
type QueryLogRepository interface {
	// Record stores one query outcome. ID and CreatedAt are assigned by the
	// repository.
	Record(ctx context.Context, entry QueryLogEntry) error

	// List returns recent outcomes for a group.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - groupID: Group identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []QueryLogEntry: Entries ordered newest-first (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	List(ctx context.Context, groupID string, limit int) ([]QueryLogEntry, error)
}
