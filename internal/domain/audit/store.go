package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when a query's date range exceeds the
// maximum allowed span.
var ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")

// AuditStore persists audit records. Implementations must make Append
// non-blocking from the caller's perspective; batching and backpressure are
// the implementation's responsibility, not the caller's.
type AuditStore interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// AuditFilter specifies query parameters for audit log queries.
type AuditFilter struct {
	// StartTime is the beginning of the time range (required).
	StartTime time.Time
	// EndTime is the end of the time range (required).
	EndTime time.Time
	// CorrelationID filters by a single request's correlation ID (optional).
	CorrelationID string
	// Decision filters by decision (optional: Permit, Deny, Challenge).
	Decision string
	// Limit is the maximum number of records to return (default 100, max 100).
	Limit int
	// Cursor is the pagination cursor for fetching the next page (optional).
	Cursor string
}

// DecisionStats contains aggregated decision counts for a time period.
type DecisionStats struct {
	// TotalEvaluations is the total number of recorded decisions.
	TotalEvaluations int64
	// ByDecision maps decision values to counts.
	ByDecision map[string]int64
	// CacheHits is the count of decisions served from the decision cache.
	CacheHits int64
}

// AuditQueryStore provides read access to the decision audit trail for
// admin and operator queries. Separate from AuditStore, which handles
// writes only.
type AuditQueryStore interface {
	// Query retrieves audit records matching the filter.
	// Returns ErrDateRangeExceeded if EndTime - StartTime > 7 days.
	Query(ctx context.Context, filter AuditFilter) ([]AuditRecord, string, error)

	// QueryStats returns aggregated decision statistics for the given range.
	QueryStats(ctx context.Context, start, end time.Time) (*DecisionStats, error)
}
