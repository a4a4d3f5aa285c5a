package audit

import "context"

// AuditStore persists scan records.
// Implementations handle their own batching; AuditService calls Append from
// a single background worker.
type AuditStore interface {
	// Append stores audit records.
	Append(ctx context.Context, records ...ScanRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter narrows a query over recent records.
type Filter struct {
	// Decision filters by "accepted" or "rejected" (optional).
	Decision string
	// Limit is the maximum number of records to return (default and max 100).
	Limit int
}

// RecentReader gives read access to records kept in memory.
type RecentReader interface {
	// Query returns recent records matching the filter, newest first.
	Query(filter Filter) []ScanRecord
}
