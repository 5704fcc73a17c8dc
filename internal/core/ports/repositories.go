// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"rulekeeper/internal/core/domain"
)

// AuditRepository handles persistence of the per-request audit trail
type AuditRepository interface {
	// SaveRequest persists one request outcome to the audit log
	SaveRequest(ctx context.Context, rec *domain.RequestRecord) error

	// PurgeOlderThan deletes audit rows older than the cutoff, at most
	// limit rows per call. Returns the number of rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// Count returns the total number of audit rows
	Count(ctx context.Context) (int64, error)
}

// CacheRepository caches serialized rule query results with a TTL
type CacheRepository interface {
	// Get retrieves a cached value. Returns (nil, nil) on a cache miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
