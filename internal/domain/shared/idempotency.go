package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers webhook delivery IDs that were already handled
type IdempotencyStore interface {
	// MarkProcessed marks a delivery as processed with a TTL
	// Returns true if the delivery was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a delivery has already been processed
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for webhook deduplication
type IdempotencyConfig struct {
	// TTL is how long a processed delivery ID is remembered.
	// The platform retries failed deliveries for up to 48 hours.
	TTL time.Duration

	// Enabled determines whether deduplication is active
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     48 * time.Hour,
		Enabled: true,
	}
}
