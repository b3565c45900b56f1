package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Stores bundles the short-lived state the relay keeps outside the database
type Stores struct {
	Deliveries shared.IdempotencyStore
	States     shop.StateStore

	client  *redis.Client
	closers []func() error
}

// NewStores builds Redis-backed stores when Redis is enabled, and in-memory
// stores otherwise. An enabled but unreachable Redis falls back to memory with
// a warning; deduplication then only holds within this instance.
func NewStores(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Stores {
	if cfg.Enabled {
		client, err := NewRedisClient(ctx, cfg)
		if err == nil {
			logger.Info("Using Redis for webhook dedup and OAuth state", zap.String("addr", cfg.Addr()))
			return &Stores{
				Deliveries: NewRedisIdempotencyStore(client, ""),
				States:     NewRedisStateStore(client),
				client:     client,
				closers:    []func() error{client.Close},
			}
		}
		logger.Warn("Redis unavailable, falling back to in-memory stores", zap.Error(err))
	}

	deliveries := NewInMemoryIdempotencyStore()
	states := NewInMemoryStateStore()
	return &Stores{
		Deliveries: deliveries,
		States:     states,
		closers:    []func() error{deliveries.Close, states.Close},
	}
}

// Ping reports Redis health; in-memory stores are always healthy
func (s *Stores) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the stores and the Redis connection
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
