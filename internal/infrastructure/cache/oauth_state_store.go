package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
)

const defaultStateKeyPrefix = "shipnotify:oauth:state:"

// RedisStateStore keeps OAuth nonces in Redis
type RedisStateStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStateStore creates a state store on an existing client
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client, keyPrefix: defaultStateKeyPrefix}
}

// Save stores the nonce for the shop that started the install
func (s *RedisStateStore) Save(ctx context.Context, nonce string, d shop.Domain, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.keyPrefix+nonce, d.String(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the nonce
func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (shop.Domain, error) {
	v, err := s.client.GetDel(ctx, s.keyPrefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return "", shared.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return shop.Domain(v), nil
}

// InMemoryStateStore keeps OAuth nonces in process memory
type InMemoryStateStore struct {
	set *expiringSet
}

// NewInMemoryStateStore creates a state store that sweeps expired nonces every minute
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{set: newExpiringSet(time.Minute)}
}

// Save stores the nonce for the shop that started the install
func (s *InMemoryStateStore) Save(_ context.Context, nonce string, d shop.Domain, ttl time.Duration) error {
	if !s.set.setNX(nonce, d.String(), ttl) {
		return shared.ErrInvalidInput.WithMessage("oauth state already in use")
	}
	return nil
}

// Consume reads and deletes the nonce
func (s *InMemoryStateStore) Consume(_ context.Context, nonce string) (shop.Domain, error) {
	v, ok := s.set.getDel(nonce)
	if !ok {
		return "", shared.ErrNotFound
	}
	return shop.Domain(v), nil
}

// Close stops the sweeper
func (s *InMemoryStateStore) Close() error {
	s.set.close()
	return nil
}

var (
	_ shop.StateStore = (*RedisStateStore)(nil)
	_ shop.StateStore = (*InMemoryStateStore)(nil)
)
