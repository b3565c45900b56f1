package shop

import (
	"context"
	"time"
)

// SessionRepository is the durable store of tenant sessions.
// FindByShop may return zero, one or several sessions (offline plus any
// online sessions); callers must not assume exactly one.
type SessionRepository interface {
	FindByShop(ctx context.Context, d Domain) ([]*Session, error)
	FindByID(ctx context.Context, id string) (*Session, error)
	Store(ctx context.Context, s *Session) error
	DeleteByShop(ctx context.Context, d Domain) error
}

// InstallationRegistry is the durable set of installed tenants.
// Delete of an absent tenant is a successful no-op.
type InstallationRegistry interface {
	Includes(ctx context.Context, d Domain) (bool, error)
	Add(ctx context.Context, inst *Installation) error
	Delete(ctx context.Context, d Domain) error
}

// StateStore holds OAuth nonces between the install redirect and the callback.
// Consume is single use: a second call for the same nonce returns shared.ErrNotFound.
type StateStore interface {
	Save(ctx context.Context, nonce string, d Domain, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (Domain, error)
}
