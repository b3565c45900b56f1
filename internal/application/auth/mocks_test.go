package auth

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/shopify"
)

// MockInstallationRegistry is a mock implementation of shop.InstallationRegistry
type MockInstallationRegistry struct {
	mock.Mock
}

func (m *MockInstallationRegistry) Includes(ctx context.Context, d shop.Domain) (bool, error) {
	args := m.Called(ctx, d)
	return args.Bool(0), args.Error(1)
}

func (m *MockInstallationRegistry) Add(ctx context.Context, inst *shop.Installation) error {
	return m.Called(ctx, inst).Error(0)
}

func (m *MockInstallationRegistry) Delete(ctx context.Context, d shop.Domain) error {
	return m.Called(ctx, d).Error(0)
}

// MockSessionRepository is a mock implementation of shop.SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) FindByShop(ctx context.Context, d shop.Domain) ([]*shop.Session, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*shop.Session), args.Error(1)
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*shop.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shop.Session), args.Error(1)
}

func (m *MockSessionRepository) Store(ctx context.Context, s *shop.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSessionRepository) DeleteByShop(ctx context.Context, d shop.Domain) error {
	return m.Called(ctx, d).Error(0)
}

// MockBillingChecker is a mock implementation of BillingChecker
type MockBillingChecker struct {
	mock.Mock
}

func (m *MockBillingChecker) Required() bool {
	return m.Called().Bool(0)
}

func (m *MockBillingChecker) EnsureBilling(ctx context.Context, session *shop.Session) (billing.Result, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(billing.Result), args.Error(1)
}

// MockStateStore is a mock implementation of shop.StateStore
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Save(ctx context.Context, nonce string, d shop.Domain, ttl time.Duration) error {
	return m.Called(ctx, nonce, d, ttl).Error(0)
}

func (m *MockStateStore) Consume(ctx context.Context, nonce string) (shop.Domain, error) {
	args := m.Called(ctx, nonce)
	return args.Get(0).(shop.Domain), args.Error(1)
}

// MockOAuthClient is a mock implementation of OAuthClient
type MockOAuthClient struct {
	mock.Mock
}

func (m *MockOAuthClient) AuthorizeURL(d shop.Domain, scopes []string, redirectURI, state string, online bool) string {
	return m.Called(d, scopes, redirectURI, state, online).String(0)
}

func (m *MockOAuthClient) ExchangeCode(ctx context.Context, d shop.Domain, code string) (shopify.AccessToken, error) {
	args := m.Called(ctx, d, code)
	return args.Get(0).(shopify.AccessToken), args.Error(1)
}

func (m *MockOAuthClient) RegisterWebhook(ctx context.Context, d shop.Domain, accessToken, topic, callbackURL string) (string, error) {
	args := m.Called(ctx, d, accessToken, topic, callbackURL)
	return args.String(0), args.Error(1)
}
