package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/infrastructure/shopify"
)

// StateTTL bounds the time between the consent redirect and the callback
const StateTTL = 10 * time.Minute

// OAuthClient is the platform side of the install flow
type OAuthClient interface {
	AuthorizeURL(d shop.Domain, scopes []string, redirectURI, state string, online bool) string
	ExchangeCode(ctx context.Context, d shop.Domain, code string) (shopify.AccessToken, error)
	RegisterWebhook(ctx context.Context, d shop.Domain, accessToken, topic, callbackURL string) (string, error)
}

// QueryVerifier checks the hmac parameter of a signed redirect
type QueryVerifier interface {
	VerifyQuery(query url.Values) bool
}

// RouteLister lists the webhook routes to subscribe on install
type RouteLister interface {
	Routes() []webhook.RouteKey
}

// OAuthServiceConfig contains configuration for OAuthService
type OAuthServiceConfig struct {
	Gate             *Gate
	Client           OAuthClient
	Verifier         QueryVerifier
	States           shop.StateStore
	Installations    shop.InstallationRegistry
	Sessions         shop.SessionRepository
	Webhooks         RouteLister
	RegisterWebhooks bool
	Logger           *zap.Logger
}

// OAuthService runs the begin and callback halves of the install flow
type OAuthService struct {
	gate             *Gate
	client           OAuthClient
	verifier         QueryVerifier
	states           shop.StateStore
	installations    shop.InstallationRegistry
	sessions         shop.SessionRepository
	webhooks         RouteLister
	registerWebhooks bool
	logger           *zap.Logger
}

// NewOAuthService creates an OAuthService
func NewOAuthService(cfg OAuthServiceConfig) *OAuthService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &OAuthService{
		gate:             cfg.Gate,
		client:           cfg.Client,
		verifier:         cfg.Verifier,
		states:           cfg.States,
		installations:    cfg.Installations,
		sessions:         cfg.Sessions,
		webhooks:         cfg.Webhooks,
		registerWebhooks: cfg.RegisterWebhooks,
		logger:           cfg.Logger,
	}
}

// CallbackURL is the redirect_uri registered with the platform
func (s *OAuthService) CallbackURL() string {
	return s.gate.appHost + PathAuthCallback
}

// Begin stores a fresh state nonce for the tenant and returns the consent URL
func (s *OAuthService) Begin(ctx context.Context, rawShop string) (string, error) {
	d, err := s.gate.sanitizer.Parse(rawShop)
	if err != nil {
		return "", err
	}
	nonce := uuid.New().String()
	if err := s.states.Save(ctx, nonce, d, StateTTL); err != nil {
		return "", fmt.Errorf("save oauth state: %w", err)
	}
	logger.WithLogger(ctx, s.logger).Info("OAuth started", zap.String("shop", d.String()))
	return s.client.AuthorizeURL(d, s.gate.scopes, s.CallbackURL(), nonce, s.gate.useOnlineTokens), nil
}

// CallbackResult is the outcome of a completed install
type CallbackResult struct {
	Shop        shop.Domain
	Session     *shop.Session
	RedirectURL string
}

// Callback validates the signed redirect, exchanges the code, persists the
// session and installation, subscribes webhooks and returns the embedded URL.
func (s *OAuthService) Callback(ctx context.Context, query url.Values) (*CallbackResult, error) {
	if s.verifier == nil || !s.verifier.VerifyQuery(query) {
		return nil, shared.ErrInvalidSignature
	}
	d, err := s.gate.sanitizer.Parse(query.Get("shop"))
	if err != nil {
		return nil, err
	}
	log := logger.WithLogger(ctx, s.logger).With(zap.String("shop", d.String()))

	stateShop, err := s.states.Consume(ctx, query.Get("state"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			log.Warn("OAuth callback with unknown state")
			return nil, shared.ErrUnauthorized.WithMessage("invalid oauth state")
		}
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if stateShop != d {
		log.Warn("OAuth state issued for another shop", zap.String("state_shop", stateShop.String()))
		return nil, shared.ErrUnauthorized.WithMessage("invalid oauth state")
	}

	token, err := s.client.ExchangeCode(ctx, d, query.Get("code"))
	if err != nil {
		log.Error("OAuth code exchange failed", zap.Error(err))
		return nil, err
	}

	session, err := s.newSession(d, token)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Store(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if err := s.installations.Add(ctx, shop.NewInstallation(d, token.Scope)); err != nil {
		return nil, fmt.Errorf("add installation: %w", err)
	}
	log.Info("OAuth completed",
		zap.String("session_id", session.ID),
		zap.Bool("online", session.IsOnline))

	if s.registerWebhooks && !session.IsOnline {
		s.subscribe(ctx, d, session.AccessToken, log)
	}

	return &CallbackResult{
		Shop:        d,
		Session:     session,
		RedirectURL: s.gate.EmbeddedURL(d, query.Get("host"), ""),
	}, nil
}

func (s *OAuthService) newSession(d shop.Domain, token shopify.AccessToken) (*shop.Session, error) {
	if token.IsOnline() {
		return shop.NewOnlineSession(d, token.UserID, token.Token, token.Scope, token.ExpiresIn)
	}
	return shop.NewOfflineSession(d, token.Token, token.Scope)
}

// subscribe registers every API-subscribable dispatcher topic. Failures are
// logged; the install still completes.
func (s *OAuthService) subscribe(ctx context.Context, d shop.Domain, accessToken string, log *logger.ContextLogger) {
	if s.webhooks == nil {
		return
	}
	for _, route := range s.webhooks.Routes() {
		if route.Topic.IsMandatory() {
			continue
		}
		callback := s.gate.appHost + route.Path
		id, err := s.client.RegisterWebhook(ctx, d, accessToken, route.Topic.String(), callback)
		if err != nil {
			log.Warn("Webhook registration failed",
				zap.String("topic", route.Topic.String()),
				zap.String("callback", callback),
				zap.Error(err))
			continue
		}
		log.Info("Webhook registered",
			zap.String("topic", route.Topic.String()),
			zap.String("subscription_id", id))
	}
}

// ExitIframeTarget validates the redirectUri of the exit-iframe page
func (s *OAuthService) ExitIframeTarget(rawShop, redirectURI string) (string, error) {
	if _, err := s.gate.sanitizer.Parse(rawShop); err != nil {
		return "", err
	}
	redirectURI = strings.TrimSpace(redirectURI)
	if !s.gate.ValidRedirect(redirectURI) {
		return "", shared.ErrInvalidInput.WithMessage("invalid redirect target")
	}
	return redirectURI, nil
}
