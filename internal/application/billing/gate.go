package billing

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

// ChargeClient queries and creates app charges on the platform
type ChargeClient interface {
	Charges(ctx context.Context, d shop.Domain, accessToken string) ([]billing.Charge, error)
	CreateCharge(ctx context.Context, d shop.Domain, accessToken string, settings billing.Settings, returnURL string) (string, error)
}

// Gate decides whether a tenant holds the charge the app requires.
// It fails closed: when the platform cannot be queried the tenant is not billed.
type Gate struct {
	settings billing.Settings
	client   ChargeClient
	appHost  string
	logger   *zap.Logger
}

// GateConfig contains configuration for Gate
type GateConfig struct {
	Settings billing.Settings
	Client   ChargeClient
	// AppHost is the app's public origin; charge confirmations return there
	AppHost string
	Logger  *zap.Logger
}

// NewGate creates a billing gate
func NewGate(cfg GateConfig) (*Gate, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Settings.Required && cfg.Client == nil {
		return nil, shared.ErrInvalidInput.WithMessage("billing gate requires a charge client")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		settings: cfg.Settings,
		client:   cfg.Client,
		appHost:  strings.TrimRight(cfg.AppHost, "/"),
		logger:   cfg.Logger,
	}, nil
}

// Required reports whether billing is enforced
func (g *Gate) Required() bool {
	return g.settings.Required
}

// EnsureBilling returns OK when billing is not required or a matching active
// charge exists. Otherwise it creates the charge and returns its confirmation
// URL. Any platform failure returns a not-OK result together with an error
// wrapping shared.ErrUpstreamFailure.
func (g *Gate) EnsureBilling(ctx context.Context, session *shop.Session) (billing.Result, error) {
	if !g.settings.Required {
		return billing.Satisfied(), nil
	}
	if !session.HasToken() {
		return billing.Result{}, shared.ErrUnauthorized.WithMessage("billing check needs a session with an access token")
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBillingEnsure,
		attribute.String(telemetry.SpanAttrShop, session.Shop.String()))
	defer span.End()

	active, err := g.hasActiveCharge(ctx, session)
	if err != nil {
		telemetry.RecordError(span, err)
		g.logger.Warn("Billing check failed, denying access",
			zap.String("shop", session.Shop.String()),
			zap.Error(err))
		return billing.Result{}, err
	}
	if active {
		span.SetAttributes(attribute.String(telemetry.SpanAttrOutcome, "active"))
		return billing.Satisfied(), nil
	}

	confirmationURL, err := g.client.CreateCharge(ctx, session.Shop, session.AccessToken, g.settings, g.ReturnURL(session.Shop))
	if err != nil {
		telemetry.RecordError(span, err)
		g.logger.Warn("Failed to create charge",
			zap.String("shop", session.Shop.String()),
			zap.Error(err))
		return billing.Result{}, fmt.Errorf("create charge: %w", err)
	}

	span.SetAttributes(attribute.String(telemetry.SpanAttrOutcome, "confirmation_required"))
	g.logger.Info("Charge confirmation required",
		zap.String("shop", session.Shop.String()),
		zap.String("charge", g.settings.ChargeName))
	return billing.NeedsConfirmation(confirmationURL), nil
}

// Status reports the derived billing state without creating charges
func (g *Gate) Status(ctx context.Context, session *shop.Session) (billing.Status, error) {
	if !g.settings.Required {
		return billing.Status{Required: false, HasActiveCharge: true}, nil
	}
	active, err := g.hasActiveCharge(ctx, session)
	if err != nil {
		return billing.Status{Required: true}, err
	}
	return billing.Status{Required: true, HasActiveCharge: active}, nil
}

func (g *Gate) hasActiveCharge(ctx context.Context, session *shop.Session) (bool, error) {
	charges, err := g.client.Charges(ctx, session.Shop, session.AccessToken)
	if err != nil {
		return false, fmt.Errorf("query charges: %w", err)
	}
	for _, c := range charges {
		// Test charges only count outside production
		if c.Test && !g.settings.Test {
			continue
		}
		if c.Matches(g.settings) {
			return true, nil
		}
	}
	return false, nil
}

// ReturnURL is where the platform sends the merchant after confirming a charge
func (g *Gate) ReturnURL(d shop.Domain) string {
	q := url.Values{}
	q.Set("shop", d.String())
	q.Set("host", base64.StdEncoding.EncodeToString([]byte(d.String()+"/admin")))
	return g.appHost + "?" + q.Encode()
}
