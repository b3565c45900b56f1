package webhook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/fulfillment"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
)

// Webhook endpoint paths
const (
	PathWebhooks          = "/api/webhooks"
	PathFulfillmentCreate = "/api/fulfillment-create"
	PathFulfillmentUpdate = "/api/fulfillment-update"
)

// AsyncForwarder hands a delivered shipment off without blocking the webhook response
type AsyncForwarder interface {
	ForwardAsync(ctx context.Context, d shop.Domain, f *fulfillment.Fulfillment)
}

// TenantRemover deletes everything the relay holds for a tenant
type TenantRemover struct {
	installations shop.InstallationRegistry
	sessions      shop.SessionRepository
	logger        *zap.Logger
}

// NewTenantRemover creates a TenantRemover
func NewTenantRemover(installations shop.InstallationRegistry, sessions shop.SessionRepository, logger *zap.Logger) *TenantRemover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantRemover{installations: installations, sessions: sessions, logger: logger}
}

// Handle removes the tenant's installation and sessions. Both deletes are
// idempotent, so repeated or concurrent deliveries all succeed.
func (r *TenantRemover) Handle(ctx context.Context, evt *webhook.Event) error {
	var errs []error
	if err := r.installations.Delete(ctx, evt.Shop); err != nil {
		errs = append(errs, fmt.Errorf("delete installation: %w", err))
	}
	if r.sessions != nil {
		if err := r.sessions.DeleteByShop(ctx, evt.Shop); err != nil {
			errs = append(errs, fmt.Errorf("delete sessions: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.WithLogger(ctx, r.logger).Info("Tenant removed",
		zap.String("shop", evt.Shop.String()),
		zap.String("topic", evt.Topic.String()))
	return nil
}

// FulfillmentHandler forwards delivered shipments from FULFILLMENTS_* events
type FulfillmentHandler struct {
	forwarder AsyncForwarder
	logger    *zap.Logger
}

// NewFulfillmentHandler creates a FulfillmentHandler
func NewFulfillmentHandler(forwarder AsyncForwarder, logger *zap.Logger) *FulfillmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentHandler{forwarder: forwarder, logger: logger}
}

// Handle parses the payload and, for a delivered shipment, starts a detached
// forward. Forward failures never reach the webhook response. A malformed
// payload wraps shared.ErrInvalidInput.
func (h *FulfillmentHandler) Handle(ctx context.Context, evt *webhook.Event) error {
	f, err := fulfillment.Parse(evt.RawBody)
	if err != nil {
		return err
	}

	log := logger.WithLogger(ctx, h.logger).With(
		zap.String("shop", evt.Shop.String()),
		zap.Int64("order_id", f.OrderID),
	)
	if !f.IsDelivered() {
		log.Debug("Fulfillment not delivered, skipping", zap.String("topic", evt.Topic.String()))
		return nil
	}

	log.Info("Delivered shipment received", zap.String("topic", evt.Topic.String()))
	h.forwarder.ForwardAsync(ctx, evt.Shop, f)
	return nil
}

// PrivacyRequestHandler acknowledges customer privacy topics. The relay keeps
// no customer data beyond the forwarded event, so there is nothing to export
// or erase.
type PrivacyRequestHandler struct {
	logger *zap.Logger
}

// NewPrivacyRequestHandler creates a PrivacyRequestHandler
func NewPrivacyRequestHandler(logger *zap.Logger) *PrivacyRequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrivacyRequestHandler{logger: logger}
}

// Handle logs the request
func (h *PrivacyRequestHandler) Handle(ctx context.Context, evt *webhook.Event) error {
	logger.WithLogger(ctx, h.logger).Info("Privacy request acknowledged",
		zap.String("shop", evt.Shop.String()),
		zap.String("topic", evt.Topic.String()),
		zap.Int("bytes", len(evt.RawBody)))
	return nil
}

// Handlers groups the built-in topic handlers
type Handlers struct {
	Remover     *TenantRemover
	Fulfillment *FulfillmentHandler
	Privacy     *PrivacyRequestHandler
}

// RegisterDefaults binds the built-in handlers to their topics and paths
func RegisterDefaults(d *Dispatcher, h Handlers) {
	d.Register(webhook.TopicAppUninstalled, PathWebhooks, h.Remover)
	d.Register(webhook.TopicShopRedact, PathWebhooks, h.Remover)
	d.Register(webhook.TopicCustomersDataRequest, PathWebhooks, h.Privacy)
	d.Register(webhook.TopicCustomersRedact, PathWebhooks, h.Privacy)

	d.Register(webhook.TopicFulfillmentsCreate, PathFulfillmentCreate, h.Fulfillment)
	d.Register(webhook.TopicFulfillmentsUpdate, PathFulfillmentUpdate, h.Fulfillment)
}
