// Package fulfillment forwards delivered shipments to the marketing API.
package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/fulfillment"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

// DefaultTimeout bounds a detached forward when none is configured
const DefaultTimeout = 30 * time.Second

// SessionFinder lists a tenant's sessions
type SessionFinder interface {
	FindByShop(ctx context.Context, d shop.Domain) ([]*shop.Session, error)
}

// OrderQuerier fetches the enrichment of one order with one session's token
type OrderQuerier interface {
	OrderSummary(ctx context.Context, d shop.Domain, accessToken string, orderID int64) (fulfillment.OrderSummary, error)
}

// EventSender submits one serialized record to the marketing API
type EventSender interface {
	Track(ctx context.Context, payload []byte) error
}

// Forwarder builds the marketing record for a delivered shipment, enriches it
// from the platform on a best-effort basis and submits it exactly once.
// It only reads sessions and never mutates the installation registry.
type Forwarder struct {
	sessions  SessionFinder
	orders    OrderQuerier
	sender    EventSender
	token     string
	eventName string
	timeout   time.Duration
	metrics   *telemetry.RelayMetrics
	logger    *zap.Logger

	inflight sync.WaitGroup
}

// ForwarderConfig contains configuration for Forwarder
type ForwarderConfig struct {
	Sessions  SessionFinder
	Orders    OrderQuerier
	Sender    EventSender
	Token     string
	EventName string
	// Timeout bounds each detached forward, including enrichment
	Timeout time.Duration
	Metrics *telemetry.RelayMetrics
	Logger  *zap.Logger
}

// NewForwarder creates a Forwarder
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.EventName == "" {
		cfg.EventName = fulfillment.DefaultEventName
	}
	return &Forwarder{
		sessions:  cfg.Sessions,
		orders:    cfg.Orders,
		sender:    cfg.Sender,
		token:     cfg.Token,
		eventName: cfg.EventName,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Forward builds, enriches and submits the record for f. Enrichment failures
// are logged and leave the enrichment fields at their defaults; only a
// serialization or send failure is returned.
func (fw *Forwarder) Forward(ctx context.Context, d shop.Domain, f *fulfillment.Fulfillment) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanFulfillmentForward,
		attribute.String(telemetry.SpanAttrShop, d.String()),
		attribute.Int64(telemetry.SpanAttrOrderID, f.OrderID))
	defer span.End()

	log := logger.WithLogger(ctx, fw.logger).With(
		zap.String("shop", d.String()),
		zap.Int64("order_id", f.OrderID),
	)

	evt := fulfillment.NewTrackEvent(fw.token, fw.eventName, f)

	enrichErr := fw.enrich(ctx, d, f.OrderID, evt, log)

	payload, err := evt.JSON()
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to serialize track event", zap.Error(err))
		fw.metrics.RecordForward(ctx, telemetry.ForwardBuildFailed, time.Since(start))
		return err
	}

	if err := fw.sender.Track(ctx, payload); err != nil {
		telemetry.RecordError(span, err)
		log.Error("Failed to forward delivered shipment", zap.Error(err))
		fw.metrics.RecordForward(ctx, telemetry.ForwardSendFailed, time.Since(start))
		return err
	}

	result := telemetry.ForwardSent
	if enrichErr != nil {
		result = telemetry.ForwardEnrichFailed
	}
	span.SetAttributes(attribute.String(telemetry.SpanAttrOutcome, result))
	fw.metrics.RecordForward(ctx, result, time.Since(start))
	log.Info("Delivered shipment forwarded",
		zap.String("result", result),
		zap.String("total_paid", evt.Properties.TotalAmountPaid.String()),
		zap.Strings("discount_codes", evt.Properties.DiscountCodeApplied),
	)
	return nil
}

// enrich queries the order once per session holding a usable token. Each
// successful result overwrites the previous one, so when a tenant has several
// sessions the last one wins. Failures are logged and joined into the result.
func (fw *Forwarder) enrich(ctx context.Context, d shop.Domain, orderID int64, evt *fulfillment.TrackEvent, log *logger.ContextLogger) error {
	if fw.sessions == nil || fw.orders == nil {
		return nil
	}

	sessions, err := fw.sessions.FindByShop(ctx, d)
	if err != nil {
		log.Warn("Failed to load sessions for enrichment", zap.Error(err))
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(telemetry.SpanAttrSessions, len(sessions)))

	now := time.Now()
	var errs []error
	for _, s := range sessions {
		if !s.HasToken() || s.IsExpired(now) {
			continue
		}
		summary, err := fw.orders.OrderSummary(ctx, d, s.AccessToken, orderID)
		if err != nil {
			log.Warn("Order enrichment failed",
				zap.String("session_id", s.ID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		evt.ApplySummary(summary)
	}
	return errors.Join(errs...)
}

// ForwardAsync runs Forward on a detached context bounded by the configured
// timeout. The caller's cancellation does not stop it, but its trace and
// request identifiers are carried over.
func (fw *Forwarder) ForwardAsync(ctx context.Context, d shop.Domain, f *fulfillment.Fulfillment) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), fw.timeout)

	fw.inflight.Add(1)
	go func() {
		defer fw.inflight.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.WithLogger(detached, fw.logger).Error("Panic in fulfillment forward",
					zap.String("shop", d.String()),
					zap.Any("panic", r))
			}
		}()
		_ = fw.Forward(detached, d, f)
	}()
}

// Wait blocks until every detached forward has finished or ctx is done
func (fw *Forwarder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		fw.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
