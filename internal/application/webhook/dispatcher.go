// Package webhook verifies platform callbacks and routes them to topic handlers.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

// Verifier checks the signature of a raw webhook body
type Verifier interface {
	Verify(rawBody []byte, signatureHeader string) bool
}

// Delivery is an inbound webhook request exactly as received.
// Nothing in it has been parsed or trusted yet.
type Delivery struct {
	Topic      string
	Shop       string
	WebhookID  string
	APIVersion string
	Path       string
	Body       []byte
	Signature  string
}

// Dispatcher drives each delivery through
// received → verified → routed → handled | rejected.
// Handlers never run for a delivery whose signature does not verify.
type Dispatcher struct {
	verifier  Verifier
	sanitizer *shop.Sanitizer
	dedup     shared.IdempotencyStore
	dedupTTL  time.Duration
	metrics   *telemetry.RelayMetrics
	logger    *zap.Logger

	mu     sync.RWMutex
	routes map[webhook.RouteKey]webhook.Handler
}

// DispatcherConfig contains configuration for Dispatcher
type DispatcherConfig struct {
	Verifier  Verifier
	Sanitizer *shop.Sanitizer
	// Dedup remembers handled webhook ids; nil disables deduplication
	Dedup    shared.IdempotencyStore
	DedupTTL time.Duration
	Metrics  *telemetry.RelayMetrics
	Logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = shop.NewSanitizer()
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = shared.DefaultIdempotencyConfig().TTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		verifier:  cfg.Verifier,
		sanitizer: cfg.Sanitizer,
		dedup:     cfg.Dedup,
		dedupTTL:  cfg.DedupTTL,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		routes:    make(map[webhook.RouteKey]webhook.Handler),
	}
}

// Register binds handler to (topic, path). Paths are normalized, so
// "/api/x" and "//api/x" are one route. A second registration for the same
// route is collapsed: the first handler is kept and false is returned.
func (d *Dispatcher) Register(topic webhook.Topic, path string, handler webhook.Handler) bool {
	key := webhook.NewRouteKey(topic, path)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.routes[key]; exists {
		d.logger.Debug("Duplicate webhook route collapsed",
			zap.String("topic", topic.HeaderValue()),
			zap.String("path", key.Path))
		return false
	}
	d.routes[key] = handler
	return true
}

// Routes returns every registered route sorted by path then topic
func (d *Dispatcher) Routes() []webhook.RouteKey {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]webhook.RouteKey, 0, len(d.routes))
	for k := range d.routes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Topic < keys[j].Topic
	})
	return keys
}

// Paths returns the distinct normalized paths that have handlers
func (d *Dispatcher) Paths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, k := range d.Routes() {
		if _, ok := seen[k.Path]; ok {
			continue
		}
		seen[k.Path] = struct{}{}
		paths = append(paths, k.Path)
	}
	return paths
}

func (d *Dispatcher) handler(key webhook.RouteKey) (webhook.Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.routes[key]
	return h, ok
}

// Dispatch verifies, routes and handles one delivery. It never panics and
// never returns an error; the outcome carries the status for the platform.
func (d *Dispatcher) Dispatch(ctx context.Context, in Delivery) (out webhook.Outcome) {
	topic := webhook.ParseTopic(in.Topic)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanWebhookDispatch,
		attribute.String(telemetry.SpanAttrTopic, topic.String()),
		attribute.String(telemetry.SpanAttrWebhookID, in.WebhookID))
	defer span.End()

	if in.WebhookID != "" {
		ctx = logger.WithWebhookID(ctx, in.WebhookID)
	}
	log := logger.WithLogger(ctx, d.logger).With(
		zap.String("topic", topic.HeaderValue()),
		zap.String("path", in.Path),
	)

	reached := webhook.StateReceived
	span.AddEvent(string(reached))
	advance := func(s webhook.State) {
		reached = s
		span.AddEvent(string(s))
	}

	defer func() {
		out.Reached = reached
		span.SetAttributes(attribute.String(telemetry.SpanAttrOutcome, out.Label()))
		if out.Err != nil {
			telemetry.RecordError(span, out.Err)
		}
		d.metrics.RecordDelivery(ctx, topic.String(), out.Label())
	}()

	// received → verified
	if d.verifier == nil || !d.verifier.Verify(in.Body, in.Signature) {
		log.Warn("Webhook signature verification failed")
		return webhook.Rejected(webhook.ReasonInvalidSignature, shared.ErrInvalidSignature)
	}

	if topic == "" {
		log.Warn("Webhook without topic")
		return webhook.Rejected(webhook.ReasonMalformed, shared.ErrInvalidInput.WithMessage("missing webhook topic"))
	}
	domain, err := d.sanitizer.Parse(in.Shop)
	if err != nil {
		log.Warn("Webhook with missing or invalid shop", zap.String("shop", in.Shop))
		return webhook.Rejected(webhook.ReasonMalformed, err)
	}
	ctx = logger.WithShop(ctx, domain.String())
	span.SetAttributes(attribute.String(telemetry.SpanAttrShop, domain.String()))
	log = logger.WithLogger(ctx, d.logger).With(
		zap.String("topic", topic.HeaderValue()),
		zap.String("path", in.Path),
	)
	advance(webhook.StateVerified)

	// verified → routed
	key := webhook.NewRouteKey(topic, in.Path)
	h, ok := d.handler(key)
	if !ok {
		log.Warn("No webhook handler registered")
		return webhook.Rejected(webhook.ReasonNoHandler,
			shared.ErrNoWebhookHandler.WithMessage(fmt.Sprintf("no handler for %s at %s", topic, key.Path)))
	}
	advance(webhook.StateRouted)

	if d.alreadyHandled(ctx, in.WebhookID, log) {
		log.Info("Duplicate webhook delivery acknowledged")
		return webhook.Handled(webhook.ReasonDuplicate)
	}

	evt := &webhook.Event{
		Topic:      topic,
		Shop:       domain,
		WebhookID:  in.WebhookID,
		APIVersion: in.APIVersion,
		Path:       key.Path,
		RawBody:    in.Body,
		Signature:  in.Signature,
	}

	// routed → handled | rejected
	if err := d.invoke(ctx, h, evt); err != nil {
		if errors.Is(err, shared.ErrInvalidInput) {
			log.Warn("Webhook payload rejected", zap.Error(err))
			return webhook.Rejected(webhook.ReasonMalformed, err)
		}
		log.Error("Webhook handler failed", zap.Error(err))
		return webhook.Rejected(webhook.ReasonHandlerFailure, err)
	}

	d.markHandled(ctx, in.WebhookID, log)
	log.Info("Webhook processed")
	return webhook.Handled(webhook.ReasonNone)
}

// invoke runs the handler, converting a panic into a handler failure
func (d *Dispatcher) invoke(ctx context.Context, h webhook.Handler, evt *webhook.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", shared.ErrHandlerFailure, r)
		}
	}()
	return h.Handle(ctx, evt)
}

// alreadyHandled consults the dedup store. Store failures are logged and the
// delivery is processed; handlers are idempotent so a repeat is harmless.
func (d *Dispatcher) alreadyHandled(ctx context.Context, id string, log *logger.ContextLogger) bool {
	if d.dedup == nil || id == "" {
		return false
	}
	done, err := d.dedup.IsProcessed(ctx, id)
	if err != nil {
		log.Warn("Webhook dedup lookup failed", zap.Error(err))
		return false
	}
	return done
}

// markHandled records a successful delivery so platform retries are skipped
func (d *Dispatcher) markHandled(ctx context.Context, id string, log *logger.ContextLogger) {
	if d.dedup == nil || id == "" {
		return
	}
	if _, err := d.dedup.MarkProcessed(ctx, id, d.dedupTTL); err != nil {
		log.Warn("Failed to record webhook delivery", zap.Error(err))
	}
}
