package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of relay spans
const TracerName = "github.com/shipnotify/backend"

// Span names
const (
	SpanWebhookDispatch    = "webhook.dispatch"
	SpanFulfillmentForward = "fulfillment.forward"
	SpanBillingEnsure      = "billing.ensure"
	SpanShopifyGraphQL     = "shopify.graphql"
	SpanKlaviyoTrack       = "klaviyo.track"
)

// Span attribute keys
const (
	SpanAttrShop      = "shop"
	SpanAttrTopic     = "webhook.topic"
	SpanAttrWebhookID = "webhook.id"
	SpanAttrOrderID   = "order.id"
	SpanAttrSessions  = "sessions"
	SpanAttrOutcome   = "outcome"
)

// StartSpan starts an internal span on the global tracer provider.
// The caller must call span.End().
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBillingEnsure,
//	    attribute.String(telemetry.SpanAttrShop, shop))
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, name, trace.SpanKindInternal, attrs)
}

// StartClientSpan starts a span for an outbound call.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, name, trace.SpanKindClient, attrs)
}

func startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(kind)}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, opts...)
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
