package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Forward results
const (
	ForwardSent         = "sent"
	ForwardSendFailed   = "send_failed"
	ForwardEnrichFailed = "enrich_failed"
	ForwardBuildFailed  = "build_failed"
)

// RelayMetrics counts webhook deliveries and marketing forwards.
type RelayMetrics struct {
	deliveries      *Counter
	forwards        *Counter
	forwardDuration *Histogram
}

// NewRelayMetrics registers the relay instruments on meter.
func NewRelayMetrics(meter metric.Meter) (*RelayMetrics, error) {
	deliveries, err := NewCounter(meter, "webhook_deliveries_total",
		"Webhook deliveries by topic and outcome", "{delivery}")
	if err != nil {
		return nil, err
	}
	forwards, err := NewCounter(meter, "fulfillment_forwards_total",
		"Delivered-shipment forwards by result", "{forward}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "fulfillment_forward_duration_seconds",
		Description: "Time from forward start to marketing API response",
		Unit:        "s",
		Boundaries:  HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &RelayMetrics{deliveries: deliveries, forwards: forwards, forwardDuration: duration}, nil
}

// RecordDelivery counts one webhook delivery. Safe on a nil receiver.
func (m *RelayMetrics) RecordDelivery(ctx context.Context, topic, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.Inc(ctx, AttrTopic.String(topic), AttrOutcome.String(outcome))
}

// RecordForward counts one forward and its duration. Safe on a nil receiver.
func (m *RelayMetrics) RecordForward(ctx context.Context, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.forwards.Inc(ctx, AttrResult.String(result))
	m.forwardDuration.RecordDuration(ctx, d, AttrResult.String(result))
}
