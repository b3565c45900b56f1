// Package webhook models signed platform callbacks and their dispatch lifecycle.
package webhook

import (
	"context"
	"path"
	"strings"

	"github.com/shipnotify/backend/internal/domain/shop"
)

// Topic identifies the kind of webhook event in constant form (e.g. APP_UNINSTALLED)
type Topic string

const (
	TopicAppUninstalled       Topic = "APP_UNINSTALLED"
	TopicFulfillmentsCreate   Topic = "FULFILLMENTS_CREATE"
	TopicFulfillmentsUpdate   Topic = "FULFILLMENTS_UPDATE"
	TopicCustomersDataRequest Topic = "CUSTOMERS_DATA_REQUEST"
	TopicCustomersRedact      Topic = "CUSTOMERS_REDACT"
	TopicShopRedact           Topic = "SHOP_REDACT"
)

// ParseTopic converts a header topic ("fulfillments/create") or a constant
// topic ("FULFILLMENTS_CREATE") into its constant form.
func ParseTopic(raw string) Topic {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, "/", "_")
	return Topic(strings.ToUpper(raw))
}

// HeaderValue returns the topic as the platform sends it ("fulfillments/create")
func (t Topic) HeaderValue() string {
	return strings.ToLower(strings.Replace(string(t), "_", "/", 1))
}

// String returns the constant form
func (t Topic) String() string {
	return string(t)
}

// IsKnown reports whether the relay has a built-in meaning for the topic
func (t Topic) IsKnown() bool {
	switch t {
	case TopicAppUninstalled, TopicFulfillmentsCreate, TopicFulfillmentsUpdate,
		TopicCustomersDataRequest, TopicCustomersRedact, TopicShopRedact:
		return true
	}
	return false
}

// IsMandatory reports whether the topic is a privacy topic configured in the
// partner dashboard rather than subscribed through the API
func (t Topic) IsMandatory() bool {
	switch t {
	case TopicCustomersDataRequest, TopicCustomersRedact, TopicShopRedact:
		return true
	}
	return false
}

// Request header names carried by every webhook delivery
const (
	HeaderTopic      = "X-Shopify-Topic"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderHmac       = "X-Shopify-Hmac-Sha256"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderAPIVersion = "X-Shopify-API-Version"
)

// Event is one webhook delivery. It only lives for the duration of a dispatch.
type Event struct {
	Topic      Topic
	Shop       shop.Domain
	WebhookID  string
	APIVersion string
	Path       string
	RawBody    []byte
	Signature  string
}

// Handler processes a verified webhook event
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle calls f(ctx, evt)
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// NormalizePath collapses duplicate slashes and trailing slashes so that
// "//api/fulfillment-create" and "/api/fulfillment-create/" route identically.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + strings.TrimLeft(p, "/"))
	return cleaned
}

// RouteKey is the dispatcher routing key
type RouteKey struct {
	Topic Topic
	Path  string
}

// NewRouteKey builds a normalized routing key
func NewRouteKey(topic Topic, p string) RouteKey {
	return RouteKey{Topic: topic, Path: NormalizePath(p)}
}
