package shopify

import (
	"context"
	"fmt"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
)

const webhookSubscriptionMutation = `mutation webhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $callbackUrl: URL!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: {callbackUrl: $callbackUrl, format: JSON}) {
    webhookSubscription { id }
    userErrors { field message }
  }
}`

// RegisterWebhook subscribes the tenant's topic deliveries to callbackURL and
// returns the subscription id. topic is the constant form (e.g. APP_UNINSTALLED).
func (c *Client) RegisterWebhook(ctx context.Context, d shop.Domain, accessToken, topic, callbackURL string) (string, error) {
	data, err := c.GraphQL(ctx, d, accessToken, webhookSubscriptionMutation, map[string]any{
		"topic":       topic,
		"callbackUrl": callbackURL,
	})
	if err != nil {
		return "", err
	}
	result := data.Get("webhookSubscriptionCreate")
	if err := userErrors(result.Get("userErrors")); err != nil {
		return "", err
	}
	id := result.Get("webhookSubscription.id").String()
	if id == "" {
		return "", fmt.Errorf("%w: webhook subscription for %s not created", shared.ErrUpstreamFailure, topic)
	}
	return id, nil
}
