package shopify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
)

// maxPurchasePages bounds the one-time purchase pagination
const maxPurchasePages = 20

const activeSubscriptionsQuery = `query appSubscriptions {
  currentAppInstallation {
    activeSubscriptions {
      name
      status
      test
      lineItems {
        plan {
          pricingDetails {
            __typename
            ... on AppRecurringPricing {
              interval
              price { amount currencyCode }
            }
            ... on AppUsagePricing {
              cappedAmount { amount currencyCode }
            }
          }
        }
      }
    }
  }
}`

const oneTimePurchasesQuery = `query appPurchases($endCursor: String) {
  currentAppInstallation {
    oneTimePurchases(first: 250, sortKey: CREATED_AT, after: $endCursor) {
      edges {
        node {
          name
          status
          test
          price { amount currencyCode }
        }
      }
      pageInfo {
        hasNextPage
        endCursor
      }
    }
  }
}`

const oneTimePurchaseMutation = `mutation appPurchaseOneTimeCreate($name: String!, $price: MoneyInput!, $returnUrl: URL!, $test: Boolean) {
  appPurchaseOneTimeCreate(name: $name, price: $price, returnUrl: $returnUrl, test: $test) {
    confirmationUrl
    userErrors { field message }
  }
}`

const subscriptionMutation = `mutation appSubscriptionCreate($name: String!, $lineItems: [AppSubscriptionLineItemInput!]!, $returnUrl: URL!, $test: Boolean) {
  appSubscriptionCreate(name: $name, lineItems: $lineItems, returnUrl: $returnUrl, test: $test) {
    confirmationUrl
    userErrors { field message }
  }
}`

// Charges returns the app's active subscriptions and one-time purchases for a tenant
func (c *Client) Charges(ctx context.Context, d shop.Domain, accessToken string) ([]billing.Charge, error) {
	data, err := c.GraphQL(ctx, d, accessToken, activeSubscriptionsQuery, nil)
	if err != nil {
		return nil, err
	}

	var charges []billing.Charge
	for _, sub := range data.Get("currentAppInstallation.activeSubscriptions").Array() {
		charges = append(charges, subscriptionCharge(sub))
	}

	var cursor any
	for page := 0; page < maxPurchasePages; page++ {
		data, err := c.GraphQL(ctx, d, accessToken, oneTimePurchasesQuery, map[string]any{"endCursor": cursor})
		if err != nil {
			return nil, err
		}
		purchases := data.Get("currentAppInstallation.oneTimePurchases")
		for _, edge := range purchases.Get("edges").Array() {
			node := edge.Get("node")
			charges = append(charges, billing.Charge{
				Name:     node.Get("name").String(),
				Status:   node.Get("status").String(),
				Test:     node.Get("test").Bool(),
				Amount:   parseAmount(node.Get("price.amount")),
				Currency: node.Get("price.currencyCode").String(),
				Interval: billing.IntervalOneTime,
			})
		}
		if !purchases.Get("pageInfo.hasNextPage").Bool() {
			break
		}
		cursor = purchases.Get("pageInfo.endCursor").String()
	}
	return charges, nil
}

func subscriptionCharge(sub gjson.Result) billing.Charge {
	charge := billing.Charge{
		Name:   sub.Get("name").String(),
		Status: sub.Get("status").String(),
		Test:   sub.Get("test").Bool(),
	}
	for _, item := range sub.Get("lineItems").Array() {
		details := item.Get("plan.pricingDetails")
		switch details.Get("__typename").String() {
		case "AppRecurringPricing":
			charge.Interval = billing.Interval(details.Get("interval").String())
			charge.Amount = parseAmount(details.Get("price.amount"))
			charge.Currency = details.Get("price.currencyCode").String()
			return charge
		case "AppUsagePricing":
			charge.Interval = billing.IntervalUsage
			charge.Amount = parseAmount(details.Get("cappedAmount.amount"))
			charge.Currency = details.Get("cappedAmount.currencyCode").String()
		}
	}
	return charge
}

// parseAmount returns zero for a missing or malformed amount, which
// billing.Charge.Matches treats as "not reported"
func parseAmount(r gjson.Result) decimal.Decimal {
	if !r.Exists() {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CreateCharge requests the configured charge and returns the URL where the
// merchant confirms it
func (c *Client) CreateCharge(ctx context.Context, d shop.Domain, accessToken string, settings billing.Settings, returnURL string) (string, error) {
	money := map[string]any{
		"amount":       settings.Amount.InexactFloat64(),
		"currencyCode": settings.Currency(),
	}

	var (
		query string
		vars  = map[string]any{
			"name":      settings.ChargeName,
			"returnUrl": returnURL,
			"test":      settings.Test,
		}
		field string
	)
	switch settings.Interval {
	case billing.IntervalOneTime:
		query, field = oneTimePurchaseMutation, "appPurchaseOneTimeCreate"
		vars["price"] = money
	case billing.IntervalUsage:
		query, field = subscriptionMutation, "appSubscriptionCreate"
		vars["lineItems"] = []map[string]any{{
			"plan": map[string]any{
				"appUsagePricingDetails": map[string]any{
					"cappedAmount": money,
					"terms":        settings.ChargeName,
				},
			},
		}}
	default:
		query, field = subscriptionMutation, "appSubscriptionCreate"
		vars["lineItems"] = []map[string]any{{
			"plan": map[string]any{
				"appRecurringPricingDetails": map[string]any{
					"interval": string(settings.Interval),
					"price":    money,
				},
			},
		}}
	}

	data, err := c.GraphQL(ctx, d, accessToken, query, vars)
	if err != nil {
		return "", err
	}
	result := data.Get(field)
	if err := userErrors(result.Get("userErrors")); err != nil {
		return "", err
	}
	confirmationURL := result.Get("confirmationUrl").String()
	if confirmationURL == "" {
		return "", fmt.Errorf("%w: %s returned no confirmation url", shared.ErrUpstreamFailure, field)
	}
	return confirmationURL, nil
}
