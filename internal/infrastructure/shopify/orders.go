package shopify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/shipnotify/backend/internal/domain/fulfillment"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
)

const orderSummaryQuery = `query orderSummary($id: ID!) {
  order(id: $id) {
    id
    totalPriceSet {
      shopMoney {
        amount
      }
    }
    discountCode
  }
}`

// OrderGID returns the global id of an order
func OrderGID(orderID int64) string {
	return "gid://shopify/Order/" + strconv.FormatInt(orderID, 10)
}

// OrderSummary fetches the total paid and the applied discount code of an order
func (c *Client) OrderSummary(ctx context.Context, d shop.Domain, accessToken string, orderID int64) (fulfillment.OrderSummary, error) {
	data, err := c.GraphQL(ctx, d, accessToken, orderSummaryQuery, map[string]any{
		"id": OrderGID(orderID),
	})
	if err != nil {
		return fulfillment.OrderSummary{}, err
	}

	order := data.Get("order")
	if !order.IsObject() {
		return fulfillment.OrderSummary{}, fmt.Errorf("%w: order %d not returned", shared.ErrUpstreamFailure, orderID)
	}

	summary := fulfillment.OrderSummary{TotalPaid: decimal.Zero}
	if amount := order.Get("totalPriceSet.shopMoney.amount"); amount.Exists() && amount.String() != "" {
		total, err := decimal.NewFromString(amount.String())
		if err != nil {
			return fulfillment.OrderSummary{}, fmt.Errorf("%w: malformed order total %q", shared.ErrUpstreamFailure, amount.String())
		}
		summary.TotalPaid = total
	}
	if code := order.Get("discountCode"); code.Type == gjson.String {
		s := code.String()
		summary.DiscountCode = &s
	}
	return summary, nil
}
