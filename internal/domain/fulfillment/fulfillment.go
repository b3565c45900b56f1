// Package fulfillment models shipment lifecycle payloads and the marketing
// event derived from a delivered shipment.
package fulfillment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ShipmentStatusDelivered is the only status that triggers forwarding
const ShipmentStatusDelivered = "delivered"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Address is the shipment destination
type Address struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Company      string `json:"company"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	Zip          string `json:"zip"`
}

// Price is a line item price. The platform sends a decimal string ("10.00")
// but a bare JSON number decodes too. Text keeps the form it arrived in.
type Price struct {
	Amount decimal.Decimal
	Text   string
}

// ParsePrice parses a decimal price; an empty string is the zero price
func ParsePrice(text string) (Price, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Price{}, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q", text)
	}
	return Price{Amount: d, Text: text}, nil
}

// UnmarshalJSON accepts a string, a number or null
func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = Price{}
		return nil
	}
	text := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
	}
	parsed, err := ParsePrice(text)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalJSON writes the price back as a string
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// String returns the price as received
func (p Price) String() string {
	return p.Text
}

// LineItem is one fulfilled order line
type LineItem struct {
	Title     string `json:"title"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
	SKU       string `json:"sku"`
	ProductID *int64 `json:"product_id"`
	Price     Price  `json:"price"`
}

// LineTotal returns unit price × quantity; an empty price counts as zero
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Amount.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Fulfillment is the body of a FULFILLMENTS_CREATE / FULFILLMENTS_UPDATE webhook
type Fulfillment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id" validate:"required"`
	Status          string          `json:"status"`
	ShipmentStatus  *string         `json:"shipment_status"`
	TrackingCompany *string         `json:"tracking_company"`
	OriginAddress   json.RawMessage `json:"origin_address"`
	Email           string          `json:"email"`
	UpdatedAt       *string         `json:"updated_at"`
	Destination     *Address        `json:"destination"`
	LineItems       []LineItem      `json:"line_items" validate:"dive"`
}

// Parse decodes and validates a fulfillment payload. Failures wrap ErrInvalidInput.
func Parse(raw []byte) (*Fulfillment, error) {
	var f Fulfillment
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: decode fulfillment: %v", shared.ErrInvalidInput, err)
	}
	if err := payloadValidator().Struct(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}
	return &f, nil
}

// IsDelivered reports whether the shipment reached the customer
func (f *Fulfillment) IsDelivered() bool {
	return f.ShipmentStatus != nil && *f.ShipmentStatus == ShipmentStatusDelivered
}

// Dest returns the destination, or an empty address when none was sent
func (f *Fulfillment) Dest() Address {
	if f.Destination == nil {
		return Address{}
	}
	return *f.Destination
}

// Subtotal returns Σ(unit price × quantity) over all line items
func (f *Fulfillment) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, li := range f.LineItems {
		total = total.Add(li.LineTotal())
	}
	return total
}
