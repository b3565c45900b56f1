package fulfillment

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Defaults used when the marketing account is not configured explicitly
const (
	DefaultEventName = "Order Delivered"
)

// Money is a decimal amount that marshals as a bare JSON number
type Money struct {
	decimal.Decimal
}

// MarshalJSON implements json.Marshaler
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

// NewMoney wraps d
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// CustomerProperties identifies the recipient of the marketing event
type CustomerProperties struct {
	Email       string `json:"$email"`
	FirstName   string `json:"$first_name"`
	LastName    string `json:"$last_name"`
	PhoneNumber string `json:"$phone_number"`
	City        string `json:"$city"`
	Region      string `json:"$region"`
	Country     string `json:"$country"`
	Zip         string `json:"$zip"`
	Address1    string `json:"$address1"`
	Address2    string `json:"$address2"`
	Company     string `json:"$company"`
	FullName    string `json:"$fullname"`
	OrderID     int64  `json:"$orderId"`
}

// Item is one entry of the event's Items list
type Item struct {
	Name      string `json:"Name"`
	Quantity  int    `json:"Quantity"`
	SKU       string `json:"SKU"`
	ProductID *int64 `json:"ProductId"`
	Price     string `json:"Price"`
}

// Properties carries the order details of the marketing event
type Properties struct {
	EventID             int64             `json:"$event_id"`
	Value               int               `json:"$value"`
	CourierName         []*string         `json:"CourierName"`
	CurrentStatus       []*string         `json:"CurrentStatus"`
	OriginAddress       []json.RawMessage `json:"OriginAddress"`
	OriginalOrderPrice  Money             `json:"OriginalOrderPrice"`
	TotalAmountPaid     Money             `json:"TotalAmountPaid"`
	ItemNames           []string          `json:"ItemNames"`
	DeliveredOn         []*string         `json:"DeliveredOn"`
	Items               []Item            `json:"Items"`
	City                []string          `json:"City"`
	Province            []string          `json:"Province"`
	ProvinceCode        []string          `json:"ProvinceCode"`
	Country             []string          `json:"Country"`
	ZipCode             []string          `json:"ZipCode"`
	CountryCode         []string          `json:"CountryCode"`
	DiscountCodeApplied []string          `json:"DiscountCodeApplied"`
}

// TrackEvent is the record submitted to the marketing API for a delivered shipment
type TrackEvent struct {
	Token              string             `json:"token"`
	Event              string             `json:"event"`
	CustomerProperties CustomerProperties `json:"customer_properties"`
	Properties         Properties         `json:"properties"`
}

// OrderSummary is the enrichment returned by the platform for one session
type OrderSummary struct {
	TotalPaid    decimal.Decimal
	DiscountCode *string
}

// NewTrackEvent builds the marketing record from a fulfillment payload.
// The subtotal is accumulated from the line items; enrichment fields start at
// their zero values.
func NewTrackEvent(token, eventName string, f *Fulfillment) *TrackEvent {
	if eventName == "" {
		eventName = DefaultEventName
	}
	dest := f.Dest()
	origin := f.OriginAddress
	if len(origin) == 0 {
		origin = json.RawMessage("null")
	}

	evt := &TrackEvent{
		Token: token,
		Event: eventName,
		CustomerProperties: CustomerProperties{
			Email:       f.Email,
			FirstName:   dest.FirstName,
			LastName:    dest.LastName,
			PhoneNumber: dest.Phone,
			City:        dest.City,
			Region:      dest.Province,
			Country:     dest.Country,
			Zip:         dest.Zip,
			Address1:    dest.Address1,
			Address2:    dest.Address2,
			Company:     dest.Company,
			FullName:    dest.Name,
			OrderID:     f.OrderID,
		},
		Properties: Properties{
			EventID:             f.OrderID,
			Value:               0,
			CourierName:         []*string{f.TrackingCompany},
			CurrentStatus:       []*string{f.ShipmentStatus},
			OriginAddress:       []json.RawMessage{origin},
			OriginalOrderPrice:  NewMoney(decimal.Zero),
			TotalAmountPaid:     NewMoney(decimal.Zero),
			ItemNames:           make([]string, 0, len(f.LineItems)),
			DeliveredOn:         []*string{f.UpdatedAt},
			Items:               make([]Item, 0, len(f.LineItems)),
			City:                []string{dest.City},
			Province:            []string{dest.Province},
			ProvinceCode:        []string{dest.ProvinceCode},
			Country:             []string{dest.Country},
			ZipCode:             []string{dest.Zip},
			CountryCode:         []string{dest.CountryCode},
			DiscountCodeApplied: []string{},
		},
	}

	for _, li := range f.LineItems {
		evt.Properties.ItemNames = append(evt.Properties.ItemNames, li.Title)
		evt.Properties.Items = append(evt.Properties.Items, Item{
			Name:      li.Title,
			Quantity:  li.Quantity,
			SKU:       li.SKU,
			ProductID: li.ProductID,
			Price:     li.Price.String(),
		})
	}
	evt.Properties.OriginalOrderPrice = NewMoney(f.Subtotal())

	return evt
}

// Subtotal returns the accumulated order subtotal
func (e *TrackEvent) Subtotal() decimal.Decimal {
	return e.Properties.OriginalOrderPrice.Decimal
}

// ApplySummary merges one session's enrichment into the record.
// When a tenant has several sessions each call overwrites the previous one,
// so the last session's result wins. This is intentional.
func (e *TrackEvent) ApplySummary(s OrderSummary) {
	e.Properties.TotalAmountPaid = NewMoney(s.TotalPaid)
	if s.DiscountCode != nil && *s.DiscountCode != "" {
		e.Properties.DiscountCodeApplied = []string{*s.DiscountCode}
	} else {
		e.Properties.DiscountCodeApplied = []string{}
	}
}

// JSON returns the serialized record
func (e *TrackEvent) JSON() ([]byte, error) {
	return json.Marshal(e)
}
