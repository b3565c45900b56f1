package billing

import (
	"strings"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Interval is the charge cadence configured for the app
type Interval string

const (
	IntervalOneTime  Interval = "ONE_TIME"
	IntervalEvery30  Interval = "EVERY_30_DAYS"
	IntervalAnnual   Interval = "ANNUAL"
	IntervalUsage    Interval = "USAGE"
	defaultCurrency           = "USD"
)

// IsRecurring reports whether the interval is charged through a subscription
func (i Interval) IsRecurring() bool {
	return i == IntervalEvery30 || i == IntervalAnnual || i == IntervalUsage
}

// Valid reports whether the interval is one of the known values
func (i Interval) Valid() bool {
	switch i {
	case IntervalOneTime, IntervalEvery30, IntervalAnnual, IntervalUsage:
		return true
	}
	return false
}

// ParseInterval converts a configured interval string
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToUpper(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", shared.ErrInvalidInput.WithMessage("unknown billing interval: " + s)
	}
	return i, nil
}

// Settings describes the charge the app requires before protected routes are served
type Settings struct {
	Required     bool
	ChargeName   string
	Amount       decimal.Decimal
	CurrencyCode string
	Interval     Interval
	// Test marks created charges as test charges (non-production environments)
	Test bool
}

// Validate checks that required settings are complete
func (s Settings) Validate() error {
	if !s.Required {
		return nil
	}
	if strings.TrimSpace(s.ChargeName) == "" {
		return shared.ErrInvalidInput.WithMessage("billing charge name is required")
	}
	if !s.Amount.IsPositive() {
		return shared.ErrInvalidInput.WithMessage("billing amount must be positive")
	}
	if !s.Interval.Valid() {
		return shared.ErrInvalidInput.WithMessage("billing interval is invalid")
	}
	return nil
}

// Currency returns the configured currency, defaulting to USD
func (s Settings) Currency() string {
	if s.CurrencyCode == "" {
		return defaultCurrency
	}
	return strings.ToUpper(s.CurrencyCode)
}

// Charge is an existing charge reported by the platform
type Charge struct {
	Name     string
	Status   string
	Test     bool
	Amount   decimal.Decimal
	Currency string
	Interval Interval
}

// IsActive reports whether the platform considers the charge active
func (c Charge) IsActive() bool {
	return strings.EqualFold(c.Status, "ACTIVE")
}

// Matches reports whether the charge satisfies the settings.
// Amount and interval are only compared when the platform reported them.
func (c Charge) Matches(s Settings) bool {
	if !c.IsActive() || c.Name != s.ChargeName {
		return false
	}
	if !c.Amount.IsZero() && !c.Amount.Equal(s.Amount) {
		return false
	}
	if c.Currency != "" && !strings.EqualFold(c.Currency, s.Currency()) {
		return false
	}
	if c.Interval != "" && c.Interval != s.Interval {
		return false
	}
	return true
}

// Status is the derived billing state of a tenant; it is never stored
type Status struct {
	Required        bool `json:"required"`
	HasActiveCharge bool `json:"has_active_charge"`
}

// Result is the outcome of a billing check
type Result struct {
	OK              bool
	ConfirmationURL string
}

// Satisfied returns a passing result
func Satisfied() Result {
	return Result{OK: true}
}

// NeedsConfirmation returns a failing result that redirects to url
func NeedsConfirmation(url string) Result {
	return Result{OK: false, ConfirmationURL: url}
}
