package shopify

import (
	"errors"
	"time"
)

// Config holds the credentials and limits of the platform API client
type Config struct {
	// APIKey is the app's client id
	APIKey string
	// APISecret is the app's client secret
	APISecret string
	// APIVersion is the Admin API version used in GraphQL URLs (e.g. "2024-10")
	APIVersion string
	// Timeout bounds every outbound request
	Timeout time.Duration
	// RequestsPerSecond and Burst throttle calls per tenant
	RequestsPerSecond float64
	Burst             int
	// LimiterIdle is how long an unused tenant limiter is kept
	LimiterIdle time.Duration
	// Endpoint overrides "https://{shop}" as the base URL of every tenant.
	// Tests point it at an httptest server.
	Endpoint string
}

const (
	// DefaultAPIVersion is used when no version is configured
	DefaultAPIVersion = "2024-10"
	// DefaultTimeout is used when no timeout is configured
	DefaultTimeout = 10 * time.Second

	defaultRequestsPerSecond = 2
	defaultBurst             = 4
	defaultLimiterIdle       = 10 * time.Minute
)

// Configuration errors
var (
	ErrConfigMissingAPIKey    = errors.New("shopify: api key is required")
	ErrConfigMissingAPISecret = errors.New("shopify: api secret is required")
)

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrConfigMissingAPIKey
	}
	if c.APISecret == "" {
		return ErrConfigMissingAPISecret
	}
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.LimiterIdle <= 0 {
		c.LimiterIdle = defaultLimiterIdle
	}
	return nil
}
