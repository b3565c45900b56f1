// Package shopify is the outbound client for the commerce platform's Admin API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

// maxResponseSize caps how much of a platform response is read (10MB)
const maxResponseSize = 10 * 1024 * 1024

// HeaderAccessToken carries the tenant's access token on Admin API calls
const HeaderAccessToken = "X-Shopify-Access-Token"

// Client talks to the Admin API of every tenant.
// Calls are throttled per tenant and bounded by the configured timeout.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	limiters map[shop.Domain]*tenantLimiter
	mu       sync.Mutex
	now      func() time.Time
}

type tenantLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClient creates a platform client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:   logger,
		limiters: make(map[shop.Domain]*tenantLimiter),
		now:      time.Now,
	}, nil
}

// APIKey returns the app's client id
func (c *Client) APIKey() string {
	return c.config.APIKey
}

func (c *Client) limiter(d shop.Domain) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[d]
	if !ok {
		l = &tenantLimiter{limiter: rate.NewLimiter(rate.Limit(c.config.RequestsPerSecond), c.config.Burst)}
		c.limiters[d] = l
	}
	l.lastSeen = c.now()
	return l.limiter
}

// CleanupLimiters drops tenant limiters unused for longer than
// Config.LimiterIdle and returns how many were removed
func (c *Client) CleanupLimiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for d, l := range c.limiters {
		if now.Sub(l.lastSeen) > c.config.LimiterIdle {
			delete(c.limiters, d)
			removed++
		}
	}
	return removed
}

// RunCleanup calls CleanupLimiters every interval until stop is closed
func (c *Client) RunCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.CleanupLimiters(); n > 0 {
				c.logger.Debug("Dropped idle tenant limiters", zap.Int("count", n))
			}
		case <-stop:
			return
		}
	}
}

// baseURL returns the scheme and host requests to d are sent to
func (c *Client) baseURL(d shop.Domain) string {
	if c.config.Endpoint != "" {
		return strings.TrimRight(c.config.Endpoint, "/")
	}
	return "https://" + d.String()
}

func (c *Client) graphqlURL(d shop.Domain) string {
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL(d), c.config.APIVersion)
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GraphQL runs one query against the tenant's Admin API and returns the
// "data" object. Transport errors, non-2xx statuses and GraphQL errors all
// wrap shared.ErrUpstreamFailure; a 401 additionally wraps shared.ErrUnauthorized.
func (c *Client) GraphQL(ctx context.Context, d shop.Domain, accessToken, query string, variables map[string]any) (gjson.Result, error) {
	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanShopifyGraphQL,
		attribute.String(telemetry.SpanAttrShop, d.String()))
	defer span.End()

	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("shopify: failed to encode query: %w", err)
	}

	headers := map[string]string{
		"Content-Type":    "application/json",
		"Accept":          "application/json",
		HeaderAccessToken: accessToken,
	}
	body, err := c.post(ctx, d, c.graphqlURL(d), payload, headers)
	if err != nil {
		telemetry.RecordError(span, err)
		return gjson.Result{}, err
	}

	if err := graphqlErrors(gjson.GetBytes(body, "errors")); err != nil {
		telemetry.RecordError(span, err)
		return gjson.Result{}, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || data.Type == gjson.Null {
		err = fmt.Errorf("%w: graphql response has no data", shared.ErrUpstreamFailure)
		telemetry.RecordError(span, err)
		return gjson.Result{}, err
	}
	return data, nil
}

// post sends a throttled POST and returns the validated JSON response body
func (c *Client) post(ctx context.Context, d shop.Domain, url string, payload []byte, headers map[string]string) ([]byte, error) {
	if err := c.limiter(d).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", shared.ErrUpstreamFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("shopify: failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrUpstreamFailure, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %w: HTTP %d", shared.ErrUpstreamFailure, shared.ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		c.logger.Debug("Platform request failed",
			zap.String("shop", d.String()),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: HTTP %d", shared.ErrUpstreamFailure, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed response body", shared.ErrUpstreamFailure)
	}
	return body, nil
}

// graphqlErrors reports the top-level "errors" member, which is either a list
// of {message} objects or a plain string
func graphqlErrors(errs gjson.Result) error {
	switch {
	case errs.IsArray() && len(errs.Array()) > 0:
		return fmt.Errorf("%w: graphql: %s", shared.ErrUpstreamFailure, errs.Get("0.message").String())
	case errs.Type == gjson.String && errs.String() != "":
		return fmt.Errorf("%w: graphql: %s", shared.ErrUpstreamFailure, errs.String())
	}
	return nil
}

// userErrors converts a mutation's userErrors list into an error
func userErrors(r gjson.Result) error {
	errs := r.Array()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Get("message").String())
	}
	return fmt.Errorf("%w: %s", shared.ErrUpstreamFailure, strings.Join(msgs, "; "))
}
