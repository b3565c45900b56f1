// Package klaviyo submits track events to the marketing API.
package klaviyo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/infrastructure/telemetry"
)

// DefaultEndpoint is the legacy track endpoint accepting form-encoded events
const DefaultEndpoint = "https://a.klaviyo.com/api/track"

// maxResponseSize caps how much of the response is read for logging
const maxResponseSize = 64 * 1024

// ErrMissingEndpoint is returned when the client is built without an endpoint
var ErrMissingEndpoint = errors.New("klaviyo: endpoint is required")

// Config holds the marketing API settings
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client posts track events. It makes exactly one attempt per call.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a marketing API client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("klaviyo: invalid endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Track submits one serialized event as the form field "data".
// Any non-2xx status or transport error wraps shared.ErrUpstreamFailure.
func (c *Client) Track(ctx context.Context, payload []byte) error {
	ctx, span := telemetry.StartClientSpan(ctx, telemetry.SpanKlaviyoTrack,
		attribute.Int("payload.bytes", len(payload)))
	defer span.End()

	form := url.Values{}
	form.Set("data", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("klaviyo: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: klaviyo: %v", shared.ErrUpstreamFailure, err)
		telemetry.RecordError(span, err)
		return err
	}
	defer resp.Body.Close()

	// The status decides the result; a truncated body only affects the "0" check
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if readErr != nil {
		c.logger.Debug("Failed to read track response body",
			zap.Int("status", resp.StatusCode),
			zap.Error(readErr),
		)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("%w: klaviyo: HTTP %d", shared.ErrUpstreamFailure, resp.StatusCode)
		telemetry.RecordError(span, err)
		return err
	}

	// The endpoint answers "1" for accepted and "0" for rejected events
	if strings.TrimSpace(string(body)) == "0" {
		err = fmt.Errorf("%w: klaviyo: event rejected", shared.ErrUpstreamFailure)
		telemetry.RecordError(span, err)
		return err
	}

	c.logger.Debug("Track event accepted",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("response", body),
	)
	return nil
}
