package dto

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shipnotify/backend/internal/domain/shared"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeInvalidShop, http.StatusBadRequest},
		{ErrCodeInvalidSignature, http.StatusUnauthorized},
		{ErrCodeNoWebhookHandler, http.StatusNotFound},
		{ErrCodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{ErrCodeUpstreamFailure, http.StatusBadGateway},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{"ERR_SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidShop, NormalizeErrorCode("INVALID_SHOP"))
	assert.Equal(t, ErrCodeBadRequest, NormalizeErrorCode(ErrCodeBadRequest))
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid shop", shared.ErrInvalidShop, http.StatusBadRequest, ErrCodeInvalidShop},
		{"wrapped upstream", fmt.Errorf("%w: %w: HTTP 401", shared.ErrUpstreamFailure, shared.ErrUnauthorized), http.StatusBadGateway, ErrCodeUpstreamFailure},
		{"joined upstream", errors.Join(shared.ErrUpstreamFailure, errors.New("timeout")), http.StatusBadGateway, ErrCodeUpstreamFailure},
		{"custom message", shared.ErrUnauthorized.WithMessage("invalid oauth state"), http.StatusUnauthorized, ErrCodeUnauthorized},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, msg := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeInvalidShop, "Missing shop", "req-1")
	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.Error.RequestID)
	assert.Equal(t, ErrCodeInvalidShop, resp.Error.Code)
}
