package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appwebhook "github.com/shipnotify/backend/internal/application/webhook"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/infrastructure/signature"
	"github.com/shipnotify/backend/internal/interfaces/http/dto"
	"github.com/shipnotify/backend/internal/interfaces/http/middleware"
)

// recordingDispatcher returns a fixed outcome and remembers the delivery
type recordingDispatcher struct {
	mu      sync.Mutex
	got     []appwebhook.Delivery
	outcome webhook.Outcome
}

func (d *recordingDispatcher) Dispatch(_ context.Context, in appwebhook.Delivery) webhook.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, in)
	return d.outcome
}

func webhookRouter(d Dispatcher, limit int64) *gin.Engine {
	h := NewWebhookHandler(d)
	router := gin.New()
	router.POST("/api/webhooks", middleware.BodyLimit(limit), h.Receive)
	return router
}

func TestWebhookHandler_BuildsDeliveryFromRequest(t *testing.T) {
	d := &recordingDispatcher{outcome: webhook.Handled(webhook.ReasonNone)}

	body := `{"id":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks", strings.NewReader(body))
	req.Header.Set(webhook.HeaderTopic, "app/uninstalled")
	req.Header.Set(webhook.HeaderShopDomain, "acme.myshopify.com")
	req.Header.Set(webhook.HeaderWebhookID, "wh-1")
	req.Header.Set(webhook.HeaderAPIVersion, "2024-10")
	req.Header.Set(webhook.HeaderHmac, "sig")
	w := httptest.NewRecorder()
	webhookRouter(d, 1<<20).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, d.got, 1)
	assert.Equal(t, appwebhook.Delivery{
		Topic:      "app/uninstalled",
		Shop:       "acme.myshopify.com",
		WebhookID:  "wh-1",
		APIVersion: "2024-10",
		Path:       "/api/webhooks",
		Body:       []byte(body),
		Signature:  "sig",
	}, d.got[0])
}

func TestWebhookHandler_OutcomeStatus(t *testing.T) {
	tests := []struct {
		name       string
		outcome    webhook.Outcome
		wantStatus int
		wantCode   string
	}{
		{"duplicate acknowledged", webhook.Handled(webhook.ReasonDuplicate), http.StatusOK, ""},
		{"bad signature", webhook.Rejected(webhook.ReasonInvalidSignature, shared.ErrInvalidSignature), http.StatusUnauthorized, dto.ErrCodeInvalidSignature},
		{"malformed", webhook.Rejected(webhook.ReasonMalformed, shared.ErrInvalidShop), http.StatusBadRequest, dto.ErrCodeInvalidShop},
		{"no handler", webhook.Rejected(webhook.ReasonNoHandler, shared.ErrNoWebhookHandler), http.StatusNotFound, dto.ErrCodeNoWebhookHandler},
		{"handler failure", webhook.Rejected(webhook.ReasonHandlerFailure, assert.AnError), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{outcome: tt.outcome}
			w := httptest.NewRecorder()
			webhookRouter(d, 1<<20).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/webhooks", strings.NewReader("{}")))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				resp := decodeResponse(t, w)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	d := &recordingDispatcher{outcome: webhook.Handled(webhook.ReasonNone)}

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks", strings.NewReader(strings.Repeat("x", 64)))
	req.ContentLength = -1
	w := httptest.NewRecorder()
	webhookRouter(d, 16).ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, d.got)
}

func TestWebhookHandler_WithDispatcher(t *testing.T) {
	const secret = "hush"
	var calls int
	dispatcher := appwebhook.NewDispatcher(appwebhook.DispatcherConfig{
		Verifier: signature.NewVerifier(secret),
	})
	dispatcher.Register(webhook.TopicAppUninstalled, "/api/webhooks", webhook.HandlerFunc(
		func(context.Context, *webhook.Event) error {
			calls++
			return nil
		}))

	router := gin.New()
	router.RemoveExtraSlash = true
	router.POST("/api/webhooks", NewWebhookHandler(dispatcher).Receive)

	body := []byte(`{"id":7}`)
	send := func(path, sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
		req.URL.Path = path
		req.Header.Set(webhook.HeaderTopic, "app/uninstalled")
		req.Header.Set(webhook.HeaderShopDomain, "acme.myshopify.com")
		req.Header.Set(webhook.HeaderHmac, sig)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("/api/webhooks", "forged"))
	assert.Equal(t, 0, calls)

	valid := signature.SignBase64(body, []byte(secret))
	assert.Equal(t, http.StatusOK, send("/api/webhooks", valid))
	assert.Equal(t, http.StatusOK, send("//api/webhooks", valid))
	assert.Equal(t, 2, calls)
}
