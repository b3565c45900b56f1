package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	appwebhook "github.com/shipnotify/backend/internal/application/webhook"
	"github.com/shipnotify/backend/internal/domain/webhook"
	"github.com/shipnotify/backend/internal/interfaces/http/dto"
)

// Dispatcher runs one webhook delivery to its outcome
type Dispatcher interface {
	Dispatch(ctx context.Context, in appwebhook.Delivery) webhook.Outcome
}

// WebhookHandler receives platform webhook deliveries
type WebhookHandler struct {
	BaseHandler
	dispatcher Dispatcher
}

// NewWebhookHandler creates a WebhookHandler
func NewWebhookHandler(dispatcher Dispatcher) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher}
}

// Receive reads the raw body exactly as sent, since the signature covers the
// bytes, and hands the delivery to the dispatcher. The response status is the
// dispatch outcome; the platform retries anything that is not 2xx.
//
// @Summary      Receive a webhook
// @Tags         webhooks
// @Accept       json
// @Param        X-Shopify-Topic       header string true  "Topic"
// @Param        X-Shopify-Shop-Domain header string true  "Tenant domain"
// @Param        X-Shopify-Hmac-Sha256 header string true  "Body signature"
// @Param        X-Shopify-Webhook-Id  header string false "Delivery id"
// @Param        payload body object true "Raw webhook payload"
// @Success      200
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      413 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      500 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /api/webhooks [post]
// @Router       /api/fulfillment-create [post]
// @Router       /api/fulfillment-update [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge, "Webhook body too large")
			return
		}
		h.BadRequest(c, "Failed to read webhook body")
		return
	}

	outcome := h.dispatcher.Dispatch(c.Request.Context(), appwebhook.Delivery{
		Topic:      c.GetHeader(webhook.HeaderTopic),
		Shop:       c.GetHeader(webhook.HeaderShopDomain),
		WebhookID:  c.GetHeader(webhook.HeaderWebhookID),
		APIVersion: c.GetHeader(webhook.HeaderAPIVersion),
		Path:       c.Request.URL.Path,
		Body:       body,
		Signature:  c.GetHeader(webhook.HeaderHmac),
	})

	if outcome.State == webhook.StateHandled {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(outcome.Err)
	_, code, message := dto.FromError(outcome.Err)
	h.Error(c, outcome.StatusCode(), code, message)
}
