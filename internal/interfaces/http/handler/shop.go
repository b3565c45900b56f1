package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/interfaces/http/dto"
	"github.com/shipnotify/backend/internal/interfaces/http/middleware"
)

// BillingStatusReader reports a tenant's billing state without creating charges
type BillingStatusReader interface {
	Status(ctx context.Context, session *shop.Session) (billing.Status, error)
}

// ShopHandler serves the authenticated tenant's own state to the frontend
type ShopHandler struct {
	BaseHandler
	installations shop.InstallationRegistry
	billing       BillingStatusReader
}

// NewShopHandler creates a ShopHandler
func NewShopHandler(installations shop.InstallationRegistry, billing BillingStatusReader) *ShopHandler {
	return &ShopHandler{installations: installations, billing: billing}
}

// Get returns the tenant resolved by the auth gate
//
// @Summary      Current shop
// @Tags         shop
// @Produce      json
// @Success      200 {object} dto.Response{data=dto.ShopResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      404 {object} dto.Response{error=dto.ErrorInfo}
// @Security     SessionToken
// @Router       /api/shop [get]
func (h *ShopHandler) Get(c *gin.Context) {
	session := middleware.GetSession(c)
	if session == nil {
		h.NotFound(c, "No session for this request")
		return
	}
	ctx := c.Request.Context()

	installed, err := h.installations.Includes(ctx, session.Shop)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := billing.Status{HasActiveCharge: true}
	if h.billing != nil {
		if status, err = h.billing.Status(ctx, session); err != nil {
			h.HandleError(c, err)
			return
		}
	}

	h.Success(c, dto.ShopResponse{
		Shop:      session.Shop.String(),
		Installed: installed,
		Scope:     session.Scope,
		IsOnline:  session.IsOnline,
		Billing: dto.BillingStatus{
			Required:        status.Required,
			HasActiveCharge: status.HasActiveCharge,
		},
	})
}
