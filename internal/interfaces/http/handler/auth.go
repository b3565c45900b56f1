package handler

import (
	"context"
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	appauth "github.com/shipnotify/backend/internal/application/auth"
)

// OAuthFlow is the install flow driven by AuthHandler
type OAuthFlow interface {
	Begin(ctx context.Context, rawShop string) (string, error)
	Callback(ctx context.Context, query url.Values) (*appauth.CallbackResult, error)
	ExitIframeTarget(rawShop, redirectURI string) (string, error)
}

// exitIframePage navigates the top window out of the admin iframe, since the
// platform's authorization page refuses to be framed
var exitIframePage = template.Must(template.New("exitiframe").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting</title></head>
<body>
<script>window.top.location.href = {{.}};</script>
<noscript><a href="{{.}}" target="_top">Continue</a></noscript>
</body>
</html>
`))

// AuthHandler serves the OAuth install endpoints
type AuthHandler struct {
	BaseHandler
	flow OAuthFlow
}

// NewAuthHandler creates an AuthHandler
func NewAuthHandler(flow OAuthFlow) *AuthHandler {
	return &AuthHandler{flow: flow}
}

// Begin redirects the merchant to the authorization page for ?shop
//
// @Summary      Begin OAuth
// @Tags         auth
// @Param        shop query string true "Tenant domain, e.g. acme.myshopify.com"
// @Success      302
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /api/auth [get]
func (h *AuthHandler) Begin(c *gin.Context) {
	target, err := h.flow.Begin(c.Request.Context(), c.Query("shop"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, target)
}

// Callback completes the install and redirects into the app
//
// @Summary      OAuth callback
// @Tags         auth
// @Param        shop  query string true "Tenant domain"
// @Param        code  query string true "Authorization code"
// @Param        state query string true "OAuth state"
// @Param        hmac  query string true "Query signature"
// @Success      302
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      502 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /api/auth/callback [get]
func (h *AuthHandler) Callback(c *gin.Context) {
	result, err := h.flow.Callback(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, result.RedirectURL)
}

// ExitIframe renders a page that breaks out of the admin iframe and loads
// ?redirectUri in the top window
//
// @Summary      Exit the admin iframe
// @Tags         auth
// @Produce      html
// @Param        shop        query string true "Tenant domain"
// @Param        redirectUri query string true "Target loaded in the top window"
// @Success      200
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /exitiframe [get]
func (h *AuthHandler) ExitIframe(c *gin.Context) {
	target, err := h.flow.ExitIframeTarget(c.Query("shop"), c.Query("redirectUri"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := exitIframePage.Execute(c.Writer, target); err != nil {
		_ = c.Error(err)
	}
}
