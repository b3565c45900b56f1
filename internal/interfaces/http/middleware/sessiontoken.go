package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/auth"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/interfaces/http/dto"
)

// Session token context keys and headers
const (
	TokenClaimsKey  = "session_token_claims"
	TokenShopKey    = "session_token_shop"
	TokenUserIDKey  = "session_token_user_id"
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
	ReauthHeader    = "X-Shopify-API-Request-Failure-Reauthorize"
	ReauthURLHeader = "X-Shopify-API-Request-Failure-Reauthorize-Url"
)

// TokenValidator verifies a session token minted by the embedded admin
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// SessionTokenConfig holds configuration for SessionToken
type SessionTokenConfig struct {
	Validator TokenValidator
	Sanitizer *shop.Sanitizer
	// ReauthorizeURL builds the authorization URL advertised on a 401
	ReauthorizeURL func(d shop.Domain) string
	Logger         *zap.Logger
}

// SessionToken verifies the Bearer session token on API requests. A request
// without a token passes untouched and the auth gate falls back to the shop
// query parameter. A token that does not verify is answered with 401 and the
// reauthorize headers the embedded frontend reacts to.
func SessionToken(cfg SessionTokenConfig) gin.HandlerFunc {
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = shop.NewSanitizer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			c.Next()
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
		if !strings.HasPrefix(header, BearerPrefix) || token == "" {
			rejectToken(c, cfg, auth.ErrInvalidToken)
			return
		}

		claims, err := cfg.Validator.ValidateToken(token)
		if err != nil {
			rejectToken(c, cfg, err)
			return
		}
		d, err := claims.Shop(cfg.Sanitizer)
		if err != nil {
			rejectToken(c, cfg, auth.ErrInvalidClaims)
			return
		}

		c.Set(TokenClaimsKey, claims)
		c.Set(TokenShopKey, d)
		if id, ok := claims.UserID(); ok {
			c.Set(TokenUserIDKey, id)
		}
		c.Request = c.Request.WithContext(logger.WithShop(c.Request.Context(), d.String()))
		c.Next()
	}
}

func rejectToken(c *gin.Context, cfg SessionTokenConfig, err error) {
	logger.WithLogger(c.Request.Context(), cfg.Logger).Warn("Session token rejected",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))

	c.Header(ReauthHeader, "1")
	if d, perr := cfg.Sanitizer.Parse(c.Query("shop")); perr == nil && cfg.ReauthorizeURL != nil {
		c.Header(ReauthURLHeader, cfg.ReauthorizeURL(d))
	}
	c.Header("Access-Control-Expose-Headers", ReauthHeader+", "+ReauthURLHeader)

	code, message := dto.ErrCodeTokenInvalid, "Invalid session token"
	if errors.Is(err, auth.ErrExpiredToken) {
		code, message = dto.ErrCodeTokenExpired, "Session token has expired"
	}
	abortWithError(c, http.StatusUnauthorized, code, message)
}

// GetTokenClaims returns the verified session token claims, if any
func GetTokenClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(TokenClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetTokenShop returns the tenant of a verified session token, or ""
func GetTokenShop(c *gin.Context) shop.Domain {
	if v, ok := c.Get(TokenShopKey); ok {
		if d, ok := v.(shop.Domain); ok {
			return d
		}
	}
	return ""
}

// GetTokenUserID returns the admin user of a verified session token
func GetTokenUserID(c *gin.Context) (int64, bool) {
	if v, ok := c.Get(TokenUserIDKey); ok {
		if id, ok := v.(int64); ok {
			return id, true
		}
	}
	return 0, false
}
