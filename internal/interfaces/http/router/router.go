// Package router assembles the gin engine of the relay.
package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	appauth "github.com/shipnotify/backend/internal/application/auth"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
	"github.com/shipnotify/backend/internal/interfaces/http/dto"
	"github.com/shipnotify/backend/internal/interfaces/http/handler"
	"github.com/shipnotify/backend/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// DomainGroup is a prefix with its own middleware and routes
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: http.MethodGet, path: path, handlers: handlers})
	return dg
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: http.MethodPost, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Dependencies are the handlers and middleware inputs the engine is built from
type Dependencies struct {
	Logger *zap.Logger
	Gate   *appauth.Gate
	Tokens middleware.TokenValidator

	Webhooks     *handler.WebhookHandler
	WebhookPaths []string
	Auth         *handler.AuthHandler
	Shop         *handler.ShopHandler
	Health       *handler.HealthHandler
	App          *handler.AppHandler

	// AuthLimiter throttles the OAuth endpoints per client IP; nil disables it
	AuthLimiter    *middleware.RateLimiter
	MaxWebhookBody int64
	Meter          metric.Meter
	Tracing        middleware.TracingConfig
	Profiling      middleware.ProfilingConfig
	Swagger        middleware.SwaggerConfig
}

// probePaths are excluded from request logging and tracing
var probePaths = []string{"/health", "/ready"}

// New builds the engine. Webhook endpoints are authenticated by their body
// signature only; every other route except the OAuth endpoints and probes
// runs through the auth gate.
func New(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Tracing.SkipPaths = append(deps.Tracing.SkipPaths, probePaths...)

	engine := gin.New()
	// "//api/webhooks" and "/api/webhooks" reach the same handler
	engine.RemoveExtraSlash = true

	engine.Use(
		middleware.RequestID(),
		middleware.FrameAncestors(deps.Gate.FrameAncestors),
		middleware.Secure(),
		middleware.TracingWithConfig(deps.Tracing),
		middleware.SpanAttributes(),
		logger.GinMiddleware(deps.Logger, probePaths...),
		logger.Recovery(deps.Logger),
		middleware.HTTPMetrics(deps.Meter, deps.Logger),
		middleware.Profiling(deps.Profiling),
	)

	engine.GET("/health", deps.Health.Health)
	engine.GET("/ready", deps.Health.Ready)
	engine.GET("/swagger/*any", middleware.SwaggerProtection(deps.Swagger), ginSwagger.WrapHandler(swaggerFiles.Handler))

	root := engine.Group("")
	for _, g := range groups(deps) {
		g.RegisterRoutes(root)
	}

	// Unknown API paths still pass the API gate, so an uninstalled tenant is
	// sent to OAuth before it learns whether the path exists
	apiGate := apiChain(deps)
	engine.NoRoute(
		onlyAPI(apiGate[0]), onlyAPI(apiGate[1]),
		apiNotFound,
		middleware.AuthGate(deps.Gate, appauth.ClassPage),
		deps.App.Index,
	)
	return engine
}

func groups(deps Dependencies) []RouteRegistrar {
	webhooks := NewDomainGroup("webhooks", "").Use(middleware.BodyLimit(deps.MaxWebhookBody))
	for _, p := range deps.WebhookPaths {
		webhooks.POST(p, deps.Webhooks.Receive)
	}

	oauth := NewDomainGroup("oauth", "")
	if deps.AuthLimiter != nil {
		oauth.Use(middleware.RateLimit(deps.AuthLimiter))
	}
	oauth.GET(appauth.PathAuth, deps.Auth.Begin).
		GET(appauth.PathAuthCallback, deps.Auth.Callback).
		GET(appauth.PathExitIframe, deps.Auth.ExitIframe)

	api := NewDomainGroup("api", "/api").Use(apiChain(deps)...)
	api.GET("/shop", deps.Shop.Get)

	return []RouteRegistrar{webhooks, oauth, api}
}

// apiChain authenticates the session token and then runs the API-class gate
func apiChain(deps Dependencies) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		middleware.SessionToken(middleware.SessionTokenConfig{
			Validator: deps.Tokens,
			Sanitizer: deps.Gate.Sanitizer(),
			ReauthorizeURL: func(d shop.Domain) string {
				return deps.Gate.AuthRedirect(d, false)
			},
			Logger: deps.Logger,
		}),
		middleware.AuthGate(deps.Gate, appauth.ClassAPI),
	}
}

func isAPIPath(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/")
}

// onlyAPI applies h to unmatched /api/* requests and skips it for pages
func onlyAPI(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAPIPath(c) {
			h(c)
		}
	}
}

// apiNotFound keeps unknown API paths out of the frontend fallback
func apiNotFound(c *gin.Context) {
	if isAPIPath(c) {
		c.AbortWithStatusJSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeNotFound, "Resource not found", middleware.GetRequestID(c)))
	}
}
