// Package auth decides what happens to every non-webhook request and runs the
// OAuth install flow.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/shipnotify/backend/internal/domain/billing"
	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
	"github.com/shipnotify/backend/internal/infrastructure/logger"
)

// Paths served by the OAuth flow. They bypass the installed check.
const (
	PathAuth         = "/api/auth"
	PathAuthCallback = "/api/auth/callback"
	PathExitIframe   = "/exitiframe"
)

// adminHost is the unified admin origin that frames embedded apps
const adminHost = "admin.shopify.com"

// RequestClass selects how redirects are delivered to the client
type RequestClass int

const (
	// ClassPage is a top-level or iframe document request; redirects are 302s
	ClassPage RequestClass = iota
	// ClassAPI is a fetch from the embedded frontend; redirects are 401s
	// carrying the reauthorize headers
	ClassAPI
)

// Action is the gate's decision for one request
type Action int

const (
	// ActionPass lets the request through with Decision.Session attached
	ActionPass Action = iota
	// ActionAuthorize redirects to the OAuth authorization flow
	ActionAuthorize
	// ActionEmbed redirects to the platform's embedded URL
	ActionEmbed
	// ActionBilling redirects to the charge confirmation page
	ActionBilling
	// ActionReject fails the request with Decision.Err
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionPass:
		return "pass"
	case ActionAuthorize:
		return "authorize"
	case ActionEmbed:
		return "embed"
	case ActionBilling:
		return "billing"
	default:
		return "reject"
	}
}

// Request carries what the gate needs from an inbound HTTP request
type Request struct {
	Class RequestClass
	// Path is the request path plus its raw query, if any
	Path string
	// RawShop is the unvalidated shop query parameter
	RawShop string
	// Host is the base64 host query parameter set by the admin
	Host string
	// Embedded is true when the request already runs inside the admin iframe:
	// embedded=1 on page requests, a verified session token on API requests
	Embedded bool
	// TokenShop is the tenant named by a verified session token
	TokenShop shop.Domain
	// TokenUserID is the admin user of a verified session token
	TokenUserID *int64
}

// Decision is the outcome of Gate.Check
type Decision struct {
	Action      Action
	Shop        shop.Domain
	Session     *shop.Session
	RedirectURL string
	Err         error
}

// BillingChecker is the billing gate consulted before pass-through
type BillingChecker interface {
	Required() bool
	EnsureBilling(ctx context.Context, session *shop.Session) (billing.Result, error)
}

// GateConfig contains configuration for Gate
type GateConfig struct {
	APIKey          string
	AppHost         string
	Scopes          []string
	Embedded        bool
	UseOnlineTokens bool
	Sanitizer       *shop.Sanitizer
	Installations   shop.InstallationRegistry
	Sessions        shop.SessionRepository
	Billing         BillingChecker
	Logger          *zap.Logger
}

// Gate decides, for every request not addressed to a webhook endpoint,
// whether to pass it through, redirect it or reject it.
type Gate struct {
	apiKey          string
	appHost         string
	scopes          []string
	embedded        bool
	useOnlineTokens bool
	sanitizer       *shop.Sanitizer
	installations   shop.InstallationRegistry
	sessions        shop.SessionRepository
	billing         BillingChecker
	logger          *zap.Logger
	now             func() time.Time
}

// NewGate creates a Gate
func NewGate(cfg GateConfig) *Gate {
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = shop.NewSanitizer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		apiKey:          cfg.APIKey,
		appHost:         strings.TrimRight(cfg.AppHost, "/"),
		scopes:          cfg.Scopes,
		embedded:        cfg.Embedded,
		useOnlineTokens: cfg.UseOnlineTokens,
		sanitizer:       cfg.Sanitizer,
		installations:   cfg.Installations,
		sessions:        cfg.Sessions,
		billing:         cfg.Billing,
		logger:          cfg.Logger,
		now:             time.Now,
	}
}

// Embedded reports whether the app runs inside the admin iframe
func (g *Gate) Embedded() bool {
	return g.embedded
}

// Sanitizer returns the tenant validator used by the gate
func (g *Gate) Sanitizer() *shop.Sanitizer {
	return g.sanitizer
}

// Check runs the gate for one request
func (g *Gate) Check(ctx context.Context, req Request) Decision {
	// 1. tenant
	d, err := g.resolveShop(req)
	if err != nil {
		return Decision{Action: ActionReject, Err: err}
	}
	log := logger.WithLogger(ctx, g.logger).With(
		zap.String("shop", d.String()),
		zap.String("path", req.Path),
	)

	// 2. installed
	if !isOAuthPath(req.Path) {
		installed, err := g.installations.Includes(ctx, d)
		if err != nil {
			log.Error("Installation lookup failed", zap.Error(err))
			return Decision{Action: ActionReject, Shop: d, Err: err}
		}
		if !installed {
			log.Info("Tenant not installed, redirecting to authorization")
			return Decision{Action: ActionAuthorize, Shop: d, RedirectURL: g.AuthRedirect(d, req.Embedded)}
		}
	}

	// 3. embedded context
	if g.embedded && req.Class == ClassPage && !req.Embedded {
		return Decision{Action: ActionEmbed, Shop: d, RedirectURL: g.EmbeddedURL(d, req.Host, req.Path)}
	}

	// 4. session
	session, err := g.loadSession(ctx, d, req)
	if err != nil {
		log.Error("Session lookup failed", zap.Error(err))
		return Decision{Action: ActionReject, Shop: d, Err: err}
	}
	if session == nil || !session.IsActive(g.scopes, g.now()) {
		log.Info("No active session, redirecting to authorization")
		return Decision{Action: ActionAuthorize, Shop: d, RedirectURL: g.AuthRedirect(d, req.Embedded)}
	}

	// 5. billing
	if g.billing != nil && g.billing.Required() {
		result, err := g.billing.EnsureBilling(ctx, session)
		if err != nil {
			log.Warn("Billing check failed, denying access", zap.Error(err))
			return Decision{Action: ActionReject, Shop: d, Err: asUpstream(err)}
		}
		if !result.OK {
			log.Info("Billing required, redirecting to confirmation")
			return Decision{Action: ActionBilling, Shop: d, RedirectURL: result.ConfirmationURL}
		}
	}

	return Decision{Action: ActionPass, Shop: d, Session: session}
}

func (g *Gate) resolveShop(req Request) (shop.Domain, error) {
	if !req.TokenShop.IsZero() {
		return req.TokenShop, nil
	}
	return g.sanitizer.Parse(req.RawShop)
}

// loadSession returns the online session for token requests when online
// tokens are enabled, otherwise the tenant's offline session. A missing
// session is nil without error.
func (g *Gate) loadSession(ctx context.Context, d shop.Domain, req Request) (*shop.Session, error) {
	id := shop.OfflineSessionID(d)
	if g.useOnlineTokens && req.TokenUserID != nil {
		id = shop.OnlineSessionID(d, *req.TokenUserID)
	}
	s, err := g.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// AuthRedirect returns where to send a tenant that must (re)authorize.
// Inside the iframe the OAuth page cannot load, so the exit-iframe page
// breaks out first.
func (g *Gate) AuthRedirect(d shop.Domain, embedded bool) string {
	authURL := g.appHost + PathAuth + "?" + url.Values{"shop": {d.String()}}.Encode()
	if !embedded {
		return authURL
	}
	q := url.Values{}
	q.Set("shop", d.String())
	q.Set("redirectUri", authURL)
	return g.appHost + PathExitIframe + "?" + q.Encode()
}

// EmbeddedURL returns the admin URL that loads the app for d, with path appended.
// host is the base64 host parameter; when absent or unusable the tenant's own
// admin is used.
func (g *Gate) EmbeddedURL(d shop.Domain, host, path string) string {
	base := "https://" + d.String() + "/admin"
	if decoded, ok := g.decodeHost(host); ok {
		base = "https://" + decoded
	}
	if path == "/" || strings.HasPrefix(path, "/?") {
		path = path[1:]
	}
	return base + "/apps/" + g.apiKey + path
}

// decodeHost decodes the admin host parameter and accepts it only when it
// points at a tenant domain or the unified admin
func (g *Gate) decodeHost(host string) (string, bool) {
	if host == "" {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(host)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(host, "="))
		if err != nil {
			return "", false
		}
	}
	decoded := strings.TrimRight(string(raw), "/")
	origin, _, _ := strings.Cut(decoded, "/")
	if origin != adminHost && !g.sanitizer.Valid(origin) {
		return "", false
	}
	return decoded, true
}

// FrameAncestors returns the Content-Security-Policy value for a response.
// Embedded apps may only be framed by the tenant's admin; everything else
// may not be framed at all.
func (g *Gate) FrameAncestors(rawShop string) string {
	if g.embedded {
		if d, err := g.sanitizer.Parse(rawShop); err == nil {
			return "frame-ancestors https://" + d.String() + " https://" + adminHost + ";"
		}
	}
	return "frame-ancestors 'none';"
}

// ValidRedirect reports whether target may be used by the exit-iframe page:
// a relative path, the app's own host or a tenant/admin origin.
func (g *Gate) ValidRedirect(target string) bool {
	// Browsers treat "\" as "/" in http(s) URLs, so "/\evil.com" would leave the app
	if target == "" || strings.ContainsAny(target, "\\") || hasControl(target) {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	app, err := url.Parse(g.appHost)
	appOK := err == nil && app.Host != ""
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
			return false
		}
		if !appOK {
			return true
		}
		// a relative target must stay on the app's own origin once resolved
		return app.ResolveReference(u).Host == app.Host
	}
	if u.Scheme != "https" {
		return false
	}
	if appOK && u.Host == app.Host {
		return true
	}
	return u.Host == adminHost || g.sanitizer.Valid(u.Host)
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func isOAuthPath(p string) bool {
	p, _, _ = strings.Cut(p, "?")
	return p == PathAuthCallback || p == PathExitIframe
}

func asUpstream(err error) error {
	if errors.Is(err, shared.ErrUpstreamFailure) {
		return err
	}
	return errors.Join(shared.ErrUpstreamFailure, err)
}
