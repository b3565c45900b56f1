package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/shipnotify/backend/internal/domain/shared"
	"github.com/shipnotify/backend/internal/domain/shop"
)

// AccessToken is the result of exchanging an OAuth authorization code
type AccessToken struct {
	Token string
	Scope string
	// Online tokens carry an expiry and the user they were issued for
	ExpiresIn time.Duration
	UserID    int64
}

// IsOnline reports whether the token was issued for a single user
func (t AccessToken) IsOnline() bool {
	return t.UserID != 0
}

// AuthorizeURL returns the platform's OAuth consent URL for a tenant
func (c *Client) AuthorizeURL(d shop.Domain, scopes []string, redirectURI, state string, online bool) string {
	q := url.Values{}
	q.Set("client_id", c.config.APIKey)
	q.Set("scope", strings.Join(scopes, ","))
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if online {
		q.Set("grant_options[]", "per-user")
	}
	return "https://" + d.String() + "/admin/oauth/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for an access token
func (c *Client) ExchangeCode(ctx context.Context, d shop.Domain, code string) (AccessToken, error) {
	if code == "" {
		return AccessToken{}, shared.ErrInvalidInput.WithMessage("authorization code is required")
	}
	payload, err := json.Marshal(map[string]string{
		"client_id":     c.config.APIKey,
		"client_secret": c.config.APISecret,
		"code":          code,
	})
	if err != nil {
		return AccessToken{}, fmt.Errorf("shopify: failed to encode token request: %w", err)
	}

	body, err := c.post(ctx, d, c.baseURL(d)+"/admin/oauth/access_token", payload, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
	if err != nil {
		return AccessToken{}, err
	}

	res := gjson.ParseBytes(body)
	tok := AccessToken{
		Token:     res.Get("access_token").String(),
		Scope:     res.Get("scope").String(),
		ExpiresIn: time.Duration(res.Get("expires_in").Int()) * time.Second,
		UserID:    res.Get("associated_user.id").Int(),
	}
	if tok.Token == "" {
		return AccessToken{}, fmt.Errorf("%w: token response has no access_token", shared.ErrUpstreamFailure)
	}
	return tok, nil
}
