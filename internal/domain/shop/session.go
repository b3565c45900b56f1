package shop

import (
	"strconv"
	"strings"
	"time"

	"github.com/shipnotify/backend/internal/domain/shared"
)

// Session is an access credential scoped to one tenant.
// Offline sessions are keyed "offline_{shop}" and there is at most one per
// tenant; online sessions are keyed "{shop}_{userID}".
type Session struct {
	ID          string
	Shop        Domain
	State       string
	IsOnline    bool
	Scope       string
	AccessToken string
	Expires     *time.Time
	UserID      *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OfflineSessionID returns the ID of the tenant's offline session
func OfflineSessionID(d Domain) string {
	return "offline_" + d.String()
}

// OnlineSessionID returns the ID of a user's online session
func OnlineSessionID(d Domain, userID int64) string {
	return d.String() + "_" + strconv.FormatInt(userID, 10)
}

// NewOfflineSession creates the offline session stored after OAuth completes
func NewOfflineSession(d Domain, accessToken, scope string) (*Session, error) {
	if d.IsZero() {
		return nil, shared.ErrInvalidShop
	}
	if accessToken == "" {
		return nil, shared.ErrInvalidInput.WithMessage("access token is required")
	}
	now := time.Now()
	return &Session{
		ID:          OfflineSessionID(d),
		Shop:        d,
		IsOnline:    false,
		Scope:       scope,
		AccessToken: accessToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewOnlineSession creates a per-user session that expires after ttl
func NewOnlineSession(d Domain, userID int64, accessToken, scope string, ttl time.Duration) (*Session, error) {
	s, err := NewOfflineSession(d, accessToken, scope)
	if err != nil {
		return nil, err
	}
	s.ID = OnlineSessionID(d, userID)
	s.IsOnline = true
	s.UserID = &userID
	if ttl > 0 {
		exp := s.CreatedAt.Add(ttl)
		s.Expires = &exp
	}
	return s, nil
}

// HasToken reports whether the session carries an access token
func (s *Session) HasToken() bool {
	return s != nil && s.AccessToken != ""
}

// IsExpired reports whether the session has an expiry in the past
func (s *Session) IsExpired(now time.Time) bool {
	return s.Expires != nil && !s.Expires.After(now)
}

// IsActive reports whether the session is usable for the required scopes
func (s *Session) IsActive(requiredScopes []string, now time.Time) bool {
	if !s.HasToken() || s.IsExpired(now) {
		return false
	}
	return ScopesCover(s.Scope, requiredScopes)
}

// ScopesCover reports whether the granted scope string includes every required scope.
// A granted write_X scope implies read_X.
func ScopesCover(granted string, required []string) bool {
	have := make(map[string]struct{})
	for _, sc := range strings.Split(granted, ",") {
		sc = strings.TrimSpace(sc)
		if sc == "" {
			continue
		}
		have[sc] = struct{}{}
		if rest, ok := strings.CutPrefix(sc, "write_"); ok {
			have["read_"+rest] = struct{}{}
		}
	}
	for _, sc := range required {
		sc = strings.TrimSpace(sc)
		if sc == "" {
			continue
		}
		if _, ok := have[sc]; !ok {
			return false
		}
	}
	return true
}
