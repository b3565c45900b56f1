package auth

import (
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shipnotify/backend/internal/domain/shop"
)

// Common errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrInvalidAudience  = errors.New("token audience does not match the app")
	ErrDestMismatch     = errors.New("token issuer does not match its destination")
)

// leeway absorbs clock skew between the admin and this process
const leeway = 10 * time.Second

// Claims are the claims of a session token minted by the embedded admin
type Claims struct {
	jwt.RegisteredClaims
	// Dest is the tenant origin, e.g. https://acme.myshopify.com
	Dest string `json:"dest"`
	// SessionID identifies the admin login
	SessionID string `json:"sid,omitempty"`
}

// Shop returns the tenant named by the dest claim, validated by s.
// A nil sanitizer accepts only the platform domains.
func (c *Claims) Shop(s *shop.Sanitizer) (shop.Domain, error) {
	u, err := url.Parse(c.Dest)
	if err != nil || u.Host == "" || u.Scheme != "https" {
		return "", ErrInvalidClaims
	}
	if s == nil {
		s = shop.NewSanitizer()
	}
	return s.Parse(u.Host)
}

// UserID returns the numeric admin user id carried in sub, if any
func (c *Claims) UserID() (int64, bool) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// JWTService validates and mints session tokens. Tokens are HS256 signed with
// the app secret and addressed to the app's API key.
type JWTService struct {
	apiKey     string
	secret     []byte
	expiration time.Duration
}

// NewJWTService creates a new JWT service
func NewJWTService(apiKey, apiSecret string) *JWTService {
	return &JWTService{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		expiration: time.Minute,
	}
}

// GenerateToken mints a session token for d. The embedded admin issues these
// in production; the relay only mints them for local tooling and tests.
func (s *JWTService) GenerateToken(d shop.Domain, userID int64) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    "https://" + d.String() + "/admin",
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{s.apiKey},
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Dest:      "https://" + d.String(),
		SessionID: uuid.New().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a session token and returns its claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithLeeway(leeway), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if !audienceContains(claims.Audience, s.apiKey) {
		return nil, ErrInvalidAudience
	}
	if claims.Dest == "" {
		return nil, ErrInvalidClaims
	}

	// iss is the tenant admin URL and must live on the dest host
	iss, err := url.Parse(claims.Issuer)
	dest, derr := url.Parse(claims.Dest)
	if err != nil || derr != nil || iss.Host != dest.Host {
		return nil, ErrDestMismatch
	}

	return claims, nil
}

func audienceContains(aud jwt.ClaimStrings, key string) bool {
	for _, a := range aud {
		if a == key {
			return true
		}
	}
	return false
}
