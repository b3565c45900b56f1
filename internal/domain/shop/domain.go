package shop

import (
	"regexp"
	"strings"

	"github.com/shipnotify/backend/internal/domain/shared"
)

// platformDomains are the hostnames a tenant domain may live under
var platformDomains = []string{`myshopify\.com`, `shopify\.com`, `myshopify\.io`}

// Domain identifies a tenant by its platform domain (e.g. "acme.myshopify.com").
// It is immutable once parsed and is the key of every store.
type Domain string

// String returns the domain as a plain string
func (d Domain) String() string {
	return string(d)
}

// IsZero reports whether the domain is empty
func (d Domain) IsZero() bool {
	return d == ""
}

// Sanitizer validates raw tenant identifiers against the platform domains
// plus any configured custom domains.
type Sanitizer struct {
	pattern *regexp.Regexp
}

// NewSanitizer builds a sanitizer. Custom domains are matched literally.
func NewSanitizer(customDomains ...string) *Sanitizer {
	domains := make([]string, 0, len(platformDomains)+len(customDomains))
	domains = append(domains, platformDomains...)
	for _, d := range customDomains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		domains = append(domains, regexp.QuoteMeta(strings.ToLower(d)))
	}
	return &Sanitizer{
		pattern: regexp.MustCompile(`^[a-z0-9][a-z0-9\-_]*\.(` + strings.Join(domains, "|") + `)/*$`),
	}
}

// Parse validates raw and returns the normalized Domain.
// It returns ErrInvalidShop when raw is empty or has the wrong shape.
func (s *Sanitizer) Parse(raw string) (Domain, error) {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	if candidate == "" || !s.pattern.MatchString(candidate) {
		return "", shared.ErrInvalidShop
	}
	return Domain(strings.TrimRight(candidate, "/")), nil
}

// Valid reports whether raw is an acceptable tenant domain
func (s *Sanitizer) Valid(raw string) bool {
	_, err := s.Parse(raw)
	return err == nil
}
