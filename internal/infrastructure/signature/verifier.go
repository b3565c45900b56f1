// Package signature verifies HMAC signatures on inbound platform requests.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Verifier checks webhook and OAuth query signatures against the app's shared secret
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks a webhook signature using the verifier's secret
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) bool {
	return Verify(rawBody, signatureHeader, v.secret)
}

// VerifyQuery checks the signature of an OAuth redirect query
func (v *Verifier) VerifyQuery(query url.Values) bool {
	return VerifyQuery(query, v.secret)
}

// Verify computes HMAC-SHA256 over the exact raw body and compares it in
// constant time with the base64 signature header. It never panics; a missing
// or undecodable header, or an empty secret, yields false.
func Verify(rawBody []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(header)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	return hmac.Equal(provided, Sign(rawBody, secret))
}

// Sign returns the raw HMAC-SHA256 of body
func Sign(body []byte, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignBase64 returns the header value the platform would send for body
func SignBase64(body []byte, secret []byte) string {
	return base64.StdEncoding.EncodeToString(Sign(body, secret))
}

// VerifyQuery checks the "hmac" parameter of an OAuth redirect: hex
// HMAC-SHA256 over the remaining parameters sorted by key and joined as
// k=v pairs with '&'.
func VerifyQuery(query url.Values, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	provided, err := hex.DecodeString(query.Get("hmac"))
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	return hmac.Equal(provided, Sign([]byte(canonicalQuery(query)), secret))
}

// SignQuery returns the hex signature VerifyQuery expects for query
func SignQuery(query url.Values, secret []byte) string {
	return hex.EncodeToString(Sign([]byte(canonicalQuery(query)), secret))
}

func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strings.Join(query[k], ","))
	}
	return strings.Join(parts, "&")
}
