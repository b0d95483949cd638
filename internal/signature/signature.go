// Package signature verifies HMAC-SHA256 webhook signatures in the
// "sha256=<hex>" header format used by GitHub-style providers.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const headerPrefix = "sha256="

// Validate reports whether header carries a valid HMAC-SHA256 signature of
// body under secret. Verification runs over the exact raw bytes as received.
// It fails closed: a malformed header, an empty secret, or a mismatch all
// yield false. The secret and the computed digest are never logged.
func Validate(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	if !strings.HasPrefix(header, headerPrefix) {
		return false
	}

	got, err := hex.DecodeString(strings.TrimPrefix(header, headerPrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	// hmac.Equal is constant-time.
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for body under secret. Used by
// tests and replay tooling; the inbound path only ever verifies.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return headerPrefix + hex.EncodeToString(mac.Sum(nil))
}
