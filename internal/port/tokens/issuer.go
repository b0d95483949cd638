// Package tokens defines the port for minting installation access tokens.
package tokens

import (
	"context"
	"time"
)

// InstallationToken is a short-lived credential scoped to one installation.
// Tokens are fungible until expiry; a fresh token supersedes, never mutates,
// a cached one.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is unusable at the given instant once the
// safety margin is applied.
func (t InstallationToken) Expired(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(t.ExpiresAt)
}

// Issuer mints fresh installation tokens from the upstream provider.
type Issuer interface {
	CreateInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error)
}
