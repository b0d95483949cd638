package github

import (
	"context"
	"fmt"

	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/port/tokens"
)

// AppIssuer mints installation access tokens using the app-level credential.
// It implements tokens.Issuer.
type AppIssuer struct {
	rest *Client
}

// NewAppIssuer wraps rest, which must authenticate with the app credential
// (not an installation token).
func NewAppIssuer(rest *Client) *AppIssuer {
	return &AppIssuer{rest: rest}
}

// CreateInstallationToken mints a fresh short-lived token for the
// installation.
func (i *AppIssuer) CreateInstallationToken(ctx context.Context, installationID int64) (*tokens.InstallationToken, error) {
	path := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	resp, err := i.rest.Post(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, domain.NewCoded(domain.CodeGitHubHTTPError,
			"mint token for installation %d returned %d", installationID, resp.StatusCode)
	}

	var tok tokens.InstallationToken
	if err := resp.Decode(&tok); err != nil {
		return nil, err
	}
	return &tok, nil
}
