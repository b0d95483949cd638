// Package handlers contains the built-in webhook handlers registered at
// startup: an audit logger for every delivery, a greeter for newly opened
// issues and a release announcer backed by the GraphQL endpoint.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forgeapp/forgeapp/internal/adapter/github"
	"github.com/forgeapp/forgeapp/internal/dispatch"
	"github.com/forgeapp/forgeapp/internal/resilience"
	"github.com/forgeapp/forgeapp/internal/service"
)

// Deps bundles what the built-in handlers need to reach the provider API.
type Deps struct {
	Tokens     *service.TokenService
	APIBaseURL string
	GraphQLURL string
	Policy     *resilience.Policy
	Log        *slog.Logger
}

// Register wires the built-in handlers into the router.
func Register(r *dispatch.Router, deps Deps) error {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if err := r.Register("*", "", "audit-log", func() dispatch.Handler {
		return &AuditLogger{log: deps.Log}
	}); err != nil {
		return err
	}
	if err := r.Register("issues", "opened", "issue-greeter", func() dispatch.Handler {
		return &IssueGreeter{deps: deps}
	}); err != nil {
		return err
	}
	return r.Register("release", "published", "release-announcer", func() dispatch.Handler {
		return &ReleaseAnnouncer{deps: deps}
	})
}

// AuditLogger records every delivery that reaches routing.
type AuditLogger struct {
	log *slog.Logger
}

// Handle logs the delivery identity; it never fails.
func (h *AuditLogger) Handle(_ context.Context, ectx *dispatch.Context) error {
	d := ectx.Delivery
	h.log.Info("delivery routed",
		"delivery_id", d.DeliveryID,
		"event", d.EventName,
		"action", d.Action,
		"installation_id", d.InstallationID,
	)
	return nil
}

// IssueGreeter comments on newly opened issues using an installation-scoped
// token.
type IssueGreeter struct {
	deps Deps
}

func (h *IssueGreeter) Handle(ctx context.Context, ectx *dispatch.Context) error {
	var payload struct {
		Issue struct {
			Number int    `json:"number"`
			User   struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"issue"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := ectx.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode issue payload: %w", err)
	}
	if payload.Repository.FullName == "" || payload.Issue.Number == 0 {
		return fmt.Errorf("issue payload missing repository or number")
	}

	client, err := h.deps.installationClient(ctx, ectx.Delivery.InstallationID, h.deps.APIBaseURL)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/repos/%s/issues/%d/comments", payload.Repository.FullName, payload.Issue.Number)
	body := map[string]string{
		"body": fmt.Sprintf("Thanks for opening this, @%s! A maintainer will take a look shortly.", payload.Issue.User.Login),
	}
	resp, err := client.Post(ctx, path, body)
	if err != nil {
		return fmt.Errorf("post greeting comment: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("post greeting comment: status %d", resp.StatusCode)
	}
	return nil
}

// ReleaseAnnouncer looks up release metadata over GraphQL and logs an
// announcement line.
type ReleaseAnnouncer struct {
	deps Deps
}

const releaseQuery = `query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    latestRelease { tagName name publishedAt }
    stargazerCount
  }
}`

func (h *ReleaseAnnouncer) Handle(ctx context.Context, ectx *dispatch.Context) error {
	var payload struct {
		Release struct {
			TagName string `json:"tag_name"`
		} `json:"release"`
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repository"`
	}
	if err := ectx.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode release payload: %w", err)
	}

	client, err := h.deps.installationClient(ctx, ectx.Delivery.InstallationID, h.deps.GraphQLURL)
	if err != nil {
		return err
	}
	gql := github.NewGraphQLClient(client)

	var out struct {
		Repository struct {
			LatestRelease struct {
				TagName string `json:"tagName"`
				Name    string `json:"name"`
			} `json:"latestRelease"`
			StargazerCount int `json:"stargazerCount"`
		} `json:"repository"`
	}
	err = gql.Query(ctx, releaseQuery, map[string]any{
		"owner": payload.Repository.Owner.Login,
		"name":  payload.Repository.Name,
	}, &out)
	if err != nil {
		return fmt.Errorf("release lookup: %w", err)
	}

	ectx.Log.Info("release published",
		"tag", payload.Release.TagName,
		"latest_release", out.Repository.LatestRelease.TagName,
		"stargazers", out.Repository.StargazerCount,
	)
	return nil
}

// installationClient builds a REST client authenticated for the delivery's
// installation.
func (d Deps) installationClient(ctx context.Context, installationID int64, baseURL string) (*github.Client, error) {
	tok, err := d.Tokens.Authenticate(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("authenticate installation %d: %w", installationID, err)
	}
	return github.NewClient(baseURL, github.StaticToken(tok.Token), d.Policy), nil
}
