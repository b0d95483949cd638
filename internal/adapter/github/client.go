// Package github provides the outbound REST and GraphQL clients for the
// upstream provider API, with retry, backoff and circuit breaking applied to
// every call.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgeapp/forgeapp/internal/domain"
	"github.com/forgeapp/forgeapp/internal/resilience"
)

const defaultTimeout = 30 * time.Second

// TokenSource supplies the bearer credential for each outgoing request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Response is a carried-through HTTP outcome. Error statuses like 401 or 404
// arrive here too; they are transport-level successes the caller interprets.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return domain.WrapCoded(domain.CodeGitHubDeserialization, err, "decode response body")
	}
	return nil
}

// Client is a resilient REST client for the provider API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	policy     *resilience.Policy
}

// NewClient creates a Client rooted at baseURL. tokens may be nil for
// unauthenticated calls; policy may be nil for default retry settings.
func NewClient(baseURL string, tokens TokenSource, policy *resilience.Policy) *Client {
	if policy == nil {
		policy = &resilience.Policy{}
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		policy: policy,
	}
}

// Get issues a GET request against path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPost, path, body)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.doJSON(ctx, http.MethodPatch, path, body)
}

// Delete issues a DELETE request against path.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	return c.do(ctx, method, path, payload)
}

// do sends one request under the retry policy. 429 and 5xx statuses and
// transport failures are retried; every other status is carried through.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var result *Response
	err := c.policy.Execute(ctx, func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokens != nil {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return fmt.Errorf("resolve token: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &resilience.Transient{
				Err: domain.WrapCoded(domain.CodeGitHubError, err, "%s %s", method, path),
			}
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &resilience.Transient{
				Err: domain.WrapCoded(domain.CodeGitHubError, err, "read response for %s %s", method, path),
			}
		}

		if resilience.RetryableStatus(resp.StatusCode) {
			return &resilience.Transient{
				RetryAfter: retryAfter(resp.Header),
				Err: domain.NewCoded(domain.CodeGitHubHTTPError,
					"%s %s returned %d", method, path, resp.StatusCode),
			}
		}

		result = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryAfter extracts the server's rate-limit wait hint, if any.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if wait := time.Until(time.Unix(epoch, 0)); wait > 0 {
				return wait
			}
		}
	}
	return 0
}
