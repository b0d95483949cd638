package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/forgeapp/forgeapp/internal/domain"
)

func graphqlServer(t *testing.T, respond func(w http.ResponseWriter, req graphQLRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode graphql request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		respond(w, req)
	}))
}

func TestQueryDecodesData(t *testing.T) {
	srv := graphqlServer(t, func(w http.ResponseWriter, req graphQLRequest) {
		if req.Query == "" {
			t.Error("empty query forwarded")
		}
		_, _ = w.Write([]byte(`{"data":{"repository":{"name":"widgets"}}}`))
	})
	defer srv.Close()

	gql := NewGraphQLClient(NewClient(srv.URL, nil, fastPolicy()))
	var out struct {
		Repository struct {
			Name string `json:"name"`
		} `json:"repository"`
	}
	err := gql.Query(context.Background(), `query { repository { name } }`, map[string]any{"owner": "acme"}, &out)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Repository.Name != "widgets" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestQueryErrorsInsideOKResponseFail(t *testing.T) {
	srv := graphqlServer(t, func(w http.ResponseWriter, _ graphQLRequest) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Could not resolve"}]}`))
	})
	defer srv.Close()

	gql := NewGraphQLClient(NewClient(srv.URL, nil, fastPolicy()))
	err := gql.Query(context.Background(), `query { x }`, nil, nil)
	if !domain.IsCode(err, domain.CodeGraphQLError) {
		t.Fatalf("expected %s, got %v", domain.CodeGraphQLError, err)
	}
}

func TestQueryNullDataWithoutErrorsFails(t *testing.T) {
	srv := graphqlServer(t, func(w http.ResponseWriter, _ graphQLRequest) {
		_, _ = w.Write([]byte(`{"data":null}`))
	})
	defer srv.Close()

	gql := NewGraphQLClient(NewClient(srv.URL, nil, fastPolicy()))
	err := gql.Query(context.Background(), `query { x }`, nil, nil)
	if !domain.IsCode(err, domain.CodeGraphQLNoData) {
		t.Fatalf("expected %s, got %v", domain.CodeGraphQLNoData, err)
	}
}

func TestQueryNonOKStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gql := NewGraphQLClient(NewClient(srv.URL, nil, fastPolicy()))
	err := gql.Query(context.Background(), `query { x }`, nil, nil)
	if !domain.IsCode(err, domain.CodeGitHubHTTPError) {
		t.Fatalf("expected %s, got %v", domain.CodeGitHubHTTPError, err)
	}
}

func TestQueryMalformedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	gql := NewGraphQLClient(NewClient(srv.URL, nil, fastPolicy()))
	err := gql.Query(context.Background(), `query { x }`, nil, nil)
	if !domain.IsCode(err, domain.CodeGitHubDeserialization) {
		t.Fatalf("expected %s, got %v", domain.CodeGitHubDeserialization, err)
	}
}

func TestCreateInstallationToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app/installations/42/access_tokens" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"ghs_abc","expires_at":"2025-06-01T13:00:00Z"}`))
	}))
	defer srv.Close()

	issuer := NewAppIssuer(NewClient(srv.URL, StaticToken("app-jwt"), fastPolicy()))
	tok, err := issuer.CreateInstallationToken(context.Background(), 42)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if tok.Token != "ghs_abc" {
		t.Fatalf("token %q", tok.Token)
	}
	if tok.ExpiresAt.IsZero() {
		t.Fatal("expires_at not parsed")
	}
}

func TestCreateInstallationTokenErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	issuer := NewAppIssuer(NewClient(srv.URL, StaticToken("app-jwt"), fastPolicy()))
	_, err := issuer.CreateInstallationToken(context.Background(), 42)
	if !domain.IsCode(err, domain.CodeGitHubHTTPError) {
		t.Fatalf("expected %s, got %v", domain.CodeGitHubHTTPError, err)
	}
}
