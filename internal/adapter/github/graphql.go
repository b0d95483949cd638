package github

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/forgeapp/forgeapp/internal/domain"
)

// GraphQLClient posts queries to the provider GraphQL endpoint through the
// same resilient transport as the REST client.
type GraphQLClient struct {
	rest *Client
}

// NewGraphQLClient wraps rest, which should be rooted at the GraphQL URL.
func NewGraphQLClient(rest *Client) *GraphQLClient {
	return &GraphQLClient{rest: rest}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Query executes a GraphQL query and unmarshals the data field into out.
// Errors inside a 200 response are failures, not success; a null data field
// with no errors is its own failure mode.
func (c *GraphQLClient) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	resp, err := c.rest.Post(ctx, "", graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return domain.NewCoded(domain.CodeGitHubHTTPError, "graphql endpoint returned %d", resp.StatusCode)
	}

	var body graphQLResponse
	if err := resp.Decode(&body); err != nil {
		return err
	}

	if len(body.Errors) > 0 {
		msgs := make([]string, 0, len(body.Errors))
		for _, e := range body.Errors {
			msgs = append(msgs, e.Message)
		}
		return domain.NewCoded(domain.CodeGraphQLError, "%s", strings.Join(msgs, "; "))
	}
	if len(body.Data) == 0 || string(body.Data) == "null" {
		return domain.NewCoded(domain.CodeGraphQLNoData, "response carried no data")
	}

	if out != nil {
		if err := json.Unmarshal(body.Data, out); err != nil {
			return domain.WrapCoded(domain.CodeGitHubDeserialization, err, "decode graphql data")
		}
	}
	return nil
}
