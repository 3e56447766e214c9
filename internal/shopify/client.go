// Package shopify implements the shop and channel adapter for Shopify
// stores using the Admin GraphQL API.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/transport"
)

// Module is the registry name of this adapter.
const Module = "shopify"

// DefaultAPIVersion is the Admin API version requested.
const DefaultAPIVersion = "2024-10"

const userAgent = "Openship/1.0"

// DefaultScopes are requested by OAuthStart.
var DefaultScopes = []string{
	"read_products", "read_orders", "write_orders",
	"read_fulfillments", "write_draft_orders",
}

// Config holds Shopify adapter configuration.
type Config struct {
	HTTPClient  *http.Client
	Fingerprint bool
	Timeout     time.Duration
	APIVersion  string
	Scopes      []string
	Logger      *zap.Logger
}

// Client implements the shop and channel capability interfaces for Shopify.
// Every call carries its store binding; the client holds no per-store state.
type Client struct {
	httpClient *http.Client
	apiVersion string
	scopes     []string
	logger     *zap.Logger
	now        func() time.Time
}

var (
	_ adapter.Channel        = (*Client)(nil)
	_ adapter.Shop           = (*Client)(nil)
	_ adapter.TokenRefresher = (*Client)(nil)
)

func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = transport.NewClient(transport.Options{
			Timeout:     cfg.Timeout,
			Fingerprint: cfg.Fingerprint,
			UserAgent:   userAgent,
		})
	}
	c := &Client{
		httpClient: hc,
		apiVersion: cfg.APIVersion,
		scopes:     cfg.Scopes,
		logger:     cfg.Logger,
		now:        time.Now,
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if len(c.scopes) == 0 {
		c.scopes = DefaultScopes
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// === GraphQL ===

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// UserError is a mutation userErrors entry.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// userErrorsErr turns a non-empty userErrors list into a validation error.
func userErrorsErr(errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	field := "request"
	if len(errs[0].Field) > 0 {
		field = strings.Join(errs[0].Field, ".")
	}
	return model.NewValidationError(field, strings.Join(msgs, "; "))
}

// graphql runs query against the store and decodes data into out.
func (c *Client) graphql(ctx context.Context, p adapter.PlatformConfig, query string, vars map[string]any, out any) error {
	if p.Domain == "" {
		return model.NewValidationError("domain", "is required")
	}
	if p.AccessToken == "" {
		return model.NewUnauthorizedError("Shopify access token is required")
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := shopURL(p.Domain) + "/admin/api/" + c.apiVersion + "/graphql.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", p.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("Shopify", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	var gr graphQLResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if len(gr.Errors) > 0 {
		if strings.Contains(gr.Errors[0].Message, "Throttled") {
			return model.NewRateLimitError("Shopify")
		}
		return model.NewUpstreamError("Shopify", fmt.Errorf("graphql: %s", gr.Errors[0].Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("parsing data: %w", err)
	}
	return nil
}

// parseErrorResponse converts a Shopify HTTP error to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var shErr struct {
		Errors any `json:"errors"`
	}
	json.Unmarshal(body, &shErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("shopify resource")
	case 401, 403:
		return model.NewUnauthorizedError("Shopify authentication failed")
	case 400, 422:
		return model.NewValidationError("request", fmt.Sprint(shErr.Errors))
	case 429:
		return model.NewRateLimitError("Shopify")
	default:
		return model.NewUpstreamError("Shopify", fmt.Errorf("status %d: %v", statusCode, shErr.Errors))
	}
}

// shopURL normalizes a binding domain ("acme" or "acme.myshopify.com") to
// an https base URL. Domains that already carry a scheme are kept as-is.
func shopURL(domain string) string {
	domain = strings.TrimSuffix(domain, "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	if !strings.Contains(domain, ".") {
		domain += ".myshopify.com"
	}
	return "https://" + domain
}

// gid builds a global id from a numeric id; existing gids pass through.
func gid(kind, id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/" + kind + "/" + id
}

// legacyID strips a global id down to its numeric id.
func legacyID(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 && strings.HasPrefix(id, "gid://") {
		id = id[i+1:]
	}
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	return id
}
