package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/transport"
)

// =============================================================================
// AUTHENTICATION
// =============================================================================
//
// The REST API v3 authenticates with a consumer key and secret over HTTP
// Basic Auth (HTTPS only). A binding carries them as:
//
//   metadata.consumerKey / metadata.consumerSecret, or
//   accessToken "ck_...:cs_..." when metadata is empty.
//
// Webhooks are signed with base64 HMAC-SHA256 of the body in the
// X-WC-Webhook-Signature header. The signing secret is
// metadata.webhookSecret, falling back to the consumer secret, which is
// also what CreateWebhook registers.
// =============================================================================

// restAPIPath is the base path for WooCommerce REST API v3 endpoints.
const restAPIPath = "/wp-json/wc/v3"

// Module is the registry name of this adapter.
const Module = "woocommerce"

// userAgent identifies this client to upstream servers.
// Required: WooCommerce CDN/WAF rate-limits requests without User-Agent.
const userAgent = "Openship/1.0"

// searchPageSize is the per_page used by SearchProducts.
const searchPageSize = 20

// Config holds WooCommerce adapter configuration.
type Config struct {
	HTTPClient *http.Client
	// Fingerprint enables the Chrome TLS transport when HTTPClient is nil.
	Fingerprint bool
	Timeout     time.Duration
	AppName     string
	Logger      *zap.Logger
}

// Client implements the shop and channel capability interfaces for
// WooCommerce. It is stateless: every call carries its store binding.
type Client struct {
	httpClient *http.Client
	appName    string
	logger     *zap.Logger
}

var (
	_ adapter.Channel = (*Client)(nil)
	_ adapter.Shop    = (*Client)(nil)
)

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = transport.NewClient(transport.Options{
			Timeout:     cfg.Timeout,
			Fingerprint: cfg.Fingerprint,
			UserAgent:   userAgent,
		})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	appName := cfg.AppName
	if appName == "" {
		appName = "Openship"
	}
	return &Client{httpClient: hc, appName: appName, logger: logger}
}

// === Products ===

// SearchProducts pages through /products. The cursor is the next page number.
func (c *Client) SearchProducts(ctx context.Context, req *adapter.SearchProductsRequest) (*adapter.SearchProductsResult, error) {
	page := 1
	if req.After != "" {
		n, err := strconv.Atoi(req.After)
		if err != nil || n < 1 {
			return nil, model.NewValidationError("after", "must be a page number")
		}
		page = n
	}
	q := url.Values{}
	q.Set("search", req.SearchEntry)
	q.Set("status", "publish")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(searchPageSize))

	var products []WooProduct
	hdr, err := c.do(ctx, req.Platform, http.MethodGet, "/products?"+q.Encode(), nil, &products)
	if err != nil {
		return nil, err
	}

	result := &adapter.SearchProductsResult{Products: make([]model.Product, 0, len(products))}
	for i := range products {
		result.Products = append(result.Products, transformProduct(&products[i], nil))
	}
	if total, _ := strconv.Atoi(hdr.Get("X-WP-TotalPages")); page < total {
		result.PageInfo = adapter.PageInfo{HasNextPage: true, EndCursor: strconv.Itoa(page + 1)}
	}
	return result, nil
}

// GetProduct fetches a product, or one of its variations when VariantID is set.
func (c *Client) GetProduct(ctx context.Context, req *adapter.GetProductRequest) (*adapter.GetProductResult, error) {
	if req.ProductID == "" {
		return nil, model.NewValidationError("productId", "is required")
	}
	var parent WooProduct
	if _, err := c.do(ctx, req.Platform, http.MethodGet, "/products/"+url.PathEscape(req.ProductID), nil, &parent); err != nil {
		return nil, err
	}
	if req.VariantID == "" || req.VariantID == req.ProductID {
		return &adapter.GetProductResult{Product: transformProduct(&parent, nil)}, nil
	}

	var variation WooProduct
	path := "/products/" + url.PathEscape(req.ProductID) + "/variations/" + url.PathEscape(req.VariantID)
	if _, err := c.do(ctx, req.Platform, http.MethodGet, path, nil, &variation); err != nil {
		return nil, err
	}
	return &adapter.GetProductResult{Product: transformProduct(&variation, &parent)}, nil
}

// === Purchases ===

// CreatePurchase creates a processing order on the supplier store.
func (c *Client) CreatePurchase(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
	if len(req.CartItems) == 0 {
		return nil, model.NewValidationError("cartItems", "at least one item is required")
	}
	body, err := buildOrderRequest(req)
	if err != nil {
		return nil, err
	}

	var order WooOrder
	if _, err := c.do(ctx, req.Platform, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	c.logger.Info("woocommerce order created",
		zap.String("domain", req.Platform.Domain),
		zap.Int("woo_order_id", order.ID),
	)
	return transformPurchase(req.Platform.Domain, &order), nil
}

// === Webhook registration ===

// CreateWebhook registers one webhook per event topic.
func (c *Client) CreateWebhook(ctx context.Context, req *adapter.CreateWebhookRequest) (*adapter.CreateWebhookResult, error) {
	if req.Endpoint == "" {
		return nil, model.NewValidationError("endpoint", "is required")
	}
	if len(req.Events) == 0 {
		return nil, model.NewValidationError("events", "at least one event is required")
	}
	_, secret, err := credentials(req.Platform)
	if err != nil {
		return nil, err
	}

	result := &adapter.CreateWebhookResult{}
	for _, topic := range topicsFor(req.Events) {
		in := WooWebhook{
			Name:        c.appName + " " + topic,
			Topic:       topic,
			DeliveryURL: req.Endpoint,
			Secret:      webhookSecret(req.Platform, secret),
			Status:      "active",
		}
		var out WooWebhook
		if _, err := c.do(ctx, req.Platform, http.MethodPost, "/webhooks", in, &out); err != nil {
			return nil, err
		}
		result.Webhooks = append(result.Webhooks, transformWebhook(&out))
	}
	result.WebhookID = result.Webhooks[0].ID
	return result, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, req *adapter.DeleteWebhookRequest) (*adapter.DeleteWebhookResult, error) {
	if req.WebhookID == "" {
		return nil, model.NewValidationError("webhookId", "is required")
	}
	path := "/webhooks/" + url.PathEscape(req.WebhookID) + "?force=true"
	if _, err := c.do(ctx, req.Platform, http.MethodDelete, path, nil, nil); err != nil {
		return nil, err
	}
	return &adapter.DeleteWebhookResult{Success: true}, nil
}

func (c *Client) GetWebhooks(ctx context.Context, req *adapter.GetWebhooksRequest) (*adapter.GetWebhooksResult, error) {
	var hooks []WooWebhook
	if _, err := c.do(ctx, req.Platform, http.MethodGet, "/webhooks?per_page=100", nil, &hooks); err != nil {
		return nil, err
	}
	result := &adapter.GetWebhooksResult{Webhooks: make([]adapter.Webhook, 0, len(hooks))}
	for i := range hooks {
		result.Webhooks = append(result.Webhooks, transformWebhook(&hooks[i]))
	}
	return result, nil
}

// === OAuth ===

// OAuthStart returns the store's wc-auth key grant URL. WooCommerce posts the
// generated keys to CallbackURL and then redirects the merchant back.
func (c *Client) OAuthStart(ctx context.Context, req *adapter.OAuthRequest) (*adapter.OAuthResult, error) {
	if req.Platform.Domain == "" {
		return nil, model.NewValidationError("domain", "is required")
	}
	q := url.Values{}
	q.Set("app_name", c.appName)
	q.Set("scope", "read_write")
	q.Set("user_id", req.State)
	q.Set("return_url", req.CallbackURL)
	q.Set("callback_url", req.CallbackURL)
	return &adapter.OAuthResult{AuthURL: storeURL(req.Platform.Domain) + "/wc-auth/v1/authorize?" + q.Encode()}, nil
}

// OAuthCallback turns the wc-auth key delivery into tokens. Code carries the
// delivered JSON body ({"consumer_key","consumer_secret",...}); the access
// token is stored as "key:secret".
func (c *Client) OAuthCallback(ctx context.Context, req *adapter.OAuthCallbackRequest) (*adapter.OAuthTokens, error) {
	var keys struct {
		ConsumerKey    string `json:"consumer_key"`
		ConsumerSecret string `json:"consumer_secret"`
	}
	if err := json.Unmarshal([]byte(req.Code), &keys); err != nil || keys.ConsumerKey == "" || keys.ConsumerSecret == "" {
		return nil, model.NewValidationError("code", "expected WooCommerce key delivery payload")
	}
	return &adapter.OAuthTokens{AccessToken: keys.ConsumerKey + ":" + keys.ConsumerSecret}, nil
}

// === Shop write-back ===

// AddCartToPlatformOrder records the placed purchases as a private order note.
func (c *Client) AddCartToPlatformOrder(ctx context.Context, req *adapter.AddCartRequest) (*adapter.AddCartResult, error) {
	if req.OrderID == "" {
		return nil, model.NewValidationError("orderId", "is required")
	}
	note := WooNoteRequest{Note: cartNote(req.CartItems)}
	path := "/orders/" + url.PathEscape(req.OrderID) + "/notes"
	if _, err := c.do(ctx, req.Platform, http.MethodPost, path, note, nil); err != nil {
		return nil, err
	}
	return &adapter.AddCartResult{Success: true}, nil
}

// === Helper Methods ===

// do sends an authenticated REST request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, platform adapter.PlatformConfig, method, path string, body, out any) (http.Header, error) {
	if platform.Domain == "" {
		return nil, model.NewValidationError("domain", "is required")
	}
	key, secret, err := credentials(platform)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, storeURL(platform.Domain)+restAPIPath+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setRESTHeaders(req)
	req.SetBasicAuth(key, secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}
	return resp.Header, nil
}

// setRESTHeaders sets headers for WooCommerce REST API requests.
func setRESTHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
}

// parseErrorResponse converts WooCommerce error to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("woocommerce resource")
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

// credentials returns the binding's consumer key and secret.
func credentials(p adapter.PlatformConfig) (key, secret string, err error) {
	key, secret = p.Metadata["consumerKey"], p.Metadata["consumerSecret"]
	if key == "" || secret == "" {
		key, secret, _ = strings.Cut(p.AccessToken, ":")
	}
	if key == "" || secret == "" {
		return "", "", model.NewUnauthorizedError("WooCommerce consumer key and secret are required")
	}
	return key, secret, nil
}

func webhookSecret(p adapter.PlatformConfig, consumerSecret string) string {
	if s := p.Metadata["webhookSecret"]; s != "" {
		return s
	}
	return consumerSecret
}

// storeURL normalizes a binding domain to an https base URL. Domains that
// already carry a scheme are kept as-is.
func storeURL(domain string) string {
	domain = strings.TrimSuffix(domain, "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}
