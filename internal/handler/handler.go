// Package handler provides the HTTP and MCP surface of the Openship routing core.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/lifecycle"
	"github.com/openshiporg/openship-sub005/internal/lock"
	"github.com/openshiporg/openship-sub005/internal/matching"
	"github.com/openshiporg/openship-sub005/internal/middleware"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/orders"
	"github.com/openshiporg/openship-sub005/internal/placement"
	"github.com/openshiporg/openship-sub005/internal/store"
	"github.com/openshiporg/openship-sub005/internal/webhooksig"
)

// Adapters is the slice of the executor the API calls directly.
type Adapters interface {
	SearchProducts(ctx context.Context, ep executor.Endpoint, searchEntry, after string) (*adapter.SearchProductsResult, error)
	GetProduct(ctx context.Context, ep executor.Endpoint, productID, variantID string) (*adapter.GetProductResult, error)
	CreatePurchase(ctx context.Context, ep executor.Endpoint, items []adapter.PurchaseItem, shipping adapter.Shipping, notes string) (*adapter.PurchaseResult, error)
	CreateWebhook(ctx context.Context, ep executor.Endpoint, endpoint string, events []string) (*adapter.CreateWebhookResult, error)
	DeleteWebhook(ctx context.Context, ep executor.Endpoint, webhookID string) (*adapter.DeleteWebhookResult, error)
	GetWebhooks(ctx context.Context, ep executor.Endpoint) (*adapter.GetWebhooksResult, error)
	OAuthStart(ctx context.Context, ep executor.Endpoint, callbackURL, state string) (*adapter.OAuthResult, error)
	OAuthCallback(ctx context.Context, ep executor.Endpoint, code, shop, state, redirectURI string) (*adapter.OAuthTokens, error)
}

// Services are the routing components behind the API.
type Services struct {
	Store     store.Store
	Orders    *orders.Service
	Routing   *lifecycle.Hook
	Placement *placement.Pipeline
	Matcher   *matching.Matcher
	Carts     *cart.Materializer
	Adapters  Adapters
}

type Options struct {
	// BaseURL is the public address used for webhook and OAuth callbacks.
	BaseURL string
	// StateSecret signs OAuth state tokens.
	StateSecret []byte
	// RateLimit and RateBurst limit authenticated API calls per user.
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Services
	baseURL     string
	stateSecret []byte
	protect     func(http.Handler) http.Handler
	logger      *zap.Logger
	now         func() time.Time
}

func New(svc Services, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Services:    svc,
		baseURL:     opts.BaseURL,
		stateSecret: opts.StateSecret,
		protect: middleware.Chain(
			middleware.Auth(svc.Store, logger),
			middleware.RateLimit(opts.RateLimit, opts.RateBurst),
		),
		logger: logger,
		now:    time.Now,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
// Uses Go 1.22+ method routing patterns.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	api := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, h.protect(fn))
	}

	// Orders
	api("POST /api/orders", h.handleCreateOrder)
	api("GET /api/orders/{id}", h.handleGetOrder)
	api("POST /api/orders/place", h.handlePlaceOrders)
	api("POST /api/orders/{id}/match-to-cart", h.handleAddMatchToCart)
	api("POST /api/orders/{id}/dismiss-error", h.handleDismissOrderError)
	api("POST /api/cart-items/{id}/dismiss-error", h.handleDismissCartItemError)
	api("POST /api/cart-items/{id}/accept-price", h.handleAcceptPrice)

	// Matches and links
	api("POST /api/matches", h.handleCreateMatch)
	api("POST /api/matches/lookup", h.handleGetMatch)
	api("POST /api/links", h.handleCreateLink)

	// Channels
	api("GET /api/channels/{id}/products", h.handleSearchChannelProducts)
	api("GET /api/channels/{id}/products/{productId}", h.handleGetChannelProduct)
	api("POST /api/channels/{id}/purchases", h.handleCreateChannelPurchase)
	api("GET /api/channels/{id}/webhooks", h.handleGetChannelWebhooks)
	api("POST /api/channels/{id}/webhooks", h.handleCreateChannelWebhook)
	api("DELETE /api/channels/{id}/webhooks/{webhookId}", h.handleDeleteChannelWebhook)

	// OAuth. The callback is a browser redirect authenticated by its state token.
	api("GET /api/oauth/{platformId}/start", h.handleOAuthStart)
	mux.HandleFunc("GET /api/oauth/callback", h.handleOAuthCallback)

	// Platform webhooks are authenticated by their signatures.
	mux.HandleFunc("POST /api/webhooks/shops/{id}/create-order", h.handleShopCreateOrder)
	mux.HandleFunc("POST /api/webhooks/shops/{id}/cancel-order", h.handleShopCancelOrder)
	mux.HandleFunc("POST /api/webhooks/channels/{id}/create-tracking", h.handleChannelCreateTracking)
	mux.HandleFunc("POST /api/webhooks/channels/{id}/cancel-purchase", h.handleChannelCancelPurchase)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.protect(h.NewMCPHandler()))

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	apiErr := h.toAPIError(err)
	if apiErr.StatusCode == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, apiErr.StatusCode, errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		},
	})
}

// toAPIError maps domain and adapter errors onto API errors. Unknown errors
// are logged and hidden behind INTERNAL_ERROR.
func (h *Handler) toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	var adapterErr *executor.AdapterError

	switch {
	case errors.Is(err, webhooksig.ErrInvalidSignature):
		return model.NewUnauthorizedError("invalid webhook signature")
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, store.ErrNotFound):
		return model.NewNotFoundError("resource")
	case errors.Is(err, lock.ErrLocked), errors.Is(err, placement.ErrBusy):
		return model.NewConflictError("order is already being placed")
	case errors.As(err, &adapterErr):
		return adapterAPIError(adapterErr)
	}

	h.logger.Error("internal error", zap.Error(err))
	return model.NewInternalError(err)
}

func adapterAPIError(e *executor.AdapterError) *model.APIError {
	switch e.Cause {
	case executor.CauseMissingFunction:
		return model.NewValidationError("platform", "no "+e.Function+" is configured")
	case executor.CauseTimeout:
		return &model.APIError{
			Code:       "UPSTREAM_TIMEOUT",
			Message:    e.Function + " timed out",
			StatusCode: http.StatusGatewayTimeout,
			Err:        e,
		}
	case executor.CauseCircuitOpen:
		return &model.APIError{
			Code:       "UPSTREAM_UNAVAILABLE",
			Message:    e.Function + " is temporarily unavailable",
			StatusCode: http.StatusServiceUnavailable,
			Err:        e,
		}
	case executor.CauseHTTP:
		if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
			return model.NewUnauthorizedError(e.Function + " rejected the request")
		}
	}
	apiErr := model.NewUpstreamError(e.Module, e)
	apiErr.Message = e.Message()
	return apiErr
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB to prevent DoS.
const MaxRequestBodySize = 1 << 20 // 1MB

// decodeJSON reads JSON from request body into v.
// Limits body size to MaxRequestBodySize to prevent memory exhaustion.
// Returns an APIError if decoding fails.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Don't expose internal error details to client
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// currentUser returns the user set by the auth middleware.
func currentUser(ctx context.Context) (*model.User, error) {
	u, ok := middleware.UserFromContext(ctx)
	if !ok {
		return nil, model.NewUnauthorizedError("API key required")
	}
	return u, nil
}

// === Ownership ===
// Records owned by another user are reported as not found.

func (h *Handler) ownedOrder(ctx context.Context, userID, id string) (*model.Order, error) {
	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if o.UserID != userID {
		return nil, model.NewNotFoundError("order")
	}
	return o, nil
}

func (h *Handler) ownedChannel(ctx context.Context, userID, id string) (*model.Channel, error) {
	ch, err := h.Store.GetChannel(ctx, id)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	if ch.UserID != userID {
		return nil, model.NewNotFoundError("channel")
	}
	return ch, nil
}

func (h *Handler) ownedShop(ctx context.Context, userID, id string) (*model.Shop, error) {
	s, err := h.Store.GetShop(ctx, id)
	if err != nil {
		return nil, notFound(err, "shop")
	}
	if s.UserID != userID {
		return nil, model.NewNotFoundError("shop")
	}
	return s, nil
}

func (h *Handler) ownedCartItem(ctx context.Context, userID, id string) (*model.CartItem, error) {
	ci, err := h.Store.GetCartItem(ctx, id)
	if err != nil {
		return nil, notFound(err, "cart item")
	}
	if ci.UserID != userID {
		return nil, model.NewNotFoundError("cart item")
	}
	return ci, nil
}

func notFound(err error, resource string) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NewNotFoundError(resource)
	}
	return err
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}
