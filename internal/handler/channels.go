package handler

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// Channel webhook topics and the ingestion route each one is delivered to
// when no endpoint is given.
var channelTopicRoutes = map[string]string{
	"TRACKING_CREATED":   "create-tracking",
	"PURCHASE_CANCELLED": "cancel-purchase",
}

type createPurchaseRequest struct {
	CartItems []adapter.PurchaseItem `json:"cartItems"`
	Shipping  adapter.Shipping       `json:"shipping"`
	Notes     string                 `json:"notes"`
}

type createWebhookRequest struct {
	Topic    string `json:"topic"`
	Endpoint string `json:"endpoint"`
}

// === Operations shared by REST and MCP ===

func (h *Handler) channelEndpoint(ctx context.Context, user *model.User, channelID string) (executor.Endpoint, error) {
	ch, err := h.ownedChannel(ctx, user.ID, channelID)
	if err != nil {
		return executor.Endpoint{}, err
	}
	return executor.ChannelEndpoint(ch), nil
}

func (h *Handler) searchChannelProducts(ctx context.Context, user *model.User, channelID, search, after string) (*adapter.SearchProductsResult, error) {
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	return h.Adapters.SearchProducts(ctx, ep, search, after)
}

func (h *Handler) getChannelProduct(ctx context.Context, user *model.User, channelID, productID, variantID string) (*adapter.GetProductResult, error) {
	if productID == "" {
		return nil, model.NewValidationError("productId", "is required")
	}
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	return h.Adapters.GetProduct(ctx, ep, productID, variantID)
}

func (h *Handler) createChannelPurchase(ctx context.Context, user *model.User, channelID string, req *createPurchaseRequest) (*adapter.PurchaseResult, error) {
	if len(req.CartItems) == 0 {
		return nil, model.NewValidationError("cartItems", "at least one item is required")
	}
	for i, it := range req.CartItems {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, model.NewValidationError(fmt.Sprintf("cartItems[%d]", i), "productId and a positive quantity are required")
		}
	}
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	res, err := h.Adapters.CreatePurchase(ctx, ep, req.CartItems, req.Shipping, req.Notes)
	if err != nil {
		return nil, err
	}
	h.logger.Info("channel purchase created",
		zap.String("channel_id", channelID),
		zap.String("purchase_id", res.PurchaseID),
		zap.String("status", res.Status),
	)
	return res, nil
}

// createChannelWebhook registers topic on the channel. Without an explicit
// endpoint the webhook points at this service's ingestion route.
func (h *Handler) createChannelWebhook(ctx context.Context, user *model.User, channelID, topic, endpoint string) (*adapter.CreateWebhookResult, error) {
	if topic == "" {
		return nil, model.NewValidationError("topic", "is required")
	}
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	if endpoint == "" {
		route, ok := channelTopicRoutes[topic]
		if !ok {
			return nil, model.NewValidationError("endpoint", "is required for topic "+topic)
		}
		endpoint = fmt.Sprintf("%s/api/webhooks/channels/%s/%s", h.baseURL, channelID, route)
	}
	return h.Adapters.CreateWebhook(ctx, ep, endpoint, []string{topic})
}

func (h *Handler) deleteChannelWebhook(ctx context.Context, user *model.User, channelID, webhookID string) (*adapter.DeleteWebhookResult, error) {
	if webhookID == "" {
		return nil, model.NewValidationError("webhookId", "is required")
	}
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	return h.Adapters.DeleteWebhook(ctx, ep, webhookID)
}

func (h *Handler) getChannelWebhooks(ctx context.Context, user *model.User, channelID string) (*adapter.GetWebhooksResult, error) {
	ep, err := h.channelEndpoint(ctx, user, channelID)
	if err != nil {
		return nil, err
	}
	return h.Adapters.GetWebhooks(ctx, ep)
}

// === REST Handlers ===

// GET /api/channels/{id}/products?search=&after=
func (h *Handler) handleSearchChannelProducts(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	res, err := h.searchChannelProducts(r.Context(), user, r.PathValue("id"), q.Get("search"), q.Get("after"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GET /api/channels/{id}/products/{productId}?variantId=
func (h *Handler) handleGetChannelProduct(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.getChannelProduct(r.Context(), user, r.PathValue("id"), r.PathValue("productId"), r.URL.Query().Get("variantId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// handleCreateChannelPurchase buys items directly on a channel. A purchase the
// channel refused comes back with status "error" and a 200.
// POST /api/channels/{id}/purchases
func (h *Handler) handleCreateChannelPurchase(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req createPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.createChannelPurchase(r.Context(), user, r.PathValue("id"), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GET /api/channels/{id}/webhooks
func (h *Handler) handleGetChannelWebhooks(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.getChannelWebhooks(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// POST /api/channels/{id}/webhooks
func (h *Handler) handleCreateChannelWebhook(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req createWebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.createChannelWebhook(r.Context(), user, r.PathValue("id"), req.Topic, req.Endpoint)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// DELETE /api/channels/{id}/webhooks/{webhookId}
func (h *Handler) handleDeleteChannelWebhook(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.deleteChannelWebhook(r.Context(), user, r.PathValue("id"), r.PathValue("webhookId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}
