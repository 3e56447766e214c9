// MCP transport for the routing core using the official MCP Go SDK.
// Exposes the order, match and channel operations as MCP tools.
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/middleware"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// === MCP Tool Input Types ===

type GetOrderInput struct {
	OrderID string `json:"orderId" jsonschema:"order id"`
}

type PlaceOrdersInput struct {
	OrderIDs []string `json:"orderIds" jsonschema:"ids of the orders to place"`
}

type GetMatchInput struct {
	Input []model.ItemRef `json:"input" jsonschema:"shop line items (productId, variantId, quantity) the match must cover exactly"`
}

type SearchChannelProductsInput struct {
	ChannelID   string `json:"channelId" jsonschema:"channel id"`
	SearchEntry string `json:"searchEntry,omitempty" jsonschema:"search text"`
	After       string `json:"after,omitempty" jsonschema:"cursor from a previous page"`
}

type GetChannelProductInput struct {
	ChannelID string `json:"channelId" jsonschema:"channel id"`
	ProductID string `json:"productId" jsonschema:"channel product id"`
	VariantID string `json:"variantId,omitempty" jsonschema:"channel variant id"`
}

type CreateChannelPurchaseInput struct {
	ChannelID string                 `json:"channelId" jsonschema:"channel id"`
	CartItems []adapter.PurchaseItem `json:"cartItems" jsonschema:"items to buy"`
	Shipping  adapter.Shipping       `json:"shipping" jsonschema:"ship-to address"`
	Notes     string                 `json:"notes,omitempty" jsonschema:"order notes"`
}

type ChannelInput struct {
	ChannelID string `json:"channelId" jsonschema:"channel id"`
}

type CreateChannelWebhookInput struct {
	ChannelID string `json:"channelId" jsonschema:"channel id"`
	Topic     string `json:"topic" jsonschema:"TRACKING_CREATED, PURCHASE_CANCELLED or a platform topic"`
	Endpoint  string `json:"endpoint,omitempty" jsonschema:"callback URL; defaults to this service's ingestion route"`
}

type DeleteChannelWebhookInput struct {
	ChannelID string `json:"channelId" jsonschema:"channel id"`
	WebhookID string `json:"webhookId" jsonschema:"webhook id"`
}

// mcpTools binds tool handlers to the requesting user.
type mcpTools struct {
	h    *Handler
	user *model.User
}

// NewMCPServer creates an MCP server whose tools act for user.
// The server exposes the same operations as the REST API.
func (h *Handler) NewMCPServer(user *model.User) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "openship",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Openship routes shop orders to fulfillment channels. " +
				"Use these tools to inspect and place orders, look up matches, and work with channel products, purchases and webhooks.",
		},
	)
	t := &mcpTools{h: h, user: user}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_order",
		Description: "Get an order with its line items, cart items and decoded errors.",
	}, t.getOrder)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "place_orders",
		Description: "Place the unplaced cart items of each order on their channels. Returns one result per order.",
	}, t.placeOrders)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_match_to_cart",
		Description: "Resolve matches for an order's line items and add the matched channel products to its cart.",
	}, t.addMatchToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_match",
		Description: "Find the match for an exact set of shop line items and show each output with live channel data.",
	}, t.getMatch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_channel_products",
		Description: "Search a channel's products.",
	}, t.searchChannelProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_channel_product",
		Description: "Get one product (or variant) from a channel with its current price and availability.",
	}, t.getChannelProduct)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_channel_purchase",
		Description: "Buy items directly on a channel.",
	}, t.createChannelPurchase)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_channel_webhooks",
		Description: "List the webhooks registered on a channel.",
	}, t.getChannelWebhooks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_channel_webhook",
		Description: "Register a webhook on a channel.",
	}, t.createChannelWebhook)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_channel_webhook",
		Description: "Delete a webhook from a channel.",
	}, t.deleteChannelWebhook)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint. It must sit
// behind the auth middleware; each request gets a server bound to the
// authenticated user, so no session state is kept.
func (h *Handler) NewMCPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			user, ok := middleware.UserFromContext(r.Context())
			if !ok {
				return nil
			}
			return h.NewMCPServer(user)
		},
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
}

// === Tool Handlers ===

func (t *mcpTools) getOrder(ctx context.Context, req *mcp.CallToolRequest, in GetOrderInput) (*mcp.CallToolResult, any, error) {
	o, err := t.h.ownedOrder(ctx, t.user.ID, in.OrderID)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, viewOrder(o), nil
}

func (t *mcpTools) placeOrders(ctx context.Context, req *mcp.CallToolRequest, in PlaceOrdersInput) (*mcp.CallToolResult, any, error) {
	processed, err := t.h.placeOrders(ctx, t.user, in.OrderIDs)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, placeOrdersResponse{Processed: processed}, nil
}

func (t *mcpTools) addMatchToCart(ctx context.Context, req *mcp.CallToolRequest, in GetOrderInput) (*mcp.CallToolResult, any, error) {
	o, err := t.h.addMatchToCart(ctx, t.user, in.OrderID)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, viewOrder(o), nil
}

func (t *mcpTools) getMatch(ctx context.Context, req *mcp.CallToolRequest, in GetMatchInput) (*mcp.CallToolResult, any, error) {
	preview, err := t.h.getMatch(ctx, t.user, in.Input)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, preview, nil
}

func (t *mcpTools) searchChannelProducts(ctx context.Context, req *mcp.CallToolRequest, in SearchChannelProductsInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.searchChannelProducts(ctx, t.user, in.ChannelID, in.SearchEntry, in.After)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

func (t *mcpTools) getChannelProduct(ctx context.Context, req *mcp.CallToolRequest, in GetChannelProductInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.getChannelProduct(ctx, t.user, in.ChannelID, in.ProductID, in.VariantID)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

func (t *mcpTools) createChannelPurchase(ctx context.Context, req *mcp.CallToolRequest, in CreateChannelPurchaseInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.createChannelPurchase(ctx, t.user, in.ChannelID, &createPurchaseRequest{
		CartItems: in.CartItems,
		Shipping:  in.Shipping,
		Notes:     in.Notes,
	})
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

func (t *mcpTools) getChannelWebhooks(ctx context.Context, req *mcp.CallToolRequest, in ChannelInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.getChannelWebhooks(ctx, t.user, in.ChannelID)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

func (t *mcpTools) createChannelWebhook(ctx context.Context, req *mcp.CallToolRequest, in CreateChannelWebhookInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.createChannelWebhook(ctx, t.user, in.ChannelID, in.Topic, in.Endpoint)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

func (t *mcpTools) deleteChannelWebhook(ctx context.Context, req *mcp.CallToolRequest, in DeleteChannelWebhookInput) (*mcp.CallToolResult, any, error) {
	res, err := t.h.deleteChannelWebhook(ctx, t.user, in.ChannelID, in.WebhookID)
	if err != nil {
		return nil, nil, t.h.mcpError(err)
	}
	return nil, res, nil
}

// mcpError converts errors to MCP tool errors without leaking internals.
func (h *Handler) mcpError(err error) error {
	apiErr := h.toAPIError(err)
	return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
}
