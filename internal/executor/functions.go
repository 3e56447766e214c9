package executor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// capability adapts a type assertion into the local-extraction shape invoke expects.
func capability[C, Req, Res any](method func(C) func(context.Context, *Req) (*Res, error)) func(any) (func(context.Context, *Req) (*Res, error), bool) {
	return func(module any) (func(context.Context, *Req) (*Res, error), bool) {
		c, ok := module.(C)
		if !ok {
			return nil, false
		}
		return method(c), true
	}
}

// === Products ===

func (e *Executor) SearchProducts(ctx context.Context, ep Endpoint, searchEntry, after string) (*adapter.SearchProductsResult, error) {
	return invoke(ctx, e, ep, model.SlotSearchProducts,
		func(cfg adapter.PlatformConfig) *adapter.SearchProductsRequest {
			return &adapter.SearchProductsRequest{Platform: cfg, SearchEntry: searchEntry, After: after}
		},
		capability(func(c adapter.ProductSearcher) func(context.Context, *adapter.SearchProductsRequest) (*adapter.SearchProductsResult, error) {
			return c.SearchProducts
		}))
}

func (e *Executor) GetProduct(ctx context.Context, ep Endpoint, productID, variantID string) (*adapter.GetProductResult, error) {
	return invoke(ctx, e, ep, model.SlotGetProduct,
		func(cfg adapter.PlatformConfig) *adapter.GetProductRequest {
			return &adapter.GetProductRequest{Platform: cfg, ProductID: productID, VariantID: variantID}
		},
		capability(func(c adapter.ProductFetcher) func(context.Context, *adapter.GetProductRequest) (*adapter.GetProductResult, error) {
			return c.GetProduct
		}))
}

// === Purchases ===

func (e *Executor) CreatePurchase(ctx context.Context, ep Endpoint, items []adapter.PurchaseItem, shipping adapter.Shipping, notes string) (*adapter.PurchaseResult, error) {
	return invoke(ctx, e, ep, model.SlotCreatePurchase,
		func(cfg adapter.PlatformConfig) *adapter.CreatePurchaseRequest {
			return &adapter.CreatePurchaseRequest{Platform: cfg, CartItems: items, Shipping: shipping, Notes: notes}
		},
		capability(func(c adapter.PurchaseCreator) func(context.Context, *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
			return c.CreatePurchase
		}))
}

// === Webhook registration ===

func (e *Executor) CreateWebhook(ctx context.Context, ep Endpoint, endpoint string, events []string) (*adapter.CreateWebhookResult, error) {
	return invoke(ctx, e, ep, model.SlotCreateWebhook,
		func(cfg adapter.PlatformConfig) *adapter.CreateWebhookRequest {
			return &adapter.CreateWebhookRequest{Platform: cfg, Endpoint: endpoint, Events: events}
		},
		capability(func(c adapter.WebhookCreator) func(context.Context, *adapter.CreateWebhookRequest) (*adapter.CreateWebhookResult, error) {
			return c.CreateWebhook
		}))
}

func (e *Executor) DeleteWebhook(ctx context.Context, ep Endpoint, webhookID string) (*adapter.DeleteWebhookResult, error) {
	return invoke(ctx, e, ep, model.SlotDeleteWebhook,
		func(cfg adapter.PlatformConfig) *adapter.DeleteWebhookRequest {
			return &adapter.DeleteWebhookRequest{Platform: cfg, WebhookID: webhookID}
		},
		capability(func(c adapter.WebhookDeleter) func(context.Context, *adapter.DeleteWebhookRequest) (*adapter.DeleteWebhookResult, error) {
			return c.DeleteWebhook
		}))
}

func (e *Executor) GetWebhooks(ctx context.Context, ep Endpoint) (*adapter.GetWebhooksResult, error) {
	return invoke(ctx, e, ep, model.SlotGetWebhooks,
		func(cfg adapter.PlatformConfig) *adapter.GetWebhooksRequest {
			return &adapter.GetWebhooksRequest{Platform: cfg}
		},
		capability(func(c adapter.WebhookLister) func(context.Context, *adapter.GetWebhooksRequest) (*adapter.GetWebhooksResult, error) {
			return c.GetWebhooks
		}))
}

// === OAuth ===

func (e *Executor) OAuthStart(ctx context.Context, ep Endpoint, callbackURL, state string) (*adapter.OAuthResult, error) {
	return invoke(ctx, e, ep, model.SlotOAuth,
		func(cfg adapter.PlatformConfig) *adapter.OAuthRequest {
			return &adapter.OAuthRequest{Platform: cfg, CallbackURL: callbackURL, State: state}
		},
		capability(func(c adapter.OAuthStarter) func(context.Context, *adapter.OAuthRequest) (*adapter.OAuthResult, error) {
			return c.OAuthStart
		}))
}

func (e *Executor) OAuthCallback(ctx context.Context, ep Endpoint, code, shop, state, redirectURI string) (*adapter.OAuthTokens, error) {
	return invoke(ctx, e, ep, model.SlotOAuthCallback,
		func(cfg adapter.PlatformConfig) *adapter.OAuthCallbackRequest {
			return &adapter.OAuthCallbackRequest{
				Platform:    cfg,
				Code:        code,
				Shop:        shop,
				State:       state,
				AppKey:      cfg.AppKey,
				AppSecret:   cfg.AppSecret,
				RedirectURI: redirectURI,
			}
		},
		capability(func(c adapter.OAuthCallbackHandler) func(context.Context, *adapter.OAuthCallbackRequest) (*adapter.OAuthTokens, error) {
			return c.OAuthCallback
		}))
}

// === Webhook ingestion ===

func webhookEvent(body []byte, headers http.Header) func(adapter.PlatformConfig) *adapter.WebhookEvent {
	return func(cfg adapter.PlatformConfig) *adapter.WebhookEvent {
		return &adapter.WebhookEvent{Platform: cfg, Event: json.RawMessage(body), Headers: headers}
	}
}

func (e *Executor) HandleCreateOrder(ctx context.Context, ep Endpoint, body []byte, headers http.Header) (*model.Order, error) {
	return invoke(ctx, e, ep, model.SlotCreateOrderWebhook, webhookEvent(body, headers),
		capability(func(c adapter.CreateOrderWebhookHandler) func(context.Context, *adapter.WebhookEvent) (*model.Order, error) {
			return c.HandleCreateOrder
		}))
}

func (e *Executor) HandleCancelOrder(ctx context.Context, ep Endpoint, body []byte, headers http.Header) (*adapter.CancelOrderEvent, error) {
	return invoke(ctx, e, ep, model.SlotCancelOrderWebhook, webhookEvent(body, headers),
		capability(func(c adapter.CancelOrderWebhookHandler) func(context.Context, *adapter.WebhookEvent) (*adapter.CancelOrderEvent, error) {
			return c.HandleCancelOrder
		}))
}

func (e *Executor) HandleCreateTracking(ctx context.Context, ep Endpoint, body []byte, headers http.Header) (*adapter.TrackingEvent, error) {
	return invoke(ctx, e, ep, model.SlotCreateTracking, webhookEvent(body, headers),
		capability(func(c adapter.CreateTrackingWebhookHandler) func(context.Context, *adapter.WebhookEvent) (*adapter.TrackingEvent, error) {
			return c.HandleCreateTracking
		}))
}

func (e *Executor) HandleCancelPurchase(ctx context.Context, ep Endpoint, body []byte, headers http.Header) (*adapter.CancelPurchaseEvent, error) {
	return invoke(ctx, e, ep, model.SlotCancelPurchase, webhookEvent(body, headers),
		capability(func(c adapter.CancelPurchaseWebhookHandler) func(context.Context, *adapter.WebhookEvent) (*adapter.CancelPurchaseEvent, error) {
			return c.HandleCancelPurchase
		}))
}

// === Shop write-back ===

func (e *Executor) AddCartToPlatformOrder(ctx context.Context, ep Endpoint, orderID string, items []model.CartItem) (*adapter.AddCartResult, error) {
	return invoke(ctx, e, ep, model.SlotAddCartToOrder,
		func(cfg adapter.PlatformConfig) *adapter.AddCartRequest {
			return &adapter.AddCartRequest{Platform: cfg, OrderID: orderID, CartItems: items}
		},
		capability(func(c adapter.CartWriter) func(context.Context, *adapter.AddCartRequest) (*adapter.AddCartResult, error) {
			return c.AddCartToPlatformOrder
		}))
}
