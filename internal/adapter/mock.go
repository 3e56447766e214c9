package adapter

import (
	"context"
	"errors"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// ErrNotConfigured is returned by Mock methods whose function field is nil.
var ErrNotConfigured = errors.New("mock: function not configured")

// Mock implements every capability for testing.
// Each method can be configured via function fields.
type Mock struct {
	SearchProductsFunc         func(ctx context.Context, req *SearchProductsRequest) (*SearchProductsResult, error)
	GetProductFunc             func(ctx context.Context, req *GetProductRequest) (*GetProductResult, error)
	CreatePurchaseFunc         func(ctx context.Context, req *CreatePurchaseRequest) (*PurchaseResult, error)
	CreateWebhookFunc          func(ctx context.Context, req *CreateWebhookRequest) (*CreateWebhookResult, error)
	DeleteWebhookFunc          func(ctx context.Context, req *DeleteWebhookRequest) (*DeleteWebhookResult, error)
	GetWebhooksFunc            func(ctx context.Context, req *GetWebhooksRequest) (*GetWebhooksResult, error)
	OAuthStartFunc             func(ctx context.Context, req *OAuthRequest) (*OAuthResult, error)
	OAuthCallbackFunc          func(ctx context.Context, req *OAuthCallbackRequest) (*OAuthTokens, error)
	RefreshTokenFunc           func(ctx context.Context, platform PlatformConfig) (*OAuthTokens, error)
	HandleCreateOrderFunc      func(ctx context.Context, ev *WebhookEvent) (*model.Order, error)
	HandleCancelOrderFunc      func(ctx context.Context, ev *WebhookEvent) (*CancelOrderEvent, error)
	HandleCreateTrackingFunc   func(ctx context.Context, ev *WebhookEvent) (*TrackingEvent, error)
	HandleCancelPurchaseFunc   func(ctx context.Context, ev *WebhookEvent) (*CancelPurchaseEvent, error)
	AddCartToPlatformOrderFunc func(ctx context.Context, req *AddCartRequest) (*AddCartResult, error)
}

func (m *Mock) SearchProducts(ctx context.Context, req *SearchProductsRequest) (*SearchProductsResult, error) {
	if m.SearchProductsFunc != nil {
		return m.SearchProductsFunc(ctx, req)
	}
	return &SearchProductsResult{}, nil
}

func (m *Mock) GetProduct(ctx context.Context, req *GetProductRequest) (*GetProductResult, error) {
	if m.GetProductFunc != nil {
		return m.GetProductFunc(ctx, req)
	}
	return nil, model.NewNotFoundError("product")
}

func (m *Mock) CreatePurchase(ctx context.Context, req *CreatePurchaseRequest) (*PurchaseResult, error) {
	if m.CreatePurchaseFunc != nil {
		return m.CreatePurchaseFunc(ctx, req)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) CreateWebhook(ctx context.Context, req *CreateWebhookRequest) (*CreateWebhookResult, error) {
	if m.CreateWebhookFunc != nil {
		return m.CreateWebhookFunc(ctx, req)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) DeleteWebhook(ctx context.Context, req *DeleteWebhookRequest) (*DeleteWebhookResult, error) {
	if m.DeleteWebhookFunc != nil {
		return m.DeleteWebhookFunc(ctx, req)
	}
	return &DeleteWebhookResult{Success: true}, nil
}

func (m *Mock) GetWebhooks(ctx context.Context, req *GetWebhooksRequest) (*GetWebhooksResult, error) {
	if m.GetWebhooksFunc != nil {
		return m.GetWebhooksFunc(ctx, req)
	}
	return &GetWebhooksResult{}, nil
}

func (m *Mock) OAuthStart(ctx context.Context, req *OAuthRequest) (*OAuthResult, error) {
	if m.OAuthStartFunc != nil {
		return m.OAuthStartFunc(ctx, req)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) OAuthCallback(ctx context.Context, req *OAuthCallbackRequest) (*OAuthTokens, error) {
	if m.OAuthCallbackFunc != nil {
		return m.OAuthCallbackFunc(ctx, req)
	}
	return nil, ErrNotConfigured
}

// RefreshToken returns the current token unchanged when not configured.
func (m *Mock) RefreshToken(ctx context.Context, platform PlatformConfig) (*OAuthTokens, error) {
	if m.RefreshTokenFunc != nil {
		return m.RefreshTokenFunc(ctx, platform)
	}
	return &OAuthTokens{AccessToken: platform.AccessToken, RefreshToken: platform.RefreshToken}, nil
}

func (m *Mock) HandleCreateOrder(ctx context.Context, ev *WebhookEvent) (*model.Order, error) {
	if m.HandleCreateOrderFunc != nil {
		return m.HandleCreateOrderFunc(ctx, ev)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) HandleCancelOrder(ctx context.Context, ev *WebhookEvent) (*CancelOrderEvent, error) {
	if m.HandleCancelOrderFunc != nil {
		return m.HandleCancelOrderFunc(ctx, ev)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) HandleCreateTracking(ctx context.Context, ev *WebhookEvent) (*TrackingEvent, error) {
	if m.HandleCreateTrackingFunc != nil {
		return m.HandleCreateTrackingFunc(ctx, ev)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) HandleCancelPurchase(ctx context.Context, ev *WebhookEvent) (*CancelPurchaseEvent, error) {
	if m.HandleCancelPurchaseFunc != nil {
		return m.HandleCancelPurchaseFunc(ctx, ev)
	}
	return nil, ErrNotConfigured
}

func (m *Mock) AddCartToPlatformOrder(ctx context.Context, req *AddCartRequest) (*AddCartResult, error) {
	if m.AddCartToPlatformOrderFunc != nil {
		return m.AddCartToPlatformOrderFunc(ctx, req)
	}
	return &AddCartResult{Success: true}, nil
}

// Verify Mock implements both platform surfaces at compile time.
var (
	_ Channel        = (*Mock)(nil)
	_ Shop           = (*Mock)(nil)
	_ TokenRefresher = (*Mock)(nil)
)
