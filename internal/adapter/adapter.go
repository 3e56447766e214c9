// Package adapter defines the capability surface every commerce platform
// integration implements. Shops and channels on any platform (Shopify,
// WooCommerce, a remote HTTP service) are driven through these interfaces by
// the executor; nothing above the executor special-cases a platform.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/openshiporg/openship-sub005/internal/model"
)

// PlatformConfig is the "platform" argument passed to every adapter call: the
// shop or channel binding merged with its platform's app credentials.
type PlatformConfig struct {
	Domain         string            `json:"domain"`
	AccessToken    string            `json:"accessToken"`
	RefreshToken   string            `json:"refreshToken,omitempty"`
	TokenExpiresAt *time.Time        `json:"tokenExpiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	AppKey         string            `json:"appKey,omitempty"`
	AppSecret      string            `json:"appSecret,omitempty"`
}

// ConfigFor builds the adapter argument for a binding on platform p.
func ConfigFor(b model.Binding, p *model.Platform) PlatformConfig {
	cfg := PlatformConfig{
		Domain:         b.Domain,
		AccessToken:    b.AccessToken,
		RefreshToken:   b.RefreshToken,
		TokenExpiresAt: b.TokenExpiresAt,
		Metadata:       b.Metadata,
	}
	if p != nil {
		cfg.AppKey = p.AppKey
		cfg.AppSecret = p.AppSecret
	}
	return cfg
}

// === Products ===

type SearchProductsRequest struct {
	Platform    PlatformConfig `json:"platform"`
	SearchEntry string         `json:"searchEntry"`
	After       string         `json:"after,omitempty"`
}

type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type SearchProductsResult struct {
	Products []model.Product `json:"products"`
	PageInfo PageInfo        `json:"pageInfo"`
}

type GetProductRequest struct {
	Platform  PlatformConfig `json:"platform"`
	ProductID string         `json:"productId"`
	VariantID string         `json:"variantId,omitempty"`
}

type GetProductResult struct {
	Product model.Product `json:"product"`
}

// ProductSearcher backs searchProductsFunction.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, req *SearchProductsRequest) (*SearchProductsResult, error)
}

// ProductFetcher backs getProductFunction.
type ProductFetcher interface {
	GetProduct(ctx context.Context, req *GetProductRequest) (*GetProductResult, error)
}

// === Purchases ===

// PurchaseItem is one cart line submitted to a channel.
type PurchaseItem struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Name      string `json:"name,omitempty"`
	SKU       string `json:"sku,omitempty"`
}

// Shipping is the normalized ship-to address.
type Shipping struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	Province  string `json:"province"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// ShippingFor normalizes an order's customer fields.
func ShippingFor(o *model.Order) Shipping {
	return Shipping{
		FirstName: o.FirstName,
		LastName:  o.LastName,
		Address1:  o.StreetAddress1,
		Address2:  o.StreetAddress2,
		City:      o.City,
		Province:  o.State,
		Zip:       o.Zip,
		Country:   o.Country,
		Phone:     o.Phone,
		Email:     o.Email,
	}
}

type CreatePurchaseRequest struct {
	Platform  PlatformConfig `json:"platform"`
	CartItems []PurchaseItem `json:"cartItems"`
	Shipping  Shipping       `json:"shipping"`
	Notes     string         `json:"notes"`
}

// PurchaseResult is either a placed purchase (PurchaseID set) or a soft
// failure (Error set, Status "error").
type PurchaseResult struct {
	PurchaseID  string         `json:"purchaseId,omitempty"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	TotalPrice  string         `json:"totalPrice,omitempty"`
	URL         string         `json:"url,omitempty"`
	LineItems   []PurchaseItem `json:"lineItems,omitempty"`
	Status      string         `json:"status,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PurchaseCreator backs createPurchaseFunction.
type PurchaseCreator interface {
	CreatePurchase(ctx context.Context, req *CreatePurchaseRequest) (*PurchaseResult, error)
}

// === Webhook registration ===

type Webhook struct {
	ID          string `json:"id"`
	CallbackURL string `json:"callbackUrl"`
	Topic       string `json:"topic"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

type CreateWebhookRequest struct {
	Platform PlatformConfig `json:"platform"`
	Endpoint string         `json:"endpoint"`
	Events   []string       `json:"events"`
}

type CreateWebhookResult struct {
	Webhooks  []Webhook `json:"webhooks"`
	WebhookID string    `json:"webhookId"`
}

type DeleteWebhookRequest struct {
	Platform  PlatformConfig `json:"platform"`
	WebhookID string         `json:"webhookId"`
}

type DeleteWebhookResult struct {
	Success bool `json:"success"`
}

type GetWebhooksRequest struct {
	Platform PlatformConfig `json:"platform"`
}

type GetWebhooksResult struct {
	Webhooks []Webhook `json:"webhooks"`
}

type WebhookCreator interface {
	CreateWebhook(ctx context.Context, req *CreateWebhookRequest) (*CreateWebhookResult, error)
}

type WebhookDeleter interface {
	DeleteWebhook(ctx context.Context, req *DeleteWebhookRequest) (*DeleteWebhookResult, error)
}

type WebhookLister interface {
	GetWebhooks(ctx context.Context, req *GetWebhooksRequest) (*GetWebhooksResult, error)
}

// WebhookManager groups the three webhook registration slots.
type WebhookManager interface {
	WebhookCreator
	WebhookDeleter
	WebhookLister
}

// === OAuth ===

type OAuthRequest struct {
	Platform    PlatformConfig `json:"platform"`
	CallbackURL string         `json:"callbackUrl"`
	State       string         `json:"state,omitempty"`
}

type OAuthResult struct {
	AuthURL string `json:"authUrl"`
}

type OAuthCallbackRequest struct {
	Platform    PlatformConfig `json:"platform"`
	Code        string         `json:"code"`
	Shop        string         `json:"shop"`
	State       string         `json:"state"`
	AppKey      string         `json:"appKey,omitempty"`
	AppSecret   string         `json:"appSecret,omitempty"`
	RedirectURI string         `json:"redirectUri,omitempty"`
}

// OAuthTokens is the credential set produced by a callback or refresh.
type OAuthTokens struct {
	AccessToken    string     `json:"accessToken"`
	RefreshToken   string     `json:"refreshToken,omitempty"`
	ExpiresIn      int        `json:"expiresIn,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

// ExpiresAt resolves the absolute expiry, preferring TokenExpiresAt.
func (t *OAuthTokens) ExpiresAt(now time.Time) *time.Time {
	if t.TokenExpiresAt != nil {
		return t.TokenExpiresAt
	}
	if t.ExpiresIn > 0 {
		exp := now.Add(time.Duration(t.ExpiresIn) * time.Second)
		return &exp
	}
	return nil
}

type OAuthStarter interface {
	OAuthStart(ctx context.Context, req *OAuthRequest) (*OAuthResult, error)
}

type OAuthCallbackHandler interface {
	OAuthCallback(ctx context.Context, req *OAuthCallbackRequest) (*OAuthTokens, error)
}

// TokenRefresher is optional. The executor uses it to renew an expired
// access token before invoking any other slot.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, platform PlatformConfig) (*OAuthTokens, error)
}

// === Webhook ingestion ===

// WebhookEvent is an inbound platform webhook. Event holds the raw body so
// handlers can verify signatures over the exact bytes received.
type WebhookEvent struct {
	Platform PlatformConfig  `json:"platform"`
	Event    json.RawMessage `json:"event"`
	Headers  http.Header     `json:"headers"`
}

// CancelOrderEvent identifies a shop order cancelled on its platform.
type CancelOrderEvent struct {
	OrderID string `json:"orderId"`
}

// TrackingEvent is shipment tracking reported by a channel.
type TrackingEvent struct {
	PurchaseID      string `json:"purchaseId"`
	TrackingCompany string `json:"trackingCompany"`
	TrackingNumber  string `json:"trackingNumber"`
}

// CancelPurchaseEvent identifies a channel purchase cancelled on its platform.
type CancelPurchaseEvent struct {
	PurchaseID string `json:"purchaseId"`
}

// ErrIgnoredEvent is returned by an ingestion handler for a verified event
// that carries nothing to record, such as an order update that is not a
// cancellation. The HTTP layer acknowledges it without retry.
var ErrIgnoredEvent = errors.New("webhook event ignored")

// Each ingestion handler must verify the platform signature and fail before
// producing a record when it is absent or wrong.
type (
	CreateOrderWebhookHandler interface {
		HandleCreateOrder(ctx context.Context, ev *WebhookEvent) (*model.Order, error)
	}
	CancelOrderWebhookHandler interface {
		HandleCancelOrder(ctx context.Context, ev *WebhookEvent) (*CancelOrderEvent, error)
	}
	CreateTrackingWebhookHandler interface {
		HandleCreateTracking(ctx context.Context, ev *WebhookEvent) (*TrackingEvent, error)
	}
	CancelPurchaseWebhookHandler interface {
		HandleCancelPurchase(ctx context.Context, ev *WebhookEvent) (*CancelPurchaseEvent, error)
	}
)

// === Shop write-back ===

type AddCartRequest struct {
	Platform  PlatformConfig   `json:"platform"`
	OrderID   string           `json:"orderId"`
	CartItems []model.CartItem `json:"cartItems"`
}

type AddCartResult struct {
	Success bool `json:"success"`
}

// CartWriter backs addCartToPlatformOrderFunction.
type CartWriter interface {
	AddCartToPlatformOrder(ctx context.Context, req *AddCartRequest) (*AddCartResult, error)
}

// === Composites ===

// Channel is the full surface of a fulfillment platform module.
type Channel interface {
	ProductSearcher
	ProductFetcher
	PurchaseCreator
	WebhookManager
	OAuthStarter
	OAuthCallbackHandler
	CreateTrackingWebhookHandler
	CancelPurchaseWebhookHandler
}

// Shop is the full surface of an order-source platform module.
type Shop interface {
	ProductSearcher
	ProductFetcher
	WebhookManager
	OAuthStarter
	OAuthCallbackHandler
	CreateOrderWebhookHandler
	CancelOrderWebhookHandler
	CartWriter
}
