package model

import "time"

// Function slots a Platform may wire. Each slot value is either a local
// adapter module name ("shopify") or an http(s) URL.
const (
	SlotSearchProducts      = "searchProductsFunction"
	SlotGetProduct          = "getProductFunction"
	SlotCreatePurchase      = "createPurchaseFunction"
	SlotCreateWebhook       = "createWebhookFunction"
	SlotDeleteWebhook       = "deleteWebhookFunction"
	SlotGetWebhooks         = "getWebhooksFunction"
	SlotOAuth               = "oAuthFunction"
	SlotOAuthCallback       = "oAuthCallbackFunction"
	SlotCreateOrderWebhook  = "createOrderWebhookHandler"
	SlotCancelOrderWebhook  = "cancelOrderWebhookHandler"
	SlotCreateTracking      = "createTrackingWebhookHandler"
	SlotCancelPurchase      = "cancelPurchaseWebhookHandler"
	SlotAddCartToOrder      = "addCartToPlatformOrderFunction"
)

// PlatformKind separates shop platforms (order sources) from channel
// platforms (fulfillment destinations).
type PlatformKind string

const (
	PlatformKindShop    PlatformKind = "shop"
	PlatformKindChannel PlatformKind = "channel"
)

// Platform describes how to reach one commerce platform.
type Platform struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Kind      PlatformKind      `json:"kind"`
	AppKey    string            `json:"appKey,omitempty"`
	AppSecret string            `json:"-"`
	Functions map[string]string `json:"functions"`
	UserID    string            `json:"userId"`
}

// Function returns the module name or URL wired to slot, or "".
func (p *Platform) Function(slot string) string {
	if p == nil || p.Functions == nil {
		return ""
	}
	return p.Functions[slot]
}

// Binding is the credentials and location of one Shop or Channel on its platform.
type Binding struct {
	Domain         string            `json:"domain"`
	AccessToken    string            `json:"-"`
	RefreshToken   string            `json:"-"`
	TokenExpiresAt *time.Time        `json:"tokenExpiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TokenExpired reports whether the access token has expired at now.
// A binding without an expiry never expires.
func (b *Binding) TokenExpired(now time.Time) bool {
	return b.TokenExpiresAt != nil && !now.Before(*b.TokenExpiresAt)
}

// LinkMode controls how a Shop's Links fan orders out.
type LinkMode string

const (
	LinkModeSequential   LinkMode = "sequential"
	LinkModeSimultaneous LinkMode = "simultaneous"
)

// Shop is an order source.
type Shop struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Binding               // credentials
	LinkMode   LinkMode  `json:"linkMode"`
	PlatformID string    `json:"platformId"`
	UserID     string    `json:"userId"`
	Platform   *Platform `json:"platform,omitempty"`
}

// Channel is a fulfillment destination.
type Channel struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Binding
	PlatformID string    `json:"platformId"`
	UserID     string    `json:"userId"`
	Platform   *Platform `json:"platform,omitempty"`
}

// Link routes a shop's orders to a channel when its filters match.
type Link struct {
	ID        string   `json:"id"`
	ShopID    string   `json:"shopId"`
	ChannelID string   `json:"channelId"`
	Rank      int      `json:"rank"`
	Filters   []Filter `json:"filters"`
	// DynamicWhereClause is generated from Filters and stored alongside them.
	DynamicWhereClause map[string]any `json:"dynamicWhereClause,omitempty"`
}

// Filter is one UI-level condition of a Link.
type Filter struct {
	Field string `json:"field"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}
