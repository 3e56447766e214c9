// Package model defines the Openship data model shared by the routing pipeline,
// the store, and the platform adapters.
package model

import "time"

// OrderStatus is the lifecycle state of an Order.
// The placement pipeline only moves an order between PENDING and AWAITING;
// the remaining states are set by webhooks or manual edits.
type OrderStatus string

const (
	OrderStatusPending     OrderStatus = "PENDING"
	OrderStatusInProcess   OrderStatus = "INPROCESS"
	OrderStatusAwaiting    OrderStatus = "AWAITING"
	OrderStatusBackordered OrderStatus = "BACKORDERED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
	OrderStatusComplete    OrderStatus = "COMPLETE"
)

// IsTerminal reports whether the pipeline must leave an order in this state alone.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusComplete
}

// CartItemStatus tracks whether a routing decision is still active.
type CartItemStatus string

const (
	CartItemStatusPending   CartItemStatus = "PENDING"
	CartItemStatusCancelled CartItemStatus = "CANCELLED"
)

// Order is a customer purchase captured from (or created for) a Shop.
type Order struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"` // shop-native id
	OrderName string `json:"orderName"`

	Email          string `json:"email"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	StreetAddress1 string `json:"streetAddress1"`
	StreetAddress2 string `json:"streetAddress2"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	Country        string `json:"country"`
	Phone          string `json:"phone"`

	Currency       string `json:"currency"`
	TotalPrice     string `json:"totalPrice"`
	SubTotalPrice  string `json:"subTotalPrice"`
	TotalDiscounts string `json:"totalDiscounts"`
	TotalTax       string `json:"totalTax"`

	// Pipeline flags captured at creation. The lifecycle hook turns them into a
	// RoutingPlan once and never re-reads them.
	LinkOrder    bool `json:"linkOrder"`
	MatchOrder   bool `json:"matchOrder"`
	ProcessOrder bool `json:"processOrder"`

	Status OrderStatus `json:"status"`
	Error  string      `json:"error"`

	ShopID string `json:"shopId,omitempty"`
	UserID string `json:"userId"`

	LineItems []LineItem `json:"lineItems,omitempty"`
	CartItems []CartItem `json:"cartItems,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LineItem is what the customer ordered from the Shop.
type LineItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	SKU       string `json:"sku"`
}

// CartItem is a routing decision: this quantity of this channel's product
// fulfills (part of) an Order. A non-empty PurchaseID or URL means placed.
type CartItem struct {
	ID         string         `json:"id"`
	OrderID    string         `json:"orderId"`
	ChannelID  string         `json:"channelId"`
	UserID     string         `json:"userId"`
	LineItemID string         `json:"lineItemId,omitempty"`
	// MatchID and MatchOutputID record the match output the item was
	// materialized from, empty for link and direct items.
	MatchID       string `json:"matchId,omitempty"`
	MatchOutputID string `json:"matchOutputId,omitempty"`
	ProductID  string         `json:"productId"`
	VariantID  string         `json:"variantId"`
	Quantity   int            `json:"quantity"`
	Price      string         `json:"price"`
	Name       string         `json:"name"`
	Image      string         `json:"image"`
	SKU        string         `json:"sku"`
	PurchaseID string         `json:"purchaseId"`
	URL        string         `json:"url"`
	Error      string         `json:"error"`
	Status     CartItemStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Placed reports whether the item has already been purchased on its channel.
func (c *CartItem) Placed() bool {
	return c.PurchaseID != "" || c.URL != ""
}

// TrackingDetail records shipment tracking reported by a channel for one purchase.
type TrackingDetail struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId"`
	PurchaseID      string    `json:"purchaseId"`
	TrackingCompany string    `json:"trackingCompany"`
	TrackingNumber  string    `json:"trackingNumber"`
	CreatedAt       time.Time `json:"createdAt"`
}

// User owns orders, matches, shops and channels.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	APIKey string `json:"-"`
}
