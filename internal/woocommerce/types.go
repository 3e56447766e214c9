// Package woocommerce implements the shop and channel adapter for
// WooCommerce stores using the REST API v3.
// All WooCommerce-specific types, transforms, and HTTP client logic live here.
package woocommerce

import "encoding/json"

// === WooCommerce API Types ===

// WooProduct is a product or a variation from /products.
type WooProduct struct {
	ID            int        `json:"id"`
	ParentID      int        `json:"parent_id,omitempty"`
	Name          string     `json:"name"`
	Permalink     string     `json:"permalink"`
	SKU           string     `json:"sku"`
	Price         string     `json:"price"` // "99.00" - string decimal
	Status        string     `json:"status"`
	StockStatus   string     `json:"stock_status"` // instock, outofstock, onbackorder
	ManageStock   bool       `json:"manage_stock"`
	StockQuantity *int       `json:"stock_quantity"`
	Purchasable   bool       `json:"purchasable"`
	Images        []WooImage `json:"images,omitempty"`
	// Variations carry a single image instead of a list.
	Image *WooImage `json:"image,omitempty"`
}

// WooOrder is an order from /orders or an order webhook payload.
type WooOrder struct {
	ID            int           `json:"id"`
	Number        string        `json:"number"`
	Status        string        `json:"status"`
	Currency      string        `json:"currency"`
	Total         string        `json:"total"`
	TotalTax      string        `json:"total_tax"`
	DiscountTotal string        `json:"discount_total"`
	CustomerNote  string        `json:"customer_note"`
	Billing       WooAddress    `json:"billing"`
	Shipping      WooAddress    `json:"shipping"`
	LineItems     []WooLineItem `json:"line_items"`
	MetaData      []WooMeta     `json:"meta_data,omitempty"`
}

// WooLineItem is an order line.
type WooLineItem struct {
	ID          int       `json:"id,omitempty"`
	Name        string    `json:"name,omitempty"`
	ProductID   int       `json:"product_id"`
	VariationID int       `json:"variation_id,omitempty"`
	Quantity    int       `json:"quantity"`
	Subtotal    string    `json:"subtotal,omitempty"`
	Total       string    `json:"total,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Image       *WooImage `json:"image,omitempty"`
}

// WooAddress represents a WooCommerce address.
type WooAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// WooImage represents a product image.
type WooImage struct {
	ID  int    `json:"id"`
	Src string `json:"src"`
}

// WooMeta is a meta_data entry. Value is arbitrary JSON.
type WooMeta struct {
	ID    int             `json:"id,omitempty"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// WooTrackingItem is one entry of the Shipment Tracking extension's
// _wc_shipment_tracking_items order meta.
type WooTrackingItem struct {
	TrackingProvider       string `json:"tracking_provider"`
	CustomTrackingProvider string `json:"custom_tracking_provider"`
	TrackingNumber         string `json:"tracking_number"`
}

// WooWebhook is a registered webhook from /webhooks.
type WooWebhook struct {
	ID          int    `json:"id"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status,omitempty"`
	Topic       string `json:"topic"`
	DeliveryURL string `json:"delivery_url"`
	Secret      string `json:"secret,omitempty"`
	DateCreated string `json:"date_created,omitempty"`
}

// WooOrderRequest creates an order.
type WooOrderRequest struct {
	Status       string        `json:"status"`
	SetPaid      bool          `json:"set_paid"`
	Billing      WooAddress    `json:"billing"`
	Shipping     WooAddress    `json:"shipping"`
	LineItems    []WooLineItem `json:"line_items"`
	CustomerNote string        `json:"customer_note,omitempty"`
	MetaData     []WooMeta     `json:"meta_data,omitempty"`
}

// WooNoteRequest adds an order note.
type WooNoteRequest struct {
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

// WooErrorResponse represents a WooCommerce API error.
type WooErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status int `json:"status"`
	} `json:"data"`
}
