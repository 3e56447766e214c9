package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/webhooksig"
)

// Webhook delivery headers.
const (
	HMACHeader  = "X-Shopify-Hmac-Sha256"
	TopicHeader = "X-Shopify-Topic"
)

// === Registration ===

const webhookCreateMutation = `mutation WebhookCreate($topic: WebhookSubscriptionTopic!, $sub: WebhookSubscriptionInput!) {
	webhookSubscriptionCreate(topic: $topic, webhookSubscription: $sub) {
		webhookSubscription { id topic createdAt endpoint { ... on WebhookHttpEndpoint { callbackUrl } } }
		userErrors { field message }
	}
}`

const webhookDeleteMutation = `mutation WebhookDelete($id: ID!) {
	webhookSubscriptionDelete(id: $id) {
		deletedWebhookSubscriptionId
		userErrors { field message }
	}
}`

const webhooksQuery = `query Webhooks {
	webhookSubscriptions(first: 100) {
		edges { node { id topic createdAt endpoint { ... on WebhookHttpEndpoint { callbackUrl } } } }
	}
}`

type subscriptionNode struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	CreatedAt string `json:"createdAt"`
	Endpoint  struct {
		CallbackURL string `json:"callbackUrl"`
	} `json:"endpoint"`
}

func (n *subscriptionNode) webhook() adapter.Webhook {
	return adapter.Webhook{
		ID:          legacyID(n.ID),
		CallbackURL: n.Endpoint.CallbackURL,
		Topic:       n.Topic,
		CreatedAt:   n.CreatedAt,
	}
}

// topicAliases maps platform-neutral event names onto Shopify topics.
var topicAliases = map[string]string{
	"ORDER_CREATED":      "ORDERS_CREATE",
	"ORDER_CANCELLED":    "ORDERS_CANCELLED",
	"TRACKING_CREATED":   "FULFILLMENTS_CREATE",
	"PURCHASE_CANCELLED": "ORDERS_CANCELLED",
}

// topicsFor resolves event names ("ORDER_CREATED", "orders/create") to
// GraphQL topic enums, dropping duplicates.
func topicsFor(events []string) []string {
	seen := make(map[string]bool, len(events))
	topics := make([]string, 0, len(events))
	for _, ev := range events {
		up := strings.ToUpper(ev)
		topic, ok := topicAliases[up]
		if !ok {
			topic = strings.ReplaceAll(up, "/", "_")
		}
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// CreateWebhook subscribes endpoint to each event topic.
func (c *Client) CreateWebhook(ctx context.Context, req *adapter.CreateWebhookRequest) (*adapter.CreateWebhookResult, error) {
	if req.Endpoint == "" {
		return nil, model.NewValidationError("endpoint", "is required")
	}
	if len(req.Events) == 0 {
		return nil, model.NewValidationError("events", "at least one event is required")
	}

	result := &adapter.CreateWebhookResult{}
	for _, topic := range topicsFor(req.Events) {
		vars := map[string]any{
			"topic": topic,
			"sub":   map[string]any{"callbackUrl": req.Endpoint, "format": "JSON"},
		}
		var data struct {
			WebhookSubscriptionCreate struct {
				WebhookSubscription *subscriptionNode `json:"webhookSubscription"`
				UserErrors          []UserError       `json:"userErrors"`
			} `json:"webhookSubscriptionCreate"`
		}
		if err := c.graphql(ctx, req.Platform, webhookCreateMutation, vars, &data); err != nil {
			return nil, err
		}
		if err := userErrorsErr(data.WebhookSubscriptionCreate.UserErrors); err != nil {
			return nil, err
		}
		if sub := data.WebhookSubscriptionCreate.WebhookSubscription; sub != nil {
			result.Webhooks = append(result.Webhooks, sub.webhook())
		}
	}
	if len(result.Webhooks) > 0 {
		result.WebhookID = result.Webhooks[0].ID
	}
	return result, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, req *adapter.DeleteWebhookRequest) (*adapter.DeleteWebhookResult, error) {
	if req.WebhookID == "" {
		return nil, model.NewValidationError("webhookId", "is required")
	}
	var data struct {
		WebhookSubscriptionDelete struct {
			DeletedID  *string     `json:"deletedWebhookSubscriptionId"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"webhookSubscriptionDelete"`
	}
	vars := map[string]any{"id": gid("WebhookSubscription", req.WebhookID)}
	if err := c.graphql(ctx, req.Platform, webhookDeleteMutation, vars, &data); err != nil {
		return nil, err
	}
	if err := userErrorsErr(data.WebhookSubscriptionDelete.UserErrors); err != nil {
		return nil, err
	}
	return &adapter.DeleteWebhookResult{Success: data.WebhookSubscriptionDelete.DeletedID != nil}, nil
}

func (c *Client) GetWebhooks(ctx context.Context, req *adapter.GetWebhooksRequest) (*adapter.GetWebhooksResult, error) {
	var data struct {
		WebhookSubscriptions struct {
			Edges []struct {
				Node subscriptionNode `json:"node"`
			} `json:"edges"`
		} `json:"webhookSubscriptions"`
	}
	if err := c.graphql(ctx, req.Platform, webhooksQuery, nil, &data); err != nil {
		return nil, err
	}
	result := &adapter.GetWebhooksResult{Webhooks: make([]adapter.Webhook, 0, len(data.WebhookSubscriptions.Edges))}
	for _, e := range data.WebhookSubscriptions.Edges {
		result.Webhooks = append(result.Webhooks, e.Node.webhook())
	}
	return result, nil
}

// === Ingestion ===

// restOrder is the REST-shaped order in orders/* webhook payloads.
type restOrder struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Currency        string     `json:"currency"`
	TotalPrice      string     `json:"total_price"`
	SubtotalPrice   string     `json:"subtotal_price"`
	TotalDiscounts  string     `json:"total_discounts"`
	TotalTax        string     `json:"total_tax"`
	CancelledAt     *string    `json:"cancelled_at"`
	ShippingAddress *restAddr  `json:"shipping_address"`
	BillingAddress  *restAddr  `json:"billing_address"`
	LineItems       []restLine `json:"line_items"`
}

type restAddr struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	Country      string `json:"country"`
	CountryCode  string `json:"country_code"`
	Phone        string `json:"phone"`
}

type restLine struct {
	ProductID *int64 `json:"product_id"`
	VariantID *int64 `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	Title     string `json:"title"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
}

// restFulfillment is the fulfillments/create payload.
type restFulfillment struct {
	OrderID         int64    `json:"order_id"`
	TrackingCompany string   `json:"tracking_company"`
	TrackingNumber  string   `json:"tracking_number"`
	TrackingNumbers []string `json:"tracking_numbers"`
}

// HandleCreateOrder ingests an orders/create delivery.
func (c *Client) HandleCreateOrder(ctx context.Context, ev *adapter.WebhookEvent) (*model.Order, error) {
	var o restOrder
	if err := verifiedPayload(ev, &o); err != nil {
		return nil, err
	}
	if o.ID == 0 {
		return nil, model.NewValidationError("event", "order id is missing")
	}
	return transformOrder(&o), nil
}

// HandleCancelOrder ingests an orders/cancelled delivery from a shop.
func (c *Client) HandleCancelOrder(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.CancelOrderEvent, error) {
	id, err := cancelledOrderID(ev)
	if err != nil {
		return nil, err
	}
	return &adapter.CancelOrderEvent{OrderID: id}, nil
}

// HandleCreateTracking ingests a fulfillments/create delivery. The purchase
// id is the supplier order id.
func (c *Client) HandleCreateTracking(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.TrackingEvent, error) {
	var f restFulfillment
	if err := verifiedPayload(ev, &f); err != nil {
		return nil, err
	}
	if f.OrderID == 0 {
		return nil, model.NewValidationError("event", "order_id is missing")
	}
	number := f.TrackingNumber
	if number == "" && len(f.TrackingNumbers) > 0 {
		number = f.TrackingNumbers[0]
	}
	if number == "" {
		return nil, fmt.Errorf("fulfillment for order %d has no tracking: %w", f.OrderID, adapter.ErrIgnoredEvent)
	}
	return &adapter.TrackingEvent{
		PurchaseID:      strconv.FormatInt(f.OrderID, 10),
		TrackingCompany: f.TrackingCompany,
		TrackingNumber:  number,
	}, nil
}

// HandleCancelPurchase ingests an orders/cancelled delivery from a channel.
func (c *Client) HandleCancelPurchase(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.CancelPurchaseEvent, error) {
	id, err := cancelledOrderID(ev)
	if err != nil {
		return nil, err
	}
	return &adapter.CancelPurchaseEvent{PurchaseID: id}, nil
}

func cancelledOrderID(ev *adapter.WebhookEvent) (string, error) {
	var o restOrder
	if err := verifiedPayload(ev, &o); err != nil {
		return "", err
	}
	if o.ID == 0 {
		return "", model.NewValidationError("event", "order id is missing")
	}
	if o.CancelledAt == nil {
		return "", fmt.Errorf("order %d is not cancelled: %w", o.ID, adapter.ErrIgnoredEvent)
	}
	return strconv.FormatInt(o.ID, 10), nil
}

// verifiedPayload checks X-Shopify-Hmac-Sha256 against the app secret and
// decodes the body into out.
func verifiedPayload(ev *adapter.WebhookEvent, out any) error {
	secret := ev.Platform.AppSecret
	if s := ev.Platform.Metadata["webhookSecret"]; s != "" {
		secret = s
	}
	if err := webhooksig.VerifyHMACBase64(secret, ev.Event, ev.Headers.Get(HMACHeader)); err != nil {
		return err
	}
	if err := json.Unmarshal(ev.Event, out); err != nil {
		return model.NewValidationError("event", "invalid Shopify payload")
	}
	return nil
}

func transformOrder(o *restOrder) *model.Order {
	addr := o.ShippingAddress
	if addr == nil {
		addr = o.BillingAddress
	}
	if addr == nil {
		addr = &restAddr{}
	}
	phone := o.Phone
	if phone == "" {
		phone = addr.Phone
	}
	out := &model.Order{
		OrderID:        strconv.FormatInt(o.ID, 10),
		OrderName:      o.Name,
		Email:          o.Email,
		FirstName:      addr.FirstName,
		LastName:       addr.LastName,
		StreetAddress1: addr.Address1,
		StreetAddress2: addr.Address2,
		City:           addr.City,
		State:          firstNonEmpty(addr.ProvinceCode, addr.Province),
		Zip:            addr.Zip,
		Country:        firstNonEmpty(addr.CountryCode, addr.Country),
		Phone:          phone,
		Currency:       o.Currency,
		TotalPrice:     model.NormalizePrice(o.TotalPrice),
		SubTotalPrice:  model.NormalizePrice(o.SubtotalPrice),
		TotalDiscounts: model.NormalizePrice(o.TotalDiscounts),
		TotalTax:       model.NormalizePrice(o.TotalTax),
		LineItems:      make([]model.LineItem, 0, len(o.LineItems)),
	}
	if out.SubTotalPrice == "" {
		out.SubTotalPrice = lineSubtotal(o.LineItems)
	}
	for _, li := range o.LineItems {
		item := model.LineItem{
			Quantity: li.Quantity,
			Price:    model.NormalizePrice(li.Price),
			Name:     firstNonEmpty(li.Name, li.Title),
			SKU:      li.SKU,
		}
		if li.ProductID != nil {
			item.ProductID = strconv.FormatInt(*li.ProductID, 10)
		}
		if li.VariantID != nil {
			item.VariantID = strconv.FormatInt(*li.VariantID, 10)
		}
		out.LineItems = append(out.LineItems, item)
	}
	return out
}

func lineSubtotal(lines []restLine) string {
	total := decimal.Zero
	for _, li := range lines {
		p, err := decimal.NewFromString(li.Price)
		if err != nil {
			continue
		}
		total = total.Add(p.Mul(decimal.NewFromInt(int64(li.Quantity))))
	}
	return total.StringFixed(2)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
