package woocommerce

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// transformProduct converts a WooCommerce product to the normalized Product.
// For a variation, parent supplies the product id and fallback fields.
func transformProduct(p *WooProduct, parent *WooProduct) model.Product {
	out := model.Product{
		ProductID:        strconv.Itoa(p.ID),
		Title:            p.Name,
		Price:            model.NormalizePrice(p.Price),
		Image:            productImage(p),
		ProductLink:      p.Permalink,
		AvailableForSale: p.Purchasable && p.StockStatus != "outofstock",
		InventoryTracked: p.ManageStock,
	}
	if p.ManageStock {
		out.Inventory = p.StockQuantity
	}
	if parent != nil {
		out.ProductID = strconv.Itoa(parent.ID)
		out.VariantID = strconv.Itoa(p.ID)
		if out.Title == "" {
			out.Title = parent.Name
		}
		if out.Image == "" {
			out.Image = productImage(parent)
		}
		if out.ProductLink == "" {
			out.ProductLink = parent.Permalink
		}
	}
	return out
}

// productImage returns the variation image or the first gallery image.
func productImage(p *WooProduct) string {
	if p.Image != nil && p.Image.Src != "" {
		return p.Image.Src
	}
	if len(p.Images) > 0 {
		return p.Images[0].Src
	}
	return ""
}

// buildOrderRequest converts a purchase into a WooCommerce order body.
func buildOrderRequest(req *adapter.CreatePurchaseRequest) (*WooOrderRequest, error) {
	items := make([]WooLineItem, 0, len(req.CartItems))
	for i, ci := range req.CartItems {
		pid, err := strconv.Atoi(ci.ProductID)
		if err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("cartItems[%d].productId", i), "must be a WooCommerce product id")
		}
		li := WooLineItem{ProductID: pid, Quantity: ci.Quantity}
		if ci.VariantID != "" && ci.VariantID != ci.ProductID {
			vid, err := strconv.Atoi(ci.VariantID)
			if err != nil {
				return nil, model.NewValidationError(fmt.Sprintf("cartItems[%d].variantId", i), "must be a WooCommerce variation id")
			}
			li.VariationID = vid
		}
		if li.Quantity <= 0 {
			li.Quantity = 1
		}
		items = append(items, li)
	}

	addr := wooAddress(req.Shipping)
	billing := addr
	billing.Email = req.Shipping.Email
	billing.Phone = req.Shipping.Phone
	return &WooOrderRequest{
		Status:       "processing",
		Billing:      billing,
		Shipping:     addr,
		LineItems:    items,
		CustomerNote: req.Notes,
	}, nil
}

func wooAddress(s adapter.Shipping) WooAddress {
	return WooAddress{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Address1:  s.Address1,
		Address2:  s.Address2,
		City:      s.City,
		State:     s.Province,
		Postcode:  s.Zip,
		Country:   s.Country,
	}
}

// transformPurchase converts the created order into a purchase result.
func transformPurchase(domain string, o *WooOrder) *adapter.PurchaseResult {
	id := strconv.Itoa(o.ID)
	res := &adapter.PurchaseResult{
		PurchaseID:  id,
		OrderNumber: o.Number,
		TotalPrice:  model.NormalizePrice(o.Total),
		URL:         storeURL(domain) + "/wp-admin/post.php?post=" + id + "&action=edit",
		Status:      o.Status,
		LineItems:   make([]adapter.PurchaseItem, 0, len(o.LineItems)),
	}
	for _, li := range o.LineItems {
		item := adapter.PurchaseItem{
			ID:        strconv.Itoa(li.ID),
			ProductID: strconv.Itoa(li.ProductID),
			Quantity:  li.Quantity,
			Price:     unitPrice(&li),
			Name:      li.Name,
			SKU:       li.SKU,
		}
		if li.VariationID != 0 {
			item.VariantID = strconv.Itoa(li.VariationID)
		}
		res.LineItems = append(res.LineItems, item)
	}
	return res
}

// transformOrder converts an order webhook payload to an Order. Shipping
// fields fall back to billing when the order has no shipping address.
func transformOrder(o *WooOrder) *model.Order {
	addr := o.Shipping
	if addr.Address1 == "" && addr.City == "" {
		addr = o.Billing
	}
	out := &model.Order{
		OrderID:        strconv.Itoa(o.ID),
		OrderName:      "#" + o.Number,
		Email:          o.Billing.Email,
		FirstName:      addr.FirstName,
		LastName:       addr.LastName,
		StreetAddress1: addr.Address1,
		StreetAddress2: addr.Address2,
		City:           addr.City,
		State:          addr.State,
		Zip:            addr.Postcode,
		Country:        addr.Country,
		Phone:          o.Billing.Phone,
		Currency:       o.Currency,
		TotalPrice:     model.NormalizePrice(o.Total),
		TotalDiscounts: model.NormalizePrice(o.DiscountTotal),
		TotalTax:       model.NormalizePrice(o.TotalTax),
		LineItems:      make([]model.LineItem, 0, len(o.LineItems)),
	}

	subtotal := decimal.Zero
	for _, li := range o.LineItems {
		if d, err := decimal.NewFromString(li.Subtotal); err == nil {
			subtotal = subtotal.Add(d)
		}
		item := model.LineItem{
			ProductID: strconv.Itoa(li.ProductID),
			Quantity:  li.Quantity,
			Price:     unitPrice(&li),
			Name:      li.Name,
			SKU:       li.SKU,
		}
		if li.VariationID != 0 {
			item.VariantID = strconv.Itoa(li.VariationID)
		}
		if li.Image != nil {
			item.Image = li.Image.Src
		}
		out.LineItems = append(out.LineItems, item)
	}
	out.SubTotalPrice = subtotal.StringFixed(2)
	return out
}

// unitPrice prefers the line's unit price and otherwise divides the total.
func unitPrice(li *WooLineItem) string {
	if li.Price > 0 {
		return decimal.NewFromFloat(li.Price).StringFixed(2)
	}
	total, err := decimal.NewFromString(li.Total)
	if err != nil || li.Quantity <= 0 {
		return model.NormalizePrice(li.Total)
	}
	return total.Div(decimal.NewFromInt(int64(li.Quantity))).StringFixed(2)
}

func transformWebhook(w *WooWebhook) adapter.Webhook {
	return adapter.Webhook{
		ID:          strconv.Itoa(w.ID),
		CallbackURL: w.DeliveryURL,
		Topic:       w.Topic,
		CreatedAt:   w.DateCreated,
	}
}

// topicAliases maps platform-neutral event names onto WooCommerce topics.
// Cancellations and tracking both arrive as order updates.
var topicAliases = map[string]string{
	"ORDER_CREATED":      "order.created",
	"ORDER_CANCELLED":    "order.updated",
	"TRACKING_CREATED":   "order.updated",
	"PURCHASE_CANCELLED": "order.updated",
}

// topicsFor resolves event names to WooCommerce topics, dropping duplicates.
func topicsFor(events []string) []string {
	seen := make(map[string]bool, len(events))
	topics := make([]string, 0, len(events))
	for _, ev := range events {
		topic, ok := topicAliases[strings.ToUpper(ev)]
		if !ok {
			topic = strings.ToLower(ev)
		}
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}

// cartNote renders placed cart items as an order note.
func cartNote(items []model.CartItem) string {
	var b strings.Builder
	b.WriteString("Fulfilled via Openship:")
	for _, ci := range items {
		fmt.Fprintf(&b, "\n- %s x%d", itemLabel(&ci), ci.Quantity)
		if ci.PurchaseID != "" {
			fmt.Fprintf(&b, " (purchase %s)", ci.PurchaseID)
		}
		if ci.URL != "" {
			fmt.Fprintf(&b, " %s", ci.URL)
		}
	}
	return b.String()
}

func itemLabel(ci *model.CartItem) string {
	if ci.Name != "" {
		return ci.Name
	}
	if ci.VariantID != "" {
		return ci.ProductID + ":" + ci.VariantID
	}
	return ci.ProductID
}
