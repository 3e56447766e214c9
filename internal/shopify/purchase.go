package shopify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

const draftOrderCreateMutation = `mutation DraftOrderCreate($input: DraftOrderInput!) {
	draftOrderCreate(input: $input) {
		draftOrder { id }
		userErrors { field message }
	}
}`

const draftOrderCompleteMutation = `mutation DraftOrderComplete($id: ID!) {
	draftOrderComplete(id: $id, paymentPending: true) {
		draftOrder {
			order {
				id
				name
				totalPriceSet { shopMoney { amount } }
				lineItems(first: 100) {
					edges { node { id title quantity sku variant { id price product { id } } } }
				}
			}
		}
		userErrors { field message }
	}
}`

const orderUpdateMutation = `mutation OrderUpdate($input: OrderInput!) {
	orderUpdate(input: $input) {
		order { id }
		userErrors { field message }
	}
}`

// CreatePurchase places an order on the supplier store by creating and
// completing a draft order with payment pending.
func (c *Client) CreatePurchase(ctx context.Context, req *adapter.CreatePurchaseRequest) (*adapter.PurchaseResult, error) {
	if len(req.CartItems) == 0 {
		return nil, model.NewValidationError("cartItems", "at least one item is required")
	}

	lines := make([]map[string]any, 0, len(req.CartItems))
	for i, ci := range req.CartItems {
		if ci.VariantID == "" {
			return nil, model.NewValidationError(fmt.Sprintf("cartItems[%d].variantId", i), "is required")
		}
		qty := ci.Quantity
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, map[string]any{"variantId": gid("ProductVariant", ci.VariantID), "quantity": qty})
	}
	s := req.Shipping
	input := map[string]any{
		"lineItems": lines,
		"note":      req.Notes,
		"shippingAddress": map[string]any{
			"firstName": s.FirstName,
			"lastName":  s.LastName,
			"address1":  s.Address1,
			"address2":  s.Address2,
			"city":      s.City,
			"province":  s.Province,
			"zip":       s.Zip,
			"country":   s.Country,
			"phone":     s.Phone,
		},
	}
	if s.Email != "" {
		input["email"] = s.Email
	}

	var created struct {
		DraftOrderCreate struct {
			DraftOrder *struct {
				ID string `json:"id"`
			} `json:"draftOrder"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"draftOrderCreate"`
	}
	if err := c.graphql(ctx, req.Platform, draftOrderCreateMutation, map[string]any{"input": input}, &created); err != nil {
		return nil, err
	}
	if err := userErrorsErr(created.DraftOrderCreate.UserErrors); err != nil {
		return &adapter.PurchaseResult{Status: "error", Error: err.Error()}, nil
	}
	if created.DraftOrderCreate.DraftOrder == nil {
		return &adapter.PurchaseResult{Status: "error", Error: "draft order was not created"}, nil
	}

	var completed struct {
		DraftOrderComplete struct {
			DraftOrder *struct {
				Order *completedOrder `json:"order"`
			} `json:"draftOrder"`
			UserErrors []UserError `json:"userErrors"`
		} `json:"draftOrderComplete"`
	}
	draftID := created.DraftOrderCreate.DraftOrder.ID
	if err := c.graphql(ctx, req.Platform, draftOrderCompleteMutation, map[string]any{"id": draftID}, &completed); err != nil {
		return nil, err
	}
	if err := userErrorsErr(completed.DraftOrderComplete.UserErrors); err != nil {
		return &adapter.PurchaseResult{Status: "error", Error: err.Error()}, nil
	}
	d := completed.DraftOrderComplete.DraftOrder
	if d == nil || d.Order == nil {
		return &adapter.PurchaseResult{Status: "error", Error: "draft order " + legacyID(draftID) + " was not completed"}, nil
	}

	res := d.Order.result(req.Platform.Domain)
	c.logger.Info("shopify order created",
		zap.String("domain", req.Platform.Domain),
		zap.String("purchase_id", res.PurchaseID),
	)
	return res, nil
}

type completedOrder struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TotalPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shopMoney"`
	} `json:"totalPriceSet"`
	LineItems struct {
		Edges []struct {
			Node struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Quantity int    `json:"quantity"`
				SKU      string `json:"sku"`
				Variant  *struct {
					ID      string `json:"id"`
					Price   string `json:"price"`
					Product struct {
						ID string `json:"id"`
					} `json:"product"`
				} `json:"variant"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

func (o *completedOrder) result(domain string) *adapter.PurchaseResult {
	id := legacyID(o.ID)
	res := &adapter.PurchaseResult{
		PurchaseID:  id,
		OrderNumber: o.Name,
		TotalPrice:  model.NormalizePrice(o.TotalPriceSet.ShopMoney.Amount),
		URL:         shopURL(domain) + "/admin/orders/" + id,
		Status:      "placed",
	}
	for _, e := range o.LineItems.Edges {
		n := e.Node
		item := adapter.PurchaseItem{ID: legacyID(n.ID), Name: n.Title, Quantity: n.Quantity, SKU: n.SKU}
		if n.Variant != nil {
			item.VariantID = legacyID(n.Variant.ID)
			item.ProductID = legacyID(n.Variant.Product.ID)
			item.Price = model.NormalizePrice(n.Variant.Price)
		}
		res.LineItems = append(res.LineItems, item)
	}
	return res
}

// purchaseMetafield is the order metafield written by AddCartToPlatformOrder.
type purchaseMetafield struct {
	ChannelID  string `json:"channelId"`
	ProductID  string `json:"productId"`
	VariantID  string `json:"variantId,omitempty"`
	Quantity   int    `json:"quantity"`
	PurchaseID string `json:"purchaseId,omitempty"`
	URL        string `json:"url,omitempty"`
}

// AddCartToPlatformOrder writes the placed purchases to the shop order's
// openship.purchases metafield.
func (c *Client) AddCartToPlatformOrder(ctx context.Context, req *adapter.AddCartRequest) (*adapter.AddCartResult, error) {
	if req.OrderID == "" {
		return nil, model.NewValidationError("orderId", "is required")
	}
	entries := make([]purchaseMetafield, 0, len(req.CartItems))
	for _, ci := range req.CartItems {
		entries = append(entries, purchaseMetafield{
			ChannelID:  ci.ChannelID,
			ProductID:  ci.ProductID,
			VariantID:  ci.VariantID,
			Quantity:   ci.Quantity,
			PurchaseID: ci.PurchaseID,
			URL:        ci.URL,
		})
	}
	value, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	input := map[string]any{
		"id": gid("Order", req.OrderID),
		"metafields": []map[string]any{{
			"namespace": "openship",
			"key":       "purchases",
			"type":      "json",
			"value":     string(value),
		}},
	}

	var data struct {
		OrderUpdate struct {
			UserErrors []UserError `json:"userErrors"`
		} `json:"orderUpdate"`
	}
	if err := c.graphql(ctx, req.Platform, orderUpdateMutation, map[string]any{"input": input}, &data); err != nil {
		return nil, err
	}
	if err := userErrorsErr(data.OrderUpdate.UserErrors); err != nil {
		return nil, err
	}
	return &adapter.AddCartResult{Success: true}, nil
}
