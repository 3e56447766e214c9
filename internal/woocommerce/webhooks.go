package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/webhooksig"
)

// Webhook delivery headers.
const (
	SignatureHeader = "X-WC-Webhook-Signature"
	TopicHeader     = "X-WC-Webhook-Topic"
)

// trackingMetaKey is where the Shipment Tracking extension stores tracking.
const trackingMetaKey = "_wc_shipment_tracking_items"

// HandleCreateOrder ingests an order.created delivery.
func (c *Client) HandleCreateOrder(ctx context.Context, ev *adapter.WebhookEvent) (*model.Order, error) {
	o, err := c.verifiedOrder(ev)
	if err != nil {
		return nil, err
	}
	return transformOrder(o), nil
}

// HandleCancelOrder reports a shop order whose status became cancelled.
func (c *Client) HandleCancelOrder(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.CancelOrderEvent, error) {
	o, err := c.verifiedOrder(ev)
	if err != nil {
		return nil, err
	}
	if o.Status != "cancelled" {
		return nil, fmt.Errorf("order %d status %q: %w", o.ID, o.Status, adapter.ErrIgnoredEvent)
	}
	return &adapter.CancelOrderEvent{OrderID: strconv.Itoa(o.ID)}, nil
}

// HandleCreateTracking reads Shipment Tracking meta from a supplier order
// update. The purchase id is the supplier order id.
func (c *Client) HandleCreateTracking(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.TrackingEvent, error) {
	o, err := c.verifiedOrder(ev)
	if err != nil {
		return nil, err
	}
	item, ok := latestTracking(o.MetaData)
	if !ok {
		return nil, fmt.Errorf("order %d has no tracking: %w", o.ID, adapter.ErrIgnoredEvent)
	}
	company := item.TrackingProvider
	if company == "" {
		company = item.CustomTrackingProvider
	}
	return &adapter.TrackingEvent{
		PurchaseID:      strconv.Itoa(o.ID),
		TrackingCompany: company,
		TrackingNumber:  item.TrackingNumber,
	}, nil
}

// HandleCancelPurchase reports a supplier order whose status became cancelled.
func (c *Client) HandleCancelPurchase(ctx context.Context, ev *adapter.WebhookEvent) (*adapter.CancelPurchaseEvent, error) {
	o, err := c.verifiedOrder(ev)
	if err != nil {
		return nil, err
	}
	if o.Status != "cancelled" {
		return nil, fmt.Errorf("order %d status %q: %w", o.ID, o.Status, adapter.ErrIgnoredEvent)
	}
	return &adapter.CancelPurchaseEvent{PurchaseID: strconv.Itoa(o.ID)}, nil
}

// verifiedOrder checks the delivery signature and decodes the order body.
// The ping WooCommerce sends on registration is form-encoded and ignored.
func (c *Client) verifiedOrder(ev *adapter.WebhookEvent) (*WooOrder, error) {
	_, secret, err := credentials(ev.Platform)
	if err != nil {
		return nil, err
	}
	if err := webhooksig.VerifyHMACBase64(webhookSecret(ev.Platform, secret), ev.Event, ev.Headers.Get(SignatureHeader)); err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(ev.Event)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("non-JSON delivery: %w", adapter.ErrIgnoredEvent)
	}
	var o WooOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return nil, model.NewValidationError("event", "invalid WooCommerce order payload")
	}
	if o.ID == 0 {
		return nil, model.NewValidationError("event", "order id is missing")
	}
	return &o, nil
}

// latestTracking returns the last tracking entry in the order meta.
func latestTracking(meta []WooMeta) (WooTrackingItem, bool) {
	for _, m := range meta {
		if m.Key != trackingMetaKey {
			continue
		}
		var items []WooTrackingItem
		if err := json.Unmarshal(m.Value, &items); err != nil || len(items) == 0 {
			return WooTrackingItem{}, false
		}
		last := items[len(items)-1]
		return last, last.TrackingNumber != ""
	}
	return WooTrackingItem{}, false
}
