// Package orders creates orders and applies platform webhooks to them.
// Every creation runs the routing lifecycle exactly once.
package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/lifecycle"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// Ingestor parses and verifies inbound platform webhooks.
type Ingestor interface {
	HandleCreateOrder(ctx context.Context, ep executor.Endpoint, body []byte, headers http.Header) (*model.Order, error)
	HandleCancelOrder(ctx context.Context, ep executor.Endpoint, body []byte, headers http.Header) (*adapter.CancelOrderEvent, error)
	HandleCreateTracking(ctx context.Context, ep executor.Endpoint, body []byte, headers http.Header) (*adapter.TrackingEvent, error)
	HandleCancelPurchase(ctx context.Context, ep executor.Endpoint, body []byte, headers http.Header) (*adapter.CancelPurchaseEvent, error)
}

type Service struct {
	store  store.Store
	hook   *lifecycle.Hook
	ingest Ingestor
	logger *zap.Logger
}

func New(st store.Store, hook *lifecycle.Hook, ingest Ingestor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, hook: hook, ingest: ingest, logger: logger}
}

// Create stores the order with its line and cart items, then routes it.
// Routing failures are recorded on the returned order, not returned.
func (s *Service) Create(ctx context.Context, o *model.Order) (*model.Order, error) {
	if o.UserID == "" {
		return nil, model.NewValidationError("userId", "is required")
	}
	for i, li := range o.LineItems {
		if li.ProductID == "" || li.Quantity <= 0 {
			return nil, model.NewValidationError(fmt.Sprintf("lineItems[%d]", i), "productId and a positive quantity are required")
		}
	}
	if o.ShopID != "" {
		shop, err := s.store.GetShop(ctx, o.ShopID)
		if err != nil {
			return nil, notFound(err, "shop")
		}
		if shop.UserID != o.UserID {
			return nil, model.NewNotFoundError("shop")
		}
	}
	if err := s.checkCartItems(ctx, o); err != nil {
		return nil, err
	}

	plan, err := s.hook.Plan(ctx, o)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatusPending
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("shop_id", o.ShopID),
		zap.Stringer("mode", plan.Mode),
	)
	return s.hook.Run(ctx, o, plan), nil
}

// checkCartItems validates cart items submitted with an order. Every channel
// must belong to the order's user.
func (s *Service) checkCartItems(ctx context.Context, o *model.Order) error {
	owned := make(map[string]bool)
	for i := range o.CartItems {
		ci := &o.CartItems[i]
		field := fmt.Sprintf("cartItems[%d]", i)
		if ci.ChannelID == "" || ci.ProductID == "" || ci.Quantity <= 0 {
			return model.NewValidationError(field, "channelId, productId and a positive quantity are required")
		}
		if !owned[ci.ChannelID] {
			ch, err := s.store.GetChannel(ctx, ci.ChannelID)
			if err != nil {
				return notFound(err, "channel")
			}
			if ch.UserID != o.UserID {
				return model.NewNotFoundError("channel")
			}
			owned[ci.ChannelID] = true
		}
		ci.ID, ci.OrderID, ci.UserID = "", "", o.UserID
	}
	return nil
}

// === Shop webhooks ===

// ShopCreateOrder ingests an order webhook. Redelivery of an order already
// stored for the shop returns the stored order and created=false.
func (s *Service) ShopCreateOrder(ctx context.Context, shopID string, body []byte, headers http.Header) (order *model.Order, created bool, err error) {
	shop, err := s.store.GetShop(ctx, shopID)
	if err != nil {
		return nil, false, notFound(err, "shop")
	}
	incoming, err := s.ingest.HandleCreateOrder(ctx, executor.ShopEndpoint(shop), body, headers)
	if err != nil {
		return nil, false, err
	}

	if incoming.OrderID != "" {
		existing, err := s.store.FindOrderByShopOrderID(ctx, shop.ID, incoming.OrderID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	incoming.ID = ""
	incoming.ShopID = shop.ID
	incoming.UserID = shop.UserID
	// platform payloads carry no routing flags; all three default on
	if !incoming.LinkOrder && !incoming.MatchOrder && !incoming.ProcessOrder {
		incoming.LinkOrder, incoming.MatchOrder, incoming.ProcessOrder = true, true, true
	}
	o, err := s.Create(ctx, incoming)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// ShopCancelOrder marks the shop's order CANCELLED.
func (s *Service) ShopCancelOrder(ctx context.Context, shopID string, body []byte, headers http.Header) (*model.Order, error) {
	shop, err := s.store.GetShop(ctx, shopID)
	if err != nil {
		return nil, notFound(err, "shop")
	}
	ev, err := s.ingest.HandleCancelOrder(ctx, executor.ShopEndpoint(shop), body, headers)
	if err != nil {
		return nil, err
	}
	o, err := s.store.FindOrderByShopOrderID(ctx, shop.ID, ev.OrderID)
	if err != nil {
		return nil, notFound(err, "order")
	}
	if err := s.store.SetOrderStatus(ctx, o.ID, model.OrderStatusCancelled); err != nil {
		return nil, err
	}
	s.logger.Info("order cancelled by shop", zap.String("order_id", o.ID))
	return s.store.GetOrder(ctx, o.ID)
}

// === Channel webhooks ===

// ChannelCreateTracking records tracking for a purchase. Once every active
// cart item of the order has tracking the order is COMPLETE.
func (s *Service) ChannelCreateTracking(ctx context.Context, channelID string, body []byte, headers http.Header) (*model.TrackingDetail, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	ev, err := s.ingest.HandleCreateTracking(ctx, executor.ChannelEndpoint(ch), body, headers)
	if err != nil {
		return nil, err
	}
	items, err := s.store.CartItemsByPurchase(ctx, ch.ID, ev.PurchaseID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, model.NewNotFoundError("purchase " + ev.PurchaseID)
	}

	td := &model.TrackingDetail{
		OrderID:         items[0].OrderID,
		PurchaseID:      ev.PurchaseID,
		TrackingCompany: ev.TrackingCompany,
		TrackingNumber:  ev.TrackingNumber,
	}
	if err := s.store.CreateTrackingDetail(ctx, td); err != nil {
		return nil, err
	}
	if err := s.completeIfTracked(ctx, td.OrderID); err != nil {
		return nil, err
	}
	return td, nil
}

func (s *Service) completeIfTracked(ctx context.Context, orderID string) error {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status.IsTerminal() {
		return nil
	}
	tracked, err := s.store.TrackedPurchaseIDs(ctx, orderID)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(tracked))
	for _, id := range tracked {
		set[id] = true
	}
	active := 0
	for _, ci := range o.CartItems {
		if ci.Status == model.CartItemStatusCancelled {
			continue
		}
		active++
		if ci.PurchaseID == "" || !set[ci.PurchaseID] {
			return nil
		}
	}
	if active == 0 {
		return nil
	}
	s.logger.Info("order fully tracked", zap.String("order_id", orderID))
	return s.store.SetOrderStatus(ctx, orderID, model.OrderStatusComplete)
}

// ChannelCancelPurchase cancels the purchase's cart items and returns the
// affected orders to PENDING.
func (s *Service) ChannelCancelPurchase(ctx context.Context, channelID string, body []byte, headers http.Header) ([]model.CartItem, error) {
	ch, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, notFound(err, "channel")
	}
	ev, err := s.ingest.HandleCancelPurchase(ctx, executor.ChannelEndpoint(ch), body, headers)
	if err != nil {
		return nil, err
	}
	items, err := s.store.CancelCartItemsByPurchase(ctx, ch.ID, ev.PurchaseID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, model.NewNotFoundError("purchase " + ev.PurchaseID)
	}

	seen := make(map[string]bool)
	for _, ci := range items {
		if seen[ci.OrderID] {
			continue
		}
		seen[ci.OrderID] = true
		o, err := s.store.GetOrder(ctx, ci.OrderID)
		if err != nil {
			return nil, err
		}
		if o.Status.IsTerminal() {
			continue
		}
		if err := s.store.SetOrderStatus(ctx, o.ID, model.OrderStatusPending); err != nil {
			return nil, err
		}
	}
	s.logger.Info("purchase cancelled by channel", zap.String("purchase_id", ev.PurchaseID), zap.Int("items", len(items)))
	return items, nil
}

func notFound(err error, resource string) error {
	if errors.Is(err, store.ErrNotFound) {
		return model.NewNotFoundError(resource)
	}
	return err
}
