// Package linking routes orders to channels through a shop's ranked Links.
package linking

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/filter"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// NoLinkMessage is recorded on an order that no link accepted.
const NoLinkMessage = "No matching link found for this order"

// ErrNoLink is returned by Apply after recording NoLinkMessage on the order.
var ErrNoLink = errors.New("linking: no matching link")

// Result lists the links an order satisfied and the cart items created for them.
type Result struct {
	Links []model.Link
	Items []model.CartItem
}

type Resolver struct {
	store  store.Store
	eval   *filter.Evaluator
	logger *zap.Logger
}

func New(st store.Store, eval *filter.Evaluator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: st, eval: eval, logger: logger}
}

// HasLinks reports whether the shop has at least one link.
func (r *Resolver) HasLinks(ctx context.Context, shopID string) (bool, error) {
	links, err := r.store.ListLinks(ctx, shopID)
	if err != nil {
		return false, err
	}
	return len(links) > 0, nil
}

// Resolve returns the shop's links the order satisfies, in rank order.
// Sequential shops stop at the first; simultaneous shops collect all.
// A link whose filter cannot be compiled is logged and skipped.
func (r *Resolver) Resolve(ctx context.Context, order *model.Order, shop *model.Shop) ([]model.Link, error) {
	links, err := r.store.ListLinks(ctx, shop.ID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	var matched []model.Link
	for _, l := range links {
		where, err := filter.WhereFor(&l)
		if err != nil {
			r.logger.Warn("invalid link filter", zap.String("link_id", l.ID), zap.Error(err))
			continue
		}
		ok, err := r.eval.Matches(where, order)
		if err != nil {
			r.logger.Warn("link filter failed", zap.String("link_id", l.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		matched = append(matched, l)
		if shop.LinkMode != model.LinkModeSimultaneous {
			break
		}
	}
	return matched, nil
}

// Apply resolves links and creates one CartItem per line item for every
// matched link. With no match the order gets NoLinkMessage and PENDING, and
// ErrNoLink is returned.
func (r *Resolver) Apply(ctx context.Context, order *model.Order, shop *model.Shop) (*Result, error) {
	links, err := r.Resolve(ctx, order, shop)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		if err := r.store.SetOrderState(ctx, order.ID, model.OrderStatusPending, NoLinkMessage); err != nil {
			return nil, fmt.Errorf("record link error: %w", err)
		}
		order.Status, order.Error = model.OrderStatusPending, NoLinkMessage
		return &Result{}, ErrNoLink
	}

	items := make([]model.CartItem, 0, len(links)*len(order.LineItems))
	for _, l := range links {
		for _, li := range order.LineItems {
			items = append(items, model.CartItem{
				OrderID:    order.ID,
				ChannelID:  l.ChannelID,
				UserID:     order.UserID,
				LineItemID: li.ID,
				ProductID:  li.ProductID,
				VariantID:  li.VariantID,
				Quantity:   li.Quantity,
				Price:      li.Price,
				Name:       li.Name,
				Image:      li.Image,
				SKU:        li.SKU,
				Status:     model.CartItemStatusPending,
			})
		}
	}

	res := &Result{Links: links}
	if len(items) == 0 {
		return res, nil
	}
	created, err := r.store.CreateCartItems(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("create cart items: %w", err)
	}
	res.Items = created
	r.logger.Debug("order linked",
		zap.String("order_id", order.ID),
		zap.Int("links", len(links)),
		zap.Int("cart_items", len(created)),
	)
	return res, nil
}
