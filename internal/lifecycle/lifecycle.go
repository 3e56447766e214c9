// Package lifecycle runs the routing pipeline for a newly created order:
// build its cart by links, matches or as given, then optionally place it.
//
// Run never fails order creation. Any error or panic inside a branch is
// recorded on the order with status PENDING.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/linking"
	"github.com/openshiporg/openship-sub005/internal/matching"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/placement"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/store"
)

type Hook struct {
	store   store.Store
	links   *linking.Resolver
	matches *matching.Matcher
	carts   *cart.Materializer
	placer  *placement.Pipeline
	logger  *zap.Logger
}

func New(st store.Store, links *linking.Resolver, matches *matching.Matcher, carts *cart.Materializer, placer *placement.Pipeline, logger *zap.Logger) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{store: st, links: links, matches: matches, carts: carts, placer: placer, logger: logger}
}

// Plan decides the routing plan for an order.
func (h *Hook) Plan(ctx context.Context, o *model.Order) (Plan, error) {
	hasLinks := false
	if o.LinkOrder && o.ShopID != "" {
		var err error
		hasLinks, err = h.links.HasLinks(ctx, o.ShopID)
		if err != nil {
			return Plan{}, fmt.Errorf("count links: %w", err)
		}
	}
	return PlanFor(o, hasLinks), nil
}

// Run executes plan for a stored order and returns its resulting state.
func (h *Hook) Run(ctx context.Context, order *model.Order, plan Plan) *model.Order {
	log := h.logger.With(zap.String("order_id", order.ID), zap.Stringer("mode", plan.Mode), zap.Bool("auto_place", plan.AutoPlace))

	h.guard(ctx, order, log, func() error {
		switch plan.Mode {
		case ModeLinkBased:
			return h.runLinks(ctx, order, plan)
		case ModeMatchBased:
			return h.runMatches(ctx, order, plan)
		default:
			return h.runDirect(ctx, order, plan)
		}
	})

	final, err := h.store.GetOrder(ctx, order.ID)
	if err != nil {
		log.Error("failed to reload order", zap.Error(err))
		return order
	}
	return final
}

// guard runs fn and records any error or panic on the order.
func (h *Hook) guard(ctx context.Context, order *model.Order, log *zap.Logger, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in order routing", zap.Any("panic", r))
			h.fail(ctx, order, log, routeerr.Unknown(fmt.Sprint(r)))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("order routing failed", zap.Error(err))
		h.fail(ctx, order, log, ClassifyError(err))
	}
}

func (h *Hook) fail(ctx context.Context, order *model.Order, log *zap.Logger, e routeerr.Error) {
	msg := e.String()
	if err := h.store.SetOrderState(ctx, order.ID, model.OrderStatusPending, msg); err != nil {
		log.Error("failed to record routing error", zap.Error(err))
		return
	}
	order.Status, order.Error = model.OrderStatusPending, msg
}

// ClassifyError maps an unexpected pipeline error onto the taxonomy.
func ClassifyError(err error) routeerr.Error {
	if executor.IsNetwork(err) {
		return routeerr.Network(executor.ErrorMessage(err))
	}
	if errors.Is(err, placement.ErrBusy) {
		return routeerr.Placement(err.Error())
	}
	return routeerr.Unknown(executor.ErrorMessage(err))
}

func (h *Hook) runLinks(ctx context.Context, order *model.Order, plan Plan) error {
	shop, err := h.store.GetShop(ctx, order.ShopID)
	if err != nil {
		return fmt.Errorf("load shop: %w", err)
	}
	res, err := h.links.Apply(ctx, order, shop)
	if errors.Is(err, linking.ErrNoLink) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(res.Items) > 0 && plan.AutoPlace {
		return h.place(ctx, order)
	}
	return nil
}

func (h *Hook) runMatches(ctx context.Context, order *model.Order, plan Plan) error {
	if err := h.matchToCart(ctx, order); err != nil {
		return err
	}
	if order.Error == "" && plan.AutoPlace {
		return h.place(ctx, order)
	}
	return nil
}

func (h *Hook) runDirect(ctx context.Context, order *model.Order, plan Plan) error {
	if len(order.CartItems) == 0 || !plan.AutoPlace {
		return nil
	}
	return h.place(ctx, order)
}

func (h *Hook) place(ctx context.Context, order *model.Order) error {
	_, err := h.placer.PlaceOrder(ctx, order.ID)
	return err
}

// matchToCart resolves matches and materializes them. A recorded
// MATCH_ERROR leaves order.Error set and returns nil.
func (h *Hook) matchToCart(ctx context.Context, order *model.Order) error {
	res, err := h.matches.Resolve(ctx, order)
	if errors.Is(err, matching.ErrNoMatch) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = h.carts.Materialize(ctx, order, res.Matches)
	return err
}

// AddMatchToCart reruns match resolution for an existing order, clearing a
// previous MATCH_ERROR first. Errors are recorded on the order as in Run.
// Orders that already have active cart items, or are AWAITING or finished,
// are refused with a conflict so their cart is never duplicated.
func (h *Hook) AddMatchToCart(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusAwaiting || order.Status.IsTerminal() {
		return nil, model.NewConflictError("order is " + string(order.Status))
	}
	for _, ci := range order.CartItems {
		if ci.Status != model.CartItemStatusCancelled {
			return nil, model.NewConflictError("order already has cart items")
		}
	}
	if e, ok := routeerr.Decode(order.Error); ok && e.Kind == routeerr.KindMatchError {
		if err := h.store.SetOrderError(ctx, order.ID, ""); err != nil {
			return nil, err
		}
		order.Error = ""
	}
	log := h.logger.With(zap.String("order_id", order.ID))
	h.guard(ctx, order, log, func() error { return h.matchToCart(ctx, order) })
	return h.store.GetOrder(ctx, order.ID)
}
