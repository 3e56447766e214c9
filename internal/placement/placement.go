// Package placement submits an order's unplaced cart items to their channels.
//
// Orders in a batch are independent and may run concurrently up to the
// configured limit. Channels within one order run strictly in sequence,
// because the order status is recomputed from the unplaced count after each.
package placement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/lock"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// ErrBusy is returned when another placement holds the order.
var ErrBusy = errors.New("placement: order is already being placed")

// Purchaser is the slice of the executor placement needs.
type Purchaser interface {
	CreatePurchase(ctx context.Context, ep executor.Endpoint, items []adapter.PurchaseItem, shipping adapter.Shipping, notes string) (*adapter.PurchaseResult, error)
	AddCartToPlatformOrder(ctx context.Context, ep executor.Endpoint, orderID string, items []model.CartItem) (*adapter.AddCartResult, error)
}

// Processed is one entry of a batch result. Order is the state after
// placement, with cart items; Error is set when the order could not be
// processed at all.
type Processed struct {
	OrderID string       `json:"orderId"`
	Order   *model.Order `json:"order,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type Options struct {
	// Concurrency bounds orders placed at once. Values below 1 mean 1.
	Concurrency int
	Locker      lock.Locker
	Logger      *zap.Logger
}

type Pipeline struct {
	store       store.Store
	purchaser   Purchaser
	locker      lock.Locker
	concurrency int
	logger      *zap.Logger
}

func New(st store.Store, purchaser Purchaser, opts Options) *Pipeline {
	p := &Pipeline{
		store:       st,
		purchaser:   purchaser,
		locker:      opts.Locker,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if p.locker == nil {
		p.locker = lock.NewMemory()
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// PlaceOrders places every order and returns one entry per id, in input
// order. A failure on one order never affects the others.
func (p *Pipeline) PlaceOrders(ctx context.Context, ids []string) []Processed {
	results := make([]Processed, len(ids))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("panic placing order", zap.String("order_id", id), zap.Any("panic", r))
					results[i] = p.failed(ctx, id, routeerr.Unknown(fmt.Sprint(r)).String())
				}
			}()
			results[i] = p.placeOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) placeOne(ctx context.Context, id string) Processed {
	order, err := p.PlaceOrder(ctx, id)
	switch {
	case err == nil:
		return Processed{OrderID: id, Order: order}
	case errors.Is(err, ErrBusy):
		return p.failed(ctx, id, routeerr.Placement(ErrBusy.Error()).String())
	default:
		p.logger.Warn("order placement failed", zap.String("order_id", id), zap.Error(err))
		return p.failed(ctx, id, routeerr.Unknown(err.Error()).String())
	}
}

// failed builds a result entry without writing anything; the order is
// attached when it can still be read.
func (p *Pipeline) failed(ctx context.Context, id, msg string) Processed {
	res := Processed{OrderID: id, Error: msg}
	if o, err := p.store.GetOrder(ctx, id); err == nil {
		res.Order = o
	}
	return res
}

// PlaceOrder places one order under its lock and returns its final state.
// Already-placed cart items are never resubmitted, and an order with nothing
// left to place keeps its status.
func (p *Pipeline) PlaceOrder(ctx context.Context, id string) (*model.Order, error) {
	release, err := p.locker.TryLock(ctx, "order:"+id)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	defer release()

	order, err := p.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		p.logger.Debug("skipping terminal order", zap.String("order_id", id), zap.String("status", string(order.Status)))
		return order, nil
	}

	unplaced, err := p.store.UnplacedCartItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load unplaced cart items: %w", err)
	}
	if len(unplaced) == 0 {
		return order, nil
	}

	shop := p.shop(ctx, order)
	for _, batch := range groupByChannel(unplaced) {
		p.placeBatch(ctx, order, batch)
		if err := p.recompute(ctx, order, shop); err != nil {
			return nil, err
		}
	}
	return p.store.GetOrder(ctx, id)
}

// shop loads the order's shop for the write-back; nil when unavailable.
func (p *Pipeline) shop(ctx context.Context, order *model.Order) *model.Shop {
	if order.ShopID == "" {
		return nil
	}
	s, err := p.store.GetShop(ctx, order.ShopID)
	if err != nil {
		p.logger.Warn("shop unavailable for order", zap.String("order_id", order.ID), zap.String("shop_id", order.ShopID), zap.Error(err))
		return nil
	}
	return s
}

type channelBatch struct {
	channelID string
	items     []model.CartItem
}

// groupByChannel keeps channels in first-seen order.
func groupByChannel(items []model.CartItem) []channelBatch {
	var batches []channelBatch
	index := make(map[string]int)
	for _, ci := range items {
		i, ok := index[ci.ChannelID]
		if !ok {
			i = len(batches)
			index[ci.ChannelID] = i
			batches = append(batches, channelBatch{channelID: ci.ChannelID})
		}
		batches[i].items = append(batches[i].items, ci)
	}
	return batches
}

// placeBatch submits one channel's items as a single purchase and records
// the outcome on every item of the batch. Errors are written, not returned.
func (p *Pipeline) placeBatch(ctx context.Context, order *model.Order, b channelBatch) {
	ids := make([]string, len(b.items))
	for i, ci := range b.items {
		ids[i] = ci.ID
	}
	log := p.logger.With(zap.String("order_id", order.ID), zap.String("channel_id", b.channelID))

	fail := func(detail string) {
		msg := routeerr.Placement(detail).String()
		if err := p.store.MarkCartItemsError(ctx, ids, msg); err != nil {
			log.Error("failed to record placement error", zap.Error(err))
		}
		log.Info("placement failed", zap.String("error", detail))
	}

	ch, err := p.store.GetChannel(ctx, b.channelID)
	if err != nil {
		fail("channel unavailable: " + err.Error())
		return
	}

	res, err := p.purchaser.CreatePurchase(ctx, executor.ChannelEndpoint(ch), purchaseItems(b.items), adapter.ShippingFor(order), "")
	switch {
	case err != nil:
		fail(executor.ErrorMessage(err))
	case res.Error != "":
		fail(res.Error)
	case res.PurchaseID == "":
		fail("channel returned no purchase id")
	default:
		if err := p.store.MarkCartItemsPlaced(ctx, ids, res.PurchaseID, res.URL); err != nil {
			log.Error("failed to record purchase", zap.String("purchase_id", res.PurchaseID), zap.Error(err))
			return
		}
		log.Info("purchase placed", zap.String("purchase_id", res.PurchaseID), zap.Int("items", len(ids)))
	}
}

// recompute sets AWAITING when nothing is left to place, otherwise PENDING.
// An AWAITING order never moves back to PENDING. Reaching AWAITING triggers
// the best-effort write-back to the shop.
func (p *Pipeline) recompute(ctx context.Context, order *model.Order, shop *model.Shop) error {
	n, err := p.store.CountUnplaced(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("count unplaced: %w", err)
	}
	if n > 0 {
		if order.Status == model.OrderStatusAwaiting {
			return nil
		}
		order.Status = model.OrderStatusPending
		return p.store.SetOrderStatus(ctx, order.ID, model.OrderStatusPending)
	}

	order.Status = model.OrderStatusAwaiting
	if err := p.store.SetOrderStatus(ctx, order.ID, model.OrderStatusAwaiting); err != nil {
		return err
	}
	p.writeBack(ctx, order, shop)
	return nil
}

func (p *Pipeline) writeBack(ctx context.Context, order *model.Order, shop *model.Shop) {
	if shop == nil || shop.Platform.Function(model.SlotAddCartToOrder) == "" {
		return
	}
	current, err := p.store.GetOrder(ctx, order.ID)
	if err != nil {
		p.logger.Warn("cart write-back skipped", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	if _, err := p.purchaser.AddCartToPlatformOrder(ctx, executor.ShopEndpoint(shop), order.OrderID, current.CartItems); err != nil {
		p.logger.Warn("cart write-back failed",
			zap.String("order_id", order.ID),
			zap.String("shop_id", shop.ID),
			zap.Error(err),
		)
	}
}

func purchaseItems(items []model.CartItem) []adapter.PurchaseItem {
	out := make([]adapter.PurchaseItem, len(items))
	for i, ci := range items {
		out[i] = adapter.PurchaseItem{
			ID:        ci.ID,
			ProductID: ci.ProductID,
			VariantID: ci.VariantID,
			Quantity:  ci.Quantity,
			Price:     ci.Price,
			Name:      ci.Name,
			SKU:       ci.SKU,
		}
	}
	return out
}
