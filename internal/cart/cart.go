// Package cart turns resolved Matches into CartItems priced from the live
// channel catalog.
package cart

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// fetchConcurrency bounds in-flight getProduct calls per materialization.
const fetchConcurrency = 8

// ProductFetcher is the slice of the executor cart needs.
type ProductFetcher interface {
	GetProduct(ctx context.Context, ep executor.Endpoint, productID, variantID string) (*adapter.GetProductResult, error)
}

// EntryError is a match output entry whose live product could not be fetched.
type EntryError struct {
	MatchID   string
	OutputID  string
	ChannelID string
	Err       error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("match %s output %s: %v", e.MatchID, e.OutputID, e.Err)
}

// Result is what one materialization produced.
type Result struct {
	Items    []model.CartItem
	Failures []EntryError
}

// PriceChanges counts created items carrying a PRICE_CHANGE error.
func (r *Result) PriceChanges() int {
	n := 0
	for _, ci := range r.Items {
		if e, ok := routeerr.Decode(ci.Error); ok && e.Kind == routeerr.KindPriceChange {
			n++
		}
	}
	return n
}

type Materializer struct {
	store    store.Store
	products ProductFetcher
	logger   *zap.Logger
}

func New(st store.Store, products ProductFetcher, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{store: st, products: products, logger: logger}
}

type entry struct {
	match  *model.Match
	output model.MatchOutput
}

// Materialize creates one CartItem per output entry of every match. Each
// entry is fetched independently; a failed fetch skips that entry only.
// When every entry failed the order gets MATCH_ERROR with status PENDING.
func (m *Materializer) Materialize(ctx context.Context, order *model.Order, matches []model.Match) (*Result, error) {
	var entries []entry
	for i := range matches {
		for _, o := range matches[i].Output {
			entries = append(entries, entry{match: &matches[i], output: o})
		}
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	channels, err := m.loadChannels(ctx, entries)
	if err != nil {
		return nil, err
	}

	items := make([]*model.CartItem, len(entries))
	failures := make([]*EntryError, len(entries))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			ci, err := m.build(ctx, order, channels[e.output.ChannelID], e)
			if err != nil {
				failures[i] = &EntryError{MatchID: e.match.ID, OutputID: e.output.ID, ChannelID: e.output.ChannelID, Err: err}
				return nil
			}
			items[i] = ci
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	var toCreate []model.CartItem
	for i := range entries {
		if items[i] != nil {
			toCreate = append(toCreate, *items[i])
		}
		if failures[i] != nil {
			res.Failures = append(res.Failures, *failures[i])
			m.logger.Warn("match entry skipped",
				zap.String("order_id", order.ID),
				zap.String("match_id", failures[i].MatchID),
				zap.String("channel_id", failures[i].ChannelID),
				zap.Error(failures[i].Err),
			)
		}
	}

	if len(toCreate) > 0 {
		created, err := m.store.CreateCartItems(ctx, toCreate)
		if err != nil {
			return nil, fmt.Errorf("create cart items: %w", err)
		}
		res.Items = created
		return res, nil
	}

	if len(res.Failures) > 0 {
		msg := routeerr.Match("Could not load channel products: " + executor.ErrorMessage(res.Failures[0].Err)).String()
		if err := m.store.SetOrderState(ctx, order.ID, model.OrderStatusPending, msg); err != nil {
			return nil, fmt.Errorf("record match error: %w", err)
		}
		order.Status = model.OrderStatusPending
		order.Error = msg
	}
	return res, nil
}

// loadChannels fetches each distinct channel once. A missing channel is left
// nil so that only its entries fail.
func (m *Materializer) loadChannels(ctx context.Context, entries []entry) (map[string]*model.Channel, error) {
	channels := make(map[string]*model.Channel)
	for _, e := range entries {
		id := e.output.ChannelID
		if _, seen := channels[id]; seen {
			continue
		}
		ch, err := m.store.GetChannel(ctx, id)
		switch {
		case err == nil:
			channels[id] = ch
		case isNotFound(err):
			channels[id] = nil
		default:
			return nil, fmt.Errorf("load channel %s: %w", id, err)
		}
	}
	return channels, nil
}

func (m *Materializer) build(ctx context.Context, order *model.Order, ch *model.Channel, e entry) (*model.CartItem, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel %s: %w", e.output.ChannelID, store.ErrNotFound)
	}
	res, err := m.products.GetProduct(ctx, executor.ChannelEndpoint(ch), e.output.ProductID, e.output.VariantID)
	if err != nil {
		return nil, err
	}
	p := res.Product

	ci := &model.CartItem{
		OrderID:       order.ID,
		ChannelID:     ch.ID,
		UserID:        order.UserID,
		MatchID:       e.match.ID,
		MatchOutputID: e.output.ID,
		ProductID:     e.output.ProductID,
		VariantID:     e.output.VariantID,
		Quantity:      e.output.Quantity,
		Price:         p.Price,
		Name:          p.Title,
		Image:         p.Image,
		Status:        model.CartItemStatusPending,
	}
	if ci.Quantity <= 0 {
		ci.Quantity = 1
	}
	// textual comparison: "10.0" and "10.00" count as drift
	if p.Price != e.output.Price {
		ci.Error = routeerr.PriceChange(e.output.Price, p.Price).String()
	}
	return ci, nil
}
