// Package matching resolves an order's line items to saved Matches.
//
// Resolution prefers one Match whose input is exactly the whole order. When
// none exists and the order has several line items, each item is resolved
// on its own against single-item Matches and whatever resolves is used.
package matching

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// ErrNoMatch is returned by Resolve after it has recorded MATCH_ERROR on the order.
var ErrNoMatch = errors.New("matching: no match found")

// noMatchMessage is the detail written with MATCH_ERROR.
const noMatchMessage = "No matches found for this order. Create a match for its products and retry."

// Result is the outcome of resolving one order.
type Result struct {
	// Matches holds one Match for a full-order resolution, or one per
	// resolved line item in the fallback.
	Matches []model.Match
	// Full is true when a single Match covers the whole order.
	Full bool
	// Unmatched lists line items the fallback could not resolve.
	Unmatched []model.LineItem
}

// Matcher runs match resolution against the store.
type Matcher struct {
	store  store.Store
	logger *zap.Logger
}

func New(st store.Store, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{store: st, logger: logger}
}

// Find resolves the order without writing anything. An empty Result means
// nothing matched.
func (m *Matcher) Find(ctx context.Context, order *model.Order) (*Result, error) {
	if len(order.LineItems) == 0 {
		return &Result{}, nil
	}

	full, err := m.Exact(ctx, order.UserID, Signature(order.LineItems))
	if err != nil {
		return nil, err
	}
	if full != nil {
		return &Result{Matches: []model.Match{*full}, Full: true}, nil
	}
	if len(order.LineItems) < 2 {
		return &Result{Unmatched: order.LineItems}, nil
	}

	perItem := make([]*model.Match, len(order.LineItems))
	g, gctx := errgroup.WithContext(ctx)
	for i, li := range order.LineItems {
		g.Go(func() error {
			found, err := m.store.FindSingleItemMatches(gctx, order.UserID, li.Ref())
			if err != nil {
				return fmt.Errorf("line item %s: %w", li.ID, err)
			}
			if len(found) > 0 {
				perItem[i] = &found[0]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{}
	for i, match := range perItem {
		if match == nil {
			res.Unmatched = append(res.Unmatched, order.LineItems[i])
			continue
		}
		res.Matches = append(res.Matches, *match)
	}
	return res, nil
}

// Exact returns the user's Match whose input is exactly refs, or nil.
// Among several, the most recently updated wins (ties broken by id).
func (m *Matcher) Exact(ctx context.Context, userID string, refs []model.ItemRef) (*model.Match, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	candidates, err := m.store.FindMatchesCovering(ctx, userID, refs)
	if err != nil {
		return nil, fmt.Errorf("find covering matches: %w", err)
	}
	for i := range candidates {
		if SameInputs(&candidates[i], refs) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// Resolve runs Find and, when nothing matched, records MATCH_ERROR with
// status PENDING on the order and returns ErrNoMatch.
func (m *Matcher) Resolve(ctx context.Context, order *model.Order) (*Result, error) {
	res, err := m.Find(ctx, order)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) > 0 {
		if len(res.Unmatched) > 0 {
			m.logger.Info("partial match",
				zap.String("order_id", order.ID),
				zap.Int("matched", len(res.Matches)),
				zap.Int("unmatched", len(res.Unmatched)),
			)
		}
		return res, nil
	}

	msg := routeerr.Match(noMatchMessage).String()
	if err := m.store.SetOrderState(ctx, order.ID, model.OrderStatusPending, msg); err != nil {
		return nil, fmt.Errorf("record match error: %w", err)
	}
	order.Status = model.OrderStatusPending
	order.Error = msg
	m.logger.Info("no match", zap.String("order_id", order.ID))
	return res, ErrNoMatch
}
