package cart

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/openshiporg/openship-sub005/internal/executor"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
	"github.com/openshiporg/openship-sub005/internal/store"
)

// PreviewEntry is a match output enriched with the channel's live product.
type PreviewEntry struct {
	model.MatchOutput
	Product     *model.Product `json:"product,omitempty"`
	PriceChange bool           `json:"priceChange"`
	Error       string         `json:"error,omitempty"`
}

// Preview fetches live product data for every output of a match without
// creating anything. Per-entry failures are reported on the entry.
func (m *Materializer) Preview(ctx context.Context, match *model.Match) ([]PreviewEntry, error) {
	entries := make([]entry, 0, len(match.Output))
	for _, o := range match.Output {
		entries = append(entries, entry{match: match, output: o})
	}
	channels, err := m.loadChannels(ctx, entries)
	if err != nil {
		return nil, err
	}

	out := make([]PreviewEntry, len(entries))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			pe := PreviewEntry{MatchOutput: e.output}
			ch := channels[e.output.ChannelID]
			if ch == nil {
				pe.Error = "channel not found"
				out[i] = pe
				return nil
			}
			res, err := m.products.GetProduct(ctx, executor.ChannelEndpoint(ch), e.output.ProductID, e.output.VariantID)
			if err != nil {
				pe.Error = executor.ErrorMessage(err)
			} else {
				p := res.Product
				pe.Product = &p
				pe.PriceChange = p.Price != e.output.Price
			}
			out[i] = pe
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// AcceptPrice applies the update_price remediation to a cart item: the
// match output it came from is repriced to the live price recorded in the
// PRICE_CHANGE error and the error is cleared. Items materialized from a
// match carry their output ids; matchID and outputID are only consulted for
// items that do not, and must agree with the recorded ids otherwise.
func AcceptPrice(ctx context.Context, st store.Store, cartItemID, matchID, outputID string) (*model.CartItem, error) {
	ci, err := st.GetCartItem(ctx, cartItemID)
	if err != nil {
		return nil, err
	}
	matchID, outputID, err = SourceOutput(ci, matchID, outputID)
	if err != nil {
		return nil, err
	}
	e, ok := routeerr.Decode(ci.Error)
	if !ok || e.Kind != routeerr.KindPriceChange {
		return nil, model.NewValidationError("cartItemId", "cart item has no price change")
	}
	newPrice := e.NewPrice
	if newPrice == "" {
		newPrice = ci.Price
	}
	if matchID != "" {
		if err := st.SetMatchOutputPrice(ctx, matchID, outputID, newPrice); err != nil {
			return nil, err
		}
	}
	if err := st.SetCartItemPrice(ctx, ci.ID, newPrice, ""); err != nil {
		return nil, err
	}
	ci.Price, ci.Error = newPrice, ""
	return ci, nil
}

// SourceOutput resolves the match output a cart item is repriced against.
func SourceOutput(ci *model.CartItem, matchID, outputID string) (string, string, error) {
	if ci.MatchID == "" {
		return matchID, outputID, nil
	}
	if (matchID != "" && matchID != ci.MatchID) || (outputID != "" && outputID != ci.MatchOutputID) {
		return "", "", model.NewValidationError("matchId", "cart item was created from another match output")
	}
	return ci.MatchID, ci.MatchOutputID, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
