package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/filter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

type getMatchRequest struct {
	Input []model.ItemRef `json:"input"`
}

// matchPreview is the match for an input set with live channel data.
type matchPreview struct {
	Match   *model.Match        `json:"match"`
	Entries []cart.PreviewEntry `json:"entries"`
}

type createMatchRequest struct {
	Input  []model.MatchInput  `json:"input"`
	Output []model.MatchOutput `json:"output"`
}

type createLinkRequest struct {
	ShopID    string         `json:"shopId"`
	ChannelID string         `json:"channelId"`
	Rank      int            `json:"rank"`
	Filters   []model.Filter `json:"filters"`
}

// getMatch finds the caller's match whose input is exactly refs and fetches
// the live product for each output.
func (h *Handler) getMatch(ctx context.Context, user *model.User, refs []model.ItemRef) (*matchPreview, error) {
	if len(refs) == 0 {
		return nil, model.NewValidationError("input", "at least one item is required")
	}
	for i, ref := range refs {
		if ref.ProductID == "" || ref.Quantity <= 0 {
			return nil, model.NewValidationError(fmt.Sprintf("input[%d]", i), "productId and a positive quantity are required")
		}
	}
	m, err := h.Matcher.Exact(ctx, user.ID, refs)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, model.NewNotFoundError("match")
	}
	entries, err := h.Carts.Preview(ctx, m)
	if err != nil {
		return nil, err
	}
	return &matchPreview{Match: m, Entries: entries}, nil
}

func (h *Handler) createMatch(ctx context.Context, user *model.User, req *createMatchRequest) (*model.Match, error) {
	if len(req.Input) == 0 {
		return nil, model.NewValidationError("input", "at least one item is required")
	}
	if len(req.Output) == 0 {
		return nil, model.NewValidationError("output", "at least one item is required")
	}
	for i, in := range req.Input {
		if in.ProductID == "" || in.Quantity <= 0 {
			return nil, model.NewValidationError(fmt.Sprintf("input[%d]", i), "productId and a positive quantity are required")
		}
		if in.ShopID != "" {
			if _, err := h.ownedShop(ctx, user.ID, in.ShopID); err != nil {
				return nil, err
			}
		}
	}
	for i, out := range req.Output {
		if out.ProductID == "" || out.Quantity <= 0 || out.ChannelID == "" {
			return nil, model.NewValidationError(fmt.Sprintf("output[%d]", i), "productId, channelId and a positive quantity are required")
		}
		if _, err := h.ownedChannel(ctx, user.ID, out.ChannelID); err != nil {
			return nil, err
		}
		// stored prices are compared textually with live adapter prices
		req.Output[i].Price = model.NormalizePrice(out.Price)
	}

	m := &model.Match{UserID: user.ID, Input: req.Input, Output: req.Output}
	if err := h.Store.CreateMatch(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// handleCreateMatch stores a match.
// POST /api/matches
func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req createMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.createMatch(r.Context(), user, &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

// handleGetMatch previews the match for an input set.
// POST /api/matches/lookup
func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req getMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	preview, err := h.getMatch(r.Context(), user, req.Input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, preview)
}

// handleCreateLink adds a routing link from a shop to a channel.
// POST /api/links
func (h *Handler) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := currentUser(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req createLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.ownedShop(ctx, user.ID, req.ShopID); err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.ownedChannel(ctx, user.ID, req.ChannelID); err != nil {
		h.writeError(w, err)
		return
	}
	where, err := filter.BuildWhere(req.Filters)
	if err != nil {
		h.writeError(w, model.NewValidationError("filters", err.Error()))
		return
	}

	link := &model.Link{
		ShopID:             req.ShopID,
		ChannelID:          req.ChannelID,
		Rank:               req.Rank,
		Filters:            req.Filters,
		DynamicWhereClause: where,
	}
	if err := h.Store.CreateLink(ctx, link); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, link)
}
