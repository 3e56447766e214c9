package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/cart"
	"github.com/openshiporg/openship-sub005/internal/model"
	"github.com/openshiporg/openship-sub005/internal/placement"
	"github.com/openshiporg/openship-sub005/internal/routeerr"
)

// orderView is an order with its stored errors decoded for display.
type orderView struct {
	*model.Order
	ErrorInfo      *routeerr.Parsed           `json:"errorInfo,omitempty"`
	CartItemErrors map[string]routeerr.Parsed `json:"cartItemErrors,omitempty"`
}

func viewOrder(o *model.Order) *orderView {
	v := &orderView{Order: o}
	if p, ok := routeerr.Parse(o.Error); ok {
		v.ErrorInfo = &p
	}
	for _, ci := range o.CartItems {
		if p, ok := routeerr.Parse(ci.Error); ok {
			if v.CartItemErrors == nil {
				v.CartItemErrors = make(map[string]routeerr.Parsed)
			}
			v.CartItemErrors[ci.ID] = p
		}
	}
	return v
}

type placeOrdersRequest struct {
	OrderIDs []string `json:"orderIds"`
}

type placeOrdersResponse struct {
	Processed []placement.Processed `json:"processed"`
}

type acceptPriceRequest struct {
	MatchID  string `json:"matchId"`
	OutputID string `json:"outputId"`
}

// === Operations shared by REST and MCP ===

func (h *Handler) createOrder(ctx context.Context, user *model.User, o *model.Order) (*model.Order, error) {
	o.ID = ""
	o.UserID = user.ID
	if o.ShopID != "" {
		if _, err := h.ownedShop(ctx, user.ID, o.ShopID); err != nil {
			return nil, err
		}
	}
	return h.Orders.Create(ctx, o)
}

// placeOrders places the caller's orders. Ids the caller does not own are
// reported per entry like any other failure.
func (h *Handler) placeOrders(ctx context.Context, user *model.User, ids []string) ([]placement.Processed, error) {
	if len(ids) == 0 {
		return nil, model.NewValidationError("orderIds", "at least one order id is required")
	}

	results := make([]placement.Processed, len(ids))
	var owned []string
	var slots []int
	for i, id := range ids {
		if _, err := h.ownedOrder(ctx, user.ID, id); err != nil {
			results[i] = placement.Processed{OrderID: id, Error: routeerr.Placement("order not found").String()}
			continue
		}
		owned = append(owned, id)
		slots = append(slots, i)
	}

	for j, res := range h.Placement.PlaceOrders(ctx, owned) {
		results[slots[j]] = res
	}
	h.logger.Info("orders placed",
		zap.String("user_id", user.ID),
		zap.Int("requested", len(ids)),
		zap.Int("processed", len(owned)),
	)
	return results, nil
}

func (h *Handler) addMatchToCart(ctx context.Context, user *model.User, orderID string) (*model.Order, error) {
	if _, err := h.ownedOrder(ctx, user.ID, orderID); err != nil {
		return nil, err
	}
	return h.Routing.AddMatchToCart(ctx, orderID)
}

// === REST Handlers ===

// handleCreateOrder stores an order and routes it.
// POST /api/orders
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	// routing flags absent from the body default to true
	o := model.Order{LinkOrder: true, MatchOrder: true, ProcessOrder: true}
	if err := decodeJSON(r, &o); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.createOrder(r.Context(), user, &o)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewOrder(created))
}

// handleGetOrder returns an order with its line and cart items.
// GET /api/orders/{id}
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.ownedOrder(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOrder(o))
}

// handlePlaceOrders runs the placement pipeline over a batch of orders.
// POST /api/orders/place
func (h *Handler) handlePlaceOrders(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req placeOrdersRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	processed, err := h.placeOrders(r.Context(), user, req.OrderIDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, placeOrdersResponse{Processed: processed})
}

// handleAddMatchToCart reruns match resolution for an order.
// POST /api/orders/{id}/match-to-cart
func (h *Handler) handleAddMatchToCart(w http.ResponseWriter, r *http.Request) {
	user, err := currentUser(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.addMatchToCart(r.Context(), user, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOrder(o))
}

// handleDismissOrderError clears an order's error.
// POST /api/orders/{id}/dismiss-error
func (h *Handler) handleDismissOrderError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := currentUser(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.ownedOrder(ctx, user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Store.SetOrderError(ctx, o.ID, ""); err != nil {
		h.writeError(w, err)
		return
	}
	o.Error = ""
	h.writeJSON(w, http.StatusOK, viewOrder(o))
}

// handleDismissCartItemError clears a cart item's error.
// POST /api/cart-items/{id}/dismiss-error
func (h *Handler) handleDismissCartItemError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := currentUser(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ci, err := h.ownedCartItem(ctx, user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Store.SetCartItemError(ctx, ci.ID, ""); err != nil {
		h.writeError(w, err)
		return
	}
	ci.Error = ""
	h.writeJSON(w, http.StatusOK, ci)
}

// handleAcceptPrice applies the update_price remediation of a PRICE_CHANGE.
// POST /api/cart-items/{id}/accept-price
func (h *Handler) handleAcceptPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := currentUser(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req acceptPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	ci, err := h.ownedCartItem(ctx, user.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	matchID, outputID, err := cart.SourceOutput(ci, req.MatchID, req.OutputID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if matchID != "" {
		m, err := h.Store.GetMatch(ctx, matchID)
		if err != nil || m.UserID != user.ID {
			h.writeError(w, model.NewNotFoundError("match"))
			return
		}
	}
	updated, err := cart.AcceptPrice(ctx, h.Store, ci.ID, matchID, outputID)
	if err != nil {
		h.writeError(w, notFound(err, "match output"))
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}
