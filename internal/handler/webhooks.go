package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// Webhook responses. Platforms only look at the status code; bodies are for
// delivery logs.

type ignoredResponse struct {
	Status string `json:"status"`
}

type cancelPurchaseResponse struct {
	Cancelled []model.CartItem `json:"cancelled"`
}

// readWebhook returns the raw body; signatures are computed over exact bytes.
func readWebhook(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxRequestBodySize))
	if err != nil {
		return nil, model.NewValidationError("body", "unreadable webhook body")
	}
	return body, nil
}

// writeWebhookError acknowledges ignored events with 202 so the platform does
// not retry them; everything else goes through writeError.
func (h *Handler) writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, adapter.ErrIgnoredEvent) {
		h.writeJSON(w, http.StatusAccepted, ignoredResponse{Status: "ignored"})
		return
	}
	apiErr := h.toAPIError(err)
	if apiErr.StatusCode == http.StatusUnauthorized {
		h.logger.Warn("webhook rejected",
			zap.String("path", r.URL.Path),
			zap.String("id", r.PathValue("id")),
			zap.Error(err),
		)
	}
	h.writeError(w, apiErr)
}

// handleShopCreateOrder ingests a new order from a shop. Redeliveries return
// the stored order with 200.
// POST /api/webhooks/shops/{id}/create-order
func (h *Handler) handleShopCreateOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, created, err := h.Orders.ShopCreateOrder(r.Context(), r.PathValue("id"), body, r.Header)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, viewOrder(o))
}

// POST /api/webhooks/shops/{id}/cancel-order
func (h *Handler) handleShopCancelOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	o, err := h.Orders.ShopCancelOrder(r.Context(), r.PathValue("id"), body, r.Header)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOrder(o))
}

// POST /api/webhooks/channels/{id}/create-tracking
func (h *Handler) handleChannelCreateTracking(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	td, err := h.Orders.ChannelCreateTracking(r.Context(), r.PathValue("id"), body, r.Header)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, td)
}

// POST /api/webhooks/channels/{id}/cancel-purchase
func (h *Handler) handleChannelCancelPurchase(w http.ResponseWriter, r *http.Request) {
	body, err := readWebhook(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items, err := h.Orders.ChannelCancelPurchase(r.Context(), r.PathValue("id"), body, r.Header)
	if err != nil {
		h.writeWebhookError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cancelPurchaseResponse{Cancelled: items})
}
