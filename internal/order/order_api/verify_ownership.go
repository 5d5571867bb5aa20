package order_api

import (
	"fmt"
	"net/http"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/models"

	"github.com/go-chi/chi/v5"
)

// ownedOrder loads the {orderId} order and checks the caller owns it or is
// an admin. It writes the error response itself and reports false on failure.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*models.Order, bool) {
	orderID := chi.URLParam(r, "orderId")
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return nil, false
	}

	o, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}

	if o.UserID != userID && !auth.IsAdmin(r.Context()) {
		h.Logger.LogSecurity("ORDER_ACCESS_DENIED", fmt.Sprintf("user %s tried to access order %s", userID, orderID))
		h.writeError(w, http.StatusNotFound, "Not found", models.ErrOrderNotFound)
		return nil, false
	}
	return o, true
}
