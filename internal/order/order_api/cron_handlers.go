package order_api

import (
	"fmt"
	"net/http"
)

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.OrderService.Sweep(r.Context())
	if err != nil {
		h.Logger.Error("SWEEPER", fmt.Sprintf("Sweep stopped after %d orders: %v", n, err))
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Sweep incomplete, %d orders reclaimed", n), err)
		return
	}
	h.respond(w, http.StatusOK, "Sweep complete", map[string]int{"reclaimed": n})
}

func (h *Handler) PollPayments(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reconciler.PollPending(r.Context())
	if err != nil {
		h.Logger.Error("PAYMENT", fmt.Sprintf("Payment poll finished with errors after %d orders: %v", n, err))
		h.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Poll incomplete, %d orders checked", n), err)
		return
	}
	h.respond(w, http.StatusOK, "Poll complete", map[string]int{"checked": n})
}
