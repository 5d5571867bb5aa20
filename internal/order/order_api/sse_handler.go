package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-checkout/internal/models"
)

const keepAliveInterval = 25 * time.Second

// OrderEvents streams status changes of one order as Server-Sent Events.
// The first event is the current status; the stream ends after a terminal
// status or when the client disconnects.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	eventChan := h.Events.Subscribe(ctx, o.ID)

	// Re-read after subscribing so a change in between is not missed.
	current, err := h.OrderService.GetOrder(ctx, o.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to order events for order: %s", o.ID))
	if !h.writeEvent(w, models.OrderStatusEvent{
		OrderID:    current.ID,
		UserID:     current.UserID,
		Status:     current.Status,
		Total:      current.Total,
		Currency:   current.Currency,
		Provider:   current.Provider,
		OccurredAt: current.UpdatedAt,
	}) {
		return
	}
	flusher.Flush()
	if current.Status.IsTerminal() {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-eventChan:
			if !ok {
				return
			}
			if !h.writeEvent(w, ev) {
				return
			}
			flusher.Flush()
			if ev.Status.IsTerminal() {
				h.Logger.Debug("SSE", fmt.Sprintf("Order %s reached %s, closing stream", o.ID, ev.Status))
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from order events for: %s", o.ID))
			return
		}
	}
}

func (h *Handler) writeEvent(w http.ResponseWriter, ev models.OrderStatusEvent) bool {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize order event: %v", err))
		return true
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", jsonData)
	return err == nil
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
