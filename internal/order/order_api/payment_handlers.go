package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

const maxWebhookBody = 1 << 20

// CreatePayment opens a provider payment for the caller's pending order.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		h.writeError(w, http.StatusBadRequest, "provider is required", err)
		return
	}

	session, err := h.OrderService.CreatePaymentSession(r.Context(), o.ID, req.Provider)
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreatePayment: order %s via %s failed: %v", o.ID, req.Provider, err))
		h.writeServiceError(w, err)
		return
	}
	h.respond(w, http.StatusOK, "Payment session created", session)
}

// StripeWebhook answers 400 on a bad signature, 500 while the webhook secret
// is missing and 200 for everything else.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("Stripe: failed to read body: %v", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	gw, err := h.OrderService.Gateways.Get(models.ProviderStripe)
	if err != nil {
		h.Logger.Error("WEBHOOK", "Stripe webhook received but Stripe is not configured")
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	}

	ev, err := gw.NormalizeWebhook(r.Header, body)
	switch {
	case errors.Is(err, models.ErrInvalidSignature):
		h.Logger.LogSecurity("WEBHOOK_SIGNATURE", fmt.Sprintf("Stripe: %v", err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case errors.Is(err, payment.ErrWebhookNotConfigured):
		h.Logger.Error("WEBHOOK", err.Error())
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		return
	case err != nil:
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("Stripe: unreadable event acknowledged: %v", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.reconcile(r, ev)
	w.WriteHeader(http.StatusOK)
}

// PagoTICWebhook always acknowledges.
func (h *Handler) PagoTICWebhook(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("PagoTIC: failed to read body: %v", err))
		return
	}

	gw, err := h.OrderService.Gateways.Get(models.ProviderPagoTIC)
	if err != nil {
		h.Logger.Error("WEBHOOK", "PagoTIC notification received but PagoTIC is not configured")
		return
	}

	ev, err := gw.NormalizeWebhook(r.Header, body)
	if err != nil {
		h.Logger.Warn("WEBHOOK", fmt.Sprintf("PagoTIC: unreadable notification acknowledged: %v", err))
		return
	}
	h.reconcile(r, ev)
}

func (h *Handler) reconcile(r *http.Request, ev *payment.Event) {
	outcome, err := h.Reconciler.Apply(r.Context(), ev)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("%s payment %s not applied, left for polling: %v", ev.Provider, ev.ProviderPaymentID, err))
		return
	}
	h.Logger.Info("WEBHOOK", fmt.Sprintf("%s payment %s status %s: %s", ev.Provider, ev.ProviderPaymentID, ev.Status, outcome))
}
