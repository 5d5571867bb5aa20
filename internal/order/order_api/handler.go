package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/sse"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	OrderService  *order.OrderService
	Reconciler    *order.Reconciler
	TicketService *tickets.TicketService
	Events        *sse.OrderEventEmitter
	Logger        *logger.Logger
}

func NewHandler(orderService *order.OrderService, ticketService *tickets.TicketService, events *sse.OrderEventEmitter, log *logger.Logger) *Handler {
	return &Handler{
		OrderService:  orderService,
		Reconciler:    order.NewReconciler(orderService),
		TicketService: ticketService,
		Events:        events,
		Logger:        log,
	}
}

// RegisterRoutes registers the buyer and admin order routes. The caller
// mounts them behind auth.Middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{orderId}", h.GetOrder)
		r.Delete("/{orderId}", h.CancelOrder)
		r.Post("/{orderId}/payments", h.CreatePayment)
		r.Get("/{orderId}/events", h.OrderEvents)
		r.Get("/{orderId}/tickets", h.ListTickets)
		r.With(auth.RequireRole(h.Logger, auth.RoleAdmin)).Post("/{orderId}/tickets/issue", h.IssueTickets)
	})
}

// RegisterWebhooks registers the unauthenticated provider callbacks.
func (h *Handler) RegisterWebhooks(r chi.Router) {
	r.Post("/webhooks/stripe", h.StripeWebhook)
	r.Post("/webhooks/pagotic", h.PagoTICWebhook)
}

// RegisterCron registers the scheduler endpoints. The caller mounts them
// behind auth.CronAuth.
func (h *Handler) RegisterCron(r chi.Router) {
	r.Post("/internal/cron/sweep", h.Sweep)
	r.Post("/internal/cron/poll-payments", h.PollPayments)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	if claims == nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		h.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.OrderService.CreateOrder(r.Context(), claims.Subject, claims.Email, req.Items, req.HoldMinutes)
	if err != nil {
		h.Logger.Info("API", fmt.Sprintf("CreateOrder: rejected for user %s: %v", claims.Subject, err))
		h.writeServiceError(w, err)
		return
	}

	h.respond(w, http.StatusCreated, "Order created", created)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, "Order retrieved", o)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", nil)
		return
	}

	orders, err := h.OrderService.ListOrdersForUser(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListOrders: failed for user %s: %v", userID, err))
		h.writeServiceError(w, err)
		return
	}
	h.respond(w, http.StatusOK, "Orders retrieved", orders)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	applied, err := h.OrderService.CancelOrder(r.Context(), o.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !applied {
		h.respond(w, http.StatusOK, "Order already cancelled", map[string]any{"order_id": o.ID, "status": models.OrderCancelled})
		return
	}
	h.respond(w, http.StatusOK, "Order cancelled", map[string]any{"order_id": o.ID, "status": models.OrderCancelled})
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}

	issued, err := h.TicketService.GetTicketsByOrder(r.Context(), o.ID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListTickets: failed for order %s: %v", o.ID, err))
		h.writeServiceError(w, err)
		return
	}
	h.respond(w, http.StatusOK, "Tickets retrieved", issued)
}

// IssueTickets re-runs issuance for a paid order, for operators.
func (h *Handler) IssueTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	created, err := h.TicketService.IssueForOrder(r.Context(), orderID)
	switch {
	case err == nil:
		h.respond(w, http.StatusOK, fmt.Sprintf("Issued %d tickets", len(created)), created)
	case errors.Is(err, models.ErrAssetGeneration):
		h.Logger.Warn("API", fmt.Sprintf("IssueTickets: order %s has asset failures: %v", orderID, err))
		if werr := utils.WriteError(w, http.StatusOK, fmt.Sprintf("Issued %d tickets, some assets are pending", len(created)), err.Error(), created); werr != nil {
			h.Logger.Error("API", fmt.Sprintf("IssueTickets: failed to encode response: %v", werr))
		}
	default:
		h.writeServiceError(w, err)
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string, data any) {
	if err := utils.WriteSuccess(w, status, message, data); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if werr := utils.WriteError(w, status, message, errText, nil); werr != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode error response: %v", werr))
	}
}

// writeServiceError maps domain errors onto HTTP statuses. Provider failures
// get a generic message the client can safely retry on.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *models.InsufficientInventoryError
	switch {
	case errors.As(err, &insufficient):
		if werr := utils.WriteError(w, http.StatusConflict, "Some items are no longer available", err.Error(),
			map[string]any{"unavailable": insufficient.Unavailable}); werr != nil {
			h.Logger.Error("API", fmt.Sprintf("failed to encode error response: %v", werr))
		}
	case errors.Is(err, models.ErrInvalidItem), errors.Is(err, models.ErrUnsupportedProvider):
		h.writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrTicketNotFound):
		h.writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, models.ErrInvalidStateTransition):
		h.writeError(w, http.StatusConflict, "Order is not in a state that allows this", err)
	case errors.Is(err, models.ErrOrderExpired):
		h.writeError(w, http.StatusGone, "Order hold has expired", err)
	case errors.Is(err, models.ErrPaymentProviderRejected):
		h.writeError(w, http.StatusBadGateway, "Payment provider rejected the request, please try again", nil)
	case errors.Is(err, models.ErrPaymentProviderUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "Payment provider unavailable, please try again", nil)
	default:
		h.Logger.Error("API", fmt.Sprintf("unexpected error: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}
