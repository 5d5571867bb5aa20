package analytics_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkout/internal/analytics"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
)

// Handler serves the admin sales reports.
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

func NewHandler(service *analytics.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Use(auth.RequireRole(h.Logger, auth.RoleAdmin))
		r.Get("/events/{eventId}", h.GetEventSales)
		r.Post("/events/batch", h.GetBatchSales)
	})
}

func (h *Handler) GetEventSales(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	report, err := h.Service.GetEventSales(r.Context(), eventID)
	if errors.Is(err, analytics.ErrEventNotFound) {
		utils.WriteError(w, http.StatusNotFound, "Event not found", err.Error(), nil)
		return
	}
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Sales report for event %s failed: %v", eventID, err))
		utils.WriteError(w, http.StatusInternalServerError, "Failed to build sales report", "", nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Sales report", report)
}

type batchRequest struct {
	EventIDs []string `json:"event_ids"`
}

func (h *Handler) GetBatchSales(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error(), nil)
		return
	}
	if len(req.EventIDs) == 0 {
		utils.WriteError(w, http.StatusBadRequest, "event_ids is required", "", nil)
		return
	}

	batch, err := h.Service.GetBatchSales(r.Context(), req.EventIDs)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("Batch sales report failed: %v", err))
		utils.WriteError(w, http.StatusBadRequest, "Failed to build batch report", err.Error(), nil)
		return
	}
	utils.WriteSuccess(w, http.StatusOK, "Batch sales report", batch)
}
