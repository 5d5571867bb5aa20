package ticket_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkout/internal/auth"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Validator *tickets.Validator
	Logger    *logger.Logger
}

func NewHandler(validator *tickets.Validator, log *logger.Logger) *Handler {
	return &Handler{Validator: validator, Logger: log}
}

// RegisterRoutes registers the entrance routes behind the scanner role.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(auth.RequireRole(h.Logger, auth.RoleScanner, auth.RoleAdmin)).Post("/tickets/validate", h.ValidateTicket)
}

// ValidateTicket admits a ticket by id or scanned QR id.
// Expected POST request body: {"ticket_ref": "...", "device": "gate-3"}
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		TicketRef string `json:"ticket_ref"`
		Device    string `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if requestBody.TicketRef == "" {
		h.write(w, http.StatusBadRequest, utils.ErrorResponse("ticket_ref is required", ""))
		return
	}

	validatorID := auth.UserID(r.Context())
	result, err := h.Validator.Validate(r.Context(), requestBody.TicketRef, validatorID, requestBody.Device)

	var used *models.TicketAlreadyUsedError
	switch {
	case err == nil:
		h.write(w, http.StatusOK, utils.SuccessResponse("Ticket admitted", result))
	case errors.As(err, &used):
		resp := utils.ErrorResponse("Ticket already used", err.Error())
		resp.Data = result
		h.write(w, http.StatusConflict, resp)
	case errors.Is(err, models.ErrTicketNotFound):
		h.write(w, http.StatusNotFound, utils.ErrorResponse("Ticket not found", ""))
	default:
		h.Logger.Error("TICKET", fmt.Sprintf("Validation by %s failed: %v", validatorID, err))
		h.write(w, http.StatusInternalServerError, utils.ErrorResponse("Validation failed", ""))
	}
}

func (h *Handler) write(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}
