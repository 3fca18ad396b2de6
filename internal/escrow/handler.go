package escrow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jharden/gigpay/pkg/response"
)

// Handler handles HTTP requests for escrow operations
type Handler struct {
	finalizer *Finalizer
	disputes  *DisputeService
	repo      *Repository
}

// NewHandler creates a new escrow handler
func NewHandler(finalizer *Finalizer, disputes *DisputeService, repo *Repository) *Handler {
	return &Handler{finalizer: finalizer, disputes: disputes, repo: repo}
}

// APIRoutes returns the router for recipient-facing escrow endpoints
func (h *Handler) APIRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{recipientID}/fees/{authorizationID}/dispute", h.Dispute)
	r.Get("/{recipientID}/balance", h.Balance)
	return r
}

// ClearFee handles POST /internal/tasks/clear-fee
//
// Status codes steer the queue's retry policy: 2xx acknowledges, 4xx drops
// the delivery for good, 5xx asks for a retry.
func (h *Handler) ClearFee(w http.ResponseWriter, r *http.Request) {
	var payload ClearFeePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "Invalid clear-fee payload")
		return
	}
	if payload.AuthorizationID == "" || payload.BookingID == "" || payload.RecipientID == "" {
		response.BadRequest(w, "Invalid clear-fee payload")
		return
	}

	if err := h.finalizer.ClearFee(r.Context(), payload); err != nil {
		if errors.Is(err, ErrDisputeLogged) {
			response.ErrorWithReason(w, http.StatusBadRequest, "DISPUTE_LOGGED",
				"Fee is frozen pending dispute resolution", "dispute_logged")
			return
		}
		response.InternalError(w, "Failed to clear fee")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"authorization_id": payload.AuthorizationID, "status": "cleared"})
}

// Dispute handles POST /api/v1/recipients/{recipientID}/fees/{authorizationID}/dispute
func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	authorizationID := chi.URLParam(r, "authorizationID")
	if recipientID == "" || authorizationID == "" {
		response.BadRequest(w, "Missing recipient or authorization ID")
		return
	}

	fee, err := h.disputes.MarkDisputed(r.Context(), recipientID, authorizationID)
	if err != nil {
		if errors.Is(err, ErrFeeNotFound) {
			response.NotFound(w, "Pending fee not found")
			return
		}
		if errors.Is(err, ErrFeeAlreadyCleared) {
			response.Conflict(w, "Fee already cleared; dispute window has closed")
			return
		}
		response.InternalError(w, "Failed to log dispute")
		return
	}

	response.JSON(w, http.StatusOK, fee)
}

// Balance handles GET /api/v1/recipients/{recipientID}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		response.BadRequest(w, "Missing recipient ID")
		return
	}

	acct, err := h.repo.GetRecipientAccount(r.Context(), recipientID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			response.NotFound(w, "Recipient not found")
			return
		}
		response.InternalError(w, "Failed to load balance")
		return
	}

	response.JSON(w, http.StatusOK, acct)
}
