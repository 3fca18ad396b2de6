package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jharden/gigpay/pkg/response"
)

// Handler handles HTTP requests for booking payment operations
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router for booking endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{bookingID}/confirm-payment", h.ConfirmPayment)
	return r
}

// ConfirmPayment handles POST /api/v1/bookings/{bookingID}/confirm-payment
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	if bookingID == "" {
		response.BadRequest(w, "Missing booking ID")
		return
	}

	var req ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.RecipientID == "" || req.PaymentMethodID == "" {
		response.BadRequest(w, "Recipient ID and payment method are required")
		return
	}

	outcome, err := h.service.ConfirmPayment(r.Context(), bookingID, &req)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			response.NotFound(w, "Booking not found")
			return
		}
		if errors.Is(err, ErrAlreadyPaid) {
			response.Conflict(w, "Booking already paid")
			return
		}
		if errors.Is(err, ErrBookingClosed) {
			response.Conflict(w, "Booking is closed")
			return
		}
		if errors.Is(err, ErrApplicantNotAccepted) {
			response.BadRequest(w, "Recipient has no accepted application for this booking")
			return
		}
		response.InternalError(w, "Failed to confirm payment")
		return
	}

	response.JSON(w, http.StatusOK, outcome)
}
