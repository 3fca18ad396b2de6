package conversation

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/jharden/gigpay/internal/escrow"
	"github.com/jharden/gigpay/pkg/response"
)

// Mailer queues review-prompt mail for both parties after an event
type Mailer interface {
	ReviewPrompt(ctx context.Context, email, name, counterpartName string) error
}

// Handler handles queue-delivered conversation task targets
type Handler struct {
	service *Service
	mailer  Mailer
}

// NewHandler creates a new conversation handler
func NewHandler(service *Service, mailer Mailer) *Handler {
	return &Handler{service: service, mailer: mailer}
}

// ReviewPrompt handles POST /internal/tasks/review-prompt
func (h *Handler) ReviewPrompt(w http.ResponseWriter, r *http.Request) {
	var payload escrow.FollowUpPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.BadRequest(w, "Invalid review-prompt payload")
		return
	}
	if payload.BookingID == "" || payload.RecipientID == "" || payload.VenueID == "" {
		response.BadRequest(w, "Invalid review-prompt payload")
		return
	}

	ctx := r.Context()
	if err := h.service.PostReviewPrompt(ctx, payload.BookingID, payload.VenueID, payload.RecipientID); err != nil {
		log.Printf("review-prompt: failed to post prompt for %s: %v", payload.BookingID, err)
		response.InternalError(w, "Failed to post review prompt")
		return
	}

	if payload.RecipientEmail != "" {
		if err := h.mailer.ReviewPrompt(ctx, payload.RecipientEmail, payload.RecipientName, payload.VenueName); err != nil {
			log.Printf("review-prompt: failed to queue performer mail for %s: %v", payload.BookingID, err)
		}
	}
	if payload.VenueEmail != "" {
		if err := h.mailer.ReviewPrompt(ctx, payload.VenueEmail, payload.VenueName, payload.RecipientName); err != nil {
			log.Printf("review-prompt: failed to queue venue mail for %s: %v", payload.BookingID, err)
		}
	}

	response.JSON(w, http.StatusOK, map[string]string{"booking_id": payload.BookingID, "status": "prompted"})
}
