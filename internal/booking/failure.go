package booking

import (
	"context"
	"fmt"
	"log"

	"github.com/jharden/gigpay/internal/payments"
)

// Conversations posts payment announcements into booking conversations
type Conversations interface {
	AnnouncePaymentFailed(ctx context.Context, bookingID, venueID, recipientID string) error
}

// FailureHandler rolls a booking back when its charge authorization fails
// terminally. Driven by both the webhook dispatcher and the reconciliation
// sweeper, so it tolerates duplicate and late deliveries.
type FailureHandler struct {
	store         Store
	conversations Conversations
}

// NewFailureHandler creates a new payment failure handler
func NewFailureHandler(store Store, conversations Conversations) *FailureHandler {
	return &FailureHandler{store: store, conversations: conversations}
}

// HandleAuthorizationFailed implements payments.FailureHandler
func (h *FailureHandler) HandleAuthorizationFailed(ctx context.Context, auth *payments.Authorization) error {
	bookingID := auth.Metadata["booking_id"]
	venueID := auth.Metadata["venue_id"]
	recipientID := auth.Metadata["recipient_id"]
	if bookingID == "" || recipientID == "" {
		log.Printf("failure: skipping authorization %s without booking metadata", auth.ID)
		return nil
	}

	if err := h.store.Reopen(ctx, bookingID); err != nil {
		return fmt.Errorf("failed to reopen booking %s: %w", bookingID, err)
	}

	if err := h.conversations.AnnouncePaymentFailed(ctx, bookingID, venueID, recipientID); err != nil {
		log.Printf("failure: failed to announce payment failure for %s: %v", bookingID, err)
	}
	return nil
}
