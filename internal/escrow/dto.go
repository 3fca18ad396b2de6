package escrow

import (
	"fmt"
	"time"

	"github.com/jharden/gigpay/internal/payments"
)

// ClearFeePayload is the body of the deferred fee-clearing task. It carries
// everything the finalizer needs so the task is self-contained even if the
// booking row has moved on by delivery time.
type ClearFeePayload struct {
	AuthorizationID   string    `json:"authorization_id"`
	BookingID         string    `json:"booking_id"`
	RecipientID       string    `json:"recipient_id"`
	VenueID           string    `json:"venue_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	DisputeClearingAt time.Time `json:"dispute_clearing_at"`
	RecipientName     string    `json:"recipient_name"`
	RecipientEmail    string    `json:"recipient_email"`
	VenueName         string    `json:"venue_name"`
}

// FollowUpPayload is the body of the deferred review-prompt task
type FollowUpPayload struct {
	BookingID      string    `json:"booking_id"`
	RecipientID    string    `json:"recipient_id"`
	VenueID        string    `json:"venue_id"`
	EventStart     time.Time `json:"event_start"`
	RecipientName  string    `json:"recipient_name"`
	RecipientEmail string    `json:"recipient_email"`
	VenueName      string    `json:"venue_name"`
	VenueEmail     string    `json:"venue_email"`
}

// AuthorizationEvent is the booking context recovered from an
// authorization's metadata
type AuthorizationEvent struct {
	AuthorizationID string
	BookingID       string
	VenueID         string
	RecipientID     string
	EventStart      time.Time
	Amount          int64
	Currency        string
}

// EventFromAuthorization extracts the booking context attached when the
// charge was created. An authorization without the full metadata set did not
// originate from this pipeline and is rejected.
func EventFromAuthorization(auth *payments.Authorization) (*AuthorizationEvent, error) {
	bookingID := auth.Metadata["booking_id"]
	venueID := auth.Metadata["venue_id"]
	recipientID := auth.Metadata["recipient_id"]
	eventStartRaw := auth.Metadata["event_start"]

	if bookingID == "" || venueID == "" || recipientID == "" || eventStartRaw == "" {
		return nil, fmt.Errorf("authorization %s is missing booking metadata", auth.ID)
	}

	eventStart, err := time.Parse(time.RFC3339, eventStartRaw)
	if err != nil {
		return nil, fmt.Errorf("authorization %s has invalid event_start %q: %w", auth.ID, eventStartRaw, err)
	}

	return &AuthorizationEvent{
		AuthorizationID: auth.ID,
		BookingID:       bookingID,
		VenueID:         venueID,
		RecipientID:     recipientID,
		EventStart:      eventStart,
		Amount:          auth.Amount,
		Currency:        auth.Currency,
	}, nil
}
