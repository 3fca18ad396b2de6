package escrow

import (
	"errors"
	"time"
)

// FeeStatus represents the lifecycle of an escrowed fee
type FeeStatus string

const (
	FeeStatusPending   FeeStatus = "pending"
	FeeStatusInDispute FeeStatus = "in_dispute"
)

// PendingFee is money held in escrow for a recipient until the dispute
// window closes. It is keyed by the processor's authorization id, which is
// what makes creation idempotent under duplicate deliveries.
type PendingFee struct {
	AuthorizationID   string     `json:"authorization_id"`
	BookingID         string     `json:"booking_id"`
	RecipientID       string     `json:"recipient_id"`
	VenueID           string     `json:"venue_id"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Status            FeeStatus  `json:"status"`
	DisputeClearingAt *time.Time `json:"dispute_clearing_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ClearedFee is the archived copy of a pending fee after settlement.
// TransferID is nil when the recipient had no active payout destination at
// clearing time and the funds went to the withdrawable balance instead.
type ClearedFee struct {
	AuthorizationID string    `json:"authorization_id"`
	BookingID       string    `json:"booking_id"`
	RecipientID     string    `json:"recipient_id"`
	VenueID         string    `json:"venue_id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	TransferID      *string   `json:"transfer_id,omitempty"`
	ClearedAt       time.Time `json:"cleared_at"`
}

// RecipientAccount aggregates a recipient's balances. Earnings is lifetime
// cleared income, PendingBalance is money still inside a dispute window, and
// Withdrawable is cleared money waiting for a payout destination.
type RecipientAccount struct {
	RecipientID           string  `json:"recipient_id"`
	Name                  string  `json:"name"`
	Email                 string  `json:"-"`
	Earnings              int64   `json:"earnings"`
	PendingBalance        int64   `json:"pending_balance"`
	Withdrawable          int64   `json:"withdrawable"`
	EventsPerformed       int     `json:"events_performed"`
	PayoutAccountID       *string `json:"-"`
	LastTransferAccountID *string `json:"-"`
}

var (
	// ErrFeeNotFound indicates no pending fee exists for the authorization
	ErrFeeNotFound = errors.New("pending fee not found")

	// ErrFeeAlreadyCleared indicates the fee was settled before the caller's
	// operation could apply
	ErrFeeAlreadyCleared = errors.New("fee already cleared")

	// ErrDisputeLogged indicates a dispute blocks settlement of the fee
	ErrDisputeLogged = errors.New("dispute logged against fee")

	// ErrRecipientNotFound indicates no recipient account exists
	ErrRecipientNotFound = errors.New("recipient account not found")

	// ErrBookingNotFound indicates the referenced booking does not exist
	ErrBookingNotFound = errors.New("booking not found")
)
