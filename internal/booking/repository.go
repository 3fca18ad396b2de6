package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrBookingNotFound indicates the booking does not exist
	ErrBookingNotFound = errors.New("booking not found")

	// ErrBookingClosed indicates the booking is no longer open
	ErrBookingClosed = errors.New("booking is closed")

	// ErrAlreadyPaid indicates a charge already succeeded for the booking
	ErrAlreadyPaid = errors.New("booking already paid")

	// ErrApplicantNotAccepted indicates the recipient has no accepted
	// application on the booking
	ErrApplicantNotAccepted = errors.New("applicant not accepted for booking")
)

// Repository handles booking persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new booking repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetByID loads a booking with its venue contact details and applicants
func (r *Repository) GetByID(ctx context.Context, bookingID string) (*Booking, error) {
	query := `
		SELECT b.id, b.venue_id, b.event_start, b.fee_amount, b.status, b.payment_status,
		       b.authorization_id, b.dispute_clearing_at, b.dispute_logged,
		       b.fee_task_handle, b.follow_up_task_handle,
		       v.name, v.email, v.customer_id
		FROM bookings b
		JOIN venues v ON v.id = b.venue_id
		WHERE b.id = $1
	`

	b := &Booking{}
	err := r.db.QueryRowContext(ctx, query, bookingID).Scan(
		&b.ID,
		&b.VenueID,
		&b.EventStart,
		&b.FeeAmount,
		&b.Status,
		&b.PaymentStatus,
		&b.AuthorizationID,
		&b.DisputeClearingAt,
		&b.DisputeLogged,
		&b.FeeTaskHandle,
		&b.FollowUpTaskHandle,
		&b.VenueName,
		&b.VenueEmail,
		&b.VenueCustomerID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT recipient_id, status FROM booking_applicants WHERE booking_id = $1 ORDER BY recipient_id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking applicants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Applicant
		if err := rows.Scan(&a.RecipientID, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan booking applicant: %w", err)
		}
		b.Applicants = append(b.Applicants, a)
	}
	return b, rows.Err()
}

// SetPaymentProcessing records an in-flight charge against the booking and
// moves the charged applicant into the payment_processing state
func (r *Repository) SetPaymentProcessing(ctx context.Context, bookingID, recipientID, authorizationID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings SET payment_status = 'processing', authorization_id = $2
		WHERE id = $1 AND status = 'open'
	`, bookingID, authorizationID)
	if err != nil {
		return fmt.Errorf("failed to mark booking processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check booking update: %w", err)
	}
	if affected == 0 {
		return ErrBookingClosed
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE booking_applicants SET status = 'payment_processing'
		WHERE booking_id = $1 AND recipient_id = $2 AND status = 'accepted'
	`, bookingID, recipientID); err != nil {
		return fmt.Errorf("failed to mark applicant processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Reopen rolls a booking back to its pre-charge shape after a failed
// payment. The authorization id stays on the row for audit.
func (r *Repository) Reopen(ctx context.Context, bookingID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE bookings SET payment_status = 'failed'
		WHERE id = $1 AND status = 'open'
	`, bookingID); err != nil {
		return fmt.Errorf("failed to reopen booking: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE booking_applicants SET status = 'accepted'
		WHERE booking_id = $1 AND status = 'payment_processing'
	`, bookingID); err != nil {
		return fmt.Errorf("failed to restore applicants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
