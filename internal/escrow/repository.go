package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jharden/gigpay/internal/booking"
	"github.com/jharden/gigpay/internal/payments"
	"github.com/jharden/gigpay/internal/tasks"
)

// Repository handles escrow persistence. It also serves the payout-account
// operations the webhook dispatcher needs and the task-handle persistence
// the trampoline needs, since all three live on the same tables.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new escrow repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetBooking loads a booking with its venue contact details and applicants
func (r *Repository) GetBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	query := `
		SELECT b.id, b.venue_id, b.event_start, b.fee_amount, b.status, b.payment_status,
		       b.authorization_id, b.dispute_clearing_at, b.dispute_logged,
		       b.fee_task_handle, b.follow_up_task_handle,
		       v.name, v.email, v.customer_id
		FROM bookings b
		JOIN venues v ON v.id = b.venue_id
		WHERE b.id = $1
	`

	b := &booking.Booking{}
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
		var a booking.Applicant
		if err := rows.Scan(&a.RecipientID, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan booking applicant: %w", err)
		}
		b.Applicants = append(b.Applicants, a)
	}
	return b, rows.Err()
}

// CloseBookingConfirmed moves a booking to its settled shape in one
// transaction: booking closed with the charge recorded, the paid performer
// confirmed, every other live applicant declined. Safe to replay; the
// updates converge on the same final state.
func (r *Repository) CloseBookingConfirmed(ctx context.Context, bookingID, recipientID, authorizationID string, disputeClearingAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'closed', payment_status = 'succeeded',
		    authorization_id = $2, dispute_clearing_at = $3
		WHERE id = $1
	`, bookingID, authorizationID, disputeClearingAt)
	if err != nil {
		return fmt.Errorf("failed to close booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check booking update: %w", err)
	}
	if affected == 0 {
		return ErrBookingNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE booking_applicants SET status = 'confirmed'
		WHERE booking_id = $1 AND recipient_id = $2 AND status IN ('applied', 'accepted', 'payment_processing')
	`, bookingID, recipientID); err != nil {
		return fmt.Errorf("failed to confirm applicant: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE booking_applicants SET status = 'declined'
		WHERE booking_id = $1 AND recipient_id <> $2 AND status IN ('applied', 'accepted', 'payment_processing')
	`, bookingID, recipientID); err != nil {
		return fmt.Errorf("failed to decline other applicants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveTaskHandle stores the latest queue handle for the booking's scheduled
// delivery of the given kind
func (r *Repository) SaveTaskHandle(ctx context.Context, bookingID string, kind tasks.Kind, handle string) error {
	var column string
	switch kind {
	case tasks.KindClearFee:
		column = "fee_task_handle"
	case tasks.KindFollowUp:
		column = "follow_up_task_handle"
	default:
		return fmt.Errorf("no handle column for task kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE bookings SET %s = $2 WHERE id = $1`, column)
	result, err := r.db.ExecContext(ctx, query, bookingID, handle)
	if err != nil {
		return fmt.Errorf("failed to save task handle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check task handle update: %w", err)
	}
	if affected == 0 {
		return tasks.ErrUnknownBooking
	}
	return nil
}

// CreatePendingFee inserts an escrowed fee and moves its amount into the
// recipient's pending balance. The authorization id is the idempotency key:
// a duplicate delivery inserts nothing, touches no balance, and reports
// created=false.
func (r *Repository) CreatePendingFee(ctx context.Context, fee *PendingFee) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO pending_fees (authorization_id, booking_id, recipient_id, venue_id, amount, currency, status, dispute_clearing_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, now())
		ON CONFLICT (authorization_id) DO NOTHING
	`, fee.AuthorizationID, fee.BookingID, fee.RecipientID, fee.VenueID, fee.Amount, fee.Currency, fee.DisputeClearingAt)
	if err != nil {
		return false, fmt.Errorf("failed to create pending fee: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check pending fee insert: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	balanceResult, err := tx.ExecContext(ctx, `
		UPDATE recipient_accounts SET pending_balance = pending_balance + $2
		WHERE recipient_id = $1
	`, fee.RecipientID, fee.Amount)
	if err != nil {
		return false, fmt.Errorf("failed to increase pending balance: %w", err)
	}
	affected, err = balanceResult.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check balance update: %w", err)
	}
	if affected == 0 {
		return false, ErrRecipientNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// GetPendingFee returns the pending fee for an authorization
func (r *Repository) GetPendingFee(ctx context.Context, authorizationID string) (*PendingFee, error) {
	query := `
		SELECT authorization_id, booking_id, recipient_id, venue_id, amount, currency, status, dispute_clearing_at, created_at
		FROM pending_fees
		WHERE authorization_id = $1
	`

	fee := &PendingFee{}
	err := r.db.QueryRowContext(ctx, query, authorizationID).Scan(
		&fee.AuthorizationID,
		&fee.BookingID,
		&fee.RecipientID,
		&fee.VenueID,
		&fee.Amount,
		&fee.Currency,
		&fee.Status,
		&fee.DisputeClearingAt,
		&fee.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrFeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending fee: %w", err)
	}
	return fee, nil
}

// ClearPendingFee settles an escrowed fee in one transaction: archive it,
// remove it from escrow, move the money out of the pending balance, and mark
// the performer's application paid. Withdrawable only grows when no external
// transfer carried the funds out (transferID nil).
func (r *Repository) ClearPendingFee(ctx context.Context, authorizationID string, transferID *string) (*ClearedFee, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fee := &PendingFee{}
	err = tx.QueryRowContext(ctx, `
		SELECT authorization_id, booking_id, recipient_id, venue_id, amount, currency, status
		FROM pending_fees
		WHERE authorization_id = $1
		FOR UPDATE
	`, authorizationID).Scan(
		&fee.AuthorizationID,
		&fee.BookingID,
		&fee.RecipientID,
		&fee.VenueID,
		&fee.Amount,
		&fee.Currency,
		&fee.Status,
	)
	if err == sql.ErrNoRows {
		var cleared bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cleared_fees WHERE authorization_id = $1)`,
			authorizationID,
		).Scan(&cleared); err != nil {
			return nil, fmt.Errorf("failed to check cleared fees: %w", err)
		}
		if cleared {
			return nil, ErrFeeAlreadyCleared
		}
		return nil, ErrFeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending fee: %w", err)
	}

	if fee.Status == FeeStatusInDispute {
		return nil, ErrDisputeLogged
	}

	out := &ClearedFee{
		AuthorizationID: fee.AuthorizationID,
		BookingID:       fee.BookingID,
		RecipientID:     fee.RecipientID,
		VenueID:         fee.VenueID,
		Amount:          fee.Amount,
		Currency:        fee.Currency,
		TransferID:      transferID,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO cleared_fees (authorization_id, booking_id, recipient_id, venue_id, amount, currency, transfer_id, cleared_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING cleared_at
	`, out.AuthorizationID, out.BookingID, out.RecipientID, out.VenueID, out.Amount, out.Currency, out.TransferID).Scan(&out.ClearedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to archive cleared fee: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_fees WHERE authorization_id = $1`,
		authorizationID,
	); err != nil {
		return nil, fmt.Errorf("failed to remove pending fee: %w", err)
	}

	if transferID == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE recipient_accounts
			SET earnings = earnings + $2, pending_balance = pending_balance - $2, withdrawable = withdrawable + $2
			WHERE recipient_id = $1
		`, fee.RecipientID, fee.Amount)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE recipient_accounts
			SET earnings = earnings + $2, pending_balance = pending_balance - $2
			WHERE recipient_id = $1
		`, fee.RecipientID, fee.Amount)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to settle recipient balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE booking_applicants SET status = 'paid'
		WHERE booking_id = $1 AND recipient_id = $2 AND status = 'confirmed'
	`, fee.BookingID, fee.RecipientID); err != nil {
		return nil, fmt.Errorf("failed to mark applicant paid: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return out, nil
}

// MarkFeeDisputed freezes a pending fee and flags the booking. The frozen
// fee keeps its money in the pending balance until the dispute is resolved
// out of band. Returns the fee so callers can cancel its clearing task.
func (r *Repository) MarkFeeDisputed(ctx context.Context, recipientID, authorizationID string) (*PendingFee, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fee := &PendingFee{}
	err = tx.QueryRowContext(ctx, `
		SELECT authorization_id, booking_id, recipient_id, venue_id, amount, currency, status
		FROM pending_fees
		WHERE authorization_id = $1
		FOR UPDATE
	`, authorizationID).Scan(
		&fee.AuthorizationID,
		&fee.BookingID,
		&fee.RecipientID,
		&fee.VenueID,
		&fee.Amount,
		&fee.Currency,
		&fee.Status,
	)
	if err == sql.ErrNoRows {
		var cleared bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cleared_fees WHERE authorization_id = $1)`,
			authorizationID,
		).Scan(&cleared); err != nil {
			return nil, fmt.Errorf("failed to check cleared fees: %w", err)
		}
		if cleared {
			return nil, ErrFeeAlreadyCleared
		}
		return nil, ErrFeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending fee: %w", err)
	}

	// Ownership check folds into not-found so callers cannot probe for other
	// recipients' authorization ids.
	if fee.RecipientID != recipientID {
		return nil, ErrFeeNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_fees SET status = 'in_dispute', dispute_clearing_at = NULL
		WHERE authorization_id = $1
	`, authorizationID); err != nil {
		return nil, fmt.Errorf("failed to mark fee disputed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET dispute_logged = true WHERE id = $1`,
		fee.BookingID,
	); err != nil {
		return nil, fmt.Errorf("failed to flag booking dispute: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	fee.Status = FeeStatusInDispute
	fee.DisputeClearingAt = nil
	return fee, nil
}

// GetRecipientAccount loads a recipient's account and balances
func (r *Repository) GetRecipientAccount(ctx context.Context, recipientID string) (*RecipientAccount, error) {
	query := `
		SELECT recipient_id, name, email, earnings, pending_balance, withdrawable, events_performed,
		       payout_account_id, last_transfer_account_id
		FROM recipient_accounts
		WHERE recipient_id = $1
	`

	acct := &RecipientAccount{}
	err := r.db.QueryRowContext(ctx, query, recipientID).Scan(
		&acct.RecipientID,
		&acct.Name,
		&acct.Email,
		&acct.Earnings,
		&acct.PendingBalance,
		&acct.Withdrawable,
		&acct.EventsPerformed,
		&acct.PayoutAccountID,
		&acct.LastTransferAccountID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient account: %w", err)
	}
	return acct, nil
}

// CountClearedFees returns how many fees have cleared for the recipient
func (r *Repository) CountClearedFees(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cleared_fees WHERE recipient_id = $1`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared fees: %w", err)
	}
	return count, nil
}

// SetEventsPerformed records the recipient's completed-events counter.
// Recounted from cleared fees after each settlement rather than incremented,
// so replays cannot inflate it.
func (r *Repository) SetEventsPerformed(ctx context.Context, recipientID string, count int) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE recipient_accounts SET events_performed = $2 WHERE recipient_id = $1`,
		recipientID, count,
	); err != nil {
		return fmt.Errorf("failed to set events performed: %w", err)
	}
	return nil
}

// RecipientBalance returns the withdrawable view the webhook dispatcher
// needs when a payout account finishes onboarding
func (r *Repository) RecipientBalance(ctx context.Context, recipientID string) (*payments.RecipientBalance, error) {
	acct, err := r.GetRecipientAccount(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	bal := &payments.RecipientBalance{
		RecipientID:  acct.RecipientID,
		Withdrawable: acct.Withdrawable,
	}
	if acct.LastTransferAccountID != nil {
		bal.LastTransferAccountID = *acct.LastTransferAccountID
	}
	return bal, nil
}

// SetPayoutAccount links a processor payout account to the recipient
func (r *Repository) SetPayoutAccount(ctx context.Context, recipientID, payoutAccountID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE recipient_accounts SET payout_account_id = $2 WHERE recipient_id = $1`,
		recipientID, payoutAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set payout account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check payout account update: %w", err)
	}
	if affected == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// DrainWithdrawable moves a withdrawable balance out after an external
// transfer. The guard on the current balance makes a concurrent drain fail
// instead of going negative.
func (r *Repository) DrainWithdrawable(ctx context.Context, recipientID, payoutAccountID string, amount int64, transferID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE recipient_accounts
		SET withdrawable = withdrawable - $2, last_transfer_account_id = $3
		WHERE recipient_id = $1 AND withdrawable >= $2
	`, recipientID, amount, payoutAccountID)
	if err != nil {
		return fmt.Errorf("failed to drain withdrawable balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check withdrawable update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("withdrawable balance for %s changed underneath transfer %s", recipientID, transferID)
	}
	return nil
}
