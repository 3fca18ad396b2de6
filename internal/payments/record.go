package payments

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordStatus mirrors (possibly stale) authorization state in the side ledger
type RecordStatus string

const (
	RecordProcessing     RecordStatus = "processing"
	RecordRequiresAction RecordStatus = "requires_action"
	RecordSucceeded      RecordStatus = "succeeded"
	RecordFailed         RecordStatus = "failed"
)

// PaymentRecord is the side-ledger row keyed by the processor's
// authorization id, kept independent of the booking so the sweeper has a
// consistent view even when booking updates fail.
type PaymentRecord struct {
	AuthorizationID string       `json:"authorization_id"`
	BookingID       string       `json:"booking_id"`
	RecipientID     string       `json:"recipient_id"`
	Status          RecordStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	LastCheckedAt   time.Time    `json:"last_checked_at"`
}

// RecordRepository handles side-ledger persistence
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new payment record repository
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create upserts a payment record for a fresh authorization
func (r *RecordRepository) Create(ctx context.Context, rec *PaymentRecord) error {
	query := `
		INSERT INTO payment_records (authorization_id, booking_id, recipient_id, status, created_at, last_checked_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (authorization_id) DO UPDATE
		SET status = EXCLUDED.status, last_checked_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, rec.AuthorizationID, rec.BookingID, rec.RecipientID, rec.Status); err != nil {
		return fmt.Errorf("failed to create payment record: %w", err)
	}
	return nil
}

// MarkStatus records the authorization's observed state
func (r *RecordRepository) MarkStatus(ctx context.Context, authorizationID string, status RecordStatus) error {
	query := `UPDATE payment_records SET status = $2, last_checked_at = now() WHERE authorization_id = $1`
	if _, err := r.db.ExecContext(ctx, query, authorizationID, status); err != nil {
		return fmt.Errorf("failed to mark payment record %s: %w", authorizationID, err)
	}
	return nil
}

// Touch bumps last_checked_at without changing the status mirror
func (r *RecordRepository) Touch(ctx context.Context, authorizationID string) error {
	query := `UPDATE payment_records SET last_checked_at = now() WHERE authorization_id = $1`
	if _, err := r.db.ExecContext(ctx, query, authorizationID); err != nil {
		return fmt.Errorf("failed to touch payment record %s: %w", authorizationID, err)
	}
	return nil
}

// ListStaleProcessing returns a page of records still marked processing that
// were created before the cutoff. The (created_at, authorization_id) keyset
// gives a stable order so repeated pages eventually cover everything.
func (r *RecordRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time, afterCreated time.Time, afterID string, limit int) ([]*PaymentRecord, error) {
	query := `
		SELECT authorization_id, booking_id, recipient_id, status, created_at, last_checked_at
		FROM payment_records
		WHERE status = 'processing'
		  AND created_at <= $1
		  AND (created_at, authorization_id) > ($2, $3)
		ORDER BY created_at, authorization_id
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, cutoff, afterCreated, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payment records: %w", err)
	}
	defer rows.Close()

	var records []*PaymentRecord
	for rows.Next() {
		rec := &PaymentRecord{}
		if err := rows.Scan(
			&rec.AuthorizationID,
			&rec.BookingID,
			&rec.RecipientID,
			&rec.Status,
			&rec.CreatedAt,
			&rec.LastCheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
