package conversation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository handles conversation persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new conversation repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListByBooking returns every conversation attached to a booking
func (r *Repository) ListByBooking(ctx context.Context, bookingID string) ([]*Conversation, error) {
	query := `
		SELECT id, booking_id, participants, status, created_at
		FROM conversations
		WHERE booking_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(
			&c.ID,
			&c.BookingID,
			pq.Array(&c.Participants),
			&c.Status,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// FindBetween returns the booking's conversation containing both parties
func (r *Repository) FindBetween(ctx context.Context, bookingID, partyA, partyB string) (*Conversation, error) {
	query := `
		SELECT id, booking_id, participants, status, created_at
		FROM conversations
		WHERE booking_id = $1 AND participants @> $2
		LIMIT 1
	`

	c := &Conversation{}
	err := r.db.QueryRowContext(ctx, query, bookingID, pq.Array([]string{partyA, partyB})).Scan(
		&c.ID,
		&c.BookingID,
		pq.Array(&c.Participants),
		&c.Status,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	return c, nil
}

// PostSystemMessage appends a pipeline-generated message to the thread
func (r *Repository) PostSystemMessage(ctx context.Context, conversationID, body string) (*Message, error) {
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		IsSystem:       true,
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, body, is_system, created_at)
		VALUES ($1, $2, NULL, $3, true, now())
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, msg.ID, conversationID, body).Scan(&msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to post system message: %w", err)
	}
	return msg, nil
}

// CloseWithAnnouncement closes a thread and leaves a final system message
// explaining why, in one transaction
func (r *Repository) CloseWithAnnouncement(ctx context.Context, conversationID, body string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET status = 'closed' WHERE id = $1 AND status = 'open'`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to close conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check conversation update: %w", err)
	}
	if affected == 0 {
		// Already closed; replaying the announcement would duplicate it.
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, is_system, created_at)
		VALUES ($1, $2, NULL, $3, true, now())
	`, uuid.NewString(), conversationID, body); err != nil {
		return fmt.Errorf("failed to post closing announcement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
