package notification

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Repository handles mail outbox persistence
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new notification repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create queues an email in the outbox
func (r *Repository) Create(ctx context.Context, email *Email) error {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}

	query := `
		INSERT INTO mail_outbox (id, recipient, subject, html_body, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, email.ID, email.To, email.Subject, email.HTMLBody).Scan(&email.CreatedAt); err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}
	return nil
}
