package sweeper

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LeaseRepository guards the sweep with a single-row database lease so only
// one instance reconciles at a time
type LeaseRepository struct {
	db *sql.DB
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Acquire takes the lease if it is free or expired. A live lease held by
// another owner leaves the row untouched and reports false.
func (r *LeaseRepository) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO sweeper_lease (id, owner, expires_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE sweeper_lease.expires_at < now()
	`

	result, err := r.db.ExecContext(ctx, query, owner, time.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweeper lease: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check lease acquisition: %w", err)
	}
	return affected > 0, nil
}

// Release frees the lease early if this owner still holds it
func (r *LeaseRepository) Release(ctx context.Context, owner string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM sweeper_lease WHERE id = 1 AND owner = $1`,
		owner,
	); err != nil {
		return fmt.Errorf("failed to release sweeper lease: %w", err)
	}
	return nil
}
