package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/internal/payments"
)

// Lease serializes sweeps across instances
type Lease interface {
	Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

// Records is the side-ledger slice the sweeper consumes
type Records interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, afterCreated time.Time, afterID string, limit int) ([]*payments.PaymentRecord, error)
	MarkStatus(ctx context.Context, authorizationID string, status payments.RecordStatus) error
	Touch(ctx context.Context, authorizationID string) error
}

// Config holds the sweeper's timing and paging knobs
type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	LeaseTTL   time.Duration
	PageSize   int
}

// Sweeper is the safety net under webhook delivery. It queries the
// processor for authorizations stuck in processing and pushes terminal ones
// through the same success and failure handlers the webhook path uses, so a
// recovered booking is indistinguishable from one settled live.
type Sweeper struct {
	lease     Lease
	records   Records
	processor payments.Processor
	success   payments.SuccessHandler
	failure   payments.FailureHandler
	cfg       Config
	owner     string
	now       func() time.Time
}

// NewSweeper creates a new reconciliation sweeper
func NewSweeper(lease Lease, records Records, processor payments.Processor, success payments.SuccessHandler, failure payments.FailureHandler, cfg Config) *Sweeper {
	return &Sweeper{
		lease:     lease,
		records:   records,
		processor: processor,
		success:   success,
		failure:   failure,
		cfg:       cfg,
		owner:     uuid.NewString(),
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every tick until the context ends
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		log.Printf("sweeper: sweep failed: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("sweeper: sweep failed: %v", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass. Per-record failures are logged and
// skipped so one bad authorization cannot starve the rest of the page; the
// skipped record stays stale and the next pass retries it.
func (s *Sweeper) Sweep(ctx context.Context) error {
	acquired, err := s.lease.Acquire(ctx, s.owner, s.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !acquired {
		log.Printf("sweeper: lease held elsewhere, skipping pass")
		return nil
	}
	defer func() {
		if err := s.lease.Release(ctx, s.owner); err != nil {
			log.Printf("sweeper: failed to release lease: %v", err)
		}
	}()

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	var afterCreated time.Time
	var afterID string

	for {
		page, err := s.records.ListStaleProcessing(ctx, cutoff, afterCreated, afterID, s.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for _, rec := range page {
			s.reconcile(ctx, rec)
		}

		last := page[len(page)-1]
		afterCreated = last.CreatedAt
		afterID = last.AuthorizationID

		if len(page) < s.cfg.PageSize {
			break
		}
	}

	metrics.SweeperRunsTotal.Inc()
	return nil
}

func (s *Sweeper) reconcile(ctx context.Context, rec *payments.PaymentRecord) {
	auth, err := s.processor.RetrieveAuthorization(ctx, rec.AuthorizationID)
	if err != nil {
		log.Printf("sweeper: failed to retrieve authorization %s: %v", rec.AuthorizationID, err)
		return
	}

	switch auth.Status {
	case payments.AuthorizationSucceeded:
		if err := s.success.HandleAuthorizationSucceeded(ctx, auth); err != nil {
			log.Printf("sweeper: success handler failed for %s: %v", auth.ID, err)
			return
		}
		if err := s.records.MarkStatus(ctx, auth.ID, payments.RecordSucceeded); err != nil {
			log.Printf("sweeper: failed to mark record %s: %v", auth.ID, err)
		}
		metrics.SweeperReconciledTotal.Inc()

	case payments.AuthorizationFailed:
		if err := s.failure.HandleAuthorizationFailed(ctx, auth); err != nil {
			log.Printf("sweeper: failure handler failed for %s: %v", auth.ID, err)
			return
		}
		if err := s.records.MarkStatus(ctx, auth.ID, payments.RecordFailed); err != nil {
			log.Printf("sweeper: failed to mark record %s: %v", auth.ID, err)
		}
		metrics.SweeperReconciledTotal.Inc()

	default:
		// Still in flight at the processor. Touching the record keeps the
		// check timestamp honest without taking it out of future passes.
		if err := s.records.Touch(ctx, auth.ID); err != nil {
			log.Printf("sweeper: failed to touch record %s: %v", auth.ID, err)
		}
	}
}
