package escrow

import (
	"context"
	"log"

	"github.com/jharden/gigpay/internal/tasks"
)

// DisputeService freezes escrowed fees when the venue reports a problem
// with the engagement before the dispute window closes
type DisputeService struct {
	repo  *Repository
	queue tasks.Scheduler
}

// NewDisputeService creates a new dispute service
func NewDisputeService(repo *Repository, queue tasks.Scheduler) *DisputeService {
	return &DisputeService{repo: repo, queue: queue}
}

// MarkDisputed freezes the fee and, best effort, cancels its scheduled
// clearing task. Cancellation is an optimization only: a delivery that slips
// through is rejected by the finalizer's dispute check.
func (s *DisputeService) MarkDisputed(ctx context.Context, recipientID, authorizationID string) (*PendingFee, error) {
	fee, err := s.repo.MarkFeeDisputed(ctx, recipientID, authorizationID)
	if err != nil {
		return nil, err
	}

	b, err := s.repo.GetBooking(ctx, fee.BookingID)
	if err != nil {
		log.Printf("dispute: failed to load booking %s for task cancellation: %v", fee.BookingID, err)
		return fee, nil
	}
	if b.FeeTaskHandle != nil {
		if err := s.queue.Delete(ctx, *b.FeeTaskHandle); err != nil {
			log.Printf("dispute: failed to cancel clearing task %s: %v", *b.FeeTaskHandle, err)
		}
	}
	return fee, nil
}
