package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jharden/gigpay/internal/payments"
)

// Store is the persistence contract the payment confirmation flow consumes.
// Implemented by Repository; tests substitute fakes.
type Store interface {
	GetByID(ctx context.Context, bookingID string) (*Booking, error)
	SetPaymentProcessing(ctx context.Context, bookingID, recipientID, authorizationID string) error
	Reopen(ctx context.Context, bookingID string) error
}

// Records mirrors authorizations into the reconciliation side ledger
type Records interface {
	Create(ctx context.Context, rec *payments.PaymentRecord) error
}

// Service runs the synchronous half of taking a venue's payment. The
// asynchronous half (settlement on success, rollback on failure) is driven
// by webhook deliveries and the reconciliation sweeper.
type Service struct {
	store     Store
	records   Records
	processor payments.Processor
	currency  string
}

// NewService creates a new booking payment service
func NewService(store Store, records Records, processor payments.Processor, currency string) *Service {
	return &Service{
		store:     store,
		records:   records,
		processor: processor,
		currency:  currency,
	}
}

// ConfirmPayment charges the venue for the booking's fee on behalf of the
// accepted applicant. The booking and applicant move to their processing
// states before the outcome is known; terminal state is written only by the
// settlement pipeline.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID string, req *ConfirmPaymentRequest) (*PaymentOutcome, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if b.PaymentStatus == PaymentStatusSucceeded {
		return nil, ErrAlreadyPaid
	}
	if b.Status != BookingStatusOpen {
		return nil, ErrBookingClosed
	}
	if b.AcceptedApplicant(req.RecipientID) == nil {
		return nil, ErrApplicantNotAccepted
	}

	auth, err := s.processor.Authorize(ctx, payments.AuthorizeParams{
		Amount:          b.FeeAmount,
		Currency:        s.currency,
		CustomerID:      b.VenueCustomerID,
		PaymentMethodID: req.PaymentMethodID,
		Metadata: map[string]string{
			"booking_id":   b.ID,
			"venue_id":     b.VenueID,
			"recipient_id": req.RecipientID,
			"event_start":  b.EventStart.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		var requiresAction *payments.RequiresActionError
		if errors.As(err, &requiresAction) {
			if err := s.trackAuthorization(ctx, b, req.RecipientID, requiresAction.AuthorizationID, payments.RecordRequiresAction); err != nil {
				return nil, err
			}
			return &PaymentOutcome{
				Status:          OutcomeRequiresAction,
				AuthorizationID: requiresAction.AuthorizationID,
				ClientSecret:    requiresAction.ClientSecret,
			}, nil
		}
		if errors.Is(err, payments.ErrDeclined) {
			return &PaymentOutcome{Status: OutcomePaymentFailed, Reason: "card_declined"}, nil
		}
		return nil, fmt.Errorf("failed to authorize payment for booking %s: %w", bookingID, err)
	}

	recordStatus := payments.RecordProcessing
	outcomeStatus := OutcomeProcessing
	if auth.Status == payments.AuthorizationSucceeded {
		recordStatus = payments.RecordSucceeded
		outcomeStatus = OutcomeSucceeded
	}
	if err := s.trackAuthorization(ctx, b, req.RecipientID, auth.ID, recordStatus); err != nil {
		return nil, err
	}

	return &PaymentOutcome{Status: outcomeStatus, AuthorizationID: auth.ID}, nil
}

// trackAuthorization records the in-flight charge on both the booking and
// the side ledger. The ledger row is what lets the sweeper recover the
// booking if every webhook delivery is lost.
func (s *Service) trackAuthorization(ctx context.Context, b *Booking, recipientID, authorizationID string, status payments.RecordStatus) error {
	if err := s.records.Create(ctx, &payments.PaymentRecord{
		AuthorizationID: authorizationID,
		BookingID:       b.ID,
		RecipientID:     recipientID,
		Status:          status,
	}); err != nil {
		return fmt.Errorf("failed to record authorization %s: %w", authorizationID, err)
	}
	if err := s.store.SetPaymentProcessing(ctx, b.ID, recipientID, authorizationID); err != nil {
		return fmt.Errorf("failed to mark booking %s processing: %w", b.ID, err)
	}
	return nil
}
