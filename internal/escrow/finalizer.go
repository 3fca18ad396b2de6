package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/internal/payments"
)

// Finalizer settles escrowed fees once their dispute window has closed. It
// runs as a deferred task target, so every path is safe under at-least-once
// delivery and any external failure surfaces as an error so the queue
// retries the whole operation.
type Finalizer struct {
	store     Store
	processor payments.Processor
	mailer    Mailer
	currency  string
}

// NewFinalizer creates a new fee clearing finalizer
func NewFinalizer(store Store, processor payments.Processor, mailer Mailer, currency string) *Finalizer {
	return &Finalizer{
		store:     store,
		processor: processor,
		mailer:    mailer,
		currency:  currency,
	}
}

// ClearFee settles the fee named by the task payload. A fee that no longer
// exists was already settled and the redelivery is acknowledged as a no-op.
// A disputed fee returns ErrDisputeLogged so the caller can stop the retry
// chain for good.
func (f *Finalizer) ClearFee(ctx context.Context, payload ClearFeePayload) error {
	fee, err := f.store.GetPendingFee(ctx, payload.AuthorizationID)
	if errors.Is(err, ErrFeeNotFound) {
		log.Printf("finalizer: fee %s already settled, acknowledging redelivery", payload.AuthorizationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load pending fee %s: %w", payload.AuthorizationID, err)
	}

	if fee.Status == FeeStatusInDispute {
		return ErrDisputeLogged
	}

	acct, err := f.store.GetRecipientAccount(ctx, fee.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load recipient %s: %w", fee.RecipientID, err)
	}

	// Funds leave the platform only when the recipient's payout account
	// exists and can currently receive transfers. Otherwise the money stays
	// on the withdrawable balance and the account.updated flow drains it
	// once onboarding completes.
	var transferID *string
	if acct.PayoutAccountID != nil {
		canTransfer, err := f.processor.CanReceiveTransfers(ctx, *acct.PayoutAccountID)
		if err != nil {
			return fmt.Errorf("failed to check payout account %s: %w", *acct.PayoutAccountID, err)
		}
		if canTransfer {
			id, err := f.processor.Transfer(ctx, payments.TransferParams{
				Amount:      fee.Amount,
				Currency:    f.currency,
				Destination: *acct.PayoutAccountID,
				Metadata: map[string]string{
					"booking_id":       fee.BookingID,
					"recipient_id":     fee.RecipientID,
					"authorization_id": fee.AuthorizationID,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to transfer fee %s: %w", fee.AuthorizationID, err)
			}
			transferID = &id
		}
	}

	cleared, err := f.store.ClearPendingFee(ctx, fee.AuthorizationID, transferID)
	if errors.Is(err, ErrFeeAlreadyCleared) {
		log.Printf("finalizer: fee %s settled concurrently, acknowledging redelivery", fee.AuthorizationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear fee %s: %w", fee.AuthorizationID, err)
	}
	metrics.FeesClearedTotal.Inc()

	count, err := f.store.CountClearedFees(ctx, cleared.RecipientID)
	if err != nil {
		log.Printf("finalizer: failed to count cleared fees for %s: %v", cleared.RecipientID, err)
	} else if err := f.store.SetEventsPerformed(ctx, cleared.RecipientID, count); err != nil {
		log.Printf("finalizer: failed to update events performed for %s: %v", cleared.RecipientID, err)
	}

	if err := f.mailer.FeeReleased(ctx, payload.RecipientEmail, payload.RecipientName, cleared.Amount, cleared.Currency); err != nil {
		log.Printf("finalizer: failed to queue release mail for %s: %v", cleared.AuthorizationID, err)
	}

	return nil
}
