package escrow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jharden/gigpay/internal/booking"
	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/internal/payments"
	"github.com/jharden/gigpay/internal/tasks"
)

// Store is the persistence contract the writer and finalizer consume.
// Implemented by Repository; tests substitute fakes.
type Store interface {
	GetBooking(ctx context.Context, bookingID string) (*booking.Booking, error)
	CloseBookingConfirmed(ctx context.Context, bookingID, recipientID, authorizationID string, disputeClearingAt time.Time) error
	SaveTaskHandle(ctx context.Context, bookingID string, kind tasks.Kind, handle string) error
	CreatePendingFee(ctx context.Context, fee *PendingFee) (bool, error)
	GetPendingFee(ctx context.Context, authorizationID string) (*PendingFee, error)
	ClearPendingFee(ctx context.Context, authorizationID string, transferID *string) (*ClearedFee, error)
	GetRecipientAccount(ctx context.Context, recipientID string) (*RecipientAccount, error)
	CountClearedFees(ctx context.Context, recipientID string) (int, error)
	SetEventsPerformed(ctx context.Context, recipientID string, count int) error
}

// Conversations posts settlement announcements into booking conversations
type Conversations interface {
	AnnounceBookingConfirmed(ctx context.Context, bookingID, venueID, recipientID string) error
}

// Mailer queues transactional mail for settlement milestones
type Mailer interface {
	BookingConfirmed(ctx context.Context, recipientEmail, recipientName, venueName string, eventStart time.Time, amount int64, currency string) error
	FeeReleased(ctx context.Context, recipientEmail, recipientName string, amount int64, currency string) error
}

// Writer turns a successful charge authorization into settled booking state:
// booking closed, fee escrowed, clearing and follow-up deliveries scheduled.
// Both the webhook dispatcher and the reconciliation sweeper drive it, so
// every step is safe under duplicate delivery.
type Writer struct {
	store         Store
	sched         tasks.Scheduler
	conversations Conversations
	mailer        Mailer
	disputeWindow time.Duration
	horizon       time.Duration
	now           func() time.Time
}

// NewWriter creates a new settlement writer
func NewWriter(store Store, sched tasks.Scheduler, conversations Conversations, mailer Mailer, disputeWindow, horizon time.Duration) *Writer {
	return &Writer{
		store:         store,
		sched:         sched,
		conversations: conversations,
		mailer:        mailer,
		disputeWindow: disputeWindow,
		horizon:       horizon,
		now:           time.Now,
	}
}

// HandleAuthorizationSucceeded implements payments.SuccessHandler
func (w *Writer) HandleAuthorizationSucceeded(ctx context.Context, auth *payments.Authorization) error {
	event, err := EventFromAuthorization(auth)
	if err != nil {
		// Charges without booking metadata did not come from this pipeline.
		log.Printf("writer: skipping authorization %s: %v", auth.ID, err)
		return nil
	}

	b, err := w.store.GetBooking(ctx, event.BookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking %s: %w", event.BookingID, err)
	}

	acct, err := w.store.GetRecipientAccount(ctx, event.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to load recipient %s: %w", event.RecipientID, err)
	}

	disputeClearingAt := event.EventStart.Add(w.disputeWindow)

	if err := w.store.CloseBookingConfirmed(ctx, event.BookingID, event.RecipientID, event.AuthorizationID, disputeClearingAt); err != nil {
		return fmt.Errorf("failed to close booking %s: %w", event.BookingID, err)
	}

	created, err := w.store.CreatePendingFee(ctx, &PendingFee{
		AuthorizationID:   event.AuthorizationID,
		BookingID:         event.BookingID,
		RecipientID:       event.RecipientID,
		VenueID:           event.VenueID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		DisputeClearingAt: &disputeClearingAt,
	})
	if err != nil {
		return fmt.Errorf("failed to escrow fee for %s: %w", event.AuthorizationID, err)
	}
	if created {
		metrics.PendingFeesCreatedTotal.Inc()
	}

	ceiling := w.now().Add(w.horizon)

	// A duplicate delivery normally changes nothing, but a missing handle
	// means a previous attempt died between escrowing the fee and enqueueing
	// its task, so the schedule step runs again. Clearing is idempotent, so
	// a rare extra task is harmless.
	if created || b.FeeTaskHandle == nil {
		handle, err := tasks.ScheduleWithCeiling(ctx, w.sched, tasks.KindClearFee, event.BookingID, ClearFeePayload{
			AuthorizationID:   event.AuthorizationID,
			BookingID:         event.BookingID,
			RecipientID:       event.RecipientID,
			VenueID:           event.VenueID,
			Amount:            event.Amount,
			Currency:          event.Currency,
			DisputeClearingAt: disputeClearingAt,
			RecipientName:     acct.Name,
			RecipientEmail:    acct.Email,
			VenueName:         b.VenueName,
		}, disputeClearingAt, ceiling)
		if err != nil {
			metrics.TaskScheduleFailuresTotal.Inc()
			return fmt.Errorf("failed to schedule fee clearing for %s: %w", event.BookingID, err)
		}
		if err := w.store.SaveTaskHandle(ctx, event.BookingID, tasks.KindClearFee, handle); err != nil {
			log.Printf("writer: failed to persist clear-fee handle for %s: %v", event.BookingID, err)
		}
	}

	if created || b.FollowUpTaskHandle == nil {
		handle, err := tasks.ScheduleWithCeiling(ctx, w.sched, tasks.KindFollowUp, event.BookingID, FollowUpPayload{
			BookingID:      event.BookingID,
			RecipientID:    event.RecipientID,
			VenueID:        event.VenueID,
			EventStart:     event.EventStart,
			RecipientName:  acct.Name,
			RecipientEmail: acct.Email,
			VenueName:      b.VenueName,
			VenueEmail:     b.VenueEmail,
		}, event.EventStart, ceiling)
		if err != nil {
			metrics.TaskScheduleFailuresTotal.Inc()
			return fmt.Errorf("failed to schedule follow-up for %s: %w", event.BookingID, err)
		}
		if err := w.store.SaveTaskHandle(ctx, event.BookingID, tasks.KindFollowUp, handle); err != nil {
			log.Printf("writer: failed to persist follow-up handle for %s: %v", event.BookingID, err)
		}
	}

	if created {
		if err := w.conversations.AnnounceBookingConfirmed(ctx, event.BookingID, event.VenueID, event.RecipientID); err != nil {
			log.Printf("writer: failed to announce confirmation for %s: %v", event.BookingID, err)
		}
		if err := w.mailer.BookingConfirmed(ctx, acct.Email, acct.Name, b.VenueName, event.EventStart, event.Amount, event.Currency); err != nil {
			log.Printf("writer: failed to queue confirmation mail for %s: %v", event.BookingID, err)
		}
	}

	return nil
}
