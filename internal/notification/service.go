package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store is the outbox contract the mail service consumes
type Store interface {
	Create(ctx context.Context, email *Email) error
}

// Service composes and queues transactional mail for settlement milestones.
// It satisfies the mailer contracts of the escrow and conversation packages.
type Service struct {
	store Store
}

// NewService creates a new notification service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// BookingConfirmed tells the performer their booking is locked in and when
// their fee will be released
func (s *Service) BookingConfirmed(ctx context.Context, recipientEmail, recipientName, venueName string, eventStart time.Time, amount int64, currency string) error {
	body := fmt.Sprintf(`
		<h2>You're booked!</h2>
		<p>Hi %s,</p>
		<p>%s has confirmed your booking for %s and paid your fee of %s.</p>
		<p>Your fee is held securely and will be released to you after the event, once the dispute window has closed.</p>
	`, recipientName, venueName, eventStart.Format("Monday 2 January 2006 at 15:04"), formatAmount(amount, currency))

	return s.store.Create(ctx, &Email{
		To:       recipientEmail,
		Subject:  fmt.Sprintf("Booking confirmed with %s", venueName),
		HTMLBody: body,
	})
}

// FeeReleased tells the performer their escrowed fee has settled
func (s *Service) FeeReleased(ctx context.Context, recipientEmail, recipientName string, amount int64, currency string) error {
	body := fmt.Sprintf(`
		<h2>Your fee has been released</h2>
		<p>Hi %s,</p>
		<p>Your fee of %s has cleared and is on its way to you.</p>
	`, recipientName, formatAmount(amount, currency))

	return s.store.Create(ctx, &Email{
		To:       recipientEmail,
		Subject:  "Your fee has been released",
		HTMLBody: body,
	})
}

// ReviewPrompt asks a party to review their counterpart after the event
func (s *Service) ReviewPrompt(ctx context.Context, email, name, counterpartName string) error {
	body := fmt.Sprintf(`
		<h2>How did it go?</h2>
		<p>Hi %s,</p>
		<p>Your event with %s has taken place. Leave a review to help the rest of the community.</p>
	`, name, counterpartName)

	return s.store.Create(ctx, &Email{
		To:       email,
		Subject:  fmt.Sprintf("Leave a review for %s", counterpartName),
		HTMLBody: body,
	})
}

func formatAmount(minorUnits int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(minorUnits)/100, strings.ToUpper(currency))
}
