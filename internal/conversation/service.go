package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Store is the persistence contract the announcement flows consume.
// Implemented by Repository; tests substitute fakes.
type Store interface {
	ListByBooking(ctx context.Context, bookingID string) ([]*Conversation, error)
	FindBetween(ctx context.Context, bookingID, partyA, partyB string) (*Conversation, error)
	PostSystemMessage(ctx context.Context, conversationID, body string) (*Message, error)
	CloseWithAnnouncement(ctx context.Context, conversationID, body string) error
}

// Service posts settlement announcements into booking conversations
type Service struct {
	store Store
}

// NewService creates a new conversation service
func NewService(store Store) *Service {
	return &Service{store: store}
}

// AnnounceBookingConfirmed tells every thread on the booking what happened:
// the confirmed performer's thread gets the confirmation, every other
// applicant's thread is closed with a filled announcement.
func (s *Service) AnnounceBookingConfirmed(ctx context.Context, bookingID, venueID, recipientID string) error {
	conversations, err := s.store.ListByBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to list conversations for %s: %w", bookingID, err)
	}

	var lastErr error
	for _, c := range conversations {
		if c.HasParticipant(recipientID) {
			if _, err := s.store.PostSystemMessage(ctx, c.ID,
				"Booking confirmed. Payment has been received and your fee is held until the dispute window closes.",
			); err != nil {
				lastErr = err
			}
			continue
		}
		if err := s.store.CloseWithAnnouncement(ctx, c.ID,
			"This booking has been filled by another performer.",
		); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AnnouncePaymentFailed posts a failure notice into the thread between the
// venue and the performer whose charge failed
func (s *Service) AnnouncePaymentFailed(ctx context.Context, bookingID, venueID, recipientID string) error {
	c, err := s.store.FindBetween(ctx, bookingID, venueID, recipientID)
	if errors.Is(err, ErrConversationNotFound) {
		log.Printf("conversation: no thread between %s and %s on %s, skipping failure notice", venueID, recipientID, bookingID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find conversation for %s: %w", bookingID, err)
	}

	_, err = s.store.PostSystemMessage(ctx, c.ID,
		"Payment could not be completed. The booking has been reopened; please try again or use a different payment method.",
	)
	return err
}

// PostReviewPrompt asks both parties for a review after the event
func (s *Service) PostReviewPrompt(ctx context.Context, bookingID, venueID, recipientID string) error {
	c, err := s.store.FindBetween(ctx, bookingID, venueID, recipientID)
	if errors.Is(err, ErrConversationNotFound) {
		log.Printf("conversation: no thread between %s and %s on %s, skipping review prompt", venueID, recipientID, bookingID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find conversation for %s: %w", bookingID, err)
	}

	_, err = s.store.PostSystemMessage(ctx, c.ID,
		"How did the event go? Leave a review to help other venues and performers.",
	)
	return err
}
