package conversation

import (
	"context"
	"testing"
)

type fakeStore struct {
	conversations []*Conversation
	posted        map[string][]string
	closed        map[string]string
}

func newFakeStore(conversations ...*Conversation) *fakeStore {
	return &fakeStore{
		conversations: conversations,
		posted:        make(map[string][]string),
		closed:        make(map[string]string),
	}
}

func (f *fakeStore) ListByBooking(ctx context.Context, bookingID string) ([]*Conversation, error) {
	var out []*Conversation
	for _, c := range f.conversations {
		if c.BookingID == bookingID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) FindBetween(ctx context.Context, bookingID, partyA, partyB string) (*Conversation, error) {
	for _, c := range f.conversations {
		if c.BookingID == bookingID && c.HasParticipant(partyA) && c.HasParticipant(partyB) {
			return c, nil
		}
	}
	return nil, ErrConversationNotFound
}

func (f *fakeStore) PostSystemMessage(ctx context.Context, conversationID, body string) (*Message, error) {
	f.posted[conversationID] = append(f.posted[conversationID], body)
	return &Message{ID: "msg_1", ConversationID: conversationID, Body: body, IsSystem: true}, nil
}

func (f *fakeStore) CloseWithAnnouncement(ctx context.Context, conversationID, body string) error {
	f.closed[conversationID] = body
	return nil
}

func threads() (*fakeStore, *Conversation, *Conversation) {
	winner := &Conversation{
		ID:           "conv_winner",
		BookingID:    "bk_1",
		Participants: []string{"ven_1", "rcp_1"},
		Status:       ConversationStatusOpen,
	}
	loser := &Conversation{
		ID:           "conv_loser",
		BookingID:    "bk_1",
		Participants: []string{"ven_1", "rcp_2"},
		Status:       ConversationStatusOpen,
	}
	return newFakeStore(winner, loser), winner, loser
}

func TestAnnounceBookingConfirmed(t *testing.T) {
	store, winner, loser := threads()
	s := NewService(store)

	if err := s.AnnounceBookingConfirmed(context.Background(), "bk_1", "ven_1", "rcp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.posted[winner.ID]) != 1 {
		t.Errorf("expected confirmation posted to the confirmed thread, got %v", store.posted[winner.ID])
	}
	if _, ok := store.closed[winner.ID]; ok {
		t.Error("expected the confirmed thread left open")
	}
	if _, ok := store.closed[loser.ID]; !ok {
		t.Error("expected the other applicant's thread closed with an announcement")
	}
	if len(store.posted[loser.ID]) != 0 {
		t.Errorf("expected no confirmation in the losing thread, got %v", store.posted[loser.ID])
	}
}

func TestAnnouncePaymentFailed(t *testing.T) {
	t.Run("posts into the thread between the parties", func(t *testing.T) {
		store, winner, loser := threads()
		s := NewService(store)

		if err := s.AnnouncePaymentFailed(context.Background(), "bk_1", "ven_1", "rcp_1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.posted[winner.ID]) != 1 {
			t.Errorf("expected one failure notice, got %v", store.posted[winner.ID])
		}
		if len(store.posted[loser.ID]) != 0 {
			t.Error("expected other threads untouched")
		}
	})

	t.Run("tolerates a missing thread", func(t *testing.T) {
		s := NewService(newFakeStore())

		if err := s.AnnouncePaymentFailed(context.Background(), "bk_1", "ven_1", "rcp_1"); err != nil {
			t.Fatalf("expected nil error for missing thread, got %v", err)
		}
	})
}

func TestPostReviewPrompt(t *testing.T) {
	store, winner, _ := threads()
	s := NewService(store)

	if err := s.PostReviewPrompt(context.Background(), "bk_1", "ven_1", "rcp_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.posted[winner.ID]) != 1 {
		t.Errorf("expected one review prompt, got %v", store.posted[winner.ID])
	}
}
