package conversation

import (
	"errors"
	"time"
)

// ConversationStatus represents whether a thread still accepts messages
type ConversationStatus string

const (
	ConversationStatusOpen   ConversationStatus = "open"
	ConversationStatusClosed ConversationStatus = "closed"
)

// Conversation is a message thread between a venue and one applicant about
// a specific booking
type Conversation struct {
	ID           string             `json:"id"`
	BookingID    string             `json:"booking_id"`
	Participants []string           `json:"participants"`
	Status       ConversationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// HasParticipant reports whether the given party is in the thread
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Message is a single entry in a conversation. System messages have no
// sender and are produced by the settlement pipeline.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       *string   `json:"sender_id,omitempty"`
	Body           string    `json:"body"`
	IsSystem       bool      `json:"is_system"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrConversationNotFound indicates no thread matches the lookup
var ErrConversationNotFound = errors.New("conversation not found")
