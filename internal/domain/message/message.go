// Package message holds chat conversations and their append-only messages.
package message

import "time"

// Chat is a conversation attached to one design request.
type Chat struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Message is a row of the messages table. Messages are never edited.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Before orders messages by created_at, then id for equal timestamps.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// Form is what the user types into the composer.
type Form struct {
	Text string `json:"text" validate:"required,max=4000"`
}
