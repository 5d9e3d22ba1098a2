package resource

import (
	"context"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Chats accesses the chats table.
type Chats struct {
	base
}

// NewChats creates a Chats resource client.
func NewChats(db *client.Client, tokens Tokens) *Chats {
	return &Chats{base{db: db, tokens: tokens}}
}

// ForRequest returns the chat of a request. ok is false when none exists yet.
func (c *Chats) ForRequest(ctx context.Context, requestID string) (chat message.Chat, ok bool, err error) {
	rows, err := list[message.Chat](ctx, "chats.for_request", c.from(TableChats).Eq("request_id", requestID).Order("created_at", true).Limit(1))
	if err != nil || len(rows) == 0 {
		return message.Chat{}, false, err
	}
	return rows[0], true, nil
}

// ForParticipant returns every chat userID takes part in.
func (c *Chats) ForParticipant(ctx context.Context, userID string) ([]message.Chat, error) {
	q := c.from(TableChats).Contains("participants", []string{userID}).Order("created_at", false)
	return list[message.Chat](ctx, "chats.for_participant", q)
}

// Ensure returns the chat of a request, creating it on first use. A chat
// created concurrently by the other participant is picked up instead.
func (c *Chats) Ensure(ctx context.Context, requestID string, participants []string) (message.Chat, error) {
	if chat, ok, err := c.ForRequest(ctx, requestID); err != nil || ok {
		return chat, err
	}

	row := map[string]any{"request_id": requestID, "participants": participants}
	chat, err := one[message.Chat](ctx, "chats.create", c.from(TableChats).Insert(row))
	if err == nil {
		return chat, nil
	}
	if IsUniqueViolation(err) {
		if existing, ok, rerr := c.ForRequest(ctx, requestID); rerr == nil && ok {
			return existing, nil
		}
	}
	return message.Chat{}, err
}
