package resource

import (
	"context"
	"time"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Messages accesses the messages table.
type Messages struct {
	base
}

// NewMessages creates a Messages resource client.
func NewMessages(db *client.Client, tokens Tokens) *Messages {
	return &Messages{base{db: db, tokens: tokens}}
}

// ForChat returns the latest limit messages of a chat in ascending
// created_at order. A limit of zero returns the whole history.
func (m *Messages) ForChat(ctx context.Context, chatID string, limit int) ([]message.Message, error) {
	q := m.from(TableMessages).Eq("chat_id", chatID)
	if limit <= 0 {
		return list[message.Message](ctx, "messages.for_chat", q.Order("created_at", true))
	}

	rows, err := list[message.Message](ctx, "messages.for_chat", q.Order("created_at", false).Limit(limit))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// ForChats returns the messages of several chats in ascending order.
func (m *Messages) ForChats(ctx context.Context, chatIDs []string) ([]message.Message, error) {
	if len(chatIDs) == 0 {
		return []message.Message{}, nil
	}
	q := m.from(TableMessages).In("chat_id", chatIDs).Order("created_at", true)
	return list[message.Message](ctx, "messages.for_chats", q)
}

// Since returns messages created at or after the given time, oldest first.
// Rows sharing the boundary timestamp are returned again.
func (m *Messages) Since(ctx context.Context, chatID string, after time.Time) ([]message.Message, error) {
	q := m.from(TableMessages).Eq("chat_id", chatID).Gte("created_at", after).Order("created_at", true)
	return list[message.Message](ctx, "messages.since", q)
}

// Send appends a message and returns the stored row.
func (m *Messages) Send(ctx context.Context, chatID, senderID, text string) (message.Message, error) {
	row := map[string]any{"chat_id": chatID, "sender_id": senderID, "text": text}
	return one[message.Message](ctx, "messages.send", m.from(TableMessages).Insert(row))
}
