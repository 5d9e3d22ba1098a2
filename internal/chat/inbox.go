package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
)

// Conversation is one inbox row: every chat of a design request.
type Conversation struct {
	RequestID string
	ChatIDs   []string
	Last      message.Message
	HasLast   bool
	Unread    int
	Total     int
	CreatedAt time.Time
}

// Inbox derives conversations for one user. Read marks are kept in memory
// for the lifetime of the Inbox.
type Inbox struct {
	self string

	mu    sync.Mutex
	reads map[string]time.Time
}

// NewInbox creates an inbox for selfID.
func NewInbox(selfID string) *Inbox {
	return &Inbox{self: selfID, reads: make(map[string]time.Time)}
}

// MarkRead marks everything in the request's conversation up to at as read.
// Marks only move forward.
func (i *Inbox) MarkRead(requestID string, at time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if prev, ok := i.reads[requestID]; ok && !at.After(prev) {
		return
	}
	i.reads[requestID] = at
}

// Build groups msgs by the request id of their chat. The last message of a
// group is the newest by created_at; unread counts messages from other
// senders newer than the read mark. Conversations with recent activity come
// first. Messages of unknown chats are ignored.
func (i *Inbox) Build(chats []message.Chat, msgs []message.Message) []Conversation {
	byChat := make(map[string]string, len(chats))
	groups := make(map[string]*Conversation)
	var order []string
	for _, c := range chats {
		byChat[c.ID] = c.RequestID
		conv, ok := groups[c.RequestID]
		if !ok {
			conv = &Conversation{RequestID: c.RequestID, CreatedAt: c.CreatedAt}
			groups[c.RequestID] = conv
			order = append(order, c.RequestID)
		}
		conv.ChatIDs = append(conv.ChatIDs, c.ID)
		if c.CreatedAt.After(conv.CreatedAt) {
			conv.CreatedAt = c.CreatedAt
		}
	}

	i.mu.Lock()
	reads := make(map[string]time.Time, len(i.reads))
	for k, v := range i.reads {
		reads[k] = v
	}
	i.mu.Unlock()

	for _, m := range msgs {
		requestID, ok := byChat[m.ChatID]
		if !ok {
			continue
		}
		conv := groups[requestID]
		conv.Total++
		if !conv.HasLast || conv.Last.Before(m) {
			conv.Last = m
			conv.HasLast = true
		}
		if m.SenderID == i.self {
			continue
		}
		if mark, ok := reads[requestID]; !ok || m.CreatedAt.After(mark) {
			conv.Unread++
		}
	}

	out := make([]Conversation, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].activity().After(out[b].activity())
	})
	return out
}

func (c Conversation) activity() time.Time {
	if c.HasLast {
		return c.Last.CreatedAt
	}
	return c.CreatedAt
}

// Self returns the id of the user the inbox belongs to.
func (i *Inbox) Self() string { return i.self }
