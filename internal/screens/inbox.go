package screens

import (
	"context"
	"sync"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/chat"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// Inbox lists the user's conversations, one per design request.
type Inbox struct {
	deps Deps
	view *viewstate.Container[chat.Conversation]

	mu    sync.Mutex
	reads *chat.Inbox
}

// NewInbox creates the inbox screen.
func NewInbox(deps Deps) *Inbox {
	s := &Inbox{deps: deps}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[chat.Conversation]("inbox"),
		viewstate.WithLogger[chat.Conversation](deps.logger()))
	return s
}

func (s *Inbox) fetch(ctx context.Context, _ string) ([]chat.Conversation, error) {
	u, ok := s.deps.Identity.Current()
	if !ok {
		return nil, apperr.ErrNotSignedIn
	}
	chats, err := s.deps.Chats.ForParticipant(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	msgs, err := s.deps.Messages.ForChats(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.marks(u.ID).Build(chats, msgs), nil
}

// marks returns the read marks of selfID, starting over when the user changed.
func (s *Inbox) marks(selfID string) *chat.Inbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reads == nil || s.reads.Self() != selfID {
		s.reads = chat.NewInbox(selfID)
	}
	return s.reads
}

// Load fetches chats and messages.
func (s *Inbox) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Inbox) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Snapshot returns the conversations.
func (s *Inbox) Snapshot() viewstate.Snapshot[chat.Conversation] { return s.view.Snapshot() }

// Subscribe forwards container changes.
func (s *Inbox) Subscribe(fn func(viewstate.Snapshot[chat.Conversation])) func() {
	return s.view.Subscribe(fn)
}

// MarkRead clears the unread count of a conversation up to its last message.
func (s *Inbox) MarkRead(requestID string) {
	u, ok := s.deps.Identity.Current()
	if !ok {
		return
	}
	at := s.deps.now()
	for _, c := range s.view.Snapshot().Items {
		if c.RequestID == requestID && c.HasLast {
			at = c.Last.CreatedAt
		}
	}
	s.marks(u.ID).MarkRead(requestID, at)
	s.view.Mutate(func(items []chat.Conversation) []chat.Conversation {
		for i := range items {
			if items[i].RequestID == requestID {
				items[i].Unread = 0
			}
		}
		return items
	})
}

// Close unmounts the screen.
func (s *Inbox) Close() { s.view.Close() }
