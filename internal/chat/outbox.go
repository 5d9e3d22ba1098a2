package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/internal/metrics"
)

var (
	// ErrUnknownEntry is returned by Resend for a local id that is not a failed entry.
	ErrUnknownEntry = errors.New("no failed message with that id")
	// ErrEmpty is returned by Send for blank text.
	ErrEmpty = errors.New("message text is empty")
	// ErrChatClosed is returned by Send once the view shows another chat.
	ErrChatClosed = errors.New("the conversation is no longer open")
)

// Sender stores a message and returns the stored row.
type Sender interface {
	Send(ctx context.Context, chatID, senderID, text string) (message.Message, error)
}

// Collection is the entry list an Outbox writes into, keyed by chat id.
// Edits for a chat that is no longer shown are dropped. A
// *viewstate.Container[Entry] satisfies it.
type Collection interface {
	MutateKey(key string, fn func([]Entry) []Entry) bool
}

// Outbox sends messages optimistically: the entry shows up as pending at
// once, is replaced by the stored row on success and is marked failed on
// error. Failed entries stay until the user resends or discards them.
type Outbox struct {
	sender   Sender
	entries  Collection
	chatID   string
	senderID string
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewOutbox creates an outbox for one chat and author.
func NewOutbox(sender Sender, entries Collection, chatID, senderID string, log *zap.Logger) *Outbox {
	if log == nil {
		log = zap.NewNop()
	}
	return &Outbox{
		sender:   sender,
		entries:  entries,
		chatID:   chatID,
		senderID: senderID,
		log:      log.With(zap.String("component", "outbox"), zap.String("chat_id", chatID)),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Send appends a pending entry for text and stores it. It blocks until the
// backend answered and returns the local id together with the send error.
func (o *Outbox) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmpty
	}
	localID := o.newID()
	pending := Entry{
		Message: message.Message{
			ChatID:    o.chatID,
			SenderID:  o.senderID,
			Text:      text,
			CreatedAt: o.now(),
		},
		LocalID: localID,
		State:   Pending,
	}
	if !o.entries.MutateKey(o.chatID, func(entries []Entry) []Entry {
		return append(entries, pending)
	}) {
		return "", ErrChatClosed
	}
	return localID, o.deliver(ctx, localID, text)
}

// Resend retries a failed entry in place.
func (o *Outbox) Resend(ctx context.Context, localID string) error {
	var text string
	found := false
	o.mutate(func(entries []Entry) []Entry {
		i := indexOf(entries, localID)
		if i < 0 || entries[i].State != Failed {
			return entries
		}
		found = true
		text = entries[i].Message.Text
		entries[i].State = Pending
		entries[i].Err = nil
		return entries
	})
	if !found {
		return ErrUnknownEntry
	}
	return o.deliver(ctx, localID, text)
}

// Discard removes a failed entry. It reports whether one was removed.
func (o *Outbox) Discard(localID string) bool {
	removed := false
	o.mutate(func(entries []Entry) []Entry {
		i := indexOf(entries, localID)
		if i < 0 || entries[i].State != Failed {
			return entries
		}
		removed = true
		return append(entries[:i], entries[i+1:]...)
	})
	return removed
}

// Receive merges stored rows delivered by the stream. Rows of other chats
// are ignored.
func (o *Outbox) Receive(msgs ...message.Message) {
	var own []message.Message
	for _, m := range msgs {
		if m.ChatID == o.chatID {
			own = append(own, m)
		}
	}
	msgs = own
	if len(msgs) == 0 {
		return
	}
	o.mutate(func(entries []Entry) []Entry {
		return Merge(entries, msgs)
	})
}

func (o *Outbox) mutate(fn func([]Entry) []Entry) {
	o.entries.MutateKey(o.chatID, fn)
}

func (o *Outbox) deliver(ctx context.Context, localID, text string) error {
	row, err := o.sender.Send(ctx, o.chatID, o.senderID, text)
	if err != nil {
		metrics.RecordSend("failed")
		o.log.Warn("message send failed", zap.String("local_id", localID), zap.Error(err))
		o.mutate(func(entries []Entry) []Entry {
			if i := indexOf(entries, localID); i >= 0 {
				entries[i].State = Failed
				entries[i].Err = err
			}
			return entries
		})
		return err
	}

	metrics.RecordSend("confirmed")
	o.mutate(func(entries []Entry) []Entry {
		return confirm(entries, localID, row)
	})
	return nil
}

// confirm swaps the pending entry for the stored row. The pending entry is
// dropped when the row already arrived through the stream.
func confirm(entries []Entry, localID string, row message.Message) []Entry {
	i := indexOf(entries, localID)
	if i < 0 {
		return entries
	}
	if containsID(entries, row.ID) {
		return append(entries[:i], entries[i+1:]...)
	}
	entries[i] = Entry{Message: row, LocalID: localID, State: Confirmed}
	return Merge(entries, nil)
}
