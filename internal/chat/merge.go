// Package chat reconciles chat history with live and optimistic messages,
// and derives the inbox view from chats and their messages.
package chat

import (
	"slices"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
)

// MergeMessages returns existing followed by every incoming message it does
// not already hold, ordered by created_at. Messages already present keep
// their relative order and duplicates are dropped by id, so merging the same
// batch twice is a no-op.
func MergeMessages(existing, incoming []message.Message) []message.Message {
	out := make([]message.Message, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, m := range existing {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range incoming {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b message.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// State is the delivery state of an entry in a chat room.
type State int

const (
	Confirmed State = iota
	Pending
	Failed
)

func (s State) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one line of a chat room: a stored message, or a local one still
// being sent or that failed to send.
type Entry struct {
	Message message.Message
	// LocalID identifies optimistic entries until the stored row replaces them.
	LocalID string
	State   State
	Err     error
}

// Entries wraps stored messages.
func Entries(msgs []message.Message) []Entry {
	out := make([]Entry, len(msgs))
	for i, m := range msgs {
		out[i] = Entry{Message: m, State: Confirmed}
	}
	return out
}

// Merge folds incoming stored messages into entries. Confirmed entries are
// merged with MergeMessages; pending and failed entries stay at the end in
// the order they were written.
func Merge(entries []Entry, incoming []message.Message) []Entry {
	var stored []message.Message
	var local []Entry
	localIDs := make(map[string]string)
	for _, e := range entries {
		if e.State != Confirmed {
			local = append(local, e)
			continue
		}
		stored = append(stored, e.Message)
		if e.LocalID != "" {
			localIDs[e.Message.ID] = e.LocalID
		}
	}

	merged := MergeMessages(stored, incoming)
	out := make([]Entry, 0, len(merged)+len(local))
	for _, m := range merged {
		out = append(out, Entry{Message: m, LocalID: localIDs[m.ID], State: Confirmed})
	}
	return append(out, local...)
}

// MergeEntries reconciles a reload with the current entries, keeping local
// ones.
func MergeEntries(current, fresh []Entry) []Entry {
	msgs := make([]message.Message, 0, len(fresh))
	for _, e := range fresh {
		if e.State == Confirmed {
			msgs = append(msgs, e.Message)
		}
	}
	return Merge(current, msgs)
}

func indexOf(entries []Entry, localID string) int {
	for i, e := range entries {
		if e.LocalID == localID && e.State != Confirmed {
			return i
		}
	}
	return -1
}

func containsID(entries []Entry, id string) bool {
	for _, e := range entries {
		if e.State == Confirmed && e.Message.ID == id {
			return true
		}
	}
	return false
}
