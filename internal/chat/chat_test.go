package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, sec int) message.Message {
	return message.Message{ID: id, ChatID: "c1", SenderID: "u2", Text: id, CreatedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func ids(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func entryIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		if e.State == Confirmed {
			out[i] = e.Message.ID
		} else {
			out[i] = e.State.String() + ":" + e.Message.Text
		}
	}
	return out
}

// ============================================================================
// MergeMessages
// ============================================================================

func TestMergeMessages(t *testing.T) {
	a, b, c := msg("A", 1), msg("B", 2), msg("C", 3)

	got := MergeMessages([]message.Message{a, b}, []message.Message{b, c})
	assert.Equal(t, []string{"A", "B", "C"}, ids(got))

	again := MergeMessages(got, []message.Message{b, c})
	assert.Equal(t, got, again)
}

func TestMergeMessages_InsertsByTime(t *testing.T) {
	got := MergeMessages([]message.Message{msg("A", 1), msg("C", 3)}, []message.Message{msg("B", 2)})
	assert.Equal(t, []string{"A", "B", "C"}, ids(got))
}

func TestMergeMessages_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	got := MergeMessages([]message.Message{msg("Z", 1)}, []message.Message{msg("A", 1), msg("Y", 1)})
	assert.Equal(t, []string{"Z", "A", "Y"}, ids(got))
}

func TestMergeMessages_Empty(t *testing.T) {
	assert.Empty(t, MergeMessages(nil, nil))
	assert.Equal(t, []string{"A"}, ids(MergeMessages(nil, []message.Message{msg("A", 1), msg("A", 1)})))
}

func TestMergeMessages_DoesNotModifyInputs(t *testing.T) {
	existing := []message.Message{msg("B", 2)}
	MergeMessages(existing, []message.Message{msg("A", 1)})
	assert.Equal(t, []string{"B"}, ids(existing))
}

// ============================================================================
// Merge (entries)
// ============================================================================

func TestMerge_KeepsLocalEntriesLast(t *testing.T) {
	entries := []Entry{
		{Message: msg("A", 1), State: Confirmed},
		{Message: message.Message{Text: "draft"}, LocalID: "l1", State: Pending},
		{Message: message.Message{Text: "oops"}, LocalID: "l2", State: Failed},
	}
	got := Merge(entries, []message.Message{msg("B", 2), msg("A", 1)})
	assert.Equal(t, []string{"A", "B", "pending:draft", "failed:oops"}, entryIDs(got))
}

func TestMergeEntries_ReloadKeepsPending(t *testing.T) {
	current := []Entry{
		{Message: msg("A", 1)},
		{Message: message.Message{Text: "draft"}, LocalID: "l1", State: Pending},
	}
	fresh := Entries([]message.Message{msg("A", 1), msg("B", 2)})
	assert.Equal(t, []string{"A", "B", "pending:draft"}, entryIDs(MergeEntries(current, fresh)))
}

// ============================================================================
// Outbox
// ============================================================================

type memEntries struct {
	mu      sync.Mutex
	key     string
	entries []Entry
}

func (m *memEntries) MutateKey(key string, fn func([]Entry) []Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != m.key {
		return false
	}
	cp := append([]Entry(nil), m.entries...)
	m.entries = fn(cp)
	return true
}

func (m *memEntries) get() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

type fakeSender struct {
	mu    sync.Mutex
	fail  error
	calls int
	// before runs while the send is in flight.
	before func()
}

func (f *fakeSender) Send(_ context.Context, chatID, senderID, text string) (message.Message, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fail := f.fail
	before := f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if fail != nil {
		return message.Message{}, fail
	}
	return message.Message{
		ID:        fmt.Sprintf("m%d", n),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: t0.Add(time.Minute),
	}, nil
}

func newOutbox(s Sender, c Collection) *Outbox {
	o := NewOutbox(s, c, "c1", "u1", nil)
	o.now = func() time.Time { return t0.Add(time.Hour) }
	n := 0
	o.newID = func() string {
		n++
		return fmt.Sprintf("local-%d", n)
	}
	return o
}

func TestOutbox_SendConfirms(t *testing.T) {
	store := &memEntries{key: "c1", entries: Entries([]message.Message{msg("A", 1)})}
	sender := &fakeSender{}
	var during []Entry
	sender.before = func() { during = store.get() }

	o := newOutbox(sender, store)
	localID, err := o.Send(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "local-1", localID)

	require.Len(t, during, 2)
	assert.Equal(t, Pending, during[1].State)
	assert.Equal(t, "hello", during[1].Message.Text)

	got := store.get()
	require.Len(t, got, 2)
	assert.Equal(t, Confirmed, got[1].State)
	assert.Equal(t, "m1", got[1].Message.ID)
	assert.Equal(t, "local-1", got[1].LocalID)
}

func TestOutbox_ConfirmAfterStreamDelivery(t *testing.T) {
	store := &memEntries{key: "c1"}
	sender := &fakeSender{}
	o := newOutbox(sender, store)
	sender.before = func() {
		o.Receive(message.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Text: "hi", CreatedAt: t0.Add(time.Minute)})
	}

	_, err := o.Send(context.Background(), "hi")
	require.NoError(t, err)

	got := store.get()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Message.ID)
	assert.Equal(t, Confirmed, got[0].State)
}

func TestOutbox_FailureThenResend(t *testing.T) {
	store := &memEntries{key: "c1"}
	sender := &fakeSender{fail: errors.New("new row violates row-level security policy")}
	o := newOutbox(sender, store)

	localID, err := o.Send(context.Background(), "hi")
	require.Error(t, err)

	got := store.get()
	require.Len(t, got, 1)
	assert.Equal(t, Failed, got[0].State)
	assert.EqualError(t, got[0].Err, "new row violates row-level security policy")

	sender.fail = nil
	require.NoError(t, o.Resend(context.Background(), localID))
	got = store.get()
	require.Len(t, got, 1)
	assert.Equal(t, Confirmed, got[0].State)
	assert.NoError(t, got[0].Err)

	assert.ErrorIs(t, o.Resend(context.Background(), localID), ErrUnknownEntry)
}

func TestOutbox_Discard(t *testing.T) {
	store := &memEntries{key: "c1"}
	o := newOutbox(&fakeSender{fail: errors.New("offline")}, store)

	localID, _ := o.Send(context.Background(), "hi")
	assert.True(t, o.Discard(localID))
	assert.Empty(t, store.get())
	assert.False(t, o.Discard(localID))
}

func TestOutbox_EmptyText(t *testing.T) {
	store := &memEntries{key: "c1"}
	o := newOutbox(&fakeSender{}, store)
	_, err := o.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, store.get())
}

func TestOutbox_EntryGoneAfterChatSwitch(t *testing.T) {
	view := viewstate.New(func(context.Context, string) ([]Entry, error) { return nil, nil })
	view.SetKey("c1")
	sender := &fakeSender{}
	o := newOutbox(sender, view)
	sender.before = func() { view.SetKey("c2") }

	_, err := o.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Empty(t, view.Snapshot().Items)
}

func TestOutbox_StaleOutboxLeavesNewChatAlone(t *testing.T) {
	view := viewstate.New(func(context.Context, string) ([]Entry, error) { return nil, nil })
	view.SetKey("c1")
	sender := &fakeSender{}
	old := newOutbox(sender, view)
	view.SetKey("c2")

	_, err := old.Send(context.Background(), "for c1")
	assert.ErrorIs(t, err, ErrChatClosed)
	assert.Zero(t, sender.calls)

	old.Receive(message.Message{ID: "m7", ChatID: "c1", Text: "late", CreatedAt: t0})
	assert.Equal(t, "c2", view.Key())
	assert.Empty(t, view.Snapshot().Items)
}

func TestOutbox_ReceiveIgnoresOtherChats(t *testing.T) {
	store := &memEntries{key: "c1"}
	o := newOutbox(&fakeSender{}, store)

	o.Receive(
		message.Message{ID: "m1", ChatID: "c1", Text: "mine", CreatedAt: t0},
		message.Message{ID: "m2", ChatID: "c9", Text: "elsewhere", CreatedAt: t0},
	)
	require.Len(t, store.get(), 1)
	assert.Equal(t, "m1", store.get()[0].Message.ID)
}

// ============================================================================
// Inbox
// ============================================================================

func TestInbox_Build(t *testing.T) {
	chats := []message.Chat{
		{ID: "c1", RequestID: "r1", CreatedAt: t0},
		{ID: "c2", RequestID: "r2", CreatedAt: t0},
		{ID: "c3", RequestID: "r3", CreatedAt: t0.Add(time.Hour)},
	}
	mine := msg("m2", 2)
	mine.SenderID = "u1"
	other := msg("m5", 5)
	other.ChatID = "c2"
	msgs := []message.Message{msg("m1", 1), mine, msg("m3", 3), other, {ID: "x", ChatID: "unknown"}}

	in := NewInbox("u1")
	convs := in.Build(chats, msgs)
	require.Len(t, convs, 3)

	// r3 has no messages but was created last.
	assert.Equal(t, "r3", convs[0].RequestID)
	assert.False(t, convs[0].HasLast)

	assert.Equal(t, "r2", convs[1].RequestID)
	assert.Equal(t, "m5", convs[1].Last.ID)
	assert.Equal(t, 1, convs[1].Unread)

	assert.Equal(t, "r1", convs[2].RequestID)
	assert.Equal(t, "m3", convs[2].Last.ID)
	assert.Equal(t, 3, convs[2].Total)
	assert.Equal(t, 2, convs[2].Unread, "own messages are never unread")

	in.MarkRead("r1", t0.Add(1*time.Second))
	convs = in.Build(chats, msgs)
	assert.Equal(t, 1, convs[2].Unread)

	in.MarkRead("r1", t0)
	convs = in.Build(chats, msgs)
	assert.Equal(t, 1, convs[2].Unread, "marks only move forward")
}

func TestInbox_GroupsChatsOfSameRequest(t *testing.T) {
	chats := []message.Chat{
		{ID: "c1", RequestID: "r1", CreatedAt: t0},
		{ID: "c2", RequestID: "r1", CreatedAt: t0},
	}
	late := msg("late", 9)
	late.ChatID = "c2"
	convs := NewInbox("u1").Build(chats, []message.Message{msg("early", 1), late})
	require.Len(t, convs, 1)
	assert.Equal(t, []string{"c1", "c2"}, convs[0].ChatIDs)
	assert.Equal(t, "late", convs[0].Last.ID)
	assert.Equal(t, 2, convs[0].Total)
}
