package screens

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/chat"
	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/stream"
	"github.com/pixelcraft-studio/portal/internal/validation"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// HistoryLimit is how many messages a chat room loads on open.
const HistoryLimit = 200

// ErrNoChat is returned by room actions before Open succeeded.
var ErrNoChat = errors.New("no conversation is open")

// RoomState is what the chat room renders.
type RoomState struct {
	viewstate.Snapshot[chat.Entry]
	Chat message.Chat
	// StreamErr is set when live updates stopped. Reconnect restarts them.
	StreamErr error
}

// ChatRoom is one conversation: history, live messages and the composer.
type ChatRoom struct {
	deps Deps
	log  *zap.Logger
	view *viewstate.Container[chat.Entry]

	mu        sync.Mutex
	chat      message.Chat
	outbox    *chat.Outbox
	sub       stream.Subscription
	streamErr error
	onStream  []func(error)
	cancel    context.CancelFunc
}

// NewChatRoom creates a closed chat room.
func NewChatRoom(deps Deps) *ChatRoom {
	r := &ChatRoom{deps: deps, log: deps.logger().With(zap.String("screen", "chat"))}
	r.view = viewstate.New(r.fetch,
		viewstate.WithName[chat.Entry]("chat"),
		viewstate.WithLogger[chat.Entry](deps.logger()),
		viewstate.WithMerge[chat.Entry](chat.MergeEntries))
	return r
}

func (r *ChatRoom) fetch(ctx context.Context, chatID string) ([]chat.Entry, error) {
	if chatID == "" {
		return nil, ErrNoChat
	}
	msgs, err := r.deps.Messages.ForChat(ctx, chatID, HistoryLimit)
	if err != nil {
		return nil, err
	}
	return chat.Entries(msgs), nil
}

// Open shows the conversation of a request, creating the chat on first use,
// starts live updates and then loads the history. Rows committed while the
// history loads arrive on the stream and are merged by id. A failed history
// load is kept in the state and does not stop the stream.
func (r *ChatRoom) Open(ctx context.Context, requestID string) error {
	u, ok := r.deps.Identity.Current()
	if !ok {
		return apperr.ErrNotSignedIn
	}
	r.freshen(ctx)
	req, err := r.deps.Requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	conv, err := r.deps.Chats.Ensure(ctx, requestID, participants(req, u.ID))
	if err != nil {
		return err
	}
	if !conv.HasParticipant(u.ID) && !u.Role.IsAdmin() {
		return apperr.ErrForbidden
	}

	r.stopStream()
	r.mu.Lock()
	r.chat = conv
	r.outbox = chat.NewOutbox(r.deps.Messages, r.view, conv.ID, u.ID, r.log)
	r.streamErr = nil
	r.mu.Unlock()

	r.view.SetKey(conv.ID)
	streamErr := r.startStream()
	loadErr := r.view.Load(ctx)
	if errors.Is(loadErr, viewstate.ErrStale) {
		loadErr = nil
	}
	if streamErr != nil {
		return streamErr
	}
	return loadErr
}

func participants(req request.Request, self string) []string {
	out := []string{self}
	for _, id := range []string{req.UserID, req.Designer()} {
		if id != "" && id != self {
			out = append(out, id)
		}
	}
	return out
}

// State returns the entries, the open chat and the stream status.
func (r *ChatRoom) State() RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomState{Snapshot: r.view.Snapshot(), Chat: r.chat, StreamErr: r.streamErr}
}

// Subscribe forwards entry changes.
func (r *ChatRoom) Subscribe(fn func(viewstate.Snapshot[chat.Entry])) func() {
	return r.view.Subscribe(fn)
}

// OnStreamError registers fn for the moment live updates stop.
func (r *ChatRoom) OnStreamError(fn func(error)) {
	r.mu.Lock()
	r.onStream = append(r.onStream, fn)
	r.mu.Unlock()
}

// Send validates text and sends it optimistically. The returned local id
// identifies the entry for Resend and Discard.
func (r *ChatRoom) Send(ctx context.Context, text string) (string, error) {
	if err := validation.Struct(message.Form{Text: text}); err != nil {
		return "", err
	}
	outbox, err := r.currentOutbox()
	if err != nil {
		return "", err
	}
	r.freshen(ctx)
	return outbox.Send(ctx, text)
}

// Resend retries a failed message.
func (r *ChatRoom) Resend(ctx context.Context, localID string) error {
	outbox, err := r.currentOutbox()
	if err != nil {
		return err
	}
	return outbox.Resend(ctx, localID)
}

// Discard drops a failed message.
func (r *ChatRoom) Discard(localID string) bool {
	outbox, err := r.currentOutbox()
	if err != nil {
		return false
	}
	return outbox.Discard(localID)
}

// Failed returns the local ids of messages that failed to send, oldest first.
func (r *ChatRoom) Failed() []string {
	var out []string
	for _, e := range r.view.Snapshot().Items {
		if e.State == chat.Failed {
			out = append(out, e.LocalID)
		}
	}
	return out
}

// Retry reloads the history after a failed load.
func (r *ChatRoom) Retry(ctx context.Context) error {
	return r.view.Retry(ctx)
}

// Reconnect restarts live updates and fetches what was missed while
// disconnected. Without loaded history the history is reloaded instead.
func (r *ChatRoom) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	chatID, outbox := r.chat.ID, r.outbox
	r.mu.Unlock()
	if chatID == "" {
		return ErrNoChat
	}
	r.freshen(ctx)
	since := r.lastConfirmed()
	r.stopStream()
	if err := r.startStream(); err != nil {
		return err
	}

	if !r.view.Snapshot().HasData {
		if err := r.view.Load(ctx); err != nil && !errors.Is(err, viewstate.ErrStale) {
			return err
		}
		return nil
	}
	missed, err := r.deps.Messages.Since(ctx, chatID, since)
	if err != nil {
		return err
	}
	outbox.Receive(missed...)
	return nil
}

// Close stops live updates and unmounts the room.
func (r *ChatRoom) Close() {
	r.stopStream()
	r.view.Close()
}

func (r *ChatRoom) currentOutbox() (*chat.Outbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outbox == nil {
		return nil, ErrNoChat
	}
	return r.outbox, nil
}

// freshen renews the access token before a long-lived or writing call. A
// failure is left to the call itself to report.
func (r *ChatRoom) freshen(ctx context.Context) {
	if err := r.deps.Identity.EnsureFresh(ctx); err != nil {
		r.log.Warn("session refresh failed", zap.Error(err))
	}
}

func (r *ChatRoom) lastConfirmed() time.Time {
	var since time.Time
	for _, e := range r.view.Snapshot().Items {
		if e.State == chat.Confirmed && e.Message.CreatedAt.After(since) {
			since = e.Message.CreatedAt
		}
	}
	return since
}

func (r *ChatRoom) startStream() error {
	if r.deps.Stream == nil {
		return nil
	}
	r.mu.Lock()
	chatID := r.chat.ID
	outbox := r.outbox
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := stream.Watch(ctx, r.deps.Stream, stream.Filter{
		Table:  resource.TableMessages,
		Column: "chat_id",
		Value:  chatID,
		Since:  r.lastConfirmed(),
	}, func(m message.Message) { outbox.Receive(m) })
	if err != nil {
		cancel()
		r.failStream(nil, err)
		return err
	}

	r.mu.Lock()
	r.sub = sub
	r.cancel = cancel
	r.streamErr = nil
	r.mu.Unlock()

	go func() {
		select {
		case err := <-sub.Err():
			if r.failStream(sub, err) {
				r.log.Warn("live updates stopped", zap.String("chat_id", chatID), zap.Error(err))
			}
		case <-ctx.Done():
		}
	}()
	return nil
}

func (r *ChatRoom) stopStream() {
	r.mu.Lock()
	sub, cancel := r.sub, r.cancel
	r.sub, r.cancel = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			r.log.Debug("closing stream", zap.Error(err))
		}
	}
}

// failStream records err unless sub was replaced in the meantime. A nil sub
// is a subscription that never started.
func (r *ChatRoom) failStream(sub stream.Subscription, err error) bool {
	r.mu.Lock()
	if sub != nil && r.sub != sub {
		r.mu.Unlock()
		return false
	}
	r.streamErr = err
	fns := append([]func(error){}, r.onStream...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
	return true
}
