package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const heartbeatInterval = 25 * time.Second

// ErrRealtimeClosed is reported to channels when the socket goes away.
var ErrRealtimeClosed = errors.New("realtime connection closed")

// Change is one postgres_changes event.
type Change struct {
	Type            string
	Schema          string
	Table           string
	Record          json.RawMessage
	OldRecord       json.RawMessage
	CommitTimestamp time.Time
}

// ChangeFilter selects the rows a channel listens to.
type ChangeFilter struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // PostgREST filter such as "chat_id=eq.42"
}

// ChangeHandler handles realtime changes. It runs on the socket reader
// goroutine and must not block.
type ChangeHandler func(Change)

// RealtimeClient handles Supabase Realtime subscriptions over one websocket.
type RealtimeClient struct {
	url    string
	dialer websocket.Dialer
	log    *zap.Logger

	mu       sync.Mutex // guards conn writes, channels and ref
	conn     *websocket.Conn
	channels map[string]*Channel
	ref      int
	done     chan struct{}
}

// Channel is one joined realtime topic.
type Channel struct {
	client  *RealtimeClient
	topic   string
	joinRef string
	handler ChangeHandler

	errOnce  sync.Once
	errs     chan error
	joinOnce sync.Once
	joined   chan struct{}
}

// Realtime returns a realtime client for this project.
func (c *Client) Realtime() *RealtimeClient {
	wsURL := c.baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + c.apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      c.log.With(zap.String("component", "realtime")),
		channels: make(map[string]*Channel),
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.readLoop(conn, r.done)
	go r.heartbeat(r.done)

	return nil
}

// Close closes the WebSocket connection. Open channels receive ErrRealtimeClosed.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil
	}
	close(r.done)
	r.conn = nil
	channels := r.takeChannelsLocked()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.mu.Unlock()

	for _, ch := range channels {
		ch.fail(ErrRealtimeClosed)
	}
	return conn.Close()
}

// Subscribe joins a postgres_changes channel for filter.
func (r *RealtimeClient) Subscribe(ctx context.Context, filter ChangeFilter, accessToken string, handler ChangeHandler) (*Channel, error) {
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	if filter.Event == "" {
		filter.Event = "*"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil, ErrRealtimeClosed
	}

	topic := "realtime:" + filter.Table
	if filter.Filter != "" {
		topic += ":" + filter.Filter
	}
	if _, exists := r.channels[topic]; exists {
		return nil, fmt.Errorf("already subscribed to %s", topic)
	}

	change := map[string]any{
		"event":  filter.Event,
		"schema": filter.Schema,
		"table":  filter.Table,
	}
	if filter.Filter != "" {
		change["filter"] = filter.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []any{change},
		},
	}
	if accessToken != "" {
		payload["access_token"] = accessToken
	}

	ref := r.nextRefLocked()
	ch := &Channel{
		client:  r,
		topic:   topic,
		joinRef: ref,
		handler: handler,
		errs:    make(chan error, 1),
		joined:  make(chan struct{}),
	}

	if err := r.writeLocked(ctx, map[string]any{
		"topic":    topic,
		"event":    "phx_join",
		"payload":  payload,
		"ref":      ref,
		"join_ref": ref,
	}); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	r.channels[topic] = ch
	return ch, nil
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

// Joined is closed once the server acknowledged the join. Changes committed
// before that are not delivered.
func (c *Channel) Joined() <-chan struct{} {
	return c.joined
}

// Err delivers at most one error, after which the channel receives nothing.
func (c *Channel) Err() <-chan error {
	return c.errs
}

// Unsubscribe leaves the channel.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	r := c.client
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[c.topic] != c {
		return nil
	}
	delete(r.channels, c.topic)

	if r.conn == nil {
		return nil
	}
	return r.writeLocked(ctx, map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      r.nextRefLocked(),
		"join_ref": c.joinRef,
	})
}

func (c *Channel) fail(err error) {
	c.errOnce.Do(func() {
		c.errs <- err
	})
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			r.log.Warn("realtime connection lost", zap.Error(err))
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
				close(r.done)
			}
			channels := r.takeChannelsLocked()
			r.mu.Unlock()
			for _, ch := range channels {
				ch.fail(fmt.Errorf("%w: %v", ErrRealtimeClosed, err))
			}
			return
		}
		r.dispatch(message)
	}
}

func (r *RealtimeClient) dispatch(message []byte) {
	msg := gjson.ParseBytes(message)
	topic := msg.Get("topic").String()

	r.mu.Lock()
	ch := r.channels[topic]
	r.mu.Unlock()
	if ch == nil {
		return
	}

	switch msg.Get("event").String() {
	case "postgres_changes":
		data := msg.Get("payload.data")
		change := Change{
			Type:   data.Get("type").String(),
			Schema: data.Get("schema").String(),
			Table:  data.Get("table").String(),
		}
		if rec := data.Get("record"); rec.Exists() {
			change.Record = json.RawMessage(rec.Raw)
		}
		if old := data.Get("old_record"); old.Exists() {
			change.OldRecord = json.RawMessage(old.Raw)
		}
		if ts := data.Get("commit_timestamp").String(); ts != "" {
			change.CommitTimestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		if ch.handler != nil {
			ch.handler(change)
		}
	case "phx_reply":
		switch msg.Get("payload.status").String() {
		case "error":
			reason := msg.Get("payload.response.reason").String()
			if reason == "" {
				reason = "join rejected"
			}
			r.detach(ch, errors.New(reason))
		case "ok":
			if msg.Get("ref").String() == ch.joinRef {
				ch.joinOnce.Do(func() { close(ch.joined) })
			}
		}
	case "phx_error":
		r.detach(ch, errors.New("channel error"))
	case "phx_close":
		r.detach(ch, ErrRealtimeClosed)
	case "system":
		if msg.Get("payload.status").String() == "error" {
			r.detach(ch, errors.New(msg.Get("payload.message").String()))
		}
	}
}

func (r *RealtimeClient) detach(ch *Channel, err error) {
	r.mu.Lock()
	if r.channels[ch.topic] == ch {
		delete(r.channels, ch.topic)
	}
	r.mu.Unlock()
	ch.fail(err)
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				err := r.writeLocked(context.Background(), map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     r.nextRefLocked(),
				})
				if err != nil {
					r.log.Debug("heartbeat failed", zap.Error(err))
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *RealtimeClient) writeLocked(ctx context.Context, msg any) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
	} else {
		_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	return r.conn.WriteJSON(msg)
}

func (r *RealtimeClient) nextRefLocked() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) takeChannelsLocked() []*Channel {
	channels := make([]*Channel, 0, len(r.channels))
	for topic, ch := range r.channels {
		channels = append(channels, ch)
		delete(r.channels, topic)
	}
	return channels
}
