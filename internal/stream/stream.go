// Package stream delivers rows inserted into a table to the screen showing
// them, either pushed over the realtime websocket or polled. The mode is
// chosen once from configuration.
//
// A broken stream reports one error and stops. Reconnecting is left to the
// user.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/config"
	"github.com/pixelcraft-studio/portal/internal/metrics"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Filter selects the inserted rows of Table whose Column equals Value.
type Filter struct {
	Table  string
	Column string
	Value  string
	// Since bounds polling; rows created at or after it are reported.
	// Push sources only see rows inserted after they subscribed.
	Since time.Time
}

func (f Filter) expr() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Subscription is a live stream.
type Subscription interface {
	// Err delivers the error that stopped the stream. It fires at most once.
	Err() <-chan error
	// Close stops the stream. It is safe to call more than once.
	Close() error
}

// Source opens subscriptions.
type Source interface {
	Mode() string
	Subscribe(ctx context.Context, f Filter, fn func(client.Change)) (Subscription, error)
}

// New returns the source for mode.
func New(db *client.Client, tokens resource.Tokens, cfg config.RealtimeConfig, log *zap.Logger) (Source, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Mode {
	case config.ModePush:
		return NewPush(db.Realtime(), tokens, log), nil
	case config.ModePoll:
		return NewPoll(db, tokens, cfg.PollInterval, log), nil
	default:
		return nil, fmt.Errorf("unknown realtime mode %q", cfg.Mode)
	}
}

// Watch subscribes to f and decodes every row into T before calling fn. A
// row that does not decode stops the stream with an error.
func Watch[T any](ctx context.Context, src Source, f Filter, fn func(T)) (Subscription, error) {
	w := &watch{errs: make(chan error, 1), done: make(chan struct{})}
	sub, err := src.Subscribe(ctx, f, func(ch client.Change) {
		if w.stopped() {
			return
		}
		var row T
		if err := json.Unmarshal(ch.Record, &row); err != nil {
			metrics.RecordStreamFailure(f.Table, src.Mode())
			w.fail(fmt.Errorf("decode %s row: %w", f.Table, err))
			return
		}
		metrics.RecordStreamEvent(f.Table, src.Mode())
		fn(row)
	})
	if err != nil {
		metrics.RecordStreamFailure(f.Table, src.Mode())
		return nil, err
	}
	if !w.attach(sub) {
		// A row failed to decode before Subscribe returned.
		_ = sub.Close()
		return w, nil
	}

	go func() {
		select {
		case err := <-sub.Err():
			if err != nil {
				metrics.RecordStreamFailure(f.Table, src.Mode())
				w.fail(err)
			}
		case <-w.done:
		}
	}()
	return w, nil
}

// watch wraps a subscription so decode errors stop it too.
type watch struct {
	errs chan error
	done chan struct{}

	mu     sync.Mutex
	inner  Subscription
	closed bool
}

func (w *watch) Err() <-chan error {
	return w.errs
}

func (w *watch) Close() error {
	inner, ok := w.stop(nil)
	if !ok || inner == nil {
		return nil
	}
	return inner.Close()
}

func (w *watch) fail(err error) {
	if inner, ok := w.stop(err); ok && inner != nil {
		_ = inner.Close()
	}
}

// stop marks the watch closed, delivering err when set. ok is false when it
// was already closed.
func (w *watch) stop(err error) (inner Subscription, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false
	}
	w.closed = true
	close(w.done)
	if err != nil {
		w.errs <- err
	}
	return w.inner, true
}

func (w *watch) attach(sub Subscription) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.inner = sub
	return true
}

func (w *watch) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
