// Package viewstate holds the per-screen fetch lifecycle: the last loaded
// collection, the phase of the current load and the last error.
//
// Reloads keep the previous items visible until the new result arrives, a
// failed load keeps them too, and only the newest load for the current key
// may change state.
package viewstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/metrics"
)

var (
	// ErrStale is returned by Load when a newer load, a key change or Close
	// superseded it. Its result was dropped.
	ErrStale = errors.New("superseded by a newer load")
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New("view closed")
)

// Phase is the fetch lifecycle state.
type Phase int

const (
	Idle Phase = iota
	Loading
	Loaded
	Errored
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Fetcher loads the collection for key.
type Fetcher[T any] func(ctx context.Context, key string) ([]T, error)

// MergeFunc combines the current items with a freshly fetched collection.
type MergeFunc[T any] func(current, fresh []T) []T

// Snapshot is an immutable copy of a container's state.
type Snapshot[T any] struct {
	Phase Phase
	Key   string
	Items []T
	Err   error
	// Message is the text to show for Err.
	Message   string
	HasData   bool
	UpdatedAt time.Time
}

// Empty reports a successful load that returned no records.
func (s Snapshot[T]) Empty() bool {
	return s.Phase == Loaded && len(s.Items) == 0
}

// Refreshing reports a reload running over previously loaded data.
func (s Snapshot[T]) Refreshing() bool {
	return s.Phase == Loading && s.HasData
}

// Option configures a Container.
type Option[T any] func(*Container[T])

// WithName labels the container in logs and metrics.
func WithName[T any](name string) Option[T] {
	return func(c *Container[T]) { c.name = name }
}

// WithMerge reconciles reloads with the current items instead of replacing them.
func WithMerge[T any](merge MergeFunc[T]) Option[T] {
	return func(c *Container[T]) { c.merge = merge }
}

// WithLogger sets the logger.
func WithLogger[T any](log *zap.Logger) Option[T] {
	return func(c *Container[T]) { c.log = log }
}

// WithClock replaces time.Now.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Container[T]) { c.now = now }
}

// Container owns one screen collection.
type Container[T any] struct {
	fetch Fetcher[T]
	merge MergeFunc[T]
	name  string
	log   *zap.Logger
	now   func() time.Time

	mu        sync.Mutex
	key       string
	phase     Phase
	items     []T
	err       error
	hasData   bool
	updatedAt time.Time
	token     uint64
	cancel    context.CancelFunc
	closed    bool
	listeners map[int]func(Snapshot[T])
	nextID    int
}

// New creates a container in the idle phase.
func New[T any](fetch Fetcher[T], opts ...Option[T]) *Container[T] {
	c := &Container[T]{
		fetch:     fetch,
		log:       zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]func(Snapshot[T])),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("view", c.name))
	return c
}

// Load fetches the collection for the current key. It blocks until the fetch
// finishes and returns the fetch error, ErrStale if the result was dropped, or
// nil.
func (c *Container[T]) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.token++
	token, key := c.token, c.key
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setPhase(Loading)
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)

	items, err := c.fetch(ctx, key)
	cancel()

	c.mu.Lock()
	if c.closed || token != c.token || key != c.key {
		c.mu.Unlock()
		metrics.RecordStale(c.name)
		c.log.Debug("dropped stale result", zap.String("key", key), zap.Uint64("token", token))
		return ErrStale
	}
	c.cancel = nil
	if err != nil {
		c.err = err
		c.setPhase(Errored)
		c.log.Debug("load failed", zap.String("key", key), zap.Error(err))
	} else {
		if c.merge != nil && (c.hasData || len(c.items) > 0) {
			items = c.merge(c.items, items)
		}
		c.items = items
		c.err = nil
		c.hasData = true
		c.updatedAt = c.now()
		c.setPhase(Loaded)
	}
	snap = c.snapshotLocked()
	listeners = c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)
	return err
}

// Retry re-runs the fetch for the same key.
func (c *Container[T]) Retry(ctx context.Context) error {
	return c.Load(ctx)
}

// SetKey switches the container to a new key. Items of the old key are
// cleared and loads still in flight for it are dropped. The container goes
// back to idle until the next Load.
func (c *Container[T]) SetKey(key string) {
	c.mu.Lock()
	if c.closed || (key == c.key && c.phase != Idle) {
		c.mu.Unlock()
		return
	}
	c.invalidateLocked()
	c.key = key
	c.items = nil
	c.err = nil
	c.hasData = false
	c.updatedAt = time.Time{}
	c.setPhase(Idle)
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)
}

// Key returns the current key.
func (c *Container[T]) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

// Mutate edits the current items in place of a fetch. fn receives a copy.
// The phase is left unchanged.
func (c *Container[T]) Mutate(fn func([]T) []T) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.items = fn(cloneItems(c.items))
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)
}

// MutateKey is Mutate for producers bound to one key. fn runs only while key
// is still the current key; it reports whether fn ran.
func (c *Container[T]) MutateKey(key string, fn func([]T) []T) bool {
	c.mu.Lock()
	if c.closed || c.key != key {
		c.mu.Unlock()
		return false
	}
	c.items = fn(cloneItems(c.items))
	snap := c.snapshotLocked()
	listeners := c.listenersLocked()
	c.mu.Unlock()
	notify(listeners, snap)
	return true
}

// Subscribe registers fn for every state change and returns a function
// removing it.
func (c *Container[T]) Subscribe(fn func(Snapshot[T])) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return func() {}
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Container[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close unmounts the container. In-flight results are dropped and no
// listener is called afterwards.
func (c *Container[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.invalidateLocked()
	c.closed = true
	c.listeners = make(map[int]func(Snapshot[T]))
}

func (c *Container[T]) invalidateLocked() {
	c.token++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Container[T]) setPhase(p Phase) {
	if c.phase != p {
		metrics.RecordTransition(c.name, p.String())
	}
	c.phase = p
}

func (c *Container[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Phase:     c.phase,
		Key:       c.key,
		Items:     cloneItems(c.items),
		Err:       c.err,
		Message:   apperr.Message(c.err),
		HasData:   c.hasData,
		UpdatedAt: c.updatedAt,
	}
}

func (c *Container[T]) listenersLocked() []func(Snapshot[T]) {
	out := make([]func(Snapshot[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		out = append(out, fn)
	}
	return out
}

func notify[T any](listeners []func(Snapshot[T]), snap Snapshot[T]) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func cloneItems[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
