package screens

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/validation"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// Requests lists the user's design requests and submits new ones.
type Requests struct {
	deps Deps
	view *viewstate.Container[request.Request]

	mu     sync.Mutex
	filter request.Status
}

// NewRequests creates the requests screen.
func NewRequests(deps Deps) *Requests {
	r := &Requests{deps: deps}
	r.view = viewstate.New(r.fetch,
		viewstate.WithName[request.Request]("requests"),
		viewstate.WithLogger[request.Request](deps.logger()))
	return r
}

func (r *Requests) fetch(ctx context.Context, _ string) ([]request.Request, error) {
	u, ok := r.deps.Identity.Current()
	if !ok {
		return nil, apperr.ErrNotSignedIn
	}
	return r.deps.Requests.ForOwner(ctx, u.ID, "")
}

// Load fetches the requests.
func (r *Requests) Load(ctx context.Context) error { return r.view.Load(ctx) }

// Retry re-runs the last failed load.
func (r *Requests) Retry(ctx context.Context) error { return r.view.Retry(ctx) }

// SetFilter shows only requests with status s. An empty status shows all.
func (r *Requests) SetFilter(s request.Status) error {
	if s != "" && !s.Valid() {
		return apperr.NewValidationError("status", "unknown status "+string(s))
	}
	r.mu.Lock()
	r.filter = s
	r.mu.Unlock()
	return nil
}

// Snapshot returns the container state with the filter applied, preserving
// order.
func (r *Requests) Snapshot() viewstate.Snapshot[request.Request] {
	r.mu.Lock()
	filter := r.filter
	r.mu.Unlock()
	snap := r.view.Snapshot()
	if snap.Items != nil {
		snap.Items = request.FilterByStatus(snap.Items, filter)
	}
	return snap
}

// Subscribe forwards container changes.
func (r *Requests) Subscribe(fn func(viewstate.Snapshot[request.Request])) func() {
	return r.view.Subscribe(fn)
}

// Submit validates the draft, stores it as submitted and reloads the list.
func (r *Requests) Submit(ctx context.Context, d request.Draft) (request.Request, error) {
	if err := validation.Struct(d); err != nil {
		return request.Request{}, err
	}
	u, ok := r.deps.Identity.Current()
	if !ok {
		return request.Request{}, apperr.ErrNotSignedIn
	}
	created, err := r.deps.Requests.Create(ctx, u.ID, d, request.StatusSubmitted)
	if err != nil {
		return request.Request{}, err
	}
	r.deps.logger().Info("request submitted", zap.String("request_id", created.ID))
	if err := r.view.Load(ctx); err != nil && !errors.Is(err, viewstate.ErrStale) {
		r.deps.logger().Debug("reload after submit failed", zap.Error(err))
	}
	return created, nil
}

// Close unmounts the screen.
func (r *Requests) Close() { r.view.Close() }
