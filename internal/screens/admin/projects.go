package admin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// deliveryXP is awarded to the client whose request reaches delivered.
const deliveryXP = 100

// Projects manages every design request.
type Projects struct {
	deps screens.Deps
	log  *zap.Logger
	view *viewstate.Container[request.Request]

	mu     sync.Mutex
	status request.Status
}

// NewProjects creates the projects screen.
func NewProjects(deps screens.Deps) *Projects {
	s := &Projects{deps: deps, log: logger(deps, "admin.projects")}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[request.Request]("admin.projects"),
		viewstate.WithLogger[request.Request](s.log))
	return s
}

func (s *Projects) fetch(ctx context.Context, _ string) ([]request.Request, error) {
	if _, err := gate(s.deps); err != nil {
		return nil, err
	}
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	return s.deps.Requests.All(ctx, status)
}

// SetFilter restricts the next load to one status. Empty loads all.
func (s *Projects) SetFilter(status request.Status) error {
	if status != "" && !status.Valid() {
		return apperr.NewValidationError("status", "unknown status "+string(status))
	}
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	return nil
}

// Load fetches the requests.
func (s *Projects) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Projects) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Snapshot returns the requests.
func (s *Projects) Snapshot() viewstate.Snapshot[request.Request] { return s.view.Snapshot() }

// Advance moves a request one step forward.
func (s *Projects) Advance(ctx context.Context, id string) (request.Request, error) {
	if _, err := gate(s.deps); err != nil {
		return request.Request{}, err
	}
	current, err := s.deps.Requests.Get(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	next, ok := current.Status.Next()
	if !ok {
		return request.Request{}, fmt.Errorf("%w: request is already %s", apperr.ErrTransition, current.Status)
	}
	return s.write(ctx, id, current.Status, next)
}

// Override sets any status, including moving backwards. It is the only path
// that can regress a request.
func (s *Projects) Override(ctx context.Context, id string, status request.Status) (request.Request, error) {
	actor, err := gate(s.deps)
	if err != nil {
		return request.Request{}, err
	}
	if !status.Valid() {
		return request.Request{}, apperr.NewValidationError("status", "unknown status "+string(status))
	}
	current, err := s.deps.Requests.Get(ctx, id)
	if err != nil {
		return request.Request{}, err
	}
	s.log.Warn("status override",
		zap.String("request_id", id),
		zap.String("actor", actor.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)))
	return s.write(ctx, id, current.Status, status)
}

// Assign gives a request to a designer.
func (s *Projects) Assign(ctx context.Context, id, designerID string) (request.Request, error) {
	if _, err := gate(s.deps); err != nil {
		return request.Request{}, err
	}
	designer, err := s.deps.Users.Get(ctx, designerID)
	if err != nil {
		return request.Request{}, err
	}
	if designer.Role != user.RoleDesigner {
		return request.Request{}, apperr.NewValidationError("designer_id", designer.DisplayName()+" is not a designer")
	}
	if designer.Status != user.StatusActive {
		return request.Request{}, apperr.NewValidationError("designer_id", designer.DisplayName()+" is not active")
	}
	updated, err := s.deps.Requests.Assign(ctx, id, designerID)
	if err != nil {
		return request.Request{}, err
	}
	s.log.Info("request assigned", zap.String("request_id", id), zap.String("designer_id", designerID))
	s.replace(updated)
	return updated, nil
}

func (s *Projects) write(ctx context.Context, id string, from, to request.Status) (request.Request, error) {
	updated, err := s.deps.Requests.UpdateStatus(ctx, id, from, to)
	if err != nil {
		return request.Request{}, err
	}
	s.log.Info("request status changed", zap.String("request_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	s.replace(updated)
	if to == request.StatusDelivered && from != request.StatusDelivered {
		s.award(ctx, updated)
	}
	return updated, nil
}

// award credits the owner of a delivered request. The status change stands
// even when the award fails.
func (s *Projects) award(ctx context.Context, r request.Request) {
	owner, err := s.deps.Users.AddXP(ctx, r.UserID, deliveryXP)
	if err != nil {
		s.log.Warn("delivery xp not awarded", zap.String("request_id", r.ID), zap.String("user_id", r.UserID), zap.Error(err))
		return
	}
	s.log.Info("delivery xp awarded", zap.String("user_id", owner.ID), zap.Int("xp", owner.XP), zap.Int("level", owner.Level))
}

func (s *Projects) replace(r request.Request) {
	s.view.Mutate(func(items []request.Request) []request.Request {
		for i := range items {
			if items[i].ID == r.ID {
				items[i] = r
			}
		}
		return items
	})
}

// Close unmounts the screen.
func (s *Projects) Close() { s.view.Close() }
