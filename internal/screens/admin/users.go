package admin

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
)

// Users manages accounts.
type Users struct {
	deps screens.Deps
	log  *zap.Logger
	view *viewstate.Container[user.User]

	mu     sync.Mutex
	filter resource.UserFilter
}

// NewUsers creates the users screen.
func NewUsers(deps screens.Deps) *Users {
	s := &Users{deps: deps, log: logger(deps, "admin.users")}
	s.view = viewstate.New(s.fetch,
		viewstate.WithName[user.User]("admin.users"),
		viewstate.WithLogger[user.User](s.log))
	return s
}

func (s *Users) fetch(ctx context.Context, _ string) ([]user.User, error) {
	if _, err := gate(s.deps); err != nil {
		return nil, err
	}
	s.mu.Lock()
	f := s.filter
	s.mu.Unlock()
	return s.deps.Users.List(ctx, f)
}

// SetFilter narrows the next load.
func (s *Users) SetFilter(f resource.UserFilter) error {
	if f.Role != "" && !f.Role.Valid() {
		return apperr.NewValidationError("role", "unknown role "+string(f.Role))
	}
	if f.Status != "" && !f.Status.Valid() {
		return apperr.NewValidationError("status", "unknown status "+string(f.Status))
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	return nil
}

// Load fetches the accounts.
func (s *Users) Load(ctx context.Context) error { return s.view.Load(ctx) }

// Retry re-runs the last failed load.
func (s *Users) Retry(ctx context.Context) error { return s.view.Retry(ctx) }

// Snapshot returns the accounts.
func (s *Users) Snapshot() viewstate.Snapshot[user.User] { return s.view.Snapshot() }

// SetRole changes the role of an account. Only super-admins grant admin
// roles or change the role of an admin.
func (s *Users) SetRole(ctx context.Context, id string, role user.Role) (user.User, error) {
	actor, err := gate(s.deps)
	if err != nil {
		return user.User{}, err
	}
	if !role.Valid() {
		return user.User{}, apperr.NewValidationError("role", "unknown role "+string(role))
	}
	target, err := s.deps.Users.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if !user.CanGrant(actor.Role, role) || (target.Role.IsAdmin() && actor.Role != user.RoleSuperAdmin) {
		return user.User{}, apperr.ErrForbidden
	}
	if target.ID == actor.ID {
		return user.User{}, apperr.NewValidationError("role", "you cannot change your own role")
	}

	updated, err := s.deps.Users.SetRole(ctx, id, role)
	if err != nil {
		return user.User{}, err
	}
	s.log.Info("role changed", zap.String("user_id", id), zap.String("from", string(target.Role)), zap.String("to", string(role)))
	s.replace(updated)
	return updated, nil
}

// SetStatus activates, deactivates or suspends an account. Admin accounts
// are managed by super-admins only.
func (s *Users) SetStatus(ctx context.Context, id string, status user.Status) (user.User, error) {
	actor, err := gate(s.deps)
	if err != nil {
		return user.User{}, err
	}
	if !status.Valid() {
		return user.User{}, apperr.NewValidationError("status", "unknown status "+string(status))
	}
	target, err := s.deps.Users.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if target.ID == actor.ID {
		return user.User{}, apperr.NewValidationError("status", "you cannot change your own status")
	}
	if target.Role.IsAdmin() && actor.Role != user.RoleSuperAdmin {
		return user.User{}, apperr.ErrForbidden
	}

	updated, err := s.deps.Users.SetStatus(ctx, id, status)
	if err != nil {
		return user.User{}, err
	}
	s.log.Info("status changed", zap.String("user_id", id), zap.String("to", string(status)))
	s.replace(updated)
	return updated, nil
}

func (s *Users) replace(u user.User) {
	s.view.Mutate(func(items []user.User) []user.User {
		for i := range items {
			if items[i].ID == u.ID {
				items[i] = u
			}
		}
		return items
	})
}

// Close unmounts the screen.
func (s *Users) Close() { s.view.Close() }
