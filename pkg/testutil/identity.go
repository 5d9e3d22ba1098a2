package testutil

import (
	"context"
	"sync"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
)

// MockIdentity is a fixed signed-in user. The zero value is signed out.
type MockIdentity struct {
	mu        sync.RWMutex
	user      *user.User
	refreshes int
}

// SignedIn returns an identity for a user with the given id and role.
func SignedIn(id string, role user.Role) *MockIdentity {
	u := user.New(id, id+"@example.com", id)
	u.Role = role
	return &MockIdentity{user: &u}
}

// Set replaces the user; nil signs out.
func (m *MockIdentity) Set(u *user.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = u
}

// Current implements the identity lookup used by screens.
func (m *MockIdentity) Current() (user.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return user.User{}, false
	}
	return *m.user, true
}

// RequireRole mirrors identity.Provider.RequireRole.
func (m *MockIdentity) RequireRole(roles ...user.Role) (user.User, error) {
	u, ok := m.Current()
	if !ok {
		return user.User{}, apperr.ErrNotSignedIn
	}
	for _, r := range roles {
		if u.Role == r {
			return u, nil
		}
	}
	return user.User{}, apperr.ErrForbidden
}

// RequireAdmin mirrors identity.Provider.RequireAdmin.
func (m *MockIdentity) RequireAdmin() (user.User, error) {
	return m.RequireRole(user.RoleAdmin, user.RoleSuperAdmin)
}

// EnsureFresh counts the calls; the token never expires.
func (m *MockIdentity) EnsureFresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return nil
}

// Refreshes returns how often EnsureFresh was called.
func (m *MockIdentity) Refreshes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshes
}

// AccessToken returns a token naming the user.
func (m *MockIdentity) AccessToken() string {
	u, ok := m.Current()
	if !ok {
		return ""
	}
	return "token-" + u.ID
}
