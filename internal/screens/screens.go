// Package screens holds the view models behind each portal screen. A screen
// owns its view-state containers, runs its remote calls and reports every
// failure through its own snapshot; actions also return the error so the
// presentation layer can show it next to the control that triggered it.
package screens

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/stream"
)

// Identity is the current signed-in user. *identity.Provider implements it.
type Identity interface {
	Current() (user.User, bool)
	RequireRole(roles ...user.Role) (user.User, error)
	RequireAdmin() (user.User, error)
	// EnsureFresh renews the access token when it is about to expire.
	EnsureFresh(ctx context.Context) error
}

// Deps are the collaborators shared by every screen.
type Deps struct {
	Identity Identity
	Users    *resource.Users
	Requests *resource.Requests
	Chats    *resource.Chats
	Messages *resource.Messages
	Invoices *resource.Invoices
	// Stream is required by ChatRoom only.
	Stream stream.Source
	Log    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}
