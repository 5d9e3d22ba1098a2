// Package admin holds the back-office screens. Every action checks that the
// signed-in user is an admin or super-admin before calling the backend.
package admin

import (
	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/screens"
)

func gate(deps screens.Deps) (user.User, error) {
	return deps.Identity.RequireAdmin()
}

func logger(deps screens.Deps, screen string) *zap.Logger {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return log.With(zap.String("screen", screen))
}
