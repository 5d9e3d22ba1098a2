package resource

import (
	"context"
	"errors"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// ErrConflict is returned when a row changed between read and write.
var ErrConflict = errors.New("the record changed in the meantime, reload and try again")

// UserFilter narrows Users.List. Empty fields match everything.
type UserFilter struct {
	Role   user.Role
	Status user.Status
}

// Users accesses the users table.
type Users struct {
	base
}

// NewUsers creates a Users resource client.
func NewUsers(db *client.Client, tokens Tokens) *Users {
	return &Users{base{db: db, tokens: tokens}}
}

// Get returns one profile.
func (u *Users) Get(ctx context.Context, id string) (user.User, error) {
	return one[user.User](ctx, "users.get", u.from(TableUsers).Eq("id", id).Limit(1))
}

// List returns profiles, newest first.
func (u *Users) List(ctx context.Context, f UserFilter) ([]user.User, error) {
	q := u.from(TableUsers).Select("*")
	if f.Role != "" {
		q = q.Eq("role", f.Role)
	}
	if f.Status != "" {
		q = q.Eq("status", f.Status)
	}
	return list[user.User](ctx, "users.list", q.Order("created_at", false))
}

type userRow struct {
	ID     string      `json:"id"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Role   user.Role   `json:"role"`
	Status user.Status `json:"status"`
	XP     int         `json:"xp"`
	Level  int         `json:"level"`
}

// Create inserts a profile row.
func (u *Users) Create(ctx context.Context, p user.User) (user.User, error) {
	row := userRow{
		ID:     p.ID,
		Email:  p.Email,
		Name:   p.Name,
		Role:   p.Role,
		Status: p.Status,
		XP:     p.XP,
		Level:  p.Level,
	}
	return one[user.User](ctx, "users.create", u.from(TableUsers).Insert(row))
}

// SetRole changes a user's role.
func (u *Users) SetRole(ctx context.Context, id string, role user.Role) (user.User, error) {
	if !role.Valid() {
		return user.User{}, apperr.NewValidationError("role", "unknown role")
	}
	return u.patch(ctx, "users.set_role", id, map[string]any{"role": role})
}

// SetStatus changes a user's account status.
func (u *Users) SetStatus(ctx context.Context, id string, status user.Status) (user.User, error) {
	if !status.Valid() {
		return user.User{}, apperr.NewValidationError("status", "unknown status")
	}
	return u.patch(ctx, "users.set_status", id, map[string]any{"status": status})
}

// AddXP adds delta experience and recomputes the level. The write only
// applies if xp is unchanged since it was read.
func (u *Users) AddXP(ctx context.Context, id string, delta int) (user.User, error) {
	cur, err := u.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	xp := cur.XP + delta
	if xp < 0 {
		xp = 0
	}

	q := u.from(TableUsers).
		Update(map[string]any{"xp": xp, "level": user.LevelFor(xp)}).
		Eq("id", id).
		Eq("xp", cur.XP)
	rows, err := list[user.User](ctx, "users.add_xp", q)
	if err != nil {
		return user.User{}, err
	}
	if len(rows) == 0 {
		return user.User{}, &apperr.RemoteError{Op: "users.add_xp", Message: ErrConflict.Error(), Err: ErrConflict}
	}
	return rows[0], nil
}

func (u *Users) patch(ctx context.Context, op, id string, fields map[string]any) (user.User, error) {
	return one[user.User](ctx, op, u.from(TableUsers).Update(fields).Eq("id", id))
}
