// Package user holds the profile record stored in the users table.
package user

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role grants access to parts of the portal.
type Role string

const (
	RoleUser       Role = "user"
	RoleDesigner   Role = "designer"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

// Roles lists every role, least privileged first.
var Roles = []Role{RoleUser, RoleDesigner, RoleAdmin, RoleSuperAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleDesigner, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r may use the back office.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// UnmarshalJSON rejects unknown roles.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Role(s).Valid() {
		return fmt.Errorf("unknown role %q", s)
	}
	*r = Role(s)
	return nil
}

// Status is the account state set by admins.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if !Status(v).Valid() {
		return fmt.Errorf("unknown user status %q", v)
	}
	*s = Status(v)
	return nil
}

// XPPerLevel is the experience needed to gain one level.
const XPPerLevel = 1000

// User is a row of the users table.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	XP        int       `json:"xp"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// New returns the profile created on sign-up or first-login backfill.
func New(id, email, name string) User {
	if name == "" {
		name = nameFromEmail(email)
	}
	return User{
		ID:     id,
		Email:  email,
		Name:   name,
		Role:   RoleUser,
		Status: StatusActive,
		XP:     0,
		Level:  1,
	}
}

// LevelFor returns the level reached with xp.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/XPPerLevel
}

// DisplayName returns the name, falling back to the email's local part.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return nameFromEmail(u.Email)
}

// CanGrant reports whether actor may give target the role.
// Only super-admins hand out admin roles.
func CanGrant(actor, role Role) bool {
	switch {
	case !actor.IsAdmin() || !role.Valid():
		return false
	case role.IsAdmin():
		return actor == RoleSuperAdmin
	default:
		return true
	}
}

func nameFromEmail(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
