// Package identity owns the signed-in user: the session tokens, the profile
// row and the role checks every screen relies on. There is one Provider per
// process and it is passed to whatever needs the current identity.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/validation"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

const (
	// Refresh access tokens this long before they expire.
	expirySkew = 30 * time.Second
	// refreshRetry is the pause after a failed background refresh.
	refreshRetry = 30 * time.Second
)

var (
	// ErrSuspended is the reason a suspended account is refused.
	ErrSuspended = errors.New("this account is suspended")
	// ErrConfirmationPending is returned by SignUp when the account has to be
	// confirmed by email before signing in.
	ErrConfirmationPending = errors.New("check your inbox to confirm the account, then sign in")
)

// Profiles reads and creates profile rows.
type Profiles interface {
	Get(ctx context.Context, id string) (user.User, error)
	Create(ctx context.Context, p user.User) (user.User, error)
}

// Provider holds the current identity.
type Provider struct {
	auth     *client.AuthClient
	profiles Profiles
	store    *Store
	log      *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	session   *client.Session
	current   *user.User
	listeners map[int]func(*user.User)
	nextID    int
}

// New creates a signed-out provider. Profiles are read with the provider's
// own access token.
func New(db *client.Client, store *Store, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{
		auth:      db.Auth(),
		store:     store,
		log:       log.With(zap.String("component", "identity")),
		now:       time.Now,
		listeners: make(map[int]func(*user.User)),
	}
	p.profiles = resource.NewUsers(db, p)
	return p
}

// Init restores the persisted session. An expired access token is refreshed
// when a refresh token is available; otherwise the session is discarded and
// the provider stays signed out. A missing profile row is backfilled.
func (p *Provider) Init(ctx context.Context) error {
	session, err := p.store.Load()
	if err != nil {
		p.log.Warn("discarding unreadable session", zap.Error(err))
		_ = p.store.Clear()
		return nil
	}
	if session == nil {
		return nil
	}

	claims, err := parseClaims(session.AccessToken)
	if err != nil {
		p.log.Warn("discarding malformed session", zap.Error(err))
		_ = p.store.Clear()
		return nil
	}
	if claims.Expired(p.now(), expirySkew) {
		if session.RefreshToken == "" {
			_ = p.store.Clear()
			return nil
		}
		refreshed, err := p.auth.RefreshSession(ctx, session.RefreshToken)
		if err != nil {
			_ = p.store.Clear()
			return apperr.NewAuthError("session.refresh", err)
		}
		session = refreshed
	}

	return p.establish(ctx, "session.restore", session, "")
}

// SignIn authenticates with email and password.
func (p *Provider) SignIn(ctx context.Context, form validation.SignIn) (user.User, error) {
	if err := validation.Struct(form); err != nil {
		return user.User{}, err
	}
	session, err := p.auth.SignInWithPassword(ctx, form.Email, form.Password)
	if err != nil {
		return user.User{}, apperr.NewAuthError("sign_in", err)
	}
	if err := p.establish(ctx, "sign_in", session, ""); err != nil {
		return user.User{}, err
	}
	u, _ := p.Current()
	return u, nil
}

// SignUp registers an account and creates its profile: role user, status
// active, no experience, level 1.
func (p *Provider) SignUp(ctx context.Context, form validation.SignUp) (user.User, error) {
	if err := validation.Struct(form); err != nil {
		return user.User{}, err
	}
	session, err := p.auth.SignUp(ctx, form.Email, form.Password, map[string]any{"name": form.Name})
	if err != nil {
		return user.User{}, apperr.NewAuthError("sign_up", err)
	}
	if session.AccessToken == "" {
		return user.User{}, ErrConfirmationPending
	}
	if err := p.establish(ctx, "sign_up", session, form.Name); err != nil {
		return user.User{}, err
	}
	u, _ := p.Current()
	return u, nil
}

// SignOut ends the session. The remote logout is best effort; the local
// session is always cleared and listeners are told there is no identity.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.current = nil
	p.mu.Unlock()

	if session != nil {
		if err := p.auth.SignOut(ctx, session.AccessToken); err != nil {
			p.log.Warn("remote sign out failed", zap.Error(err))
		}
	}
	err := p.store.Clear()
	p.notify(nil)
	return err
}

// Refresh exchanges the refresh token for a new access token.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()
	if session == nil {
		return apperr.ErrNotSignedIn
	}

	refreshed, err := p.auth.RefreshSession(ctx, session.RefreshToken)
	if err != nil {
		return apperr.NewAuthError("session.refresh", err)
	}
	if refreshed.User == nil {
		refreshed.User = session.User
	}

	p.mu.Lock()
	if p.session != session {
		p.mu.Unlock()
		return nil
	}
	p.session = refreshed
	p.mu.Unlock()
	return p.store.Save(refreshed)
}

// EnsureFresh refreshes the session when its access token expires within
// expirySkew. Signed out it does nothing.
func (p *Provider) EnsureFresh(ctx context.Context) error {
	p.mu.RLock()
	session := p.session
	p.mu.RUnlock()
	if session == nil {
		return nil
	}
	exp := tokenExpiry(session)
	if exp.IsZero() || p.now().Add(expirySkew).Before(exp) {
		return nil
	}
	return p.Refresh(ctx)
}

// KeepFresh refreshes the session shortly before every expiry until ctx is
// done. Long-lived screens run it next to their live updates.
func (p *Provider) KeepFresh(ctx context.Context) {
	failed := false
	for {
		wait := refreshRetry
		p.mu.RLock()
		session := p.session
		p.mu.RUnlock()
		if session != nil && !failed {
			if exp := tokenExpiry(session); !exp.IsZero() {
				wait = max(exp.Add(-expirySkew).Sub(p.now()), time.Second)
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		failed = false
		if err := p.EnsureFresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("session refresh failed", zap.Error(err))
			failed = true
		}
	}
}

func tokenExpiry(s *client.Session) time.Time {
	if exp := s.Expiry(); !exp.IsZero() {
		return exp
	}
	claims, err := parseClaims(s.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}

// Current returns the signed-in profile.
func (p *Provider) Current() (user.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return user.User{}, false
	}
	return *p.current, true
}

// AccessToken returns the access token, or "" when signed out.
func (p *Provider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return ""
	}
	return p.session.AccessToken
}

// ExpiresAt returns when the access token expires.
func (p *Provider) ExpiresAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return time.Time{}
	}
	return p.session.Expiry()
}

// RequireRole returns the current profile when its role is one of roles.
func (p *Provider) RequireRole(roles ...user.Role) (user.User, error) {
	u, ok := p.Current()
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

// RequireAdmin allows admins and super-admins.
func (p *Provider) RequireAdmin() (user.User, error) {
	return p.RequireRole(user.RoleAdmin, user.RoleSuperAdmin)
}

// Subscribe calls fn on every identity change, with nil after sign-out.
func (p *Provider) Subscribe(fn func(*user.User)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// establish installs session, loads or backfills the profile and persists
// the session. Suspended accounts are signed out again.
func (p *Provider) establish(ctx context.Context, op string, session *client.Session, name string) error {
	id, email := sessionUser(session)
	if id == "" {
		return apperr.NewAuthError(op, errors.New("session has no user"))
	}

	if name == "" && session.User != nil {
		name, _ = session.User.UserMetadata["name"].(string)
	}

	p.mu.Lock()
	p.session = session
	p.mu.Unlock()

	profile, err := p.profile(ctx, id, email, name)
	if err != nil {
		p.reset()
		return apperr.NewAuthError(op, err)
	}
	if profile.Status == user.StatusSuspended {
		if err := p.auth.SignOut(ctx, session.AccessToken); err != nil {
			p.log.Debug("remote sign out failed", zap.Error(err))
		}
		p.reset()
		_ = p.store.Clear()
		return apperr.NewAuthError(op, ErrSuspended)
	}

	p.mu.Lock()
	p.current = &profile
	p.mu.Unlock()

	if err := p.store.Save(session); err != nil {
		p.log.Warn("failed to persist session", zap.Error(err))
	}
	p.log.Info("signed in", zap.String("user_id", profile.ID), zap.String("role", string(profile.Role)))
	cp := profile
	p.notify(&cp)
	return nil
}

func (p *Provider) profile(ctx context.Context, id, email, name string) (user.User, error) {
	u, err := p.profiles.Get(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return user.User{}, err
	}
	p.log.Info("creating missing profile", zap.String("user_id", id))
	return p.profiles.Create(ctx, user.New(id, email, name))
}

func (p *Provider) reset() {
	p.mu.Lock()
	p.session = nil
	p.current = nil
	p.mu.Unlock()
}

func (p *Provider) notify(u *user.User) {
	p.mu.RLock()
	fns := make([]func(*user.User), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(u)
	}
}

func sessionUser(session *client.Session) (id, email string) {
	if session.User != nil {
		id, email = session.User.ID, session.User.Email
	}
	if id == "" || email == "" {
		if claims, err := parseClaims(session.AccessToken); err == nil {
			if id == "" {
				id = claims.Subject
			}
			if email == "" {
				email = claims.Email
			}
		}
	}
	return id, email
}
