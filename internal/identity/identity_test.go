package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/validation"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

func token(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// fakeAuth is a minimal GoTrue + PostgREST users endpoint.
type fakeAuth struct {
	t        *testing.T
	mu       sync.Mutex
	profiles map[string]string
	created  []string
	logouts  int
	refresh  int
	// failLogin makes the password grant fail.
	failLogin bool
	confirm   bool
}

func newFakeAuth(t *testing.T) (*fakeAuth, *client.Client) {
	f := &fakeAuth{t: t, profiles: make(map[string]string)}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	db, err := client.New(client.Config{URL: server.URL, APIKey: "anon"})
	require.NoError(t, err)
	return f, db
}

func (f *fakeAuth) session(sub string) string {
	data, _ := json.Marshal(map[string]any{
		"access_token":  token(f.t, sub, time.Now().Add(time.Hour)),
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + sub,
		"user":          map[string]any{"id": sub, "email": sub + "@example.com", "user_metadata": map[string]any{"name": "From Metadata"}},
	})
	return string(data)
}

func (f *fakeAuth) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if f.failLogin {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
			return
		}
		email := gjson.GetBytes(body, "email").String()
		_, _ = io.WriteString(w, f.session(email[:len(email)-len("@example.com")]))
	case r.URL.Path == "/auth/v1/token":
		f.refresh++
		if gjson.GetBytes(body, "refresh_token").String() == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`)
			return
		}
		_, _ = io.WriteString(w, f.session("u1"))
	case r.URL.Path == "/auth/v1/signup":
		if f.confirm {
			_, _ = io.WriteString(w, `{"id":"u9","email":"new@example.com"}`)
			return
		}
		_, _ = io.WriteString(w, f.session("u9"))
	case r.URL.Path == "/auth/v1/logout":
		f.logouts++
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/rest/v1/users" && r.Method == http.MethodGet:
		id := r.URL.Query().Get("id")[len("eq."):]
		if row, ok := f.profiles[id]; ok {
			_, _ = io.WriteString(w, "["+row+"]")
			return
		}
		_, _ = io.WriteString(w, "[]")
	case r.URL.Path == "/rest/v1/users" && r.Method == http.MethodPost:
		assert.NotEmpty(f.t, r.Header.Get("Authorization"))
		id := gjson.GetBytes(body, "id").String()
		f.created = append(f.created, string(body))
		f.profiles[id] = string(body)
		_, _ = io.WriteString(w, "["+string(body)+"]")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newProvider(t *testing.T, db *client.Client, secret string) (*Provider, *Store) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "session.json"), secret)
	require.NoError(t, err)
	return New(db, store, nil), store
}

func TestSignIn_BackfillsProfile(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, store := newProvider(t, db, "")

	var seen []*user.User
	p.Subscribe(func(u *user.User) { seen = append(seen, u) })

	u, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "From Metadata", u.Name)
	assert.Equal(t, user.RoleUser, u.Role)
	assert.Equal(t, 1, u.Level)
	require.Len(t, fake.created, 1)

	assert.NotEmpty(t, p.AccessToken())
	require.Len(t, seen, 1)
	assert.Equal(t, "u1", seen[0].ID)

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, p.AccessToken(), saved.AccessToken)
}

func TestSignIn_ValidatesBeforeCalling(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, _ := newProvider(t, db, "")

	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "nope", Password: "x"})
	require.True(t, apperr.IsValidation(err))
	assert.Zero(t, fake.refresh)
	assert.Empty(t, fake.created)
}

func TestSignIn_BadCredentials(t *testing.T) {
	fake, db := newFakeAuth(t)
	fake.failLogin = true
	p, _ := newProvider(t, db, "")

	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.True(t, apperr.IsAuth(err))
	assert.Equal(t, "Invalid login credentials", apperr.Message(err))
	_, ok := p.Current()
	assert.False(t, ok)
}

func TestSignIn_SuspendedIsRefused(t *testing.T) {
	fake, db := newFakeAuth(t)
	fake.profiles["u1"] = `{"id":"u1","email":"u1@example.com","name":"U","role":"user","status":"suspended","xp":0,"level":1}`
	p, store := newProvider(t, db, "")

	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.True(t, apperr.IsAuth(err))
	assert.ErrorIs(t, err, ErrSuspended)
	assert.Equal(t, 1, fake.logouts)
	assert.Empty(t, p.AccessToken())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestSignUp_CreatesProfile(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, _ := newProvider(t, db, "")

	u, err := p.SignUp(context.Background(), validation.SignUp{
		Name: "Nina", Email: "u9@example.com", Password: "password1", ConfirmPassword: "password1",
	})
	require.NoError(t, err)
	assert.Equal(t, "u9", u.ID)
	assert.Equal(t, user.StatusActive, u.Status)

	require.Len(t, fake.created, 1)
	row := gjson.Parse(fake.created[0])
	assert.Equal(t, "Nina", row.Get("name").String())
	assert.Equal(t, "user", row.Get("role").String())
	assert.Equal(t, int64(0), row.Get("xp").Int())
	assert.Equal(t, int64(1), row.Get("level").Int())
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	fake, db := newFakeAuth(t)
	fake.confirm = true
	p, _ := newProvider(t, db, "")

	_, err := p.SignUp(context.Background(), validation.SignUp{
		Name: "Nina", Email: "new@example.com", Password: "password1", ConfirmPassword: "password1",
	})
	assert.ErrorIs(t, err, ErrConfirmationPending)
	_, ok := p.Current()
	assert.False(t, ok)
}

func TestSignUp_PasswordMismatch(t *testing.T) {
	_, db := newFakeAuth(t)
	p, _ := newProvider(t, db, "")
	_, err := p.SignUp(context.Background(), validation.SignUp{
		Name: "Nina", Email: "new@example.com", Password: "password1", ConfirmPassword: "password2",
	})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "does not match", ve.Fields["confirm_password"])
}

func TestSignOut(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, store := newProvider(t, db, "")
	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.NoError(t, err)

	last := &user.User{}
	p.Subscribe(func(u *user.User) { last = u })

	require.NoError(t, p.SignOut(context.Background()))
	assert.Nil(t, last)
	assert.Equal(t, 1, fake.logouts)
	assert.Empty(t, p.AccessToken())
	_, err = os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestInit_RestoresSession(t *testing.T) {
	fake, db := newFakeAuth(t)
	fake.profiles["u1"] = `{"id":"u1","email":"u1@example.com","name":"U","role":"admin","status":"active","xp":0,"level":1}`
	p, store := newProvider(t, db, "")
	require.NoError(t, store.Save(&client.Session{AccessToken: token(t, "u1", time.Now().Add(time.Hour)), RefreshToken: "r"}))

	require.NoError(t, p.Init(context.Background()))
	u, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, user.RoleAdmin, u.Role)
	assert.Zero(t, fake.refresh)

	_, err := p.RequireAdmin()
	assert.NoError(t, err)
	_, err = p.RequireRole(user.RoleDesigner)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestInit_RefreshesExpiredToken(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, store := newProvider(t, db, "")
	expired := token(t, "u1", time.Now().Add(-time.Minute))
	require.NoError(t, store.Save(&client.Session{AccessToken: expired, RefreshToken: "refresh-u1"}))

	require.NoError(t, p.Init(context.Background()))
	assert.Equal(t, 1, fake.refresh)
	assert.NotEqual(t, expired, p.AccessToken())
	_, ok := p.Current()
	assert.True(t, ok)
}

func TestInit_RefreshFailureSignsOut(t *testing.T) {
	_, db := newFakeAuth(t)
	p, store := newProvider(t, db, "")
	require.NoError(t, store.Save(&client.Session{AccessToken: token(t, "u1", time.Now().Add(-time.Minute)), RefreshToken: "revoked"}))

	err := p.Init(context.Background())
	require.True(t, apperr.IsAuth(err))
	assert.Equal(t, "Invalid Refresh Token", apperr.Message(err))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func (f *fakeAuth) refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refresh
}

func TestEnsureFresh(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, store := newProvider(t, db, "")
	require.NoError(t, p.EnsureFresh(context.Background()), "signed out")

	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, p.EnsureFresh(context.Background()))
	assert.Zero(t, fake.refreshes(), "an hour left needs no refresh")

	p.now = func() time.Time { return time.Now().Add(59*time.Minute + 45*time.Second) }
	require.NoError(t, p.EnsureFresh(context.Background()))
	assert.Equal(t, 1, fake.refreshes())
	u, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, p.AccessToken(), saved.AccessToken)
}

func TestKeepFresh_RefreshesBeforeExpiry(t *testing.T) {
	fake, db := newFakeAuth(t)
	p, _ := newProvider(t, db, "")
	_, err := p.SignIn(context.Background(), validation.SignIn{Email: "u1@example.com", Password: "secret1"})
	require.NoError(t, err)
	p.now = func() time.Time { return time.Now().Add(59*time.Minute + 50*time.Second) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.KeepFresh(ctx)
	}()

	require.Eventually(t, func() bool { return fake.refreshes() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("KeepFresh did not stop")
	}
}

func TestInit_NoSession(t *testing.T) {
	_, db := newFakeAuth(t)
	p, _ := newProvider(t, db, "")
	require.NoError(t, p.Init(context.Background()))
	_, err := p.RequireRole(user.RoleUser)
	assert.ErrorIs(t, err, apperr.ErrNotSignedIn)
}

// ============================================================================
// Store
// ============================================================================

func TestStore_SealedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store, err := NewStore(path, "0123456789abcdef")
	require.NoError(t, err)

	in := &client.Session{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: 42}
	require.NoError(t, store.Save(in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh", out.RefreshToken)
	assert.Equal(t, int64(42), out.ExpiresAt)

	other, err := NewStore(path, "another-secret-value")
	require.NoError(t, err)
	_, err = other.Load()
	assert.ErrorIs(t, err, ErrSealed)

	plain, err := NewStore(path, "")
	require.NoError(t, err)
	_, err = plain.Load()
	assert.ErrorIs(t, err, ErrSealed)
}

func TestStore_Plain(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "session.json"), "")
	require.NoError(t, err)

	missing, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(&client.Session{AccessToken: "access"}))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access", got.AccessToken)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
}

func TestClaims(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	c, err := parseClaims(token(t, "u1", exp))
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "u1@example.com", c.Email)
	assert.True(t, c.ExpiresAt.Equal(exp))

	assert.False(t, c.Expired(time.Now(), 0))
	assert.True(t, c.Expired(time.Now(), 2*time.Minute))
	assert.False(t, Claims{}.Expired(time.Now(), 0))

	_, err = parseClaims("not-a-jwt")
	assert.Error(t, err)
}
