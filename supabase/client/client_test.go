package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{URL: server.URL + "/", APIKey: "anon-key"})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)

	_, err = New(Config{URL: "http://localhost"})
	assert.Error(t, err)

	_, err = New(Config{URL: "not a url", APIKey: "k"})
	assert.Error(t, err)

	c, err := New(Config{URL: "https://project.supabase.co/", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://project.supabase.co", c.BaseURL())
}

// =============================================================================
// Query Builder Tests
// =============================================================================

func TestQueryBuilder_BuildURL(t *testing.T) {
	c, err := New(Config{URL: "https://p.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	got := c.From("messages").
		Select("id,text").
		Eq("chat_id", "c 1").
		Gte("created_at", at).
		In("status", []string{"draft", "sent"}).
		Order("created_at", true).
		Limit(50).
		Offset(10).
		buildURL()

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/rest/v1/messages", u.Path)

	q := u.Query()
	assert.Equal(t, "id,text", q.Get("select"))
	assert.Equal(t, "eq.c 1", q.Get("chat_id"))
	assert.Equal(t, "gte.2024-03-01T09:00:00Z", q.Get("created_at"))
	assert.Equal(t, "in.(draft,sent)", q.Get("status"))
	assert.Equal(t, "created_at.asc", q.Get("order"))
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "10", q.Get("offset"))
}

func TestQueryBuilder_LikeAndContains(t *testing.T) {
	c, err := New(Config{URL: "https://p.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	u, err := url.Parse(c.From("invoices").Like("invoice_number", "INV-202403-*").Contains("participants", []string{"u1"}).buildURL())
	require.NoError(t, err)
	assert.Equal(t, "like.INV-202403-*", u.Query().Get("invoice_number"))
	assert.Equal(t, "cs.{u1}", u.Query().Get("participants"))
}

func TestQueryBuilder_WriteOmitsSelect(t *testing.T) {
	c, err := New(Config{URL: "https://p.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	got := c.From("users").Update(map[string]string{"role": "admin"}).Eq("id", "u1").buildURL()
	assert.Equal(t, "https://p.supabase.co/rest/v1/users?id=eq.u1", got)
}

func TestQueryBuilder_Execute(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"r1","title":"Logo"}]`)
	})

	var rows []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	err := c.From("design_requests").Select("*").Eq("user_id", "u1").WithToken("user-token").ExecuteInto(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Logo", rows[0].Title)
}

func TestQueryBuilder_EmptyResultIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	var rows []map[string]any
	err := c.From("invoices").ExecuteInto(context.Background(), &rows)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryBuilder_InsertSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"text":"hi"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `[{"id":"m1","text":"hi"}]`)
	})

	data, err := c.From("messages").Insert(map[string]string{"text": "hi"}).Execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"m1"`)
}

func TestQueryBuilder_SingleSetsAccept(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, `{"id":"u1"}`)
	})

	_, err := c.From("users").Eq("id", "u1").Single().Execute(context.Background())
	require.NoError(t, err)
}

func TestQueryBuilder_ErrorResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"42501","message":"permission denied for table users"}`)
	})

	_, err := c.From("users").Execute(context.Background())
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "42501", apiErr.Code)
	assert.Equal(t, "permission denied for table users", apiErr.Error())
}

func TestQueryBuilder_MarshalError(t *testing.T) {
	c, err := New(Config{URL: "https://p.supabase.co", APIKey: "k"})
	require.NoError(t, err)

	_, err = c.From("users").Insert(map[string]any{"bad": make(chan int)}).Execute(context.Background())
	assert.ErrorContains(t, err, "marshal body")
}

func TestClient_Observer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer server.Close()

	var mu sync.Mutex
	var ops []string
	c, err := New(Config{
		URL:    server.URL,
		APIKey: "k",
		Observer: func(op string, status int, err error, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, op)
			assert.Equal(t, http.StatusOK, status)
			assert.NoError(t, err)
		},
	})
	require.NoError(t, err)

	_, err = c.From("chats").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get chats"}, ops)
}

func TestClient_RequestIDFromContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-Id"))
		_, _ = io.WriteString(w, `[]`)
	})

	ctx := WithRequestID(context.Background(), "trace-1")
	_, err := c.From("users").Execute(ctx)
	require.NoError(t, err)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestAuth_SignInWithPassword(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"bearer","user":{"id":"u1","email":"a@b.co"}}`)
	})

	session, err := c.Auth().SignInWithPassword(context.Background(), "a@b.co", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "at", session.AccessToken)
	assert.Equal(t, "u1", session.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.Expiry(), 5*time.Second)
}

func TestAuth_SignInFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	})

	_, err := c.Auth().SignInWithPassword(context.Background(), "a@b.co", "wrong")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid login credentials", apiErr.Error())
}

func TestAuth_SignUpWithoutSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"data":{"name":"Ada"}`)
		_, _ = io.WriteString(w, `{"id":"u2","email":"ada@b.co","created_at":"2024-03-01T10:00:00Z"}`)
	})

	session, err := c.Auth().SignUp(context.Background(), "ada@b.co", "secret1", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Empty(t, session.AccessToken)
	require.NotNil(t, session.User)
	assert.Equal(t, "u2", session.User.ID)
}

func TestAuth_RefreshAndUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			_, _ = io.WriteString(w, `{"access_token":"at2","refresh_token":"rt2","expires_at":4102444800}`)
		case "/auth/v1/user":
			assert.Equal(t, "Bearer at2", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"id":"u1","email":"a@b.co"}`)
		case "/auth/v1/logout":
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	session, err := c.Auth().RefreshSession(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, int64(4102444800), session.Expiry().Unix())

	user, err := c.Auth().GetUser(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", user.Email)

	require.NoError(t, c.Auth().SignOut(context.Background(), session.AccessToken))
}

// =============================================================================
// Storage Tests
// =============================================================================

func TestStorage_Download(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/authenticated/invoices/2024/INV-202403-0001.pdf", r.URL.Path)
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "%PDF-1.4")
	})

	data, err := c.Storage().From("invoices").Download(context.Background(), "2024/INV-202403-0001.pdf", "at")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}
