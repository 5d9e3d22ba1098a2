// Package testutil provides a fake Supabase backend and identity for tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Call is one request seen by the Backend.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   string
	Auth   string
}

// Backend answers with canned responses keyed by "METHOD /path". Replies
// queue up per key; the last one keeps answering. Unknown keys get 200 "[]".
type Backend struct {
	url string

	mu        sync.Mutex
	calls     []Call
	responses map[string][]reply
}

type reply struct {
	status int
	body   string
}

// NewBackend starts a Backend and returns a client pointed at it.
func NewBackend(t testing.TB) (*Backend, *client.Client) {
	t.Helper()
	b := &Backend{responses: make(map[string][]reply)}
	server := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(server.Close)
	b.url = server.URL

	db, err := client.New(client.Config{URL: server.URL, APIKey: "anon"})
	require.NoError(t, err)
	return b, db
}

// URL returns the base URL of the fake project.
func (b *Backend) URL() string { return b.url }

// On queues a reply.
func (b *Backend) On(method, path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := method + " " + path
	b.responses[key] = append(b.responses[key], reply{status: status, body: body})
}

// Calls returns every request seen so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallsTo returns the requests seen for method and path.
func (b *Backend) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the most recent request.
func (b *Backend) Last() Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

// Count returns how many requests were seen.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.calls = append(b.calls, Call{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   string(body),
		Auth:   r.Header.Get("Authorization"),
	})
	key := r.Method + " " + r.URL.Path
	queue := b.responses[key]
	rep := reply{status: http.StatusOK, body: "[]"}
	if len(queue) > 0 {
		rep = queue[0]
		if len(queue) > 1 {
			b.responses[key] = queue[1:]
		}
	}
	b.mu.Unlock()

	w.WriteHeader(rep.status)
	_, _ = io.WriteString(w, rep.body)
}
