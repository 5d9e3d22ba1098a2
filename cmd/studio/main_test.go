package main

import (
	"bytes"
	"context"
	"flag"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelcraft-studio/portal/internal/chat"
	"github.com/pixelcraft-studio/portal/internal/cli"
	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/domain/message"
	"github.com/pixelcraft-studio/portal/internal/viewstate"
	"github.com/pixelcraft-studio/portal/pkg/testutil"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestRun_HelpVersionCompletion(t *testing.T) {
	r := runCLI("", "help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "invoice-create")

	r = runCLI("", "version")
	assert.Equal(t, 0, r.code)
	assert.Equal(t, "studio dev\n", r.stdout)

	r = runCLI("", "completion", "bash")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "complete -F _studio_completion studio")

	r = runCLI("", "completion", "powershell")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "unsupported shell")
}

func TestRun_Usage(t *testing.T) {
	assert.Equal(t, 2, runCLI("").code)

	r := runCLI("", "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, `unknown command "frobnicate"`)
}

func TestRun_MissingConfiguration(t *testing.T) {
	t.Setenv("STUDIO_SUPABASE_URL", "")
	t.Setenv("STUDIO_SUPABASE_ANON_KEY", "")

	r := runCLI("", "dashboard")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "supabase.url is required")
}

func accessToken(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": "nina@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// project points the CLI at a fake backend with a signed-in capable user.
func project(t *testing.T) *testutil.Backend {
	t.Helper()
	backend, _ := testutil.NewBackend(t)
	dir := t.TempDir()
	t.Setenv("STUDIO_CONFIG", "")
	t.Setenv("STUDIO_SUPABASE_URL", backend.URL())
	t.Setenv("STUDIO_SUPABASE_ANON_KEY", "anon")
	t.Setenv("STUDIO_REALTIME_MODE", "poll")
	t.Setenv("STUDIO_SESSION_PATH", filepath.Join(dir, "session.json"))
	t.Setenv("STUDIO_SESSION_SECRET", "correct horse battery staple")
	t.Setenv("STUDIO_LOG_LEVEL", "error")
	t.Setenv("STUDIO_LOG_FILE", filepath.Join(dir, "studio.log"))
	t.Setenv("STUDIO_DIAGNOSTICS_ADDR", "")

	backend.On(http.MethodPost, "/auth/v1/token", http.StatusOK,
		`{"access_token":"`+accessToken(t, "u1")+`","token_type":"bearer","expires_in":3600,"refresh_token":"r1","user":{"id":"u1","email":"nina@example.com"}}`)
	backend.On(http.MethodGet, "/rest/v1/users", http.StatusOK,
		`[{"id":"u1","email":"nina@example.com","name":"Nina","role":"user","status":"active","xp":150,"level":2}]`)
	return backend
}

func TestRun_SessionLifecycle(t *testing.T) {
	backend := project(t)

	r := runCLI("nina@example.com\nsecret123\n", "login")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "signed in as Nina (user)")
	login := backend.CallsTo(http.MethodPost, "/auth/v1/token")
	require.Len(t, login, 1)
	assert.Equal(t, "password", login[0].Query.Get("grant_type"))

	r = runCLI("", "whoami")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "nina@example.com")
	assert.Contains(t, r.stdout, "2 (150 xp)")

	r = runCLI("", "logout")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "signed out")

	r = runCLI("", "whoami")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "not signed in")
}

func TestRun_SignedOutHint(t *testing.T) {
	project(t)

	r := runCLI("", "requests")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "not signed in")
	assert.Contains(t, r.stderr, "run `studio login` first")
}

func TestRun_RemoteFailureSuggestsRerun(t *testing.T) {
	backend := project(t)
	require.Equal(t, 0, runCLI("", "login", "-email", "nina@example.com", "-password", "secret123").code)

	backend.On(http.MethodGet, "/rest/v1/design_requests", http.StatusInternalServerError, `{"message":"upstream timeout"}`)
	r := runCLI("", "requests", "-status", "submitted")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "upstream timeout")
	assert.Contains(t, r.stderr, "run `studio requests -status submitted` to try again")
}

func TestRun_SubmitValidation(t *testing.T) {
	backend := project(t)
	require.Equal(t, 0, runCLI("", "login", "-email", "nina@example.com", "-password", "secret123").code)

	r := runCLI("", "submit", "-title", "x")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "please fix the following")
	assert.Contains(t, r.stderr, "description")
	assert.Empty(t, backend.CallsTo(http.MethodPost, "/rest/v1/design_requests"))
}

func TestRun_AdminGate(t *testing.T) {
	project(t)
	require.Equal(t, 0, runCLI("", "login", "-email", "nina@example.com", "-password", "secret123").code)

	r := runCLI("", "admin", "analytics")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "you do not have permission to do that")

	r = runCLI("", "admin", "reticulate")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `unknown command "reticulate"`)
}

func TestParseItem(t *testing.T) {
	it, err := parseItem("Logo: final files:2:150.5")
	require.NoError(t, err)
	assert.Equal(t, invoice.Item{Description: "Logo: final files", Quantity: 2, UnitPrice: 150.5}, it)

	for _, bad := range []string{"Logo", "Logo:2", "Logo:two:150", "Logo:2:lots"} {
		_, err := parseItem(bad)
		assert.Error(t, err, bad)
	}

	var items itemsFlag
	require.NoError(t, items.Set("Icon:1:10"))
	require.NoError(t, items.Set("Banner:3:20"))
	assert.Len(t, items, 2)
	assert.Equal(t, "Icon:1:10, Banner:3:20", items.String())
}

func TestParseWithArgs(t *testing.T) {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	dir := fs.String("o", ".", "")
	pos, err := parseWithArgs(fs, []string{"INV-202403-0001", "-o", "/tmp"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"INV-202403-0001"}, pos)
	assert.Equal(t, "/tmp", *dir)

	_, err = parseWithArgs(flag.NewFlagSet("pay", flag.ContinueOnError), nil, 1)
	assert.Error(t, err)
}

func TestTranscript(t *testing.T) {
	var out, errOut bytes.Buffer
	tr := newTranscript(cli.NewPrinter(&out, &errOut), "u1")
	at := time.Date(2024, 3, 15, 9, 30, 0, 0, time.Local)

	snap := viewstate.Snapshot[chat.Entry]{Items: []chat.Entry{
		{Message: message.Message{ID: "m1", SenderID: "d1", Text: "draft ready", CreatedAt: at}},
		{Message: message.Message{ID: "m2", SenderID: "u1", Text: "looks great", CreatedAt: at}},
		{LocalID: "l1", State: chat.Failed, Message: message.Message{Text: "one more thing"}},
	}}
	tr.render(snap)
	tr.render(snap)

	assert.Equal(t, "09:30 d1: draft ready\n09:30 you: looks great\n", out.String())
	assert.Equal(t, 1, strings.Count(errOut.String(), "not sent"))
}

func TestChatLine_QuitAndUnknown(t *testing.T) {
	var out, errOut bytes.Buffer
	a := &app{out: cli.NewPrinter(&out, &errOut)}

	assert.True(t, chatLine(context.Background(), a, nil, "/quit"))
	assert.False(t, chatLine(context.Background(), a, nil, ""))
	assert.False(t, chatLine(context.Background(), a, nil, "/dance"))
	assert.Contains(t, errOut.String(), "unknown command /dance")
}
