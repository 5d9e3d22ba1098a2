// Package diag serves the local diagnostics listener: Prometheus metrics, a
// health probe and a summary of the signed-in session.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/domain/user"
	"github.com/pixelcraft-studio/portal/internal/metrics"
)

// Session reports the signed-in user. *identity.Provider implements it.
type Session interface {
	Current() (user.User, bool)
	ExpiresAt() time.Time
}

// Info describes the running client.
type Info struct {
	Version    string
	StreamMode string
	Started    time.Time
}

// SessionSummary is the /session body. It never carries tokens.
type SessionSummary struct {
	SignedIn  bool        `json:"signed_in"`
	UserID    string      `json:"user_id,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      user.Role   `json:"role,omitempty"`
	Status    user.Status `json:"status,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// NewRouter builds the diagnostics routes.
func NewRouter(sess Session, info Info) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.InstrumentHandler)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"version":     info.Version,
			"stream_mode": info.StreamMode,
			"uptime":      time.Since(info.Started).Round(time.Second).String(),
		})
	}).Methods(http.MethodGet)
	r.HandleFunc("/session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Summarize(sess))
	}).Methods(http.MethodGet)
	return r
}

// Summarize describes the current session.
func Summarize(sess Session) SessionSummary {
	u, ok := sess.Current()
	if !ok {
		return SessionSummary{}
	}
	s := SessionSummary{
		SignedIn: true,
		UserID:   u.ID,
		Email:    u.Email,
		Role:     u.Role,
		Status:   u.Status,
	}
	if exp := sess.ExpiresAt(); !exp.IsZero() {
		s.ExpiresAt = &exp
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server is a running diagnostics listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *zap.Logger
}

// Start listens on addr and serves handler in the background.
func Start(addr string, handler http.Handler, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:  ln,
		log: log.With(zap.String("component", "diag")),
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("diagnostics listener stopped", zap.Error(err))
		}
	}()
	s.log.Info("diagnostics listening", zap.String("addr", ln.Addr().String()))
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
