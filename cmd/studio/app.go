package main

import (
	"bufio"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/cli"
	"github.com/pixelcraft-studio/portal/internal/config"
	"github.com/pixelcraft-studio/portal/internal/diag"
	"github.com/pixelcraft-studio/portal/internal/identity"
	"github.com/pixelcraft-studio/portal/internal/metrics"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/internal/screens"
	"github.com/pixelcraft-studio/portal/internal/stream"
	"github.com/pixelcraft-studio/portal/pkg/logger"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// app is the wired client shared by every command.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	ident *identity.Provider
	deps  screens.Deps
	out   *cli.Printer
	in    *bufio.Reader
	diag  *diag.Server
}

func newApp(ctx context.Context, configPath string, stdin io.Reader, out *cli.Printer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	breaker := client.DefaultBreakerConfig()
	breaker.OnStateChange = func(from, to client.CircuitState) {
		metrics.SetCircuitOpen(to == client.CircuitOpen)
		log.Warn("backend circuit changed", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	db, err := client.New(client.Config{
		URL:     cfg.Supabase.URL,
		APIKey:  cfg.Supabase.AnonKey,
		Timeout: cfg.Supabase.Timeout,
		Transport: client.NewTransport(client.TransportConfig{
			RequestsPerSecond: cfg.Supabase.RequestsPerSecond,
			Burst:             cfg.Supabase.Burst,
			Breaker:           breaker,
		}),
		Observer: metrics.ObserveRemote,
		Logger:   log,
	})
	if err != nil {
		logger.Sync(log)
		return nil, err
	}

	store, err := identity.NewStore(cfg.Session.Path, cfg.Session.Secret)
	if err != nil {
		logger.Sync(log)
		return nil, err
	}
	ident := identity.New(db, store, log)
	if err := ident.Init(ctx); err != nil {
		out.Warning("your session could not be restored: %s", apperr.Message(err))
	}

	src, err := stream.New(db, ident, cfg.Realtime, log)
	if err != nil {
		logger.Sync(log)
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		ident: ident,
		out:   out,
		in:    bufio.NewReader(stdin),
		deps: screens.Deps{
			Identity: ident,
			Users:    resource.NewUsers(db, ident),
			Requests: resource.NewRequests(db, ident),
			Chats:    resource.NewChats(db, ident),
			Messages: resource.NewMessages(db, ident),
			Invoices: resource.NewInvoices(db, ident),
			Stream:   src,
			Log:      log,
		},
	}

	if addr := cfg.Diagnostics.Addr; addr != "" {
		router := diag.NewRouter(ident, diag.Info{Version: version, StreamMode: src.Mode(), Started: time.Now()})
		srv, err := diag.Start(addr, router, log)
		if err != nil {
			out.Warning("diagnostics listener not started: %v", err)
		} else {
			a.diag = srv
		}
	}
	return a, nil
}

// Close stops the diagnostics listener and the realtime socket.
func (a *app) Close() {
	if a.diag != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.diag.Shutdown(ctx); err != nil {
			a.log.Debug("diagnostics shutdown", zap.Error(err))
		}
		cancel()
	}
	if c, ok := a.deps.Stream.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Debug("closing stream source", zap.Error(err))
		}
	}
	logger.Sync(a.log)
}

// load runs fn behind a spinner.
func (a *app) load(label string, fn func() error) error {
	sp := a.out.Spinner(label)
	sp.Start()
	defer sp.Stop()
	return fn()
}
