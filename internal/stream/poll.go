package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/config"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Poll streams new rows by querying created_at at a fixed interval.
type Poll struct {
	db       *client.Client
	tokens   resource.Tokens
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewPoll creates a poll source.
func NewPoll(db *client.Client, tokens resource.Tokens, interval time.Duration, log *zap.Logger) *Poll {
	return &Poll{
		db:       db,
		tokens:   tokens,
		interval: interval,
		log:      log.With(zap.String("component", "stream"), zap.String("mode", config.ModePoll)),
		now:      time.Now,
	}
}

// Mode implements Source.
func (p *Poll) Mode() string { return config.ModePoll }

// skewMargin widens a cursor taken from the local clock, which may run ahead of
// the database's. Rows seen twice are deduplicated downstream.
const skewMargin = time.Minute

// Subscribe implements Source. Without f.Since only rows created from about
// now on are reported.
func (p *Poll) Subscribe(ctx context.Context, f Filter, fn func(client.Change)) (Subscription, error) {
	since := f.Since
	if since.IsZero() {
		since = p.now().Add(-skewMargin)
	}
	var token string
	if p.tokens != nil {
		token = p.tokens.AccessToken()
	}
	poller := p.db.NewChangePoller(client.PollConfig{
		Table:       f.Table,
		Column:      f.Column,
		Value:       f.Value,
		Since:       since,
		Interval:    p.interval,
		AccessToken: token,
	}).OnChange(fn)
	if err := poller.Start(ctx); err != nil {
		return nil, err
	}
	p.log.Debug("polling", zap.String("table", f.Table), zap.Duration("interval", p.interval))
	return &pollSub{poller: poller}, nil
}

type pollSub struct {
	poller *client.ChangePoller
}

func (s *pollSub) Err() <-chan error { return s.poller.Err() }

func (s *pollSub) Close() error {
	s.poller.Stop()
	return nil
}
