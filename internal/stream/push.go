package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pixelcraft-studio/portal/internal/config"
	"github.com/pixelcraft-studio/portal/internal/resource"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

const (
	leaveTimeout = 5 * time.Second
	joinTimeout  = 10 * time.Second
)

// Push streams INSERT events over the realtime websocket. The connection is
// opened by the first Subscribe and again after it was lost.
type Push struct {
	rt     *client.RealtimeClient
	tokens resource.Tokens
	log    *zap.Logger
}

// NewPush creates a push source.
func NewPush(rt *client.RealtimeClient, tokens resource.Tokens, log *zap.Logger) *Push {
	return &Push{rt: rt, tokens: tokens, log: log.With(zap.String("component", "stream"), zap.String("mode", config.ModePush))}
}

// Mode implements Source.
func (p *Push) Mode() string { return config.ModePush }

// Subscribe implements Source. It returns once the server acknowledged the
// join, so every row committed afterwards is delivered.
func (p *Push) Subscribe(ctx context.Context, f Filter, fn func(client.Change)) (Subscription, error) {
	if err := p.rt.Connect(ctx); err != nil {
		return nil, err
	}
	var token string
	if p.tokens != nil {
		token = p.tokens.AccessToken()
	}
	ch, err := p.rt.Subscribe(ctx, client.ChangeFilter{
		Event:  "INSERT",
		Table:  f.Table,
		Filter: f.expr(),
	}, token, fn)
	if err != nil {
		return nil, err
	}
	sub := &pushSub{ch: ch}
	if err := awaitJoin(ctx, ch); err != nil {
		_ = sub.Close()
		return nil, err
	}
	p.log.Debug("subscribed", zap.String("topic", ch.Topic()))
	return sub, nil
}

func awaitJoin(ctx context.Context, ch *client.Channel) error {
	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()
	select {
	case <-ch.Joined():
		return nil
	case err := <-ch.Err():
		return fmt.Errorf("join %s: %w", ch.Topic(), err)
	case <-timer.C:
		return fmt.Errorf("join %s: no reply within %s", ch.Topic(), joinTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the websocket connection and fails every open subscription.
func (p *Push) Close() error {
	return p.rt.Close()
}

type pushSub struct {
	ch *client.Channel
}

func (s *pushSub) Err() <-chan error { return s.ch.Err() }

func (s *pushSub) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	return s.ch.Unsubscribe(ctx)
}
