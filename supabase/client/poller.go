package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// PollConfig configures a ChangePoller.
type PollConfig struct {
	Table string
	// Column and Value restrict the poll to rows where Column equals Value.
	Column string
	Value  string
	// Since is the initial created_at cursor; rows at or after it are reported.
	Since       time.Time
	Interval    time.Duration
	Limit       int
	AccessToken string
}

// ChangePoller reports rows inserted into a table by polling created_at.
//
// The cursor is inclusive so rows sharing the newest timestamp are not lost;
// ids already reported at the cursor are skipped.
type ChangePoller struct {
	client  *Client
	cfg     PollConfig
	handler ChangeHandler

	mu      sync.Mutex
	cursor  time.Time
	seen    map[string]struct{}
	running bool
	stopCh  chan struct{}

	errOnce sync.Once
	errs    chan error
}

// NewChangePoller creates a new change poller.
func (c *Client) NewChangePoller(cfg PollConfig) *ChangePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	return &ChangePoller{
		client: c,
		cfg:    cfg,
		cursor: cfg.Since,
		seen:   make(map[string]struct{}),
		stopCh: make(chan struct{}),
		errs:   make(chan error, 1),
	}
}

// OnChange sets the handler for changes.
func (p *ChangePoller) OnChange(handler ChangeHandler) *ChangePoller {
	p.handler = handler
	return p
}

// Err delivers the error that stopped the poller.
func (p *ChangePoller) Err() <-chan error {
	return p.errs
}

// Start begins polling for changes.
func (p *ChangePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
	return nil
}

// Stop stops the poller.
func (p *ChangePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		close(p.stopCh)
		p.running = false
	}
}

func (p *ChangePoller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.errOnce.Do(func() { p.errs <- err })
				p.Stop()
				return
			}
		}
	}
}

// Poll runs one query and reports every row not seen before, oldest first.
func (p *ChangePoller) Poll(ctx context.Context) error {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()

	q := p.client.From(p.cfg.Table).Select("*")
	if p.cfg.Column != "" {
		q = q.Eq(p.cfg.Column, p.cfg.Value)
	}
	if !cursor.IsZero() {
		q = q.Gte("created_at", cursor)
	}
	q = q.Order("created_at", true).Limit(p.cfg.Limit)
	if p.cfg.AccessToken != "" {
		q = q.WithToken(p.cfg.AccessToken)
	}

	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("poll %s: invalid response", p.cfg.Table)
	}

	var changes []Change
	p.mu.Lock()
	gjson.ParseBytes(data).ForEach(func(_, row gjson.Result) bool {
		id := row.Get("id").String()
		created, _ := time.Parse(time.RFC3339Nano, row.Get("created_at").String())
		if _, ok := p.seen[id]; ok {
			return true
		}
		if created.After(p.cursor) {
			p.cursor = created
			p.seen = make(map[string]struct{})
		}
		p.seen[id] = struct{}{}
		changes = append(changes, Change{
			Type:            "INSERT",
			Schema:          "public",
			Table:           p.cfg.Table,
			Record:          json.RawMessage(row.Raw),
			CommitTimestamp: created,
		})
		return true
	})
	p.mu.Unlock()

	if p.handler != nil {
		for _, ch := range changes {
			p.handler(ch)
		}
	}
	return nil
}
