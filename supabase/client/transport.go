package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Failed calls are never retried here. The transport paces outbound requests
// and fails fast while the backend is down.

// =============================================================================
// Breaker
// =============================================================================

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen lets exactly one probe request through.
	CircuitHalfOpen
)

var circuitStateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if name, ok := circuitStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrCircuitOpen is returned without contacting the backend while the
// breaker is open.
var ErrCircuitOpen = errors.New("backend unavailable, try again shortly")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failed calls that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before admitting a probe.
	Cooldown time.Duration
	// OnStateChange runs on its own goroutine for every state change.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig opens after five failures and probes after 15s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 15 * time.Second}
}

// Breaker fails calls fast after repeated backend failures. A successful
// probe closes it again, a failed one restarts the cooldown.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	probing  bool
	until    time.Time
}

// NewBreaker creates a closed Breaker. Zero config fields take the defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may go out. Every nil return must be followed
// by Success, Failure or Abandon.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Before(b.until) {
			return ErrCircuitOpen
		}
		b.set(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// Success records a call the backend answered.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != CircuitClosed {
		b.set(CircuitClosed)
	}
}

// Failure records a call the backend failed.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.failures++
	if b.state == CircuitHalfOpen || (b.state == CircuitClosed && b.failures >= b.cfg.Threshold) {
		b.until = b.now().Add(b.cfg.Cooldown)
		b.set(CircuitOpen)
	}
}

// Abandon releases a call that ended without an answer either way.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) set(to CircuitState) {
	from := b.state
	b.state = to
	if to == CircuitClosed {
		b.failures = 0
	}
	if fn := b.cfg.OnStateChange; fn != nil && from != to {
		go fn(from, to)
	}
}

// =============================================================================
// Transport
// =============================================================================

// TransportConfig configures NewTransport.
type TransportConfig struct {
	Base http.RoundTripper
	// RequestsPerSecond paces outbound requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	Breaker           BreakerConfig
}

// Transport is an http.RoundTripper that paces requests, tags them with a
// request id and fails fast while the backend keeps answering 5xx.
type Transport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	breaker *Breaker
}

// NewTransport creates a Transport.
func NewTransport(cfg TransportConfig) *Transport {
	base := cfg.Base
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     time.Minute,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Transport{
		base:    base,
		limiter: limiter,
		breaker: NewBreaker(cfg.Breaker),
	}
}

// RoundTrip implements http.RoundTripper. Transport errors and 5xx answers
// count as failures; a cancelled context counts as neither.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}

	if req.Header.Get("X-Request-Id") == "" {
		id := RequestIDFrom(req.Context())
		if id == "" {
			id = NewRequestID()
		}
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil && req.Context().Err() != nil:
		t.breaker.Abandon()
	case err != nil, resp.StatusCode >= http.StatusInternalServerError:
		t.breaker.Failure()
	default:
		t.breaker.Success()
	}
	return resp, err
}

// CircuitState returns the breaker state.
func (t *Transport) CircuitState() CircuitState {
	return t.breaker.State()
}

// =============================================================================
// Request IDs
// =============================================================================

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID tags outgoing calls made with ctx with id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the id set by WithRequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// NewRequestID returns a random request id.
func NewRequestID() string {
	return uuid.NewString()
}
