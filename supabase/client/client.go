// Package client is a small Supabase client covering what the portal needs:
// PostgREST queries, GoTrue auth, storage downloads and realtime changes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxResponseBytes  = 8 << 20
	maxErrorBodyBytes = 32 << 10
)

// Observer receives one call per completed HTTP exchange.
type Observer func(op string, status int, err error, elapsed time.Duration)

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	observe    Observer
	log        *zap.Logger
}

// Config holds client configuration.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// Transport defaults to a paced, circuit-broken transport built by NewTransport.
	Transport http.RoundTripper
	Observer  Observer
	Logger    *zap.Logger
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NewTransport(TransportConfig{})
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		observe:    cfg.Observer,
		log:        log.With(zap.String("component", "supabase")),
	}, nil
}

// BaseURL returns the project URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		columns: "*",
		headers: make(map[string]string),
	}
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client      *Client
	table       string
	method      string
	columns     string
	filters     []string
	orders      []string
	limit       int
	body        []byte
	bodyErr     error
	headers     map[string]string
	single      bool
	accessToken string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.method = http.MethodGet
	q.columns = columns
	return q
}

// Insert inserts records and returns the stored representation.
func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

// Update patches the rows matched by the filters.
func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.method = http.MethodPatch
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

func (q *QueryBuilder) setBody(data any) {
	body, err := json.Marshal(data)
	if err != nil {
		q.bodyErr = fmt.Errorf("marshal body: %w", err)
		return
	}
	q.body = body
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.filter(column, "eq", value)
}

// Gte adds a greater-than-or-equal filter.
func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	return q.filter(column, "gte", value)
}

// Like adds a LIKE filter; * is the wildcard.
func (q *QueryBuilder) Like(column, pattern string) *QueryBuilder {
	return q.filter(column, "like", pattern)
}

// Is adds an IS filter (null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.filter(column, "is", value)
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=in.(%s)", column, strings.Join(escaped, ",")))
	return q
}

// Contains adds an array-contains filter.
func (q *QueryBuilder) Contains(column string, values []string) *QueryBuilder {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=cs.{%s}", column, strings.Join(escaped, ",")))
	return q
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=%s.%s", column, op, url.QueryEscape(formatValue(value))))
	return q
}

func formatValue(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Single expects exactly one row and returns it as an object.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

// WithToken runs the query as the signed-in user so row level security applies.
func (q *QueryBuilder) WithToken(token string) *QueryBuilder {
	q.accessToken = token
	return q
}

// Execute runs the query and returns the raw response body.
func (q *QueryBuilder) Execute(ctx context.Context) ([]byte, error) {
	if q.bodyErr != nil {
		return nil, q.bodyErr
	}

	var body io.Reader
	if q.body != nil {
		body = bytes.NewReader(q.body)
	}
	req, err := http.NewRequestWithContext(ctx, q.method, q.buildURL(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range q.headers {
		req.Header.Set(k, v)
	}
	if q.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return q.client.do(req, q.op(), q.accessToken)
}

// ExecuteInto runs the query and unmarshals the body into dest.
func (q *QueryBuilder) ExecuteInto(ctx context.Context, dest any) error {
	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", q.table, err)
	}
	return nil
}

func (q *QueryBuilder) op() string {
	return strings.ToLower(q.method) + " " + q.table
}

func (q *QueryBuilder) buildURL() string {
	reqURL := q.client.baseURL + "/rest/v1/" + url.PathEscape(q.table)

	params := make([]string, 0, len(q.filters)+4)
	if q.method == http.MethodGet && q.columns != "" {
		params = append(params, "select="+url.QueryEscape(q.columns))
	}
	params = append(params, q.filters...)
	if len(q.orders) > 0 {
		params = append(params, "order="+strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", q.limit))
	}

	if len(params) > 0 {
		reqURL += "?" + strings.Join(params, "&")
	}
	return reqURL
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.apiKey)
	bearer := c.apiKey
	if accessToken != "" {
		bearer = accessToken
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if id := RequestIDFrom(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
}

// do sends req and returns the body of a successful response. Status codes of
// 400 and above become *Error.
func (c *Client) do(req *http.Request, op, accessToken string) ([]byte, error) {
	c.setHeaders(req, accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.finish(op, 0, err, start)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := parseError(body, resp.StatusCode)
		c.finish(op, resp.StatusCode, apiErr, start)
		return nil, apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		c.finish(op, resp.StatusCode, err, start)
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if len(body) > maxResponseBytes {
		err := fmt.Errorf("%s: response exceeds %d bytes", op, maxResponseBytes)
		c.finish(op, resp.StatusCode, err, start)
		return nil, err
	}

	c.finish(op, resp.StatusCode, nil, start)
	return body, nil
}

func (c *Client) finish(op string, status int, err error, start time.Time) {
	elapsed := time.Since(start)
	if c.observe != nil {
		c.observe(op, status, err, elapsed)
	}
	if err != nil {
		c.log.Debug("request failed",
			zap.String("op", op),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	c.log.Debug("request",
		zap.String("op", op),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed))
}
