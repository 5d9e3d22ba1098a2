// Package resource translates domain calls into backend queries, one client
// per entity family. Every failure is returned as *apperr.RemoteError and an
// empty result is a success with an empty slice.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/supabase/client"
)

// Table names.
const (
	TableUsers    = "users"
	TableRequests = "design_requests"
	TableChats    = "chats"
	TableMessages = "messages"
	TableInvoices = "invoices"

	// InvoiceBucket stores rendered invoice PDFs.
	InvoiceBucket = "invoices"
)

// Tokens supplies the access token of the signed-in user, or "" when nobody
// is signed in.
type Tokens interface {
	AccessToken() string
}

// StaticToken is a fixed token, used by tools and tests.
type StaticToken string

// AccessToken implements Tokens.
func (t StaticToken) AccessToken() string { return string(t) }

type base struct {
	db     *client.Client
	tokens Tokens
}

func (b base) token() string {
	if b.tokens == nil {
		return ""
	}
	return b.tokens.AccessToken()
}

func (b base) from(table string) *client.QueryBuilder {
	return b.db.From(table).WithToken(b.token())
}

// list runs q and decodes every row.
func list[T any](ctx context.Context, op string, q *client.QueryBuilder) ([]T, error) {
	data, err := q.Execute(ctx)
	if err != nil {
		return nil, remote(op, err)
	}
	rows := make([]T, 0)
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, decodeError(op, err)
	}
	return rows, nil
}

// one runs q and returns the first row, or apperr.ErrNotFound.
func one[T any](ctx context.Context, op string, q *client.QueryBuilder) (T, error) {
	var zero T
	rows, err := list[T](ctx, op, q)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, &apperr.RemoteError{Op: op, Message: apperr.ErrNotFound.Error(), Err: apperr.ErrNotFound}
	}
	return rows[0], nil
}

// remote normalizes a backend failure into a RemoteError.
func remote(op string, err error) error {
	var apiErr *client.Error
	if errors.As(err, &apiErr) {
		return &apperr.RemoteError{
			Op:      op,
			Message: apiErr.Text(),
			Code:    apiErr.Code,
			Status:  apiErr.StatusCode,
			Err:     err,
		}
	}
	msg := err.Error()
	switch {
	case errors.Is(err, client.ErrCircuitOpen):
		msg = client.ErrCircuitOpen.Error()
	case errors.Is(err, context.DeadlineExceeded):
		msg = "the server took too long to respond"
	case errors.Is(err, context.Canceled):
		msg = "request cancelled"
	}
	return &apperr.RemoteError{Op: op, Message: msg, Err: err}
}

// guarded runs a write filtered on the value the caller read. No returned row
// means the record changed in between; the error wraps both ErrConflict and
// apperr.ErrTransition.
func guarded[T any](ctx context.Context, op, entity string, q *client.QueryBuilder, from string) (T, error) {
	var zero T
	rows, err := list[T](ctx, op, q)
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, &apperr.RemoteError{
			Op:      op,
			Message: fmt.Sprintf("the %s is no longer %s, reload and try again", entity, from),
			Err:     fmt.Errorf("%w: %w", ErrConflict, apperr.ErrTransition),
		}
	}
	return rows[0], nil
}

func decodeError(op string, err error) error {
	return &apperr.RemoteError{
		Op:      op,
		Message: fmt.Sprintf("unexpected response from server: %v", err),
		Err:     err,
	}
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var re *apperr.RemoteError
	return errors.As(err, &re) && re.Code == "23505"
}
