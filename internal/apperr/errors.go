// Package apperr defines the error taxonomy shared by resource clients,
// screens and the presentation layer.
//
// ValidationError blocks a submission before any network call. RemoteError is
// what a resource client returns when the backend rejected a call or could not
// be reached. AuthError is a RemoteError raised by sign-in, sign-up and session
// handling, surfaced next to the form that triggered it.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrForbidden is returned by client-side role gates.
	ErrForbidden = errors.New("you do not have permission to do that")
	// ErrNotSignedIn is returned when an operation needs an identity and there is none.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrTransition is wrapped by illegal status moves.
	ErrTransition = errors.New("status transition not allowed")
	// ErrNotFound is returned when a single-row lookup matched nothing.
	ErrNotFound = errors.New("record not found")
)

// ValidationError collects per-field messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a ValidationError with a single field message.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records a message for field, keeping the first one.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

// RemoteError is a normalized backend failure.
type RemoteError struct {
	// Op names the resource call, e.g. "requests.for_owner".
	Op string
	// Message is the human-readable text shown to the user verbatim.
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AuthError is a RemoteError raised by identity operations.
type AuthError struct {
	*RemoteError
}

func (e *AuthError) Error() string {
	return e.RemoteError.Error()
}

func (e *AuthError) Unwrap() error {
	return e.RemoteError
}

// NewAuthError wraps err as an AuthError. Non-remote errors keep their text.
func NewAuthError(op string, err error) *AuthError {
	var re *RemoteError
	if errors.As(err, &re) {
		cp := *re
		cp.Op = op
		return &AuthError{RemoteError: &cp}
	}
	return &AuthError{RemoteError: &RemoteError{Op: op, Message: err.Error(), Err: err}}
}

// Transition reports an illegal status move.
func Transition(entity, from, to string) error {
	return fmt.Errorf("%w: %s cannot move from %q to %q", ErrTransition, entity, from, to)
}

// Message returns the text a screen shows for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}

// IsRemote reports whether err came from the backend boundary.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
