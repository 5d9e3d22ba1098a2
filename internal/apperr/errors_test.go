package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	ve := NewValidationError("email", "must be a valid email address")
	ve.Add("password", "must be at least 8 characters")
	ve.Add("email", "ignored, first message wins")

	assert.False(t, ve.Empty())
	assert.Equal(t, "email: must be a valid email address; password: must be at least 8 characters", ve.Error())

	var nilErr *ValidationError
	assert.True(t, nilErr.Empty())
}

func TestRemoteErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("load dashboard: %w", &RemoteError{Op: "requests.for_owner", Message: "permission denied for table design_requests", Err: cause})

	assert.Equal(t, "permission denied for table design_requests", Message(err))
	assert.True(t, IsRemote(err))
	assert.False(t, IsAuth(err))
	assert.ErrorIs(t, err, cause)
}

func TestAuthErrorIsRemote(t *testing.T) {
	remote := &RemoteError{Op: "auth.token", Message: "Invalid login credentials", Status: 400}
	err := NewAuthError("identity.sign_in", remote)

	assert.True(t, IsAuth(err))
	assert.True(t, IsRemote(err))
	assert.Equal(t, "Invalid login credentials", Message(err))
	assert.Equal(t, "identity.sign_in", err.Op)
	assert.Equal(t, "auth.token", remote.Op, "original error must not be mutated")
}

func TestAuthErrorFromPlainError(t *testing.T) {
	err := NewAuthError("identity.restore", errors.New("session file corrupt"))
	assert.Equal(t, "session file corrupt", err.Error())
}

func TestTransition(t *testing.T) {
	err := Transition("request", "delivered", "draft")
	assert.ErrorIs(t, err, ErrTransition)
	assert.Contains(t, err.Error(), `"delivered"`)
}

func TestMessage_Nil(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", NewValidationError("name", "required"))))
}
