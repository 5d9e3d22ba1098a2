package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelcraft-studio/portal/internal/apperr"
	"github.com/pixelcraft-studio/portal/internal/domain/invoice"
	"github.com/pixelcraft-studio/portal/internal/domain/request"
)

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	return ve.Fields
}

func TestSignIn(t *testing.T) {
	assert.NoError(t, Struct(SignIn{Email: "ada@studio.dev", Password: "secret1"}))

	got := fields(t, Struct(SignIn{Email: "not-an-email", Password: "abc"}))
	assert.Equal(t, "must be a valid email address", got["email"])
	assert.Equal(t, "must be at least 6 characters long", got["password"])
}

func TestSignUp(t *testing.T) {
	got := fields(t, Struct(SignUp{
		Name:            "A",
		Email:           "ada@studio.dev",
		Password:        "longenough",
		ConfirmPassword: "different",
	}))
	assert.Equal(t, "must be at least 2 characters long", got["name"])
	assert.Equal(t, "does not match", got["confirm_password"])
	assert.NotContains(t, got, "email")
}

func TestRequestDraft(t *testing.T) {
	got := fields(t, Struct(request.Draft{
		Title:       "Lo",
		Description: "Short",
		Priority:    "urgent",
		Price:       -1,
	}))
	assert.Equal(t, "must be at least 3 characters long", got["title"])
	assert.Equal(t, "must be one of low, medium, high", got["priority"])
	assert.Equal(t, "is required", got["category"])
	assert.Equal(t, "must be 0 or more", got["price"])
}

func TestInvoiceDraft_DivesIntoItems(t *testing.T) {
	got := fields(t, Struct(invoice.Draft{
		ClientID:   "u1",
		ClientName: "Ada",
		Currency:   "USD",
		Items:      []invoice.Item{{Description: "Logo", Quantity: 0, UnitPrice: 10}},
	}))
	assert.Equal(t, "must be greater than 0", got["items[0].quantity"])

	got = fields(t, Struct(invoice.Draft{ClientID: "u1", ClientName: "Ada", Currency: "US", Items: []invoice.Item{}}))
	assert.Equal(t, "must have at least 1 entries", got["items"])
	assert.Equal(t, "must be exactly 3 characters long", got["currency"])
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("text", "hello", "required,max=10"))

	got := fields(t, Var("text", "", "required"))
	assert.Equal(t, "is required", got["text"])
}

func TestValidationError_Message(t *testing.T) {
	err := Struct(SignIn{})
	assert.Equal(t, "email: is required; password: is required", apperr.Message(err))
}
