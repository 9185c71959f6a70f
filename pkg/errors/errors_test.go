package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyCodes(t *testing.T) {
	assert.True(t, IsAuthentication(Authentication("", nil)))
	assert.True(t, IsPermission(Permission("")))
	assert.True(t, IsConflict(Conflict("slot taken")))
	assert.True(t, IsValidation(Validation("", nil)))
	assert.True(t, IsNetwork(Network(errors.New("dial refused"))))
	assert.True(t, IsNotFound(NotFound("paciente")))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, ErrInternal, CodeOf(errors.New("plain")))
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	inner := Conflict("slot taken")
	wrapped := fmt.Errorf("create failed: %w", inner)

	assert.True(t, IsConflict(wrapped))
	assert.False(t, IsPermission(wrapped))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Network(cause)
	assert.ErrorIs(t, err, cause)
}

func TestFieldsOf(t *testing.T) {
	err := Validation("validation failed", map[string]string{"email": "Enter a valid email address."})

	fields := FieldsOf(fmt.Errorf("login: %w", err))
	assert.Equal(t, "Enter a valid email address.", fields["email"])
	assert.Nil(t, FieldsOf(errors.New("plain")))
}

func TestErrorStringIncludesFields(t *testing.T) {
	err := Validation("validation failed", map[string]string{"motivo": "too long"})
	assert.Contains(t, err.Error(), "motivo: too long")
}
