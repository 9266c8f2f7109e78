package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("provider said no")
	err := fmt.Errorf("initiate: %w", Wrap(ErrPaymentInitiation, "Invalid Access Token", cause))

	assert.ErrorIs(t, err, ErrPaymentInitiation)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrValidation)

	msg, ok := Message(err)
	assert.True(t, ok)
	assert.Equal(t, "Invalid Access Token", msg)
}

func TestErrorWithoutMessage(t *testing.T) {
	err := New(ErrNotFound, "")
	assert.Equal(t, "not found", err.Error())

	_, ok := Message(err)
	assert.False(t, ok)
}
