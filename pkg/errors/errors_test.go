package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	err := FromError(sql.ErrConnDone)
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestClonePreservesCodeForIs(t *testing.T) {
	err := fmt.Errorf("transfer enrollment 12: %w", Clone(ErrCapacity, "section MATH101-A is full"))
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.True(t, HasCode(err, ErrCapacity.Code))
	assert.Equal(t, "CAPACITY_EXCEEDED", FromError(err).Code)
}

func TestWithDetailsDoesNotMutateSentinel(t *testing.T) {
	detailed := WithDetails(ErrConfirmationRequired, []string{"warning"})
	assert.NotNil(t, detailed.Details)
	assert.Nil(t, ErrConfirmationRequired.Details)
}
