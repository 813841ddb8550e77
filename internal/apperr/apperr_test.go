package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndReasonSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("record scan: %w", ErrDuplicateAttendance)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, ReasonDuplicateAttendance, ReasonOf(err))
	assert.True(t, Is(err, ReasonDuplicateAttendance))
	assert.True(t, errors.Is(err, ErrDuplicateAttendance))
}

func TestUntypedErrorsAreInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Empty(t, ReasonOf(err))
}

func TestAllocationExhaustedUnwraps(t *testing.T) {
	cause := errors.New("unique violation")
	err := AllocationExhausted("no certificate number after 5 attempts", cause)

	assert.Equal(t, KindAllocationExhausted, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unique violation")
}

func TestValidationMessage(t *testing.T) {
	err := Validation("title is required")
	assert.Equal(t, "title is required", err.Error())
	assert.Equal(t, "validation", err.Kind.String())
}
