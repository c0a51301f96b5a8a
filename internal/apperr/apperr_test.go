package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errCause = errors.New("row locked")

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := Wrap(ErrConflict, "appointment.cancel", "appointment is not scheduled", errCause)

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, errCause)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, "appointment.cancel: appointment is not scheduled: row locked", err.Error())
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	base := Validation("booking", "start must be before end")
	wrapped := fmt.Errorf("handler: %w", base)

	assert.Equal(t, ErrValidation, KindOf(wrapped))
	assert.False(t, IsInternal(wrapped))
}

func TestInternalErrors(t *testing.T) {
	assert.Nil(t, KindOf(nil))
	assert.False(t, IsInternal(nil))
	assert.True(t, IsInternal(errors.New("connection reset")))
}

func TestMessageFallsBackToKind(t *testing.T) {
	err := External("video.create_session", errCause)
	assert.Equal(t, "video.create_session: external service error: row locked", err.Error())
	assert.ErrorIs(t, err, ErrExternalService)
}
