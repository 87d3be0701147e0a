package corestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateErrorMessageIncludesEntity(t *testing.T) {
	err := NewError(ErrEntityNotFound, "kick", "no such voice")
	assert.Equal(t, "ENTITY_NOT_FOUND: kick: no such voice", err.Error())
}

func TestStateErrorMessageWithoutEntity(t *testing.T) {
	err := NewError(ErrInvalidArgument, "", "bpm out of range")
	assert.Equal(t, "INVALID_ARGUMENT: bpm out of range", err.Error())
}

func TestIsKindMatchesOnlyStateErrors(t *testing.T) {
	err := NewError(ErrLoadFailed, "sample.wav", "file missing")
	assert.True(t, IsKind(err, ErrLoadFailed))
	assert.False(t, IsKind(err, ErrAlreadyExists))
	assert.False(t, IsKind(assertPlainError{}, ErrLoadFailed))
}

type assertPlainError struct{}

func (assertPlainError) Error() string { return "plain" }
