package calerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := InvalidDate("temporal.Make", "bad literal %q", "2024")
	assert.True(t, errors.Is(err, ErrInvalidDate))
	assert.False(t, errors.Is(err, ErrTypeMismatch))

	wrapped := fmt.Errorf("load event: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInvalidDate))
	assert.Equal(t, KindInvalidDate, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	cause := errors.New("unknown time zone Mars/Olympus")
	err := InvalidDate("temporal.Make", "cannot load zone").With("zone", "Mars/Olympus")
	err.Cause = cause

	assert.Equal(t,
		"invalid_date: temporal.Make: cannot load zone: {zone=Mars/Olympus}: cause=unknown time zone Mars/Olympus",
		err.Error())
	assert.ErrorIs(t, err, cause)
}
