package nserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type notImplementedError struct{ op string }

func (e *notImplementedError) Error() string { return "not implemented: " + e.op }

func TestHandlerErrorAncestry(t *testing.T) {
	inner := &notImplementedError{op: "zone transfer"}
	wrapped := NewHandlerError(inner)

	var got *notImplementedError
	assert.True(t, errors.As(wrapped, &got))
	assert.Equal(t, inner, got)
	assert.True(t, errors.Is(wrapped, Base))
	assert.False(t, IsFatal(wrapped))
}

func TestNewHandlerErrorIdempotent(t *testing.T) {
	once := NewHandlerError(errors.New("boom"))
	twice := NewHandlerError(once)
	assert.Same(t, once, twice)
}

func TestFatalErrorsAreNotInTaxonomy(t *testing.T) {
	assert.True(t, IsFatal(errors.New("panic: assertion failed")))
	assert.False(t, IsFatal(NewDecodeError(errors.New("short message"))))
}

func TestDecodeAndCancelledAncestry(t *testing.T) {
	assert.True(t, errors.Is(NewDecodeError(errors.New("x")), Base))
	assert.True(t, errors.Is(NewRequestCancelled("peer closed"), Base))
	assert.True(t, errors.Is(NewConfigurationError("cycle", nil), Base))
}
