package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBidiErrorMapping(t *testing.T) {
	t.Parallel()

	err := bidiError(ErrorCodeNoSuchFrame, "context %q not found", "f1")
	berr := asBidiError(err)
	assert.Equal(t, ErrorCodeNoSuchFrame, berr.Code)
	assert.Equal(t, `context "f1" not found`, berr.Message)

	// Typed errors survive wrapping.
	wrapped := fmt.Errorf("running command: %w", err)
	assert.Equal(t, ErrorCodeNoSuchFrame, asBidiError(wrapped).Code)

	// Untyped errors map to the catch-all code.
	berr = asBidiError(errors.New("boom"))
	assert.Equal(t, ErrorCodeUnknownError, berr.Code)
	assert.Equal(t, "boom", berr.Message)
}

func TestSessionNotFoundClassifier(t *testing.T) {
	t.Parallel()

	assert.True(t, isSessionNotFoundError(errors.New("Session with given id not found")))
	assert.True(t, isSessionNotFoundError(errors.New("No session with given id")))
	assert.False(t, isSessionNotFoundError(errors.New("boom")))
	assert.False(t, isSessionNotFoundError(nil))
}

func TestCloseTargetErrorClassifiers(t *testing.T) {
	t.Parallel()

	assert.True(t, isNotAttachedToActivePageError(
		errors.New("Not attached to an active page")))
	assert.False(t, isNotAttachedToActivePageError(nil))

	assert.True(t, isNoSuchBrowserContextError(
		errors.New("Failed to find browser context with id uc-1")))
	assert.True(t, isNoSuchBrowserContextError(
		errors.New("Invalid browser context id")))
	assert.False(t, isNoSuchBrowserContextError(errors.New("boom")))
}

func TestContextCanceledClassifier(t *testing.T) {
	t.Parallel()

	require.True(t, isContextCanceled(context.Canceled))
	require.True(t, isContextCanceled(fmt.Errorf("wait: %w", context.DeadlineExceeded)))
	require.False(t, isContextCanceled(errors.New("boom")))
}
