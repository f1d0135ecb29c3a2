package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors used across the bridge.
var (
	// ErrTargetCrashed is returned when a command is sent to a target
	// whose renderer process has crashed.
	ErrTargetCrashed = errors.New("target has crashed")
	// ErrChannelClosed is returned when a response channel is closed
	// before a response arrives.
	ErrChannelClosed = errors.New("channel closed")
	// ErrConnectionClosed is returned when the browser connection is
	// gone while a command is in flight.
	ErrConnectionClosed = errors.New("connection closed")
)

// ErrorCode is a WebDriver BiDi protocol error code as it appears on the
// wire in an error response.
type ErrorCode string

const (
	ErrorCodeInvalidArgument      ErrorCode = "invalid argument"
	ErrorCodeNoSuchAlert          ErrorCode = "no such alert"
	ErrorCodeNoSuchDevicePrompt   ErrorCode = "no such device prompt"
	ErrorCodeNoSuchFrame          ErrorCode = "no such frame"
	ErrorCodeNoSuchIntercept      ErrorCode = "no such intercept"
	ErrorCodeNoSuchRequest        ErrorCode = "no such request"
	ErrorCodeNoSuchScript         ErrorCode = "no such script"
	ErrorCodeNoSuchUserContext    ErrorCode = "no such user context"
	ErrorCodeUnableToCloseBrowser ErrorCode = "unable to close browser"
	ErrorCodeUnknownCommand       ErrorCode = "unknown command"
	ErrorCodeUnknownError         ErrorCode = "unknown error"
	ErrorCodeUnsupportedOperation ErrorCode = "unsupported operation"
)

// BidiError is a typed protocol error. Processors return it for failures
// that must surface to the client with a specific error code; anything
// else is reported as "unknown error".
type BidiError struct {
	Code    ErrorCode
	Message string
}

func (e *BidiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func bidiError(code ErrorCode, format string, args ...any) *BidiError {
	return &BidiError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidArgumentError(format string, args ...any) *BidiError {
	return bidiError(ErrorCodeInvalidArgument, format, args...)
}

// asBidiError maps any error to the protocol error taxonomy. Typed errors
// pass through; everything else becomes "unknown error".
func asBidiError(err error) *BidiError {
	var berr *BidiError
	if errors.As(err, &berr) {
		return berr
	}
	return &BidiError{Code: ErrorCodeUnknownError, Message: err.Error()}
}

// isSessionNotFoundError reports whether err is the debugging protocol's
// "session with given id not found" condition, raised when a command races
// a target that is already gone.
func isSessionNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "session with given id not found") ||
		strings.Contains(s, "no session with given id")
}

// isNotAttachedToActivePageError reports whether err is the "not attached
// to an active page" failure Target.closeTarget produces when the page was
// already destroyed as a side effect of something else.
func isNotAttachedToActivePageError(err error) bool {
	return err != nil &&
		strings.Contains(strings.ToLower(err.Error()), "not attached to an active page")
}

// isNoSuchBrowserContextError reports whether err is Target.createTarget
// failing because the requested browser context id does not exist.
func isNoSuchBrowserContextError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "failed to find browser context") ||
		strings.Contains(s, "invalid browser context")
}

func isContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
