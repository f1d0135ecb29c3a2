package common

import (
	"context"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
)

// Action is the general interface of a CDP action.
type Action interface {
	Do(context.Context) error
}

// ActionFunc is an adapter to allow regular functions to be used as an Action.
type ActionFunc func(context.Context) error

// Do executes the func f using the provided context.
func (f ActionFunc) Do(ctx context.Context) error {
	return f(ctx)
}

type executorEmitter interface {
	cdp.Executor
	EventEmitter
}

type connection interface {
	executorEmitter

	getSession(target.SessionID) *Session
	closeConnection(code int) error
	send(ctx context.Context, msg *cdproto.Message, recvCh chan *cdproto.Message, res easyjson.Unmarshaler) error
	IsClosingError(err error) bool
}

// session is a CDP session to a single target. It is the only contract the
// bridge depends on for talking to the browser: send a command and wait for
// the correlated response, send without waiting, subscribe to notifications,
// and classify errors caused by the session going away.
type session interface {
	cdp.Executor
	executorEmitter

	ExecuteWithoutExpectationOnReply(context.Context, string, easyjson.Marshaler, easyjson.Unmarshaler) error
	SessionID() target.SessionID
	TargetID() target.ID
	Done() <-chan struct{}
	IsClosingError(err error) bool
	markAsCrashed()
}
