package common

import (
	"context"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
)

// readinessState is how far a navigation must have progressed before the
// command that triggered it returns.
type readinessState int

const (
	readinessNone readinessState = iota
	readinessInteractive
	readinessComplete
)

func parseReadiness(s string) (readinessState, error) {
	switch s {
	case "", "none":
		return readinessNone, nil
	case "interactive":
		return readinessInteractive, nil
	case "complete":
		return readinessComplete, nil
	}
	return 0, invalidArgumentError(
		`wait must be "none", "interactive" or "complete", got %q`, s)
}

// lifecycleWatcher waits for one frame to reach a readiness state. It must
// be armed before the navigation command goes out, otherwise the lifecycle
// notification can slip by between the command response and the wait.
type lifecycleWatcher struct {
	ctx       context.Context
	cancelFn  context.CancelFunc
	frameID   cdp.FrameID
	readiness readinessState
	ch        chan Event
}

func newLifecycleWatcher(
	ctx context.Context, sess session, frameID cdp.FrameID, readiness readinessState,
) *lifecycleWatcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &lifecycleWatcher{
		ctx:       wctx,
		cancelFn:  cancel,
		frameID:   frameID,
		readiness: readiness,
		ch:        make(chan Event, 16),
	}
	if readiness != readinessNone {
		sess.on(wctx, []string{cdproto.EventPageLifecycleEvent}, w.ch)
	}
	return w
}

func (w *lifecycleWatcher) cancel() { w.cancelFn() }

// wait blocks until the watched frame reports the wanted lifecycle event.
// A non-empty loaderID restricts the match to that navigation.
func (w *lifecycleWatcher) wait(loaderID cdp.LoaderID) error {
	if w.readiness == readinessNone {
		return nil
	}
	want := "load"
	if w.readiness == readinessInteractive {
		want = "DOMContentLoaded"
	}
	for {
		select {
		case ev := <-w.ch:
			lev, ok := ev.data.(*cdppage.EventLifecycleEvent)
			if !ok {
				continue
			}
			if lev.FrameID != w.frameID || lev.Name != want {
				continue
			}
			if loaderID != "" && lev.LoaderID != loaderID {
				continue
			}
			return nil
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
	}
}
