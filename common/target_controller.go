/*
 *
 * bidibridge - a WebDriver BiDi to Chrome DevTools Protocol bridge
 * Copyright (C) 2024 The bidibridge Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bidibridge/log"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/deviceaccess"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// unblockFuture resolves exactly once, when a target's setup sequence has
// finished (successfully or not). Waiters arriving at any time observe the
// same outcome.
type unblockFuture struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newUnblockFuture() *unblockFuture {
	return &unblockFuture{done: make(chan struct{})}
}

func (f *unblockFuture) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *unblockFuture) wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// blockedRequest is one network request currently paused by interception,
// waiting for a client decision.
type blockedRequest struct {
	fetchID   fetch.RequestID
	networkID network.RequestID
	phase     InterceptPhase
	url       string

	// Closed when the request leaves the blocked state.
	done chan struct{}
}

// TargetController drives one attached CDP target: it completes the
// target's setup while the browser holds it paused, keeps the per-target
// protocol configuration (interception, cache, device access) converged
// with client demand, and translates the target's notifications into
// client-facing events.
type TargetController struct {
	ctx    context.Context
	logger *log.Logger

	session       session
	parentSession session      // nil for top-level targets
	rootExec      cdp.Executor // browser-level session

	targetID   target.ID
	targetType string

	tree       *ContextTree
	subs       *SubscriptionManager
	realms     *RealmRegistry
	preloads   *PreloadScriptRegistry
	intercepts *InterceptRegistry

	unblocked *unblockFuture

	// Desired-state flags. Each toggle records the new state before
	// issuing its CDP call and rolls back on failure, so concurrent
	// togglers converge without serializing on the wire.
	flagsMu              sync.Mutex
	interception         fetchStages
	deviceAccessEnabled  bool
	cacheDisabled        bool
	defaultCacheDisabled bool

	blockedMu    sync.Mutex
	blocked      map[network.RequestID]*blockedRequest
	drainPending bool

	dialogMu sync.Mutex
	dialog   *cdppage.EventJavascriptDialogOpening

	promptsMu sync.Mutex
	prompts   map[deviceaccess.RequestID]struct{}

	// Called when a child target (OOPIF, worker) attaches under this one.
	onChildAttached func(parent *TargetController, ev *target.EventAttachedToTarget)
}

// NewTargetController wires a controller to an attached session and starts
// its event loop. The caller is expected to run Unblock in its own
// goroutine; until then the browser keeps the target paused.
func NewTargetController(
	ctx context.Context,
	logger *log.Logger,
	sess session,
	parentSession session,
	rootExec cdp.Executor,
	targetID target.ID,
	targetType string,
	tree *ContextTree,
	subs *SubscriptionManager,
	realms *RealmRegistry,
	preloads *PreloadScriptRegistry,
	intercepts *InterceptRegistry,
	defaultCacheDisabled bool,
	onChildAttached func(parent *TargetController, ev *target.EventAttachedToTarget),
) *TargetController {
	tc := &TargetController{
		ctx:                  ctx,
		logger:               logger,
		session:              sess,
		parentSession:        parentSession,
		rootExec:             rootExec,
		targetID:             targetID,
		targetType:           targetType,
		tree:                 tree,
		subs:                 subs,
		realms:               realms,
		preloads:             preloads,
		intercepts:           intercepts,
		unblocked:            newUnblockFuture(),
		defaultCacheDisabled: defaultCacheDisabled,
		blocked:              make(map[network.RequestID]*blockedRequest),
		prompts:              make(map[deviceaccess.RequestID]struct{}),
		onChildAttached:      onChildAttached,
	}
	tc.initEvents()
	return tc
}

// Session returns the CDP session owned by this controller.
func (tc *TargetController) Session() session { return tc.session }

// TargetID returns the controller's target id.
func (tc *TargetController) TargetID() target.ID { return tc.targetID }

// TopLevelID returns the frame id of the controller's top-level context.
func (tc *TargetController) TopLevelID() cdp.FrameID { return cdp.FrameID(tc.targetID) }

// WaitUnblocked blocks until the target's setup sequence has completed.
// Command processors call this before issuing work against the target so
// that commands never race the setup.
func (tc *TargetController) WaitUnblocked(ctx context.Context) error {
	return tc.unblocked.wait(ctx)
}

// WaitReady blocks until the target's setup has completed and its initial
// document reports load. The create flow waits for both so the blank
// page's load events cannot interleave with the caller's next navigation.
// The watcher is armed before setup finishes; lifecycle events only start
// flowing once setup unpauses the target.
func (tc *TargetController) WaitReady(ctx context.Context) error {
	watch := newLifecycleWatcher(ctx, tc.session, tc.TopLevelID(), readinessComplete)
	defer watch.cancel()
	if err := tc.WaitUnblocked(ctx); err != nil {
		return err
	}
	return watch.wait("")
}

// Close asks the browser to close the controller's target. The close
// response and the detach notification race; whichever arrives first
// resolves the call. A target torn down by something else while the close
// is in flight reports "not attached to an active page", which counts as
// success.
func (tc *TargetController) Close(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		action := target.CloseTarget(tc.targetID)
		errCh <- action.Do(cdp.WithExecutor(ctx, tc.rootExec))
	}()

	select {
	case <-tc.session.Done():
		return nil
	case err := <-errCh:
		if err != nil && !isNotAttachedToActivePageError(err) && !tc.isExpectedError(err) {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isExpectedError classifies CDP errors that are normal fallout of a
// target or session going away mid-operation and must not fail the
// surrounding work.
func (tc *TargetController) isExpectedError(err error) bool {
	if err == nil {
		return true
	}
	return tc.session.IsClosingError(err) || isSessionNotFoundError(err) || isContextCanceled(err)
}

// Unblock performs the target's setup sequence while the browser holds it
// paused, then lets it run. The individual setup calls are independent and
// go out concurrently. The result resolves the controller's unblocked
// future exactly once; errors from a target that disappeared during setup
// resolve it successfully.
func (tc *TargetController) Unblock() {
	tc.logger.Debugf("TargetController:Unblock", "sid:%v tid:%v type:%s",
		tc.session.SessionID(), tc.targetID, tc.targetType)

	exec := cdp.WithExecutor(tc.ctx, tc.session)
	var g errgroup.Group
	run := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil && !tc.isExpectedError(err) {
				return fmt.Errorf("%s for target %v: %w", name, tc.targetID, err)
			}
			return nil
		})
	}

	run("enabling page domain", func() error { return cdppage.Enable().Do(exec) })
	run("enabling lifecycle events", func() error {
		return cdppage.SetLifecycleEventsEnabled(true).Do(exec)
	})
	run("enabling runtime domain", func() error { return cdpruntime.Enable().Do(exec) })
	run("enabling network domain", func() error { return network.Enable().Do(exec) })
	run("restoring frame tree", func() error { return tc.restoreFrameTree() })
	run("configuring request interception", func() error { return tc.toggleFetchIfNeeded() })
	run("configuring device access", func() error { return tc.toggleDeviceAccessIfNeeded() })
	run("configuring cache", func() error { return tc.toggleSetCacheDisabled(nil) })
	run("injecting preload scripts", func() error { return tc.preloads.ApplyTo(tc.ctx, tc) })
	run("configuring auto attach", func() error {
		return target.SetAutoAttach(true, true).WithFlatten(true).Do(exec)
	})

	err := g.Wait()
	if err == nil {
		// Resume only after every setup call has gone out, otherwise the
		// target could start executing before preload scripts are in.
		if rerr := cdpruntime.RunIfWaitingForDebugger().Do(exec); rerr != nil && !tc.isExpectedError(rerr) {
			err = fmt.Errorf("resuming target %v: %w", tc.targetID, rerr)
		}
	}
	tc.unblocked.complete(err)
}

func (tc *TargetController) restoreFrameTree() error {
	exec := cdp.WithExecutor(tc.ctx, tc.session)
	ft, err := cdppage.GetFrameTree().Do(exec)
	if err != nil {
		return err
	}
	tc.tree.RestoreFrameTree(tc, ft)
	return nil
}

// toggleFetchIfNeeded converges the target's Fetch domain configuration
// with the union of interception stages clients currently want for it.
// Asking for the auth stage implies the request stage. Disabling is
// deferred while intercepted requests are still awaiting a client
// decision; once they drain the toggle re-runs against fresh demand.
func (tc *TargetController) toggleFetchIfNeeded() error {
	desired := tc.intercepts.DesiredStages(tc.TopLevelID())
	if desired.Auth {
		desired.Request = true
	}

	if !desired.any() && tc.deferDisable() {
		return nil
	}

	tc.flagsMu.Lock()
	prev := tc.interception
	if desired == prev {
		tc.flagsMu.Unlock()
		return nil
	}
	tc.interception = desired
	tc.flagsMu.Unlock()

	tc.logger.Debugf("TargetController:toggleFetchIfNeeded",
		"tid:%v request:%t response:%t auth:%t",
		tc.targetID, desired.Request, desired.Response, desired.Auth)

	var action Action
	if desired.any() {
		var patterns []*fetch.RequestPattern
		if desired.Request {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   "*",
				RequestStage: fetch.RequestStageRequest,
			})
		}
		if desired.Response {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   "*",
				RequestStage: fetch.RequestStageResponse,
			})
		}
		action = fetch.Enable().WithPatterns(patterns).WithHandleAuthRequests(desired.Auth)
	} else {
		action = fetch.Disable()
	}

	if err := action.Do(cdp.WithExecutor(tc.ctx, tc.session)); err != nil {
		tc.flagsMu.Lock()
		tc.interception = prev
		tc.flagsMu.Unlock()
		if tc.isExpectedError(err) {
			return nil
		}
		return fmt.Errorf("updating request interception for target %v: %w", tc.targetID, err)
	}
	return nil
}

// deferDisable arms a waiter that re-runs the interception toggle after
// every currently blocked request has been resolved. Returns false when
// nothing is blocked and disabling can proceed now.
func (tc *TargetController) deferDisable() bool {
	tc.blockedMu.Lock()
	defer tc.blockedMu.Unlock()
	if len(tc.blocked) == 0 {
		return false
	}
	if tc.drainPending {
		return true
	}
	tc.drainPending = true

	waiting := make([]chan struct{}, 0, len(tc.blocked))
	for _, br := range tc.blocked {
		waiting = append(waiting, br.done)
	}
	go func() {
		for _, ch := range waiting {
			select {
			case <-ch:
			case <-tc.ctx.Done():
				return
			}
		}
		tc.blockedMu.Lock()
		tc.drainPending = false
		tc.blockedMu.Unlock()
		// Demand may have changed while draining.
		_ = tc.toggleFetchIfNeeded()
	}()
	return true
}

// toggleDeviceAccessIfNeeded converges the DeviceAccess domain with
// whether any client is subscribed to device prompt events for this
// target.
func (tc *TargetController) toggleDeviceAccessIfNeeded() error {
	desired := tc.subs.IsSubscribedTo(EventDevicePromptUpdated, tc.TopLevelID())

	tc.flagsMu.Lock()
	prev := tc.deviceAccessEnabled
	if desired == prev {
		tc.flagsMu.Unlock()
		return nil
	}
	tc.deviceAccessEnabled = desired
	tc.flagsMu.Unlock()

	tc.logger.Debugf("TargetController:toggleDeviceAccessIfNeeded",
		"tid:%v enabled:%t", tc.targetID, desired)

	var action Action
	if desired {
		action = deviceaccess.Enable()
	} else {
		action = deviceaccess.Disable()
	}
	if err := action.Do(cdp.WithExecutor(tc.ctx, tc.session)); err != nil {
		tc.flagsMu.Lock()
		tc.deviceAccessEnabled = prev
		tc.flagsMu.Unlock()
		if tc.isExpectedError(err) {
			return nil
		}
		return fmt.Errorf("updating device access for target %v: %w", tc.targetID, err)
	}
	return nil
}

// toggleSetCacheDisabled converges the target's cache-bypass flag. A nil
// force reverts to the session-wide default.
func (tc *TargetController) toggleSetCacheDisabled(force *bool) error {
	desired := tc.defaultCacheDisabled
	if force != nil {
		desired = *force
	}

	tc.flagsMu.Lock()
	prev := tc.cacheDisabled
	if desired == prev {
		tc.flagsMu.Unlock()
		return nil
	}
	tc.cacheDisabled = desired
	tc.flagsMu.Unlock()

	action := network.SetCacheDisabled(desired)
	if err := action.Do(cdp.WithExecutor(tc.ctx, tc.session)); err != nil {
		tc.flagsMu.Lock()
		tc.cacheDisabled = prev
		tc.flagsMu.Unlock()
		if tc.isExpectedError(err) {
			return nil
		}
		return fmt.Errorf("updating cache bypass for target %v: %w", tc.targetID, err)
	}
	return nil
}

func (tc *TargetController) initEvents() {
	chEv := make(chan Event)
	tc.session.onAll(tc.ctx, chEv)

	go func() {
		for {
			select {
			case <-tc.ctx.Done():
				return
			case <-tc.session.Done():
				return
			case ev := <-chEv:
				tc.handleEvent(ev)
			}
		}
	}()
}

func (tc *TargetController) handleEvent(event Event) {
	switch ev := event.data.(type) {
	case *cdppage.EventFrameAttached:
		tc.onFrameAttached(ev)
	case *cdppage.EventFrameDetached:
		tc.onFrameDetached(ev)
	case *cdppage.EventFrameNavigated:
		tc.onFrameNavigated(ev)
	case *cdppage.EventNavigatedWithinDocument:
		tc.onNavigatedWithinDocument(ev)
	case *cdppage.EventFrameRequestedNavigation:
		tc.onFrameRequestedNavigation(ev)
	case *cdppage.EventLifecycleEvent:
		tc.onLifecycleEvent(ev)
	case *cdppage.EventJavascriptDialogOpening:
		tc.onDialogOpening(ev)
	case *cdppage.EventJavascriptDialogClosed:
		tc.onDialogClosed(ev)
	case *cdpruntime.EventExecutionContextCreated:
		tc.onExecutionContextCreated(ev)
	case *cdpruntime.EventExecutionContextDestroyed:
		tc.realms.RemoveByExecutionContext(tc.session.SessionID(), ev.ExecutionContextID)
	case *cdpruntime.EventExecutionContextsCleared:
		tc.realms.RemoveBySession(tc.session.SessionID())
	case *fetch.EventRequestPaused:
		tc.onRequestPaused(ev)
	case *fetch.EventAuthRequired:
		tc.onAuthRequired(ev)
	case *network.EventRequestWillBeSent:
		tc.onRequestWillBeSent(ev)
	case *network.EventResponseReceived:
		tc.onResponseReceived(ev)
	case *network.EventLoadingFinished:
		tc.onLoadingFinished(ev)
	case *network.EventLoadingFailed:
		tc.onLoadingFailed(ev)
	case *deviceaccess.EventDeviceRequestPrompted:
		tc.onDeviceRequestPrompted(ev)
	case *target.EventAttachedToTarget:
		if tc.onChildAttached != nil {
			tc.onChildAttached(tc, ev)
		}
	case *target.EventDetachedFromTarget:
		tc.realms.RemoveBySession(ev.SessionID)
	case *inspector.EventTargetCrashed:
		tc.onTargetCrashed()
	}
	tc.forwardRawEvent(event)
}

// forwardRawEvent mirrors every CDP notification of this target to
// clients, under both the current and the deprecated event name.
func (tc *TargetController) forwardRawEvent(event Event) {
	var method string
	var params json.RawMessage
	switch data := event.data.(type) {
	case *cdproto.Message:
		// Notification the typed codec does not know.
		method = string(data.Method)
		params = json.RawMessage(data.Params)
	default:
		if event.typ == "" || event.typ == EventSessionClosed {
			return
		}
		method = event.typ
		buf, err := json.Marshal(event.data)
		if err != nil {
			tc.logger.Errorf("TargetController:forwardRawEvent",
				"tid:%v method:%s marshal: %v", tc.targetID, method, err)
			return
		}
		params = buf
	}

	p := &cdpEventReceivedParams{
		Event:   method,
		Params:  params,
		Session: string(tc.session.SessionID()),
	}
	tc.subs.Dispatch(EventCdpEventReceived, p, tc.TopLevelID())
	tc.subs.Dispatch(EventCdpEventReceivedDeprecated, p, tc.TopLevelID())
}

type cdpEventReceivedParams struct {
	Event   string          `json:"event"`
	Params  json.RawMessage `json:"params,omitempty"`
	Session string          `json:"session"`
}

func (tc *TargetController) onFrameAttached(ev *cdppage.EventFrameAttached) {
	var userContext cdp.BrowserContextID
	if parent, ok := tc.tree.Get(ev.ParentFrameID); ok {
		userContext = parent.userContext
	}
	tc.tree.AddContext(&BrowsingContext{
		id:          ev.FrameID,
		parentID:    ev.ParentFrameID,
		userContext: userContext,
		controller:  tc,
	})
}

func (tc *TargetController) onFrameDetached(ev *cdppage.EventFrameDetached) {
	// A "swap" means the frame moves to its own target; the context node
	// survives and is re-owned when that target attaches.
	if ev.Reason == cdppage.FrameDetachedReasonRemove {
		tc.tree.RemoveContext(ev.FrameID)
	}
}

func (tc *TargetController) onFrameNavigated(ev *cdppage.EventFrameNavigated) {
	if ev.Frame == nil {
		return
	}
	tc.tree.SetURL(ev.Frame.ID, ev.Frame.URL+ev.Frame.URLFragment)
}

func (tc *TargetController) onNavigatedWithinDocument(ev *cdppage.EventNavigatedWithinDocument) {
	tc.tree.SetURL(ev.FrameID, ev.URL)
	tc.subs.Dispatch(EventFragmentNavigated, &browsingContextEventParams{
		Context:   string(ev.FrameID),
		Timestamp: time.Now().UnixMilli(),
		URL:       ev.URL,
	}, ev.FrameID)
}

func (tc *TargetController) onFrameRequestedNavigation(ev *cdppage.EventFrameRequestedNavigation) {
	if ev.Disposition != cdppage.ClientNavigationDispositionCurrentTab {
		return
	}
	tc.subs.Dispatch(EventNavigationStarted, &browsingContextEventParams{
		Context:   string(ev.FrameID),
		Timestamp: time.Now().UnixMilli(),
		URL:       ev.URL,
	}, ev.FrameID)
}

func (tc *TargetController) onLifecycleEvent(ev *cdppage.EventLifecycleEvent) {
	var name string
	switch ev.Name {
	case "load":
		name = EventLoad
	case "DOMContentLoaded":
		name = EventDomContentLoaded
	default:
		return
	}
	var url string
	if bc, ok := tc.tree.Get(ev.FrameID); ok {
		url = bc.url
	}
	navigation := string(ev.LoaderID)
	tc.subs.Dispatch(name, &browsingContextEventParams{
		Context:    string(ev.FrameID),
		Navigation: &navigation,
		Timestamp:  time.Now().UnixMilli(),
		URL:        url,
	}, ev.FrameID)
}

func (tc *TargetController) onDialogOpening(ev *cdppage.EventJavascriptDialogOpening) {
	tc.dialogMu.Lock()
	tc.dialog = ev
	tc.dialogMu.Unlock()

	tc.subs.Dispatch(EventUserPromptOpened, &userPromptOpenedParams{
		Context:      string(tc.TopLevelID()),
		Type:         string(ev.Type),
		Message:      ev.Message,
		DefaultValue: ev.DefaultPrompt,
	}, tc.TopLevelID())
}

func (tc *TargetController) onDialogClosed(ev *cdppage.EventJavascriptDialogClosed) {
	tc.dialogMu.Lock()
	tc.dialog = nil
	tc.dialogMu.Unlock()

	tc.subs.Dispatch(EventUserPromptClosed, &userPromptClosedParams{
		Context:  string(tc.TopLevelID()),
		Accepted: ev.Result,
		UserText: ev.UserInput,
	}, tc.TopLevelID())
}

// HandleUserPrompt accepts or dismisses the currently open dialog.
func (tc *TargetController) HandleUserPrompt(ctx context.Context, accept bool, userText *string) error {
	tc.dialogMu.Lock()
	dialog := tc.dialog
	tc.dialogMu.Unlock()
	if dialog == nil {
		return bidiError(ErrorCodeNoSuchAlert, "no user prompt is open in context %v", tc.targetID)
	}

	action := cdppage.HandleJavaScriptDialog(accept)
	if userText != nil {
		action = action.WithPromptText(*userText)
	}
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil {
		return fmt.Errorf("handling user prompt in context %v: %w", tc.targetID, err)
	}
	return nil
}

func (tc *TargetController) onExecutionContextCreated(ev *cdpruntime.EventExecutionContextCreated) {
	if ev.Context == nil {
		return
	}
	aux := gjson.ParseBytes([]byte(ev.Context.AuxData))
	frameID := aux.Get("frameId").String()
	switch {
	case aux.Get("type").String() == "isolated":
		// Sandboxed worlds (preload script sandboxes among them) are not
		// surfaced as realms.
		return
	case tc.targetType == "service_worker", tc.targetType == "shared_worker":
		tc.realms.Add(&Realm{
			Origin:         ev.Context.Origin,
			Type:           RealmTypeWorker,
			sessionID:      tc.session.SessionID(),
			executionCtxID: ev.Context.ID,
		})
	case tc.targetType == "worker":
		tc.realms.Add(&Realm{
			Origin:         ev.Context.Origin,
			Type:           RealmTypeDedicatedWorker,
			sessionID:      tc.session.SessionID(),
			executionCtxID: ev.Context.ID,
		})
	default:
		tc.realms.Add(&Realm{
			Origin:         ev.Context.Origin,
			Type:           RealmTypeWindow,
			Context:        frameID,
			sessionID:      tc.session.SessionID(),
			executionCtxID: ev.Context.ID,
		})
	}
}

func (tc *TargetController) onTargetCrashed() {
	tc.logger.Warnf("TargetController:onTargetCrashed", "tid:%v", tc.targetID)
	tc.session.markAsCrashed()
}

func (tc *TargetController) contextFor(frameID cdp.FrameID) cdp.FrameID {
	if frameID != "" {
		return frameID
	}
	return tc.TopLevelID()
}

func (tc *TargetController) onRequestPaused(ev *fetch.EventRequestPaused) {
	phase := InterceptPhaseBeforeRequestSent
	event := EventBeforeRequestSent
	if ev.ResponseStatusCode != 0 || ev.ResponseErrorReason != "" {
		phase = InterceptPhaseResponseStarted
		event = EventResponseStarted
	}

	br := &blockedRequest{
		fetchID:   ev.RequestID,
		networkID: ev.NetworkID,
		phase:     phase,
		done:      make(chan struct{}),
	}
	if ev.Request != nil {
		br.url = ev.Request.URL
	}
	tc.blockedMu.Lock()
	tc.blocked[ev.NetworkID] = br
	tc.blockedMu.Unlock()

	ctxID := tc.contextFor(ev.FrameID)
	params := &networkEventParams{
		Context:   string(ctxID),
		IsBlocked: true,
		Request:   networkRequestData{Request: string(ev.NetworkID), URL: br.url},
		Timestamp: time.Now().UnixMilli(),
	}
	if ev.Request != nil {
		params.Request.Method = ev.Request.Method
	}
	tc.subs.Dispatch(event, params, ctxID)
}

func (tc *TargetController) onAuthRequired(ev *fetch.EventAuthRequired) {
	// The Fetch domain keys auth challenges by its own request id only.
	br := &blockedRequest{
		fetchID:   ev.RequestID,
		networkID: network.RequestID(ev.RequestID),
		phase:     InterceptPhaseAuthRequired,
		done:      make(chan struct{}),
	}
	if ev.Request != nil {
		br.url = ev.Request.URL
	}
	tc.blockedMu.Lock()
	tc.blocked[br.networkID] = br
	tc.blockedMu.Unlock()

	ctxID := tc.contextFor(ev.FrameID)
	tc.subs.Dispatch(EventAuthRequired, &networkEventParams{
		Context:   string(ctxID),
		IsBlocked: true,
		Request:   networkRequestData{Request: string(br.networkID), URL: br.url},
		Timestamp: time.Now().UnixMilli(),
	}, ctxID)
}

func (tc *TargetController) onRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	tc.flagsMu.Lock()
	intercepting := tc.interception.Request
	tc.flagsMu.Unlock()
	if intercepting {
		// The paused notification carries this request instead.
		return
	}
	ctxID := tc.contextFor(ev.FrameID)
	params := &networkEventParams{
		Context:   string(ctxID),
		Request:   networkRequestData{Request: string(ev.RequestID)},
		Timestamp: time.Now().UnixMilli(),
	}
	if ev.Request != nil {
		params.Request.URL = ev.Request.URL
		params.Request.Method = ev.Request.Method
	}
	tc.subs.Dispatch(EventBeforeRequestSent, params, ctxID)
}

func (tc *TargetController) onResponseReceived(ev *network.EventResponseReceived) {
	tc.flagsMu.Lock()
	intercepting := tc.interception.Response
	tc.flagsMu.Unlock()
	if intercepting {
		return
	}
	ctxID := tc.contextFor(ev.FrameID)
	params := &networkEventParams{
		Context:   string(ctxID),
		Request:   networkRequestData{Request: string(ev.RequestID)},
		Timestamp: time.Now().UnixMilli(),
	}
	if ev.Response != nil {
		params.Request.URL = ev.Response.URL
	}
	tc.subs.Dispatch(EventResponseStarted, params, ctxID)
}

func (tc *TargetController) onLoadingFinished(ev *network.EventLoadingFinished) {
	tc.subs.Dispatch(EventResponseCompleted, &networkEventParams{
		Context:   string(tc.TopLevelID()),
		Request:   networkRequestData{Request: string(ev.RequestID)},
		Timestamp: time.Now().UnixMilli(),
	}, tc.TopLevelID())
}

func (tc *TargetController) onLoadingFailed(ev *network.EventLoadingFailed) {
	tc.subs.Dispatch(EventFetchError, &networkEventParams{
		Context:   string(tc.TopLevelID()),
		Request:   networkRequestData{Request: string(ev.RequestID)},
		ErrorText: ev.ErrorText,
		Timestamp: time.Now().UnixMilli(),
	}, tc.TopLevelID())
}

func (tc *TargetController) onDeviceRequestPrompted(ev *deviceaccess.EventDeviceRequestPrompted) {
	tc.promptsMu.Lock()
	tc.prompts[ev.ID] = struct{}{}
	tc.promptsMu.Unlock()

	devices := make([]devicePromptDevice, 0, len(ev.Devices))
	for _, d := range ev.Devices {
		devices = append(devices, devicePromptDevice{ID: string(d.ID), Name: d.Name})
	}
	tc.subs.Dispatch(EventDevicePromptUpdated, &devicePromptUpdatedParams{
		Context: string(tc.TopLevelID()),
		Prompt:  string(ev.ID),
		Devices: devices,
	}, tc.TopLevelID())
}

// HandleDevicePrompt resolves an open device request prompt: accept picks
// the given device, otherwise the prompt is cancelled.
func (tc *TargetController) HandleDevicePrompt(
	ctx context.Context, prompt string, accept bool, device string,
) error {
	id := deviceaccess.RequestID(prompt)
	tc.promptsMu.Lock()
	_, ok := tc.prompts[id]
	tc.promptsMu.Unlock()
	if !ok {
		return bidiError(ErrorCodeNoSuchDevicePrompt, "device prompt %q not found", prompt)
	}

	var action Action
	if accept {
		action = deviceaccess.SelectPrompt(id, deviceaccess.DeviceID(device))
	} else {
		action = deviceaccess.CancelPrompt(id)
	}
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil && !tc.isExpectedError(err) {
		return fmt.Errorf("handling device prompt %q: %w", prompt, err)
	}

	tc.promptsMu.Lock()
	delete(tc.prompts, id)
	tc.promptsMu.Unlock()
	return nil
}

// hasBlocked reports whether the controller currently holds the blocked
// request.
func (tc *TargetController) hasBlocked(id network.RequestID) bool {
	tc.blockedMu.Lock()
	defer tc.blockedMu.Unlock()
	_, ok := tc.blocked[id]
	return ok
}

// blockedLookup finds the blocked request for a client-visible request id.
func (tc *TargetController) blockedLookup(id network.RequestID) (*blockedRequest, error) {
	tc.blockedMu.Lock()
	defer tc.blockedMu.Unlock()
	br, ok := tc.blocked[id]
	if !ok {
		return nil, bidiError(ErrorCodeNoSuchRequest, "no blocked request %q", id)
	}
	return br, nil
}

// resolveBlocked removes the request from the blocked set and wakes any
// drain waiter. Re-running the toggle here lets a deferred interception
// disable fire as soon as the set empties.
func (tc *TargetController) resolveBlocked(id network.RequestID) {
	tc.blockedMu.Lock()
	br, ok := tc.blocked[id]
	if ok {
		delete(tc.blocked, id)
		close(br.done)
	}
	tc.blockedMu.Unlock()
}

// ContinueBlockedRequest releases a request blocked at the given stage.
// The stage must match the one the request is actually blocked in.
func (tc *TargetController) ContinueBlockedRequest(
	ctx context.Context, id network.RequestID, phase InterceptPhase,
) error {
	br, err := tc.blockedLookup(id)
	if err != nil {
		return err
	}
	if br.phase != phase {
		return invalidArgumentError(
			"request %q is blocked in the %s phase, not %s", id, br.phase, phase)
	}
	var action Action
	switch phase {
	case InterceptPhaseBeforeRequestSent:
		action = fetch.ContinueRequest(br.fetchID)
	case InterceptPhaseResponseStarted:
		action = fetch.ContinueResponse(br.fetchID)
	default:
		return invalidArgumentError("cannot continue the %s phase", phase)
	}
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil && !tc.isExpectedError(err) {
		return fmt.Errorf("continuing request %q: %w", id, err)
	}
	tc.resolveBlocked(id)
	return nil
}

// FailBlockedRequest aborts a request blocked at the request or response
// stage.
func (tc *TargetController) FailBlockedRequest(ctx context.Context, id network.RequestID) error {
	br, err := tc.blockedLookup(id)
	if err != nil {
		return err
	}
	if br.phase == InterceptPhaseAuthRequired {
		return invalidArgumentError(
			"request %q is blocked in the %s phase", id, br.phase)
	}
	action := fetch.FailRequest(br.fetchID, network.ErrorReasonBlockedByClient)
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil && !tc.isExpectedError(err) {
		return fmt.Errorf("failing request %q: %w", id, err)
	}
	tc.resolveBlocked(id)
	return nil
}

// ContinueWithAuth resolves a request blocked at the auth stage.
func (tc *TargetController) ContinueWithAuth(
	ctx context.Context, id network.RequestID, response *fetch.AuthChallengeResponse,
) error {
	br, err := tc.blockedLookup(id)
	if err != nil {
		return err
	}
	if br.phase != InterceptPhaseAuthRequired {
		return invalidArgumentError(
			"request %q is blocked in the %s phase", id, br.phase)
	}
	action := fetch.ContinueWithAuth(br.fetchID, response)
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil && !tc.isExpectedError(err) {
		return fmt.Errorf("continuing request %q with auth: %w", id, err)
	}
	tc.resolveBlocked(id)
	return nil
}

type browsingContextEventParams struct {
	Context    string  `json:"context"`
	Navigation *string `json:"navigation"`
	Timestamp  int64   `json:"timestamp"`
	URL        string  `json:"url"`
}

type userPromptOpenedParams struct {
	Context      string `json:"context"`
	Type         string `json:"type"`
	Message      string `json:"message"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

type userPromptClosedParams struct {
	Context  string `json:"context"`
	Accepted bool   `json:"accepted"`
	UserText string `json:"userText,omitempty"`
}

type networkRequestData struct {
	Request string `json:"request"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
}

type networkEventParams struct {
	Context   string             `json:"context,omitempty"`
	IsBlocked bool               `json:"isBlocked"`
	Request   networkRequestData `json:"request"`
	ErrorText string             `json:"errorText,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

type devicePromptDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type devicePromptUpdatedParams struct {
	Context string               `json:"context"`
	Prompt  string               `json:"prompt"`
	Devices []devicePromptDevice `json:"devices"`
}
