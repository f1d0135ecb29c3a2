package common

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/deviceaccess"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidibridge/log"
)

// fakeSession records every CDP command issued against it and returns
// configurable per-method errors.
type fakeSession struct {
	BaseEventEmitter

	id   target.SessionID
	tid  target.ID
	done chan struct{}

	mu      sync.Mutex
	calls   []string
	params  map[string]easyjson.Marshaler
	errs    map[string]error
	gates   map[string]chan struct{}
	closing bool
	crashed bool
}

func newFakeSession(ctx context.Context) *fakeSession {
	return &fakeSession{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		id:               "S1",
		tid:              "top",
		done:             make(chan struct{}),
		params:           make(map[string]easyjson.Marshaler),
		errs:             make(map[string]error),
		gates:            make(map[string]chan struct{}),
	}
}

func (s *fakeSession) Execute(
	_ context.Context, method string, params easyjson.Marshaler, _ easyjson.Unmarshaler,
) error {
	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.params[method] = params
	err := s.errs[method]
	gate := s.gates[method]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

// gate makes Execute block on the given method until the returned channel
// is closed.
func (s *fakeSession) gate(method string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[method] = ch
	return ch
}

func (s *fakeSession) ExecuteWithoutExpectationOnReply(
	ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler,
) error {
	return s.Execute(ctx, method, params, res)
}

func (s *fakeSession) SessionID() target.SessionID { return s.id }
func (s *fakeSession) TargetID() target.ID         { return s.tid }
func (s *fakeSession) Done() <-chan struct{}       { return s.done }

func (s *fakeSession) IsClosingError(error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *fakeSession) markAsCrashed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crashed = true
}

func (s *fakeSession) setError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

func (s *fakeSession) callCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (s *fakeSession) lastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1]
}

func (s *fakeSession) paramsFor(method string) easyjson.Marshaler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[method]
}

type controllerFixture struct {
	ctx        context.Context
	tc         *TargetController
	sess       *fakeSession
	tree       *ContextTree
	subs       *SubscriptionManager
	realms     *RealmRegistry
	intercepts *InterceptRegistry
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := log.NewNullLogger()
	tree := NewContextTree(ctx, logger)
	subs := NewSubscriptionManager(tree, logger)
	realms := NewRealmRegistry(logger)
	preloads := NewPreloadScriptRegistry(logger)
	intercepts := NewInterceptRegistry(logger)
	sess := newFakeSession(ctx)

	tc := NewTargetController(ctx, logger, sess, nil, sess, "top", "page",
		tree, subs, realms, preloads, intercepts, false, nil)
	tree.AddContext(&BrowsingContext{id: "top", controller: tc})

	return &controllerFixture{
		ctx: ctx, tc: tc, sess: sess,
		tree: tree, subs: subs, realms: realms, intercepts: intercepts,
	}
}

func TestUnblockSetupSequence(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.tc.Unblock()
	require.NoError(t, f.tc.WaitUnblocked(context.Background()))

	for _, method := range []string{
		"Page.enable",
		"Page.setLifecycleEventsEnabled",
		"Runtime.enable",
		"Network.enable",
		"Page.getFrameTree",
		"Target.setAutoAttach",
	} {
		assert.Equal(t, 1, f.sess.callCount(method), method)
	}
	// The target resumes only after the setup calls have all gone out.
	assert.Equal(t, "Runtime.runIfWaitingForDebugger", f.sess.lastCall())
	// Interception, device access and cache bypass are off by default.
	assert.Zero(t, f.sess.callCount("Fetch.enable"))
	assert.Zero(t, f.sess.callCount("DeviceAccess.enable"))
	assert.Zero(t, f.sess.callCount("Network.setCacheDisabled"))
}

func TestUnblockSetupFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.sess.setError("Network.enable", errors.New("boom"))
	f.tc.Unblock()

	err := f.tc.WaitUnblocked(context.Background())
	require.Error(t, err)
	// The outcome is sticky for late waiters.
	require.Error(t, f.tc.WaitUnblocked(context.Background()))
}

func TestUnblockTargetGoneDuringSetup(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.sess.setError("Page.enable", errors.New("Session with given id not found"))
	f.tc.Unblock()

	require.NoError(t, f.tc.WaitUnblocked(context.Background()))
}

func TestToggleFetch(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	assert.Zero(t, f.sess.callCount("Fetch.enable"))

	id := f.intercepts.Add(&Intercept{
		Phases: []InterceptPhase{InterceptPhaseBeforeRequestSent, InterceptPhaseResponseStarted},
	})
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	require.Equal(t, 1, f.sess.callCount("Fetch.enable"))

	params, ok := f.sess.paramsFor("Fetch.enable").(*fetch.EnableParams)
	require.True(t, ok)
	require.Len(t, params.Patterns, 2)
	assert.Equal(t, fetch.RequestStageRequest, params.Patterns[0].RequestStage)
	assert.Equal(t, fetch.RequestStageResponse, params.Patterns[1].RequestStage)
	assert.False(t, params.HandleAuthRequests)

	// Unchanged demand issues no further calls.
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	assert.Equal(t, 1, f.sess.callCount("Fetch.enable"))

	_, err := f.intercepts.Remove(id)
	require.NoError(t, err)
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	assert.Equal(t, 1, f.sess.callCount("Fetch.disable"))
}

func TestToggleFetchAuthImpliesRequestStage(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.intercepts.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseAuthRequired}})
	require.NoError(t, f.tc.toggleFetchIfNeeded())

	params, ok := f.sess.paramsFor("Fetch.enable").(*fetch.EnableParams)
	require.True(t, ok)
	require.Len(t, params.Patterns, 1)
	assert.Equal(t, fetch.RequestStageRequest, params.Patterns[0].RequestStage)
	assert.True(t, params.HandleAuthRequests)
}

func TestToggleFetchRollbackOnFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.intercepts.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseBeforeRequestSent}})

	f.sess.setError("Fetch.enable", errors.New("boom"))
	require.Error(t, f.tc.toggleFetchIfNeeded())

	// The recorded state rolled back, so a retry issues the call again.
	f.sess.setError("Fetch.enable", nil)
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	assert.Equal(t, 2, f.sess.callCount("Fetch.enable"))
}

func TestToggleFetchDisableDefersUntilDrained(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	id := f.intercepts.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseBeforeRequestSent}})
	require.NoError(t, f.tc.toggleFetchIfNeeded())

	f.tc.onRequestPaused(&fetch.EventRequestPaused{
		RequestID: "F1",
		NetworkID: "N1",
		Request:   &network.Request{URL: "https://a.test/", Method: "GET"},
	})

	_, err := f.intercepts.Remove(id)
	require.NoError(t, err)
	require.NoError(t, f.tc.toggleFetchIfNeeded())
	assert.Zero(t, f.sess.callCount("Fetch.disable"), "disable must wait for the blocked request")

	require.NoError(t, f.tc.ContinueBlockedRequest(f.ctx, "N1", InterceptPhaseBeforeRequestSent))
	assert.Equal(t, 1, f.sess.callCount("Fetch.continueRequest"))

	require.Eventually(t, func() bool {
		return f.sess.callCount("Fetch.disable") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBlockedRequestPhaseChecks(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.tc.onRequestPaused(&fetch.EventRequestPaused{RequestID: "F1", NetworkID: "N1"})
	f.tc.onAuthRequired(&fetch.EventAuthRequired{RequestID: "F2"})

	err := f.tc.ContinueBlockedRequest(f.ctx, "missing", InterceptPhaseBeforeRequestSent)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchRequest, asBidiError(err).Code)

	err = f.tc.ContinueBlockedRequest(f.ctx, "N1", InterceptPhaseResponseStarted)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidArgument, asBidiError(err).Code)

	err = f.tc.FailBlockedRequest(f.ctx, "F2")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidArgument, asBidiError(err).Code)

	err = f.tc.ContinueWithAuth(f.ctx, "N1", &fetch.AuthChallengeResponse{})
	require.Error(t, err)
	assert.Equal(t, ErrorCodeInvalidArgument, asBidiError(err).Code)

	require.NoError(t, f.tc.FailBlockedRequest(f.ctx, "N1"))
	assert.Equal(t, 1, f.sess.callCount("Fetch.failRequest"))

	// Auth challenges are keyed by the fetch request id.
	require.NoError(t, f.tc.ContinueWithAuth(f.ctx, "F2", &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseCancelAuth,
	}))
	assert.Equal(t, 1, f.sess.callCount("Fetch.continueWithAuth"))

	// Both requests resolved.
	err = f.tc.ContinueBlockedRequest(f.ctx, "N1", InterceptPhaseBeforeRequestSent)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchRequest, asBidiError(err).Code)
}

func TestToggleDeviceAccess(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	require.NoError(t, f.tc.toggleDeviceAccessIfNeeded())
	assert.Zero(t, f.sess.callCount("DeviceAccess.enable"))

	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{}, []string{EventDevicePromptUpdated}, nil))
	require.NoError(t, f.tc.toggleDeviceAccessIfNeeded())
	require.NoError(t, f.tc.toggleDeviceAccessIfNeeded())
	assert.Equal(t, 1, f.sess.callCount("DeviceAccess.enable"))

	f.subs.UnsubscribeAll(sub)
	require.NoError(t, f.tc.toggleDeviceAccessIfNeeded())
	assert.Equal(t, 1, f.sess.callCount("DeviceAccess.disable"))
}

func TestToggleCacheDisabled(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	// Matches the default, nothing to do.
	require.NoError(t, f.tc.toggleSetCacheDisabled(nil))
	assert.Zero(t, f.sess.callCount("Network.setCacheDisabled"))

	on := true
	require.NoError(t, f.tc.toggleSetCacheDisabled(&on))
	assert.Equal(t, 1, f.sess.callCount("Network.setCacheDisabled"))

	// Reverting to the default issues the call again.
	require.NoError(t, f.tc.toggleSetCacheDisabled(nil))
	assert.Equal(t, 2, f.sess.callCount("Network.setCacheDisabled"))

	// Rollback on failure keeps the recorded state in sync.
	f.sess.setError("Network.setCacheDisabled", errors.New("boom"))
	require.Error(t, f.tc.toggleSetCacheDisabled(&on))
	f.sess.setError("Network.setCacheDisabled", nil)
	require.NoError(t, f.tc.toggleSetCacheDisabled(&on))
	assert.Equal(t, 4, f.sess.callCount("Network.setCacheDisabled"))
}

func TestNetworkEventsSuppressedWhileIntercepting(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{}, []string{EventBeforeRequestSent}, nil))

	f.tc.onRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: "N1",
		Request:   &network.Request{URL: "https://a.test/", Method: "GET"},
	})
	require.Len(t, sub.recorded(), 1)

	f.intercepts.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseBeforeRequestSent}})
	require.NoError(t, f.tc.toggleFetchIfNeeded())

	// The paused notification carries intercepted requests instead.
	f.tc.onRequestWillBeSent(&network.EventRequestWillBeSent{RequestID: "N2"})
	require.Len(t, sub.recorded(), 1)

	f.tc.onRequestPaused(&fetch.EventRequestPaused{RequestID: "F2", NetworkID: "N2"})
	got := sub.recorded()
	require.Len(t, got, 2)
	params, ok := got[1].params.(*networkEventParams)
	require.True(t, ok)
	assert.True(t, params.IsBlocked)
	assert.Equal(t, "N2", params.Request.Request)
}

func TestLifecycleEventsDispatch(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{},
		[]string{EventLoad, EventDomContentLoaded}, nil))

	f.tc.handleEvent(Event{typ: "Page.lifecycleEvent", data: &cdppage.EventLifecycleEvent{
		FrameID: "top", LoaderID: "L1", Name: "load",
	}})
	f.tc.handleEvent(Event{typ: "Page.lifecycleEvent", data: &cdppage.EventLifecycleEvent{
		FrameID: "top", LoaderID: "L1", Name: "DOMContentLoaded",
	}})
	f.tc.handleEvent(Event{typ: "Page.lifecycleEvent", data: &cdppage.EventLifecycleEvent{
		FrameID: "top", LoaderID: "L1", Name: "networkIdle",
	}})

	got := sub.recorded()
	require.Len(t, got, 2)
	assert.Equal(t, EventLoad, got[0].method)
	params, ok := got[0].params.(*browsingContextEventParams)
	require.True(t, ok)
	require.NotNil(t, params.Navigation)
	assert.Equal(t, "L1", *params.Navigation)
	assert.Equal(t, EventDomContentLoaded, got[1].method)
}

func TestRawEventForwarding(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{}, []string{EventCdpEventReceived}, nil))
	legacy := &fakeSubscriber{id: "c2"}
	require.NoError(t, f.subs.Subscribe(legacy, ChannelRef{},
		[]string{EventCdpEventReceivedDeprecated}, nil))

	f.tc.handleEvent(Event{typ: "Network.loadingFinished", data: &network.EventLoadingFinished{
		RequestID: "N1",
	}})

	got := sub.recorded()
	require.Len(t, got, 1)
	params, ok := got[0].params.(*cdpEventReceivedParams)
	require.True(t, ok)
	assert.Equal(t, "Network.loadingFinished", params.Event)
	assert.Equal(t, "S1", params.Session)
	assert.NotEmpty(t, params.Params)

	// The deprecated alias receives the same notification.
	require.Len(t, legacy.recorded(), 1)
}

func TestUserPromptLifecycle(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{},
		[]string{EventUserPromptOpened, EventUserPromptClosed}, nil))

	err := f.tc.HandleUserPrompt(f.ctx, true, nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchAlert, asBidiError(err).Code)

	f.tc.onDialogOpening(&cdppage.EventJavascriptDialogOpening{
		Type: cdppage.DialogTypePrompt, Message: "name?", DefaultPrompt: "bob",
	})
	got := sub.recorded()
	require.Len(t, got, 1)
	opened, ok := got[0].params.(*userPromptOpenedParams)
	require.True(t, ok)
	assert.Equal(t, "prompt", opened.Type)
	assert.Equal(t, "name?", opened.Message)

	text := "alice"
	require.NoError(t, f.tc.HandleUserPrompt(f.ctx, true, &text))
	assert.Equal(t, 1, f.sess.callCount("Page.handleJavaScriptDialog"))

	f.tc.onDialogClosed(&cdppage.EventJavascriptDialogClosed{Result: true, UserInput: "alice"})
	got = sub.recorded()
	require.Len(t, got, 2)
	closed, ok := got[1].params.(*userPromptClosedParams)
	require.True(t, ok)
	assert.True(t, closed.Accepted)
	assert.Equal(t, "alice", closed.UserText)

	// The dialog is gone once closed.
	err = f.tc.HandleUserPrompt(f.ctx, true, nil)
	require.Error(t, err)
}

func TestDevicePromptLifecycle(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	sub := &fakeSubscriber{id: "c1"}
	require.NoError(t, f.subs.Subscribe(sub, ChannelRef{}, []string{EventDevicePromptUpdated}, nil))

	err := f.tc.HandleDevicePrompt(f.ctx, "missing", true, "dev1")
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchDevicePrompt, asBidiError(err).Code)

	f.tc.onDeviceRequestPrompted(&deviceaccess.EventDeviceRequestPrompted{
		ID: "P1",
		Devices: []*deviceaccess.PromptDevice{
			{ID: "dev1", Name: "Speaker"},
		},
	})
	got := sub.recorded()
	require.Len(t, got, 1)
	params, ok := got[0].params.(*devicePromptUpdatedParams)
	require.True(t, ok)
	assert.Equal(t, "P1", params.Prompt)
	require.Len(t, params.Devices, 1)
	assert.Equal(t, "Speaker", params.Devices[0].Name)

	require.NoError(t, f.tc.HandleDevicePrompt(f.ctx, "P1", true, "dev1"))
	assert.Equal(t, 1, f.sess.callCount("DeviceAccess.selectPrompt"))

	// Resolved prompts cannot be handled twice.
	err = f.tc.HandleDevicePrompt(f.ctx, "P1", false, "")
	require.Error(t, err)
}

func TestFrameEventsMaintainTree(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.tc.onFrameAttached(&cdppage.EventFrameAttached{FrameID: "frame1", ParentFrameID: "top"})
	bc, ok := f.tree.Get("frame1")
	require.True(t, ok)
	assert.Equal(t, cdp.FrameID("top"), bc.parentID)

	f.tc.onFrameNavigated(&cdppage.EventFrameNavigated{
		Frame: &cdp.Frame{ID: "frame1", URL: "https://a.test/inner"},
	})
	bc, _ = f.tree.Get("frame1")
	assert.Equal(t, "https://a.test/inner", bc.url)

	// A swap keeps the context alive for the new target to re-own.
	f.tc.onFrameDetached(&cdppage.EventFrameDetached{
		FrameID: "frame1", Reason: cdppage.FrameDetachedReasonSwap,
	})
	_, ok = f.tree.Get("frame1")
	assert.True(t, ok)

	f.tc.onFrameDetached(&cdppage.EventFrameDetached{
		FrameID: "frame1", Reason: cdppage.FrameDetachedReasonRemove,
	})
	_, ok = f.tree.Get("frame1")
	assert.False(t, ok)
}

func TestTargetCrashedMarksSession(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.tc.handleEvent(Event{typ: "Inspector.targetCrashed", data: &inspector.EventTargetCrashed{}})

	f.sess.mu.Lock()
	crashed := f.sess.crashed
	f.sess.mu.Unlock()
	assert.True(t, crashed)
}

func TestCloseResolvesOnResponse(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	require.NoError(t, f.tc.Close(context.Background()))
	assert.Equal(t, 1, f.sess.callCount("Target.closeTarget"))
}

func TestCloseResolvesOnDetach(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)

	// The close response never arrives; the detach notification must
	// resolve the close on its own.
	gate := f.sess.gate("Target.closeTarget")
	t.Cleanup(func() { close(gate) })

	errCh := make(chan error, 1)
	go func() { errCh <- f.tc.Close(context.Background()) }()

	require.Eventually(t, func() bool {
		return f.sess.callCount("Target.closeTarget") == 1
	}, time.Second, 10*time.Millisecond)
	close(f.sess.done)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not resolve on detach")
	}
}

func TestCloseToleratesTargetAlreadyGone(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.sess.setError("Target.closeTarget", errors.New("Not attached to an active page"))
	require.NoError(t, f.tc.Close(context.Background()))

	f.sess.setError("Target.closeTarget", errors.New("boom"))
	require.Error(t, f.tc.Close(context.Background()))
}

func TestDetachRemovesControllerAndContext(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	b := &Bridge{
		logger:      log.NewNullLogger(),
		tree:        f.tree,
		realms:      f.realms,
		controllers: map[target.ID]*TargetController{f.tc.TargetID(): f.tc},
	}

	// The notification carries only the session id; the controller is
	// found by it.
	b.onDetachedFromTarget(&target.EventDetachedFromTarget{SessionID: "S1"})

	assert.Empty(t, b.Controllers())
	_, ok := f.tree.Get("top")
	assert.False(t, ok)

	// A detach for an unknown session is a no-op.
	b.onDetachedFromTarget(&target.EventDetachedFromTarget{SessionID: "S9"})
}

func TestWaitReadyAwaitsInitialLoad(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	f.tc.Unblock()
	require.NoError(t, f.tc.WaitUnblocked(context.Background()))

	errCh := make(chan error, 1)
	go func() { errCh <- f.tc.WaitReady(f.ctx) }()

	// Setup alone is not enough; the initial document must report load.
	select {
	case err := <-errCh:
		t.Fatalf("ready before the initial load: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	f.sess.emit("Page.lifecycleEvent", &cdppage.EventLifecycleEvent{
		FrameID: "top", LoaderID: "L0", Name: "load",
	})

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ready did not resolve on the initial load")
	}
}
