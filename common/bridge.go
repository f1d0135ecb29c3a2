package common

import (
	"context"
	"fmt"
	"sync"

	"bidibridge/log"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
)

// Bridge owns one CDP connection to a browser and the state bridged over
// it: the context tree, subscriptions, realms, preload scripts and
// intercepts, plus one TargetController per attached target. Command
// processors hang off the Bridge. The server creates a Bridge per client
// connection.
type Bridge struct {
	ctx    context.Context
	logger *log.Logger

	conn *Connection

	tree       *ContextTree
	subs       *SubscriptionManager
	realms     *RealmRegistry
	preloads   *PreloadScriptRegistry
	intercepts *InterceptRegistry

	controllersMu sync.RWMutex
	controllers   map[target.ID]*TargetController

	commands map[string]commandHandler

	defaultCacheDisabled bool
}

// NewBridge dials the browser and starts bridging: it configures
// auto-attach so every current and future page target arrives paused, and
// builds a controller per target as they do.
func NewBridge(
	ctx context.Context, wsURL string, logger *log.Logger, cacheDisabled bool,
) (*Bridge, error) {
	conn, err := NewConnection(ctx, wsURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to browser at %q: %w", wsURL, err)
	}

	b := &Bridge{
		ctx:                  ctx,
		logger:               logger,
		conn:                 conn,
		tree:                 NewContextTree(ctx, logger),
		realms:               NewRealmRegistry(logger),
		preloads:             NewPreloadScriptRegistry(logger),
		intercepts:           NewInterceptRegistry(logger),
		controllers:          make(map[target.ID]*TargetController),
		defaultCacheDisabled: cacheDisabled,
	}
	b.subs = NewSubscriptionManager(b.tree, logger)
	b.commands = b.commandHandlers()

	b.tree.onCreated = func(bc *BrowsingContext) {
		b.subs.Dispatch(EventContextCreated, b.tree.Serialize(bc), bc.id)
	}
	b.tree.onDestroyed = func(bc *BrowsingContext, chain []cdp.FrameID) {
		b.subs.DispatchWithChain(EventContextDestroyed, b.tree.Serialize(bc), chain)
	}
	b.realms.onCreated = func(r *Realm) {
		b.subs.Dispatch(EventRealmCreated, r.info(), cdp.FrameID(r.Context))
	}
	b.realms.onDestroyed = func(r *Realm) {
		b.subs.Dispatch(EventRealmDestroyed, r.info(), cdp.FrameID(r.Context))
	}

	// Late subscribers get already-existing state replayed.
	b.subs.AddSubscribeHook(EventContextCreated, func(sub Subscriber, chref ChannelRef, bc *BrowsingContext) {
		sub.NotifyEvent(EventContextCreated, b.tree.Serialize(bc), chref)
	})
	b.subs.AddSubscribeHook(EventRealmCreated, func(sub Subscriber, chref ChannelRef, bc *BrowsingContext) {
		for _, r := range b.realms.RealmsIn(map[string]struct{}{string(bc.id): {}}) {
			sub.NotifyEvent(EventRealmCreated, r.info(), chref)
		}
	})

	b.initEvents()

	action := target.SetAutoAttach(true, true).WithFlatten(true)
	if err := action.Do(cdp.WithExecutor(ctx, conn)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling target auto-attach: %w", err)
	}

	return b, nil
}

// Close tears down the browser connection.
func (b *Bridge) Close() {
	b.conn.Close()
}

// Done returns a channel closed when the browser connection goes away.
func (b *Bridge) Done() <-chan struct{} {
	return b.conn.Done()
}

func (b *Bridge) initEvents() {
	chEv := make(chan Event)
	b.conn.on(b.ctx, []string{
		cdproto.EventTargetAttachedToTarget,
		cdproto.EventTargetDetachedFromTarget,
	}, chEv)

	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-b.conn.Done():
				return
			case event := <-chEv:
				switch ev := event.data.(type) {
				case *target.EventAttachedToTarget:
					b.onAttachedToTarget(nil, ev)
				case *target.EventDetachedFromTarget:
					b.onDetachedFromTarget(ev)
				}
			}
		}
	}()
}

// onAttachedToTarget builds a controller for a freshly attached target and
// starts its setup. parent is non-nil when the attachment was announced on
// an existing target's session (an OOPIF or worker child).
func (b *Bridge) onAttachedToTarget(parent *TargetController, ev *target.EventAttachedToTarget) {
	info := ev.TargetInfo
	if info == nil {
		return
	}
	sess := b.conn.getSession(ev.SessionID)
	if sess == nil {
		b.logger.Warnf("Bridge:onAttachedToTarget",
			"sid:%v tid:%v session missing", ev.SessionID, info.TargetID)
		return
	}

	switch info.Type {
	case "page", "iframe", "worker", "service_worker", "shared_worker":
	default:
		// Not bridged, but attached paused. Let it run.
		go func() {
			exec := cdp.WithExecutor(b.ctx, sess)
			_ = cdpruntime.RunIfWaitingForDebugger().Do(exec)
		}()
		return
	}

	b.logger.Debugf("Bridge:onAttachedToTarget", "sid:%v tid:%v type:%s url:%q",
		ev.SessionID, info.TargetID, info.Type, info.URL)

	var parentSession session
	if parent != nil {
		parentSession = parent.Session()
	}
	tc := NewTargetController(
		b.ctx, b.logger, sess, parentSession, b.conn,
		info.TargetID, info.Type,
		b.tree, b.subs, b.realms, b.preloads, b.intercepts,
		b.defaultCacheDisabled, b.onAttachedToTarget,
	)
	b.controllersMu.Lock()
	b.controllers[info.TargetID] = tc
	b.controllersMu.Unlock()

	if info.Type == "page" || info.Type == "iframe" {
		fid := cdp.FrameID(info.TargetID)
		if _, ok := b.tree.Get(fid); ok {
			// OOPIF swap: the frame node survived the detach from its
			// parent's target and is re-owned here.
			b.tree.SetController(fid, tc)
		} else {
			b.tree.AddContext(&BrowsingContext{
				id:          fid,
				userContext: info.BrowserContextID,
				url:         info.URL,
				controller:  tc,
			})
		}
	}

	go tc.Unblock()
}

func (b *Bridge) onDetachedFromTarget(ev *target.EventDetachedFromTarget) {
	b.logger.Debugf("Bridge:onDetachedFromTarget", "sid:%v", ev.SessionID)

	b.controllersMu.Lock()
	var tc *TargetController
	for tid, c := range b.controllers {
		if c.session.SessionID() == ev.SessionID {
			tc = c
			delete(b.controllers, tid)
			break
		}
	}
	b.controllersMu.Unlock()

	b.realms.RemoveBySession(ev.SessionID)
	if tc == nil {
		return
	}
	if tc.targetType == "page" {
		b.tree.RemoveContext(tc.TopLevelID())
	}
}

// Controllers returns a snapshot of the live target controllers.
func (b *Bridge) Controllers() []*TargetController {
	b.controllersMu.RLock()
	defer b.controllersMu.RUnlock()
	out := make([]*TargetController, 0, len(b.controllers))
	for _, tc := range b.controllers {
		out = append(out, tc)
	}
	return out
}

// ControllerByTarget returns the controller owning the given target.
func (b *Bridge) ControllerByTarget(tid target.ID) (*TargetController, bool) {
	b.controllersMu.RLock()
	defer b.controllersMu.RUnlock()
	tc, ok := b.controllers[tid]
	return tc, ok
}

// controllersByTarget returns the live controllers keyed by target id.
func (b *Bridge) controllersByTarget() map[target.ID]*TargetController {
	b.controllersMu.RLock()
	defer b.controllersMu.RUnlock()
	out := make(map[target.ID]*TargetController, len(b.controllers))
	for tid, tc := range b.controllers {
		out[tid] = tc
	}
	return out
}

// controllerFor resolves a client-supplied context id to the controller
// owning that context's target, waiting out the target's setup first.
func (b *Bridge) controllerFor(ctx context.Context, contextID string) (*TargetController, *BrowsingContext, error) {
	bc, ok := b.tree.Get(cdp.FrameID(contextID))
	if !ok {
		return nil, nil, bidiError(ErrorCodeNoSuchFrame, "context %q not found", contextID)
	}
	tc := bc.Controller()
	if tc == nil {
		return nil, nil, bidiError(ErrorCodeNoSuchFrame, "context %q has no live target", contextID)
	}
	if err := tc.WaitUnblocked(ctx); err != nil {
		return nil, nil, fmt.Errorf("waiting for target %v setup: %w", tc.targetID, err)
	}
	return tc, bc, nil
}
