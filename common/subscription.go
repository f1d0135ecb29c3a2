package common

import (
	"fmt"
	"strings"
	"sync"

	"bidibridge/log"

	"github.com/chromedp/cdproto/cdp"
)

// Subscriber is one client channel events can be delivered to. Delivery
// must be FIFO per subscriber; ClientConn satisfies this with a dedicated
// writer goroutine.
type Subscriber interface {
	ID() string
	NotifyEvent(method string, params any, chref ChannelRef)
}

// SubscribeHook is invoked exactly once per (subscription, matching
// context) when a subscriber first subscribes to the hooked event for that
// context. Hooks backfill already-existing state, so a late subscriber
// observes consistent history instead of only future events.
type SubscribeHook func(sub Subscriber, chref ChannelRef, bc *BrowsingContext)

type subscriptionRecord struct {
	name  string      // event or module name
	scope cdp.FrameID // empty means global
	sub   Subscriber
	chref ChannelRef
}

func (r *subscriptionRecord) matches(method string, chain []cdp.FrameID) bool {
	if r.name != method && r.name != moduleOf(method) {
		return false
	}
	if r.scope == "" {
		return true
	}
	for _, id := range chain {
		if r.scope == id {
			return true
		}
	}
	return false
}

// SubscriptionManager tracks which event names are subscribed by which
// client channel, per scope. A context-scoped subscription covers the
// context and all of its frames: "is subscribed" for a concrete context
// walks up the parent chain, so events bubble to ancestors' subscribers.
type SubscriptionManager struct {
	logger *log.Logger
	tree   *ContextTree

	mu         sync.Mutex
	records    []*subscriptionRecord
	hooks      map[string][]SubscribeHook
	backfilled map[string]struct{} // subscriber|name|context
}

// NewSubscriptionManager creates an empty subscription manager bound to
// the given context tree.
func NewSubscriptionManager(tree *ContextTree, logger *log.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		logger:     logger,
		tree:       tree,
		hooks:      make(map[string][]SubscribeHook),
		backfilled: make(map[string]struct{}),
	}
}

// AddSubscribeHook registers a backfill hook for an event name. Module
// subscriptions covering the event trigger the hook as well.
func (m *SubscriptionManager) AddSubscribeHook(name string, hook SubscribeHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[name] = append(m.hooks[name], hook)
}

// Subscribe records subscriptions for every (name, scope) combination and
// runs backfill hooks for each one that is new. Scopes may be empty for a
// global subscription.
func (m *SubscriptionManager) Subscribe(
	sub Subscriber, chref ChannelRef, names []string, scopes []cdp.FrameID,
) error {
	if len(names) == 0 {
		return invalidArgumentError("no events requested")
	}
	for _, name := range names {
		if !isKnownSubscription(name) {
			return invalidArgumentError("unknown event %q", name)
		}
	}
	if len(scopes) == 0 {
		scopes = []cdp.FrameID{""}
	}
	for _, scope := range scopes {
		if scope == "" {
			continue
		}
		if _, ok := m.tree.Get(scope); !ok {
			return bidiError(ErrorCodeNoSuchFrame, "context %q not found", scope)
		}
	}

	type backfill struct {
		hook  SubscribeHook
		bc    *BrowsingContext
		chref ChannelRef
	}
	var pending []backfill

	m.mu.Lock()
	for _, name := range names {
		for _, scope := range scopes {
			if m.findLocked(sub, name, scope, chref) != nil {
				continue // duplicate subscription, no effect
			}
			m.records = append(m.records, &subscriptionRecord{
				name: name, scope: scope, sub: sub, chref: chref,
			})
			m.logger.Debugf("SubscriptionManager:Subscribe",
				"sub:%s name:%q scope:%v", sub.ID(), name, scope)

			for hookName, hooks := range m.hooks {
				if hookName != name && moduleOf(hookName) != name {
					continue
				}
				for _, bc := range m.matchingContextsLocked(scope) {
					key := fmt.Sprintf("%s|%s|%s", sub.ID(), hookName, bc.id)
					if _, done := m.backfilled[key]; done {
						continue
					}
					m.backfilled[key] = struct{}{}
					for _, h := range hooks {
						pending = append(pending, backfill{h, bc, chref})
					}
				}
			}
		}
	}
	m.mu.Unlock()

	// Hooks run outside the lock: they dispatch events, which reenters the
	// manager.
	for _, b := range pending {
		b.hook(sub, b.chref, b.bc)
	}
	return nil
}

func (m *SubscriptionManager) findLocked(
	sub Subscriber, name string, scope cdp.FrameID, chref ChannelRef,
) *subscriptionRecord {
	for _, r := range m.records {
		if r.sub == sub && r.name == name && r.scope == scope && r.chref == chref {
			return r
		}
	}
	return nil
}

// matchingContextsLocked returns every existing context covered by scope:
// all contexts for a global scope, the context and its descendants for a
// concrete one.
func (m *SubscriptionManager) matchingContextsLocked(scope cdp.FrameID) []*BrowsingContext {
	if scope == "" {
		var all []*BrowsingContext
		for _, top := range m.tree.TopLevels() {
			all = append(all, m.tree.descendants(top.id)...)
		}
		return all
	}
	return m.tree.descendants(scope)
}

// Unsubscribe removes matching subscription records. Removing a
// subscription that does not exist is an invalid argument error.
func (m *SubscriptionManager) Unsubscribe(
	sub Subscriber, names []string, scopes []cdp.FrameID,
) error {
	if len(names) == 0 {
		return invalidArgumentError("no events requested")
	}
	if len(scopes) == 0 {
		scopes = []cdp.FrameID{""}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every (name, scope) pair before touching any record, so a
	// failing unsubscribe leaves all subscriptions intact.
	for _, name := range names {
		for _, scope := range scopes {
			found := false
			for _, r := range m.records {
				if r.sub == sub && r.name == name && r.scope == scope {
					found = true
					break
				}
			}
			if !found {
				return invalidArgumentError(
					"no subscription found for %q in scope %q", name, scope)
			}
		}
	}

	for _, name := range names {
		for _, scope := range scopes {
			for i := 0; i < len(m.records); {
				r := m.records[i]
				if r.sub == sub && r.name == name && r.scope == scope {
					m.records = append(m.records[:i], m.records[i+1:]...)
					continue
				}
				i++
			}
		}
	}
	m.clearBackfillLocked(sub)
	return nil
}

// UnsubscribeAll drops every subscription of a subscriber. Called on
// client disconnect.
func (m *SubscriptionManager) UnsubscribeAll(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < len(m.records); {
		if m.records[i].sub == sub {
			m.records = append(m.records[:i], m.records[i+1:]...)
			continue
		}
		i++
	}
	m.clearBackfillLocked(sub)
}

// clearBackfillLocked forgets backfill bookkeeping for names the
// subscriber no longer has any record for, so a resubscribe backfills
// again.
func (m *SubscriptionManager) clearBackfillLocked(sub Subscriber) {
	active := make(map[string]struct{})
	for _, r := range m.records {
		if r.sub == sub {
			active[r.name] = struct{}{}
		}
	}
	prefix := sub.ID() + "|"
	for key := range m.backfilled {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		rest := key[len(prefix):]
		name := rest
		if i := strings.IndexByte(rest, '|'); i >= 0 {
			name = rest[:i]
		}
		if _, ok := active[name]; ok {
			continue
		}
		if _, ok := active[moduleOf(name)]; ok {
			continue
		}
		delete(m.backfilled, key)
	}
}

// IsSubscribedTo reports whether any subscriber would receive an event
// with the given name for the given context. A global subscription, or a
// subscription on the context or any ancestor, counts.
func (m *SubscriptionManager) IsSubscribedTo(method string, contextID cdp.FrameID) bool {
	chain := m.chainFor(contextID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.matches(method, chain) {
			return true
		}
	}
	return false
}

// Dispatch delivers an event to every subscriber whose subscription
// matches. A subscriber listening on several channels receives the event
// once per channel; within one channel it is delivered exactly once even
// when multiple records match. Delivery order across independent
// subscribers is unspecified; per-subscriber order is FIFO.
func (m *SubscriptionManager) Dispatch(method string, params any, contextID cdp.FrameID) {
	m.DispatchWithChain(method, params, m.chainFor(contextID))
}

// DispatchWithChain delivers with a caller-supplied ancestor chain. Used
// for events about contexts that have already left the tree, where the
// chain can no longer be recomputed.
func (m *SubscriptionManager) DispatchWithChain(method string, params any, chain []cdp.FrameID) {
	type delivery struct {
		sub   Subscriber
		chref ChannelRef
	}
	var deliveries []delivery

	m.mu.Lock()
	seen := make(map[string]struct{})
	for _, r := range m.records {
		if !r.matches(method, chain) {
			continue
		}
		key := r.sub.ID() + "|" + fmt.Sprint(r.chref.Kind) + "|" + r.chref.Value
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deliveries = append(deliveries, delivery{r.sub, r.chref})
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		d.sub.NotifyEvent(method, params, d.chref)
	}
}

func (m *SubscriptionManager) chainFor(contextID cdp.FrameID) []cdp.FrameID {
	if contextID == "" {
		return nil
	}
	return m.tree.ancestors(contextID)
}
