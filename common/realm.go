package common

import (
	"context"
	"fmt"
	"sync"

	"bidibridge/log"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	uuid "github.com/nu7hatch/gouuid"
)

// RealmType tags the kind of JavaScript execution environment a realm is.
type RealmType string

const (
	RealmTypeWindow          RealmType = "window"
	RealmTypeDedicatedWorker RealmType = "dedicated-worker"
	RealmTypeWorker          RealmType = "worker"
)

// Realm is one JavaScript execution environment within a context: the main
// world or an isolated/sandboxed world.
type Realm struct {
	ID      string    `json:"realm"`
	Origin  string    `json:"origin"`
	Type    RealmType `json:"type"`
	Context string    `json:"context,omitempty"`

	// CDP coordinates, used for teardown bookkeeping only.
	sessionID      target.SessionID
	executionCtxID cdpruntime.ExecutionContextID
}

// RealmInfo is the wire serialization of a realm.
type RealmInfo struct {
	Realm   string    `json:"realm"`
	Origin  string    `json:"origin"`
	Type    RealmType `json:"type"`
	Context string    `json:"context,omitempty"`
}

func (r *Realm) info() *RealmInfo {
	return &RealmInfo{Realm: r.ID, Origin: r.Origin, Type: r.Type, Context: r.Context}
}

// RealmRegistry tracks realms per context. Realms are created on demand
// from execution-context notifications and removed when their execution
// context, or owning browsing context, is destroyed.
type RealmRegistry struct {
	logger *log.Logger

	mu     sync.RWMutex
	byID   map[string]*Realm
	order  []string

	// Set by the bridge.
	onCreated   func(*Realm)
	onDestroyed func(*Realm)
}

// NewRealmRegistry creates an empty realm registry.
func NewRealmRegistry(logger *log.Logger) *RealmRegistry {
	return &RealmRegistry{
		logger: logger,
		byID:   make(map[string]*Realm),
	}
}

// Add registers a realm and fires the creation hook.
func (r *RealmRegistry) Add(realm *Realm) {
	if realm.ID == "" {
		realm.ID = newID("realm")
	}
	r.logger.Debugf("RealmRegistry:Add", "realm:%s cid:%v type:%s",
		realm.ID, realm.Context, realm.Type)

	r.mu.Lock()
	r.byID[realm.ID] = realm
	r.order = append(r.order, realm.ID)
	onCreated := r.onCreated
	r.mu.Unlock()

	if onCreated != nil {
		onCreated(realm)
	}
}

// RemoveByExecutionContext removes the realm created for the given CDP
// execution context, if any.
func (r *RealmRegistry) RemoveByExecutionContext(
	sid target.SessionID, ecid cdpruntime.ExecutionContextID,
) {
	r.mu.Lock()
	var removed *Realm
	for _, realm := range r.byID {
		if realm.sessionID == sid && realm.executionCtxID == ecid {
			removed = realm
			break
		}
	}
	if removed != nil {
		r.deleteLocked(removed.ID)
	}
	onDestroyed := r.onDestroyed
	r.mu.Unlock()

	if removed != nil && onDestroyed != nil {
		onDestroyed(removed)
	}
}

// RemoveBySession removes every realm belonging to a session. Used when a
// target detaches or its execution contexts are cleared wholesale.
func (r *RealmRegistry) RemoveBySession(sid target.SessionID) {
	r.mu.Lock()
	var removed []*Realm
	for _, id := range append([]string(nil), r.order...) {
		realm := r.byID[id]
		if realm != nil && realm.sessionID == sid {
			removed = append(removed, realm)
			r.deleteLocked(id)
		}
	}
	onDestroyed := r.onDestroyed
	r.mu.Unlock()

	if onDestroyed != nil {
		for _, realm := range removed {
			onDestroyed(realm)
		}
	}
}

func (r *RealmRegistry) deleteLocked(id string) {
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// RealmsIn returns the realms owned by any of the given contexts, in
// creation order. An empty filter returns every realm.
func (r *RealmRegistry) RealmsIn(contexts map[string]struct{}) []*Realm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Realm
	for _, id := range r.order {
		realm := r.byID[id]
		if realm == nil {
			continue
		}
		if len(contexts) > 0 {
			if _, ok := contexts[realm.Context]; !ok {
				continue
			}
		}
		out = append(out, realm)
	}
	return out
}

// PreloadScript is a script injected into every current and future target
// matched by its selector, before any page script runs.
type PreloadScript struct {
	ID                  string
	FunctionDeclaration string
	SandboxName         string

	// Selector. Empty contexts and userContexts means "all top-level".
	Contexts     map[cdp.FrameID]struct{}
	UserContexts map[string]struct{}

	// Live set of targets the script has been injected into, with the
	// per-target script identifier needed for removal.
	injected map[target.ID]cdppage.ScriptIdentifier
}

// matchesController reports whether the script's selector covers the
// given target.
func (ps *PreloadScript) matchesController(tc *TargetController) bool {
	bc, ok := tc.tree.Get(cdp.FrameID(tc.targetID))
	if !ok {
		return false
	}
	switch {
	case len(ps.Contexts) > 0:
		_, ok := ps.Contexts[bc.id]
		return ok
	case len(ps.UserContexts) > 0:
		_, ok := ps.UserContexts[bc.UserContext()]
		return ok
	}
	return bc.IsTopLevel()
}

// PreloadScriptRegistry tracks preload scripts and performs the CDP calls
// to inject and remove them.
type PreloadScriptRegistry struct {
	logger *log.Logger

	mu      sync.Mutex
	scripts map[string]*PreloadScript
}

// NewPreloadScriptRegistry creates an empty preload script registry.
func NewPreloadScriptRegistry(logger *log.Logger) *PreloadScriptRegistry {
	return &PreloadScriptRegistry{
		logger:  logger,
		scripts: make(map[string]*PreloadScript),
	}
}

// Add registers the script and injects it into every currently matching
// target. Injection into targets created later happens during target
// unblock via ApplyTo.
func (p *PreloadScriptRegistry) Add(
	ctx context.Context, script *PreloadScript, controllers []*TargetController,
) (string, error) {
	script.ID = newID("preload")
	script.injected = make(map[target.ID]cdppage.ScriptIdentifier)

	for _, tc := range controllers {
		if !script.matchesController(tc) {
			continue
		}
		if err := p.inject(ctx, script, tc); err != nil {
			return "", err
		}
	}

	p.mu.Lock()
	p.scripts[script.ID] = script
	p.mu.Unlock()

	p.logger.Debugf("PreloadScriptRegistry:Add", "script:%s", script.ID)
	return script.ID, nil
}

// Remove deletes the script from the registry and from every target it was
// injected into. Removal failures from closing targets are benign.
func (p *PreloadScriptRegistry) Remove(
	ctx context.Context, id string, controllers map[target.ID]*TargetController,
) error {
	p.mu.Lock()
	script, ok := p.scripts[id]
	if ok {
		delete(p.scripts, id)
	}
	p.mu.Unlock()
	if !ok {
		return bidiError(ErrorCodeNoSuchScript, "preload script %q not found", id)
	}

	for tid, identifier := range script.injected {
		tc, ok := controllers[tid]
		if !ok {
			continue
		}
		action := cdppage.RemoveScriptToEvaluateOnNewDocument(identifier)
		if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil {
			if tc.isExpectedError(err) {
				continue
			}
			return fmt.Errorf("removing preload script from target %v: %w", tid, err)
		}
	}
	return nil
}

// ApplyTo injects every matching script into a newly attached target.
// Runs during target unblock.
func (p *PreloadScriptRegistry) ApplyTo(ctx context.Context, tc *TargetController) error {
	p.mu.Lock()
	var matching []*PreloadScript
	for _, script := range p.scripts {
		if script.matchesController(tc) {
			matching = append(matching, script)
		}
	}
	p.mu.Unlock()

	for _, script := range matching {
		if err := p.inject(ctx, script, tc); err != nil {
			return err
		}
	}
	return nil
}

func (p *PreloadScriptRegistry) inject(
	ctx context.Context, script *PreloadScript, tc *TargetController,
) error {
	p.logger.Debugf("PreloadScriptRegistry:inject", "script:%s tid:%v", script.ID, tc.targetID)

	source := fmt.Sprintf("(%s)();", script.FunctionDeclaration)
	action := cdppage.AddScriptToEvaluateOnNewDocument(source)
	if script.SandboxName != "" {
		action = action.WithWorldName(script.SandboxName)
	}
	identifier, err := action.Do(cdp.WithExecutor(ctx, tc.session))
	if err != nil {
		if tc.isExpectedError(err) {
			return nil
		}
		return fmt.Errorf("injecting preload script into target %v: %w", tc.targetID, err)
	}

	p.mu.Lock()
	script.injected[tc.targetID] = identifier
	p.mu.Unlock()
	return nil
}

// newID returns a fresh opaque identifier with a readable prefix.
func newID(prefix string) string {
	id, err := uuid.NewV4()
	if err != nil {
		panic(fmt.Sprintf("cannot generate uuid: %v", err))
	}
	return prefix + "-" + id.String()
}
