package common

import (
	"context"
	"sync"

	"bidibridge/log"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
)

// ContextTree is the registry of all live browsing contexts. Contexts form
// a forest: top-level contexts are roots, nested frames hang off their
// parents. Registration happens asynchronously relative to the commands
// that caused it (targets attach on their own schedule), so the tree also
// supports waiting for a context to appear.
type ContextTree struct {
	ctx    context.Context
	logger *log.Logger

	mu       sync.RWMutex
	contexts map[cdp.FrameID]*BrowsingContext
	order    []cdp.FrameID // registration order, for deterministic enumeration
	waiters  map[cdp.FrameID][]chan *BrowsingContext

	// Set by the bridge before any target attaches. onDestroyed receives
	// the context's ancestor chain as it was before removal, since the
	// tree can no longer provide it afterwards.
	onCreated   func(*BrowsingContext)
	onDestroyed func(*BrowsingContext, []cdp.FrameID)
}

// NewContextTree creates an empty context tree.
func NewContextTree(ctx context.Context, logger *log.Logger) *ContextTree {
	return &ContextTree{
		ctx:      ctx,
		logger:   logger,
		contexts: make(map[cdp.FrameID]*BrowsingContext),
		waiters:  make(map[cdp.FrameID][]chan *BrowsingContext),
	}
}

// AddContext registers a new browsing context, links it under its parent
// when the parent is already known, wakes any WaitForContext callers and
// fires the creation hook.
func (t *ContextTree) AddContext(bc *BrowsingContext) {
	t.logger.Debugf("ContextTree:AddContext", "cid:%v pid:%v", bc.id, bc.parentID)

	t.mu.Lock()
	if _, ok := t.contexts[bc.id]; ok {
		t.mu.Unlock()
		return
	}
	t.contexts[bc.id] = bc
	t.order = append(t.order, bc.id)
	if bc.parentID != "" {
		if parent, ok := t.contexts[bc.parentID]; ok {
			parent.children = append(parent.children, bc.id)
		}
	}
	waiters := t.waiters[bc.id]
	delete(t.waiters, bc.id)
	onCreated := t.onCreated
	t.mu.Unlock()

	for _, w := range waiters {
		w <- bc
	}
	if onCreated != nil {
		onCreated(bc)
	}
}

// SetParent backfills a previously unknown parent link. Used when frame
// tree restoration discovers the parent of an already registered context.
func (t *ContextTree) SetParent(id, parentID cdp.FrameID) {
	t.logger.Debugf("ContextTree:SetParent", "cid:%v pid:%v", id, parentID)

	t.mu.Lock()
	defer t.mu.Unlock()
	bc, ok := t.contexts[id]
	if !ok || bc.parentID != "" {
		return
	}
	parent, ok := t.contexts[parentID]
	if !ok {
		return
	}
	bc.parentID = parentID
	parent.children = append(parent.children, id)
}

// RemoveContext unregisters a context and all of its descendants,
// children first. The destruction hook fires once per removed context.
func (t *ContextTree) RemoveContext(id cdp.FrameID) {
	t.logger.Debugf("ContextTree:RemoveContext", "cid:%v", id)

	t.mu.Lock()
	bc, ok := t.contexts[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	// Ancestor chains are captured while the subtree is still linked, so
	// the destruction hook can bubble to ancestors' subscribers.
	removed := t.removeRecursively(bc)
	if bc.parentID != "" {
		if parent, ok := t.contexts[bc.parentID]; ok {
			parent.children = deleteID(parent.children, id)
		}
	}
	onDestroyed := t.onDestroyed
	t.mu.Unlock()

	if onDestroyed != nil {
		for _, r := range removed {
			onDestroyed(r.bc, r.chain)
		}
	}
}

type removedContext struct {
	bc    *BrowsingContext
	chain []cdp.FrameID
}

// removeRecursively removes bc's subtree from the registry and returns the
// removed contexts with their pre-removal ancestor chains, deepest first.
// Caller must hold t.mu.
func (t *ContextTree) removeRecursively(bc *BrowsingContext) []removedContext {
	var removed []removedContext
	for _, cid := range bc.children {
		if child, ok := t.contexts[cid]; ok {
			removed = append(removed, t.removeRecursively(child)...)
		}
	}
	removed = append(removed, removedContext{bc, t.ancestorsLocked(bc.id)})
	delete(t.contexts, bc.id)
	t.order = deleteID(t.order, bc.id)
	return removed
}

// Get returns the context with the given id.
func (t *ContextTree) Get(id cdp.FrameID) (*BrowsingContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bc, ok := t.contexts[id]
	return bc, ok
}

// TopLevels returns all top-level contexts in registration order.
func (t *ContextTree) TopLevels() []*BrowsingContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var tops []*BrowsingContext
	for _, id := range t.order {
		if bc := t.contexts[id]; bc != nil && bc.IsTopLevel() {
			tops = append(tops, bc)
		}
	}
	return tops
}

// TopLevelAncestor walks up the parent chain from id and returns the
// owning top-level context.
func (t *ContextTree) TopLevelAncestor(id cdp.FrameID) (*BrowsingContext, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bc, ok := t.contexts[id]
	for ok && bc.parentID != "" {
		bc, ok = t.contexts[bc.parentID]
	}
	return bc, ok
}

// ancestors returns id and every live ancestor of id, nearest first.
func (t *ContextTree) ancestors(id cdp.FrameID) []cdp.FrameID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorsLocked(id)
}

// ancestorsLocked is ancestors with t.mu already held.
func (t *ContextTree) ancestorsLocked(id cdp.FrameID) []cdp.FrameID {
	var chain []cdp.FrameID
	bc, ok := t.contexts[id]
	for ok {
		chain = append(chain, bc.id)
		if bc.parentID == "" {
			break
		}
		bc, ok = t.contexts[bc.parentID]
	}
	return chain
}

// descendants returns id and every context below it, parents before
// children.
func (t *ContextTree) descendants(id cdp.FrameID) []*BrowsingContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bc, ok := t.contexts[id]
	if !ok {
		return nil
	}
	return t.collect(bc)
}

func (t *ContextTree) collect(bc *BrowsingContext) []*BrowsingContext {
	out := []*BrowsingContext{bc}
	for _, cid := range bc.children {
		if child, ok := t.contexts[cid]; ok {
			out = append(out, t.collect(child)...)
		}
	}
	return out
}

// GetTree serializes the current tree state. With a root it returns that
// single subtree; without one it returns every top-level context. maxDepth
// limits recursion, nil meaning unbounded. It is a pure function of the
// tree state at call time.
func (t *ContextTree) GetTree(root *cdp.FrameID, maxDepth *int64) ([]*ContextInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	depth := int64(-1)
	if maxDepth != nil {
		depth = *maxDepth
	}

	if root != nil {
		bc, ok := t.contexts[*root]
		if !ok {
			return nil, bidiError(ErrorCodeNoSuchFrame, "context %q not found", *root)
		}
		return []*ContextInfo{t.serialize(bc, depth)}, nil
	}

	infos := make([]*ContextInfo, 0)
	for _, id := range t.order {
		if bc := t.contexts[id]; bc != nil && bc.IsTopLevel() {
			infos = append(infos, t.serialize(bc, depth))
		}
	}
	return infos, nil
}

// Serialize returns the wire form of a single context without children.
func (t *ContextTree) Serialize(bc *BrowsingContext) *ContextInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.serialize(bc, 0)
}

// serialize renders bc down to depth levels of children (negative means
// unbounded). Caller must hold t.mu.
func (t *ContextTree) serialize(bc *BrowsingContext, depth int64) *ContextInfo {
	info := &ContextInfo{
		Context:     string(bc.id),
		URL:         bc.url,
		UserContext: bc.UserContext(),
	}
	if bc.parentID != "" {
		p := string(bc.parentID)
		info.Parent = &p
	}
	if depth == 0 {
		return info
	}
	info.Children = make([]*ContextInfo, 0, len(bc.children))
	for _, cid := range bc.children {
		if child, ok := t.contexts[cid]; ok {
			info.Children = append(info.Children, t.serialize(child, depth-1))
		}
	}
	return info
}

// WaitForContext resolves once a context with the given id is registered.
// Context registration is asynchronous relative to the command that
// triggered target creation, so "create" flows must wait here. No timeout
// is imposed; callers bring their own deadline via ctx.
func (t *ContextTree) WaitForContext(ctx context.Context, id cdp.FrameID) (*BrowsingContext, error) {
	t.mu.Lock()
	if bc, ok := t.contexts[id]; ok {
		t.mu.Unlock()
		return bc, nil
	}
	ch := make(chan *BrowsingContext, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	t.logger.Debugf("ContextTree:WaitForContext", "cid:%v waiting", id)
	select {
	case bc := <-ch:
		return bc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	}
}

// RestoreFrameTree folds a target's current frame tree snapshot into the
// registry. It runs on target unblock so that frames which already existed
// when the target attached (a reconnect to a live browser, say) become
// visible. For each frame either the context is already known, in which
// case only a missing parent link is backfilled, or it is new and hangs
// under a known parent. Top-level frames are created at target-attach
// time, before restoration runs, so only nested frames are created here.
func (t *ContextTree) RestoreFrameTree(tc *TargetController, tree *cdppage.FrameTree) {
	if tree == nil {
		return
	}
	frame := tree.Frame
	t.logger.Debugf("ContextTree:RestoreFrameTree",
		"tid:%v fid:%v pfid:%v", tc.targetID, frame.ID, frame.ParentID)

	if known, ok := t.Get(frame.ID); ok {
		if known.parentID == "" && frame.ParentID != "" {
			t.SetParent(frame.ID, frame.ParentID)
		}
	} else if frame.ParentID != "" {
		if parent, ok := t.Get(frame.ParentID); ok {
			t.AddContext(&BrowsingContext{
				id:          frame.ID,
				parentID:    frame.ParentID,
				userContext: parent.userContext,
				url:         frame.URL + frame.URLFragment,
				controller:  tc,
			})
		}
	}

	for _, child := range tree.ChildFrames {
		t.RestoreFrameTree(tc, child)
	}
}

// SetController re-owns a context to a new target controller. Happens
// when a frame swaps out of its parent's target into its own (OOPIF).
func (t *ContextTree) SetController(id cdp.FrameID, tc *TargetController) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bc, ok := t.contexts[id]; ok {
		bc.controller = tc
	}
}

// SetURL records the context's current document URL.
func (t *ContextTree) SetURL(id cdp.FrameID, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bc, ok := t.contexts[id]; ok {
		bc.url = url
	}
}

func deleteID(ids []cdp.FrameID, id cdp.FrameID) []cdp.FrameID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
