package common

import (
	"github.com/chromedp/cdproto/cdp"
)

// BrowsingContext is one node in the tree of browsing contexts: a
// top-level page or a nested frame. A context is created when its owning
// target attaches (or when its frame is discovered inside an existing
// target) and destroyed when the target detaches or the frame goes away.
type BrowsingContext struct {
	id          cdp.FrameID
	parentID    cdp.FrameID // empty until the parent is known; empty forever for top-level
	userContext cdp.BrowserContextID
	url         string

	controller *TargetController

	children []cdp.FrameID // ordered
}

// ID returns the context's stable identifier.
func (bc *BrowsingContext) ID() cdp.FrameID { return bc.id }

// IsTopLevel returns true for contexts that own a whole target.
func (bc *BrowsingContext) IsTopLevel() bool { return bc.parentID == "" }

// UserContext returns the owning user context id ("default" if unset).
func (bc *BrowsingContext) UserContext() string {
	if bc.userContext == "" {
		return "default"
	}
	return string(bc.userContext)
}

// Controller returns the target controller owning this context's target.
func (bc *BrowsingContext) Controller() *TargetController { return bc.controller }

// ContextInfo is the wire serialization of a browsing context subtree.
type ContextInfo struct {
	Context     string         `json:"context"`
	URL         string         `json:"url"`
	UserContext string         `json:"userContext"`
	Parent      *string        `json:"parent,omitempty"`
	Children    []*ContextInfo `json:"children"`
}
