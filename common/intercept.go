package common

import (
	"sync"

	"bidibridge/log"

	"github.com/chromedp/cdproto/cdp"
)

// InterceptPhase is one phase of a network exchange a client can ask to
// pause and control.
type InterceptPhase string

const (
	InterceptPhaseBeforeRequestSent InterceptPhase = "beforeRequestSent"
	InterceptPhaseResponseStarted   InterceptPhase = "responseStarted"
	InterceptPhaseAuthRequired      InterceptPhase = "authRequired"
)

func (p InterceptPhase) valid() bool {
	switch p {
	case InterceptPhaseBeforeRequestSent, InterceptPhaseResponseStarted, InterceptPhaseAuthRequired:
		return true
	}
	return false
}

// fetchStages is the desired request-interception configuration of one
// target. The zero value means interception off.
type fetchStages struct {
	Request  bool
	Response bool
	Auth     bool
}

func (s fetchStages) any() bool {
	return s.Request || s.Response || s.Auth
}

// Intercept is one active network interception declared by a client.
type Intercept struct {
	ID          string
	Phases      []InterceptPhase
	URLPatterns []string
	// Top-level contexts the intercept is limited to; empty means all.
	Contexts map[cdp.FrameID]struct{}
}

func (i *Intercept) covers(topLevel cdp.FrameID) bool {
	if len(i.Contexts) == 0 {
		return true
	}
	_, ok := i.Contexts[topLevel]
	return ok
}

func (i *Intercept) stages() (s fetchStages) {
	for _, p := range i.Phases {
		switch p {
		case InterceptPhaseBeforeRequestSent:
			s.Request = true
		case InterceptPhaseResponseStarted:
			s.Response = true
		case InterceptPhaseAuthRequired:
			s.Auth = true
		}
	}
	return s
}

// InterceptRegistry tracks active network interceptions across targets.
type InterceptRegistry struct {
	logger *log.Logger

	mu         sync.RWMutex
	intercepts map[string]*Intercept
}

// NewInterceptRegistry creates an empty intercept registry.
func NewInterceptRegistry(logger *log.Logger) *InterceptRegistry {
	return &InterceptRegistry{
		logger:     logger,
		intercepts: make(map[string]*Intercept),
	}
}

// Add registers an intercept and returns its fresh id.
func (r *InterceptRegistry) Add(in *Intercept) string {
	in.ID = newID("intercept")
	r.mu.Lock()
	r.intercepts[in.ID] = in
	r.mu.Unlock()
	r.logger.Debugf("InterceptRegistry:Add", "intercept:%s phases:%v", in.ID, in.Phases)
	return in.ID
}

// Remove deletes an intercept.
func (r *InterceptRegistry) Remove(id string) (*Intercept, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.intercepts[id]
	if !ok {
		return nil, bidiError(ErrorCodeNoSuchIntercept, "intercept %q not found", id)
	}
	delete(r.intercepts, id)
	return in, nil
}

// DesiredStages returns the union of interception stages requested for a
// target's top-level context across all active intercepts.
func (r *InterceptRegistry) DesiredStages(topLevel cdp.FrameID) (s fetchStages) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.intercepts {
		if !in.covers(topLevel) {
			continue
		}
		st := in.stages()
		s.Request = s.Request || st.Request
		s.Response = s.Response || st.Response
		s.Auth = s.Auth || st.Auth
	}
	return s
}

// AffectedControllers returns the controllers whose top-level context is
// covered by the intercept.
func (r *InterceptRegistry) AffectedControllers(
	in *Intercept, controllers []*TargetController,
) []*TargetController {
	var out []*TargetController
	for _, tc := range controllers {
		if in.covers(cdp.FrameID(tc.targetID)) {
			out = append(out, tc)
		}
	}
	return out
}
