package common

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidibridge/log"
)

func TestInterceptPhaseValid(t *testing.T) {
	t.Parallel()

	assert.True(t, InterceptPhaseBeforeRequestSent.valid())
	assert.True(t, InterceptPhaseResponseStarted.valid())
	assert.True(t, InterceptPhaseAuthRequired.valid())
	assert.False(t, InterceptPhase("afterResponse").valid())
	assert.False(t, InterceptPhase("").valid())
}

func TestInterceptCovers(t *testing.T) {
	t.Parallel()

	global := &Intercept{}
	assert.True(t, global.covers("anything"))

	scoped := &Intercept{Contexts: map[cdp.FrameID]struct{}{"topA": {}}}
	assert.True(t, scoped.covers("topA"))
	assert.False(t, scoped.covers("topB"))
}

func TestInterceptRegistryAddRemove(t *testing.T) {
	t.Parallel()

	reg := NewInterceptRegistry(log.NewNullLogger())
	id := reg.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseBeforeRequestSent}})
	require.NotEmpty(t, id)

	in, err := reg.Remove(id)
	require.NoError(t, err)
	assert.Equal(t, id, in.ID)

	_, err = reg.Remove(id)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchIntercept, asBidiError(err).Code)
}

func TestInterceptRegistryDesiredStages(t *testing.T) {
	t.Parallel()

	reg := NewInterceptRegistry(log.NewNullLogger())
	assert.False(t, reg.DesiredStages("topA").any())

	reg.Add(&Intercept{
		Phases:   []InterceptPhase{InterceptPhaseBeforeRequestSent},
		Contexts: map[cdp.FrameID]struct{}{"topA": {}},
	})
	reg.Add(&Intercept{
		Phases:   []InterceptPhase{InterceptPhaseResponseStarted, InterceptPhaseAuthRequired},
		Contexts: map[cdp.FrameID]struct{}{"topB": {}},
	})

	a := reg.DesiredStages("topA")
	assert.Equal(t, fetchStages{Request: true}, a)

	b := reg.DesiredStages("topB")
	assert.Equal(t, fetchStages{Response: true, Auth: true}, b)

	// A global intercept applies to every target.
	reg.Add(&Intercept{Phases: []InterceptPhase{InterceptPhaseResponseStarted}})
	assert.Equal(t, fetchStages{Request: true, Response: true}, reg.DesiredStages("topA"))
	assert.True(t, reg.DesiredStages("topC").Response)
}

func TestInterceptRegistryAffectedControllers(t *testing.T) {
	t.Parallel()

	reg := NewInterceptRegistry(log.NewNullLogger())
	tcA := &TargetController{targetID: "topA"}
	tcB := &TargetController{targetID: "topB"}
	all := []*TargetController{tcA, tcB}

	in := &Intercept{Contexts: map[cdp.FrameID]struct{}{"topA": {}}}
	affected := reg.AffectedControllers(in, all)
	require.Len(t, affected, 1)
	assert.Same(t, tcA, affected[0])

	affected = reg.AffectedControllers(&Intercept{}, all)
	assert.Len(t, affected, 2)
}
