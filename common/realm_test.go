package common

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidibridge/log"
)

func TestRealmRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRealmRegistry(log.NewNullLogger())
	var created, destroyed []string
	reg.onCreated = func(r *Realm) { created = append(created, r.ID) }
	reg.onDestroyed = func(r *Realm) { destroyed = append(destroyed, r.ID) }

	reg.Add(&Realm{Origin: "https://a.test", Type: RealmTypeWindow, Context: "top",
		sessionID: "S1", executionCtxID: 1})
	reg.Add(&Realm{Origin: "https://a.test", Type: RealmTypeDedicatedWorker,
		sessionID: "S2", executionCtxID: 1})
	require.Len(t, created, 2)

	all := reg.RealmsIn(nil)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, created, []string{all[0].ID, all[1].ID})

	scoped := reg.RealmsIn(map[string]struct{}{"top": {}})
	require.Len(t, scoped, 1)
	assert.Equal(t, RealmTypeWindow, scoped[0].Type)

	reg.RemoveByExecutionContext("S1", 1)
	assert.Equal(t, []string{created[0]}, destroyed)
	assert.Len(t, reg.RealmsIn(nil), 1)

	// Unknown coordinates are a no-op.
	reg.RemoveByExecutionContext("S1", 99)
	assert.Len(t, destroyed, 1)

	reg.RemoveBySession("S2")
	assert.Len(t, destroyed, 2)
	assert.Empty(t, reg.RealmsIn(nil))
}

func TestRealmInfoSerialization(t *testing.T) {
	t.Parallel()

	r := &Realm{ID: "realm-1", Origin: "https://a.test", Type: RealmTypeWindow, Context: "top"}
	info := r.info()
	assert.Equal(t, "realm-1", info.Realm)
	assert.Equal(t, RealmTypeWindow, info.Type)
	assert.Equal(t, "top", info.Context)
}

func TestPreloadScriptMatching(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)

	all := &PreloadScript{}
	assert.True(t, all.matchesController(f.tc))

	byContext := &PreloadScript{Contexts: map[cdp.FrameID]struct{}{"other": {}}}
	assert.False(t, byContext.matchesController(f.tc))
	byContext.Contexts = map[cdp.FrameID]struct{}{"top": {}}
	assert.True(t, byContext.matchesController(f.tc))

	byUserContext := &PreloadScript{UserContexts: map[string]struct{}{"uc1": {}}}
	assert.False(t, byUserContext.matchesController(f.tc))
	byUserContext.UserContexts = map[string]struct{}{"default": {}}
	assert.True(t, byUserContext.matchesController(f.tc))
}

func TestPreloadScriptInjection(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	reg := NewPreloadScriptRegistry(log.NewNullLogger())

	id, err := reg.Add(f.ctx, &PreloadScript{
		FunctionDeclaration: "() => { window.__ready = true; }",
	}, []*TargetController{f.tc})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, f.sess.callCount("Page.addScriptToEvaluateOnNewDocument"))

	// A fresh matching target picks the script up on unblock.
	g := newControllerFixture(t)
	require.NoError(t, reg.ApplyTo(g.ctx, g.tc))
	assert.Equal(t, 1, g.sess.callCount("Page.addScriptToEvaluateOnNewDocument"))

	controllers := map[target.ID]*TargetController{f.tc.TargetID(): f.tc}
	require.NoError(t, reg.Remove(f.ctx, id, controllers))
	assert.Equal(t, 1, f.sess.callCount("Page.removeScriptToEvaluateOnNewDocument"))

	err = reg.Remove(f.ctx, id, controllers)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeNoSuchScript, asBidiError(err).Code)
}

func TestPreloadScriptSandbox(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t)
	reg := NewPreloadScriptRegistry(log.NewNullLogger())
	_, err := reg.Add(f.ctx, &PreloadScript{
		FunctionDeclaration: "() => {}",
		SandboxName:         "probe",
	}, []*TargetController{f.tc})
	require.NoError(t, err)

	params, ok := f.sess.paramsFor("Page.addScriptToEvaluateOnNewDocument").(*cdppage.AddScriptToEvaluateOnNewDocumentParams)
	require.True(t, ok)
	assert.Equal(t, "(() => {})();", params.Source)
	assert.Equal(t, "probe", params.WorldName)
}
