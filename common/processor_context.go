package common

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
)

type contextGetTreeParams struct {
	MaxDepth *int64  `json:"maxDepth"`
	Root     *string `json:"root"`
}

type contextGetTreeResult struct {
	Contexts []*ContextInfo `json:"contexts"`
}

func (b *Bridge) contextGetTree(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextGetTreeParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	var root *cdp.FrameID
	if params.Root != nil {
		fid := cdp.FrameID(*params.Root)
		root = &fid
	}
	infos, err := b.tree.GetTree(root, params.MaxDepth)
	if err != nil {
		return nil, err
	}
	if infos == nil {
		infos = []*ContextInfo{}
	}
	return &contextGetTreeResult{Contexts: infos}, nil
}

type contextCreateParams struct {
	Type             string  `json:"type"`
	ReferenceContext *string `json:"referenceContext"`
	Background       bool    `json:"background"`
	UserContext      *string `json:"userContext"`
}

type contextCreateResult struct {
	Context string `json:"context"`
}

func (b *Bridge) contextCreate(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextCreateParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.Type != "tab" && params.Type != "window" {
		return nil, invalidArgumentError("type must be \"tab\" or \"window\", got %q", params.Type)
	}

	userContext := "default"
	switch {
	case params.UserContext != nil:
		userContext = *params.UserContext
	case params.ReferenceContext != nil:
		ref, ok := b.tree.Get(cdp.FrameID(*params.ReferenceContext))
		if !ok {
			return nil, bidiError(ErrorCodeNoSuchFrame,
				"reference context %q not found", *params.ReferenceContext)
		}
		userContext = ref.UserContext()
	}

	newWindow := params.Type == "window"
	if !newWindow && !b.userContextHasPages(userContext) {
		// A tab needs a window to open in. The first context of a user
		// context has none yet.
		newWindow = true
	}

	action := target.CreateTarget("about:blank")
	if userContext != "default" {
		action = action.WithBrowserContextID(cdp.BrowserContextID(userContext))
	}
	if newWindow {
		action = action.WithNewWindow(true)
	}
	if params.Background {
		action = action.WithBackground(true)
	}
	tid, err := action.Do(cdp.WithExecutor(ctx, b.conn))
	if err != nil {
		if isNoSuchBrowserContextError(err) {
			return nil, bidiError(ErrorCodeNoSuchUserContext,
				"user context %q not found", userContext)
		}
		return nil, fmt.Errorf("creating browsing context: %w", err)
	}

	// Registration happens on the attach notification, asynchronously to
	// the createTarget response.
	bc, err := b.tree.WaitForContext(ctx, cdp.FrameID(tid))
	if err != nil {
		return nil, err
	}
	if tc := bc.Controller(); tc != nil {
		if err := tc.WaitReady(ctx); err != nil {
			return nil, fmt.Errorf("waiting for created context %v: %w", tid, err)
		}
	}
	return &contextCreateResult{Context: string(tid)}, nil
}

func (b *Bridge) userContextHasPages(userContext string) bool {
	for _, bc := range b.tree.TopLevels() {
		if bc.UserContext() == userContext {
			return true
		}
	}
	return false
}

type contextCloseParams struct {
	Context string `json:"context"`
}

func (b *Bridge) contextClose(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextCloseParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, bc, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	if !bc.IsTopLevel() {
		return nil, invalidArgumentError("context %q is not top-level", params.Context)
	}

	if err := tc.Close(ctx); err != nil {
		return nil, fmt.Errorf("closing context %q: %w", params.Context, err)
	}
	return nil, nil
}

type contextActivateParams struct {
	Context string `json:"context"`
}

func (b *Bridge) contextActivate(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextActivateParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, bc, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	if !bc.IsTopLevel() {
		return nil, invalidArgumentError("context %q is not top-level", params.Context)
	}
	action := cdppage.BringToFront()
	if err := action.Do(cdp.WithExecutor(ctx, tc.session)); err != nil && !tc.isExpectedError(err) {
		return nil, fmt.Errorf("activating context %q: %w", params.Context, err)
	}
	return nil, nil
}

type contextNavigateParams struct {
	Context string `json:"context"`
	URL     string `json:"url"`
	Wait    string `json:"wait"`
}

type contextNavigateResult struct {
	Navigation *string `json:"navigation"`
	URL        string  `json:"url"`
}

func (b *Bridge) contextNavigate(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextNavigateParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, invalidArgumentError("url must not be empty")
	}
	readiness, err := parseReadiness(params.Wait)
	if err != nil {
		return nil, err
	}
	tc, bc, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}

	// Arm the lifecycle watcher before navigating so its events cannot be
	// missed.
	watch := newLifecycleWatcher(ctx, tc.session, bc.id, readiness)
	defer watch.cancel()

	_, loaderID, errorText, err := cdppage.Navigate(params.URL).
		WithFrameID(bc.id).
		Do(cdp.WithExecutor(ctx, tc.session))
	if err != nil {
		return nil, fmt.Errorf("navigating context %q: %w", params.Context, err)
	}
	if errorText != "" {
		return nil, bidiError(ErrorCodeUnknownError,
			"navigation to %q failed: %s", params.URL, errorText)
	}

	if err := watch.wait(loaderID); err != nil {
		return nil, err
	}

	navigation := string(loaderID)
	return &contextNavigateResult{Navigation: &navigation, URL: params.URL}, nil
}

type contextReloadParams struct {
	Context string `json:"context"`
	Wait    string `json:"wait"`
}

func (b *Bridge) contextReload(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextReloadParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	readiness, err := parseReadiness(params.Wait)
	if err != nil {
		return nil, err
	}
	tc, bc, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}

	watch := newLifecycleWatcher(ctx, tc.session, bc.id, readiness)
	defer watch.cancel()

	if err := cdppage.Reload().Do(cdp.WithExecutor(ctx, tc.session)); err != nil {
		return nil, fmt.Errorf("reloading context %q: %w", params.Context, err)
	}
	if err := watch.wait(""); err != nil {
		return nil, err
	}

	var url string
	if cur, ok := b.tree.Get(bc.id); ok {
		url = cur.url
	}
	return &contextNavigateResult{Navigation: nil, URL: url}, nil
}

type contextHandleUserPromptParams struct {
	Context  string  `json:"context"`
	Accept   *bool   `json:"accept"`
	UserText *string `json:"userText"`
}

func (b *Bridge) contextHandleUserPrompt(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params contextHandleUserPromptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, _, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	accept := true
	if params.Accept != nil {
		accept = *params.Accept
	}
	return nil, tc.HandleUserPrompt(ctx, accept, params.UserText)
}
