package common

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
)

type scriptAddPreloadScriptParams struct {
	FunctionDeclaration string   `json:"functionDeclaration"`
	Contexts            []string `json:"contexts"`
	UserContexts        []string `json:"userContexts"`
	Sandbox             *string  `json:"sandbox"`
}

type scriptAddPreloadScriptResult struct {
	Script string `json:"script"`
}

func (b *Bridge) scriptAddPreloadScript(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params scriptAddPreloadScriptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.FunctionDeclaration == "" {
		return nil, invalidArgumentError("functionDeclaration must not be empty")
	}
	if len(params.Contexts) > 0 && len(params.UserContexts) > 0 {
		return nil, invalidArgumentError(
			"at most one of 'contexts' and 'userContexts' may be set")
	}

	script := &PreloadScript{
		FunctionDeclaration: params.FunctionDeclaration,
	}
	if params.Sandbox != nil {
		script.SandboxName = *params.Sandbox
	}
	if len(params.Contexts) > 0 {
		script.Contexts = make(map[cdp.FrameID]struct{}, len(params.Contexts))
		for _, c := range params.Contexts {
			bc, ok := b.tree.Get(cdp.FrameID(c))
			if !ok {
				return nil, bidiError(ErrorCodeNoSuchFrame, "context %q not found", c)
			}
			if !bc.IsTopLevel() {
				return nil, invalidArgumentError("context %q is not top-level", c)
			}
			script.Contexts[bc.id] = struct{}{}
		}
	}
	if len(params.UserContexts) > 0 {
		script.UserContexts = make(map[string]struct{}, len(params.UserContexts))
		for _, uc := range params.UserContexts {
			script.UserContexts[uc] = struct{}{}
		}
	}

	id, err := b.preloads.Add(ctx, script, b.Controllers())
	if err != nil {
		return nil, err
	}
	return &scriptAddPreloadScriptResult{Script: id}, nil
}

type scriptRemovePreloadScriptParams struct {
	Script string `json:"script"`
}

func (b *Bridge) scriptRemovePreloadScript(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params scriptRemovePreloadScriptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.Script == "" {
		return nil, invalidArgumentError("script must not be empty")
	}
	return nil, b.preloads.Remove(ctx, params.Script, b.controllersByTarget())
}

type scriptGetRealmsParams struct {
	Context *string `json:"context"`
	Type    *string `json:"type"`
}

type scriptGetRealmsResult struct {
	Realms []*RealmInfo `json:"realms"`
}

func (b *Bridge) scriptGetRealms(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params scriptGetRealmsParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	var filter map[string]struct{}
	if params.Context != nil {
		if _, ok := b.tree.Get(cdp.FrameID(*params.Context)); !ok {
			return nil, bidiError(ErrorCodeNoSuchFrame, "context %q not found", *params.Context)
		}
		filter = map[string]struct{}{*params.Context: {}}
	}

	infos := []*RealmInfo{}
	for _, r := range b.realms.RealmsIn(filter) {
		if params.Type != nil && string(r.Type) != *params.Type {
			continue
		}
		infos = append(infos, r.info())
	}
	return &scriptGetRealmsResult{Realms: infos}, nil
}
