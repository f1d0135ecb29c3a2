package common

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
)

type networkAddInterceptParams struct {
	Phases      []string `json:"phases"`
	Contexts    []string `json:"contexts"`
	URLPatterns []string `json:"urlPatterns"`
}

type networkAddInterceptResult struct {
	Intercept string `json:"intercept"`
}

func (b *Bridge) networkAddIntercept(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkAddInterceptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if len(params.Phases) == 0 {
		return nil, invalidArgumentError("phases must not be empty")
	}
	phases := make([]InterceptPhase, 0, len(params.Phases))
	for _, p := range params.Phases {
		phase := InterceptPhase(p)
		if !phase.valid() {
			return nil, invalidArgumentError("unknown intercept phase %q", p)
		}
		phases = append(phases, phase)
	}

	in := &Intercept{Phases: phases, URLPatterns: params.URLPatterns}
	if len(params.Contexts) > 0 {
		in.Contexts = make(map[cdp.FrameID]struct{}, len(params.Contexts))
		for _, c := range params.Contexts {
			bc, ok := b.tree.Get(cdp.FrameID(c))
			if !ok {
				return nil, bidiError(ErrorCodeNoSuchFrame, "context %q not found", c)
			}
			if !bc.IsTopLevel() {
				return nil, invalidArgumentError("context %q is not top-level", c)
			}
			in.Contexts[bc.id] = struct{}{}
		}
	}

	id := b.intercepts.Add(in)
	if err := b.convergeInterception(in); err != nil {
		return nil, err
	}
	return &networkAddInterceptResult{Intercept: id}, nil
}

type networkRemoveInterceptParams struct {
	Intercept string `json:"intercept"`
}

func (b *Bridge) networkRemoveIntercept(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkRemoveInterceptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	in, err := b.intercepts.Remove(params.Intercept)
	if err != nil {
		return nil, err
	}
	return nil, b.convergeInterception(in)
}

// convergeInterception re-derives the Fetch configuration of every target
// the intercept covers.
func (b *Bridge) convergeInterception(in *Intercept) error {
	for _, tc := range b.intercepts.AffectedControllers(in, b.Controllers()) {
		if err := tc.toggleFetchIfNeeded(); err != nil {
			return err
		}
	}
	return nil
}

// blockedOwner finds the controller holding the blocked request.
func (b *Bridge) blockedOwner(id network.RequestID) (*TargetController, error) {
	for _, tc := range b.Controllers() {
		if tc.hasBlocked(id) {
			return tc, nil
		}
	}
	return nil, bidiError(ErrorCodeNoSuchRequest, "no blocked request %q", id)
}

type networkRequestParams struct {
	Request string `json:"request"`
}

func (b *Bridge) networkContinueRequest(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkRequestParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, err := b.blockedOwner(network.RequestID(params.Request))
	if err != nil {
		return nil, err
	}
	return nil, tc.ContinueBlockedRequest(ctx,
		network.RequestID(params.Request), InterceptPhaseBeforeRequestSent)
}

func (b *Bridge) networkContinueResponse(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkRequestParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, err := b.blockedOwner(network.RequestID(params.Request))
	if err != nil {
		return nil, err
	}
	return nil, tc.ContinueBlockedRequest(ctx,
		network.RequestID(params.Request), InterceptPhaseResponseStarted)
}

func (b *Bridge) networkFailRequest(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkRequestParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	tc, err := b.blockedOwner(network.RequestID(params.Request))
	if err != nil {
		return nil, err
	}
	return nil, tc.FailBlockedRequest(ctx, network.RequestID(params.Request))
}

type networkContinueWithAuthParams struct {
	Request     string `json:"request"`
	Action      string `json:"action"`
	Credentials *struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"credentials"`
}

func (b *Bridge) networkContinueWithAuth(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params networkContinueWithAuthParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}

	response := &fetch.AuthChallengeResponse{}
	switch params.Action {
	case "provideCredentials":
		if params.Credentials == nil {
			return nil, invalidArgumentError(
				"credentials are required for action %q", params.Action)
		}
		response.Response = fetch.AuthChallengeResponseResponseProvideCredentials
		response.Username = params.Credentials.Username
		response.Password = params.Credentials.Password
	case "default":
		response.Response = fetch.AuthChallengeResponseResponseDefault
	case "cancel":
		response.Response = fetch.AuthChallengeResponseResponseCancelAuth
	default:
		return nil, invalidArgumentError("unknown auth action %q", params.Action)
	}

	tc, err := b.blockedOwner(network.RequestID(params.Request))
	if err != nil {
		return nil, err
	}
	return nil, tc.ContinueWithAuth(ctx, network.RequestID(params.Request), response)
}
