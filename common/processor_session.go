package common

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
)

type sessionStatusResult struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

func (b *Bridge) sessionStatus(context.Context, *ClientConn, *Command) (any, error) {
	// The bridge serves exactly one BiDi session per connection, so a
	// connected client can never start another.
	return &sessionStatusResult{Ready: false, Message: "already connected"}, nil
}

type sessionSubscriptionParams struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts"`
}

func (p *sessionSubscriptionParams) scopes() []cdp.FrameID {
	scopes := make([]cdp.FrameID, 0, len(p.Contexts))
	for _, c := range p.Contexts {
		scopes = append(scopes, cdp.FrameID(c))
	}
	return scopes
}

func (b *Bridge) sessionSubscribe(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params sessionSubscriptionParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	chref, err := cmd.channelRef()
	if err != nil {
		return nil, err
	}
	if err := b.subs.Subscribe(client, chref, params.Events, params.scopes()); err != nil {
		return nil, err
	}
	return nil, b.convergeSubscriptionState()
}

func (b *Bridge) sessionUnsubscribe(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params sessionSubscriptionParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if err := b.subs.Unsubscribe(client, params.Events, params.scopes()); err != nil {
		return nil, err
	}
	return nil, b.convergeSubscriptionState()
}

// convergeSubscriptionState re-derives subscription-driven per-target
// protocol state after the subscription set changed.
func (b *Bridge) convergeSubscriptionState() error {
	for _, tc := range b.Controllers() {
		if err := tc.toggleDeviceAccessIfNeeded(); err != nil {
			return err
		}
	}
	return nil
}
