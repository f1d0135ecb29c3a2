package common

import (
	"context"
	"encoding/json"
)

// commandHandler processes one parsed client command and returns the
// result payload for the success response.
type commandHandler func(ctx context.Context, client *ClientConn, cmd *Command) (any, error)

func (b *Bridge) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		"session.status":      b.sessionStatus,
		"session.subscribe":   b.sessionSubscribe,
		"session.unsubscribe": b.sessionUnsubscribe,

		"browsingContext.getTree":          b.contextGetTree,
		"browsingContext.create":           b.contextCreate,
		"browsingContext.close":            b.contextClose,
		"browsingContext.activate":         b.contextActivate,
		"browsingContext.navigate":         b.contextNavigate,
		"browsingContext.reload":           b.contextReload,
		"browsingContext.handleUserPrompt": b.contextHandleUserPrompt,

		"script.addPreloadScript":    b.scriptAddPreloadScript,
		"script.removePreloadScript": b.scriptRemovePreloadScript,
		"script.getRealms":           b.scriptGetRealms,

		"network.addIntercept":     b.networkAddIntercept,
		"network.removeIntercept":  b.networkRemoveIntercept,
		"network.continueRequest":  b.networkContinueRequest,
		"network.continueResponse": b.networkContinueResponse,
		"network.continueWithAuth": b.networkContinueWithAuth,
		"network.failRequest":      b.networkFailRequest,

		"bluetooth.simulateAdapter":                b.bluetoothSimulateAdapter,
		"bluetooth.simulatePreconnectedPeripheral": b.bluetoothSimulatePreconnectedPeripheral,
		"bluetooth.simulateAdvertisement":          b.bluetoothSimulateAdvertisement,
		"bluetooth.handleRequestDevicePrompt":      b.bluetoothHandleRequestDevicePrompt,
	}
}

// decodeParams unmarshals command params into the given struct. A missing
// params object decodes into the zero value.
func decodeParams(cmd *Command, into any) error {
	if len(cmd.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Params, into); err != nil {
		return invalidArgumentError("malformed params for %q: %v", cmd.Method, err)
	}
	return nil
}
