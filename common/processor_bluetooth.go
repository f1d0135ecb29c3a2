package common

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mailru/easyjson"
)

// The BluetoothEmulation domain has no typed bindings in the pinned
// protocol snapshot, so its commands go out as raw method strings.
const (
	methodSimulateCentral       = "BluetoothEmulation.simulateCentral"
	methodSimulatePreconnected  = "BluetoothEmulation.simulatePreconnectedPeripheral"
	methodSimulateAdvertisement = "BluetoothEmulation.simulateAdvertisement"
)

// executeRaw sends a CDP command by method name with JSON-marshaled
// params, discarding the result.
func (tc *TargetController) executeRaw(ctx context.Context, method string, params any) error {
	buf, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling %s params: %w", method, err)
	}
	raw := easyjson.RawMessage(buf)
	if err := tc.session.Execute(ctx, method, &raw, nil); err != nil && !tc.isExpectedError(err) {
		return fmt.Errorf("executing %s on target %v: %w", method, tc.targetID, err)
	}
	return nil
}

type bluetoothSimulateAdapterParams struct {
	Context     string `json:"context"`
	State       string `json:"state"`
	LESupported *bool  `json:"leSupported"`
}

func (b *Bridge) bluetoothSimulateAdapter(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params bluetoothSimulateAdapterParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	switch params.State {
	case "absent", "powered-off", "powered-on":
	default:
		return nil, invalidArgumentError("unknown adapter state %q", params.State)
	}
	tc, _, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	leSupported := true
	if params.LESupported != nil {
		leSupported = *params.LESupported
	}
	return nil, tc.executeRaw(ctx, methodSimulateCentral, map[string]any{
		"state":       params.State,
		"leSupported": leSupported,
	})
}

type bluetoothManufacturerData struct {
	Key  int64  `json:"key"`
	Data string `json:"data"`
}

type bluetoothSimulatePreconnectedPeripheralParams struct {
	Context           string                      `json:"context"`
	Address           string                      `json:"address"`
	Name              string                      `json:"name"`
	ManufacturerData  []bluetoothManufacturerData `json:"manufacturerData"`
	KnownServiceUUIDs []string                    `json:"knownServiceUuids"`
}

func (b *Bridge) bluetoothSimulatePreconnectedPeripheral(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params bluetoothSimulatePreconnectedPeripheralParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, invalidArgumentError("address must not be empty")
	}
	tc, _, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	return nil, tc.executeRaw(ctx, methodSimulatePreconnected, map[string]any{
		"address":           params.Address,
		"name":              params.Name,
		"manufacturerData":  params.ManufacturerData,
		"knownServiceUuids": params.KnownServiceUUIDs,
	})
}

type bluetoothScanEntry struct {
	DeviceAddress string          `json:"deviceAddress"`
	RSSI          int64           `json:"rssi"`
	ScanRecord    json.RawMessage `json:"scanRecord"`
}

type bluetoothSimulateAdvertisementParams struct {
	Context   string             `json:"context"`
	ScanEntry bluetoothScanEntry `json:"scanEntry"`
}

func (b *Bridge) bluetoothSimulateAdvertisement(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params bluetoothSimulateAdvertisementParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.ScanEntry.DeviceAddress == "" {
		return nil, invalidArgumentError("scanEntry.deviceAddress must not be empty")
	}
	tc, _, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	return nil, tc.executeRaw(ctx, methodSimulateAdvertisement, map[string]any{
		"entry": params.ScanEntry,
	})
}

type bluetoothHandlePromptParams struct {
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
	Accept  bool   `json:"accept"`
	Device  string `json:"device"`
}

func (b *Bridge) bluetoothHandleRequestDevicePrompt(ctx context.Context, client *ClientConn, cmd *Command) (any, error) {
	var params bluetoothHandlePromptParams
	if err := decodeParams(cmd, &params); err != nil {
		return nil, err
	}
	if params.Prompt == "" {
		return nil, invalidArgumentError("prompt must not be empty")
	}
	if params.Accept && params.Device == "" {
		return nil, invalidArgumentError("device is required when accepting a prompt")
	}
	tc, _, err := b.controllerFor(ctx, params.Context)
	if err != nil {
		return nil, err
	}
	return nil, tc.HandleDevicePrompt(ctx, params.Prompt, params.Accept, params.Device)
}
