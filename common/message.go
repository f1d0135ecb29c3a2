package common

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"
)

// Command is a parsed WebDriver BiDi command as received from a client.
type Command struct {
	ID          int64           `json:"id"`
	Method      string          `json:"method"`
	Params      json.RawMessage `json:"params"`
	Channel     string          `json:"channel,omitempty"`
	GoogChannel string          `json:"goog:channel,omitempty"`
}

// channelKind says which wire field carried the command's channel. The
// legacy "channel" field and the newer "goog:channel" field are both
// accepted; responses and events echo whichever one the client used.
type channelKind int

const (
	channelNone channelKind = iota
	channelLegacy
	channelGoog
)

// ChannelRef is a routing tag for responses and events of one logical
// sub-channel.
type ChannelRef struct {
	Kind  channelKind
	Value string
}

// channelRef validates and extracts the command's channel. An empty string
// is treated as "no channel"; setting both fields to non-empty values is a
// validation error.
func (c *Command) channelRef() (ChannelRef, error) {
	if c.Channel != "" && c.GoogChannel != "" {
		return ChannelRef{}, invalidArgumentError(
			"at most one of 'channel' and 'goog:channel' may be set")
	}
	switch {
	case c.GoogChannel != "":
		return ChannelRef{Kind: channelGoog, Value: c.GoogChannel}, nil
	case c.Channel != "":
		return ChannelRef{Kind: channelLegacy, Value: c.Channel}, nil
	}
	return ChannelRef{}, nil
}

// apply copies the channel value into the matching pair of wire fields.
func (r ChannelRef) apply(legacy, goog *string) {
	switch r.Kind {
	case channelLegacy:
		*legacy = r.Value
	case channelGoog:
		*goog = r.Value
	}
}

// CommandResponse is the success response shape.
type CommandResponse struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	Result      any    `json:"result"`
	Channel     string `json:"channel,omitempty"`
	GoogChannel string `json:"goog:channel,omitempty"`
}

// ErrorResponse is the error response shape. ID is null when the failure
// happened before a command id could be parsed.
type ErrorResponse struct {
	Type        string    `json:"type"`
	ID          null.Int  `json:"id"`
	Error       ErrorCode `json:"error"`
	Message     string    `json:"message"`
	Channel     string    `json:"channel,omitempty"`
	GoogChannel string    `json:"goog:channel,omitempty"`
}

// EventMessage is the event shape pushed to subscribed clients.
type EventMessage struct {
	Type        string `json:"type"`
	Method      string `json:"method"`
	Params      any    `json:"params"`
	Channel     string `json:"channel,omitempty"`
	GoogChannel string `json:"goog:channel,omitempty"`
}

func newCommandResponse(cmd *Command, chref ChannelRef, result any) *CommandResponse {
	if result == nil {
		result = struct{}{}
	}
	r := &CommandResponse{Type: "success", ID: cmd.ID, Result: result}
	chref.apply(&r.Channel, &r.GoogChannel)
	return r
}

func newErrorResponse(id null.Int, chref ChannelRef, err error) *ErrorResponse {
	berr := asBidiError(err)
	r := &ErrorResponse{Type: "error", ID: id, Error: berr.Code, Message: berr.Message}
	chref.apply(&r.Channel, &r.GoogChannel)
	return r
}

func newEventMessage(method string, params any, chref ChannelRef) *EventMessage {
	m := &EventMessage{Type: "event", Method: method, Params: params}
	chref.apply(&m.Channel, &m.GoogChannel)
	return m
}

// parseCommand validates the raw bytes of an incoming message and decodes
// them into a Command. The returned null.Int carries the command id when
// one could be extracted, even if validation failed, so the error response
// can reference it.
func parseCommand(buf []byte) (*Command, null.Int, error) {
	if !gjson.ValidBytes(buf) {
		return nil, null.Int{}, invalidArgumentError("cannot parse data as JSON")
	}
	var id null.Int
	idField := gjson.GetBytes(buf, "id")
	switch {
	case !idField.Exists():
		return nil, id, invalidArgumentError("command is missing 'id'")
	case idField.Type != gjson.Number || idField.Num < 0 || idField.Num != float64(idField.Int()):
		return nil, id, invalidArgumentError("command 'id' must be a non-negative integer")
	}
	id = null.IntFrom(idField.Int())

	method := gjson.GetBytes(buf, "method")
	if !method.Exists() || method.Type != gjson.String || method.Str == "" {
		return nil, id, invalidArgumentError("command is missing 'method'")
	}

	var cmd Command
	if err := json.Unmarshal(buf, &cmd); err != nil {
		return nil, id, invalidArgumentError("malformed command: %v", err)
	}
	return &cmd, id, nil
}
