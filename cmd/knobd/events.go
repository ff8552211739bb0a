package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"knobd/rotary"
)

// ============================================================================
// Daemon events
// ============================================================================
// Events are everything the daemon loop consumes: value changes published by
// knob listeners, and requests from IPC and websocket clients. Requests carry
// a buffered reply channel; the daemon replies exactly once.
// ============================================================================

// Event is a marker interface for all daemon loop inputs.
type Event interface {
	eventMarker()
}

// KnobChanged is published by a knob's listener after an accepted change.
type KnobChanged struct {
	Knob  string
	Value int
	At    time.Time
}

func (KnobChanged) eventMarker() {}

// KnobReply answers a single-knob request.
type KnobReply struct {
	Info KnobInfo
	Err  error
}

// GetKnobValue asks for a knob's current value, configuration and counters.
type GetKnobValue struct {
	Knob  string
	Reply chan<- KnobReply
}

func (GetKnobValue) eventMarker() {}

// SetKnobValue re-seeds a knob without notifying its listeners.
type SetKnobValue struct {
	Knob  string
	Value int
	Reply chan<- KnobReply
}

func (SetKnobValue) eventMarker() {}

// ConfigureKnob applies a partial configuration to a knob.
type ConfigureKnob struct {
	Knob   string
	Update rotary.Update
	Reply  chan<- KnobReply
}

func (ConfigureKnob) eventMarker() {}

// RequestStateSnapshot asks for every knob, in configuration order.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// StateSnapshot is the daemon's view of all knobs at one instant.
type StateSnapshot struct {
	Knobs []KnobInfo
	At    time.Time
}

// KnobInfo is the externally visible state of one knob.
type KnobInfo struct {
	Name   string        `json:"name"`
	Source string        `json:"source"`
	Value  int           `json:"value"`
	Config rotary.Config `json:"config"`
	Stats  rotary.Stats  `json:"stats"`
}

var errUnknownKnob = errors.New("unknown knob")

// ============================================================================
// IPC requests (wire format)
// ============================================================================
// Requests are line-delimited JSON envelopes with a type discriminator:
//   {"type":"get_value","data":{"knob":"left"}}
//   {"type":"set_value","data":{"knob":"left","value":0}}
//   {"type":"configure","data":{"knob":"left","max":30,"range":"wrap"}}
//   {"type":"list"}
// ============================================================================

// Request is a marker interface for IPC request payloads.
type Request interface {
	requestMarker()
}

type GetValueRequest struct {
	Knob string `json:"knob"`
}

type SetValueRequest struct {
	Knob  string `json:"knob"`
	Value int    `json:"value"`
}

// ConfigureRequest carries the knob name plus any subset of the update
// fields; "value" re-seeds the knob as part of the same update.
type ConfigureRequest struct {
	Knob string `json:"knob"`
	rotary.Update
}

type ListRequest struct{}

func (GetValueRequest) requestMarker()  {}
func (SetValueRequest) requestMarker()  {}
func (ConfigureRequest) requestMarker() {}
func (ListRequest) requestMarker()      {}

// RequestEnvelope wraps a request with a type discriminator.
type RequestEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalRequest decodes one envelope into a concrete request.
func UnmarshalRequest(data []byte) (Request, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "get_value":
		var r GetValueRequest
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal GetValueRequest: %w", err)
		}
		return r, nil

	case "set_value":
		var r SetValueRequest
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal SetValueRequest: %w", err)
		}
		return r, nil

	case "configure":
		var r ConfigureRequest
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal ConfigureRequest: %w", err)
		}
		return r, nil

	case "list":
		return ListRequest{}, nil

	default:
		return nil, fmt.Errorf("unknown request type: %q", env.Type)
	}
}

// MarshalRequest encodes a request into its envelope.
func MarshalRequest(r Request) ([]byte, error) {
	var env RequestEnvelope

	switch r := r.(type) {
	case GetValueRequest:
		env.Type = "get_value"
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal GetValueRequest: %w", err)
		}
		env.Data = data

	case SetValueRequest:
		env.Type = "set_value"
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal SetValueRequest: %w", err)
		}
		env.Data = data

	case ConfigureRequest:
		env.Type = "configure"
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal ConfigureRequest: %w", err)
		}
		env.Data = data

	case ListRequest:
		env.Type = "list"

	default:
		return nil, fmt.Errorf("unsupported request type: %T", r)
	}

	return json.Marshal(env)
}

// requestType names a request for logs and metrics.
func requestType(r Request) string {
	switch r.(type) {
	case GetValueRequest:
		return "get_value"
	case SetValueRequest:
		return "set_value"
	case ConfigureRequest:
		return "configure"
	case ListRequest:
		return "list"
	default:
		return "unknown"
	}
}
