// Package protocol defines the wire formats spoken by simrelay.
//
// Downstream clients exchange JSON envelopes with the relay, one text
// WebSocket message per envelope, discriminated by the "type" field.
// The simulation side is newline-delimited JSON over TCP; the relay
// never interprets those payloads, it only wraps or unwraps them.
package protocol

import "encoding/json"

// Envelope types.
const (
	TypeStatus      = "status"
	TypeTelemetry   = "telemetry"
	TypeGameCommand = "game_command"
)

// KeepAlive is the line the simulation sends to probe whether its peer
// is still reading. It is not a data frame.
const KeepAlive = "Client still there?"

// Status is sent by the relay to every client once, right after the
// client attaches.
type Status struct {
	Type string `json:"type"`

	// Connected reports whether the relay currently holds a live socket
	// to the simulation process.
	Connected bool `json:"connected"`
}

// NewStatus returns a status envelope.
func NewStatus(connected bool) Status {
	return Status{Type: TypeStatus, Connected: connected}
}

// Telemetry wraps one simulation frame. Data is the frame exactly as the
// simulation emitted it.
type Telemetry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewTelemetry returns a telemetry envelope around frame.
func NewTelemetry(frame json.RawMessage) Telemetry {
	return Telemetry{Type: TypeTelemetry, Data: frame}
}

// GameCommandEnvelope is sent by a client to have Command written to the
// simulation socket. Command is forwarded byte-for-byte.
type GameCommandEnvelope struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command,omitempty"`
}

// Inbound is the permissive shape used to decode any client message.
// Fields that do not apply to the message type are left empty.
type Inbound struct {
	Type      string          `json:"type"`
	Connected *bool           `json:"connected,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Command   json.RawMessage `json:"command,omitempty"`
}
