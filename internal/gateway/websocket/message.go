// Package websocket provides WebSocket hub and client management for the
// control & streaming protocol (§6).
package websocket

import "encoding/json"

// Envelope is the transport-level shape of every message in both
// directions: a type tag plus an opaque payload the protocol dispatcher
// (internal/gateway/protocol) interprets. Keeping the transport layer
// ignorant of per-type fields is deliberate: the message catalogue is wide
// (15+ client→server types, a dozen server→client ones) and growing one
// flat struct with every type's fields would be unreadable.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastMessage wraps a raw outbound frame with its target subscription
// key, "" meaning every connected client.
type BroadcastMessage struct {
	Key  string
	Data []byte
}

// Built-in transport-level message types the Hub/Client handle directly,
// without involving the protocol dispatcher.
const (
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// errorPayload is the body of a transport-level "error" frame.
type errorPayload struct {
	Message string `json:"message"`
}
