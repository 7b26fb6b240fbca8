// Package protocol defines the WebSocket message types exchanged between
// client and server. All messages are JSON with a consistent envelope
// carrying a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeMessage   = "message"
	TypeJoinRoom  = "join_room"
	TypeJoinPool  = "join_pool"
	TypeLeavePool = "leave_pool"
	TypePing      = "ping"
)

// Server -> Client message types.
const (
	TypeConnected    = "connected"
	TypeMessageEvent = "message_event"
	TypeRoomJoined   = "room_joined"
	TypeRoomEvent    = "room_event"
	TypePoolJoined   = "pool_joined"
	TypePoolLeft     = "pool_left"
	TypeError        = "error"
	TypePong         = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMessageMsg submits a message to a session the sender participates in.
type SendMessageMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Body      string `json:"body,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// JoinRoomMsg subscribes the connection to an additional broadcast room.
// The caller must hold authorization for the room.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// JoinPoolMsg opts the user into random matching with the given interests.
type JoinPoolMsg struct {
	Type      string   `json:"type"`
	Interests []string `json:"interests"`
}

// LeavePoolMsg opts the user out of random matching.
type LeavePoolMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg confirms a successful authenticated connect.
type ConnectedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// MessageEventMsg relays a stored session message to a participant.
type MessageEventMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Body      string `json:"body,omitempty"`
	MediaRef  string `json:"media_ref,omitempty"`
	Kind      string `json:"kind"`
	Seq       int64  `json:"seq"`
	Ts        int64  `json:"ts"`
}

// RoomJoinedMsg confirms a room subscription.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// RoomEventMsg relays a broadcast frame from a subscribed room.
type RoomEventMsg struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// PoolJoinedMsg confirms live pool membership.
type PoolJoinedMsg struct {
	Type      string   `json:"type"`
	Interests []string `json:"interests"`
}

// PoolLeftMsg confirms the user left the live pool.
type PoolLeftMsg struct {
	Type string `json:"type"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type, the decoded struct, and any decode error.
// Unknown and server-only types are errors.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinPool:
		var m JoinPoolMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeavePool:
		var m LeavePoolMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message,
// injecting msgType into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	return out, nil
}
