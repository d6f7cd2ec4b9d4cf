// Package protocol defines the WebSocket message types and structures used for
// communication between exhibition clients and the relay server, plus the
// event bodies fanned out over the hall and booth pub/sub subjects. All
// messages are serialized as JSON and follow a consistent envelope format with
// a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinHall   = "join_hall"
	TypePosition   = "position"
	TypeLeaveHall  = "leave_hall"
	TypeHallChat   = "hall_chat"
	TypeJoinBooth  = "join_booth"
	TypeBoothChat  = "booth_chat"
	TypeLeaveBooth = "leave_booth"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypePlayer         = "player"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Event kinds carried inside presence and chat event bodies. These are the
// values of the body-level "type" field, distinct from the envelope type.
const (
	EventJoin   = "JOIN"
	EventUpdate = "UPDATE"
	EventLeave  = "LEAVE"
	EventChat   = "CHAT"
)

// ---------------------------------------------------------------------------
// Pub/sub event bodies
// ---------------------------------------------------------------------------

// PlayerEvent is the presence event body published on the hall.<hallId>
// subject and relayed verbatim to every hall subscriber. Only the most recent
// UPDATE per user is meaningful; consumers drop events carrying their own
// userId. A non-positive UserID denotes an anonymous guest.
type PlayerEvent struct {
	UserID    int64   `json:"userId"`
	Nickname  string  `json:"nickname"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CharIndex int     `json:"charIndex"`
	HallID    int64   `json:"hallId"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix millis, stamped by the relay
	Type      string  `json:"type"`                // JOIN | UPDATE | LEAVE
}

// HallChatEvent is the chat event body published on hall.chat.<hallId>.
type HallChatEvent struct {
	HallID    int64  `json:"hallId"`
	UserID    int64  `json:"userId"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Type      string `json:"type"` // CHAT
}

// BoothChatEvent is the chat event body published on booth.<boothId>. Booth
// chat follows the same relay pattern as hall chat but is scoped by booth and
// additionally carries JOIN announcements.
type BoothChatEvent struct {
	BoothID   int64  `json:"boothId"`
	UserID    int64  `json:"userId"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Type      string `json:"type"` // CHAT | JOIN
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
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

// JoinHallMsg declares the hall session: the client's identity, avatar
// variant, and spawn position. Identity is immutable for the session.
type JoinHallMsg struct {
	Type      string  `json:"type"`
	HallID    int64   `json:"hallId"`
	UserID    int64   `json:"userId"`
	Nickname  string  `json:"nickname"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CharIndex int     `json:"charIndex"`
}

// PositionMsg reports the client's current position. It carries the full
// presence body so the relay can treat an UPDATE that arrives before the
// JOIN as an implicit join rather than discarding it.
type PositionMsg struct {
	Type      string  `json:"type"`
	HallID    int64   `json:"hallId"`
	UserID    int64   `json:"userId"`
	Nickname  string  `json:"nickname"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	CharIndex int     `json:"charIndex"`
}

// LeaveHallMsg ends the hall session.
type LeaveHallMsg struct {
	Type string `json:"type"`
}

// HallChatMsg is a chat message addressed to a hall room. It carries the
// sender identity alongside the text; the relay stamps the timestamp.
type HallChatMsg struct {
	Type     string `json:"type"`
	HallID   int64  `json:"hallId"`
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

// JoinBoothMsg subscribes the client to a booth chat room.
type JoinBoothMsg struct {
	Type     string `json:"type"`
	BoothID  int64  `json:"boothId"`
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
}

// BoothChatMsg is a chat message addressed to a booth room.
type BoothChatMsg struct {
	Type     string `json:"type"`
	BoothID  int64  `json:"boothId"`
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

// LeaveBoothMsg leaves the current booth chat room.
type LeaveBoothMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new connection is
// established and a session ID has been assigned.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PlayerMsg wraps a relayed presence event for delivery to a hall subscriber.
type PlayerMsg struct {
	Type  string      `json:"type"`
	Event PlayerEvent `json:"event"`
}

// ServerHallChatMsg wraps a relayed hall chat event.
type ServerHallChatMsg struct {
	Type  string        `json:"type"`
	Event HallChatEvent `json:"event"`
}

// ServerBoothChatMsg wraps a relayed booth chat event.
type ServerBoothChatMsg struct {
	Type  string         `json:"type"`
	Event BoothChatEvent `json:"event"`
}

// RateLimitedMsg is sent by the server when the client has exceeded a rate
// limit; RetryAfter is in seconds.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
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
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinHall:
		var m JoinHallMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePosition:
		var m PositionMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveHall:
		var m LeaveHallMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHallChat:
		var m HallChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinBooth:
		var m JoinBoothMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeBoothChat:
		var m BoothChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveBooth:
		var m LeaveBoothMsg
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
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
