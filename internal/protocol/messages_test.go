package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_hall message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinHall(t *testing.T) {
	input := []byte(`{"type":"join_hall","hallId":7,"userId":42,"nickname":"mina","x":1500,"y":1000,"charIndex":3}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinHall {
		t.Fatalf("expected type %q, got %q", TypeJoinHall, msgType)
	}

	jm, ok := msg.(JoinHallMsg)
	if !ok {
		t.Fatalf("expected JoinHallMsg, got %T", msg)
	}
	if jm.HallID != 7 {
		t.Errorf("expected hallId 7, got %d", jm.HallID)
	}
	if jm.UserID != 42 {
		t.Errorf("expected userId 42, got %d", jm.UserID)
	}
	if jm.Nickname != "mina" {
		t.Errorf("expected nickname %q, got %q", "mina", jm.Nickname)
	}
	if jm.X != 1500 || jm.Y != 1000 {
		t.Errorf("expected position (1500,1000), got (%v,%v)", jm.X, jm.Y)
	}
	if jm.CharIndex != 3 {
		t.Errorf("expected charIndex 3, got %d", jm.CharIndex)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a position update
// ---------------------------------------------------------------------------

func TestParseClientMessage_Position(t *testing.T) {
	input := []byte(`{"type":"position","hallId":7,"userId":42,"nickname":"mina","x":100.5,"y":50.25,"charIndex":3}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePosition {
		t.Fatalf("expected type %q, got %q", TypePosition, msgType)
	}

	pm, ok := msg.(PositionMsg)
	if !ok {
		t.Fatalf("expected PositionMsg, got %T", msg)
	}
	if pm.X != 100.5 || pm.Y != 50.25 {
		t.Errorf("expected position (100.5,50.25), got (%v,%v)", pm.X, pm.Y)
	}
	if pm.HallID != 7 || pm.UserID != 42 {
		t.Errorf("expected hallId 7 userId 42, got hallId %d userId %d", pm.HallID, pm.UserID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a hall chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_HallChat(t *testing.T) {
	input := []byte(`{"type":"hall_chat","hallId":7,"userId":42,"nickname":"mina","message":"hello hall"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeHallChat {
		t.Fatalf("expected type %q, got %q", TypeHallChat, msgType)
	}

	cm, ok := msg.(HallChatMsg)
	if !ok {
		t.Fatalf("expected HallChatMsg, got %T", msg)
	}
	if cm.Message != "hello hall" {
		t.Errorf("expected message %q, got %q", "hello hall", cm.Message)
	}
	if cm.HallID != 7 {
		t.Errorf("expected hallId 7, got %d", cm.HallID)
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases — malformed JSON, missing type, unknown type
// ---------------------------------------------------------------------------

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"x":1,"y":2}`))
	if err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"teleport","x":1}`))
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "teleport" {
		t.Errorf("expected returned type %q, got %q", "teleport", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg for unknown type, got %T", msg)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"session_created","session_id":"abc"}`))
	if err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Building a relayed player message
// ---------------------------------------------------------------------------

func TestNewServerMessage_Player(t *testing.T) {
	payload := PlayerMsg{
		Event: PlayerEvent{
			UserID:    5,
			Nickname:  "joon",
			X:         10,
			Y:         20,
			CharIndex: 1,
			HallID:    7,
			Type:      EventUpdate,
		},
	}

	data, err := NewServerMessage(TypePlayer, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypePlayer {
		t.Errorf("expected envelope type %q, got %v", TypePlayer, result["type"])
	}

	event, ok := result["event"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected event to be an object, got %T", result["event"])
	}
	if event["userId"] != float64(5) {
		t.Errorf("expected userId 5, got %v", event["userId"])
	}
	if event["type"] != EventUpdate {
		t.Errorf("expected event type %q, got %v", EventUpdate, event["type"])
	}
	if event["hallId"] != float64(7) {
		t.Errorf("expected hallId 7, got %v", event["hallId"])
	}
}

// ---------------------------------------------------------------------------
// Test: PlayerEvent wire field names
// ---------------------------------------------------------------------------

func TestPlayerEvent_WireFormat(t *testing.T) {
	event := PlayerEvent{
		UserID:    42,
		Nickname:  "mina",
		X:         100,
		Y:         50,
		CharIndex: 2,
		HallID:    7,
		Type:      EventJoin,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, field := range []string{"userId", "nickname", "x", "y", "charIndex", "hallId", "type"} {
		if _, ok := m[field]; !ok {
			t.Errorf("expected field %q in wire format, got keys %v", field, m)
		}
	}
	// Timestamp is omitted until the relay stamps it.
	if _, ok := m["timestamp"]; ok {
		t.Error("expected timestamp to be omitted when zero")
	}
}

// ---------------------------------------------------------------------------
// Test: Guest identities use non-positive user IDs
// ---------------------------------------------------------------------------

func TestPlayerEvent_GuestUserID(t *testing.T) {
	input := []byte(`{"userId":-1,"nickname":"guest","x":0,"y":0,"charIndex":0,"hallId":3,"type":"JOIN"}`)

	var event PlayerEvent
	if err := json.Unmarshal(input, &event); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if event.UserID != -1 {
		t.Errorf("expected guest userId -1, got %d", event.UserID)
	}
}

// ---------------------------------------------------------------------------
// Test: HallChatEvent wire field names
// ---------------------------------------------------------------------------

func TestHallChatEvent_WireFormat(t *testing.T) {
	event := HallChatEvent{
		HallID:   7,
		UserID:   42,
		Nickname: "mina",
		Message:  "hello",
		Type:     EventChat,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, field := range []string{"hallId", "userId", "nickname", "message", "type"} {
		if _, ok := m[field]; !ok {
			t.Errorf("expected field %q in wire format, got keys %v", field, m)
		}
	}
	if m["type"] != EventChat {
		t.Errorf("expected type %q, got %v", EventChat, m["type"])
	}
}
