package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid group:send event
// ---------------------------------------------------------------------------

func TestParseClientEvent_GroupSend(t *testing.T) {
	input := []byte(`{"type":"group:send","sender_id":"u1","room_id":"r9","content":"hello room","temp_id":"tmp-abc"}`)

	evtType, evt, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evtType != TypeGroupSend {
		t.Fatalf("expected type %q, got %q", TypeGroupSend, evtType)
	}

	gs, ok := evt.(GroupSendEvent)
	if !ok {
		t.Fatalf("expected GroupSendEvent, got %T", evt)
	}
	if gs.SenderID != "u1" || gs.RoomID != "r9" {
		t.Errorf("unexpected ids: sender=%q room=%q", gs.SenderID, gs.RoomID)
	}
	if gs.TempID != "tmp-abc" {
		t.Errorf("expected temp_id %q, got %q", "tmp-abc", gs.TempID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid dm:send event
// ---------------------------------------------------------------------------

func TestParseClientEvent_DirectSend(t *testing.T) {
	input := []byte(`{"type":"dm:send","sender_id":"u1","recipient_id":"u2","content":"hi","temp_id":"t1"}`)

	evtType, evt, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evtType != TypeDirectSend {
		t.Fatalf("expected type %q, got %q", TypeDirectSend, evtType)
	}

	ds, ok := evt.(DirectSendEvent)
	if !ok {
		t.Fatalf("expected DirectSendEvent, got %T", evt)
	}
	if ds.RecipientID != "u2" {
		t.Errorf("expected recipient %q, got %q", "u2", ds.RecipientID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing reaction:toggle with a group message id
// ---------------------------------------------------------------------------

func TestParseClientEvent_ReactionToggle(t *testing.T) {
	input := []byte(`{"type":"reaction:toggle","user_id":"u1","emoji":"👍","group_message_id":7}`)

	evtType, evt, err := ParseClientEvent(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evtType != TypeReactionToggle {
		t.Fatalf("expected type %q, got %q", TypeReactionToggle, evtType)
	}

	rt, ok := evt.(ReactionToggleEvent)
	if !ok {
		t.Fatalf("expected ReactionToggleEvent, got %T", evt)
	}
	if rt.GroupMessageID != 7 {
		t.Errorf("expected group_message_id 7, got %d", rt.GroupMessageID)
	}
	if rt.DirectMessageID != 0 {
		t.Errorf("expected direct_message_id unset, got %d", rt.DirectMessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: typing:start and typing:stop decode to the same struct
// ---------------------------------------------------------------------------

func TestParseClientEvent_Typing(t *testing.T) {
	for _, typ := range []string{TypeTypingStart, TypeTypingStop} {
		input := []byte(`{"type":"` + typ + `","conversation_id":"r1","is_group":true,"sender_name":"Ada"}`)

		evtType, evt, err := ParseClientEvent(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if evtType != typ {
			t.Fatalf("expected type %q, got %q", typ, evtType)
		}

		te, ok := evt.(TypingEvent)
		if !ok {
			t.Fatalf("%s: expected TypingEvent, got %T", typ, evt)
		}
		if !te.IsGroup || te.ConversationID != "r1" || te.SenderName != "Ada" {
			t.Errorf("%s: unexpected fields: %+v", typ, te)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed events are rejected
// ---------------------------------------------------------------------------

func TestParseClientEvent_Unknown(t *testing.T) {
	_, _, err := ParseClientEvent([]byte(`{"type":"message:new"}`))
	if err == nil {
		t.Fatal("expected error for server-only event type")
	}
}

func TestParseClientEvent_MissingType(t *testing.T) {
	_, _, err := ParseClientEvent([]byte(`{"content":"no type"}`))
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientEvent_InvalidJSON(t *testing.T) {
	_, _, err := ParseClientEvent([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerEvent injects the type discriminator
// ---------------------------------------------------------------------------

func TestNewServerEvent_InjectsType(t *testing.T) {
	data, err := NewServerEvent(TypeMessageDeleted, MessageDeletedEvent{
		MessageID:   9,
		MessageKind: KindGroup,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeMessageDeleted {
		t.Errorf("expected type %q, got %v", TypeMessageDeleted, m["type"])
	}
	if m["message_id"].(float64) != 9 {
		t.Errorf("expected message_id 9, got %v", m["message_id"])
	}
}

// ---------------------------------------------------------------------------
// Test: Message.ConversationID resolves per viewer
// ---------------------------------------------------------------------------

func TestMessageConversationID(t *testing.T) {
	group := Message{Kind: KindGroup, RoomID: "r1", SenderID: "u1"}
	if got := group.ConversationID("u2"); got != "r1" {
		t.Errorf("group: expected %q, got %q", "r1", got)
	}

	dm := Message{Kind: KindDirect, SenderID: "u1", RecipientID: "u2"}
	if got := dm.ConversationID("u1"); got != "u2" {
		t.Errorf("dm sender view: expected %q, got %q", "u2", got)
	}
	if got := dm.ConversationID("u2"); got != "u1" {
		t.Errorf("dm recipient view: expected %q, got %q", "u1", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Content validation
// ---------------------------------------------------------------------------

func TestValidateContent(t *testing.T) {
	if err := ValidateContent("hello"); err != nil {
		t.Errorf("valid content rejected: %v", err)
	}
	if err := ValidateContent(""); err == nil {
		t.Error("empty content accepted")
	}
	if err := ValidateContent(strings.Repeat("a", MaxContentBytes+1)); err == nil {
		t.Error("oversized content accepted")
	}
	if err := ValidateContent(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("invalid UTF-8 accepted")
	}
}
