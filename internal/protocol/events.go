// Package protocol defines the wire events exchanged between messaging
// clients and the server over the WebSocket channel. All events are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeGroupSend      = "group:send"
	TypeDirectSend     = "dm:send"
	TypeMessageDelete  = "message:delete"
	TypeReactionToggle = "reaction:toggle"
	TypeTypingStart    = "typing:start"
	TypeTypingStop     = "typing:stop"
	TypePing           = "ping"
)

// Server -> Client event types. These are broadcast to every participant of
// the affected conversation, including the originating sender.
const (
	TypeMessageNew        = "message:new"
	TypeMessageDeleted    = "message:deleted"
	TypeReactionUpdated   = "reaction:updated"
	TypeUserTyping        = "user:typing"
	TypeUserStoppedTyping = "user:stopped-typing"
	TypeRateLimited       = "rate:limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// Message kind discriminators, shared by deletes, reaction toggles, and the
// Message wire shape itself.
const (
	KindGroup  = "group"
	KindDirect = "dm"
)

// ---------------------------------------------------------------------------
// Shared wire shapes
// ---------------------------------------------------------------------------

// Reaction is one (user, emoji) reaction attached to a message. At most one
// row exists per (message, user, emoji); a second identical toggle removes
// the first.
type Reaction struct {
	ID     int64  `json:"id"`
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// Message is the full message shape pushed to clients. Kind selects the
// variant: group messages carry RoomID, direct messages carry RecipientID.
// TempID is echoed back only on the confirmation push for the sending
// client's optimistic entry.
type Message struct {
	Kind        string     `json:"kind"` // KindGroup or KindDirect
	ID          int64      `json:"id"`
	TempID      string     `json:"temp_id,omitempty"`
	RoomID      string     `json:"room_id,omitempty"`
	RecipientID string     `json:"recipient_id,omitempty"`
	SenderID    string     `json:"sender_id"`
	SenderName  string     `json:"sender_name,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   int64      `json:"created_at"` // unix milliseconds
	Reactions   []Reaction `json:"reactions,omitempty"`
}

// ConversationID returns the identity of the conversation this message
// belongs to from the perspective of viewerID: the room for group messages,
// the counterpart user for direct messages.
func (m *Message) ConversationID(viewerID string) string {
	if m.Kind == KindGroup {
		return m.RoomID
	}
	if m.SenderID == viewerID {
		return m.RecipientID
	}
	return m.SenderID
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
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
// Client -> Server event structs
// ---------------------------------------------------------------------------

// GroupSendEvent asks the server to persist and fan out a room message.
// TempID is the client-generated identity of the optimistic entry and is
// echoed back on the message:new confirmation.
type GroupSendEvent struct {
	Type     string `json:"type"`
	SenderID string `json:"sender_id"`
	RoomID   string `json:"room_id"`
	Content  string `json:"content"`
	TempID   string `json:"temp_id"`
}

// DirectSendEvent asks the server to persist and fan out a direct message.
type DirectSendEvent struct {
	Type        string `json:"type"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	TempID      string `json:"temp_id"`
}

// MessageDeleteEvent asks the server to delete a message. Only the original
// sender is authorized; deletion cascades to the message's reactions.
type MessageDeleteEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	MessageID   int64  `json:"message_id"`
	MessageKind string `json:"message_kind"` // KindGroup or KindDirect
}

// ReactionToggleEvent toggles a (user, message, emoji) reaction. Exactly one
// of GroupMessageID/DirectMessageID must be set.
type ReactionToggleEvent struct {
	Type            string `json:"type"`
	UserID          string `json:"user_id"`
	Emoji           string `json:"emoji"`
	GroupMessageID  int64  `json:"group_message_id,omitempty"`
	DirectMessageID int64  `json:"direct_message_id,omitempty"`
}

// TypingEvent signals the start or stop of typing in a conversation. For
// direct conversations ConversationID is the peer's user id; for rooms it is
// the room id.
type TypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsGroup        bool   `json:"is_group"`
	SenderName     string `json:"sender_name,omitempty"`
}

// PingEvent is a client-initiated keepalive ping.
type PingEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// MessageNewEvent delivers a confirmed message to a participant. The
// embedded Message carries the TempID echo when the recipient is the
// original sender.
type MessageNewEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// MessageDeletedEvent notifies participants that a message was removed.
type MessageDeletedEvent struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"message_id"`
	MessageKind string `json:"message_kind"`
}

// ReactionUpdatedEvent carries the full reaction set for a message after a
// toggle. Clients replace their local set wholesale; the server's view wins
// over any optimistic guess.
type ReactionUpdatedEvent struct {
	Type        string     `json:"type"`
	MessageID   int64      `json:"message_id"`
	MessageKind string     `json:"message_kind"`
	Reactions   []Reaction `json:"reactions"`
}

// UserTypingEvent relays a participant's typing state. ConversationID is
// already translated to the receiver's perspective (sender's user id for
// direct conversations, room id for rooms).
type UserTypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
}

// RateLimitedEvent is sent when the client has exceeded its send budget.
type RateLimitedEvent struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// ErrorEvent is sent by the server to communicate an error condition.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongEvent is the server's response to a client ping.
type PongEvent struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Content validation
// ---------------------------------------------------------------------------

const (
	MaxContentBytes = 4096 // max payload size for a single message body
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that a message body meets content requirements.
func ValidateContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case TypeGroupSend:
		var e GroupSendEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeDirectSend:
		var e DirectSendEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeMessageDelete:
		var e MessageDeleteEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeReactionToggle:
		var e ReactionToggleEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeTypingStart, TypeTypingStop:
		var e TypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypePing:
		var e PingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event. The
// evtType is injected into the payload under the "type" key. The payload
// should be one of the *Event structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerEvent(evtType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = evtType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}
