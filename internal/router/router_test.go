package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/converse/messaging/internal/protocol"
	"github.com/converse/messaging/internal/store"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	rooms     map[string][]string // room id -> member ids
	nextID    int64
	messages  map[string]protocol.Message   // "kind:id" -> message
	reactions map[string][]protocol.Reaction // "kind:id" -> set
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:     make(map[string][]string),
		messages:  make(map[string]protocol.Message),
		reactions: make(map[string][]protocol.Reaction),
	}
}

func key(kind string, id int64) string { return fmt.Sprintf("%s:%d", kind, id) }

func (f *fakeStore) CreateGroupMessage(_ context.Context, roomID, senderID, senderName, content string) (protocol.Message, error) {
	f.nextID++
	m := protocol.Message{
		Kind: protocol.KindGroup, ID: f.nextID, RoomID: roomID,
		SenderID: senderID, SenderName: senderName, Content: content,
		CreatedAt: time.Now().UnixMilli(),
	}
	f.messages[key(m.Kind, m.ID)] = m
	return m, nil
}

func (f *fakeStore) CreateDirectMessage(_ context.Context, senderID, recipientID, senderName, content string) (protocol.Message, error) {
	f.nextID++
	m := protocol.Message{
		Kind: protocol.KindDirect, ID: f.nextID, SenderID: senderID,
		RecipientID: recipientID, SenderName: senderName, Content: content,
		CreatedAt: time.Now().UnixMilli(),
	}
	f.messages[key(m.Kind, m.ID)] = m
	return m, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, kind string, id int64, userID string) (protocol.Message, error) {
	m, ok := f.messages[key(kind, id)]
	if !ok {
		return protocol.Message{}, store.ErrNotFound
	}
	if m.SenderID != userID {
		return protocol.Message{}, store.ErrNotSender
	}
	delete(f.messages, key(kind, id))
	delete(f.reactions, key(kind, id))
	return m, nil
}

func (f *fakeStore) ToggleReaction(_ context.Context, kind string, messageID int64, userID, emoji string) (bool, error) {
	if _, ok := f.messages[key(kind, messageID)]; !ok {
		return false, store.ErrNotFound
	}
	k := key(kind, messageID)
	for i, r := range f.reactions[k] {
		if r.UserID == userID && r.Emoji == emoji {
			f.reactions[k] = append(f.reactions[k][:i], f.reactions[k][i+1:]...)
			return false, nil
		}
	}
	f.nextID++
	f.reactions[k] = append(f.reactions[k], protocol.Reaction{ID: f.nextID, Emoji: emoji, UserID: userID})
	return true, nil
}

func (f *fakeStore) ListReactions(_ context.Context, kind string, messageID int64) ([]protocol.Reaction, error) {
	return append([]protocol.Reaction{}, f.reactions[key(kind, messageID)]...), nil
}

func (f *fakeStore) GetMessage(_ context.Context, kind string, id int64) (protocol.Message, error) {
	m, ok := f.messages[key(kind, id)]
	if !ok {
		return protocol.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) RoomExists(_ context.Context, roomID string) (bool, error) {
	_, ok := f.rooms[roomID]
	return ok, nil
}

func (f *fakeStore) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	return append([]string{}, f.rooms[roomID]...), nil
}

type published struct {
	users []string
	event map[string]interface{}
}

type fakeBus struct {
	events []published
}

func (b *fakeBus) PublishToUsers(userIDs []string, data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	b.events = append(b.events, published{users: append([]string{}, userIDs...), event: m})
	return nil
}

func (b *fakeBus) last(t *testing.T) published {
	t.Helper()
	if len(b.events) == 0 {
		t.Fatal("expected at least one published event")
	}
	return b.events[len(b.events)-1]
}

func newRouter() (*Router, *fakeStore, *fakeBus) {
	fs := newFakeStore()
	fb := &fakeBus{}
	return New(fs, fb), fs, fb
}

// ---------------------------------------------------------------------------
// Test: group send fans out to all members including the sender
// ---------------------------------------------------------------------------

func TestSendGroup_FanOutIncludesSender(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1", "u2", "u3"}

	msg, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "hello", "tmp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("expected server-assigned id")
	}
	if msg.TempID != "tmp-1" {
		t.Errorf("expected temp id echo, got %q", msg.TempID)
	}

	p := fb.last(t)
	if len(p.users) != 3 {
		t.Fatalf("expected fan-out to 3 members, got %v", p.users)
	}
	if p.event["type"] != protocol.TypeMessageNew {
		t.Errorf("expected %s event, got %v", protocol.TypeMessageNew, p.event["type"])
	}
	inner := p.event["message"].(map[string]interface{})
	if inner["temp_id"] != "tmp-1" {
		t.Errorf("expected temp_id echo in payload, got %v", inner["temp_id"])
	}
}

// ---------------------------------------------------------------------------
// Test: validation failures mutate nothing
// ---------------------------------------------------------------------------

func TestSendGroup_EmptyContent(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1"}

	_, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "", "tmp-1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(fs.messages) != 0 {
		t.Error("message was persisted despite validation failure")
	}
	if len(fb.events) != 0 {
		t.Error("event was published despite validation failure")
	}
}

func TestSendGroup_FloodedContentRejected(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1"}

	_, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "spam spam spam spam spam", "tmp-1")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(fs.messages) != 0 {
		t.Error("flooded message was persisted")
	}
	if len(fb.events) != 0 {
		t.Error("flooded message was published")
	}
}

func TestSendGroup_UnknownRoom(t *testing.T) {
	r, _, _ := newRouter()

	_, err := r.SendGroup(context.Background(), "u1", "Ada", "nope", "hi", "t")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: direct send targets exactly both participants
// ---------------------------------------------------------------------------

func TestSendDirect_BothParticipants(t *testing.T) {
	r, _, fb := newRouter()

	msg, err := r.SendDirect(context.Background(), "u1", "Ada", "u2", "hi", "tmp-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Kind != protocol.KindDirect {
		t.Errorf("expected dm kind, got %q", msg.Kind)
	}

	p := fb.last(t)
	if len(p.users) != 2 || p.users[0] != "u1" || p.users[1] != "u2" {
		t.Fatalf("expected fan-out to [u1 u2], got %v", p.users)
	}
}

func TestSendDirect_SelfMessage(t *testing.T) {
	r, _, _ := newRouter()

	_, err := r.SendDirect(context.Background(), "u1", "Ada", "u1", "hi", "t")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: delete authorization and cascade
// ---------------------------------------------------------------------------

func TestDelete_BySenderNotifiesParticipants(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1", "u2"}

	msg, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "delete me", "t")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := r.ToggleReaction(context.Background(), "u2", "👍", protocol.KindGroup, msg.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := r.Delete(context.Background(), "u1", protocol.KindGroup, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(fs.messages) != 0 {
		t.Error("message still present after delete")
	}
	if len(fs.reactions[key(protocol.KindGroup, msg.ID)]) != 0 {
		t.Error("reactions not cascaded on delete")
	}

	p := fb.last(t)
	if p.event["type"] != protocol.TypeMessageDeleted {
		t.Errorf("expected %s event, got %v", protocol.TypeMessageDeleted, p.event["type"])
	}
	if len(p.users) != 2 {
		t.Errorf("expected both participants notified, got %v", p.users)
	}
}

func TestDelete_ByNonSenderRejected(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1", "u2"}

	msg, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "mine", "t")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := len(fb.events)

	err = r.Delete(context.Background(), "u2", protocol.KindGroup, msg.ID)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := fs.messages[key(protocol.KindGroup, msg.ID)]; !ok {
		t.Error("message removed despite unauthorized delete")
	}
	if len(fb.events) != sent {
		t.Error("event published despite unauthorized delete")
	}
}

// ---------------------------------------------------------------------------
// Test: two consecutive toggles return to the original state
// ---------------------------------------------------------------------------

func TestToggleReaction_DoubleToggle(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1", "u2"}

	msg, err := r.SendGroup(context.Background(), "u1", "Ada", "r1", "react to me", "t")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	set, err := r.ToggleReaction(context.Background(), "u2", "👍", protocol.KindGroup, msg.ID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if len(set) != 1 {
		t.Fatalf("expected 1 reaction after first toggle, got %d", len(set))
	}

	set, err = r.ToggleReaction(context.Background(), "u2", "👍", protocol.KindGroup, msg.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if len(set) != 0 {
		t.Fatalf("expected empty set after second toggle, got %d", len(set))
	}

	p := fb.last(t)
	if p.event["type"] != protocol.TypeReactionUpdated {
		t.Errorf("expected %s event, got %v", protocol.TypeReactionUpdated, p.event["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: typing relays
// ---------------------------------------------------------------------------

func TestTyping_GroupExcludesTypist(t *testing.T) {
	r, fs, fb := newRouter()
	fs.rooms["r1"] = []string{"u1", "u2", "u3"}

	if err := r.Typing(context.Background(), "u1", "Ada", "r1", true, true); err != nil {
		t.Fatalf("typing: %v", err)
	}

	p := fb.last(t)
	if len(p.users) != 2 {
		t.Fatalf("expected 2 targets, got %v", p.users)
	}
	for _, u := range p.users {
		if u == "u1" {
			t.Error("typist received their own typing indicator")
		}
	}
	if p.event["type"] != protocol.TypeUserTyping {
		t.Errorf("expected %s, got %v", protocol.TypeUserTyping, p.event["type"])
	}
	if p.event["conversation_id"] != "r1" {
		t.Errorf("expected conversation r1, got %v", p.event["conversation_id"])
	}
}

func TestTyping_DirectRelabelsConversation(t *testing.T) {
	r, _, fb := newRouter()

	if err := r.Typing(context.Background(), "u1", "Ada", "u2", false, false); err != nil {
		t.Fatalf("typing: %v", err)
	}

	p := fb.last(t)
	if len(p.users) != 1 || p.users[0] != "u2" {
		t.Fatalf("expected target [u2], got %v", p.users)
	}
	if p.event["type"] != protocol.TypeUserStoppedTyping {
		t.Errorf("expected %s, got %v", protocol.TypeUserStoppedTyping, p.event["type"])
	}
	// The receiver files the indicator under the sender's conversation.
	if p.event["conversation_id"] != "u1" {
		t.Errorf("expected conversation u1, got %v", p.event["conversation_id"])
	}
}
