package client

import (
	"testing"

	"github.com/converse/messaging/internal/protocol"
)

func TestOutbox_ConfirmIsIdempotent(t *testing.T) {
	o := NewOutbox()
	p := o.Add(groupConv("room-1"), "hello")

	if p.TempID == "" {
		t.Fatal("Add minted no temp id")
	}
	if !o.Confirm(p.TempID) {
		t.Fatal("first Confirm failed")
	}
	if o.Confirm(p.TempID) {
		t.Fatal("replayed Confirm succeeded")
	}
	if _, ok := o.Get(p.TempID); ok {
		t.Fatal("confirmed send still pending")
	}
}

func TestOutbox_ConfirmUnknownTempIDIgnored(t *testing.T) {
	o := NewOutbox()
	if o.Confirm("never-issued") {
		t.Fatal("Confirm of unknown temp id succeeded")
	}
}

func TestOutbox_RetryMintsFreshTempID(t *testing.T) {
	o := NewOutbox()
	p := o.Add(groupConv("room-1"), "hello")

	if !o.Fail(p.TempID) {
		t.Fatal("Fail refused on pending send")
	}
	retried := o.Retry(p.TempID)
	if retried == nil {
		t.Fatal("Retry returned nil for failed send")
	}
	if retried.TempID == p.TempID {
		t.Fatal("Retry reused the old temp id")
	}
	if retried.Content != "hello" || retried.Conv != p.Conv {
		t.Fatalf("Retry lost payload: %+v", retried)
	}

	// A late confirmation of the abandoned temp id must do nothing.
	if o.Confirm(p.TempID) {
		t.Fatal("late Confirm of retired temp id succeeded")
	}
	if !o.Confirm(retried.TempID) {
		t.Fatal("Confirm of retried send failed")
	}
}

func TestOutbox_RetryRequiresFailedState(t *testing.T) {
	o := NewOutbox()
	p := o.Add(groupConv("room-1"), "hello")

	if o.Retry(p.TempID) != nil {
		t.Fatal("Retry succeeded on a still-pending send")
	}
}

func TestOutbox_FailAll(t *testing.T) {
	o := NewOutbox()
	a := o.Add(groupConv("room-1"), "one")
	b := o.Add(ConversationKey{Kind: protocol.KindDirect, ID: "bob"}, "two")
	o.Fail(a.TempID)

	failed := o.FailAll()
	if len(failed) != 1 || failed[0] != b.TempID {
		t.Fatalf("FailAll = %v, want just %s", failed, b.TempID)
	}
	if b.State != SendFailed {
		t.Fatalf("b.State = %v, want SendFailed", b.State)
	}
}

func TestOutbox_OptimisticMessageShape(t *testing.T) {
	o := NewOutbox()
	id := Identity{UserID: "alice", DisplayName: "Alice"}

	group := o.Add(groupConv("room-1"), "hi room")
	m := o.OptimisticMessage(group, id)
	if m.Kind != protocol.KindGroup || m.RoomID != "room-1" || m.RecipientID != "" {
		t.Fatalf("group message misaddressed: %+v", m)
	}
	if m.TempID != group.TempID || m.SenderID != "alice" || m.SenderName != "Alice" {
		t.Fatalf("group message identity wrong: %+v", m)
	}

	dm := o.Add(ConversationKey{Kind: protocol.KindDirect, ID: "bob"}, "hi bob")
	m = o.OptimisticMessage(dm, id)
	if m.Kind != protocol.KindDirect || m.RecipientID != "bob" || m.RoomID != "" {
		t.Fatalf("direct message misaddressed: %+v", m)
	}
}
