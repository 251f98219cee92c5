package client

import (
	"testing"

	"github.com/converse/messaging/internal/protocol"
)

func groupConv(id string) ConversationKey {
	return ConversationKey{Kind: protocol.KindGroup, ID: id}
}

func roomMsg(id int64, createdAt int64, sender, content string) protocol.Message {
	return protocol.Message{
		Kind:      protocol.KindGroup,
		ID:        id,
		RoomID:    "room-1",
		SenderID:  sender,
		Content:   content,
		CreatedAt: createdAt,
	}
}

// page builds a newest-first page, the order the server returns.
func page(msgs ...protocol.Message) []protocol.Message {
	out := make([]protocol.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// ---------------------------------------------------------------------------
// Paging and merge
// ---------------------------------------------------------------------------

func TestHistory_PageAndLiveMerge(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))

	gen, skip, ok := h.BeginLoad()
	if !ok || skip != 0 {
		t.Fatalf("BeginLoad = (%d, %d, %v), want skip 0", gen, skip, ok)
	}

	// A live push lands while the page is in flight.
	if !h.ApplyNew(roomMsg(10, 1000, "bob", "live")) {
		t.Fatal("live push not applied")
	}

	// The page overlaps the push: id 10 must not duplicate.
	if !h.ApplyPage(gen, page(roomMsg(8, 800, "bob", "old"), roomMsg(9, 900, "bob", "mid"), roomMsg(10, 1000, "bob", "live"))) {
		t.Fatal("page discarded")
	}

	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []int64{8, 9, 10} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %d, want %d", i, msgs[i].ID, want)
		}
	}
}

func TestHistory_OrderingByCreatedAtThenID(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))
	gen, _, _ := h.BeginLoad()

	// Two messages share a timestamp; the id breaks the tie.
	h.ApplyPage(gen, page(roomMsg(5, 500, "bob", "a"), roomMsg(7, 500, "bob", "b"), roomMsg(6, 600, "bob", "c")))

	msgs := h.Messages()
	if msgs[0].ID != 5 || msgs[1].ID != 7 || msgs[2].ID != 6 {
		t.Fatalf("order = [%d %d %d], want [5 7 6]", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
}

func TestHistory_StalePageDiscardedAfterSwitch(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))
	gen, _, _ := h.BeginLoad()

	h.Select(groupConv("room-2"))

	if h.ApplyPage(gen, page(roomMsg(1, 100, "bob", "stale"))) {
		t.Fatal("stale page applied after conversation switch")
	}
	if len(h.Messages()) != 0 {
		t.Fatalf("got %d messages in fresh conversation, want 0", len(h.Messages()))
	}
}

func TestHistory_SingleInFlightLoad(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))

	gen, _, ok := h.BeginLoad()
	if !ok {
		t.Fatal("first BeginLoad refused")
	}
	if _, _, ok := h.BeginLoad(); ok {
		t.Fatal("second BeginLoad allowed while first in flight")
	}

	h.ApplyPage(gen, nil) // short page: no more history
	if _, _, ok := h.BeginLoad(); ok {
		t.Fatal("BeginLoad allowed after exhausted history")
	}
}

func TestHistory_SkipAdvancesWithPagesAndPushes(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))

	gen, _, _ := h.BeginLoad()
	full := make([]protocol.Message, PageSize)
	for i := range full {
		full[i] = roomMsg(int64(PageSize-i), int64((PageSize-i)*10), "bob", "m")
	}
	h.ApplyPage(gen, full)
	if !h.HasMore() {
		t.Fatal("full page should leave HasMore true")
	}

	h.ApplyNew(roomMsg(100, 99999, "bob", "live"))

	_, skip, ok := h.BeginLoad()
	if !ok {
		t.Fatal("BeginLoad refused with more history pending")
	}
	if skip != PageSize+1 {
		t.Fatalf("skip = %d, want %d", skip, PageSize+1)
	}
}

// ---------------------------------------------------------------------------
// Optimistic sends
// ---------------------------------------------------------------------------

func TestHistory_OptimisticReconciliation(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))
	gen, _, _ := h.BeginLoad()
	h.ApplyPage(gen, nil)

	h.AddOptimistic(protocol.Message{
		Kind: protocol.KindGroup, TempID: "tmp-1", RoomID: "room-1",
		SenderID: "alice", Content: "hello", CreatedAt: 1000,
	})
	msgs := h.Messages()
	if len(msgs) != 1 || !msgs[0].IsOptimistic {
		t.Fatalf("optimistic entry missing: %+v", msgs)
	}

	confirmed := roomMsg(42, 1005, "alice", "hello")
	confirmed.TempID = "tmp-1"
	if !h.ApplyNew(confirmed) {
		t.Fatal("confirmation not applied")
	}

	msgs = h.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d entries after confirm, want 1", len(msgs))
	}
	if msgs[0].IsOptimistic || msgs[0].ID != 42 || msgs[0].TempID != "" {
		t.Fatalf("entry not reconciled: %+v", msgs[0])
	}

	// A replayed confirmation must not duplicate.
	if h.ApplyNew(confirmed) {
		t.Fatal("replayed confirmation applied")
	}
	if len(h.Messages()) != 1 {
		t.Fatalf("duplicate after replay: %d entries", len(h.Messages()))
	}
}

func TestHistory_UnknownTempIDAppends(t *testing.T) {
	// Non-senders receive the temp id echo too; without a matching
	// pending entry the message simply appends.
	h := NewHistory("bob")
	h.Select(groupConv("room-1"))

	m := roomMsg(7, 700, "alice", "hi")
	m.TempID = "someone-elses-temp"
	if !h.ApplyNew(m) {
		t.Fatal("push with foreign temp id not applied")
	}

	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].ID != 7 || msgs[0].IsOptimistic {
		t.Fatalf("unexpected entry: %+v", msgs[0])
	}
}

func TestHistory_FailedEntryKeptUntilDiscard(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))

	h.AddOptimistic(protocol.Message{
		Kind: protocol.KindGroup, TempID: "tmp-1", RoomID: "room-1",
		SenderID: "alice", Content: "hello",
	})
	h.MarkFailed("tmp-1")

	msgs := h.Messages()
	if len(msgs) != 1 || !msgs[0].Failed {
		t.Fatalf("failed entry not retained: %+v", msgs)
	}

	h.Discard("tmp-1")
	if len(h.Messages()) != 0 {
		t.Fatal("discarded entry still present")
	}
}

// ---------------------------------------------------------------------------
// Deletes and reactions
// ---------------------------------------------------------------------------

func TestHistory_ApplyDeleted(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))
	gen, _, _ := h.BeginLoad()
	h.ApplyPage(gen, page(roomMsg(1, 100, "bob", "a"), roomMsg(2, 200, "bob", "b")))

	h.ApplyDeleted(protocol.KindGroup, 1)
	msgs := h.Messages()
	if len(msgs) != 1 || msgs[0].ID != 2 {
		t.Fatalf("delete not applied: %+v", msgs)
	}

	// Wrong kind is ignored.
	h.ApplyDeleted(protocol.KindDirect, 2)
	if len(h.Messages()) != 1 {
		t.Fatal("delete with mismatched kind applied")
	}
}

func TestHistory_ReactionsServerSetWins(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))
	gen, _, _ := h.BeginLoad()
	h.ApplyPage(gen, page(roomMsg(1, 100, "bob", "a")))

	// Optimistic flip adds the viewer's reaction immediately.
	h.ToggleLocalReaction(protocol.KindGroup, 1, "😀")
	if got := h.Messages()[0].Reactions; len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("optimistic reaction missing: %+v", got)
	}

	// A second local toggle removes it again.
	h.ToggleLocalReaction(protocol.KindGroup, 1, "😀")
	if got := h.Messages()[0].Reactions; len(got) != 0 {
		t.Fatalf("double toggle left reactions: %+v", got)
	}

	// The server's set replaces whatever the local guess was.
	server := []protocol.Reaction{{ID: 9, Emoji: "🎉", UserID: "bob"}}
	h.ApplyReactions(protocol.KindGroup, 1, server)
	got := h.Messages()[0].Reactions
	if len(got) != 1 || got[0].Emoji != "🎉" {
		t.Fatalf("server set not applied: %+v", got)
	}
}

func TestHistory_PushForOtherConversationIgnored(t *testing.T) {
	h := NewHistory("alice")
	h.Select(groupConv("room-1"))

	other := roomMsg(1, 100, "bob", "elsewhere")
	other.RoomID = "room-2"
	if h.ApplyNew(other) {
		t.Fatal("push for another room applied")
	}

	dm := protocol.Message{
		Kind: protocol.KindDirect, ID: 2, SenderID: "bob",
		RecipientID: "alice", Content: "psst", CreatedAt: 200,
	}
	if h.ApplyNew(dm) {
		t.Fatal("direct push applied to room history")
	}
}
