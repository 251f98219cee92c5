package client

import (
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// PageSize is the fixed number of messages fetched per history page.
const PageSize = 30

// ConversationKey identifies a conversation: a room or a direct peer.
// Identity is the (kind, id) pair.
type ConversationKey struct {
	Kind string // protocol.KindGroup or protocol.KindDirect
	ID   string // room id, or the peer's user id for direct conversations
}

// Entry is one message as rendered: either server-confirmed or a local
// optimistic entry awaiting confirmation. Exactly one of Message.ID and
// Message.TempID is authoritative at any time; after confirmation the
// entry is keyed solely by the canonical id.
type Entry struct {
	protocol.Message
	IsOptimistic bool
	Failed       bool
}

// History is the message store for the currently selected conversation:
// the union of fetched pages and the live stream, deduplicated by id
// (optimistic entries keyed by temp id until reconciled) and sorted
// ascending by (created_at, id). It is not safe for concurrent use; the
// Client serializes access through its event loop.
type History struct {
	viewerID   string
	conv       ConversationKey
	generation int
	entries    []Entry // oldest first
	byID       map[int64]struct{}
	byTemp     map[string]struct{}
	loaded     int // canonical messages observed, = skip offset for the next page
	hasMore    bool
	loading    bool // a load-older request is in flight
}

// NewHistory creates an empty history for the given viewer.
func NewHistory(viewerID string) *History {
	h := &History{viewerID: viewerID}
	h.reset()
	return h
}

func (h *History) reset() {
	h.entries = nil
	h.byID = make(map[int64]struct{})
	h.byTemp = make(map[string]struct{})
	h.loaded = 0
	h.hasMore = true
	h.loading = false
}

// Select switches the store to a new conversation, clearing all state and
// bumping the generation so that in-flight loads for the previous
// conversation are discarded when they resolve. It returns the new
// generation token.
func (h *History) Select(conv ConversationKey) int {
	h.conv = conv
	h.generation++
	h.reset()
	return h.generation
}

// Conversation returns the currently selected conversation.
func (h *History) Conversation() ConversationKey {
	return h.conv
}

// Generation returns the current selection token. Page results must carry
// the token from BeginLoad and are dropped if it no longer matches.
func (h *History) Generation() int {
	return h.generation
}

// HasMore reports whether older pages remain. It is true until a fetched
// page comes back short of PageSize.
func (h *History) HasMore() bool {
	return h.hasMore
}

// BeginLoad reserves the single in-flight page slot and returns the
// generation token and skip offset for the request. It returns ok=false
// when a load is already pending or no older messages remain; duplicate
// triggers while pending are ignored this way.
func (h *History) BeginLoad() (gen, skip int, ok bool) {
	if h.loading || !h.hasMore {
		return 0, 0, false
	}
	h.loading = true
	return h.generation, h.loaded, true
}

// ApplyPage merges a fetched page (newest-first, as served) into the
// store. If gen does not match the current generation the result is stale
// (the user switched conversations while the fetch was in flight) and is
// discarded. Returns whether the page was applied.
func (h *History) ApplyPage(gen int, page []protocol.Message) bool {
	if gen != h.generation {
		return false
	}
	h.loading = false
	h.hasMore = len(page) == PageSize

	for _, m := range page {
		if h.insertCanonical(m) {
			h.loaded++
		}
	}
	return true
}

// AbortLoad releases the in-flight slot after a failed fetch, provided the
// conversation has not changed since.
func (h *History) AbortLoad(gen int) {
	if gen == h.generation {
		h.loading = false
	}
}

// AddOptimistic inserts a locally constructed, unconfirmed message. The
// entry renders immediately and is keyed by its temp id until the server
// confirms it.
func (h *History) AddOptimistic(m protocol.Message) {
	if m.TempID == "" {
		return
	}
	if _, ok := h.byTemp[m.TempID]; ok {
		return
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	h.byTemp[m.TempID] = struct{}{}
	h.insertSorted(Entry{Message: m, IsOptimistic: true})
}

// ApplyNew merges a message:new push. If the push carries a temp id
// matching a pending optimistic entry, that entry's identity is replaced
// with the canonical id and the optimistic flag cleared (reconciliation).
// Otherwise the message is appended if not already present by id. Both
// paths are idempotent: replaying the same confirmation is a no-op.
// Returns whether the push changed the store.
func (h *History) ApplyNew(m protocol.Message) bool {
	if m.ConversationID(h.viewerID) != h.conv.ID || m.Kind != h.conv.Kind {
		return false
	}
	if _, ok := h.byID[m.ID]; ok {
		return false
	}

	if m.TempID != "" {
		if _, pending := h.byTemp[m.TempID]; pending {
			h.removeTemp(m.TempID)
			confirmed := m
			confirmed.TempID = ""
			h.insertCanonical(confirmed)
			h.loaded++
			return true
		}
	}

	pushed := m
	pushed.TempID = ""
	if h.insertCanonical(pushed) {
		h.loaded++
		return true
	}
	return false
}

// MarkFailed flags the optimistic entry for tempID as failed. The entry
// stays visible for manual retry or discard; it is never silently dropped.
func (h *History) MarkFailed(tempID string) {
	for i := range h.entries {
		if h.entries[i].TempID == tempID {
			h.entries[i].Failed = true
			return
		}
	}
}

// Discard removes a failed or pending optimistic entry.
func (h *History) Discard(tempID string) {
	h.removeTemp(tempID)
}

// ApplyDeleted removes a message by canonical id.
func (h *History) ApplyDeleted(kind string, id int64) {
	if kind != h.conv.Kind {
		return
	}
	if _, ok := h.byID[id]; !ok {
		return
	}
	delete(h.byID, id)
	for i := range h.entries {
		if h.entries[i].ID == id && !h.entries[i].IsOptimistic {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// ApplyReactions replaces a message's reaction set with the server's
// authoritative view.
func (h *History) ApplyReactions(kind string, id int64, set []protocol.Reaction) {
	if kind != h.conv.Kind {
		return
	}
	for i := range h.entries {
		if h.entries[i].ID == id && !h.entries[i].IsOptimistic {
			h.entries[i].Reactions = set
			return
		}
	}
}

// ToggleLocalReaction optimistically flips the viewer's reaction on a
// message before the server round-trip. The next reaction:updated push
// overwrites the guess either way.
func (h *History) ToggleLocalReaction(kind string, id int64, emoji string) {
	if kind != h.conv.Kind {
		return
	}
	for i := range h.entries {
		e := &h.entries[i]
		if e.ID != id || e.IsOptimistic {
			continue
		}
		for j, r := range e.Reactions {
			if r.UserID == h.viewerID && r.Emoji == emoji {
				e.Reactions = append(e.Reactions[:j], e.Reactions[j+1:]...)
				return
			}
		}
		e.Reactions = append(e.Reactions, protocol.Reaction{Emoji: emoji, UserID: h.viewerID})
		return
	}
}

// Messages returns a snapshot of the store, oldest first.
func (h *History) Messages() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// insertCanonical inserts a confirmed message if absent by id. Returns
// whether the message was inserted.
func (h *History) insertCanonical(m protocol.Message) bool {
	if _, ok := h.byID[m.ID]; ok {
		return false
	}
	h.byID[m.ID] = struct{}{}
	h.insertSorted(Entry{Message: m})
	return true
}

// insertSorted places an entry at its position in ascending
// (created_at, id) order. Pushes are normally "now" and append at the
// tail; late-arriving history pages insert in position.
func (h *History) insertSorted(e Entry) {
	i := len(h.entries)
	for i > 0 {
		prev := h.entries[i-1]
		if prev.CreatedAt < e.CreatedAt ||
			(prev.CreatedAt == e.CreatedAt && prev.ID <= e.ID) {
			break
		}
		i--
	}
	h.entries = append(h.entries, Entry{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = e
}

func (h *History) removeTemp(tempID string) {
	if _, ok := h.byTemp[tempID]; !ok {
		return
	}
	delete(h.byTemp, tempID)
	for i := range h.entries {
		if h.entries[i].TempID == tempID && h.entries[i].IsOptimistic {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}
