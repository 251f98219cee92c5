package client

import (
	"sort"

	"github.com/converse/messaging/internal/protocol"
)

// ConversationSummary is one row of the conversation list: the latest
// message (if any), the unseen count, and presence for direct peers.
type ConversationSummary struct {
	Conv        ConversationKey
	Name        string
	ImageRef    string
	LastMessage *protocol.Message
	Unseen      int
	Online      bool
	LastSeen    int64
}

// Directory maintains the conversation list: summaries keyed by
// conversation, ordered by recency with never-active conversations last.
// A push for a conversation other than the open one bumps its unseen
// count; opening a conversation zeroes it. Not safe for concurrent use;
// the Client serializes access.
type Directory struct {
	viewerID  string
	summaries map[ConversationKey]*ConversationSummary
	open      ConversationKey
	hasOpen   bool
}

// NewDirectory creates an empty directory for the given viewer.
func NewDirectory(viewerID string) *Directory {
	return &Directory{
		viewerID:  viewerID,
		summaries: make(map[ConversationKey]*ConversationSummary),
	}
}

// Put inserts or replaces a summary wholesale, as when hydrating from the
// REST directory endpoints or the local cache. Unseen state of an
// existing row is preserved.
func (d *Directory) Put(s ConversationSummary) {
	if prev, ok := d.summaries[s.Conv]; ok {
		s.Unseen = prev.Unseen
	}
	cp := s
	d.summaries[s.Conv] = &cp
}

// Open marks a conversation as the one on screen and clears its unseen
// count. Pushes for the open conversation never increment unseen.
func (d *Directory) Open(conv ConversationKey) {
	d.open = conv
	d.hasOpen = true
	if s, ok := d.summaries[conv]; ok {
		s.Unseen = 0
	}
}

// CloseOpen clears the open-conversation mark, e.g. when the list view
// replaces the thread view.
func (d *Directory) CloseOpen() {
	d.hasOpen = false
}

// ApplyNew folds a message:new push into the directory: the affected
// conversation's last message advances and, unless it is open or the
// viewer sent the message, its unseen count grows. Unknown direct
// conversations are created on the fly; unknown rooms are ignored until
// the room list is hydrated.
func (d *Directory) ApplyNew(m protocol.Message) {
	conv := ConversationKey{Kind: m.Kind, ID: m.ConversationID(d.viewerID)}
	s, ok := d.summaries[conv]
	if !ok {
		if conv.Kind == protocol.KindGroup {
			return
		}
		s = &ConversationSummary{Conv: conv, Name: m.SenderName}
		d.summaries[conv] = s
	}
	cp := m
	s.LastMessage = &cp
	if m.SenderID != d.viewerID && !(d.hasOpen && d.open == conv) {
		s.Unseen++
	}
}

// ApplyDeleted clears the preview when the deleted message was a
// conversation's latest. The preceding message is unknown here, so the
// row keeps its position with an empty preview until the next push or
// refresh.
func (d *Directory) ApplyDeleted(kind string, id int64) {
	for _, s := range d.summaries {
		if s.Conv.Kind == kind && s.LastMessage != nil && s.LastMessage.ID == id {
			s.LastMessage.Content = ""
			return
		}
	}
}

// SetPresence updates a direct peer's presence.
func (d *Directory) SetPresence(userID string, online bool, lastSeen int64) {
	conv := ConversationKey{Kind: protocol.KindDirect, ID: userID}
	if s, ok := d.summaries[conv]; ok {
		s.Online = online
		s.LastSeen = lastSeen
	}
}

// Unseen returns the unseen count for a conversation.
func (d *Directory) Unseen(conv ConversationKey) int {
	if s, ok := d.summaries[conv]; ok {
		return s.Unseen
	}
	return 0
}

// List returns the summaries sorted by last activity, newest first.
// Conversations with no messages yet sort after all active ones, in name
// order for a stable display.
func (d *Directory) List() []ConversationSummary {
	out := make([]ConversationSummary, 0, len(d.summaries))
	for _, s := range d.summaries {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return a.Name < b.Name
		case a.LastMessage == nil:
			return false
		case b.LastMessage == nil:
			return true
		case a.LastMessage.CreatedAt != b.LastMessage.CreatedAt:
			return a.LastMessage.CreatedAt > b.LastMessage.CreatedAt
		default:
			return a.LastMessage.ID > b.LastMessage.ID
		}
	})
	return out
}
