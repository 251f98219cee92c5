package client

import (
	"sync"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// DefaultTypingWindow is the debounce window for outbound typing:start
// events and the expiry for inbound indicators whose stop event was lost.
const DefaultTypingWindow = 2 * time.Second

// TypingSender throttles outbound typing events. Keystroke calls emit at
// most one typing:start per window; silence for a full window, or an
// explicit Stop (message sent, input cleared), emits typing:stop.
type TypingSender struct {
	emitter Emitter
	window  time.Duration

	mu     sync.Mutex
	conv   ConversationKey
	active bool
	timer  *time.Timer
}

// NewTypingSender creates a sender over the given emitter. A window of 0
// selects DefaultTypingWindow.
func NewTypingSender(emitter Emitter, window time.Duration) *TypingSender {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingSender{emitter: emitter, window: window}
}

// Keystroke records input activity in a conversation. The first call (or
// the first after a window of silence) emits typing:start; subsequent
// calls within the window only push the idle deadline out.
func (t *TypingSender) Keystroke(conv ConversationKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active && t.conv == conv {
		t.timer.Reset(t.window)
		return
	}
	if t.active {
		// switched conversations mid-typing
		t.emitStopLocked()
	}
	t.conv = conv
	t.active = true
	t.emitter.Emit(protocol.TypeTypingStart, protocol.TypingEvent{
		ConversationID: conv.ID,
		IsGroup:        conv.Kind == protocol.KindGroup,
	})
	t.timer = time.AfterFunc(t.window, t.idle)
}

// Stop ends the typing state immediately, emitting typing:stop if one is
// owed. Call it on send and on input clear.
func (t *TypingSender) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.timer.Stop()
	t.emitStopLocked()
}

func (t *TypingSender) idle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.emitStopLocked()
}

func (t *TypingSender) emitStopLocked() {
	t.active = false
	t.emitter.Emit(protocol.TypeTypingStop, protocol.TypingEvent{
		ConversationID: t.conv.ID,
		IsGroup:        t.conv.Kind == protocol.KindGroup,
	})
}

// TypingTracker maintains the typing indicator per conversation from
// inbound user:typing pushes. The server already translates conversation
// ids to the receiver's perspective, so the id alone keys the indicator.
// One indicator per conversation, last sender wins. Each indicator expires
// on its own after the window, so a lost stopped-typing event cannot
// strand a stale one.
type TypingTracker struct {
	window time.Duration

	mu     sync.Mutex
	typing map[string]*indicator // conversation id -> current indicator
}

type indicator struct {
	name  string
	timer *time.Timer
}

// NewTypingTracker creates a tracker. A window of 0 selects
// DefaultTypingWindow.
func NewTypingTracker(window time.Duration) *TypingTracker {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingTracker{
		window: window,
		typing: make(map[string]*indicator),
	}
}

// Start records that name is typing in the conversation, replacing any
// earlier indicator from another sender and refreshing the expiry.
func (t *TypingTracker) Start(conversationID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ind, ok := t.typing[conversationID]; ok {
		ind.name = name
		ind.timer.Reset(t.window)
		return
	}
	t.typing[conversationID] = &indicator{
		name: name,
		timer: time.AfterFunc(t.window, func() {
			t.expire(conversationID)
		}),
	}
}

// Stop clears the indicator if it belongs to name. A stop from a sender
// who was already displaced by a later typist is ignored.
func (t *TypingTracker) Stop(conversationID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ind, ok := t.typing[conversationID]
	if !ok || ind.name != name {
		return
	}
	ind.timer.Stop()
	delete(t.typing, conversationID)
}

func (t *TypingTracker) expire(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, conversationID)
}

// Typist returns the display name currently typing in the conversation,
// or "" if nobody is.
func (t *TypingTracker) Typist(conversationID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ind, ok := t.typing[conversationID]; ok {
		return ind.name
	}
	return ""
}
