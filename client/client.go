package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// Config configures a Client. The gateway and the REST API are separate
// listeners, so they carry separate URLs.
type Config struct {
	GatewayURL   string // ws:// or wss:// base of the WebSocket gateway
	APIURL       string // http:// or https:// base of the REST API
	Identity     Identity
	CacheDir     string        // empty disables the persistent cache
	TypingWindow time.Duration // 0 selects DefaultTypingWindow
}

// Client is the facade over the messaging subsystem: one gateway, one
// history store for the selected conversation, the outbox, the directory,
// and typing state, all mutated under a single mutex. Gateway pushes
// arrive on the read goroutine; public methods are called from the
// application. OnUpdate fires after every state change so the UI can
// re-render.
type Client struct {
	gateway *Gateway
	rest    *REST
	cache   *Cache // nil when disabled

	mu        sync.Mutex
	identity  Identity
	history   *History
	outbox    *Outbox
	directory *Directory
	tracker   *TypingTracker
	typing    *TypingSender
	onUpdate  func()
}

// New connects a client: dials the gateway, opens the cache, hydrates the
// directory from cached summaries, and wires push handlers. The returned
// client is ready for SelectConversation and SendMessage.
func New(ctx context.Context, cfg Config) (*Client, error) {
	gw, err := Dial(ctx, cfg.GatewayURL, cfg.Identity)
	if err != nil {
		return nil, err
	}

	c := &Client{
		gateway:   gw,
		rest:      NewREST(cfg.APIURL),
		identity:  cfg.Identity,
		history:   NewHistory(cfg.Identity.UserID),
		outbox:    NewOutbox(),
		directory: NewDirectory(cfg.Identity.UserID),
		tracker:   NewTypingTracker(cfg.TypingWindow),
	}
	c.typing = NewTypingSender(gw, cfg.TypingWindow)

	if cfg.CacheDir != "" {
		cache, err := OpenCache(cfg.CacheDir)
		if err != nil {
			// Cache is an accelerant, not a dependency.
			log.Printf("client: cache unavailable: %v", err)
		} else {
			c.cache = cache
			if cached, err := cache.Summaries(); err == nil {
				c.mu.Lock()
				for _, s := range cached {
					c.directory.Put(s)
				}
				c.mu.Unlock()
			}
		}
	}

	c.wireHandlers()
	return c, nil
}

// OnUpdate registers the re-render callback. It is invoked outside the
// client's mutex after every state change, from whichever goroutine caused
// the change.
func (c *Client) OnUpdate(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// OnClose registers a callback for gateway death; see Gateway.OnClose.
func (c *Client) OnClose(fn func(err error)) {
	c.gateway.OnClose(fn)
}

// Close tears down the gateway and the cache.
func (c *Client) Close() error {
	err := c.gateway.Close()
	if c.cache != nil {
		if cerr := c.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ---------------------------------------------------------------------------
// Conversation selection and history paging
// ---------------------------------------------------------------------------

// SelectConversation switches the active conversation: the directory's
// unseen count resets, the history store clears, and the first page loads
// in the background. A result arriving for a previously selected
// conversation is discarded by the generation check.
func (c *Client) SelectConversation(conv ConversationKey) {
	c.mu.Lock()
	c.typing.Stop()
	c.directory.Open(conv)
	c.history.Select(conv)
	gen, skip, ok := c.history.BeginLoad()
	c.mu.Unlock()
	c.notify()

	if ok {
		go c.fetchPage(conv, gen, skip)
	}
}

// LoadOlder requests the next older page for the active conversation.
// Duplicate triggers while a page is in flight, and triggers after the
// last page, are no-ops.
func (c *Client) LoadOlder() {
	c.mu.Lock()
	conv := c.history.Conversation()
	gen, skip, ok := c.history.BeginLoad()
	c.mu.Unlock()

	if ok {
		go c.fetchPage(conv, gen, skip)
	}
}

func (c *Client) fetchPage(conv ConversationKey, gen, skip int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		page HistoryPage
		err  error
	)
	if conv.Kind == protocol.KindGroup {
		page, err = c.rest.RoomMessages(ctx, conv.ID, skip, PageSize)
	} else {
		page, err = c.rest.DirectMessages(ctx, c.identity.UserID, conv.ID, skip, PageSize)
	}

	c.mu.Lock()
	if err != nil {
		log.Printf("client: history page for %s failed: %v", conv.ID, err)
		c.history.AbortLoad(gen)
		c.mu.Unlock()
		return
	}
	applied := c.history.ApplyPage(gen, page.Messages)
	c.mu.Unlock()

	if applied {
		c.notify()
	}
}

// Messages returns the active conversation's messages, oldest first.
func (c *Client) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Messages()
}

// HasMore reports whether older history remains for the active
// conversation.
func (c *Client) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.HasMore()
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// SendMessage emits a message to the active conversation. The message
// renders immediately as an optimistic entry; the server's echo of the
// temp id resolves it. An emit failure marks the entry failed for manual
// retry.
func (c *Client) SendMessage(content string) {
	if err := protocol.ValidateContent(content); err != nil {
		return
	}

	c.mu.Lock()
	conv := c.history.Conversation()
	c.typing.Stop()
	p := c.outbox.Add(conv, content)
	c.history.AddOptimistic(c.outbox.OptimisticMessage(p, c.identity))
	c.mu.Unlock()
	c.notify()

	c.emitSend(p)
}

// RetrySend re-emits a failed send under a fresh temp id.
func (c *Client) RetrySend(tempID string) {
	c.mu.Lock()
	p := c.outbox.Retry(tempID)
	if p != nil {
		c.history.Discard(tempID)
		c.history.AddOptimistic(c.outbox.OptimisticMessage(p, c.identity))
	}
	c.mu.Unlock()

	if p != nil {
		c.notify()
		c.emitSend(p)
	}
}

// DiscardSend drops a failed send and its optimistic entry.
func (c *Client) DiscardSend(tempID string) {
	c.mu.Lock()
	c.outbox.Discard(tempID)
	c.history.Discard(tempID)
	c.mu.Unlock()
	c.notify()
}

func (c *Client) emitSend(p *PendingSend) {
	var err error
	if p.Conv.Kind == protocol.KindGroup {
		err = c.gateway.Emit(protocol.TypeGroupSend, protocol.GroupSendEvent{
			SenderID: c.identity.UserID,
			RoomID:   p.Conv.ID,
			Content:  p.Content,
			TempID:   p.TempID,
		})
	} else {
		err = c.gateway.Emit(protocol.TypeDirectSend, protocol.DirectSendEvent{
			SenderID:    c.identity.UserID,
			RecipientID: p.Conv.ID,
			Content:     p.Content,
			TempID:      p.TempID,
		})
	}
	if err != nil {
		log.Printf("client: send %s failed: %v", p.TempID, err)
		c.mu.Lock()
		c.outbox.Fail(p.TempID)
		c.history.MarkFailed(p.TempID)
		c.mu.Unlock()
		c.notify()
	}
}

// DeleteMessage asks the server to delete one of the viewer's messages.
// Removal happens when the message:deleted push comes back.
func (c *Client) DeleteMessage(kind string, id int64) error {
	return c.gateway.Emit(protocol.TypeMessageDelete, protocol.MessageDeleteEvent{
		UserID:      c.identity.UserID,
		MessageID:   id,
		MessageKind: kind,
	})
}

// ToggleReaction flips the viewer's reaction optimistically and emits the
// toggle. The next reaction:updated push replaces the local guess with
// the server's set either way.
func (c *Client) ToggleReaction(kind string, id int64, emoji string) error {
	c.mu.Lock()
	c.history.ToggleLocalReaction(kind, id, emoji)
	c.mu.Unlock()
	c.notify()

	evt := protocol.ReactionToggleEvent{
		UserID: c.identity.UserID,
		Emoji:  emoji,
	}
	if kind == protocol.KindGroup {
		evt.GroupMessageID = id
	} else {
		evt.DirectMessageID = id
	}
	return c.gateway.Emit(protocol.TypeReactionToggle, evt)
}

// Keystroke reports input activity in the active conversation; the typing
// sender debounces the resulting events.
func (c *Client) Keystroke() {
	c.mu.Lock()
	conv := c.history.Conversation()
	c.mu.Unlock()
	c.typing.Keystroke(conv)
}

// ---------------------------------------------------------------------------
// Directory
// ---------------------------------------------------------------------------

// RefreshDirectory reloads the room list and direct-conversation snapshot
// from the server, merges them into the directory, and persists the
// result to the cache.
func (c *Client) RefreshDirectory(ctx context.Context) error {
	rooms, err := c.rest.UserRooms(ctx, c.identity.UserID)
	if err != nil {
		return err
	}
	convs, err := c.rest.DirectConversations(ctx, c.identity.UserID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, r := range rooms {
		c.directory.Put(ConversationSummary{
			Conv:     ConversationKey{Kind: protocol.KindGroup, ID: r.ID},
			Name:     r.Name,
			ImageRef: r.ImageRef,
		})
	}
	for _, dc := range convs {
		last := dc.LastMessage
		name := last.SenderName
		if last.SenderID == c.identity.UserID {
			name = dc.PeerID
		}
		c.directory.Put(ConversationSummary{
			Conv:        ConversationKey{Kind: protocol.KindDirect, ID: dc.PeerID},
			Name:        name,
			LastMessage: &last,
			Online:      dc.IsOnline,
			LastSeen:    dc.LastSeen,
		})
	}
	summaries := c.directory.List()
	c.mu.Unlock()
	c.notify()

	if c.cache != nil {
		c.cache.PutSummaries(summaries)
	}
	return nil
}

// Conversations returns the directory rows, most recent first.
func (c *Client) Conversations() []ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directory.List()
}

// Typist returns who is typing in the active conversation, or "" when
// nobody is.
func (c *Client) Typist() string {
	c.mu.Lock()
	conv := c.history.Conversation()
	c.mu.Unlock()
	return c.tracker.Typist(conv.ID)
}

// ---------------------------------------------------------------------------
// Push handlers
// ---------------------------------------------------------------------------

func (c *Client) wireHandlers() {
	c.gateway.On(protocol.TypeMessageNew, func(raw json.RawMessage) {
		var evt protocol.MessageNewEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		m := evt.Message

		c.mu.Lock()
		if m.TempID != "" && m.SenderID == c.identity.UserID {
			c.outbox.Confirm(m.TempID)
		}
		c.history.ApplyNew(m)
		c.directory.ApplyNew(m)
		summary, cached := c.summaryFor(m)
		c.mu.Unlock()
		c.notify()

		if cached && c.cache != nil {
			c.cache.PutSummary(summary)
		}
	})

	c.gateway.On(protocol.TypeMessageDeleted, func(raw json.RawMessage) {
		var evt protocol.MessageDeletedEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		c.mu.Lock()
		c.history.ApplyDeleted(evt.MessageKind, evt.MessageID)
		c.directory.ApplyDeleted(evt.MessageKind, evt.MessageID)
		c.mu.Unlock()
		c.notify()
	})

	c.gateway.On(protocol.TypeReactionUpdated, func(raw json.RawMessage) {
		var evt protocol.ReactionUpdatedEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		c.mu.Lock()
		c.history.ApplyReactions(evt.MessageKind, evt.MessageID, evt.Reactions)
		c.mu.Unlock()
		c.notify()
	})

	c.gateway.On(protocol.TypeUserTyping, func(raw json.RawMessage) {
		var evt protocol.UserTypingEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		c.tracker.Start(evt.ConversationID, evt.Name)
		c.notify()
	})

	c.gateway.On(protocol.TypeUserStoppedTyping, func(raw json.RawMessage) {
		var evt protocol.UserTypingEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return
		}
		c.tracker.Stop(evt.ConversationID, evt.Name)
		c.notify()
	})

	// Rate limits and server errors carry no temp id, so every pending
	// send is presumed rejected and left for manual retry.
	failPending := func(raw json.RawMessage) {
		c.mu.Lock()
		for _, tempID := range c.outbox.FailAll() {
			c.history.MarkFailed(tempID)
		}
		c.mu.Unlock()
		c.notify()
	}
	c.gateway.On(protocol.TypeRateLimited, failPending)
	c.gateway.On(protocol.TypeError, failPending)
}

// summaryFor snapshots the directory row affected by a push, for cache
// persistence. Caller holds c.mu.
func (c *Client) summaryFor(m protocol.Message) (ConversationSummary, bool) {
	conv := ConversationKey{Kind: m.Kind, ID: m.ConversationID(c.identity.UserID)}
	for _, s := range c.directory.List() {
		if s.Conv == conv {
			return s, true
		}
	}
	return ConversationSummary{}, false
}

func (c *Client) notify() {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
