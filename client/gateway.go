// Package client implements the client side of the messaging core: the
// WebSocket gateway, the optimistic send pipeline, the paginated history
// store merged with the live event stream, the conversation directory with
// unseen tracking, typing indicators, and a durable local summary cache.
//
// All mutable state is owned by an explicit Client object; there are no
// package-level globals. Incoming events are dispatched from a single read
// goroutine, mirroring a single-threaded event loop: handlers run one at a
// time and must not block.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/converse/messaging/internal/protocol"
)

// Identity is the authenticated user on whose behalf the channel operates.
// It is supplied by the session layer, which is outside this subsystem.
type Identity struct {
	UserID      string
	DisplayName string
	AvatarRef   string
}

// Emitter sends a typed event upstream. The Gateway satisfies it; tests
// substitute a recording fake.
type Emitter interface {
	Emit(evtType string, payload interface{}) error
}

// Gateway is the long-lived bidirectional channel to the messaging server.
// Exactly one gateway exists per client process. It buffers no unsent
// events: an emit that fails is reported to the caller, which owns resend.
type Gateway struct {
	conn      net.Conn
	identity  Identity
	mu        sync.Mutex // serializes writes
	handlerMu sync.RWMutex
	handlers  map[string]func(json.RawMessage)
	onClose   func(err error)
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects the gateway to the server and begins reading events in a
// background goroutine. The identity is carried in the connection URL; the
// server binds it to the channel for authorization of all subsequent
// events. An error here means messaging is unavailable ("disconnected")
// until a later Dial succeeds.
func Dial(ctx context.Context, baseURL string, identity Identity) (*Gateway, error) {
	if identity.UserID == "" {
		return nil, fmt.Errorf("client: identity has no user id")
	}

	u := baseURL + "/ws?user=" + url.QueryEscape(identity.UserID) +
		"&name=" + url.QueryEscape(identity.DisplayName)

	conn, _, _, err := ws.Dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	g := &Gateway{
		conn:     conn,
		identity: identity,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go g.readLoop()
	return g, nil
}

// Identity returns the identity this channel is bound to.
func (g *Gateway) Identity() Identity {
	return g.identity
}

// Emit sends a typed event to the server. It is goroutine-safe. A returned
// error means the event was not delivered and will not be retried by the
// gateway; the issuing component converts it into local state (e.g., a
// Failed optimistic message).
func (g *Gateway) Emit(evtType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: marshal %s: %w", evtType, err)
	}

	// Inject the type discriminator the same way the server does.
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("client: repack %s: %w", evtType, err)
	}
	m["type"] = evtType
	data, err = json.Marshal(m)
	if err != nil {
		return fmt.Errorf("client: marshal %s: %w", evtType, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := wsutil.WriteClientMessage(g.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("client: emit %s: %w", evtType, err)
	}
	return nil
}

// On registers a handler for a server event type. The handler receives the
// full raw JSON of the event. Handlers are invoked from the read loop
// goroutine, one at a time, so they should not block. Registering a second
// handler for the same type replaces the first.
func (g *Gateway) On(evtType string, handler func(json.RawMessage)) {
	g.handlerMu.Lock()
	g.handlers[evtType] = handler
	g.handlerMu.Unlock()
}

// OnClose registers a callback invoked once when the channel dies. The
// error is nil on graceful Close.
func (g *Gateway) OnClose(fn func(err error)) {
	g.onClose = fn
}

// Close tears the channel down. Safe to call multiple times.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		err = g.conn.Close()
		if g.onClose != nil {
			g.onClose(nil)
		}
	})
	return err
}

// readLoop reads server events and dispatches them to registered handlers
// until the connection dies.
func (g *Gateway) readLoop() {
	for {
		data, err := wsutil.ReadServerText(g.conn)
		if err != nil {
			select {
			case <-g.done:
				// Graceful close; OnClose already ran.
			default:
				g.closeOnce.Do(func() {
					close(g.done)
					g.conn.Close()
					if g.onClose != nil {
						g.onClose(err)
					}
				})
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue // malformed push; skip
		}

		g.handlerMu.RLock()
		handler := g.handlers[env.Type]
		g.handlerMu.RUnlock()
		if handler != nil {
			handler(env.Raw)
		}
	}
}
