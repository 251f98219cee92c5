package ws

import (
	"log"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client
// event. The evt parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g., protocol.GroupSendEvent).
type EventHandler func(conn *Connection, evt interface{})

// EventDispatcher routes incoming WebSocket events to registered handlers
// based on the event type. It handles the built-in ping/pong keepalive
// internally and sends structured error responses for malformed or
// unsupported events.
type EventDispatcher struct {
	handlers map[string]EventHandler
	server   *Server
}

// NewEventDispatcher creates an EventDispatcher bound to the given server.
// The server reference is used to send responses back to clients.
func NewEventDispatcher(server *Server) *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string]EventHandler),
		server:   server,
	}
}

// SetServer assigns the Server reference on the dispatcher. This supports
// the initialization pattern where the dispatcher is created before the
// server (since NewServer requires the Dispatch callback).
func (d *EventDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates an EventHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *EventDispatcher) Register(evtType string, handler EventHandler) {
	d.handlers[evtType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw
// bytes into a typed event, handles ping internally, and routes all other
// types to the registered handler. Parse errors and unregistered types
// result in an error event sent back to the client.
func (d *EventDispatcher) Dispatch(conn *Connection, data []byte) {
	evtType, evt, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s user=%s: %v", conn.ID, conn.UserID, err)
		d.SendError(conn, "parse_error", "invalid event format")
		return
	}

	if evtType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[evtType]
	if !ok {
		log.Printf("ws: unsupported event type=%q conn=%s", evtType, conn.ID)
		d.SendError(conn, "unsupported_type", "unsupported event type")
		return
	}

	handler(conn, evt)
}

// SendError sends a structured error event back to the client. Errors
// during event construction or transmission are logged but not propagated.
func (d *EventDispatcher) SendError(conn *Connection, code string, message string) {
	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorEvent{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error event conn=%s: %v", conn.ID, err)
	}
}

// sendPong responds to a client ping with a pong event and updates the
// connection's LastPing timestamp to reflect the most recent keepalive.
func (d *EventDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()

	data, err := protocol.NewServerEvent(protocol.TypePong, protocol.PongEvent{})
	if err != nil {
		log.Printf("ws: failed to build pong event conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send pong event conn=%s: %v", conn.ID, err)
	}
}
