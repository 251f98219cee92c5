package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection bound to an
// authenticated user, with a write mutex for serializing outbound frames.
// One user may hold several connections at once (multiple devices); events
// are delivered to every connection of a participant.
type Connection struct {
	ID          string     // connection ID (UUID)
	UserID      string     // authenticated user this channel belongs to
	DisplayName string     // user's display name, carried into typing relays
	Conn        net.Conn   // underlying TCP connection
	Fd          int        // file descriptor for poller lookups
	CreatedAt   time.Time  // when the connection was established
	LastPing    time.Time  // last heartbeat received from the client
	writeMu     sync.Mutex // serializes writes to this connection
	processing  int32      // atomic flag: 0 = idle, 1 = being read by handleConn
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. The write mutex ensures this does not interleave with other
// outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection IDs,
// file descriptors, and user IDs to their Connection objects. The per-user
// index holds every open connection of that user, so a fan-out event can
// reach all of a user's devices on this gateway.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection   // connection_id -> Connection
	byFd   map[int]*Connection      // fd -> Connection
	byUser map[string][]*Connection // user_id -> all connections of that user
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byFd:   make(map[int]*Connection),
		byUser: make(map[string][]*Connection),
	}
}

// Add registers a new connection in all three lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.byUser[conn.UserID] = append(cm.byUser[conn.UserID], conn)
	cm.mu.Unlock()
}

// Remove removes a connection by connection ID, closes the underlying
// network connection, and removes it from all lookup maps. It returns the
// removed connection (nil if it was already gone) and the number of
// connections the same user still holds, so callers can tear down per-user
// state only when the last device disconnects.
func (cm *ConnectionManager) Remove(id string) (*Connection, int) {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	remaining := 0
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
		cm.byUser[conn.UserID] = dropConn(cm.byUser[conn.UserID], conn)
		remaining = len(cm.byUser[conn.UserID])
		if remaining == 0 {
			delete(cm.byUser, conn.UserID)
		}
	}
	cm.mu.Unlock()

	if !ok {
		return nil, 0
	}
	conn.Close()
	return conn, remaining
}

// Get returns the connection for the given connection ID, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// ByUser returns a snapshot of every connection the user currently holds
// on this gateway. The returned slice is safe to iterate without the lock.
func (cm *ConnectionManager) ByUser(userID string) []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, len(cm.byUser[userID]))
	copy(conns, cm.byUser[userID])
	cm.mu.RUnlock()
	return conns
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}

// dropConn removes one connection from a slice without preserving order.
func dropConn(conns []*Connection, target *Connection) []*Connection {
	for i, c := range conns {
		if c == target {
			conns[i] = conns[len(conns)-1]
			return conns[:len(conns)-1]
		}
	}
	return conns
}
