// Package messaging provides the NATS fan-out bus for the messaging core.
// The router publishes one event per conversation participant to that
// user's subject; every gateway instance holding a connection for the user
// subscribes to the subject and forwards events down the WebSocket. This
// gives fan-out across gateway instances and to all devices of one user.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectUserPrefix is the per-user event subject prefix. Events for user
// "u1" are published to "user.u1".
const SubjectUserPrefix = "user."

// UserSubject returns the NATS subject carrying events for the given user.
func UserSubject(userID string) string {
	return SubjectUserPrefix + userID
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "converse-messaging",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishToUser publishes an encoded server event to one user's subject.
func (c *NATSClient) PublishToUser(userID string, data []byte) error {
	return c.conn.Publish(UserSubject(userID), data)
}

// PublishToUsers publishes the same encoded event to several user subjects.
// Individual publish failures are collected; the first error is returned
// after all participants were attempted, so one bad subject does not starve
// the rest of the fan-out.
func (c *NATSClient) PublishToUsers(userIDs []string, data []byte) error {
	var firstErr error
	for _, id := range userIDs {
		if err := c.PublishToUser(id, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SubscribeUser subscribes to a user's subject on behalf of one WebSocket
// connection. The subscription is keyed by connID so that multiple devices
// of the same user on the same gateway each get their own subscription.
func (c *NATSClient) SubscribeUser(userID, connID string, handler func(data []byte)) error {
	subject := UserSubject(userID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs["usersub:"+connID] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeUser removes the subscription held for one connection.
func (c *NATSClient) UnsubscribeUser(connID string) error {
	return c.unsubscribe("usersub:" + connID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a stored subscription by key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
