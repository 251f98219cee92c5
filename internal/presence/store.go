// Package presence tracks which users are currently connected and when they
// were last seen, backed by Redis. A user may hold several simultaneous
// connections (multiple devices); the user counts as online while at least
// one connection is open.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys. It is refreshed on every
	// connect and on activity, so a crashed server cannot leave users
	// online forever.
	TTL = 1 * time.Hour
)

// Status is a point-in-time view of one user's presence.
type Status struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"last_seen"` // unix milliseconds, 0 if never seen
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this gateway instance
}

// NewStore creates a presence store connected to Redis. The serverName
// identifies this gateway instance in the presence hashes so operators can
// tell which instance a user's connections live on.
func NewStore(redisAddr, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Connect records a new connection for the user and marks them online.
func (s *Store) Connect(ctx context.Context, userID, displayName string) error {
	key := KeyPrefix + userID

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, "conn_count", 1)
	pipe.HSet(ctx, key, "name", displayName, "server", s.serverName)
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnect records a closed connection. When the last connection goes
// away the user is marked offline and last_seen is stamped.
func (s *Store) Disconnect(ctx context.Context, userID string) error {
	key := KeyPrefix + userID

	count, err := s.client.HIncrBy(ctx, key, "conn_count", -1).Result()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	// Last device gone; clamp the counter in case of double disconnects.
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "conn_count", 0, "last_seen", time.Now().UnixMilli())
	pipe.Expire(ctx, key, TTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the presence status of one user. A missing key means the
// user has never connected (offline, last seen unknown).
func (s *Store) Get(ctx context.Context, userID string) (Status, error) {
	result, err := s.client.HGetAll(ctx, KeyPrefix+userID).Result()
	if err != nil {
		return Status{}, err
	}
	return statusFromHash(result), nil
}

// GetMany returns the presence status for a set of users in one round trip.
// The returned map has an entry for every requested user id.
func (s *Store) GetMany(ctx context.Context, userIDs []string) (map[string]Status, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, KeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make(map[string]Status, len(userIDs))
	for i, id := range userIDs {
		out[id] = statusFromHash(cmds[i].Val())
	}
	return out, nil
}

// Touch refreshes the presence TTL for an active user.
func (s *Store) Touch(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, KeyPrefix+userID, TTL).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (the rate limiter shares the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}

func statusFromHash(h map[string]string) Status {
	if len(h) == 0 {
		return Status{}
	}
	count, _ := strconv.ParseInt(h["conn_count"], 10, 64)
	lastSeen, _ := strconv.ParseInt(h["last_seen"], 10, 64)
	return Status{
		Online:   count > 0,
		LastSeen: lastSeen,
	}
}
