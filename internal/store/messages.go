package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/converse/messaging/internal/protocol"
)

// CreateGroupMessage persists a room message and returns it with the
// server-assigned id and creation timestamp.
func (s *Store) CreateGroupMessage(ctx context.Context, roomID, senderID, senderName, content string) (protocol.Message, error) {
	const query = `
		INSERT INTO group_messages (room_id, sender_id, sender_name, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	var (
		id        int64
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, roomID, senderID, senderName, content).Scan(&id, &createdAt)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("store: insert group message: %w", err)
	}

	return protocol.Message{
		Kind:       protocol.KindGroup,
		ID:         id,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  createdAt.UnixMilli(),
	}, nil
}

// CreateDirectMessage persists a direct message and returns it with the
// server-assigned id and creation timestamp.
func (s *Store) CreateDirectMessage(ctx context.Context, senderID, recipientID, senderName, content string) (protocol.Message, error) {
	const query = `
		INSERT INTO direct_messages (sender_id, recipient_id, sender_name, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	var (
		id        int64
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, senderID, recipientID, senderName, content).Scan(&id, &createdAt)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("store: insert direct message: %w", err)
	}

	return protocol.Message{
		Kind:        protocol.KindDirect,
		ID:          id,
		SenderID:    senderID,
		RecipientID: recipientID,
		SenderName:  senderName,
		Content:     content,
		CreatedAt:   createdAt.UnixMilli(),
	}, nil
}

// ListRoomMessages returns a page of room messages ordered newest-first,
// with each message's full reaction set attached. The skip/take pair is the
// pagination contract used by the REST history endpoints.
func (s *Store) ListRoomMessages(ctx context.Context, roomID string, skip, take int) ([]protocol.Message, error) {
	const query = `
		SELECT id, sender_id, sender_name, content, created_at
		FROM group_messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, roomID, skip, take)
	if err != nil {
		return nil, fmt.Errorf("store: list room messages: %w", err)
	}
	defer rows.Close()

	msgs := []protocol.Message{}
	for rows.Next() {
		var (
			m         protocol.Message
			createdAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan room message: %w", err)
		}
		m.Kind = protocol.KindGroup
		m.RoomID = roomID
		m.CreatedAt = createdAt.UnixMilli()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list room messages: %w", err)
	}

	if err := s.attachReactions(ctx, protocol.KindGroup, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListDirectMessages returns a page of direct messages between two users
// ordered newest-first, with reactions attached.
func (s *Store) ListDirectMessages(ctx context.Context, userA, userB string, skip, take int) ([]protocol.Message, error) {
	const query = `
		SELECT id, sender_id, recipient_id, sender_name, content, created_at
		FROM direct_messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC, id DESC
		OFFSET $3 LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, skip, take)
	if err != nil {
		return nil, fmt.Errorf("store: list direct messages: %w", err)
	}
	defer rows.Close()

	msgs := []protocol.Message{}
	for rows.Next() {
		var (
			m         protocol.Message
			createdAt time.Time
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.SenderName, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan direct message: %w", err)
		}
		m.Kind = protocol.KindDirect
		m.CreatedAt = createdAt.UnixMilli()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list direct messages: %w", err)
	}

	if err := s.attachReactions(ctx, protocol.KindDirect, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage returns a single message by kind and id.
func (s *Store) GetMessage(ctx context.Context, kind string, id int64) (protocol.Message, error) {
	var (
		query     string
		m         protocol.Message
		createdAt time.Time
		err       error
	)

	switch kind {
	case protocol.KindGroup:
		query = `SELECT id, room_id, sender_id, sender_name, content, created_at
			FROM group_messages WHERE id = $1`
		err = s.db.QueryRowContext(ctx, query, id).
			Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderName, &m.Content, &createdAt)
	case protocol.KindDirect:
		query = `SELECT id, sender_id, recipient_id, sender_name, content, created_at
			FROM direct_messages WHERE id = $1`
		err = s.db.QueryRowContext(ctx, query, id).
			Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.SenderName, &m.Content, &createdAt)
	default:
		return protocol.Message{}, ErrUnknownKind
	}

	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Message{}, ErrNotFound
	}
	if err != nil {
		return protocol.Message{}, fmt.Errorf("store: get message: %w", err)
	}

	m.Kind = kind
	m.CreatedAt = createdAt.UnixMilli()
	return m, nil
}

// DeleteMessage removes a message and its reactions. The delete is
// authorized against userID: only the original sender may delete, anyone
// else gets ErrNotSender with no state change. The deleted message is
// returned so the caller can fan out to its participants.
func (s *Store) DeleteMessage(ctx context.Context, kind string, id int64, userID string) (protocol.Message, error) {
	m, err := s.GetMessage(ctx, kind, id)
	if err != nil {
		return protocol.Message{}, err
	}
	if m.SenderID != userID {
		return protocol.Message{}, ErrNotSender
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("store: delete message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_kind = $1 AND message_id = $2`, kind, id); err != nil {
		return protocol.Message{}, fmt.Errorf("store: delete reactions: %w", err)
	}

	table := "group_messages"
	if kind == protocol.KindDirect {
		table = "direct_messages"
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id); err != nil {
		return protocol.Message{}, fmt.Errorf("store: delete message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return protocol.Message{}, fmt.Errorf("store: delete message: %w", err)
	}
	return m, nil
}

// DirectConversation is one entry of a user's direct-conversation list: the
// counterpart and the most recent message exchanged with them.
type DirectConversation struct {
	PeerID      string           `json:"peer_id"`
	LastMessage protocol.Message `json:"last_message"`
}

// DirectConversations returns the user's direct-conversation list: the
// latest message per counterpart, newest first. The list is recomputed from
// scratch on each call rather than maintained incrementally; clients keep
// their own incremental view between snapshots.
func (s *Store) DirectConversations(ctx context.Context, userID string) ([]DirectConversation, error) {
	const query = `
		SELECT DISTINCT ON (counterpart)
			counterpart, id, sender_id, recipient_id, sender_name, content, created_at
		FROM (
			SELECT id, sender_id, recipient_id, sender_name, content, created_at,
				CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS counterpart
			FROM direct_messages
			WHERE sender_id = $1 OR recipient_id = $1
		) m
		ORDER BY counterpart, created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: direct conversations: %w", err)
	}
	defer rows.Close()

	convs := []DirectConversation{}
	for rows.Next() {
		var (
			c         DirectConversation
			createdAt time.Time
		)
		m := &c.LastMessage
		if err := rows.Scan(&c.PeerID, &m.ID, &m.SenderID, &m.RecipientID, &m.SenderName, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan direct conversation: %w", err)
		}
		m.Kind = protocol.KindDirect
		m.CreatedAt = createdAt.UnixMilli()
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: direct conversations: %w", err)
	}

	// Tie-break by timestamp descending across counterparts.
	for i := 1; i < len(convs); i++ {
		for j := i; j > 0 && convs[j].LastMessage.CreatedAt > convs[j-1].LastMessage.CreatedAt; j-- {
			convs[j], convs[j-1] = convs[j-1], convs[j]
		}
	}
	return convs, nil
}
