package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/converse/messaging/internal/protocol"
)

// ToggleReaction flips the (message, user, emoji) reaction row: if it
// exists it is deleted, otherwise it is inserted. The unique constraint on
// (message_kind, message_id, user_id, emoji) guarantees at-most-one even
// when two devices of the same user race; the losing insert is a no-op.
// It returns true when the toggle resulted in the reaction being present.
func (s *Store) ToggleReaction(ctx context.Context, kind string, messageID int64, userID, emoji string) (bool, error) {
	if kind != protocol.KindGroup && kind != protocol.KindDirect {
		return false, ErrUnknownKind
	}

	// Make sure the message exists so a toggle on a deleted message is a
	// clean NotFound instead of an orphan row.
	if _, err := s.GetMessage(ctx, kind, messageID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_kind = $1 AND message_id = $2 AND user_id = $3 AND emoji = $4`,
		kind, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("store: toggle reaction delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reactions (message_kind, message_id, user_id, emoji)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_kind, message_id, user_id, emoji) DO NOTHING`,
		kind, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("store: toggle reaction insert: %w", err)
	}
	return true, nil
}

// ListReactions returns the full reaction set for a message, oldest first.
func (s *Store) ListReactions(ctx context.Context, kind string, messageID int64) ([]protocol.Reaction, error) {
	const query = `
		SELECT id, emoji, user_id
		FROM reactions
		WHERE message_kind = $1 AND message_id = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, kind, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: list reactions: %w", err)
	}
	defer rows.Close()

	set := []protocol.Reaction{}
	for rows.Next() {
		var r protocol.Reaction
		if err := rows.Scan(&r.ID, &r.Emoji, &r.UserID); err != nil {
			return nil, fmt.Errorf("store: scan reaction: %w", err)
		}
		set = append(set, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list reactions: %w", err)
	}
	return set, nil
}

// attachReactions loads the reaction sets for a page of messages in one
// query and attaches each set to its message.
func (s *Store) attachReactions(ctx context.Context, kind string, msgs []protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]int64, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		index[msgs[i].ID] = i
	}

	const query = `
		SELECT id, message_id, emoji, user_id
		FROM reactions
		WHERE message_kind = $1 AND message_id = ANY($2)
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, kind, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("store: attach reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r     protocol.Reaction
			msgID int64
		)
		if err := rows.Scan(&r.ID, &msgID, &r.Emoji, &r.UserID); err != nil {
			return fmt.Errorf("store: scan reaction: %w", err)
		}
		if i, ok := index[msgID]; ok {
			msgs[i].Reactions = append(msgs[i].Reactions, r)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: attach reactions: %w", err)
	}
	return nil
}
