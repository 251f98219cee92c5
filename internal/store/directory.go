package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Room is a multi-member conversation. Room CRUD belongs to an external
// collaborator; this package only reads rooms for authorization, fan-out,
// and directory snapshots.
type Room struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ImageRef  string   `json:"image_ref"`
	MemberIDs []string `json:"member_ids"`
}

// RoomExists reports whether the room is known.
func (s *Store) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: room exists: %w", err)
	}
	return exists, nil
}

// RoomMembers returns the user ids of every member of the room. Fan-out of
// room events targets exactly this set.
func (s *Store) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("store: room members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan room member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: room members: %w", err)
	}
	return members, nil
}

// GetRoom returns a room with its member list.
func (s *Store) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, image_ref FROM rooms WHERE id = $1`, roomID).
		Scan(&r.ID, &r.Name, &r.ImageRef)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("store: get room: %w", err)
	}

	r.MemberIDs, err = s.RoomMembers(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	return r, nil
}

// UserRooms returns every room the user is a member of, with member lists
// attached. This backs the directory snapshot endpoint.
func (s *Store) UserRooms(ctx context.Context, userID string) ([]Room, error) {
	const query = `
		SELECT r.id, r.name, r.image_ref
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.name ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: user rooms: %w", err)
	}
	defer rows.Close()

	roomList := []Room{}
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.ImageRef); err != nil {
			return nil, fmt.Errorf("store: scan room: %w", err)
		}
		roomList = append(roomList, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: user rooms: %w", err)
	}

	for i := range roomList {
		roomList[i].MemberIDs, err = s.RoomMembers(ctx, roomList[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return roomList, nil
}
