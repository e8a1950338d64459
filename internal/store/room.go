package store

import (
	"fmt"
	"time"
)

// TouchRoom upserts a room and makes it the most recently active one.
// MemberCount is kept when the room already exists.
func (db *DB) TouchRoom(r *Room) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (room_id, last_message_text, last_message_at, unread_count, member_count, activity_seq, updated_at)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(activity_seq), 0) + 1 FROM rooms), ?)
		ON CONFLICT(room_id) DO UPDATE SET
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			activity_seq = excluded.activity_seq,
			updated_at = excluded.updated_at`,
		r.RoomID, r.LastMessageText, r.LastMessageAt, r.UnreadCount, r.MemberCount, now)
	return err
}

// ReplaceRooms swaps the whole cached room list for rooms, keeping their order.
func (db *DB) ReplaceRooms(rooms []Room) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM rooms`); err != nil {
		return fmt.Errorf("clear rooms: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, r := range rooms {
		if _, err := tx.Exec(`
			INSERT INTO rooms (room_id, last_message_text, last_message_at, unread_count, member_count, activity_seq, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(room_id) DO NOTHING`,
			r.RoomID, r.LastMessageText, r.LastMessageAt, r.UnreadCount, r.MemberCount, len(rooms)-i, now); err != nil {
			return fmt.Errorf("insert room %s: %w", r.RoomID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rooms: %w", err)
	}
	return nil
}

// ListRooms returns cached rooms, most recently active first.
func (db *DB) ListRooms() ([]Room, error) {
	rows, err := db.Query(`
		SELECT room_id, last_message_text, last_message_at, unread_count, member_count
		FROM rooms
		ORDER BY activity_seq DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.RoomID, &r.LastMessageText, &r.LastMessageAt, &r.UnreadCount, &r.MemberCount); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// DeleteRoom drops a room and its cached messages.
func (db *DB) DeleteRoom(roomID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM rooms WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return tx.Commit()
}
