package store

import (
	"fmt"
	"slices"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (room_id, msg_id, sender_id, body, kind, thumbnail_url, original_url, created_at, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(room_id, msg_id) DO UPDATE SET
		body = excluded.body,
		kind = excluded.kind,
		thumbnail_url = excluded.thumbnail_url,
		original_url = excluded.original_url`

// UpsertMessage inserts or updates a message (idempotent on room_id + msg_id).
// An update keeps the original arrival position.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.RoomID, m.MsgID, m.SenderID, m.Body, m.Kind, m.ThumbnailURL, m.OriginalURL, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// ReplaceMessages swaps a room's cached messages for a freshly fetched page.
func (db *DB) ReplaceMessages(roomID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			roomID, m.MsgID, m.SenderID, m.Body, m.Kind, m.ThumbnailURL, m.OriginalURL, m.CreatedAt, now); err != nil {
			return fmt.Errorf("insert message %s: %w", m.MsgID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// DeleteMessage removes a message. An empty roomID matches the message in
// any room. Reports whether a row was removed.
func (db *DB) DeleteMessage(roomID, msgID string) (bool, error) {
	query := `DELETE FROM messages WHERE msg_id = ?`
	args := []any{msgID}
	if roomID != "" {
		query += ` AND room_id = ?`
		args = append(args, roomID)
	}
	res, err := db.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMessages returns the latest limit messages of a room in arrival order.
func (db *DB) ListMessages(roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, room_id, msg_id, sender_id, body, kind, thumbnail_url, original_url, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.ThumbnailURL, &m.OriginalURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
