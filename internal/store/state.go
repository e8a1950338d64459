package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KeyOwner records which user the cache belongs to.
const KeyOwner = "owner_user_id"

// SetState stores a sync checkpoint value.
func (db *DB) SetState(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// State returns a sync checkpoint value, or "" when unset.
func (db *DB) State(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// ClaimOwner binds the cache to userID. A cache written for another user is
// wiped first. Reports whether a wipe happened.
func (db *DB) ClaimOwner(userID string) (bool, error) {
	owner, err := db.State(KeyOwner)
	if err != nil {
		return false, fmt.Errorf("read owner: %w", err)
	}
	if owner == userID {
		return false, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	wiped := owner != ""
	for _, stmt := range []string{`DELETE FROM messages`, `DELETE FROM rooms`} {
		if _, err := tx.Exec(stmt); err != nil {
			return false, fmt.Errorf("wipe cache: %w", err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyOwner, userID, time.Now().UnixMilli()); err != nil {
		return false, fmt.Errorf("set owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit owner: %w", err)
	}
	return wiped, nil
}
