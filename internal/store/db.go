package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/taptoon/taptoon-fe/internal/store/migrations"
)

// DB is a profile's warm-start cache.
type DB struct {
	*sql.DB
}

// Open opens the cache at path. The schema is not touched until Migrate.
func Open(path string) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	db, err := sql.Open("sqlite3", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return &DB{db}, nil
}

// Schema is the cache schema version before and after a Migrate call.
type Schema struct {
	From uint
	To   uint
}

// Changed reports whether Migrate applied anything.
func (s Schema) Changed() bool { return s.From != s.To }

// Migrate brings the schema up to date. A cache left dirty by an
// interrupted migration is refused; deleting the file rebuilds it.
func (db *DB) Migrate() (Schema, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return Schema{}, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return Schema{}, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return Schema{}, fmt.Errorf("migration instance: %w", err)
	}

	from, err := schemaVersion(m)
	if err != nil {
		return Schema{}, err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Schema{}, fmt.Errorf("migrate cache from version %d: %w", from, err)
	}
	to, err := schemaVersion(m)
	if err != nil {
		return Schema{}, err
	}
	return Schema{From: from, To: to}, nil
}

func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("cache schema is dirty at version %d", v)
	}
	return v, nil
}
