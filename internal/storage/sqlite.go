package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createItemsTable = `
CREATE TABLE IF NOT EXISTS items (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteBackend stores items in a single SQLite table.
type SQLiteBackend struct {
	db    *sql.DB
	quota int64
}

// NewSQLiteBackend opens (or creates) the database at path. quota <= 0
// disables the backend's own limit.
func NewSQLiteBackend(path string, quota int64) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	// A single connection serialises writers and keeps the quota check
	// consistent with the insert.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createItemsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate storage db: %w", err)
	}
	return &SQLiteBackend{db: db, quota: quota}, nil
}

func (b *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage get: %w", err)
	}
	return value, true, nil
}

func (b *SQLiteBackend) Set(key string, value []byte) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("storage set: %w", err)
	}
	defer tx.Rollback()

	if b.quota > 0 {
		var others int64
		err := tx.QueryRow(`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM items WHERE key != ?`, key).Scan(&others)
		if err != nil {
			return fmt.Errorf("storage set: %w", err)
		}
		if next := others + int64(len(value)); next > b.quota {
			return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, next, b.quota)
		}
	}

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO items (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage set: %w", err)
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Delete(key string) error {
	if _, err := b.db.Exec(`DELETE FROM items WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage delete: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Keys() ([]string, error) {
	rows, err := b.db.Query(`SELECT key FROM items ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("storage keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("storage keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Estimate() (Estimate, error) {
	var used int64
	if err := b.db.QueryRow(`SELECT COALESCE(SUM(LENGTH(value)), 0) FROM items`).Scan(&used); err != nil {
		return Estimate{}, fmt.Errorf("storage estimate: %w", err)
	}
	return Estimate{Usage: used, Quota: b.quota}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
