// Package store persists the device context (device id and share code) in a
// small SQLite key/value table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/seesafe/seesafe-agent/internal/logger"
	"github.com/seesafe/seesafe-agent/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);`

const (
	keyDeviceID  = "deviceId"
	keyShareCode = "shareCode"
)

// Store is safe for concurrent use
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Debug("Store", "Opened %s", path)
	return &Store{db: db}, nil
}

// Get returns the value for key; ok is false when missing
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM device_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// LoadContext returns the persisted device context; missing fields are empty
func (s *Store) LoadContext(ctx context.Context) (types.DeviceContext, error) {
	var dc types.DeviceContext
	var err error
	if dc.DeviceID, _, err = s.Get(ctx, keyDeviceID); err != nil {
		return dc, err
	}
	if dc.ShareCode, _, err = s.Get(ctx, keyShareCode); err != nil {
		return dc, err
	}
	return dc, nil
}

// SaveContext writes both fields in one transaction
func (s *Store) SaveContext(ctx context.Context, dc types.DeviceContext) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO device_kv (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	for _, kv := range [][2]string{{keyDeviceID, dc.DeviceID}, {keyShareCode, dc.ShareCode}} {
		if _, err := tx.ExecContext(ctx, upsert, kv[0], kv[1]); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
