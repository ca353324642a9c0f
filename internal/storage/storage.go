// Package storage provides the sqlite-backed keyed blob store used for
// engagement settings, reusable authenticated-session state and the set of
// already-commented item ids.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Well-known blob keys.
const (
	KeyAuthDouyin    = "auth_douyin"
	KeyAuthXHS       = "auth_xhs"
	KeySettingDouyin = "setting_douyin"
	KeySettingXHS    = "setting_xhs"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_blobs (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS commented_items (
    item_id    TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);`

// Open opens (creating when absent) the sqlite database shared by the blob
// store and the task history store.
func Open(path string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite allows a single writer; keep the pool at one connection to
	// avoid SQLITE_BUSY under concurrent session + API writes.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	logger.Info("Storage database opened", zap.String("path", path))
	return db, nil
}

// KV is a keyed JSON blob store with whole-object replace semantics.
type KV struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewKV creates the blob store and ensures its schema exists.
func NewKV(db *sqlx.DB, logger *zap.Logger) (*KV, error) {
	if _, err := db.Exec(kvSchema); err != nil {
		return nil, fmt.Errorf("ensure kv schema: %w", err)
	}
	return &KV{db: db, logger: logger}, nil
}

// Get unmarshals the blob stored under key into v. The first return is
// false when no blob exists.
func (s *KV) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM kv_blobs WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get blob %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode blob %q: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the stored blob bytes without decoding.
func (s *KV) GetRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM kv_blobs WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob %q: %w", key, err)
	}
	return json.RawMessage(raw), true, nil
}

// Set replaces the blob stored under key with the JSON encoding of v.
func (s *KV) Set(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode blob %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO kv_blobs (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set blob %q: %w", key, err)
	}
	return nil
}

// Delete removes the blob stored under key. Deleting an absent key is not
// an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete blob %q: %w", key, err)
	}
	return nil
}

// AddCommentedID marks an item id as already commented.
func (s *KV) AddCommentedID(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO commented_items (item_id, created_at) VALUES (?, ?)
        ON CONFLICT(item_id) DO NOTHING`,
		itemID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record commented item %q: %w", itemID, err)
	}
	return nil
}

// HasCommentedID reports whether an item id was commented in any past
// session.
func (s *KV) HasCommentedID(ctx context.Context, itemID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM commented_items WHERE item_id = ?`, itemID)
	if err != nil {
		return false, fmt.Errorf("check commented item %q: %w", itemID, err)
	}
	return n > 0, nil
}
