package kvstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a KVStore backed by a single table, opened in WAL mode for
// concurrent access from the app and any background hydration.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if absent) a SQLite-backed KVStore at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create kvstore directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kvstore database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping kvstore database: %w", err)
	}

	store := &SQLite{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize kvstore schema: %w", err)
	}
	return store, nil
}

func (s *SQLite) initSchema() error {
	_, err := s.db.Exec(`
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS kv_items (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("create kvstore schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close kvstore database: %w", err)
	}
	return nil
}

// GetItem implements KVStore.
func (s *SQLite) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT value FROM kv_items WHERE key = ?`, key)
		return row.Scan(&value)
	})
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get kvstore item %q: %w", key, err)
	}
	return value, true, nil
}

// SetItem implements KVStore.
func (s *SQLite) SetItem(ctx context.Context, key, value string) error {
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO kv_items (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		return err
	})
	if err != nil {
		return fmt.Errorf("set kvstore item %q: %w", key, err)
	}
	return nil
}

// RemoveItem implements KVStore.
func (s *SQLite) RemoveItem(ctx context.Context, key string) error {
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM kv_items WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("remove kvstore item %q: %w", key, err)
	}
	return nil
}

// isSQLiteConflictError reports whether err is a SQLITE_BUSY or
// "database is locked" error — both transient and worth retrying.
func isSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked")
}

// withRetry runs fn up to three times in all (two retries, 50ms then
// 100ms apart) on a SQLite busy/locked error, matching the teacher store's DeleteAgentSession
// retry shape.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || err == sql.ErrNoRows || !isSQLiteConflictError(err) {
			return err
		}
		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-time.After(baseDelay * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
