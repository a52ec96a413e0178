// Package sqlite stores list snapshots in a SQLite database file through the
// pure Go modernc.org/sqlite driver. Snapshots survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	pr "github.com/unkn0wn-root/sbcache/provider"
)

const memoryPath = ":memory:"

type Config struct {
	Path string           // required; ":memory:" keeps the database in process
	Now  func() time.Time // nil => time.Now; drives TTL expiry
}

// Store keeps one row per key. Expired rows are dropped when read.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ pr.Provider = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is empty")
	}
	if cfg.Path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one connection: serializes writers and keeps ":memory:" alive
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: cfg.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_unix_ns INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_unix_ns FROM snapshots WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expires != 0 && s.now().UnixNano() >= expires {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM snapshots WHERE key = ? AND expires_unix_ns = ?`, key, expires)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, expires_unix_ns) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_unix_ns = excluded.expires_unix_ns`,
		key, value, expires)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	return err
}

func (s *Store) Close(context.Context) error { return s.db.Close() }
