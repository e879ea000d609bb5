// Package sqlite stores marketplace credentials in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/tokens"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);`

// Store implements tokens.Store on a SQLite file.
type Store struct {
	db    *sql.DB
	key   string
	codec *tokens.Codec
	now   func() time.Time
}

// Open creates the database file and schema when missing.
func Open(ctx context.Context, path, key string, codec *tokens.Codec) (*Store, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("tokens", "path is required for the sqlite backend")
	}
	if key == "" {
		return nil, domain.NewConfigurationError("tokens", "key is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare sqlite: %w", err)
		}
	}

	return &Store{db: db, key: key, codec: codec, now: time.Now}, nil
}

// Load reads the row for the store key.
func (s *Store) Load(ctx context.Context) (domain.Credentials, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM credentials WHERE key = ?`, s.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credentials{}, false, nil
	}
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("load tokens: %w", err)
	}

	creds, err := s.codec.Decode(payload)
	if err != nil {
		return domain.Credentials{}, false, err
	}
	return creds, true, nil
}

// Save upserts the row for the store key.
func (s *Store) Save(ctx context.Context, creds domain.Credentials) error {
	payload, err := s.codec.Encode(creds)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, s.key, payload, s.now().Unix())
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
