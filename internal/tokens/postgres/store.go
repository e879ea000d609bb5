// Package postgres stores marketplace credentials in PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/bagwatch/internal/domain"
	pg "github.com/bissquit/bagwatch/internal/pkg/postgres"
	"github.com/bissquit/bagwatch/internal/tokens"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds postgres token store configuration.
type Config struct {
	URL             string
	Key             string
	ConnectAttempts int
}

// Store implements tokens.Store on a credentials table.
type Store struct {
	pool  *pgxpool.Pool
	key   string
	codec *tokens.Codec
}

// Open migrates the schema and connects.
func Open(ctx context.Context, cfg Config, codec *tokens.Codec, logger *slog.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, domain.NewConfigurationError("tokens", "database url is required for the postgres backend")
	}
	if cfg.Key == "" {
		return nil, domain.NewConfigurationError("tokens", "key is required")
	}

	if err := pg.Migrate(cfg.URL, migrationsFS, "migrations"); err != nil {
		return nil, err
	}

	pool, err := pg.Connect(ctx, pg.Config{URL: cfg.URL, MaxConns: 2, ConnectAttempts: cfg.ConnectAttempts}, logger)
	if err != nil {
		return nil, err
	}

	return New(pool, cfg.Key, codec), nil
}

// New wraps an existing pool. The credentials table must exist.
func New(pool *pgxpool.Pool, key string, codec *tokens.Codec) *Store {
	return &Store{pool: pool, key: key, codec: codec}
}

// Load reads the row for the store key.
func (s *Store) Load(ctx context.Context) (domain.Credentials, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM credentials WHERE key = $1`, s.key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO credentials (key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, s.key, payload)
	if err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Pool exposes the connection pool for metrics collection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
