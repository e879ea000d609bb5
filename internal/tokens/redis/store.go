// Package redis stores marketplace credentials in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/tokens"
)

const keyPrefix = "bagwatch:tokens:"

// Config holds redis token store configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store implements tokens.Store on a single Redis string key.
type Store struct {
	client *redis.Client
	key    string
	codec  *tokens.Codec
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config, codec *tokens.Codec) (*Store, error) {
	if cfg.Addr == "" {
		return nil, domain.NewConfigurationError("tokens", "redis address is required for the redis backend")
	}
	if cfg.Key == "" {
		return nil, domain.NewConfigurationError("tokens", "key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client, key: keyPrefix + cfg.Key, codec: codec}, nil
}

// Load reads the key.
func (s *Store) Load(ctx context.Context) (domain.Credentials, bool, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
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

// Save overwrites the key without expiry.
func (s *Store) Save(ctx context.Context, creds domain.Credentials) error {
	payload, err := s.codec.Encode(creds)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
