package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/tokens"
	tokenspostgres "github.com/bissquit/bagwatch/internal/tokens/postgres"
	tokensredis "github.com/bissquit/bagwatch/internal/tokens/redis"
	tokenssqlite "github.com/bissquit/bagwatch/internal/tokens/sqlite"
)

// openTokenStore opens the configured credential store.
func openTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tokens.Store, error) {
	tc := cfg.Tokens
	codec := tokens.NewCodec(tc.Passphrase)
	key := tc.StoreKey(cfg.Marketplace.Email)

	var (
		store tokens.Store
		err   error
	)
	switch tc.Backend {
	case config.BackendNone, "":
		return tokens.Nop{}, nil
	case config.BackendFile:
		store, err = tokens.NewFileStore(tc.Path, codec)
	case config.BackendSQLite:
		store, err = tokenssqlite.Open(ctx, tc.Path, key, codec)
	case config.BackendPostgres:
		store, err = tokenspostgres.Open(ctx, tokenspostgres.Config{
			URL:             tc.DatabaseURL,
			Key:             key,
			ConnectAttempts: tc.ConnectAttempts,
		}, codec, logger)
	case config.BackendRedis:
		store, err = tokensredis.Open(ctx, tokensredis.Config{
			Addr:     tc.RedisAddr,
			Password: tc.RedisPassword,
			DB:       tc.RedisDB,
			Key:      key,
		}, codec)
	default:
		return nil, domain.NewConfigurationError("tokens", fmt.Sprintf("unknown backend %q", tc.Backend))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s token store: %w", tc.Backend, err)
	}

	logger.Info("token store opened", "backend", tc.Backend, "key", key, "encrypted", codec.Sealed())
	return store, nil
}

// resolveCredentials prefers configured tokens and falls back to the store.
func resolveCredentials(ctx context.Context, cfg *config.Config, store tokens.Store, logger *slog.Logger) (domain.Credentials, error) {
	creds := cfg.Marketplace.Credentials()
	if creds.Complete() {
		return creds, nil
	}

	stored, ok, err := store.Load(ctx)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("load stored tokens: %w", err)
	}
	if ok && stored.Complete() {
		logger.Info("using stored marketplace tokens", "user_id", stored.UserID)
		return stored, nil
	}

	if cfg.Marketplace.Email == "" {
		return domain.Credentials{}, domain.NewConfigurationError("config",
			"marketplace email is required when no tokens are configured or stored")
	}
	return domain.Credentials{}, nil
}

// poolProvider is implemented by stores backed by a pgx pool.
type poolProvider interface {
	Pool() *pgxpool.Pool
}
