package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValidWithEmail(t *testing.T) {
	cfg := Default()
	cfg.Marketplace.Email = "me@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: text
scanner:
  sleep_time: 2m
  item_ids: ["123", "456"]
marketplace:
  email: me@example.com
  polling_wait_time: 10s
tokens:
  backend: file
  path: /var/lib/bagwatch/tokens.json
notifications:
  telegram:
    enabled: true
    bot_token: "123:abc"
    chat_ids: [100, -200]
  webhook:
    enabled: true
    url: https://example.com/hook
    method: POST
    headers:
      Authorization: Bearer x
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.SleepTime)
	assert.Equal(t, []string{"123", "456"}, cfg.Scanner.ItemIDs)
	assert.Equal(t, 100, cfg.Scanner.PageSize, "defaults survive a partial file")
	assert.Equal(t, "me@example.com", cfg.Marketplace.Email)
	assert.Equal(t, 10*time.Second, cfg.Marketplace.PollingWaitTime)
	assert.Equal(t, 24, cfg.Marketplace.MaxPollingTries)
	assert.Equal(t, BackendFile, cfg.Tokens.Backend)
	assert.Equal(t, []int64{100, -200}, cfg.Notifications.Telegram.ChatIDs)
	assert.Equal(t, 1.0, cfg.Notifications.Telegram.RateLimit)
	assert.Equal(t, "Bearer x", cfg.Notifications.Webhook.Headers["Authorization"])
	assert.Equal(t, "tgtg_notification", cfg.Notifications.IFTTT.Event)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
marketplace:
  email: file@example.com
scanner:
  sleep_time: 2m
`)
	t.Setenv("BAGWATCH_MARKETPLACE__EMAIL", "env@example.com")
	t.Setenv("BAGWATCH_SCANNER__ITEM_IDS", "1,2,3")
	t.Setenv("BAGWATCH_SCANNER__SLEEP_TIME", "90s")
	t.Setenv("BAGWATCH_NOTIFICATIONS__TELEGRAM__CHAT_IDS", "5,6")
	t.Setenv("BAGWATCH_METRICS__ENABLED", "true")
	t.Setenv("BAGWATCH_METRICS__PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env@example.com", cfg.Marketplace.Email)
	assert.Equal(t, []string{"1", "2", "3"}, cfg.Scanner.ItemIDs)
	assert.Equal(t, 90*time.Second, cfg.Scanner.SleepTime)
	assert.Equal(t, []int64{5, 6}, cfg.Notifications.Telegram.ChatIDs)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "0.0.0.0:9100", cfg.Metrics.Address())
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BAGWATCH_MARKETPLACE__ACCESS_TOKEN", "a")
	t.Setenv("BAGWATCH_MARKETPLACE__REFRESH_TOKEN", "r")
	t.Setenv("BAGWATCH_MARKETPLACE__USER_ID", "u")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{AccessToken: "a", RefreshToken: "r", UserID: "u"}, cfg.Marketplace.Credentials())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config", cfgErr.Component)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "no email and no tokens",
			mutate:  func(c *Config) { c.Marketplace.Email = "" },
			wantErr: "email or tokens are required",
		},
		{
			name: "partial tokens",
			mutate: func(c *Config) {
				c.Marketplace.AccessToken = "a"
			},
			wantErr: "must be set together",
		},
		{
			name: "stored tokens replace email",
			mutate: func(c *Config) {
				c.Marketplace.Email = ""
				c.Tokens.Backend = BackendSQLite
				c.Tokens.Path = "bagwatch.db"
			},
		},
		{
			name:    "invalid email",
			mutate:  func(c *Config) { c.Marketplace.Email = "not-an-email" },
			wantErr: "marketplace.email: failed email",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "log.level: failed oneof",
		},
		{
			name:    "sleep too short",
			mutate:  func(c *Config) { c.Scanner.SleepTime = 100 * time.Millisecond },
			wantErr: "scanner.sleep_time: failed min=1s",
		},
		{
			name:    "page size too large",
			mutate:  func(c *Config) { c.Scanner.PageSize = 1000 },
			wantErr: "scanner.page_size",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Tokens.Backend = "etcd" },
			wantErr: "tokens.backend: failed oneof",
		},
		{
			name:    "file backend without path",
			mutate:  func(c *Config) { c.Tokens.Backend = BackendFile },
			wantErr: "tokens.path is required",
		},
		{
			name:    "postgres backend without url",
			mutate:  func(c *Config) { c.Tokens.Backend = BackendPostgres },
			wantErr: "tokens.database_url is required",
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *Config) { c.Tokens.Backend = BackendRedis },
			wantErr: "tokens.redis_addr is required",
		},
		{
			name:    "bad redis address",
			mutate:  func(c *Config) { c.Tokens.RedisAddr = "localhost" },
			wantErr: "tokens.redis_addr: failed hostname_port",
		},
		{
			name:    "invalid webhook method",
			mutate:  func(c *Config) { c.Notifications.Webhook.Method = "TRACE" },
			wantErr: "notifications.webhook.method",
		},
		{
			name:    "invalid base url",
			mutate:  func(c *Config) { c.Marketplace.BaseURL = "not a url" },
			wantErr: "marketplace.base_url: failed url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Marketplace.Email = "me@example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTokensConfig_StoreKey(t *testing.T) {
	assert.Equal(t, "custom", TokensConfig{Key: "custom"}.StoreKey("me@example.com"))
	assert.Equal(t, "me@example.com", TokensConfig{}.StoreKey("me@example.com"))
	assert.Equal(t, "default", TokensConfig{}.StoreKey(""))
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		wantKey   string
		wantValue any
	}{
		{
			name:      "scalar",
			key:       "BAGWATCH_NOTIFICATIONS__EMAIL__SMTP_HOST",
			value:     "smtp.example.com",
			wantKey:   "notifications.email.smtp_host",
			wantValue: "smtp.example.com",
		},
		{
			name:      "chat ids",
			key:       "BAGWATCH_NOTIFICATIONS__TELEGRAM__CHAT_IDS",
			value:     "5, 6,",
			wantKey:   "notifications.telegram.chat_ids",
			wantValue: []string{"5", "6"},
		},
		{
			name:      "single item id",
			key:       "BAGWATCH_SCANNER__ITEM_IDS",
			value:     "42",
			wantKey:   "scanner.item_ids",
			wantValue: []string{"42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, value := envKey(tt.key, tt.value)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestLoad_EnvListsOnly(t *testing.T) {
	t.Setenv("BAGWATCH_MARKETPLACE__EMAIL", "me@example.com")
	t.Setenv("BAGWATCH_NOTIFICATIONS__TELEGRAM__CHAT_IDS", "-1001,42")
	t.Setenv("BAGWATCH_NOTIFICATIONS__EMAIL__TO", "a@example.com,b@example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001, 42}, cfg.Notifications.Telegram.ChatIDs)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notifications.Email.To)
}
