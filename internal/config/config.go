// Package config loads bagwatch configuration from defaults, a YAML file,
// a .env file and BAGWATCH_ prefixed environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bissquit/bagwatch/internal/domain"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "BAGWATCH_"
	// EnvNestingSeparator separates section levels in variable names,
	// e.g. BAGWATCH_MARKETPLACE__EMAIL.
	EnvNestingSeparator = "__"
)

// Token store backends.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the complete application configuration.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Scanner       ScannerConfig       `koanf:"scanner"`
	Marketplace   MarketplaceConfig   `koanf:"marketplace"`
	Tokens        TokensConfig        `koanf:"tokens"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// ScannerConfig configures the poll loop.
type ScannerConfig struct {
	SleepTime           time.Duration `koanf:"sleep_time" validate:"min=1s"`
	ItemIDs             []string      `koanf:"item_ids"`
	PageSize            int           `koanf:"page_size" validate:"min=1,max=400"`
	PageAttempts        int           `koanf:"page_attempts" validate:"min=1,max=20"`
	FavoritesRetryDelay time.Duration `koanf:"favorites_retry_delay" validate:"min=0"`
	DisableTests        bool          `koanf:"disable_tests"`
}

// MarketplaceConfig configures the API client and login session.
type MarketplaceConfig struct {
	BaseURL             string        `koanf:"base_url" validate:"required,url"`
	Email               string        `koanf:"email" validate:"omitempty,email"`
	AccessToken         string        `koanf:"access_token"`
	RefreshToken        string        `koanf:"refresh_token"`
	UserID              string        `koanf:"user_id"`
	Timeout             time.Duration `koanf:"timeout" validate:"min=1s"`
	AccessTokenLifetime time.Duration `koanf:"access_token_lifetime" validate:"min=1m"`
	MaxPollingTries     int           `koanf:"max_polling_tries" validate:"min=1"`
	PollingWaitTime     time.Duration `koanf:"polling_wait_time" validate:"min=0"`
	Language            string        `koanf:"language" validate:"required"`
	UserAgent           string        `koanf:"user_agent"`
	DeviceType          string        `koanf:"device_type" validate:"oneof=ANDROID IPHONE"`
}

// Credentials returns the configured token triple.
func (c MarketplaceConfig) Credentials() domain.Credentials {
	return domain.Credentials{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken, UserID: c.UserID}
}

// TokensConfig selects where credentials are persisted between runs.
type TokensConfig struct {
	Backend         string `koanf:"backend" validate:"oneof=none file sqlite postgres redis"`
	Key             string `koanf:"key"`
	Passphrase      string `koanf:"passphrase"`
	Path            string `koanf:"path"`
	DatabaseURL     string `koanf:"database_url"`
	ConnectAttempts int    `koanf:"connect_attempts" validate:"min=1"`
	RedisAddr       string `koanf:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword   string `koanf:"redis_password"`
	RedisDB         int    `koanf:"redis_db" validate:"min=0"`
}

// StoreKey returns the key tokens are stored under.
func (c TokensConfig) StoreKey(email string) string {
	switch {
	case c.Key != "":
		return c.Key
	case email != "":
		return email
	default:
		return "default"
	}
}

// MetricsConfig configures the ops HTTP server.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port" validate:"min=1,max=65535"`
}

// Address returns the listen address in host:port format.
func (c MetricsConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NotificationsConfig holds one block per delivery channel.
type NotificationsConfig struct {
	Email     EmailConfig     `koanf:"email"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	IFTTT     IFTTTConfig     `koanf:"ifttt"`
	PushSafer PushSaferConfig `koanf:"pushsafer"`
}

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Enabled     bool          `koanf:"enabled"`
	SMTPHost    string        `koanf:"smtp_host"`
	SMTPPort    int           `koanf:"smtp_port" validate:"omitempty,min=1,max=65535"`
	SMTPUser    string        `koanf:"smtp_user"`
	SMTPPass    string        `koanf:"smtp_pass"`
	UseTLS      bool          `koanf:"use_tls"`
	FromAddress string        `koanf:"from_address"`
	To          []string      `koanf:"to"`
	Subject     string        `koanf:"subject"`
	Body        string        `koanf:"body"`
	Timeout     time.Duration `koanf:"timeout"`
}

// TelegramConfig configures the chat bot channel.
type TelegramConfig struct {
	Enabled   bool          `koanf:"enabled"`
	BotToken  string        `koanf:"bot_token"`
	ChatIDs   []int64       `koanf:"chat_ids"`
	Body      string        `koanf:"body"`
	RateLimit float64       `koanf:"rate_limit" validate:"min=0"`
	Timeout   time.Duration `koanf:"timeout"`
}

// WebhookConfig configures the generic HTTP channel.
type WebhookConfig struct {
	Enabled bool              `koanf:"enabled"`
	URL     string            `koanf:"url"`
	Method  string            `koanf:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Body    string            `koanf:"body"`
	Type    string            `koanf:"type"`
	Headers map[string]string `koanf:"headers"`
	Timeout time.Duration     `koanf:"timeout"`
}

// IFTTTConfig configures the IFTTT Webhooks channel.
type IFTTTConfig struct {
	Enabled bool   `koanf:"enabled"`
	Event   string `koanf:"event"`
	Key     string `koanf:"key"`
}

// PushSaferConfig configures the PushSafer channel.
type PushSaferConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Key      string `koanf:"key"`
	DeviceID string `koanf:"device_id"`
}

// Default returns the configuration used when no source overrides a value.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Scanner: ScannerConfig{
			SleepTime:           60 * time.Second,
			PageSize:            100,
			PageAttempts:        5,
			FavoritesRetryDelay: time.Second,
		},
		Marketplace: MarketplaceConfig{
			BaseURL:             "https://apptoogoodtogo.com/api/",
			Timeout:             30 * time.Second,
			AccessTokenLifetime: 4 * time.Hour,
			MaxPollingTries:     24,
			PollingWaitTime:     5 * time.Second,
			Language:            "en-UK",
			DeviceType:          "ANDROID",
		},
		Tokens:  TokensConfig{Backend: BackendNone, ConnectAttempts: 5},
		Metrics: MetricsConfig{Host: "0.0.0.0", Port: 8000},
		Notifications: NotificationsConfig{
			Telegram: TelegramConfig{RateLimit: 1},
			IFTTT:    IFTTTConfig{Event: "tgtg_notification"},
		},
	}
}

// Load reads path (optional), then .env, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, &domain.ConfigurationError{Component: "config", Reason: "cannot read " + path, Err: err}
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, &domain.ConfigurationError{Component: "config", Reason: "cannot read environment", Err: err}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, &domain.ConfigurationError{Component: "config", Reason: "cannot decode configuration", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listKeys are decoded from comma separated environment values.
var listKeys = map[string]bool{
	"scanner.item_ids":                true,
	"notifications.telegram.chat_ids": true,
	"notifications.email.to":          true,
}

// envKey maps BAGWATCH_SCANNER__ITEM_IDS to scanner.item_ids. List values
// are split on commas so each element is weakly typed on its own.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, EnvPrefix)
	key = strings.ToLower(strings.ReplaceAll(key, EnvNestingSeparator, "."))
	if !listKeys[key] {
		return key, value
	}

	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return key, items
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &domain.ConfigurationError{Component: "config", Reason: formatValidationErrors(verrs), Err: err}
		}
		return &domain.ConfigurationError{Component: "config", Reason: "invalid configuration", Err: err}
	}

	m := c.Marketplace
	creds := m.Credentials()
	if !creds.Empty() && !creds.Complete() {
		return domain.NewConfigurationError("config", "marketplace access_token, refresh_token and user_id must be set together")
	}
	if m.Email == "" && !creds.Complete() && c.Tokens.Backend == BackendNone {
		return domain.NewConfigurationError("config", "marketplace email or tokens are required")
	}

	switch c.Tokens.Backend {
	case BackendFile, BackendSQLite:
		if c.Tokens.Path == "" {
			return domain.NewConfigurationError("config", "tokens.path is required for the "+c.Tokens.Backend+" backend")
		}
	case BackendPostgres:
		if c.Tokens.DatabaseURL == "" {
			return domain.NewConfigurationError("config", "tokens.database_url is required for the postgres backend")
		}
	case BackendRedis:
		if c.Tokens.RedisAddr == "" {
			return domain.NewConfigurationError("config", "tokens.redis_addr is required for the redis backend")
		}
	}

	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
