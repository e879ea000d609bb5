// Package telegram provides telegram notification sending via the Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/notifications"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	channelName      = "telegram"
	defaultBody      = "*${{display_name}}*\n*Available*: ${{items_available}}\n*Price*: ${{price}} ${{currency}}\n*Pickup*: ${{pickupdate}}"
	defaultRateLimit = 1.0
	defaultTimeout   = 60 * time.Second
)

// Config holds telegram sender configuration.
type Config struct {
	Enabled   bool
	BotToken  string
	ChatIDs   []int64
	Body      string
	RateLimit float64 // messages per second across all chats
	Timeout   time.Duration
	APIURL    string // empty selects the public Bot API
}

// Sender implements notifications.Channel for Telegram chats.
type Sender struct {
	config  Config
	body    *notifications.Template
	limiter *rate.Limiter
	bot     *tele.Bot
	logger  *slog.Logger
	now     func() time.Time
}

// NewSender creates a new telegram sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.Body == "" {
		config.Body = defaultBody
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	s := &Sender{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		logger:  logger,
		now:     time.Now,
	}
	if !config.Enabled {
		return s, nil
	}

	if config.BotToken == "" {
		return nil, domain.NewConfigurationError(channelName, "bot token is required when enabled")
	}
	if len(config.ChatIDs) == 0 {
		return nil, domain.NewConfigurationError(channelName, "at least one chat id is required when enabled")
	}

	body, err := notifications.ParseTemplate(channelName, config.Body)
	if err != nil {
		return nil, err
	}
	s.body = body

	return s, nil
}

// Name returns the channel name.
func (s *Sender) Name() string { return channelName }

// Enabled reports whether the channel is configured to send.
func (s *Sender) Enabled() bool { return s.config.Enabled }

// Init connects the bot and verifies the token with getMe.
func (s *Sender) Init(_ context.Context) error {
	bot, err := tele.NewBot(tele.Settings{
		URL:    s.config.APIURL,
		Token:  s.config.BotToken,
		Client: &http.Client{Timeout: s.config.Timeout},
	})
	if err != nil {
		return &domain.ConfigurationError{Component: channelName, Reason: "bot token rejected", Err: err}
	}
	s.bot = bot

	s.logger.Info("telegram sender configured",
		"bot", bot.Me.Username,
		"chats", len(s.config.ChatIDs),
		"rate_limit", s.config.RateLimit,
	)
	return nil
}

// Send posts the rendered message to every configured chat.
func (s *Sender) Send(ctx context.Context, item domain.Item) error {
	if s.bot == nil {
		return errors.New("telegram sender is not initialized")
	}

	text := s.body.Render(item, s.now())
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true}

	var errs []error
	for _, chatID := range s.config.ChatIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if _, err := s.bot.Send(&tele.Chat{ID: chatID}, text, opts); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		s.logger.Debug("telegram message sent", "chat_id", chatID, "item_id", item.ID)
	}

	return errors.Join(errs...)
}
