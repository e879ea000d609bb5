package app

import (
	"fmt"
	"log/slog"

	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/notifications"
	"github.com/bissquit/bagwatch/internal/notifications/email"
	"github.com/bissquit/bagwatch/internal/notifications/ifttt"
	"github.com/bissquit/bagwatch/internal/notifications/pushsafer"
	"github.com/bissquit/bagwatch/internal/notifications/telegram"
	"github.com/bissquit/bagwatch/internal/notifications/webhook"
)

// buildChannels creates every channel sender. Disabled senders are returned
// too and dropped by the router.
func buildChannels(cfg config.NotificationsConfig, logger *slog.Logger) ([]notifications.Channel, error) {
	emailSender, err := email.NewSender(email.Config{
		Enabled:     cfg.Email.Enabled,
		SMTPHost:    cfg.Email.SMTPHost,
		SMTPPort:    cfg.Email.SMTPPort,
		SMTPUser:    cfg.Email.SMTPUser,
		SMTPPass:    cfg.Email.SMTPPass,
		UseTLS:      cfg.Email.UseTLS,
		FromAddress: cfg.Email.FromAddress,
		To:          cfg.Email.To,
		Subject:     cfg.Email.Subject,
		Body:        cfg.Email.Body,
		Timeout:     cfg.Email.Timeout,
	}, logger.With("channel", "email"))
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}

	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:   cfg.Telegram.Enabled,
		BotToken:  cfg.Telegram.BotToken,
		ChatIDs:   cfg.Telegram.ChatIDs,
		Body:      cfg.Telegram.Body,
		RateLimit: cfg.Telegram.RateLimit,
		Timeout:   cfg.Telegram.Timeout,
	}, logger.With("channel", "telegram"))
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}

	webhookSender, err := webhook.NewSender(webhook.Config{
		Enabled:     cfg.Webhook.Enabled,
		URL:         cfg.Webhook.URL,
		Method:      cfg.Webhook.Method,
		Body:        cfg.Webhook.Body,
		ContentType: cfg.Webhook.Type,
		Headers:     cfg.Webhook.Headers,
		Timeout:     cfg.Webhook.Timeout,
	}, logger.With("channel", "webhook"))
	if err != nil {
		return nil, fmt.Errorf("create webhook sender: %w", err)
	}

	iftttSender, err := ifttt.NewSender(ifttt.Config{
		Enabled: cfg.IFTTT.Enabled,
		Event:   cfg.IFTTT.Event,
		Key:     cfg.IFTTT.Key,
	}, logger.With("channel", "ifttt"))
	if err != nil {
		return nil, fmt.Errorf("create ifttt sender: %w", err)
	}

	pushsaferSender, err := pushsafer.NewSender(pushsafer.Config{
		Enabled:  cfg.PushSafer.Enabled,
		Key:      cfg.PushSafer.Key,
		DeviceID: cfg.PushSafer.DeviceID,
	}, logger.With("channel", "pushsafer"))
	if err != nil {
		return nil, fmt.Errorf("create pushsafer sender: %w", err)
	}

	return []notifications.Channel{
		emailSender,
		telegramSender,
		webhookSender,
		iftttSender,
		pushsaferSender,
	}, nil
}
