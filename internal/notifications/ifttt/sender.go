// Package ifttt provides notification sending via IFTTT Webhooks applets.
package ifttt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/notifications"
)

const (
	channelName    = "ifttt"
	defaultBaseURL = "https://maker.ifttt.com"
	defaultEvent   = "tgtg_notification"
	defaultTimeout = 60 * time.Second
)

// Config holds IFTTT sender configuration.
type Config struct {
	Enabled bool
	Event   string
	Key     string
	Timeout time.Duration
	BaseURL string // empty selects the public maker endpoint
}

// Sender implements notifications.Channel for an IFTTT Webhooks trigger.
type Sender struct {
	config     Config
	triggerURL string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

type triggerPayload struct {
	Value1 string `json:"value1"`
	Value2 string `json:"value2"`
	Value3 string `json:"value3"`
}

// NewSender creates a new IFTTT sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.Event == "" {
		config.Event = defaultEvent
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	s := &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		now:        time.Now,
	}
	if !config.Enabled {
		return s, nil
	}

	if config.Key == "" {
		return nil, domain.NewConfigurationError(channelName, "webhooks key is required when enabled")
	}

	s.triggerURL = fmt.Sprintf("%s/trigger/%s/with/key/%s",
		strings.TrimRight(config.BaseURL, "/"),
		url.PathEscape(config.Event),
		url.PathEscape(config.Key),
	)
	return s, nil
}

// Name returns the channel name.
func (s *Sender) Name() string { return channelName }

// Enabled reports whether the channel is configured to send.
func (s *Sender) Enabled() bool { return s.config.Enabled }

// Init logs the effective configuration.
func (s *Sender) Init(_ context.Context) error {
	s.logger.Info("ifttt sender configured", "event", s.config.Event)
	return nil
}

// Send fires the trigger with the item name, amount and pickup window.
func (s *Sender) Send(ctx context.Context, item domain.Item) error {
	body, err := json.Marshal(triggerPayload{
		Value1: item.DisplayName,
		Value2: strconv.Itoa(item.ItemsAvailable),
		Value3: item.PickupDate(s.now()),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.triggerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The key is part of the URL; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("send request: %w", urlErr.Err)
		}
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &notifications.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	s.logger.Debug("ifttt trigger fired", "event", s.config.Event, "item_id", item.ID)
	return nil
}
