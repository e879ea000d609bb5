// Package pushsafer provides push notification sending via the PushSafer API.
package pushsafer

import (
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
	channelName    = "pushsafer"
	defaultAPIURL  = "https://www.pushsafer.com/api"
	defaultTimeout = 60 * time.Second
)

// Config holds PushSafer sender configuration.
type Config struct {
	Enabled  bool
	Key      string // private or alias key
	DeviceID string // device or device group id, "a" for all devices
	Timeout  time.Duration
	APIURL   string
}

// Sender implements notifications.Channel for PushSafer.
type Sender struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

type apiResponse struct {
	Status  int    `json:"status"`
	Success string `json:"success"`
	Error   string `json:"error"`
}

// NewSender creates a new PushSafer sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	s := &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
	if !config.Enabled {
		return s, nil
	}

	if config.Key == "" {
		return nil, domain.NewConfigurationError(channelName, "key is required when enabled")
	}
	if config.DeviceID == "" {
		return nil, domain.NewConfigurationError(channelName, "device id is required when enabled")
	}
	return s, nil
}

// Name returns the channel name.
func (s *Sender) Name() string { return channelName }

// Enabled reports whether the channel is configured to send.
func (s *Sender) Enabled() bool { return s.config.Enabled }

// Init logs the effective configuration.
func (s *Sender) Init(_ context.Context) error {
	s.logger.Info("pushsafer sender configured", "device", s.config.DeviceID)
	return nil
}

// Send pushes "New Amount: N" titled with the item's display name.
func (s *Sender) Send(ctx context.Context, item domain.Item) error {
	form := url.Values{
		"k": {s.config.Key},
		"d": {s.config.DeviceID},
		"t": {item.DisplayName},
		"m": {"New Amount: " + strconv.Itoa(item.ItemsAvailable)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &notifications.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.Status != 1 {
		if out.Error == "" {
			return fmt.Errorf("pushsafer status %d", out.Status)
		}
		return errors.New("pushsafer: " + out.Error)
	}

	s.logger.Debug("pushsafer message sent", "item_id", item.ID, "result", out.Success)
	return nil
}
