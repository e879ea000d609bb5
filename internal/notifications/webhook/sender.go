// Package webhook provides notification sending via arbitrary HTTP endpoints.
package webhook

import (
	"context"
	"encoding/json"
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
	"github.com/google/uuid"
)

const (
	channelName        = "webhook"
	defaultMethod      = http.MethodGet
	defaultContentType = "text/plain"
	defaultTimeout     = 60 * time.Second
	maxErrorBody       = 512
)

// idempotencyNamespace scopes Idempotency-Key values to this channel.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("bagwatch/webhook"))

// Config holds webhook sender configuration.
type Config struct {
	Enabled     bool
	URL         string // may contain ${{attribute}} placeholders
	Method      string
	Body        string // may contain ${{attribute}} placeholders
	ContentType string
	Headers     map[string]string
	Timeout     time.Duration
}

// Sender implements notifications.Channel for a generic HTTP endpoint.
type Sender struct {
	config     Config
	url        *notifications.Template
	body       *notifications.Template
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewSender creates a new webhook sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.Method == "" {
		config.Method = defaultMethod
	}
	config.Method = strings.ToUpper(config.Method)
	if config.ContentType == "" {
		config.ContentType = defaultContentType
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

	if config.URL == "" {
		return nil, domain.NewConfigurationError(channelName, "url is required when enabled")
	}

	var err error
	if s.url, err = notifications.ParseTemplate(channelName, config.URL); err != nil {
		return nil, err
	}
	if s.body, err = notifications.ParseTemplate(channelName, config.Body); err != nil {
		return nil, err
	}

	// The URL with placeholders blanked must still parse.
	probe := s.url.RenderEscaped(domain.Item{}, time.Time{}, func(string) string { return "x" })
	if u, err := url.Parse(probe); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.NewConfigurationError(channelName, fmt.Sprintf("invalid url %q", maskURL(config.URL)))
	}

	return s, nil
}

// Name returns the channel name.
func (s *Sender) Name() string { return channelName }

// Enabled reports whether the channel is configured to send.
func (s *Sender) Enabled() bool { return s.config.Enabled }

// Init logs the effective configuration. Endpoints are not probed since
// a request may have side effects on the receiving end.
func (s *Sender) Init(_ context.Context) error {
	s.logger.Info("webhook sender configured",
		"method", s.config.Method,
		"url", maskURL(s.config.URL),
		"content_type", s.config.ContentType,
		"headers", len(s.config.Headers),
	)
	return nil
}

// Send issues the configured request for item.
func (s *Sender) Send(ctx context.Context, item domain.Item) error {
	now := s.now()
	target := s.url.RenderEscaped(item, now, url.QueryEscape)

	var body io.Reader
	if !s.body.Empty() {
		var rendered string
		if isJSON(s.config.ContentType) {
			rendered = s.body.RenderEscaped(item, now, jsonEscape)
		} else {
			rendered = s.body.Render(item, now)
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, s.config.Method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", s.config.ContentType)
	req.Header.Set("Idempotency-Key", IdempotencyKey(item).String())
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, target)
}

func (s *Sender) handleResponse(resp *http.Response, target string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("webhook delivered", "url", maskURL(target), "status", resp.StatusCode)
		return nil
	}

	return &notifications.StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// IdempotencyKey derives a stable key from the item id, the available
// count and the pickup start, so a receiver can drop duplicate deliveries.
func IdempotencyKey(item domain.Item) uuid.UUID {
	var pickup string
	if item.Pickup != nil {
		pickup = item.Pickup.Start.UTC().Format(time.RFC3339)
	}
	name := item.ID + "|" + strconv.Itoa(item.ItemsAvailable) + "|" + pickup
	return uuid.NewSHA1(idempotencyNamespace, []byte(name))
}

func isJSON(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// jsonEscape escapes v for use inside a JSON string literal.
func jsonEscape(v string) string {
	b, _ := json.Marshal(v)
	return string(b[1 : len(b)-1])
}

// maskURL hides part of the URL for logging.
func maskURL(u string) string {
	if len(u) > 40 {
		return u[:20] + "..." + u[len(u)-10:]
	}
	return u
}
