// Package email provides email notification sending via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/notifications"
)

const (
	channelName    = "email"
	defaultSubject = "New Magic Bags"
	defaultBody    = "${{display_name}} - New Amount: ${{items_available}}"
	defaultTimeout = 10 * time.Second
)

// Config holds email sender configuration.
type Config struct {
	Enabled     bool
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	UseTLS      bool // implicit TLS (port 465); STARTTLS is used when offered otherwise
	FromAddress string
	To          []string
	Subject     string
	Body        string
	Timeout     time.Duration
}

// Sender implements notifications.Channel over SMTP.
type Sender struct {
	config  Config
	auth    smtp.Auth
	subject *notifications.Template
	body    *notifications.Template
	logger  *slog.Logger
	now     func() time.Time
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, logger *slog.Logger) (*Sender, error) {
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.Subject == "" {
		config.Subject = defaultSubject
	}
	if config.Body == "" {
		config.Body = defaultBody
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	s := &Sender{config: config, logger: logger, now: time.Now}
	if !config.Enabled {
		return s, nil
	}

	if config.SMTPHost == "" {
		return nil, domain.NewConfigurationError(channelName, "SMTP host is required when enabled")
	}
	if config.FromAddress == "" {
		return nil, domain.NewConfigurationError(channelName, "from address is required when enabled")
	}
	if len(config.To) == 0 {
		return nil, domain.NewConfigurationError(channelName, "at least one recipient is required when enabled")
	}

	var err error
	if s.subject, err = notifications.ParseTemplate(channelName, config.Subject); err != nil {
		return nil, err
	}
	if s.body, err = notifications.ParseTemplate(channelName, config.Body); err != nil {
		return nil, err
	}

	if config.SMTPUser != "" && config.SMTPPass != "" {
		s.auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPass, config.SMTPHost)
	}

	return s, nil
}

// Name returns the channel name.
func (s *Sender) Name() string { return channelName }

// Enabled reports whether the channel is configured to send.
func (s *Sender) Enabled() bool { return s.config.Enabled }

// Init connects to the SMTP server once so a wrong host or credentials fail at startup.
func (s *Sender) Init(ctx context.Context) error {
	client, closeConn, err := s.dial(ctx)
	if err != nil {
		return &domain.ConfigurationError{Component: channelName, Reason: "cannot connect to SMTP server", Err: err}
	}
	defer closeConn()

	if err := client.Quit(); err != nil {
		s.logger.Debug("smtp quit failed", "error", err)
	}

	s.logger.Info("email sender configured",
		"smtp_host", s.config.SMTPHost,
		"smtp_port", s.config.SMTPPort,
		"from_address", s.config.FromAddress,
		"recipients", len(s.config.To),
	)
	return nil
}

// Send emails the rendered notification to all recipients.
func (s *Sender) Send(ctx context.Context, item domain.Item) error {
	now := s.now()
	msg := s.buildMessage(s.subject.Render(item, now), s.body.Render(item, now))
	return s.sendMail(ctx, s.config.To, msg)
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(subject, body string) []byte {
	var msg strings.Builder

	// Headers in deterministic order
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", s.now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// dial opens an SMTP session, upgrading with TLS and authenticating as configured.
func (s *Sender) dial(ctx context.Context) (*smtp.Client, func(), error) {
	addr := net.JoinHostPort(s.config.SMTPHost, fmt.Sprint(s.config.SMTPPort))
	tlsConfig := &tls.Config{
		ServerName: s.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	dialer := &net.Dialer{Timeout: s.config.Timeout}
	var conn net.Conn
	var err error
	if s.config.UseTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.config.Timeout))
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create smtp client: %w", err)
	}
	closeConn := func() {
		_ = client.Close()
	}

	// STARTTLS if available
	if !s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				closeConn()
				return nil, nil, fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			closeConn()
			return nil, nil, fmt.Errorf("auth: %w", err)
		}
	}

	return client, closeConn, nil
}

// sendMail delivers msg to the recipients over a fresh SMTP session.
func (s *Sender) sendMail(ctx context.Context, recipients []string, msg []byte) error {
	client, closeConn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer closeConn()

	from := extractEmail(s.config.FromAddress)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	var addedRecipients int
	for _, rcpt := range recipients {
		if err := client.Rcpt(extractEmail(rcpt)); err != nil {
			s.logger.Warn("failed to add recipient",
				"recipient", rcpt,
				"error", err,
			)
			continue
		}
		addedRecipients++
	}

	if addedRecipients == 0 {
		return errors.New("no valid recipients")
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return strings.TrimSpace(address)
}
