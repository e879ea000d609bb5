// Package app wires configuration, the marketplace client, the token store,
// the notification channels and the scanner into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/marketplace"
	"github.com/bissquit/bagwatch/internal/notifications"
	"github.com/bissquit/bagwatch/internal/pkg/metrics"
	"github.com/bissquit/bagwatch/internal/scanner"
	"github.com/bissquit/bagwatch/internal/tokens"
	"github.com/bissquit/bagwatch/internal/version"
)

const dbMetricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	client  *marketplace.Client
	store   tokens.Store
	router  *notifications.Router
	scanner *scanner.Scanner
	server  *http.Server

	metricsCancel context.CancelFunc
}

// New creates a new application instance. Network access is limited to
// opening the token store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	client, store, err := newClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	channels, err := buildChannels(cfg.Notifications, logger)
	if err != nil {
		closeQuietly(client, store)
		return nil, err
	}
	router := notifications.NewRouter(logger, channels...)

	scan, err := scanner.New(scanner.Config{
		SleepTime:    cfg.Scanner.SleepTime,
		ItemIDs:      cfg.Scanner.ItemIDs,
		PageSize:     cfg.Scanner.PageSize,
		PageAttempts: cfg.Scanner.PageAttempts,
		RetryDelay:   cfg.Scanner.FavoritesRetryDelay,
	}, scanner.Deps{
		Market:   client,
		Notifier: router,
		Session:  client.Session(),
		Tokens:   store,
	}, logger)
	if err != nil {
		closeQuietly(client, store)
		return nil, err
	}

	app := &App{
		config:        cfg,
		logger:        logger,
		client:        client,
		store:         store,
		router:        router,
		scanner:       scan,
		metricsCancel: func() {},
	}

	if cfg.Metrics.Enabled {
		app.server = newOpsServer(cfg.Metrics.Address(), newOpsRouter(scan, logger))
	}

	metrics.BuildInfo.WithLabelValues(version.Version, version.GitCommit).Set(1)
	return app, nil
}

// newClient opens the token store and builds a marketplace client with the
// best credentials available.
func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*marketplace.Client, tokens.Store, error) {
	store, err := openTokenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	creds, err := resolveCredentials(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	m := cfg.Marketplace
	client, err := marketplace.NewClient(marketplace.Config{
		BaseURL:             m.BaseURL,
		Email:               m.Email,
		Credentials:         creds,
		UserAgent:           m.UserAgent,
		Language:            m.Language,
		DeviceType:          m.DeviceType,
		Timeout:             m.Timeout,
		AccessTokenLifetime: m.AccessTokenLifetime,
		MaxPollingTries:     m.MaxPollingTries,
		PollingWaitTime:     m.PollingWaitTime,
	}, logger.With("component", "marketplace"))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return client, store, nil
}

// Run initializes channels, starts the ops server and scans until ctx is
// cancelled. It returns an error when startup fails or the session can no
// longer log in.
func (a *App) Run(ctx context.Context) error {
	if err := a.router.Init(ctx); err != nil {
		return err
	}

	if a.config.Scanner.DisableTests {
		a.logger.Info("channel self-test disabled")
	} else if result := a.router.SelfTest(ctx); len(result.Failed) > 0 {
		a.logger.Warn("test notification failed on some channels", "failed", result.Failed)
	}

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	a.metricsCancel = metricsCancel
	if pp, ok := a.store.(poolProvider); ok {
		go metrics.CollectDBPoolMetrics(metricsCtx, pp.Pool(), dbMetricsInterval)
	}

	if a.server != nil {
		go func() {
			a.logger.Info("starting ops server", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server error", "error", err)
			}
		}()
	}

	a.sdNotify(daemon.SdNotifyReady)

	if err := a.scanner.Run(ctx); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	return nil
}

// Shutdown stops the ops server and releases the client and the token store.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	a.sdNotify(daemon.SdNotifyStopping)
	a.metricsCancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown ops server: %w", err))
		}
	}

	// Tokens may have been refreshed after the last cycle saved them.
	if creds := a.client.Session().Credentials(); creds.Complete() {
		if err := a.store.Save(ctx, creds); err != nil {
			errs = append(errs, fmt.Errorf("save tokens: %w", err))
		}
	}

	a.client.Close()
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close token store: %w", err))
	}

	return errors.Join(errs...)
}

// Handler returns the ops HTTP handler, or nil when metrics are disabled.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.logger.Warn("systemd notification failed", "state", state, "error", err)
		return
	}
	if sent {
		a.logger.Debug("systemd notified", "state", state)
	}
}

func closeQuietly(client *marketplace.Client, store tokens.Store) {
	client.Close()
	_ = store.Close()
}

// IsFatal reports whether err should end the process with a failure status.
func IsFatal(err error) bool {
	var cfgErr *domain.ConfigurationError
	return errors.As(err, &cfgErr) || errors.Is(err, marketplace.ErrLoginFailed)
}
