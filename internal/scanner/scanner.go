// Package scanner runs the poll cycle: fetch listings, diff availability and
// dispatch notifications for listings that came back in stock.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/marketplace"
	"github.com/bissquit/bagwatch/internal/notifications"
	"github.com/bissquit/bagwatch/internal/pkg/ctxlog"
	"github.com/bissquit/bagwatch/internal/tracker"
)

const (
	defaultSleepTime     = 60 * time.Second
	defaultPageSize      = 100
	defaultPageAttempts  = 5
	defaultRetryDelay    = time.Second
	defaultRetryMaxDelay = 30 * time.Second
)

// Marketplace is the subset of the marketplace client used by the scanner.
type Marketplace interface {
	FetchItem(ctx context.Context, id string) (domain.Item, error)
	ListItems(ctx context.Context, filter marketplace.ListFilter) ([]domain.Item, error)
}

// Notifier delivers availability events.
type Notifier interface {
	Dispatch(ctx context.Context, item domain.Item) notifications.DispatchResult
}

// CredentialSource exposes the session's current tokens without network access.
type CredentialSource interface {
	Credentials() domain.Credentials
}

// TokenSaver persists credentials between runs.
type TokenSaver interface {
	Save(ctx context.Context, creds domain.Credentials) error
}

// Config holds scanner configuration.
type Config struct {
	SleepTime    time.Duration
	ItemIDs      []string
	PageSize     int
	PageAttempts int
	RetryDelay   time.Duration
}

// Deps are the collaborators of a Scanner. Session and Tokens are optional.
type Deps struct {
	Market   Marketplace
	Notifier Notifier
	Session  CredentialSource
	Tokens   TokenSaver
}

// Scanner polls the marketplace and notifies on availability edges.
type Scanner struct {
	config  Config
	deps    Deps
	tracker *tracker.Tracker
	logger  *slog.Logger

	ready     atomic.Bool
	lastSaved domain.Credentials

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a scanner. Zero config values select the defaults.
func New(config Config, deps Deps, logger *slog.Logger) (*Scanner, error) {
	if deps.Market == nil {
		return nil, domain.NewConfigurationError("scanner", "marketplace client is required")
	}
	if deps.Notifier == nil {
		return nil, domain.NewConfigurationError("scanner", "notifier is required")
	}
	if config.SleepTime <= 0 {
		config.SleepTime = defaultSleepTime
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.PageAttempts <= 0 {
		config.PageAttempts = defaultPageAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	return &Scanner{
		config:  config,
		deps:    deps,
		tracker: tracker.New(logger),
		logger:  logger,
		random:  rand.Float64,
		sleep:   sleepContext,
	}, nil
}

// Ready reports whether at least one cycle has completed.
func (s *Scanner) Ready() bool {
	return s.ready.Load()
}

// Run executes cycles until ctx is cancelled. It returns nil on cancellation
// and a non-nil error only when the session can no longer log in.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("scanner started",
		"sleep_time", s.config.SleepTime,
		"item_ids", len(s.config.ItemIDs),
		"page_size", s.config.PageSize,
	)

	for {
		if err := s.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("scanner stopped", "error", err)
				return nil
			}
			if isFatal(err) {
				return err
			}
			s.logger.Error("scan cycle failed", "error", err)
		}

		if err := s.sleep(ctx, s.nextSleep()); err != nil {
			s.logger.Info("scanner stopped")
			return nil
		}
	}
}

func (s *Scanner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in scan cycle: %v", p)
		}
	}()
	return s.RunCycle(ctx)
}

// RunCycle performs one poll: explicit ids, favorites, diff, dispatch, token save.
func (s *Scanner) RunCycle(ctx context.Context) error {
	start := time.Now()
	logger := s.logger.With("cycle_id", uuid.NewString())
	ctx = ctxlog.WithLogger(ctx, logger)
	defer func() { recordCycle(start, time.Now()) }()

	var items []domain.Item
	for _, id := range s.config.ItemIDs {
		if id == "" {
			continue
		}
		item, err := s.deps.Market.FetchItem(ctx, id)
		if err != nil {
			if isFatal(err) {
				return err
			}
			logger.Error("failed to fetch item", "item_id", id, "error", err)
			continue
		}
		items = append(items, item)
	}

	favorites, err := s.favorites(ctx, logger)
	if err != nil {
		if isFatal(err) {
			return err
		}
		logger.Error("failed to fetch favorites, skipping remaining pages", "fetched", len(favorites), "error", err)
	}
	items = append(items, favorites...)

	for _, item := range items {
		itemAvailable.WithLabelValues(item.ID, item.DisplayName).Set(float64(item.ItemsAvailable))

		event, ok := s.tracker.Observe(item)
		if !ok {
			continue
		}
		logger.Info("items available",
			"item_id", item.ID,
			"display_name", item.DisplayName,
			"items_available", item.ItemsAvailable,
			"price", notifications.FormatPrice(item.Price),
			"previous", event.Previous,
		)
		itemNotifications.WithLabelValues(item.ID, item.DisplayName).Inc()
		result := s.deps.Notifier.Dispatch(ctx, event.Item)
		if len(result.Failed) > 0 {
			logger.Warn("notification not delivered on every channel",
				"item_id", item.ID,
				"failed", result.Failed,
			)
		}
	}

	logger.Debug("cycle finished",
		"items", len(items),
		"state", s.tracker.Snapshot(),
		"duration", time.Since(start),
	)

	s.saveTokens(ctx, logger)
	s.ready.Store(true)
	return nil
}

// favorites pages through the favorites listing until a short page.
// A failing page is re-fetched; rate limiting or a failed login stops at once.
func (s *Scanner) favorites(ctx context.Context, logger *slog.Logger) ([]domain.Item, error) {
	var all []domain.Item

	for page := 1; ; page++ {
		var (
			items   []domain.Item
			lastErr error
		)
		err := retry.Do(
			func() error {
				var err error
				items, err = s.deps.Market.ListItems(ctx, marketplace.ListFilter{
					FavoritesOnly: true,
					Page:          page,
					PageSize:      s.config.PageSize,
				})
				if err != nil {
					favoritesErrors.Inc()
					lastErr = err
				}
				return err
			},
			retry.Attempts(uint(s.config.PageAttempts)),
			retry.Delay(s.config.RetryDelay),
			retry.MaxDelay(defaultRetryMaxDelay),
			retry.MaxJitter(max(s.config.RetryDelay/2, time.Millisecond)),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				logger.Warn("retrying favorites page", "page", page, "attempt", n+1, "error", err)
			}),
			retry.RetryIf(func(err error) bool {
				return !marketplace.IsRateLimited(err) && !isFatal(err)
			}),
		)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return all, fmt.Errorf("favorites page %d: %w", page, lastErr)
		}

		all = append(all, items...)
		if len(items) < s.config.PageSize {
			return all, nil
		}
	}
}

func (s *Scanner) saveTokens(ctx context.Context, logger *slog.Logger) {
	if s.deps.Tokens == nil || s.deps.Session == nil {
		return
	}
	creds := s.deps.Session.Credentials()
	if !creds.Complete() || creds == s.lastSaved {
		return
	}
	if err := s.deps.Tokens.Save(ctx, creds); err != nil {
		logger.Error("failed to save tokens", "error", err)
		return
	}
	s.lastSaved = creds
	logger.Debug("tokens saved")
}

// nextSleep spreads cycles by ±10% around the configured sleep time.
func (s *Scanner) nextSleep() time.Duration {
	return time.Duration(float64(s.config.SleepTime) * (0.9 + 0.2*s.random()))
}

func isFatal(err error) bool {
	return errors.Is(err, marketplace.ErrLoginFailed)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
