package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/pkg/ctxlog"
)

// DispatchResult lists the channels an item was delivered to and the ones that failed.
type DispatchResult struct {
	Delivered []string
	Failed    []string
}

// Router sends items to every enabled channel.
type Router struct {
	channels []Channel
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router over the given channels. Disabled channels are skipped.
func NewRouter(logger *slog.Logger, channels ...Channel) *Router {
	enabled := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil && ch.Enabled() {
			enabled = append(enabled, ch)
		}
	}
	return &Router{
		channels: enabled,
		logger:   logger,
		now:      time.Now,
	}
}

// Channels returns the names of the enabled channels.
func (r *Router) Channels() []string {
	names := make([]string, 0, len(r.channels))
	for _, ch := range r.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Init initializes every enabled channel. Any failure is fatal.
func (r *Router) Init(ctx context.Context) error {
	for _, ch := range r.channels {
		if err := ch.Init(ctx); err != nil {
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &cfgErr) {
				return err
			}
			return &domain.ConfigurationError{Component: ch.Name(), Reason: "initialization failed", Err: err}
		}
		r.logger.Info("notification channel enabled", "channel", ch.Name())
	}

	channelsEnabled.Set(float64(len(r.channels)))
	if len(r.channels) == 0 {
		r.logger.Warn("no notification channel enabled, availability changes will only be logged")
	}
	return nil
}

// Dispatch sends the item to all channels concurrently and waits for them.
// A failing or panicking channel is logged and never affects the others.
func (r *Router) Dispatch(ctx context.Context, item domain.Item) DispatchResult {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result DispatchResult
	)

	for _, ch := range r.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()

			err := r.send(ctx, ch, item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, ch.Name())
				return
			}
			result.Delivered = append(result.Delivered, ch.Name())
		}(ch)
	}

	wg.Wait()
	return result
}

func (r *Router) send(ctx context.Context, ch Channel, item domain.Item) (err error) {
	start := time.Now()
	logger := ctxlog.FromContext(ctx, r.logger)

	defer func() {
		if p := recover(); p != nil {
			err = &DeliveryError{Channel: ch.Name(), Err: fmt.Errorf("panic: %v", p)}
		}

		recordNotificationDuration(ch.Name(), time.Since(start))
		if err != nil {
			recordNotificationSent(ch.Name(), "failed")
			logger.Error("failed to send notification",
				"channel", ch.Name(),
				"item_id", item.ID,
				"display_name", item.DisplayName,
				"error", err,
			)
			return
		}
		recordNotificationSent(ch.Name(), "success")
		logger.Info("notification sent",
			"channel", ch.Name(),
			"item_id", item.ID,
			"items_available", item.ItemsAvailable,
		)
	}()

	if err := ch.Send(ctx, item); err != nil {
		var delivery *DeliveryError
		if errors.As(err, &delivery) {
			return err
		}
		return &DeliveryError{Channel: ch.Name(), Err: err}
	}
	return nil
}

// SelfTest sends a synthetic item through every channel.
func (r *Router) SelfTest(ctx context.Context) DispatchResult {
	r.logger.Info("sending test notifications")
	return r.Dispatch(ctx, TestItem(r.now()))
}

// TestItem returns the synthetic item used to check channel configuration.
func TestItem(now time.Time) domain.Item {
	y, m, d := now.Date()
	return domain.Item{
		ID:             "12345",
		DisplayName:    "test_item",
		ItemsAvailable: 1,
		Price:          domain.Price{MinorUnits: 1099, Decimals: 2, Currency: "EUR"},
		Pickup: &domain.PickupWindow{
			Start: time.Date(y, m, d, 20, 0, 0, 0, time.UTC),
			End:   time.Date(y, m, d, 21, 0, 0, 0, time.UTC),
		},
	}
}
