package notifications

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/pkg/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name    string
	enabled bool
	initErr error
	sendErr error
	panics  bool
	delay   time.Duration

	mu   sync.Mutex
	sent []domain.Item
}

func (c *fakeChannel) Name() string  { return c.name }
func (c *fakeChannel) Enabled() bool { return c.enabled }

func (c *fakeChannel) Init(context.Context) error { return c.initErr }

func (c *fakeChannel) Send(_ context.Context, item domain.Item) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.panics {
		panic("channel exploded")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, item)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) sentItems() []domain.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Item(nil), c.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_SkipsDisabledChannels(t *testing.T) {
	on := &fakeChannel{name: "on", enabled: true}
	off := &fakeChannel{name: "off"}

	router := NewRouter(discardLogger(), on, off, nil)
	require.NoError(t, router.Init(context.Background()))

	result := router.Dispatch(context.Background(), sampleItem())

	assert.Equal(t, []string{"on"}, router.Channels())
	assert.Equal(t, []string{"on"}, result.Delivered)
	assert.Empty(t, off.sentItems())
}

func TestRouter_Init(t *testing.T) {
	t.Run("plain error is wrapped", func(t *testing.T) {
		router := NewRouter(discardLogger(), &fakeChannel{name: "email", enabled: true, initErr: errors.New("dial failed")})

		err := router.Init(context.Background())
		var cfgErr *domain.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "email", cfgErr.Component)
		assert.Contains(t, err.Error(), "dial failed")
	})

	t.Run("configuration error passes through", func(t *testing.T) {
		want := domain.NewConfigurationError("telegram", "bot token is required")
		router := NewRouter(discardLogger(), &fakeChannel{name: "telegram", enabled: true, initErr: want})

		err := router.Init(context.Background())
		assert.Same(t, want, err)
	})

	t.Run("disabled channel is not initialized", func(t *testing.T) {
		router := NewRouter(discardLogger(), &fakeChannel{name: "x", initErr: errors.New("boom")})
		assert.NoError(t, router.Init(context.Background()))
	})
}

func TestRouter_Dispatch_IsolatesFailures(t *testing.T) {
	ok1 := &fakeChannel{name: "ok1", enabled: true}
	failing := &fakeChannel{name: "failing", enabled: true, sendErr: errors.New("connection refused")}
	panicking := &fakeChannel{name: "panicking", enabled: true, panics: true}
	ok2 := &fakeChannel{name: "ok2", enabled: true}

	router := NewRouter(discardLogger(), ok1, failing, panicking, ok2)
	item := sampleItem()

	var result DispatchResult
	assert.NotPanics(t, func() {
		result = router.Dispatch(context.Background(), item)
	})

	assert.ElementsMatch(t, []string{"ok1", "ok2"}, result.Delivered)
	assert.ElementsMatch(t, []string{"failing", "panicking"}, result.Failed)
	assert.Equal(t, []domain.Item{item}, ok1.sentItems())
	assert.Equal(t, []domain.Item{item}, ok2.sentItems())
}

func TestRouter_Dispatch_UsesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	cycleLogger := slog.New(slog.NewTextHandler(&buf, nil)).With("cycle_id", "c-1")
	ctx := ctxlog.WithLogger(context.Background(), cycleLogger)

	router := NewRouter(discardLogger(), &fakeChannel{name: "ok", enabled: true})
	router.Dispatch(ctx, sampleItem())

	assert.Contains(t, buf.String(), "notification sent")
	assert.Contains(t, buf.String(), "cycle_id=c-1")
}

func TestRouter_Dispatch_RunsConcurrently(t *testing.T) {
	channels := make([]Channel, 0, 5)
	for i := 0; i < 5; i++ {
		channels = append(channels, &fakeChannel{name: "slow", enabled: true, delay: 100 * time.Millisecond})
	}
	router := NewRouter(discardLogger(), channels...)

	start := time.Now()
	result := router.Dispatch(context.Background(), sampleItem())

	assert.Len(t, result.Delivered, 5)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRouter_SelfTest(t *testing.T) {
	ch := &fakeChannel{name: "ch", enabled: true}
	router := NewRouter(discardLogger(), ch)
	router.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }

	router.SelfTest(context.Background())

	sent := ch.sentItems()
	require.Len(t, sent, 1)
	assert.Equal(t, "12345", sent[0].ID)
	assert.Equal(t, "test_item", sent[0].DisplayName)
	assert.Equal(t, 1, sent[0].ItemsAvailable)
	assert.Equal(t, "10.99", sent[0].Price.String())
	assert.Equal(t, "EUR", sent[0].Price.Currency)
	assert.Equal(t, time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), sent[0].Pickup.Start)
	assert.Equal(t, time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC), sent[0].Pickup.End)
}

func TestDeliveryError(t *testing.T) {
	cause := &StatusError{StatusCode: 502, Body: "bad gateway"}
	err := &DeliveryError{Channel: "webhook", Err: cause}

	assert.Equal(t, "webhook delivery failed: unexpected status 502: bad gateway", err.Error())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 502, statusErr.StatusCode)
}
