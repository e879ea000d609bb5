package ifttt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSender_Validation(t *testing.T) {
	_, err := NewSender(Config{Enabled: true}, discardLogger())
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "ifttt", cfgErr.Component)
	assert.Contains(t, err.Error(), "key is required")

	sender, err := NewSender(Config{}, discardLogger())
	require.NoError(t, err)
	assert.False(t, sender.Enabled())
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(Config{Enabled: true, Key: "k3y"}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "tgtg_notification", sender.config.Event)
	assert.Equal(t, defaultTimeout, sender.config.Timeout)
	assert.Equal(t, "https://maker.ifttt.com/trigger/tgtg_notification/with/key/k3y", sender.triggerURL)
	assert.Equal(t, "ifttt", sender.Name())
	assert.NoError(t, sender.Init(context.Background()))
}

func TestSender_Send(t *testing.T) {
	var gotPath string
	var payload triggerPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte("Congratulations! You've fired the bags event"))
	}))
	defer server.Close()

	sender, err := NewSender(Config{Enabled: true, Event: "bags", Key: "secret", BaseURL: server.URL}, discardLogger())
	require.NoError(t, err)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	sender.now = func() time.Time { return now }

	item := domain.Item{
		ID:             "9",
		DisplayName:    "Bakery",
		ItemsAvailable: 4,
		Pickup: &domain.PickupWindow{
			Start: time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC),
		},
	}
	require.NoError(t, sender.Send(context.Background(), item))

	assert.Equal(t, "/trigger/bags/with/key/secret", gotPath)
	assert.Equal(t, triggerPayload{Value1: "Bakery", Value2: "4", Value3: "Today, 18:00 - 18:30"}, payload)
}

func TestSender_Send_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"You sent an invalid key."}]}`))
	}))
	defer server.Close()

	sender, err := NewSender(Config{Enabled: true, Key: "bad", BaseURL: server.URL}, discardLogger())
	require.NoError(t, err)

	err = sender.Send(context.Background(), domain.Item{ID: "1", DisplayName: "A", ItemsAvailable: 1})
	var statusErr *notifications.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "invalid key")
}

func TestSender_Send_TransportErrorHidesKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	sender, err := NewSender(Config{Enabled: true, Key: "super-secret-key", BaseURL: baseURL}, discardLogger())
	require.NoError(t, err)

	err = sender.Send(context.Background(), domain.Item{ID: "1"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-key")
}
