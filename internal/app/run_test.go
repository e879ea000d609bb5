package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/bagwatch/internal/config"
)

// fakeMarketplace serves token refresh and a favorites listing whose single
// item is sold out on the first poll and back in stock afterwards.
func fakeMarketplace(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/v3/token/refresh", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
		})
	})
	mux.HandleFunc("/api/item/v7/", func(w http.ResponseWriter, _ *http.Request) {
		available := 0
		if polls.Add(1) > 1 {
			available = 2
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"item": map[string]any{
					"item_id":               "777",
					"price_including_taxes": map[string]any{"code": "EUR", "minor_units": 399, "decimals": 2},
				},
				"items_available": available,
				"display_name":    "Corner Bakery",
			}},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type webhookReceiver struct {
	mu    sync.Mutex
	items []string
}

func (r *webhookReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.items = append(r.items, req.URL.Query().Get("id")+":"+req.URL.Query().Get("n"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *webhookReceiver) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func TestApp_Run(t *testing.T) {
	market := fakeMarketplace(t)
	receiver := &webhookReceiver{}
	hook := httptest.NewServer(receiver)
	t.Cleanup(hook.Close)

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")

	cfg := config.Default()
	cfg.Marketplace.BaseURL = market.URL + "/api/"
	cfg.Marketplace.AccessToken = "access"
	cfg.Marketplace.RefreshToken = "refresh"
	cfg.Marketplace.UserID = "user-1"
	cfg.Scanner.SleepTime = 20 * time.Millisecond
	cfg.Tokens.Backend = config.BackendFile
	cfg.Tokens.Path = tokenPath
	cfg.Notifications.Webhook = config.WebhookConfig{
		Enabled: true,
		URL:     hook.URL + "/?id=${{item_id}}&n=${{items_available}}",
	}

	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(receiver.received()) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.NoError(t, a.Shutdown(context.Background()))

	got := receiver.received()
	assert.Equal(t, "12345:1", got[0], "self-test notification comes first")
	assert.Equal(t, "777:2", got[1])
	assert.NotContains(t, got, "777:0")

	saved, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"fresh-access","refresh_token":"fresh-refresh","user_id":"user-1"}`, string(saved))
}

func TestApp_Run_ChannelInitFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.Notifications.Email = config.EmailConfig{
		Enabled:     true,
		SMTPHost:    "127.0.0.1",
		SMTPPort:    port,
		FromAddress: "bagwatch@example.com",
		To:          []string{"me@example.com"},
		Timeout:     time.Second,
	}

	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}
