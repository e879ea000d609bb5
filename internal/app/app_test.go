package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/marketplace"
)

func TestNew(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Tokens.Backend = config.BackendFile
	cfg.Tokens.Path = filepath.Join(t.TempDir(), "tokens.json")

	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)

	handler := a.Handler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_MetricsDisabled(t *testing.T) {
	a, err := New(context.Background(), testConfig(), discardLogger())
	require.NoError(t, err)

	assert.Nil(t, a.Handler())
	assert.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_InvalidChannel(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.Email.Enabled = true

	_, err := New(context.Background(), cfg, discardLogger())
	assert.True(t, IsFatal(err))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "configuration", err: fmt.Errorf("wrap: %w", domain.NewConfigurationError("config", "bad")), want: true},
		{name: "login", err: fmt.Errorf("scanner: %w", &marketplace.LoginError{}), want: true},
		{name: "polling", err: &marketplace.PollingError{}, want: true},
		{name: "api", err: &marketplace.APIError{StatusCode: 500}, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}
