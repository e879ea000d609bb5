package pushsafer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "missing key", config: Config{Enabled: true, DeviceID: "1"}, wantErr: "key is required"},
		{name: "missing device", config: Config{Enabled: true, Key: "k"}, wantErr: "device id is required"},
		{name: "disabled - no validation", config: Config{}},
		{name: "valid config", config: Config{Enabled: true, Key: "k", DeviceID: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config, discardLogger())
			if tt.wantErr != "" {
				var cfgErr *domain.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultAPIURL, sender.config.APIURL)
		})
	}
}

func TestSender_Send(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		response   string
		wantErr    string
		wantStatus int
	}{
		{name: "transmitted", status: http.StatusOK, response: `{"status":1,"success":"message transmitted","available":997}`},
		{name: "api rejection", status: http.StatusOK, response: `{"status":0,"error":"invalid key"}`, wantErr: "pushsafer: invalid key"},
		{name: "api rejection without message", status: http.StatusOK, response: `{"status":0}`, wantErr: "pushsafer status 0"},
		{name: "malformed response", status: http.StatusOK, response: `<html>`, wantErr: "decode response"},
		{name: "http error", status: http.StatusServiceUnavailable, response: "maintenance", wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var form url.Values
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				form = r.PostForm
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			sender, err := NewSender(Config{Enabled: true, Key: "priv", DeviceID: "42", APIURL: server.URL}, discardLogger())
			require.NoError(t, err)

			err = sender.Send(context.Background(), domain.Item{ID: "7", DisplayName: "Bakery", ItemsAvailable: 5})

			assert.Equal(t, "priv", form.Get("k"))
			assert.Equal(t, "42", form.Get("d"))
			assert.Equal(t, "Bakery", form.Get("t"))
			assert.Equal(t, "New Amount: 5", form.Get("m"))

			switch {
			case tt.wantStatus != 0:
				var statusErr *notifications.StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.wantStatus, statusErr.StatusCode)
			case tt.wantErr != "":
				assert.ErrorContains(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
