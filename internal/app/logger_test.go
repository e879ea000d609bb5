package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/bagwatch/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantDebug bool
		wantWarn  bool
		wantJSON  bool
	}{
		{name: "debug json", cfg: config.LogConfig{Level: "debug", Format: "json"}, wantDebug: true, wantWarn: true, wantJSON: true},
		{name: "info text", cfg: config.LogConfig{Level: "info", Format: "text"}, wantWarn: true},
		{name: "error json", cfg: config.LogConfig{Level: "error", Format: "json"}, wantJSON: true},
		{name: "unknown level falls back to info", cfg: config.LogConfig{Level: "loud", Format: "text"}, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.cfg, &buf)

			logger.Debug("debug message")
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))

			buf.Reset()
			logger.Warn("warn message", "item_id", "42")
			if !tt.wantWarn {
				assert.Empty(t, buf.String())
				return
			}
			if tt.wantJSON {
				var entry map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
				assert.Equal(t, "warn message", entry["msg"])
				assert.Equal(t, "42", entry["item_id"])
			} else {
				assert.Contains(t, buf.String(), "item_id=42")
			}
		})
	}
}
