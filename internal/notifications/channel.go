// Package notifications fans availability events out to delivery channels.
package notifications

import (
	"context"

	"github.com/bissquit/bagwatch/internal/domain"
)

// Channel delivers item notifications to one backend.
//
// Init is called once at startup for enabled channels and must return a
// *domain.ConfigurationError for invalid settings. Send must not retain the item.
type Channel interface {
	Name() string
	Enabled() bool
	Init(ctx context.Context) error
	Send(ctx context.Context, item domain.Item) error
}
