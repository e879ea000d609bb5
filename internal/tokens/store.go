// Package tokens persists marketplace credentials between runs so the
// emailed login link only has to be confirmed once.
package tokens

import (
	"context"

	"github.com/bissquit/bagwatch/internal/domain"
)

// Store loads and saves one credential set.
type Store interface {
	// Load returns false when nothing has been stored yet.
	Load(ctx context.Context) (domain.Credentials, bool, error)
	Save(ctx context.Context, creds domain.Credentials) error
	Close() error
}

// Nop is a Store that remembers nothing.
type Nop struct{}

// Load always reports no stored credentials.
func (Nop) Load(context.Context) (domain.Credentials, bool, error) {
	return domain.Credentials{}, false, nil
}

// Save discards creds.
func (Nop) Save(context.Context, domain.Credentials) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
