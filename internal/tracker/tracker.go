// Package tracker remembers the last seen availability of every item and
// reports when an item comes back in stock.
package tracker

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/bissquit/bagwatch/internal/domain"
)

// Event is emitted when an item's availability rises from zero.
type Event struct {
	Item     domain.Item
	Previous int
}

// Tracker is an edge detector over item availability.
// The first observation of an item only records it.
type Tracker struct {
	mu     sync.Mutex
	state  map[string]int
	logger *slog.Logger
}

// New creates an empty tracker.
func New(logger *slog.Logger) *Tracker {
	return &Tracker{
		state:  make(map[string]int),
		logger: logger,
	}
}

// Observe records the item's availability and returns an event when it went from 0 to more than 0.
func (t *Tracker) Observe(item domain.Item) (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.state[item.ID]
	t.state[item.ID] = item.ItemsAvailable

	if !seen {
		t.logger.Debug("tracking new item",
			"item_id", item.ID,
			"display_name", item.DisplayName,
			"items_available", item.ItemsAvailable,
		)
		return Event{}, false
	}

	if prev == item.ItemsAvailable {
		return Event{}, false
	}

	t.logger.Info("availability changed",
		"item_id", item.ID,
		"display_name", item.DisplayName,
		"previous", prev,
		"items_available", item.ItemsAvailable,
	)

	if prev == 0 && item.ItemsAvailable > 0 {
		return Event{Item: item, Previous: prev}, true
	}
	return Event{}, false
}

// Snapshot returns a copy of the recorded availability by item id.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.state)
}

// Len returns the number of tracked items.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state)
}
