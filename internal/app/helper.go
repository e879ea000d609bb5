package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/bagwatch/internal/config"
	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/bissquit/bagwatch/internal/marketplace"
	"github.com/bissquit/bagwatch/internal/tokens"
)

const helperPageSize = 100

// HelperMarket is the subset of the marketplace client used by helper commands.
type HelperMarket interface {
	ListItems(ctx context.Context, filter marketplace.ListFilter) ([]domain.Item, error)
	SetFavorite(ctx context.Context, id string, favorite bool) error
	Credentials(ctx context.Context) (domain.Credentials, error)
}

// Helper runs one-shot account commands and prints their results.
type Helper struct {
	market HelperMarket
	store  tokens.Store
	out    io.Writer
	in     *bufio.Reader
	logger *slog.Logger

	close func()
}

// NewHelper builds a helper on the configured account. No channel is created.
func NewHelper(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, in io.Reader) (*Helper, error) {
	client, store, err := newClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	h := newHelper(client, store, out, in, logger)
	h.close = client.Close
	return h, nil
}

func newHelper(market HelperMarket, store tokens.Store, out io.Writer, in io.Reader, logger *slog.Logger) *Helper {
	return &Helper{
		market: market,
		store:  store,
		out:    out,
		in:     bufio.NewReader(in),
		logger: logger,
		close:  func() {},
	}
}

// Close releases the client and the token store.
func (h *Helper) Close() error {
	h.close()
	return h.store.Close()
}

// itemView is the printed form of an item.
type itemView struct {
	ID             string     `json:"item_id"`
	DisplayName    string     `json:"display_name"`
	ItemsAvailable int        `json:"items_available"`
	Price          string     `json:"price"`
	Currency       string     `json:"currency,omitempty"`
	PickupStart    *time.Time `json:"pickup_start,omitempty"`
	PickupEnd      *time.Time `json:"pickup_end,omitempty"`
}

func newItemView(item domain.Item) itemView {
	v := itemView{
		ID:             item.ID,
		DisplayName:    item.DisplayName,
		ItemsAvailable: item.ItemsAvailable,
		Price:          item.Price.String(),
		Currency:       item.Price.Currency,
	}
	if item.Pickup != nil {
		v.PickupStart = &item.Pickup.Start
		v.PickupEnd = &item.Pickup.End
	}
	return v
}

// Favorites prints all favorites as JSON, or one "id - name" line each when short is set.
func (h *Helper) Favorites(ctx context.Context, short bool) error {
	items, err := h.favorites(ctx)
	if err != nil {
		return err
	}

	if short {
		for _, item := range items {
			if _, err := fmt.Fprintf(h.out, "%s - %s\n", item.ID, item.DisplayName); err != nil {
				return err
			}
		}
	} else if err := h.printItems(items); err != nil {
		return err
	}
	return h.saveTokens(ctx)
}

// Credentials logs in if needed and prints the token triple as JSON.
func (h *Helper) Credentials(ctx context.Context) error {
	creds, err := h.market.Credentials(ctx)
	if err != nil {
		return err
	}
	if err := h.printJSON(creds); err != nil {
		return err
	}
	return h.save(ctx, creds)
}

// AddFavorite marks id as favorite.
func (h *Helper) AddFavorite(ctx context.Context, id string) error {
	if err := h.market.SetFavorite(ctx, id, true); err != nil {
		return fmt.Errorf("add favorite %s: %w", id, err)
	}
	if _, err := fmt.Fprintf(h.out, "Added item %s to favorites\n", id); err != nil {
		return err
	}
	return h.saveTokens(ctx)
}

// DeleteFavorite removes id from favorites. The id "all" removes every
// favorite after confirmation.
func (h *Helper) DeleteFavorite(ctx context.Context, id string) error {
	if id == "all" {
		return h.deleteAllFavorites(ctx)
	}
	if err := h.market.SetFavorite(ctx, id, false); err != nil {
		return fmt.Errorf("delete favorite %s: %w", id, err)
	}
	if _, err := fmt.Fprintf(h.out, "Removed item %s from favorites\n", id); err != nil {
		return err
	}
	return h.saveTokens(ctx)
}

func (h *Helper) deleteAllFavorites(ctx context.Context) error {
	items, err := h.favorites(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(h.out, "No favorites to remove")
		return err
	}

	ok, err := h.confirm(fmt.Sprintf("Remove all %d favorites? (y/n) ", len(items)))
	if err != nil {
		return err
	}
	if !ok {
		_, err := fmt.Fprintln(h.out, "Aborted")
		return err
	}

	for _, item := range items {
		if err := h.market.SetFavorite(ctx, item.ID, false); err != nil {
			return fmt.Errorf("delete favorite %s: %w", item.ID, err)
		}
		h.logger.Debug("favorite removed", "item_id", item.ID)
	}
	if _, err := fmt.Fprintf(h.out, "Removed %d favorites\n", len(items)); err != nil {
		return err
	}
	return h.saveTokens(ctx)
}

// Items prints the listing around "lat,lng,radius" as JSON.
func (h *Helper) Items(ctx context.Context, location string) error {
	filter, err := ParseLocation(location)
	if err != nil {
		return err
	}
	filter.PageSize = helperPageSize

	items, err := h.market.ListItems(ctx, filter)
	if err != nil {
		return err
	}
	if err := h.printItems(items); err != nil {
		return err
	}
	return h.saveTokens(ctx)
}

// ParseLocation parses "lat,lng,radius" into a listing filter.
func ParseLocation(s string) (marketplace.ListFilter, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return marketplace.ListFilter{}, fmt.Errorf("location %q: want lat,lng,radius", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return marketplace.ListFilter{}, fmt.Errorf("location %q: invalid latitude", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return marketplace.ListFilter{}, fmt.Errorf("location %q: invalid longitude", s)
	}
	radius, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || radius <= 0 {
		return marketplace.ListFilter{}, fmt.Errorf("location %q: invalid radius", s)
	}

	return marketplace.ListFilter{Latitude: lat, Longitude: lng, Radius: radius}, nil
}

func (h *Helper) favorites(ctx context.Context) ([]domain.Item, error) {
	var all []domain.Item
	for page := 1; ; page++ {
		items, err := h.market.ListItems(ctx, marketplace.ListFilter{
			FavoritesOnly: true,
			PageSize:      helperPageSize,
			Page:          page,
		})
		if err != nil {
			return nil, fmt.Errorf("list favorites page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < helperPageSize {
			return all, nil
		}
	}
}

func (h *Helper) confirm(prompt string) (bool, error) {
	if _, err := fmt.Fprint(h.out, prompt); err != nil {
		return false, err
	}
	answer, err := h.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func (h *Helper) printItems(items []domain.Item) error {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, newItemView(item))
	}
	return h.printJSON(views)
}

func (h *Helper) printJSON(v any) error {
	enc := json.NewEncoder(h.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// saveTokens stores the session's tokens, which the command may have refreshed.
func (h *Helper) saveTokens(ctx context.Context) error {
	creds, err := h.market.Credentials(ctx)
	if err != nil {
		return err
	}
	return h.save(ctx, creds)
}

func (h *Helper) save(ctx context.Context, creds domain.Credentials) error {
	if !creds.Complete() {
		return nil
	}
	if err := h.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}
