// Package marketplace is a client for the surplus-food marketplace API.
// It owns the email login flow, keeps the account tokens fresh and decodes
// item listings into domain.Item values.
package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://apptoogoodtogo.com/api/"

const (
	itemPath = "item/v7/"

	defaultDeviceType          = "ANDROID"
	defaultLanguage            = "en-UK"
	defaultAccessTokenLifetime = 4 * time.Hour
	defaultMaxPollingTries     = 24
	defaultPollingWaitTime     = 5 * time.Second
	defaultTimeout             = 30 * time.Second
	defaultRadius              = 21
	defaultPageSize            = 20
)

// Config holds client configuration.
type Config struct {
	BaseURL             string
	Email               string
	Credentials         domain.Credentials
	UserAgent           string
	Language            string
	DeviceType          string
	Timeout             time.Duration
	AccessTokenLifetime time.Duration
	MaxPollingTries     int
	PollingWaitTime     time.Duration
}

// Client calls the marketplace API on behalf of one account.
type Client struct {
	session   *Session
	transport *transport
	logger    *slog.Logger
}

// NewClient creates a client. It performs no network calls.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Language == "" {
		config.Language = defaultLanguage
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	t, err := newTransport(config.BaseURL, &http.Client{Timeout: config.Timeout}, config.UserAgent, config.Language)
	if err != nil {
		return nil, &domain.ConfigurationError{Component: "marketplace", Reason: "invalid base url", Err: err}
	}

	session, err := newSession(SessionConfig{
		Email:               config.Email,
		Credentials:         config.Credentials,
		DeviceType:          config.DeviceType,
		AccessTokenLifetime: config.AccessTokenLifetime,
		MaxPollingTries:     config.MaxPollingTries,
		PollingWaitTime:     config.PollingWaitTime,
	}, t, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		session:   session,
		transport: t,
		logger:    logger,
	}, nil
}

// Session returns the client's authentication session.
func (c *Client) Session() *Session {
	return c.session
}

// Credentials logs in or refreshes as needed and returns the current tokens.
func (c *Client) Credentials(ctx context.Context) (domain.Credentials, error) {
	return c.session.EnsureReady(ctx)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.transport.close()
}

type fetchItemRequest struct {
	UserID string  `json:"user_id"`
	Origin *origin `json:"origin"`
}

// FetchItem returns the current state of a single item.
func (c *Client) FetchItem(ctx context.Context, id string) (domain.Item, error) {
	creds, err := c.session.EnsureReady(ctx)
	if err != nil {
		return domain.Item{}, err
	}

	resp, err := c.transport.post(ctx, itemPath+url.PathEscape(id), creds.AccessToken, fetchItemRequest{UserID: creds.UserID})
	if err != nil {
		return domain.Item{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Item{}, resp.apiError()
	}

	var wire itemRecord
	if err := resp.decode(&wire); err != nil {
		return domain.Item{}, err
	}
	item, err := wire.toDomain()
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %s: %w", id, err)
	}
	return item, nil
}

// ListFilter narrows an item listing. Zero values select the API defaults.
type ListFilter struct {
	Latitude       float64
	Longitude      float64
	Radius         int
	PageSize       int
	Page           int
	Discover       bool
	FavoritesOnly  bool
	ItemCategories []string
	DietCategories []string
	PickupEarliest string
	PickupLatest   string
	SearchPhrase   string
	WithStockOnly  bool
	HiddenOnly     bool
	WeCareOnly     bool
}

type origin struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type listItemsRequest struct {
	UserID         string   `json:"user_id"`
	Origin         origin   `json:"origin"`
	Radius         int      `json:"radius"`
	PageSize       int      `json:"page_size"`
	Page           int      `json:"page"`
	Discover       bool     `json:"discover"`
	FavoritesOnly  bool     `json:"favorites_only"`
	ItemCategories []string `json:"item_categories"`
	DietCategories []string `json:"diet_categories"`
	PickupEarliest *string  `json:"pickup_earliest"`
	PickupLatest   *string  `json:"pickup_latest"`
	SearchPhrase   *string  `json:"search_phrase"`
	WithStockOnly  bool     `json:"with_stock_only"`
	HiddenOnly     bool     `json:"hidden_only"`
	WeCareOnly     bool     `json:"we_care_only"`
}

type listItemsResponse struct {
	Items []itemRecord `json:"items"`
}

// ListItems returns one page of items matching the filter.
func (c *Client) ListItems(ctx context.Context, filter ListFilter) ([]domain.Item, error) {
	creds, err := c.session.EnsureReady(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.post(ctx, itemPath, creds.AccessToken, newListItemsRequest(creds.UserID, filter))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.apiError()
	}

	var out listItemsResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, len(out.Items))
	for i, rec := range out.Items {
		item, err := rec.toDomain()
		if err != nil {
			c.logger.Warn("skipping malformed item",
				"page", filter.Page,
				"index", i,
				"item_id", string(rec.Item.ItemID),
				"error", err,
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func newListItemsRequest(userID string, f ListFilter) listItemsRequest {
	if f.Radius <= 0 {
		f.Radius = defaultRadius
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.ItemCategories == nil {
		f.ItemCategories = []string{}
	}
	if f.DietCategories == nil {
		f.DietCategories = []string{}
	}

	return listItemsRequest{
		UserID:         userID,
		Origin:         origin{Latitude: f.Latitude, Longitude: f.Longitude},
		Radius:         f.Radius,
		PageSize:       f.PageSize,
		Page:           f.Page,
		Discover:       f.Discover,
		FavoritesOnly:  f.FavoritesOnly,
		ItemCategories: f.ItemCategories,
		DietCategories: f.DietCategories,
		PickupEarliest: optional(f.PickupEarliest),
		PickupLatest:   optional(f.PickupLatest),
		SearchPhrase:   optional(f.SearchPhrase),
		WithStockOnly:  f.WithStockOnly,
		HiddenOnly:     f.HiddenOnly,
		WeCareOnly:     f.WeCareOnly,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type setFavoriteRequest struct {
	IsFavorite bool `json:"is_favorite"`
}

// SetFavorite marks or unmarks an item as favorite. Repeating a call has no further effect.
func (c *Client) SetFavorite(ctx context.Context, id string, favorite bool) error {
	creds, err := c.session.EnsureReady(ctx)
	if err != nil {
		return err
	}

	resp, err := c.transport.post(ctx, itemPath+url.PathEscape(id)+"/setFavorite", creds.AccessToken, setFavoriteRequest{IsFavorite: favorite})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.apiError()
	}

	c.logger.Debug("favorite updated", "item_id", id, "favorite", favorite)
	return nil
}

// SignUp registers the configured email as a new account and logs it in.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) error {
	return c.session.SignUp(ctx, req)
}
