package marketplace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
)

const pickupLayout = "2006-01-02T15:04:05Z"

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

type priceRecord struct {
	Code       string `json:"code"`
	MinorUnits int64  `json:"minor_units"`
	Decimals   int    `json:"decimals"`
}

type intervalRecord struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type itemRecord struct {
	Item struct {
		ItemID              flexString   `json:"item_id"`
		PriceIncludingTaxes *priceRecord `json:"price_including_taxes"`
	} `json:"item"`
	ItemsAvailable int             `json:"items_available"`
	DisplayName    string          `json:"display_name"`
	PickupInterval *intervalRecord `json:"pickup_interval"`
}

func (r itemRecord) toDomain() (domain.Item, error) {
	if r.Item.ItemID == "" {
		return domain.Item{}, fmt.Errorf("item without item_id")
	}

	item := domain.Item{
		ID:             string(r.Item.ItemID),
		DisplayName:    r.DisplayName,
		ItemsAvailable: max(r.ItemsAvailable, 0),
	}

	if p := r.Item.PriceIncludingTaxes; p != nil {
		item.Price = domain.Price{MinorUnits: p.MinorUnits, Decimals: p.Decimals, Currency: p.Code}
	}

	if iv := r.PickupInterval; iv != nil && iv.Start != "" && iv.End != "" {
		start, err := parsePickupTime(iv.Start)
		if err != nil {
			return domain.Item{}, err
		}
		end, err := parsePickupTime(iv.End)
		if err != nil {
			return domain.Item{}, err
		}
		item.Pickup = &domain.PickupWindow{Start: start, End: end}
	}

	return item, nil
}

func parsePickupTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(pickupLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pickup time %q: %w", s, err)
	}
	return t.UTC(), nil
}
