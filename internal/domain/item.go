package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Price is a unit price expressed in minor units of a currency.
type Price struct {
	MinorUnits int64
	Decimals   int
	Currency   string
}

// Amount returns the price in major units.
func (p Price) Amount() float64 {
	return float64(p.MinorUnits) / math.Pow10(p.Decimals)
}

// String renders the amount with the currency's decimal precision, without the currency code.
func (p Price) String() string {
	return strconv.FormatFloat(p.Amount(), 'f', p.Decimals, 64)
}

// PickupWindow is the interval during which a reserved item can be collected.
type PickupWindow struct {
	Start time.Time
	End   time.Time
}

// Item is one availability snapshot of a marketplace listing.
type Item struct {
	ID             string
	DisplayName    string
	ItemsAvailable int
	Price          Price
	Pickup         *PickupWindow
}

// Attribute names usable in notification templates.
const (
	AttrItemID         = "item_id"
	AttrItemsAvailable = "items_available"
	AttrDisplayName    = "display_name"
	AttrPrice          = "price"
	AttrCurrency       = "currency"
	AttrPickupDate     = "pickupdate"
)

type attributeFunc func(item Item, now time.Time) string

var itemAttributes = map[string]attributeFunc{
	AttrItemID:         func(i Item, _ time.Time) string { return i.ID },
	AttrItemsAvailable: func(i Item, _ time.Time) string { return strconv.Itoa(i.ItemsAvailable) },
	AttrDisplayName:    func(i Item, _ time.Time) string { return i.DisplayName },
	AttrPrice:          func(i Item, _ time.Time) string { return i.Price.String() },
	AttrCurrency:       func(i Item, _ time.Time) string { return i.Price.Currency },
	AttrPickupDate:     func(i Item, now time.Time) string { return i.PickupDate(now) },
}

// Attributes returns the sorted list of attribute names an item exposes.
func Attributes() []string {
	names := make([]string, 0, len(itemAttributes))
	for name := range itemAttributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAttribute reports whether name is a known item attribute.
func IsAttribute(name string) bool {
	_, ok := itemAttributes[name]
	return ok
}

// Attribute returns the string form of the named attribute.
func (i Item) Attribute(name string, now time.Time) (string, error) {
	fn, ok := itemAttributes[name]
	if !ok {
		return "", fmt.Errorf("unknown item attribute %q", name)
	}
	return fn(i, now), nil
}

// PickupDate renders the pickup window relative to now, in now's location.
// Returns "undefined" when the item has no pickup window.
func (i Item) PickupDate(now time.Time) string {
	if i.Pickup == nil {
		return "undefined"
	}

	loc := now.Location()
	from := i.Pickup.Start.In(loc)
	to := i.Pickup.End.In(loc)
	span := fmt.Sprintf("%02d:%02d - %02d:%02d", from.Hour(), from.Minute(), to.Hour(), to.Minute())

	today := civilDate(now)
	switch civilDate(from).Sub(today) {
	case 0:
		return "Today, " + span
	case 24 * time.Hour:
		return "Tomorrow, " + span
	default:
		return fmt.Sprintf("%d/%d, %s", from.Day(), int(from.Month()), span)
	}
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
