package notifications

import (
	"github.com/bissquit/bagwatch/internal/domain"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatPrice renders a price with its currency symbol, e.g. "€ 10.99".
// Unknown currency codes fall back to "10.99 XYZ".
func FormatPrice(p domain.Price) string {
	if p.Currency == "" {
		return p.String()
	}
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return p.String() + " " + p.Currency
	}
	printer := message.NewPrinter(language.English)
	return printer.Sprint(currency.Symbol(unit.Amount(p.Amount())))
}
