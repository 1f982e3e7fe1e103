package money

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrMalformed is returned when a textual price cannot be read as a number.
var ErrMalformed = errors.New("malformed price")

// Price is a normalized amount expressed in minor units of Currency.
type Price struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Locale describes how a marketplace writes prices.
type Locale struct {
	Decimal     rune
	Group       rune
	Symbol      string
	MinorDigits int32
}

var (
	// EuroComma is the continental notation, e.g. "1.234,56 €".
	EuroComma = Locale{Decimal: ',', Group: '.', Symbol: "€", MinorDigits: 2}
	// EuroDot is the anglo notation, e.g. "€1,234.56".
	EuroDot = Locale{Decimal: '.', Group: ',', Symbol: "€", MinorDigits: 2}
)

// New builds a price from a whole-unit decimal.
func New(amount decimal.Decimal, currency string, minorDigits int32) Price {
	return Price{Amount: amount.Shift(minorDigits).Round(0).IntPart(), Currency: currency}
}

// Equal reports exact equality of amount and currency.
func (p Price) Equal(other Price) bool {
	return p.Amount == other.Amount && strings.EqualFold(p.Currency, other.Currency)
}

// Decimal returns the amount in whole currency units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.Amount, -minorDigits(p.Currency))
}

// String renders the price with its currency symbol, e.g. "€44.99".
func (p Price) String() string {
	return Symbol(p.Currency) + p.Decimal().StringFixed(minorDigits(p.Currency))
}

// Sub returns p - other. Both prices must share a currency.
func (p Price) Sub(other Price) Price {
	return Price{Amount: p.Amount - other.Amount, Currency: p.Currency}
}

// Abs drops the sign of the amount.
func (p Price) Abs() Price {
	if p.Amount < 0 {
		return Price{Amount: -p.Amount, Currency: p.Currency}
	}
	return p
}

// ChangePercent returns (to - from) / from * 100. A zero base yields zero.
func ChangePercent(from, to Price) decimal.Decimal {
	if from.Amount == 0 {
		return decimal.Zero
	}
	delta := decimal.NewFromInt(to.Amount - from.Amount)
	return delta.Div(decimal.NewFromInt(from.Amount)).Mul(decimal.NewFromInt(100))
}

// Symbol maps an ISO currency code to its display symbol.
func Symbol(currency string) string {
	switch strings.ToUpper(currency) {
	case "EUR":
		return "€"
	case "GBP":
		return "£"
	case "USD":
		return "$"
	default:
		return strings.ToUpper(currency) + " "
	}
}

func minorDigits(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "JPY":
		return 0
	default:
		return 2
	}
}

// Parse normalizes a price as printed by a marketplace of the given locale.
// Currency markers and whitespace are ignored. Anything else that is not a
// digit or one of the locale separators, or separators in positions the
// locale does not allow, yields ErrMalformed. So do zero amounts and amounts
// whose minor units overflow int64.
func Parse(text string, loc Locale, currency string) (Price, error) {
	cleaned := stripCurrency(text, loc, currency)
	if cleaned == "" {
		return Price{}, fmt.Errorf("%w: %q has no digits", ErrMalformed, text)
	}

	whole, fraction, err := split(cleaned, loc)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %q: %v", ErrMalformed, text, err)
	}

	number := whole
	if fraction != "" {
		number += "." + fraction
	}
	amount, err := decimal.NewFromString(number)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %q: %v", ErrMalformed, text, err)
	}
	minor := amount.Shift(loc.MinorDigits).Round(0)
	if !minor.BigInt().IsInt64() {
		return Price{}, fmt.Errorf("%w: %q is out of range", ErrMalformed, text)
	}
	if minor.IsZero() {
		return Price{}, fmt.Errorf("%w: %q is zero", ErrMalformed, text)
	}
	return Price{Amount: minor.IntPart(), Currency: strings.ToUpper(currency)}, nil
}

// Format writes p back in the locale's notation without grouping,
// e.g. "44,99 €" for EuroComma. Parse(Format(p)) == p for positive p.
func Format(p Price, loc Locale) string {
	fixed := p.Decimal().StringFixed(loc.MinorDigits)
	if loc.Decimal != '.' {
		fixed = strings.Replace(fixed, ".", string(loc.Decimal), 1)
	}
	if loc.Symbol == "" {
		return fixed
	}
	return fixed + " " + loc.Symbol
}

func stripCurrency(text string, loc Locale, currency string) string {
	s := text
	if loc.Symbol != "" {
		s = strings.ReplaceAll(s, loc.Symbol, "")
	}
	if currency != "" {
		s = strings.ReplaceAll(s, strings.ToUpper(currency), "")
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// split validates s against the locale grammar
// digits (group digits{3})* (decimal digits{1,minor})?
// and returns the bare integer and fraction digits.
func split(s string, loc Locale) (string, string, error) {
	intPart, fraction := s, ""
	if idx := strings.LastIndex(s, string(loc.Decimal)); idx >= 0 {
		intPart, fraction = s[:idx], s[idx+len(string(loc.Decimal)):]
		if fraction == "" || !allDigits(fraction) {
			return "", "", errors.New("invalid fraction")
		}
		if int32(len(fraction)) > loc.MinorDigits {
			return "", "", errors.New("too many fraction digits")
		}
	}
	if intPart == "" {
		return "", "", errors.New("missing integer part")
	}

	groups := strings.Split(intPart, string(loc.Group))
	for i, g := range groups {
		if !allDigits(g) || g == "" {
			return "", "", errors.New("unexpected character")
		}
		if len(groups) > 1 {
			if i == 0 && len(g) > 3 {
				return "", "", errors.New("misplaced group separator")
			}
			if i > 0 && len(g) != 3 {
				return "", "", errors.New("misplaced group separator")
			}
		}
	}
	return strings.Join(groups, ""), fraction, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
