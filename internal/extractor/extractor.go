package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"price-tracker/internal/marketplace"
	"price-tracker/internal/money"
)

// Kind classifies extraction failures.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindMalformed Kind = "malformed"
)

// Error reports why a page did not yield a price.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "extract " + string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an extraction error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// Result is what a product page yields.
type Result struct {
	Title string
	Price money.Price
	// Selector is the rule that located the price.
	Selector string
}

// Extract locates and normalizes the price in html using profile.
func Extract(html string, profile marketplace.Profile) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, &Error{Kind: KindMalformed, Detail: "unreadable document", Err: err}
	}

	for _, sel := range profile.BlockedSelectors {
		if doc.Find(sel).Length() > 0 {
			return Result{}, &Error{Kind: KindNotFound, Detail: "robot check page served"}
		}
	}

	res := Result{Title: firstText(doc, profile.TitleSelectors)}

	text, selector := locatePrice(doc, profile)
	if text == "" {
		return res, &Error{Kind: KindNotFound, Detail: "price element absent"}
	}

	price, err := money.Parse(text, profile.Locale, profile.Currency)
	if err != nil {
		return res, &Error{Kind: KindMalformed, Detail: fmt.Sprintf("selector %s", selector), Err: err}
	}
	res.Price = price
	res.Selector = selector
	return res, nil
}

func locatePrice(doc *goquery.Document, profile marketplace.Profile) (string, string) {
	for _, sel := range profile.PriceSelectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text, sel
		}
	}

	if profile.WholeSelector == "" {
		return "", ""
	}
	whole := strings.TrimSpace(doc.Find(profile.WholeSelector).First().Text())
	if whole == "" {
		return "", ""
	}
	// the whole part is rendered with its trailing decimal separator, e.g. "44,"
	whole = strings.TrimSuffix(whole, string(profile.Locale.Decimal))
	fraction := ""
	if profile.FractionSelector != "" {
		fraction = strings.TrimSpace(doc.Find(profile.FractionSelector).First().Text())
	}
	if fraction == "" {
		return whole, profile.WholeSelector
	}
	return whole + string(profile.Locale.Decimal) + fraction, profile.WholeSelector
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return strings.Join(strings.Fields(text), " ")
		}
	}
	return ""
}
