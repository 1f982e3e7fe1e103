package marketplace

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"price-tracker/internal/money"
)

// ErrUnsupportedDomain is returned for URLs outside the supported marketplaces.
var ErrUnsupportedDomain = errors.New("unsupported marketplace domain")

// Profile is the site-specific rule set for one marketplace.
type Profile struct {
	Domain         string
	Currency       string
	Locale         money.Locale
	AcceptLanguage string

	// PriceSelectors are tried in order; the first non-empty match wins.
	PriceSelectors []string
	// WholeSelector and FractionSelector are combined when no full price
	// text is present on the page.
	WholeSelector    string
	FractionSelector string
	TitleSelectors   []string
	// BlockedSelectors match robot-check and CAPTCHA interstitials.
	BlockedSelectors []string
}

var amazonPriceSelectors = []string{
	"#corePrice_feature_div span.a-price span.a-offscreen",
	"#corePriceDisplay_desktop_feature_div span.a-price span.a-offscreen",
	"#apex_desktop span.a-price span.a-offscreen",
	"#priceblock_dealprice",
	"#priceblock_ourprice",
	"#price_inside_buybox",
}

var amazonTitleSelectors = []string{
	"span#productTitle",
	"h1#title",
	"h1.product-title-word-break",
}

var amazonBlockedSelectors = []string{
	`form[action*="validateCaptcha"]`,
	"#captchacharacters",
}

var (
	// AmazonNL is the Dutch storefront.
	AmazonNL = Profile{
		Domain:           "amazon.nl",
		Currency:         "EUR",
		Locale:           money.EuroComma,
		AcceptLanguage:   "nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7",
		PriceSelectors:   amazonPriceSelectors,
		WholeSelector:    "#corePrice_feature_div span.a-price-whole",
		FractionSelector: "#corePrice_feature_div span.a-price-fraction",
		TitleSelectors:   amazonTitleSelectors,
		BlockedSelectors: amazonBlockedSelectors,
	}

	// AmazonDE is the German storefront.
	AmazonDE = Profile{
		Domain:           "amazon.de",
		Currency:         "EUR",
		Locale:           money.EuroComma,
		AcceptLanguage:   "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
		PriceSelectors:   amazonPriceSelectors,
		WholeSelector:    "#corePrice_feature_div span.a-price-whole",
		FractionSelector: "#corePrice_feature_div span.a-price-fraction",
		TitleSelectors:   amazonTitleSelectors,
		BlockedSelectors: amazonBlockedSelectors,
	}
)

// Profiles lists every supported marketplace.
func Profiles() []Profile {
	return []Profile{AmazonNL, AmazonDE}
}

// Domains lists the supported marketplace domains.
func Domains() []string {
	profiles := Profiles()
	out := make([]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Domain)
	}
	return out
}

// Resolve validates raw and returns the profile for its host.
func Resolve(raw string) (Profile, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Profile{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Profile{}, fmt.Errorf("url %q must use http or https", raw)
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range Profiles() {
		if host == p.Domain || strings.HasSuffix(host, "."+p.Domain) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedDomain, host, strings.Join(Domains(), ", "))
}

// HomeURL is the storefront root used for the warm-up visit.
func (p Profile) HomeURL() string {
	return "https://www." + p.Domain + "/"
}
