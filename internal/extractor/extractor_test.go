package extractor

import (
	"fmt"
	"testing"

	"price-tracker/internal/marketplace"
)

func page(body string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head><title>Amazon</title></head><body>%s</body></html>`, body)
}

const titleHTML = `<span id="productTitle">
    Acme   Coffee Grinder
</span>`

func TestExtractOffscreenPrice(t *testing.T) {
	html := page(titleHTML + `
<div id="corePrice_feature_div">
  <span class="a-price"><span class="a-offscreen">44,99&nbsp;€</span>
  <span aria-hidden="true"><span class="a-price-whole">44,</span><span class="a-price-fraction">99</span></span></span>
</div>`)

	res, err := Extract(html, marketplace.AmazonDE)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if res.Price.Amount != 4499 || res.Price.Currency != "EUR" {
		t.Fatalf("unexpected price %+v", res.Price)
	}
	if res.Title != "Acme Coffee Grinder" {
		t.Fatalf("unexpected title %q", res.Title)
	}
}

func TestExtractSymbolFirst(t *testing.T) {
	html := page(`<span id="priceblock_ourprice">€44,99</span>`)
	res, err := Extract(html, marketplace.AmazonNL)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if res.Price.Amount != 4499 {
		t.Fatalf("expected 4499 minor units, got %d", res.Price.Amount)
	}
	if res.Selector != "#priceblock_ourprice" {
		t.Fatalf("unexpected selector %q", res.Selector)
	}
}

func TestExtractWholeAndFraction(t *testing.T) {
	html := page(`<div id="corePrice_feature_div"><span class="a-price">
<span class="a-price-whole">1.234,</span><span class="a-price-fraction">56</span></span></div>`)
	res, err := Extract(html, marketplace.AmazonDE)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if res.Price.Amount != 123456 {
		t.Fatalf("expected 123456, got %d", res.Price.Amount)
	}
}

func TestExtractMissingPrice(t *testing.T) {
	html := page(titleHTML + `<div id="availability">Derzeit nicht verfügbar.</div>`)
	res, err := Extract(html, marketplace.AmazonDE)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	if res.Title != "Acme Coffee Grinder" {
		t.Fatalf("title should still be reported, got %q", res.Title)
	}
}

func TestExtractCaptchaPage(t *testing.T) {
	html := page(`<form method="get" action="/errors/validateCaptcha"><input id="captchacharacters"></form>
<span id="priceblock_ourprice">1,00 €</span>`)
	if _, err := Extract(html, marketplace.AmazonNL); !IsKind(err, KindNotFound) {
		t.Fatalf("captcha page should be not_found, got %v", err)
	}
}

func TestExtractMalformedPrice(t *testing.T) {
	for _, text := range []string{"Preis auf Anfrage", "1,234.56 €", "$44.99"} {
		html := page(fmt.Sprintf(`<span id="priceblock_ourprice">%s</span>`, text))
		if _, err := Extract(html, marketplace.AmazonDE); !IsKind(err, KindMalformed) {
			t.Fatalf("%q should be malformed, got %v", text, err)
		}
	}
}
