package scraper

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
)

func TestAmazonProductID(t *testing.T) {
	s := NewAmazonScraper(Config{})

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.com/dp/B013HLGTL2", "B013HLGTL2"},
		{"https://www.amazon.com/gp/product/B013HLGTL2", "B013HLGTL2"},
		{"https://www.amazon.com/product/B013HLGTL2", "B013HLGTL2"},
		{"https://www.amazon.com/dp/B013HLGTL2?ref=something", "B013HLGTL2"},
		{"https://www.amazon.com/dp/b013hlgtl2", "B013HLGTL2"},
		{"https://www.amazon.com/s?k=keyboard", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := s.ProductID(tt.url); got != tt.want {
			t.Errorf("ProductID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestParseUSDPrice(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"$19.99", 19.99, true},
		{"$1,234.56", 1234.56, true},
		{"USD 19.99", 19.99, true},
		{"19.99", 19.99, true},
		{"", 0, false},
		{"unavailable", 0, false},
		{"$0.00", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseUSDPrice(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseUSDPrice(%q) = (%v, %v), want (%v, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeVariantID(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Midnight Black", "midnight_black"},
		{"Blue (Limited Edition)", "blue_limited_edition"},
		{"", "default"},
		{"!!!", "default"},
	}

	for _, tt := range tests {
		if got := normalizeVariantID(tt.name); got != tt.want {
			t.Errorf("normalizeVariantID(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAmazonScrape_MainProduct(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://www.amazon.com/dp/B013HLGTL2",
		httpmock.NewStringResponder(200, `<html><body>
			<span id="productTitle"> Mechanical Keyboard </span>
			<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$89.99</span></span></div>
			<div id="imgTagWrapperId"><img id="landingImage" src="https://m.media-amazon.com/images/I/keyboard.jpg"/></div>
		</body></html>`))

	s := NewAmazonScraper(Config{Transport: transport})
	products, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/B013HLGTL2")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}

	p := products[0]
	if p.ID != "B013HLGTL2" {
		t.Errorf("ID = %q, want B013HLGTL2", p.ID)
	}
	if p.Title != "Mechanical Keyboard" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.PriceUSD == nil || *p.PriceUSD != 89.99 {
		t.Errorf("PriceUSD = %v, want 89.99", p.PriceUSD)
	}
	if p.PriceJPY != nil {
		t.Errorf("PriceJPY should be nil for amazon, got %v", p.PriceJPY)
	}
	if p.ProductURL != "https://www.amazon.com/dp/B013HLGTL2" {
		t.Errorf("ProductURL = %q", p.ProductURL)
	}
}

func TestAmazonScrape_Variants(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://www.amazon.com/dp/B013HLGTL2",
		httpmock.NewStringResponder(200, `<html><body>
			<span id="productTitle">Mechanical Keyboard</span>
			<div id="variation_color_name"><ul>
				<li title="Click to select Midnight Black" data-defaultasin="B013HLGTL2">$89.99</li>
				<li title="Click to select Arctic White" data-defaultasin="B0AAAAAAA1">$94.99</li>
			</ul></div>
		</body></html>`))

	s := NewAmazonScraper(Config{Transport: transport})
	products, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/B013HLGTL2")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("got %d products, want 2", len(products))
	}

	if products[0].ID != "B013HLGTL2_midnight_black" {
		t.Errorf("variant 0 ID = %q", products[0].ID)
	}
	if products[1].ID != "B0AAAAAAA1_arctic_white" {
		t.Errorf("variant 1 ID = %q", products[1].ID)
	}
	if products[1].PriceUSD == nil || *products[1].PriceUSD != 94.99 {
		t.Errorf("variant 1 PriceUSD = %v, want 94.99", products[1].PriceUSD)
	}
	if products[0].VariantName != "Midnight Black" {
		t.Errorf("variant 0 name = %q", products[0].VariantName)
	}
	if products[0].Title != "Mechanical Keyboard - Midnight Black" {
		t.Errorf("variant 0 title = %q", products[0].Title)
	}
}

func TestAmazonScrape_IgnoresAddonSectionPrices(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://www.amazon.com/dp/B013HLGTL2",
		httpmock.NewStringResponder(200, `<html><body>
			<div id="sims-fbt"><span class="a-price"><span class="a-offscreen">$12.49</span></span></div>
			<span id="productTitle">Mechanical Keyboard</span>
			<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$89.99</span></span></div>
			<div id="sp_detail"><span class="a-price"><span class="a-offscreen">$5.00</span></span></div>
		</body></html>`))

	s := NewAmazonScraper(Config{Transport: transport})
	products, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/B013HLGTL2")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("got %d products, want 1", len(products))
	}
	if products[0].PriceUSD == nil || *products[0].PriceUSD != 89.99 {
		t.Errorf("PriceUSD = %v, want 89.99 (recommendation prices ignored)", products[0].PriceUSD)
	}
}

func TestAmazonScrape_RejectsURLWithoutASIN(t *testing.T) {
	s := NewAmazonScraper(Config{})
	if _, err := s.Scrape(context.Background(), "https://www.amazon.com/s?k=keyboard"); err == nil {
		t.Fatal("expected error for URL without ASIN")
	}
}
