package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"

	"github.com/deltaguita/market-tracker/internal/exchange"
	"github.com/deltaguita/market-tracker/internal/models"
)

// mercariIDPatterns covers the Mercari URL shapes that carry an item id.
var mercariIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/products/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`/item/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`/jp/([a-zA-Z0-9]+)`),
}

// Price text on listing cards mixes currencies, e.g. "29,737日圓 NT$6,296"
// or "¥19,050 NT$4,023".
var (
	jpyPricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`([\d,]+)\s*日圓`),
		regexp.MustCompile(`¥\s*([\d,]+)`),
		regexp.MustCompile(`JPY\s*([\d,]+)`),
	}
	twdPricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`NT\$\s*([\d,]+)`),
		regexp.MustCompile(`TWD\s*([\d,]+)`),
	}
	titleNoisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*NT\$\s*[\d,]+`),
		regexp.MustCompile(`\s*¥\s*[\d,]+`),
		regexp.MustCompile(`\s*[\d,]+\s*日圓`),
	}
)

// MercariScraper scrapes Mercari JP search result pages. Listing cards carry
// JPY prices; TWD is parsed when the page shows it and derived from the
// exchange rate otherwise.
type MercariScraper struct {
	cfg Config

	// JPYToTWDRate fills in TWD prices the page does not show. Zero leaves
	// missing TWD prices unset.
	JPYToTWDRate float64
}

// NewMercariScraper builds a scraper for Mercari JP search pages.
func NewMercariScraper(cfg Config) *MercariScraper {
	return &MercariScraper{cfg: cfg}
}

// Source implements Scraper.
func (s *MercariScraper) Source() models.Source {
	return models.SourceMercariJP
}

// ProductID extracts the item id from a Mercari product URL.
func (s *MercariScraper) ProductID(u string) string {
	for _, pattern := range mercariIDPatterns {
		if m := pattern.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	return ""
}

// Scrape visits a Mercari search page and returns one observation per unique
// item, following pagination up to the configured page cap.
func (s *MercariScraper) Scrape(ctx context.Context, rawURL string) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	searchURL, err := WithOnSaleStatus(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bad mercari url %q: %w", rawURL, err)
	}

	collector := newCollector(s.cfg, "jp.mercari.com", "item.mercari.com")
	seen := newSeenCache()

	var (
		mu       sync.Mutex
		products []models.Observation
		pages    = 1
	)

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if !strings.Contains(href, "/item/") && !strings.Contains(href, "/products/") {
			return
		}

		obs, ok := s.extractItem(e)
		if !ok {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen.Get(obs.ID); dup {
			return
		}
		seen.Add(obs.ID, struct{}{})
		products = append(products, obs)
	})

	// Pagination uses a localized "next page" link.
	collector.OnHTML("a", func(e *colly.HTMLElement) {
		if !strings.Contains(e.Text, "下一頁") && !strings.Contains(e.Text, "次へ") {
			return
		}
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		if s.cfg.MaxPages > 0 && pages >= s.cfg.MaxPages {
			mu.Unlock()
			return
		}
		pages++
		mu.Unlock()
		collector.Visit(e.Request.AbsoluteURL(e.Attr("href")))
	})

	if err := collector.Visit(searchURL); err != nil {
		return nil, fmt.Errorf("failed to scrape mercari page: %w", err)
	}
	collector.Wait()

	return products, nil
}

func (s *MercariScraper) extractItem(e *colly.HTMLElement) (models.Observation, bool) {
	productURL := e.Request.AbsoluteURL(e.Attr("href"))
	id := s.ProductID(productURL)
	if id == "" {
		return models.Observation{}, false
	}

	imgAlt := e.ChildAttr("img", "alt")
	cardText := strings.TrimSpace(e.Text)

	jpy, twd := ParseMercariPrice(imgAlt + " " + cardText)
	if jpy == 0 && twd == 0 {
		return models.Observation{}, false
	}
	if twd == 0 && jpy > 0 && s.JPYToTWDRate > 0 {
		twd = exchange.ConvertJPYToTWD(jpy, s.JPYToTWDRate)
	}

	title := cleanMercariTitle(imgAlt, cardText)
	if title == "" {
		title = fmt.Sprintf("商品 %s", id)
	}

	obs := models.Observation{
		ID:         id,
		Title:      title,
		ImageURL:   e.ChildAttr("img", "src"),
		ProductURL: productURL,
	}
	if jpy > 0 {
		obs.PriceJPY = &jpy
	}
	if twd > 0 {
		obs.PriceTWD = &twd
	}
	return obs, true
}

// WithOnSaleStatus forces the status=on_sale query parameter so sold items
// never enter the store.
func WithOnSaleStatus(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("status", "on_sale")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ParseMercariPrice extracts (JPY, TWD) amounts from listing card text.
// Either may be zero when the text does not carry that currency.
func ParseMercariPrice(text string) (jpy, twd int64) {
	for _, pattern := range jpyPricePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			jpy = parsePriceNumber(m[1])
			break
		}
	}
	for _, pattern := range twdPricePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			twd = parsePriceNumber(m[1])
			break
		}
	}
	return jpy, twd
}

func parsePriceNumber(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// cleanMercariTitle derives a display title from the card's image alt text,
// falling back to the link text, with price fragments stripped.
func cleanMercariTitle(imgAlt, linkText string) string {
	title := imgAlt
	if idx := strings.Index(title, "的圖片"); idx >= 0 {
		title = title[:idx]
	}
	if title == "" {
		title = linkText
		if len(title) > 100 {
			title = title[:100]
		}
	}
	for _, pattern := range titleNoisePatterns {
		title = pattern.ReplaceAllString(title, "")
	}
	return strings.Join(strings.Fields(title), " ")
}
