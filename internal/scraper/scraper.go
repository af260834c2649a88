// Package scraper extracts product observations from marketplace pages.
//
// Each marketplace gets its own Scraper implementation sharing a common
// colly collector setup. Observations feed the product store untouched;
// price ceilings and drop detection happen downstream.
package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deltaguita/market-tracker/internal/models"
)

// Scraper extracts product observations from one marketplace.
type Scraper interface {
	// Source returns the marketplace this scraper serves.
	Source() models.Source

	// ProductID extracts the marketplace's product identifier from a product
	// URL, or "" when the URL carries none.
	ProductID(url string) string

	// Scrape visits url and returns every product observation found on it.
	// Cancelling ctx stops pagination; observations collected so far are
	// still returned.
	Scrape(ctx context.Context, url string) ([]models.Observation, error)
}

// Config holds settings shared by all scrapers.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxPages caps pagination for listing scrapers. Zero means no cap.
	MaxPages int
	// Transport overrides the HTTP transport when set.
	Transport http.RoundTripper
}

// seenCacheSize bounds the per-crawl dedup cache. Listing pages repeat
// items across pagination; the cache keeps each product ID once.
const seenCacheSize = 4096

// newCollector builds a collector with the shared transport settings.
func newCollector(cfg Config, domains ...string) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
	)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.IgnoreRobotsTxt = true
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	return collector
}

// newSeenCache builds the product-ID dedup cache.
func newSeenCache() *lru.Cache[string, struct{}] {
	cache, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("scraper: bad seen cache size: %v", err))
	}
	return cache
}

// New returns the scraper for source.
func New(source models.Source, cfg Config) (Scraper, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}
	switch source {
	case models.SourceAmazonUS:
		return NewAmazonScraper(cfg), nil
	default:
		return NewMercariScraper(cfg), nil
	}
}
