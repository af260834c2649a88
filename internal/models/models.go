// Package models defines the domain models for the application.
package models

import (
	"fmt"
	"time"
)

// Source identifies a marketplace. Product ids are namespaced by source, so
// two marketplaces may reuse the same id string without colliding.
type Source string

const (
	SourceAmazonUS  Source = "amazon_us"
	SourceMercariJP Source = "mercari_jp"

	// LegacySource tags rows migrated from the single-source schema, which
	// predates marketplace namespacing.
	LegacySource = SourceMercariJP
)

// ValidSources is the set of supported marketplace identifiers.
var ValidSources = map[Source]bool{
	SourceAmazonUS:  true,
	SourceMercariJP: true,
}

// ValidateSource returns a *ValidationError if source is not supported.
func ValidateSource(source Source) error {
	if !ValidSources[source] {
		return &ValidationError{Source: source}
	}
	return nil
}

// ValidationError reports an unsupported source identifier passed to a store
// call. The call is rejected before any side effect.
type ValidationError struct {
	Source Source
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid source %q: must be one of amazon_us, mercari_jp", e.Source)
}

// TrackingMode controls how much price state is kept per product.
type TrackingMode string

const (
	// TrackingLatestOnly keeps current values and a running lowest-price
	// floor; no history rows are written.
	TrackingLatestOnly TrackingMode = "latest_only"
	// TrackingFullHistory additionally appends an immutable history row for
	// every observation.
	TrackingFullHistory TrackingMode = "full_history"
)

// Observation is a single scrape result for one listing. Price fields are nil
// when the marketplace did not expose them; only the fields relevant to the
// observation's source are populated.
type Observation struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	ProductURL  string   `json:"product_url"`
	ImageURL    string   `json:"image_url,omitempty"`
	VariantName string   `json:"variant_name,omitempty"`
	PriceJPY    *int64   `json:"price_jpy,omitempty"`
	PriceTWD    *int64   `json:"price_twd,omitempty"`
	PriceUSD    *float64 `json:"price_usd,omitempty"`
}

// Product is a tracked listing row. Identity is the (ID, Source) pair.
// Lowest* fields are nullable floors: once a floor holds a real (>0) value it
// is non-increasing, except for the legacy ≤1 reset rule in LowestPrice.
type Product struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	Title       string    `json:"title"`
	PriceJPY    *int64    `json:"price_jpy,omitempty"`
	PriceTWD    *int64    `json:"price_twd,omitempty"`
	PriceUSD    *float64  `json:"price_usd,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	ProductURL  string    `json:"product_url"`
	VariantName string    `json:"variant_name,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
	LowestJPY   *int64    `json:"lowest_price_jpy,omitempty"`
	LowestTWD   *int64    `json:"lowest_price_twd,omitempty"`
	LowestUSD   *float64  `json:"lowest_price_usd,omitempty"`
}

// PriceHistoryRecord is one append-only observation of a product's prices.
// Rows are written only in full_history mode, exactly one per observation.
type PriceHistoryRecord struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"product_id"`
	Source     Source    `json:"source"`
	PriceJPY   *int64    `json:"price_jpy,omitempty"`
	PriceTWD   *int64    `json:"price_twd,omitempty"`
	PriceUSD   *float64  `json:"price_usd,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceDrop reports that an observation came in strictly below the reference
// price for its source. OldPrice is the reference in the source's primary
// currency; OldPriceTWD carries the secondary display currency for mercari_jp
// when the stored row had one.
type PriceDrop struct {
	Observation Observation `json:"observation"`
	OldPrice    float64     `json:"old_price"`
	OldPriceTWD *int64      `json:"old_price_twd,omitempty"`
}

// CompareResult classifies a batch of observations. Observations that are
// neither new nor dropped were persisted but reported nowhere (unchanged).
type CompareResult struct {
	New          []Observation `json:"new"`
	PriceDropped []PriceDrop   `json:"price_dropped"`
}

// PrimaryPrice returns the observation price in the comparison currency for
// source: USD for amazon_us, JPY for everything else.
func (o Observation) PrimaryPrice(source Source) *float64 {
	if source == SourceAmazonUS {
		return o.PriceUSD
	}
	if o.PriceJPY == nil {
		return nil
	}
	v := float64(*o.PriceJPY)
	return &v
}

// PrimaryLowest returns the stored lowest-price floor in the comparison
// currency for source.
func (p *Product) PrimaryLowest(source Source) *float64 {
	if source == SourceAmazonUS {
		return p.LowestUSD
	}
	if p.LowestJPY == nil {
		return nil
	}
	v := float64(*p.LowestJPY)
	return &v
}

// PrimaryPrice returns the history record's price in the comparison currency
// for source.
func (r *PriceHistoryRecord) PrimaryPrice(source Source) *float64 {
	if source == SourceAmazonUS {
		return r.PriceUSD
	}
	if r.PriceJPY == nil {
		return nil
	}
	v := float64(*r.PriceJPY)
	return &v
}

// KnownPrice reports whether p holds a usable price. Nil, zero and negative
// values are all "unknown" and never participate in floor computation or drop
// comparison.
func KnownPrice(p *float64) bool {
	return p != nil && *p > 0
}

// DropPercent returns the percentage saved going from old to new, and whether
// it is displayable. Values outside [0,100] can arise from inconsistent
// observations; they suppress the displayed percentage but never change the
// underlying drop classification.
func DropPercent(oldPrice, newPrice float64) (float64, bool) {
	if oldPrice <= 0 {
		return 0, false
	}
	pct := (oldPrice - newPrice) / oldPrice * 100
	if pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}
