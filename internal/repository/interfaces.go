// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"

	"github.com/deltaguita/market-tracker/internal/models"
)

// ProductRepository defines methods for product and price-history access.
// All methods reject unknown sources with *models.ValidationError before any
// side effect. Storage errors propagate to the caller unmodified; the
// repository performs no retries.
type ProductRepository interface {
	// Get returns one product, or nil when the (id, source) pair is unknown.
	Get(ctx context.Context, id string, source models.Source) (*models.Product, error)
	// GetExisting is a bulk lookup restricted to one source; only ids
	// actually found are present in the returned map.
	GetExisting(ctx context.Context, ids []string, source models.Source) (map[string]*models.Product, error)
	// Upsert inserts or updates one observation, maintaining the
	// lowest-price floor. In full_history mode it additionally appends a
	// history row with the exact observed prices.
	Upsert(ctx context.Context, obs models.Observation, source models.Source, mode models.TrackingMode) error
	// DetectPriceDrop classifies obs against the mode-appropriate reference
	// price. Must be called before the corresponding Upsert. Returns nil
	// when there is no drop or either side is unknown.
	DetectPriceDrop(ctx context.Context, obs models.Observation, source models.Source, mode models.TrackingMode) (*models.PriceDrop, error)
	// CompareAndUpdate classifies and persists a batch of observations.
	// Every input ends up new, price-dropped, or silently unchanged.
	CompareAndUpdate(ctx context.Context, observations []models.Observation, source models.Source, mode models.TrackingMode) (*models.CompareResult, error)
	// GetPriceHistory returns history rows ordered oldest to newest.
	GetPriceHistory(ctx context.Context, productID string, source models.Source) ([]*models.PriceHistoryRecord, error)
	GetPriceHistoryCount(ctx context.Context, productID string, source models.Source) (int, error)
	// GetLatestPriceFromHistory returns the most recent history row, or nil
	// when the product has none.
	GetLatestPriceFromHistory(ctx context.Context, productID string, source models.Source) (*models.PriceHistoryRecord, error)
	CountBySource(ctx context.Context, source models.Source) (int, error)
}

// Repositories aggregates all repositories for dependency injection.
type Repositories struct {
	Product ProductRepository
}

// NewRepositories creates all repositories backed by the given database.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Product: NewSQLiteProductRepository(db),
	}
}
