package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/deltaguita/market-tracker/internal/models"
)

// productColumns is the column list shared by every products query, in scan
// order.
const productColumns = `id, source, title, price_jpy, price_twd, price_usd,
	image_url, product_url, variant_name, first_seen, last_updated,
	lowest_price_jpy, lowest_price_twd, lowest_price_usd`

// SQLiteProductRepository implements ProductRepository for SQLite/libsql.
type SQLiteProductRepository struct {
	db *sql.DB
}

// NewSQLiteProductRepository creates a new SQLite product repository.
func NewSQLiteProductRepository(db *sql.DB) *SQLiteProductRepository {
	return &SQLiteProductRepository{db: db}
}

// Get returns one product, or nil when the (id, source) pair is unknown.
func (r *SQLiteProductRepository) Get(ctx context.Context, id string, source models.Source) (*models.Product, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ? AND source = ?
	`, id, source)

	return scanProduct(row)
}

// GetExisting is a bulk lookup restricted to one source.
func (r *SQLiteProductRepository) GetExisting(ctx context.Context, ids []string, source models.Source) (map[string]*models.Product, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	products := make(map[string]*models.Product)
	if len(ids) == 0 {
		return products, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, source)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id IN (`+placeholders+`) AND source = ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProductRow(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = p
	}

	return products, rows.Err()
}

// Upsert inserts or updates one observation. The insert seeds first_seen,
// last_updated and the per-currency lowest floors; the update path refreshes
// the mutable fields and recomputes the floors. In full_history mode a
// history row with the exact observed prices is appended afterwards in its
// own transaction.
func (r *SQLiteProductRepository) Upsert(ctx context.Context, obs models.Observation, source models.Source, mode models.TrackingMode) error {
	if err := models.ValidateSource(source); err != nil {
		return err
	}

	if err := r.upsertProduct(ctx, obs, source); err != nil {
		return err
	}

	if mode == models.TrackingFullHistory {
		return r.appendHistory(ctx, obs, source)
	}
	return nil
}

func (r *SQLiteProductRepository) upsertProduct(ctx context.Context, obs models.Observation, source models.Source) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lowestJPY, lowestTWD sql.NullInt64
	var lowestUSD sql.NullFloat64
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err = tx.QueryRowContext(ctx, `
		SELECT lowest_price_jpy, lowest_price_twd, lowest_price_usd
		FROM products
		WHERE id = ? AND source = ?
	`, obs.ID, source).Scan(&lowestJPY, &lowestTWD, &lowestUSD)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO products (
				id, source, title, price_jpy, price_twd, price_usd,
				image_url, product_url, variant_name,
				first_seen, last_updated,
				lowest_price_jpy, lowest_price_twd, lowest_price_usd
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			obs.ID, source, obs.Title,
			obs.PriceJPY, obs.PriceTWD, obs.PriceUSD,
			nullable(obs.ImageURL), obs.ProductURL, nullable(obs.VariantName),
			now, now,
			initialFloorInt(obs.PriceJPY), initialFloorInt(obs.PriceTWD), initialFloorFloat(obs.PriceUSD),
		)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET
				title = ?,
				price_jpy = ?,
				price_twd = ?,
				price_usd = ?,
				image_url = ?,
				product_url = ?,
				variant_name = ?,
				last_updated = ?,
				lowest_price_jpy = ?,
				lowest_price_twd = ?,
				lowest_price_usd = ?
			WHERE id = ? AND source = ?
		`,
			obs.Title,
			obs.PriceJPY, obs.PriceTWD, obs.PriceUSD,
			nullable(obs.ImageURL), obs.ProductURL, nullable(obs.VariantName),
			now,
			lowestFloorInt(nullInt(lowestJPY), obs.PriceJPY),
			lowestFloorInt(nullInt(lowestTWD), obs.PriceTWD),
			lowestFloorFloat(nullFloat(lowestUSD), obs.PriceUSD),
			obs.ID, source,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// appendHistory writes one immutable history row, regardless of what the
// floor update decided.
func (r *SQLiteProductRepository) appendHistory(ctx context.Context, obs models.Observation, source models.Source) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (id, product_id, source, price_jpy, price_twd, price_usd, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		ulid.Make().String(), obs.ID, source,
		obs.PriceJPY, obs.PriceTWD, obs.PriceUSD,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// DetectPriceDrop classifies obs against the mode-appropriate reference:
// the most recent history row in full_history mode, the stored lowest floor
// in latest_only mode. Callers must invoke it before Upsert, otherwise the
// comparison sees the price that was just written.
func (r *SQLiteProductRepository) DetectPriceDrop(ctx context.Context, obs models.Observation, source models.Source, mode models.TrackingMode) (*models.PriceDrop, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	newPrice := obs.PrimaryPrice(source)
	if !models.KnownPrice(newPrice) {
		return nil, nil
	}

	if mode == models.TrackingFullHistory {
		latest, err := r.GetLatestPriceFromHistory(ctx, obs.ID, source)
		if err != nil || latest == nil {
			return nil, err
		}
		oldPrice := latest.PrimaryPrice(source)
		if !models.KnownPrice(oldPrice) || *newPrice >= *oldPrice {
			return nil, nil
		}
		return buildDrop(obs, source, *oldPrice, latest.PriceTWD), nil
	}

	existing, err := r.Get(ctx, obs.ID, source)
	if err != nil || existing == nil {
		return nil, err
	}
	oldPrice := existing.PrimaryLowest(source)
	if !models.KnownPrice(oldPrice) || *newPrice >= *oldPrice {
		return nil, nil
	}
	return buildDrop(obs, source, *oldPrice, existing.LowestTWD), nil
}

// CompareAndUpdate classifies and persists a batch of observations from one
// scrape. Unknown ids are reported as new; known ids are checked for a drop
// before being persisted. Observations with neither outcome are persisted
// silently, so every input is accounted for.
func (r *SQLiteProductRepository) CompareAndUpdate(ctx context.Context, observations []models.Observation, source models.Source, mode models.TrackingMode) (*models.CompareResult, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(observations))
	for _, obs := range observations {
		ids = append(ids, obs.ID)
	}
	existing, err := r.GetExisting(ctx, ids, source)
	if err != nil {
		return nil, err
	}

	result := &models.CompareResult{
		New:          []models.Observation{},
		PriceDropped: []models.PriceDrop{},
	}

	for _, obs := range observations {
		if _, ok := existing[obs.ID]; !ok {
			result.New = append(result.New, obs)
			if err := r.Upsert(ctx, obs, source, mode); err != nil {
				return nil, fmt.Errorf("failed to persist new product %s: %w", obs.ID, err)
			}
			continue
		}

		drop, err := r.DetectPriceDrop(ctx, obs, source, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to detect price drop for %s: %w", obs.ID, err)
		}
		if err := r.Upsert(ctx, obs, source, mode); err != nil {
			return nil, fmt.Errorf("failed to persist product %s: %w", obs.ID, err)
		}
		if drop != nil {
			result.PriceDropped = append(result.PriceDropped, *drop)
		}
	}

	return result, nil
}

// GetPriceHistory returns all history rows for a product, oldest first.
func (r *SQLiteProductRepository) GetPriceHistory(ctx context.Context, productID string, source models.Source) ([]*models.PriceHistoryRecord, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, source, price_jpy, price_twd, price_usd, observed_at
		FROM price_history
		WHERE product_id = ? AND source = ?
		ORDER BY observed_at ASC, id ASC
	`, productID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.PriceHistoryRecord
	for rows.Next() {
		rec, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetPriceHistoryCount returns the number of history rows for a product.
func (r *SQLiteProductRepository) GetPriceHistoryCount(ctx context.Context, productID string, source models.Source) (int, error) {
	if err := models.ValidateSource(source); err != nil {
		return 0, err
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM price_history WHERE product_id = ? AND source = ?",
		productID, source,
	).Scan(&count)
	return count, err
}

// GetLatestPriceFromHistory returns the most recent history row, or nil when
// the product has none.
func (r *SQLiteProductRepository) GetLatestPriceFromHistory(ctx context.Context, productID string, source models.Source) (*models.PriceHistoryRecord, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, source, price_jpy, price_twd, price_usd, observed_at
		FROM price_history
		WHERE product_id = ? AND source = ?
		ORDER BY observed_at DESC, id DESC
		LIMIT 1
	`, productID, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanHistoryRow(rows)
}

// CountBySource returns the number of tracked products for one source.
func (r *SQLiteProductRepository) CountBySource(ctx context.Context, source models.Source) (int, error) {
	if err := models.ValidateSource(source); err != nil {
		return 0, err
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE source = ?", source,
	).Scan(&count)
	return count, err
}

func buildDrop(obs models.Observation, source models.Source, oldPrice float64, oldTWD *int64) *models.PriceDrop {
	drop := &models.PriceDrop{Observation: obs, OldPrice: oldPrice}
	if source == models.SourceMercariJP && oldTWD != nil && *oldTWD > 0 {
		drop.OldPriceTWD = oldTWD
	}
	return drop
}

// initialFloorInt seeds a lowest floor on insert: the observed price when it
// is real, otherwise unset.
func initialFloorInt(price *int64) *int64 {
	if price != nil && *price > 0 {
		return price
	}
	return nil
}

func initialFloorFloat(price *float64) *float64 {
	if price != nil && *price > 0 {
		return price
	}
	return nil
}

// lowestFloorInt recomputes a floor on update. An unset floor, or one at or
// below 1, adopts the new price outright; the ≤1 guard resets floors seeded
// from historical placeholder data. Otherwise a real new price can only pull
// the floor down, and an unknown price leaves it alone.
func lowestFloorInt(existing, observed *int64) *int64 {
	if existing == nil || *existing <= 1 {
		return initialFloorInt(observed)
	}
	if observed != nil && *observed > 0 && *observed < *existing {
		return observed
	}
	return existing
}

func lowestFloorFloat(existing, observed *float64) *float64 {
	if existing == nil || *existing <= 1 {
		return initialFloorFloat(observed)
	}
	if observed != nil && *observed > 0 && *observed < *existing {
		return observed
	}
	return existing
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanProduct scans a single QueryRow result into a Product.
func scanProduct(row *sql.Row) (*models.Product, error) {
	p, err := scanProductFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// scanProductRow scans the current row of a Rows cursor into a Product.
func scanProductRow(rows *sql.Rows) (*models.Product, error) {
	return scanProductFrom(rows)
}

func scanProductFrom(s rowScanner) (*models.Product, error) {
	var p models.Product
	var title, imageURL, productURL, variantName sql.NullString
	var priceJPY, priceTWD, lowestJPY, lowestTWD sql.NullInt64
	var priceUSD, lowestUSD sql.NullFloat64
	var firstSeen, lastUpdated string

	err := s.Scan(
		&p.ID, &p.Source, &title,
		&priceJPY, &priceTWD, &priceUSD,
		&imageURL, &productURL, &variantName,
		&firstSeen, &lastUpdated,
		&lowestJPY, &lowestTWD, &lowestUSD,
	)
	if err != nil {
		return nil, err
	}

	p.Title = title.String
	p.ImageURL = imageURL.String
	p.ProductURL = productURL.String
	p.VariantName = variantName.String
	p.PriceJPY = nullInt(priceJPY)
	p.PriceTWD = nullInt(priceTWD)
	p.PriceUSD = nullFloat(priceUSD)
	p.LowestJPY = nullInt(lowestJPY)
	p.LowestTWD = nullInt(lowestTWD)
	p.LowestUSD = nullFloat(lowestUSD)
	p.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	p.LastUpdated, _ = time.Parse(time.RFC3339Nano, lastUpdated)

	return &p, nil
}

func scanHistoryRow(rows *sql.Rows) (*models.PriceHistoryRecord, error) {
	var rec models.PriceHistoryRecord
	var priceJPY, priceTWD sql.NullInt64
	var priceUSD sql.NullFloat64
	var observedAt string

	err := rows.Scan(
		&rec.ID, &rec.ProductID, &rec.Source,
		&priceJPY, &priceTWD, &priceUSD,
		&observedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PriceJPY = nullInt(priceJPY)
	rec.PriceTWD = nullInt(priceTWD)
	rec.PriceUSD = nullFloat(priceUSD)
	rec.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedAt)

	return &rec, nil
}
