// Schema migration for the tracking store.
//
// Versions are integers recorded in an append-only schema_version log:
//
//	0 — fresh database, no tables
//	1 — legacy single-source products table (no source column)
//	2 — target schema: composite (id, source) key, multi-currency price
//	    fields, price_history table, indexes
//
// Stores that predate the version log are classified by inspecting the
// products table's columns. Every migration step runs inside one transaction;
// a failure rolls the store back to exactly its prior state.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// TargetVersion is the schema version this build requires.
const TargetVersion = 2

// legacySource tags rows carried forward from the version-1 single-source
// table. Mirrors models.LegacySource; duplicated here to keep the migration
// self-contained.
const legacySource = "mercari_jp"

// VersionDetectionError means the store's schema state could not be
// determined. Fatal: no guess is made, and no operation may proceed.
type VersionDetectionError struct {
	Err error
}

func (e *VersionDetectionError) Error() string {
	return fmt.Sprintf("failed to detect schema version: %v", e.Err)
}

func (e *VersionDetectionError) Unwrap() error { return e.Err }

// MigrationError means a migration step failed and was rolled back. Fatal:
// the store refuses operations until a later Migrate succeeds.
type MigrationError struct {
	FromVersion int
	ToVersion   int
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration from version %d to %d failed: %v", e.FromVersion, e.ToVersion, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// VersionRecord is one row of the schema_version log.
type VersionRecord struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// DetectVersion determines the store's current schema version.
//
// Detection order:
//  1. schema_version log with at least one row: max(version)
//  2. products table present: source column means version 2 (pre-log
//     install), otherwise version 1 (legacy)
//  3. no tables: version 0
func DetectVersion(db *sql.DB) (int, error) {
	hasLog, err := tableExists(db, "schema_version")
	if err != nil {
		return 0, &VersionDetectionError{Err: err}
	}
	if hasLog {
		var version sql.NullInt64
		if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
			return 0, &VersionDetectionError{Err: err}
		}
		if version.Valid {
			return int(version.Int64), nil
		}
		// Log table exists but is empty; fall through to column inspection.
	}

	hasProducts, err := tableExists(db, "products")
	if err != nil {
		return 0, &VersionDetectionError{Err: err}
	}
	if hasProducts {
		hasSource, err := tableHasColumn(db, "products", "source")
		if err != nil {
			return 0, &VersionDetectionError{Err: err}
		}
		if hasSource {
			return 2, nil
		}
		return 1, nil
	}

	return 0, nil
}

// Migrate brings the store to TargetVersion. Running it against an
// already-migrated store is a no-op.
func Migrate(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureVersionTable(db); err != nil {
		return &MigrationError{ToVersion: TargetVersion, Err: err}
	}

	current, err := DetectVersion(db)
	if err != nil {
		return err
	}

	if current >= TargetVersion {
		logger.Debug("schema is current, no migration needed", "version", current)
		return nil
	}

	logger.Info("migrating schema", "from_version", current, "to_version", TargetVersion)

	if current == 0 {
		// Fresh store: create the target schema directly, skipping the
		// intermediate migration entirely.
		if err := runStep(db, func(tx *sql.Tx) error {
			if err := createTargetSchema(tx); err != nil {
				return err
			}
			return recordVersion(tx, TargetVersion, "initial v2 schema")
		}); err != nil {
			return &MigrationError{FromVersion: 0, ToVersion: TargetVersion, Err: err}
		}
		logger.Info("initialized fresh store", "version", TargetVersion)
		return nil
	}

	if err := runStep(db, func(tx *sql.Tx) error {
		if err := migrateV1ToV2(tx, logger); err != nil {
			return err
		}
		return recordVersion(tx, TargetVersion, "migrate legacy single-source table to v2")
	}); err != nil {
		return &MigrationError{FromVersion: current, ToVersion: TargetVersion, Err: err}
	}

	logger.Info("migration completed", "version", TargetVersion)
	return nil
}

// AppliedVersions returns the schema_version log, oldest first.
func AppliedVersions(db *sql.DB) ([]VersionRecord, error) {
	rows, err := db.Query("SELECT version, applied_at, description FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []VersionRecord
	for rows.Next() {
		var r VersionRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt, &r.Description); err != nil {
			return nil, err
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		records = append(records, r)
	}

	return records, rows.Err()
}

// runStep executes fn inside a single transaction.
func runStep(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL,
			description TEXT
		)
	`)
	return err
}

func recordVersion(tx *sql.Tx, version int, description string) error {
	_, err := tx.Exec(
		"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
		version, time.Now().UTC().Format(time.RFC3339), description,
	)
	return err
}

// migrateV1ToV2 rebuilds the legacy table under the composite-key schema.
// Legacy rows are tagged with the fixed default source; columns introduced in
// v2 stay NULL. Idempotent: a products table that already has the source
// column is left untouched.
func migrateV1ToV2(tx *sql.Tx, logger *slog.Logger) error {
	hasProducts, err := txTableExists(tx, "products")
	if err != nil {
		return err
	}
	if !hasProducts {
		return createTargetSchema(tx)
	}

	hasSource, err := txTableHasColumn(tx, "products", "source")
	if err != nil {
		return err
	}
	if hasSource {
		logger.Debug("products table already has v2 schema, skipping rebuild")
		return nil
	}

	if _, err := tx.Exec("CREATE TABLE products_backup_v1 AS SELECT * FROM products"); err != nil {
		return fmt.Errorf("failed to back up legacy table: %w", err)
	}
	if _, err := tx.Exec("DROP TABLE products"); err != nil {
		return fmt.Errorf("failed to drop legacy table: %w", err)
	}
	if err := createTargetSchema(tx); err != nil {
		return err
	}

	result, err := tx.Exec(`
		INSERT INTO products (
			id, source, title, price_jpy, price_twd, price_usd,
			image_url, product_url, variant_name,
			first_seen, last_updated,
			lowest_price_jpy, lowest_price_twd, lowest_price_usd
		)
		SELECT
			id, ?, title, price_jpy, price_twd, NULL,
			image_url, product_url, NULL,
			first_seen, last_updated,
			lowest_price_jpy, lowest_price_twd, NULL
		FROM products_backup_v1
	`, legacySource)
	if err != nil {
		return fmt.Errorf("failed to copy legacy rows: %w", err)
	}
	if _, err := tx.Exec("DROP TABLE products_backup_v1"); err != nil {
		return fmt.Errorf("failed to drop backup table: %w", err)
	}

	migrated, _ := result.RowsAffected()
	logger.Info("migrated legacy rows", "count", migrated, "source", legacySource)
	return nil
}

// createTargetSchema creates the v2 products and price_history tables with
// their indexes.
func createTargetSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT,
			source TEXT,
			title TEXT,
			price_jpy INTEGER,
			price_twd INTEGER,
			price_usd REAL,
			image_url TEXT,
			product_url TEXT,
			variant_name TEXT,
			first_seen TEXT,
			last_updated TEXT,
			lowest_price_jpy INTEGER,
			lowest_price_twd INTEGER,
			lowest_price_usd REAL,
			PRIMARY KEY (id, source)
		)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id TEXT PRIMARY KEY,
			product_id TEXT,
			source TEXT,
			price_jpy INTEGER,
			price_twd INTEGER,
			price_usd REAL,
			observed_at TEXT,
			FOREIGN KEY (product_id, source) REFERENCES products(id, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_source ON products(source)`,
		`CREATE INDEX IF NOT EXISTS idx_products_id_source ON products(id, source)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, source)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create target schema: %w", err)
		}
	}
	return nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func txTableExists(tx *sql.Tx, name string) (bool, error) {
	var found string
	err := tx.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableHasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return scanForColumn(rows, column)
}

func txTableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return scanForColumn(rows, column)
}

func scanForColumn(rows *sql.Rows, column string) (bool, error) {
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
