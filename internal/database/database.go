// Package database handles database connections and schema migrations.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

// New creates a new database connection using libsql.
// Supports local files ("file:path/to/db.sqlite") and in-memory databases
// (":memory:", used by tests).
func New(dsn string) (*sql.DB, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
