package repository

import (
	"database/sql"
	"testing"

	"github.com/deltaguita/market-tracker/internal/database"
	"github.com/deltaguita/market-tracker/internal/models"
)

// setupTestDB creates an in-memory store for testing. It runs migrations and
// returns a connection that is closed when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(setupTestDB(t))
}

func jpyObs(id, title string, priceJPY int64) models.Observation {
	obs := models.Observation{
		ID:         id,
		Title:      title,
		ProductURL: "https://jp.mercari.com/item/" + id,
	}
	if priceJPY != 0 {
		obs.PriceJPY = &priceJPY
	}
	return obs
}

func usdObs(id, title string, priceUSD float64) models.Observation {
	obs := models.Observation{
		ID:         id,
		Title:      title,
		ProductURL: "https://www.amazon.com/dp/" + id,
	}
	if priceUSD != 0 {
		obs.PriceUSD = &priceUSD
	}
	return obs
}
