package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Conceptual-Machines/grammar-gateway/internal/models"
)

// Connect opens the Postgres connection for probe-run history.
func Connect(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Println("🗄️  Database connected")
	return db, nil
}

// Migrate runs the schema migrations for all persisted models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ProbeRun{},
		&models.ProbeResult{},
	)
}
