//go:build ignore

// Run with: go run scripts/drop_all_tables.go

package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	// Read environment to determine table prefix
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev" // Default to dev
	}

	prefix := os.Getenv("TABLE_PREFIX")
	if prefix == "" {
		prefix = env + "_"
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }() // Error ignored: script exiting

	// Drop all tables with environment-specific prefix, children first
	dropSQL := fmt.Sprintf(`
		DROP TABLE IF EXISTS %[1]smedia_refs CASCADE;
		DROP TABLE IF EXISTS %[1]soutbox_events CASCADE;
		DROP TABLE IF EXISTS %[1]stimers CASCADE;
		DROP TABLE IF EXISTS %[1]sinflight_turns CASCADE;
		DROP TABLE IF EXISTS %[1]ssnapshots CASCADE;
		DROP TABLE IF EXISTS %[1]sturns CASCADE;
		DROP TABLE IF EXISTS %[1]ssessions CASCADE;
		DROP TABLE IF EXISTS %[1]splayers CASCADE;
		DROP TABLE IF EXISTS %[1]sactor_external_refs CASCADE;
		DROP TABLE IF EXISTS %[1]sactors CASCADE;
		DROP TABLE IF EXISTS %[1]scampaigns CASCADE;
		DROP TABLE IF EXISTS %[1]sschema_migrations CASCADE;
	`, prefix)

	if _, err := db.Exec(dropSQL); err != nil {
		log.Fatalf("Failed to drop tables: %v", err)
	}

	fmt.Printf("All tables dropped successfully (prefix: %s)\n", prefix)
}
