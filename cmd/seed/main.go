package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"fabula/internal/config"
	"fabula/internal/domain/repositories"
	"fabula/internal/repository/postgres"
	"fabula/internal/seed"
	"fabula/internal/service/engine"
)

func main() {
	// Parse command-line flags
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start)")
	schemaOnly := flag.Bool("schema-only", false, "Only run migrations, don't seed a campaign")
	clearData := flag.Bool("clear-data", false, "Clear all campaign data (keep schema)")
	namespace := flag.String("namespace", "seed", "Namespace for the demo campaign")
	campaignName := flag.String("campaign", "alice", "Demo campaign name (a preset name seeds that world)")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*dropTables || *clearData) {
		log.Fatalf("🚫 BLOCKED: Cannot run destructive operations (--drop-tables or --clear-data) in production environment")
	}

	// Setup logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *clearData {
		log.Printf("🧹 Clearing data only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else if *schemaOnly {
		log.Printf("🏗️  Setting up schema only (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	} else {
		log.Printf("🌱 Seeding database (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)
	}

	// Create database connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Drop tables if requested
	if *dropTables {
		log.Println("🗑️  Dropping all tables...")
		if err := seed.DropTables(ctx, pool, tables, cfg.TablePrefix); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✅ Tables dropped")
	}

	// Run migrations to ensure tables exist
	log.Println("📋 Ensuring database schema is up to date...")
	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("✅ Schema ready")

	// Exit early if schema-only mode
	if *schemaOnly {
		log.Println("✅ Schema setup complete (schema-only mode)")
		return
	}

	// Exit early if clear-data mode (just clear and exit)
	if *clearData {
		log.Println("🧹 Clearing existing campaign data...")
		if err := seed.ClearData(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to clear data: %v", err)
		}
		log.Println("✅ Data cleared successfully")
		return
	}

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	store := &repositories.Store{
		Campaigns: postgres.NewCampaignRepository(repoConfig),
		Actors:    postgres.NewActorRepository(repoConfig),
		Players:   postgres.NewPlayerRepository(repoConfig),
		Turns:     postgres.NewTurnRepository(repoConfig),
		Snapshots: postgres.NewSnapshotRepository(repoConfig),
		Timers:    postgres.NewTimerRepository(repoConfig),
		Inflight:  postgres.NewInflightRepository(repoConfig),
		Outbox:    postgres.NewOutboxRepository(repoConfig),
		Sessions:  postgres.NewSessionRepository(repoConfig),
		Media:     postgres.NewMediaRefRepository(repoConfig),
	}
	txManager := postgres.NewTransactionManager(pool)

	// Seed through the service layer so preset lookup and name
	// normalization behave exactly as they do in the server
	campaignService := engine.NewCampaignService(store, txManager, logger)
	seeder := seed.NewCampaignSeeder(store, campaignService, logger)

	campaign, err := seeder.SeedCampaign(ctx, *namespace, *campaignName)
	if err != nil {
		log.Fatalf("❌ Failed to seed campaign: %v", err)
	}

	log.Printf("✅ Campaign ready: %s (ID: %s, namespace: %s)", campaign.Name, campaign.ID, campaign.Namespace)
	log.Printf("   Presets available: %v", config.PresetNames())
	log.Println("🎉 Seeding complete!")
}
