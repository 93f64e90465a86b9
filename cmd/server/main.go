package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"fabula/internal/config"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/handler"
	"fabula/internal/middleware"
	"fabula/internal/repository/postgres"
	"fabula/internal/service/actors"
	"fabula/internal/service/attachments"
	"fabula/internal/service/engine"
	"fabula/internal/service/llm"
	"fabula/internal/service/outbox"
	"fabula/internal/service/timers"
)

const maxLogFiles = 10

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logWriter io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, maxLogFiles)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer logFile.Close()
		logWriter = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger) // Set as default logger

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
		"llm_provider", cfg.LLMProvider,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Run migrations against the environment's table prefix
	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

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

	// Setup LLM provider
	llmPort, completionPort, err := llm.SetupProvider(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup LLM provider: %v", err)
	}

	// Core services. The timer effects, media generation and memory
	// search ports belong to external workers; this binary runs without
	// them and the services skip the corresponding side effects.
	resolver := actors.NewResolver(store, logger)
	engineService := engine.NewTurnEngineService(store, txManager, llmPort, resolver, &engine.EngineConfig{
		LeaseTTL:           cfg.LeaseTTL,
		MaxConflictRetries: cfg.MaxConflictRetries,
	}, logger)

	scheduler := timers.NewScheduler(store, nil, nil, logger)
	attachmentService := attachments.NewProcessor(completionPort, logger)

	gameService := engine.NewGameService(&engine.GameDeps{
		Store:       store,
		TxManager:   txManager,
		Engine:      engineService,
		Timers:      scheduler,
		Attachments: attachmentService,
		Resolver:    resolver,
		Logger:      logger,
	})
	scheduler.SetRunner(gameService)

	campaignService := engine.NewCampaignService(store, txManager, logger)
	rewindService := engine.NewRewindService(store, txManager, logger)
	memoryService := engine.NewMemoryService(store, nil, logger)
	progressionService := engine.NewProgressionService(store, logger)
	mediaService := engine.NewMediaService(store, txManager, logger)

	// Re-arm countdowns that were pending when the last process died
	if err := scheduler.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore timers: %v", err)
	}

	// Outbox dispatcher. Handlers for timer_scheduled, scene_image_requested
	// and memory_prune_requested stay unregistered until their worker ports
	// are deployed; the rows wait as pending.
	dispatcher := outbox.NewDispatcher(store, &outbox.Config{
		PollInterval: cfg.OutboxPollInterval,
	}, logger)
	dispatcher.Register(models.EventGiveItemUnresolved, outbox.GiveItemUnresolvedHandler(logger))

	dispatcherCtx, stopDispatcher := context.WithCancel(ctx)
	defer stopDispatcher()
	go func() {
		if err := dispatcher.Run(dispatcherCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox dispatcher stopped", "error", err)
		}
	}()

	logger.Info("services initialized")

	// Create handlers
	campaignHandler := handler.NewCampaignHandler(campaignService, logger)
	turnHandler := handler.NewTurnHandler(gameService, rewindService, memoryService, logger)
	timerHandler := handler.NewTimerHandler(scheduler, logger)
	playerHandler := handler.NewPlayerHandler(progressionService, logger)
	mediaHandler := handler.NewMediaHandler(mediaService, logger)

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.HealthCheck)

	// Campaign routes
	mux.HandleFunc("POST /api/campaigns", campaignHandler.CreateCampaign)
	mux.HandleFunc("GET /api/campaigns", campaignHandler.ListCampaigns)
	mux.HandleFunc("GET /api/campaigns/{id}", campaignHandler.GetCampaign)
	mux.HandleFunc("PUT /api/campaigns/{id}/speed", campaignHandler.SetSpeed)
	mux.HandleFunc("PUT /api/campaigns/{id}/flags", campaignHandler.SetFlags)

	// Turn routes
	mux.HandleFunc("POST /api/campaigns/{id}/turns", turnHandler.ResolveTurn)
	mux.HandleFunc("GET /api/campaigns/{id}/turns", turnHandler.ListTurns)
	mux.HandleFunc("POST /api/campaigns/{id}/rewind", turnHandler.Rewind)
	mux.HandleFunc("POST /api/campaigns/{id}/memory/filter", turnHandler.FilterMemory)

	// Timer routes
	mux.HandleFunc("GET /api/campaigns/{id}/timer", timerHandler.GetActiveTimer)
	mux.HandleFunc("POST /api/timers/{id}/bind", timerHandler.BindMessage)

	// Player progression routes
	mux.HandleFunc("POST /api/campaigns/{id}/players/{actor}/level-up", playerHandler.LevelUp)
	mux.HandleFunc("POST /api/campaigns/{id}/players/{actor}/attributes", playerHandler.AllocateAttribute)

	// Media completion callback
	mux.HandleFunc("POST /api/campaigns/{id}/media", mediaHandler.RecordCompletion)

	// Build middleware chain
	var httpHandler http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → RequestLog → Routes
	httpHandler = middleware.RequestLog(logger)(httpHandler)
	httpHandler = middleware.Recovery(logger)(httpHandler)

	// CORS - Must be outermost to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Shut down on SIGINT/SIGTERM: stop accepting, drain requests, then
	// stop the dispatcher and countdown goroutines.
	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()

	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	stopDispatcher()
	scheduler.Shutdown()
	logger.Info("server stopped")
}
