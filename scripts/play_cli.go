//go:build ignore

// Interactive play CLI: a terminal surface over the turn engine, useful
// for exercising campaigns without a chat frontend.
//
// Run with: go run scripts/play_cli.go

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fabula/internal/config"
	"fabula/internal/domain/models"
	"fabula/internal/domain/repositories"
	"fabula/internal/domain/services"
	"fabula/internal/repository/postgres"
	"fabula/internal/service/actors"
	"fabula/internal/service/attachments"
	"fabula/internal/service/engine"
	"fabula/internal/service/llm"
	"fabula/internal/service/timers"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

type CLI struct {
	ctx         context.Context
	store       *repositories.Store
	game        services.GameService
	campaigns   services.CampaignService
	rewind      services.RewindService
	timers      services.TimerService
	progression services.ProgressionService
	scanner     *bufio.Scanner
	campaign    *models.Campaign
	playerName  string
	actorID     string
	logger      *slog.Logger
}

// setupLogger creates a logger that writes to both console and file
func setupLogger() (*slog.Logger, string, error) {
	logsDir := "logs"
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFilename := filepath.Join(logsDir, fmt.Sprintf("play_cli_%s.log", timestamp))

	logFile, err := os.Create(logFilename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create log file: %w", err)
	}

	// Console: WARN level only so narration stays readable
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})

	// File: DEBUG level with source locations
	fileHandler := slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format("2006-01-02 15:04:05"))
				}
			}
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	})

	logger := slog.New(&multiHandler{handlers: []slog.Handler{consoleHandler, fileHandler}})
	return logger, logFilename, nil
}

// multiHandler writes to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

func main() {
	logger, logFile, err := setupLogger()
	if err != nil {
		fmt.Printf("Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("session started", "log_file", logFile)

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("%s❌ Failed to connect to database: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, cfg.TablePrefix); err != nil {
		fmt.Printf("%s❌ Failed to run migrations: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	tables := postgres.NewTableNames(cfg.TablePrefix)
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

	llmPort, completionPort, err := llm.SetupProvider(cfg, logger)
	if err != nil {
		fmt.Printf("%s❌ Failed to setup LLM provider: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	fmt.Printf("%sLLM provider: %s%s\n", colorBlue, cfg.LLMProvider, colorReset)

	resolver := actors.NewResolver(store, logger)
	engineService := engine.NewTurnEngineService(store, txManager, llmPort, resolver, &engine.EngineConfig{
		LeaseTTL:           cfg.LeaseTTL,
		MaxConflictRetries: cfg.MaxConflictRetries,
	}, logger)
	scheduler := timers.NewScheduler(store, nil, nil, logger)
	gameService := engine.NewGameService(&engine.GameDeps{
		Store:       store,
		TxManager:   txManager,
		Engine:      engineService,
		Timers:      scheduler,
		Attachments: attachments.NewProcessor(completionPort, logger),
		Resolver:    resolver,
		Logger:      logger,
	})
	scheduler.SetRunner(gameService)
	if err := scheduler.Restore(ctx); err != nil {
		logger.Warn("timer restore failed", "error", err)
	}

	cli := &CLI{
		ctx:         ctx,
		store:       store,
		game:        gameService,
		campaigns:   engine.NewCampaignService(store, txManager, logger),
		rewind:      engine.NewRewindService(store, txManager, logger),
		timers:      scheduler,
		progression: engine.NewProgressionService(store, logger),
		scanner:     bufio.NewScanner(os.Stdin),
		logger:      logger,
	}
	cli.run()
}

func (cli *CLI) run() {
	fmt.Printf("\n%s╔══════════════════════════════════════╗%s\n", colorCyan, colorReset)
	fmt.Printf("%s║         Fabula Play CLI              ║%s\n", colorCyan, colorReset)
	fmt.Printf("%s╚══════════════════════════════════════╝%s\n", colorCyan, colorReset)

	fmt.Print("Campaign name [alice]: ")
	campaignName := cli.readLine()
	if campaignName == "" {
		campaignName = "alice"
	}
	campaign, err := cli.campaigns.GetOrCreateByName(cli.ctx, "cli", campaignName, nil)
	if err != nil {
		fmt.Printf("%s❌ Failed to open campaign: %v%s\n", colorRed, err, colorReset)
		return
	}
	cli.campaign = campaign
	fmt.Printf("%s✓ Campaign: %s (%s)%s\n", colorGreen, campaign.Name, campaign.ID, colorReset)
	if campaign.LastNarration != nil && *campaign.LastNarration != "" {
		fmt.Printf("\n%s%s%s\n", colorGreen, *campaign.LastNarration, colorReset)
	}

	fmt.Print("\nPlayer name: ")
	cli.playerName = cli.readLine()
	if cli.playerName == "" {
		cli.playerName = "Wanderer"
	}
	actor, err := cli.store.Actors.EnsureByExternalRef(cli.ctx, "cli", strings.ToLower(cli.playerName), cli.playerName)
	if err != nil {
		fmt.Printf("%s❌ Failed to resolve player: %v%s\n", colorRed, err, colorReset)
		return
	}
	cli.actorID = actor.ID

	fmt.Printf("\n%sType an action, or /help for commands.%s\n", colorBlue, colorReset)
	for {
		fmt.Printf("\n%s%s>%s ", colorCyan, cli.playerName, colorReset)
		line := cli.readLine()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !cli.runCommand(line) {
				return
			}
			continue
		}
		cli.playTurn(line)
	}
}

// runCommand dispatches a slash command; false means quit.
func (cli *CLI) runCommand(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		fmt.Printf("%s✓ Goodbye!%s\n", colorGreen, colorReset)
		return false
	case "/help":
		fmt.Println("/history [n]    show the last n turns (default 10)")
		fmt.Println("/timer          show the pending timed event")
		fmt.Println("/levelup        spend banked XP on the next level")
		fmt.Println("/stat <name>    spend one attribute point")
		fmt.Println("/rewind <turn>  restore the snapshot taken at a turn")
		fmt.Println("/speed <mult>   set the timer speed multiplier")
		fmt.Println("/quit           exit")
	case "/history":
		limit := 10
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				limit = n
			}
		}
		cli.showHistory(limit)
	case "/timer":
		cli.showTimer()
	case "/levelup":
		result, err := cli.progression.LevelUp(cli.ctx, cli.campaign.ID, cli.actorID)
		if err != nil {
			fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
			return true
		}
		fmt.Printf("%s%s%s\n", colorYellow, result.Message, colorReset)
	case "/stat":
		if len(fields) < 2 {
			fmt.Printf("%s⚠ Usage: /stat <attribute>%s\n", colorYellow, colorReset)
			return true
		}
		result, err := cli.progression.AllocateAttributePoint(cli.ctx, cli.campaign.ID, cli.actorID, fields[1])
		if err != nil {
			fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
			return true
		}
		fmt.Printf("%s✓ %s is now %d (%d points left)%s\n",
			colorGreen, result.Attribute, result.Value, result.PointsRemaining, colorReset)
	case "/rewind":
		if len(fields) < 2 {
			fmt.Printf("%s⚠ Usage: /rewind <turn_id>%s\n", colorYellow, colorReset)
			return true
		}
		turnID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Printf("%s⚠ turn_id must be a number%s\n", colorYellow, colorReset)
			return true
		}
		result := cli.rewind.Rewind(cli.ctx, &services.RewindRequest{
			CampaignID:   cli.campaign.ID,
			TargetTurnID: turnID,
		})
		if result.Status != services.StatusOK {
			fmt.Printf("%s❌ Rewind failed: %s%s\n", colorRed, result.Reason, colorReset)
			return true
		}
		fmt.Printf("%s✓ Rewound to turn %d (%d turns deleted)%s\n",
			colorGreen, turnID, result.DeletedTurns, colorReset)
	case "/speed":
		if len(fields) < 2 {
			fmt.Printf("%s⚠ Usage: /speed <multiplier>%s\n", colorYellow, colorReset)
			return true
		}
		mult, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			fmt.Printf("%s⚠ multiplier must be a number%s\n", colorYellow, colorReset)
			return true
		}
		stored, err := cli.campaigns.SetSpeedMultiplier(cli.ctx, cli.campaign.ID, mult)
		if err != nil {
			fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
			return true
		}
		fmt.Printf("%s✓ Speed multiplier set to %.2f%s\n", colorGreen, stored, colorReset)
	default:
		fmt.Printf("%s⚠ Unknown command %s (try /help)%s\n", colorYellow, fields[0], colorReset)
	}
	return true
}

func (cli *CLI) playTurn(action string) {
	fmt.Printf("%s⏳ Resolving...%s\n", colorBlue, colorReset)
	result, err := cli.game.PlayAction(cli.ctx, &services.PlayActionRequest{
		CampaignID: cli.campaign.ID,
		ActorID:    cli.actorID,
		Action:     action,
		Surface: &services.SurfaceBinding{
			Surface:   "cli",
			ChannelID: "terminal",
		},
	})
	if err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}

	if result.AvertedEvent != nil {
		fmt.Printf("%s⚡ Averted: %s%s\n", colorYellow, *result.AvertedEvent, colorReset)
	}

	resolve := result.Resolve
	switch resolve.Status {
	case services.StatusOK:
		fmt.Printf("\n%s%s%s\n", colorGreen, resolve.Narration, colorReset)
		if result.ItemGiven {
			fmt.Printf("%s🎁 Item handed over.%s\n", colorYellow, colorReset)
		}
		if resolve.ScheduledTimer != nil {
			due := time.Until(resolve.ScheduledTimer.DueAt).Round(time.Second)
			fmt.Printf("%s⏰ %s (in %s)%s\n",
				colorYellow, resolve.ScheduledTimer.EventText, due, colorReset)
		}
	case services.StatusBusy:
		fmt.Printf("%s⚠ Another turn is resolving (%s), try again shortly.%s\n",
			colorYellow, resolve.Reason, colorReset)
	case services.StatusConflict:
		fmt.Printf("%s⚠ The world moved first (%s), try again.%s\n",
			colorYellow, resolve.Reason, colorReset)
	default:
		fmt.Printf("%s❌ Resolution failed: %s%s\n", colorRed, resolve.Reason, colorReset)
	}
}

func (cli *CLI) showHistory(limit int) {
	turns, err := cli.game.RecentTurns(cli.ctx, cli.campaign.ID, limit)
	if err != nil {
		fmt.Printf("%s❌ %v%s\n", colorRed, err, colorReset)
		return
	}
	if len(turns) == 0 {
		fmt.Printf("%s(no turns yet)%s\n", colorBlue, colorReset)
		return
	}
	for _, turn := range turns {
		tag := colorGreen
		if turn.Kind == models.TurnKindPlayer {
			tag = colorCyan
		}
		fmt.Printf("%s[%d %s]%s %s\n", tag, turn.ID, turn.Kind, colorReset, turn.Content)
	}
}

func (cli *CLI) showTimer() {
	timer, err := cli.timers.GetActiveTimer(cli.ctx, cli.campaign.ID)
	if err != nil {
		fmt.Printf("%s(no pending timed event)%s\n", colorBlue, colorReset)
		return
	}
	hint := "act to prevent!"
	if !timer.Interruptible {
		hint = "unavoidable"
	}
	due := time.Until(timer.DueAt).Round(time.Second)
	fmt.Printf("%s⏰ %s in %s (%s)%s\n", colorYellow, timer.EventText, due, hint, colorReset)
}

func (cli *CLI) readLine() string {
	if !cli.scanner.Scan() {
		os.Exit(0)
	}
	return strings.TrimSpace(cli.scanner.Text())
}
