package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/pixelsmith-dev/pixelsmith/pkg/config"
	"github.com/pixelsmith-dev/pixelsmith/pkg/database"
	"github.com/pixelsmith-dev/pixelsmith/pkg/discord"
	"github.com/pixelsmith-dev/pixelsmith/pkg/imagegen"
	"github.com/pixelsmith-dev/pixelsmith/pkg/logging"
	"github.com/pixelsmith-dev/pixelsmith/pkg/repositories"
	"github.com/pixelsmith-dev/pixelsmith/pkg/retry"
	"github.com/pixelsmith-dev/pixelsmith/pkg/services"
	"github.com/pixelsmith-dev/pixelsmith/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.String("limits_backend", cfg.Limits.Backend),
		zap.Int("daily_limit", cfg.Limits.MaxDailyImagesPerUser),
		zap.Float64("monthly_budget_usd", cfg.Limits.MaxMonthlyCostUsd))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// The database may still be coming up alongside the bot.
	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &cfg.Database)
	})
	if err != nil {
		return err
	}
	defer db.Close()

	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	if err := database.RunMigrations(sqlDB, &cfg.Database, logger); err != nil {
		sqlDB.Close()
		return err
	}
	sqlDB.Close()

	repo := repositories.NewGenerationRepository(db)

	var guard services.QuotaGuard
	switch cfg.Limits.Backend {
	case "redis":
		client, err := database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		redisGuard := services.NewRedisQuotaGuard(client, repo, cfg.Limits, logger)
		// Counters may have drifted from the ledger while the bot was
		// down; rebuild them before taking traffic.
		if err := redisGuard.Reconcile(ctx, time.Now()); err != nil {
			return err
		}
		guard = redisGuard
	default:
		guard = services.NewLedgerQuotaGuard(repo, cfg.Limits, logger)
	}

	images, err := imagegen.NewClient(&cfg.OpenAI, logger)
	if err != nil {
		return err
	}

	store, err := storage.NewDiskStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return err
	}

	lineage := services.NewLineageService(repo)

	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		return err
	}
	notifier := discord.NewStaffNotifier(session, cfg.Discord.StaffLogChannelID, logger)

	generations := services.NewGenerationService(
		repo, guard, images, store, lineage,
		notifier, cfg.Limits, cfg.OpenAI, logger)

	fetcher := storage.NewHTTPFetcher(logger)
	bot := discord.NewBot(session, cfg.Discord, cfg.Limits, generations, fetcher, logger)

	if err := bot.Start(); err != nil {
		return err
	}
	logger.Info("bot started")

	<-ctx.Done()
	logger.Info("shutting down")

	if err := bot.Stop(); err != nil {
		logger.Warn("failed to stop bot cleanly", zap.Error(err))
	}
	return nil
}
