// Command policypulsed syncs legislative bills from the upstream provider
// and produces AI impact analyses for the bills that need one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aphchrisc/PolicyPulse-sub000/pkg/analysis"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/config"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/legiscan"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/modelclient"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/models"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/store"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/syncer"
	"github.com/aphchrisc/PolicyPulse-sub000/pkg/tokens"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "policypulsed:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("policypulsed", flag.ExitOnError)
	var (
		syncOnly    = fs.Bool("sync-only", false, "run the sync pass and exit")
		analyzeOnly = fs.Bool("analyze-only", false, "skip sync, analyze pending bills")
		batchLimit  = fs.Int("batch-limit", 50, "max bills to analyze per run")
		envFile     = fs.String("env-file", "", "optional .env file to load")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		return err
	}

	model := modelclient.NewClient(cfg.ModelAPIKey, cfg.ModelName,
		modelclient.WithBaseURL(cfg.ModelBaseURL),
		modelclient.WithRetries(cfg.MaxRetries, cfg.RetryBaseDelay),
		modelclient.WithLogger(logger))

	engine := analysis.NewEngine(st, model,
		tokens.NewCounter(cfg.ModelName), logger, analysis.Options{
			MaxContextTokens: cfg.MaxContextTokens,
			SafetyBuffer:     cfg.SafetyBuffer,
			CacheTTL:         cfg.CacheTTL,
			MaxConcurrent:    cfg.MaxConcurrentAnalyses,
		})

	if !*analyzeOnly {
		upstream, err := legiscan.NewClient(cfg.UpstreamAPIKey,
			legiscan.WithRateLimit(cfg.RateLimitDelay),
			legiscan.WithRetries(cfg.MaxRetries, cfg.RetryBaseDelay),
			legiscan.WithLogger(logger))
		if err != nil {
			return err
		}

		sync := syncer.NewEngine(st, upstream,
			syncer.WithJurisdictions(cfg.MonitoredJurisdictions),
			syncer.WithBillUpdatedHook(engine.Evict),
			syncer.WithLogger(logger))

		summary, err := sync.RunSync(ctx, models.SyncManual)
		if err != nil {
			return err
		}
		logger.Info("sync finished",
			zap.String("run_id", summary.RunID),
			zap.String("status", string(summary.Status)),
			zap.Int("new", summary.NewBills),
			zap.Int("updated", summary.UpdatedBills),
			zap.Int("errors", summary.ErrorCount))
	}

	if *syncOnly {
		return nil
	}

	pending, err := st.BillsNeedingAnalysis(ctx, *batchLimit)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Info("no bills need analysis")
		return nil
	}

	ids := make([]uint, len(pending))
	for i, b := range pending {
		ids[i] = b.ID
	}
	batch := engine.AnalyzeBatch(ctx, ids)
	logger.Info("analysis batch finished",
		zap.Int("succeeded", batch.SuccessCount),
		zap.Int("failed", batch.FailureCount),
		zap.Float64("duration_seconds", batch.DurationSeconds))

	for _, f := range batch.Failures {
		logger.Warn("bill analysis failed",
			zap.Uint("bill_id", f.BillID), zap.Error(f.Err))
	}
	return ctx.Err()
}
