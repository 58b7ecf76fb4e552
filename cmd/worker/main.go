// Package main is the entry point for the insight background worker.
//
// The worker owns the scheduled side of the pipeline:
//   - the nightly detection sweep over all active learners
//   - periodic accuracy report refreshes
//   - the weekly safety-net model retrain
//
// Degradation-triggered retraining is event-driven and runs here too,
// through the same bus wiring the API uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/learnloop/insight/config"
	appaccuracy "github.com/learnloop/insight/internal/application/accuracy"
	appdetection "github.com/learnloop/insight/internal/application/detection"
	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/application/training"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/internal/infrastructure/external/behavior"
	"github.com/learnloop/insight/internal/infrastructure/external/curriculum"
	"github.com/learnloop/insight/internal/infrastructure/messaging"
	"github.com/learnloop/insight/internal/infrastructure/persistence/memory"
	"github.com/learnloop/insight/internal/infrastructure/persistence/postgres"
	"github.com/learnloop/insight/internal/infrastructure/persistence/redis"
	"github.com/learnloop/insight/internal/infrastructure/scheduler"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	log := logger.New(logOpts)

	log.Info("starting insight worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. POSTGRES
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CACHE
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.RealClock{}

	var featureCache extractor.Cache
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, using in-memory feature cache")
		featureCache = memory.NewFeatureCache(clock)
	} else {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns

		redisClient, err := redis.NewClient(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		featureCache = redis.NewFeatureCache(redisClient)
		log.Info("redis ready")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. UPSTREAM CLIENTS
	// ─────────────────────────────────────────────────────────────────────────
	currClient := curriculum.NewClient(curriculum.ClientConfig{
		BaseURL: cfg.Curriculum.BaseURL,
		APIKey:  cfg.Curriculum.APIKey,
		Timeout: cfg.Curriculum.Timeout,
	}, log)

	behavClient := behavior.NewClient(behavior.ClientConfig{
		BaseURL: cfg.Behavior.BaseURL,
		APIKey:  cfg.Behavior.APIKey,
		Timeout: cfg.Behavior.Timeout,
	}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	predictionRepo := postgres.NewPredictionRepository(conn)
	feedbackRepo := postgres.NewFeedbackRepository(conn)
	ledgerRepo := postgres.NewLedgerRepository(conn)
	coefficientRepo := postgres.NewCoefficientRepository(conn)

	bus := messaging.NewEventBus(messaging.DefaultConfig(), log)
	defer func() { _ = bus.Close() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	ext := extractor.New(currClient, behavClient, featureCache, clock, log, cfg.ExtractorConfigFor())

	kind := model.Kind(cfg.Model.Kind)
	if kind == model.KindLinear && !cfg.Features.IsEnabled(config.FeatureModelLinearScoring, "") {
		log.Warn("linear scoring disabled by feature flag, using rule scorer")
		kind = model.KindRule
	}
	strategy, err := model.Select(ctx, kind, coefficientRepo)
	if err != nil {
		return fmt.Errorf("failed to select prediction strategy: %w", err)
	}

	// Batch sweeps never consume the on-demand quota, so the worker wires
	// a limiter that always admits.
	detectionEngine := appdetection.New(
		ext, strategy, currClient, behavClient,
		predictionRepo, admitAll{}, bus, clock, log,
		cfg.DetectionEngineConfig(),
	)

	tracker := appaccuracy.New(predictionRepo, feedbackRepo, ledgerRepo, bus, clock, log, cfg.TrackerConfig())

	trainer := training.New(ledgerRepo, coefficientRepo, bus, clock, log, cfg.TrainerConfig())

	scorer, _ := strategy.(*model.LinearScorer)
	var reloader messaging.Reloader
	if scorer != nil {
		reloader = scorer
	}
	if err := messaging.WireModelLifecycle(bus, trainer, reloader, log); err != nil {
		return fmt.Errorf("failed to wire model lifecycle: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(log, cfg.App.Location)

	if cfg.Features.IsEnabled(config.FeatureDetectionBatchSweep, "") {
		detectSchedule, err := scheduler.ParseCron(cfg.Scheduler.DetectCron)
		if err != nil {
			return fmt.Errorf("invalid detect cron %q: %w", cfg.Scheduler.DetectCron, err)
		}
		detectJob := scheduler.NewDetectAllLearnersJob(behavClient, detectionEngine, log)
		if err := sched.Register(detectJob, detectSchedule); err != nil {
			return fmt.Errorf("failed to register detection job: %w", err)
		}
	} else {
		log.Warn("batch detection sweep disabled by feature flag")
	}

	reportJob := scheduler.NewRefreshReportsJob(tracker, bus, accuracy.Window30d, log)
	if err := sched.Register(reportJob, scheduler.Every(cfg.Scheduler.ReportRefreshInterval)); err != nil {
		return fmt.Errorf("failed to register report job: %w", err)
	}

	retrainSchedule, err := scheduler.ParseCron(cfg.Scheduler.RetrainCron)
	if err != nil {
		return fmt.Errorf("invalid retrain cron %q: %w", cfg.Scheduler.RetrainCron, err)
	}
	retrainJob := scheduler.NewRetrainModelJob(trainer, log)
	if err := sched.Register(retrainJob, retrainSchedule); err != nil {
		return fmt.Errorf("failed to register retrain job: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
		log.Info("scheduler running",
			logger.String("detect_cron", cfg.Scheduler.DetectCron),
			logger.String("retrain_cron", cfg.Scheduler.RetrainCron),
			logger.Duration("report_interval", cfg.Scheduler.ReportRefreshInterval),
		)
	} else {
		log.Warn("scheduler disabled, worker will only serve bus events")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("insight worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	log.Info("shutdown completed")
	return nil
}

// admitAll is the worker's regeneration limiter: scheduled sweeps are
// exempt from the on-demand quota.
type admitAll struct{}

func (admitAll) Allow(ctx context.Context, learnerID shared.LearnerID) error { return nil }
