// Package main is the entry point for the insight API server.
//
// The API serves the struggle-prediction pipeline: on-demand detection
// runs, prediction and intervention listings, outcome and feedback
// recording, and accuracy reports. Scheduled sweeps run in the worker
// binary; both share the same wiring below.
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
	appintervention "github.com/learnloop/insight/internal/application/intervention"
	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/application/pipeline"
	"github.com/learnloop/insight/internal/application/training"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/internal/infrastructure/external/behavior"
	"github.com/learnloop/insight/internal/infrastructure/external/curriculum"
	"github.com/learnloop/insight/internal/infrastructure/messaging"
	"github.com/learnloop/insight/internal/infrastructure/persistence/memory"
	"github.com/learnloop/insight/internal/infrastructure/persistence/postgres"
	"github.com/learnloop/insight/internal/infrastructure/persistence/redis"
	httpiface "github.com/learnloop/insight/internal/interface/http"
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

	log.Info("starting insight API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
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
	// 4. CACHE & REGENERATION QUOTA
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.RealClock{}

	var (
		featureCache extractor.Cache
		limiter      appdetection.RegenLimiter
	)
	if cfg.Redis.Disabled {
		log.Warn("redis disabled, using in-memory cache and quota (single instance only)")
		featureCache = memory.NewFeatureCache(clock)
		limiter = memory.NewRegenLimiter(cfg.Detection.RegenLimitPerDay, clock)
	} else {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisClient, err := redis.NewClient(redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		featureCache = redis.NewFeatureCache(redisClient)
		limiter = redis.NewRegenLimiter(redisClient, cfg.Detection.RegenLimitPerDay, clock)
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
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	predictionRepo := postgres.NewPredictionRepository(conn)
	interventionRepo := postgres.NewInterventionRepository(conn)
	feedbackRepo := postgres.NewFeedbackRepository(conn)
	ledgerRepo := postgres.NewLedgerRepository(conn)
	coefficientRepo := postgres.NewCoefficientRepository(conn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus := messaging.NewEventBus(messaging.DefaultConfig(), log)
	defer func() { _ = bus.Close() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION SERVICES
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

	detectionEngine := appdetection.New(
		ext, strategy, currClient, behavClient,
		predictionRepo, limiter, bus, clock, log,
		cfg.DetectionEngineConfig(),
	)

	interventionEngine := appintervention.New(currClient, behavClient, interventionRepo, bus, clock, log)

	tracker := appaccuracy.New(predictionRepo, feedbackRepo, ledgerRepo, bus, clock, log, cfg.TrackerConfig())

	trainer := training.New(ledgerRepo, coefficientRepo, bus, clock, log, cfg.TrainerConfig())

	// Retraining is message passing: degradation signals reach the trainer
	// through the bus and accepted fits flow back to the scorer.
	scorer, _ := strategy.(*model.LinearScorer)
	var reloader messaging.Reloader
	if scorer != nil {
		reloader = scorer
	}
	if err := messaging.WireModelLifecycle(bus, trainer, reloader, log); err != nil {
		return fmt.Errorf("failed to wire model lifecycle: %w", err)
	}

	service := pipeline.New(detectionEngine, interventionEngine, tracker, predictionRepo,
		featureGate{flags: cfg.Features}, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpiface.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout

	server := httpiface.NewServer(serverCfg, httpiface.Dependencies{
		Pipeline:      service,
		Logger:        log,
		HealthChecker: storeHealth{conn: conn},
		Version:       cfg.App.Version,
	})

	errCh := server.StartAsync()
	log.Info("insight API is running", logger.String("address", server.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}

// storeHealth adapts the pgx connection health check to the server's
// readiness probe.
type storeHealth struct {
	conn *postgres.Connection
}

func (h storeHealth) Health(ctx context.Context) error {
	_, err := h.conn.Health(ctx)
	return err
}

// featureGate adapts the flag registry to the pipeline's gate so optional
// behavior rolls out per learner.
type featureGate struct {
	flags *config.FeatureFlags
}

func (g featureGate) OnDemandDetection(learnerID shared.LearnerID) bool {
	return g.flags.IsEnabled(config.FeatureDetectionOnDemand, string(learnerID))
}

func (g featureGate) InterventionProposals(learnerID shared.LearnerID) bool {
	return g.flags.IsEnabled(config.FeatureInterventionProposals, string(learnerID))
}
