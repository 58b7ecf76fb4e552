package scheduler

import (
	"context"
	"errors"

	"github.com/learnloop/insight/internal/application/detection"
	"github.com/learnloop/insight/internal/application/training"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
)

// LearnerDirectory lists the learners detection sweeps cover.
// Implemented by the behavior client.
type LearnerDirectory interface {
	ActiveLearners(ctx context.Context) ([]shared.LearnerID, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// DETECTION SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// DetectAllLearnersJob runs detection for every active learner. Sweep
// runs are scheduled, so they never consume on-demand quota; per-learner
// failures are logged and the sweep continues.
type DetectAllLearnersJob struct {
	directory LearnerDirectory
	engine    *detection.Engine
	log       *logger.Logger
}

// NewDetectAllLearnersJob creates the sweep job.
func NewDetectAllLearnersJob(directory LearnerDirectory, engine *detection.Engine, log *logger.Logger) *DetectAllLearnersJob {
	if log == nil {
		log = logger.Default()
	}
	return &DetectAllLearnersJob{
		directory: directory,
		engine:    engine,
		log:       log.With(logger.Component("detection-sweep")),
	}
}

// Name implements Job.
func (j *DetectAllLearnersJob) Name() string { return "detect-all-learners" }

// Description implements Job.
func (j *DetectAllLearnersJob) Description() string {
	return "runs struggle detection across the active learner roster"
}

// Run implements Job.
func (j *DetectAllLearnersJob) Run(ctx context.Context) error {
	learners, err := j.directory.ActiveLearners(ctx)
	if err != nil {
		return err
	}

	var scored, skipped, failed int
	for _, learnerID := range learners {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := j.engine.Run(ctx, learnerID, detection.RunOptions{OnDemand: false})
		if err != nil {
			failed++
			j.log.Warn("sweep run failed",
				logger.LearnerID(string(learnerID)),
				logger.Err(err),
			)
			continue
		}
		if result.Skipped {
			skipped++
			continue
		}
		scored++
	}

	j.log.Info("sweep finished",
		logger.Int("learners", len(learners)),
		logger.Int("scored", scored),
		logger.Int("skipped", skipped),
		logger.Int("failed", failed),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORT REFRESH
// ══════════════════════════════════════════════════════════════════════════════

// AccuracyReporter builds accuracy reports. Implemented by accuracy.Tracker.
type AccuracyReporter interface {
	Report(ctx context.Context, scope shared.LearnerID, window accuracy.Window) (*accuracy.Report, error)
}

// RefreshReportsJob recomputes the global accuracy report on a schedule.
// Building the report exercises the degradation check that otherwise only
// runs on outcome recording, so a quiet system still notices drift.
type RefreshReportsJob struct {
	reporter  AccuracyReporter
	publisher shared.EventPublisher
	window    accuracy.Window
	log       *logger.Logger
}

// NewRefreshReportsJob creates the refresh job.
func NewRefreshReportsJob(reporter AccuracyReporter, publisher shared.EventPublisher, window accuracy.Window, log *logger.Logger) *RefreshReportsJob {
	if window == "" {
		window = accuracy.Window30d
	}
	if log == nil {
		log = logger.Default()
	}
	return &RefreshReportsJob{
		reporter:  reporter,
		publisher: publisher,
		window:    window,
		log:       log.With(logger.Component("report-refresh")),
	}
}

// Name implements Job.
func (j *RefreshReportsJob) Name() string { return "refresh-reports" }

// Description implements Job.
func (j *RefreshReportsJob) Description() string {
	return "recomputes the global prediction accuracy report"
}

// Run implements Job.
func (j *RefreshReportsJob) Run(ctx context.Context) error {
	report, err := j.reporter.Report(ctx, "", j.window)
	if err != nil {
		return err
	}

	j.log.Info("accuracy report refreshed",
		logger.String("window", string(j.window)),
		logger.Int("samples", report.SampleCount),
		logger.Float64("accuracy", report.Accuracy),
		logger.Float64("effective_accuracy", report.EffectiveAccuracy),
	)

	if j.publisher != nil {
		if err := j.publisher.Publish(shared.ReportRefreshedEvent{
			BaseEvent:         shared.NewBaseEvent(shared.EventReportRefreshed, "accuracy"),
			Window:            string(j.window),
			SampleCount:       report.SampleCount,
			Accuracy:          report.Accuracy,
			EffectiveAccuracy: report.EffectiveAccuracy,
		}); err != nil {
			j.log.Warn("report event not delivered", logger.Err(err))
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRAIN SAFETY NET
// ══════════════════════════════════════════════════════════════════════════════

// RetrainModelJob retrains on a fixed schedule regardless of degradation
// signals, so a model never goes stale just because accuracy stayed above
// the floor. Declining for thin or weak data is a normal outcome.
type RetrainModelJob struct {
	trainer *training.Trainer
	log     *logger.Logger
}

// NewRetrainModelJob creates the safety-net retrain job.
func NewRetrainModelJob(trainer *training.Trainer, log *logger.Logger) *RetrainModelJob {
	if log == nil {
		log = logger.Default()
	}
	return &RetrainModelJob{
		trainer: trainer,
		log:     log.With(logger.Component("retrain")),
	}
}

// Name implements Job.
func (j *RetrainModelJob) Name() string { return "retrain-model" }

// Description implements Job.
func (j *RetrainModelJob) Description() string {
	return "periodic model retraining from the outcome ledger"
}

// Run implements Job.
func (j *RetrainModelJob) Run(ctx context.Context) error {
	coef, err := j.trainer.Retrain(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientData) ||
			errors.Is(err, shared.ErrHoldoutTooSmall) ||
			errors.Is(err, shared.ErrFitDiverged) {
			j.log.Info("scheduled retrain declined", logger.Err(err))
			return nil
		}
		return err
	}

	j.log.Info("scheduled retrain accepted",
		logger.String("coefficients_id", coef.ID),
		logger.Float64("holdout_accuracy", coef.HoldoutAccuracy),
	)
	return nil
}
