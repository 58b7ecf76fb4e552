// Package accuracy tracks how predictions fare against reality: it
// resolves outcomes, records learner feedback, computes accuracy reports
// over the resolved ledger, and raises the retrain signal when the model
// degrades past its floors.
package accuracy

import (
	"context"
	"sync"
	"time"

	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// Config contains tracker configuration.
type Config struct {
	// DecisionThreshold classifies a probability as "struggle predicted"
	// for confusion statistics.
	DecisionThreshold float64

	// Degradation floors. A report under MinSamplesForSignal never signals.
	AccuracyFloor       float64
	CalibrationGapCeil  float64
	MinSamplesForSignal int

	// SignalWindowDays is the lookback the degradation check runs over.
	SignalWindowDays int

	// SignalCooldown suppresses repeat signals while the trainer works.
	SignalCooldown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DecisionThreshold:   0.5,
		AccuracyFloor:       0.70,
		CalibrationGapCeil:  0.15,
		MinSamplesForSignal: 20,
		SignalWindowDays:    30,
		SignalCooldown:      24 * time.Hour,
	}
}

// Tracker is the accuracy-tracking service. Safe for concurrent use.
type Tracker struct {
	predictions prediction.Repository
	feedback    prediction.FeedbackRepository
	ledger      accuracy.Ledger
	publisher   shared.EventPublisher
	clock       timeutil.Clock
	log         *logger.Logger
	config      Config

	mu           sync.Mutex
	lastSignalAt time.Time
}

// New creates a Tracker.
func New(
	predictions prediction.Repository,
	feedback prediction.FeedbackRepository,
	ledger accuracy.Ledger,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config Config,
) *Tracker {
	return &Tracker{
		predictions: predictions,
		feedback:    feedback,
		ledger:      ledger,
		publisher:   publisher,
		clock:       clock,
		log:         log.With(logger.Component("accuracy")),
		config:      config,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOMES
// ══════════════════════════════════════════════════════════════════════════════

// RecordOutcome resolves a PENDING prediction against the observed result,
// appends the labelled feature snapshot to the training ledger, and runs
// the degradation check. Resolving a terminal prediction returns
// shared.ErrPredictionResolved.
func (t *Tracker) RecordOutcome(ctx context.Context, predictionID string, struggled bool) (*prediction.StrugglePrediction, error) {
	pred, _, err := t.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	if err := pred.Resolve(struggled, now); err != nil {
		return nil, err
	}
	if err := t.predictions.Resolve(ctx, pred.ID, struggled, now); err != nil {
		return nil, err
	}

	if err := t.ledger.AppendTrainingExample(ctx, trainingExample(pred, struggled, "outcome", now)); err != nil {
		// The resolution is already durable; a lost example only thins the
		// training set.
		t.log.Warn("training example not recorded",
			logger.PredictionID(pred.ID), logger.Err(err))
	}

	t.publish(shared.PredictionResolvedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventPredictionResolved, pred.ID),
		LearnerID:   string(pred.LearnerID),
		ObjectiveID: string(pred.ObjectiveID),
		Probability: pred.Probability.Float64(),
		Struggled:   struggled,
	})

	t.checkDegradation(ctx)

	return pred, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FEEDBACK
// ══════════════════════════════════════════════════════════════════════════════

// RecordFeedback appends a learner judgment to a prediction's feedback
// trail. Feedback never rewrites the prediction; an "inaccurate" judgment
// on a CONFIRMED prediction additionally logs a flipped training example
// so the trainer learns from learner-reported misses.
func (t *Tracker) RecordFeedback(ctx context.Context, predictionID string, ft prediction.FeedbackType, note string) (*prediction.Feedback, error) {
	pred, _, err := t.predictions.GetByID(ctx, predictionID)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()

	fb, err := prediction.NewFeedback(pred.ID, pred.LearnerID, ft, note, now)
	if err != nil {
		return nil, err
	}
	if err := t.feedback.Append(ctx, fb); err != nil {
		return nil, err
	}

	if ft == prediction.FeedbackInaccurate && pred.Status == prediction.StatusConfirmed {
		if err := t.ledger.AppendTrainingExample(ctx, trainingExample(pred, false, "feedback", now)); err != nil {
			t.log.Warn("feedback training example not recorded",
				logger.PredictionID(pred.ID), logger.Err(err))
		}
	}

	t.publish(shared.FeedbackRecordedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventFeedbackRecorded, pred.ID),
		LearnerID:    string(pred.LearnerID),
		FeedbackType: string(ft),
	})

	return fb, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

// Report computes a point-in-time accuracy report over the resolved
// ledger. Scope is empty for global or a learner ID; the report is a
// derived view and is never persisted as ground truth.
func (t *Tracker) Report(ctx context.Context, scope shared.LearnerID, window accuracy.Window) (*accuracy.Report, error) {
	now := t.clock.Now()
	entries, err := t.ledger.Resolved(ctx, scope, window.Since(now))
	if err != nil {
		return nil, shared.WrapError("accuracy", "Report", shared.ErrUpstream, "reading resolved ledger", err)
	}
	return buildReport(entries, scope, window, t.config.DecisionThreshold, now), nil
}

// buildReport is the pure aggregation step.
func buildReport(entries []accuracy.LedgerEntry, scope shared.LearnerID, window accuracy.Window, threshold float64, now time.Time) *accuracy.Report {
	samples := make([]accuracy.Sample, len(entries))
	for i, e := range entries {
		samples[i] = accuracy.Sample{Probability: e.Probability, Struggled: e.Struggled}
	}

	confusion := accuracy.BuildConfusion(samples, threshold)
	bins := accuracy.BuildCalibration(samples)

	scopeName := "global"
	if scope != "" {
		scopeName = string(scope)
	}
	report := &accuracy.Report{
		Scope:           scopeName,
		Window:          window,
		SampleCount:     len(samples),
		Accuracy:        confusion.Accuracy(),
		Precision:       confusion.Precision(),
		Recall:          confusion.Recall(),
		F1:              confusion.F1(),
		Confusion:       confusion,
		CalibrationBins: bins,
		MaxCalibration:  accuracy.MaxCalibrationGap(bins),
		BrierScore:      accuracy.BrierScore(samples),
		GeneratedAt:     now,
	}

	// Effective accuracy: a confirmed prediction the learner flagged as
	// inaccurate counts as a miss even though the outcome label agreed.
	if len(entries) > 0 {
		correct := 0
		for _, e := range entries {
			predicted := e.Probability >= threshold
			if predicted != e.Struggled {
				continue
			}
			if e.Struggled && e.InaccurateCount > 0 {
				continue
			}
			correct++
		}
		report.EffectiveAccuracy = float64(correct) / float64(len(entries))
	}

	return report
}

// ══════════════════════════════════════════════════════════════════════════════
// DEGRADATION
// ══════════════════════════════════════════════════════════════════════════════

// checkDegradation recomputes the signal-window report and raises the
// retrain signal when a floor is breached. Failures here never surface to
// the caller; the next resolution retries naturally.
func (t *Tracker) checkDegradation(ctx context.Context) {
	now := t.clock.Now()

	t.mu.Lock()
	inCooldown := !t.lastSignalAt.IsZero() && now.Sub(t.lastSignalAt) < t.config.SignalCooldown
	t.mu.Unlock()
	if inCooldown {
		return
	}

	since := now.AddDate(0, 0, -t.config.SignalWindowDays)
	entries, err := t.ledger.Resolved(ctx, "", since)
	if err != nil {
		t.log.Warn("degradation check skipped", logger.Err(err))
		return
	}
	if len(entries) < t.config.MinSamplesForSignal {
		return
	}

	report := buildReport(entries, "", accuracy.Window30d, t.config.DecisionThreshold, now)

	reason := ""
	switch {
	case report.EffectiveAccuracy < t.config.AccuracyFloor:
		reason = "accuracy_floor"
	case report.MaxCalibration > t.config.CalibrationGapCeil:
		reason = "calibration_floor"
	default:
		return
	}

	t.mu.Lock()
	t.lastSignalAt = now
	t.mu.Unlock()

	t.publish(shared.RetrainSignalEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventRetrainRequested, "model"),
		Reason:         reason,
		Accuracy:       report.EffectiveAccuracy,
		CalibrationGap: report.MaxCalibration,
		BrierScore:     report.BrierScore,
		SampleCount:    report.SampleCount,
		WindowDays:     t.config.SignalWindowDays,
	})

	t.log.Warn("model degradation detected",
		logger.String("reason", reason),
		logger.Float64("effective_accuracy", report.EffectiveAccuracy),
		logger.Float64("max_calibration_gap", report.MaxCalibration),
		logger.Int("samples", report.SampleCount))
}

func trainingExample(pred *prediction.StrugglePrediction, struggled bool, source string, now time.Time) accuracy.TrainingExample {
	feats := make(map[string]float64, len(pred.Features))
	for name, v := range pred.Features {
		feats[string(name)] = v
	}
	return accuracy.TrainingExample{
		PredictionID: pred.ID,
		LearnerID:    pred.LearnerID,
		Features:     feats,
		Struggled:    struggled,
		Source:       source,
		CreatedAt:    now,
	}
}

func (t *Tracker) publish(event shared.Event) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(event); err != nil {
		t.log.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
}
