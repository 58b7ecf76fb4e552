// Package detection runs the struggle-detection pipeline for one learner:
// gatekeeping (privacy, quota, history floors), fan-out extraction and
// scoring across the upcoming schedule, persistence of the resulting
// predictions with their indicators, and the bounded alert list.
package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// RegenLimiter enforces the per-learner daily quota on on-demand runs.
// Implemented by redis.RegenLimiter and memory.RegenLimiter. Scheduled
// runs never consult it.
type RegenLimiter interface {
	// Allow consumes one quota slot. An exhausted quota returns
	// *shared.RateLimitError carrying the limit and reset time; any other
	// error means the quota state could not be read.
	Allow(ctx context.Context, learnerID shared.LearnerID) error
}

// Skip reasons a run reports instead of predictions.
const (
	SkipInsufficientData = "insufficient_data"
	SkipAnalysisDisabled = "analysis_disabled"
	SkipOnDemandDisabled = "on_demand_disabled"
)

// Config contains detection configuration.
type Config struct {
	// History floors below which no prediction is attempted.
	MinWeeksOfData int
	MinSessions    int
	MinReviews     int

	// HorizonDays bounds how far ahead scheduled objectives are scored.
	HorizonDays int

	// AlertProbabilityFloor is the minimum probability for a prediction
	// to compete for an alert slot.
	AlertProbabilityFloor float64

	MaxAlerts    int
	AlertWeights AlertWeights

	// MaxConcurrentObjectives caps the extraction fan-out per run.
	MaxConcurrentObjectives int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinWeeksOfData:          2,
		MinSessions:             5,
		MinReviews:              10,
		HorizonDays:             14,
		AlertProbabilityFloor:   0.60,
		MaxAlerts:               MaxAlerts,
		AlertWeights:            DefaultAlertWeights(),
		MaxConcurrentObjectives: 4,
	}
}

// RunOptions distinguishes on-demand requests from scheduled sweeps.
type RunOptions struct {
	// OnDemand runs count against the learner's daily regeneration quota.
	OnDemand bool
}

// RunResult is the outcome of one detection run.
type RunResult struct {
	LearnerID shared.LearnerID

	// Skipped is set when gatekeeping stopped the run before any scoring;
	// SkipReason names why and nothing was persisted.
	Skipped    bool
	SkipReason string

	Predictions []*prediction.StrugglePrediction
	Indicators  map[string][]*prediction.StruggleIndicator
	Alerts      []prediction.Alert

	// Partial is set when at least one objective failed and was left out
	// while the rest of the run completed.
	Partial bool

	RanAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine orchestrates detection runs. Safe for concurrent use.
type Engine struct {
	extractor  *extractor.Extractor
	strategy   model.Strategy
	curriculum extractor.CurriculumSource
	behavior   extractor.BehaviorSource
	repo       prediction.Repository
	limiter    RegenLimiter
	publisher  shared.EventPublisher
	clock      timeutil.Clock
	log        *logger.Logger
	config     Config
}

// New creates a detection Engine.
func New(
	ext *extractor.Extractor,
	strategy model.Strategy,
	curriculum extractor.CurriculumSource,
	behavior extractor.BehaviorSource,
	repo prediction.Repository,
	limiter RegenLimiter,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config Config,
) *Engine {
	return &Engine{
		extractor:  ext,
		strategy:   strategy,
		curriculum: curriculum,
		behavior:   behavior,
		repo:       repo,
		limiter:    limiter,
		publisher:  publisher,
		clock:      clock,
		log:        log.With(logger.Component("detection")),
		config:     config,
	}
}

// Run executes one detection pass for a learner.
//
// Gatekeeping order: identity, privacy consent, on-demand quota, history
// floors. A learner who opted out or lacks history gets a skipped result,
// not an error, and nothing is persisted. An exhausted quota returns
// *shared.RateLimitError.
//
// Objectives are scored independently; one failing upstream read marks the
// run partial and never poisons its siblings.
func (e *Engine) Run(ctx context.Context, learnerID shared.LearnerID, opts RunOptions) (*RunResult, error) {
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	now := e.clock.Now()

	privacy, err := e.behavior.Privacy(ctx, learnerID)
	if err != nil {
		return nil, shared.WrapError("detection", "Run", shared.ErrUpstream, "privacy settings unavailable", err)
	}
	if !privacy.AnalysisEnabled {
		return e.skip(learnerID, SkipAnalysisDisabled, opts, now), nil
	}

	if opts.OnDemand {
		if err := e.limiter.Allow(ctx, learnerID); err != nil {
			if errors.Is(err, shared.ErrRateLimited) {
				return nil, err
			}
			return nil, shared.WrapError("detection", "Run", shared.ErrUpstream, "quota check failed", err)
		}
	}

	span, err := e.behavior.HistorySpan(ctx, learnerID)
	if err != nil {
		return nil, shared.WrapError("detection", "Run", shared.ErrUpstream, "history span unavailable", err)
	}
	if !span.Meets(e.config.MinWeeksOfData, e.config.MinSessions, e.config.MinReviews) {
		e.log.Info("detection skipped",
			logger.LearnerID(string(learnerID)),
			logger.String("reason", SkipInsufficientData),
			logger.Int("weeks_of_data", span.WeeksOfData))
		return e.skip(learnerID, SkipInsufficientData, opts, now), nil
	}

	schedule, err := e.curriculum.UpcomingSchedule(ctx, learnerID, e.config.HorizonDays)
	if err != nil {
		return nil, shared.WrapError("detection", "Run", shared.ErrUpstream, "schedule unavailable", err)
	}

	candidates, partial := e.scoreSchedule(ctx, learnerID, schedule, now)

	result := &RunResult{
		LearnerID:   learnerID,
		Predictions: make([]*prediction.StrugglePrediction, 0, len(candidates)),
		Indicators:  make(map[string][]*prediction.StruggleIndicator, len(candidates)),
		Partial:     partial,
		RanAt:       now,
	}
	for _, c := range candidates {
		result.Predictions = append(result.Predictions, c.pred)
		result.Indicators[c.pred.ID] = c.indicators
	}
	result.Alerts = buildAlerts(candidates, e.config.AlertWeights,
		e.config.AlertProbabilityFloor, e.config.MaxAlerts, now)

	e.publish(shared.DetectionCompletedEvent{
		BaseEvent:       shared.NewBaseEvent(shared.EventDetectionCompleted, string(learnerID)),
		LearnerID:       string(learnerID),
		ObjectiveCount:  len(schedule),
		PredictionCount: len(result.Predictions),
		AlertCount:      len(result.Alerts),
		Partial:         partial,
		Scheduled:       !opts.OnDemand,
	})

	e.log.Info("detection completed",
		logger.LearnerID(string(learnerID)),
		logger.Int("objectives", len(schedule)),
		logger.Int("predictions", len(result.Predictions)),
		logger.Int("alerts", len(result.Alerts)),
		logger.Bool("partial", partial))

	return result, nil
}

// scoreSchedule fans extraction and scoring out across the schedule and
// persists each surviving prediction. Failed objectives are logged and
// dropped; the second return reports whether any were.
func (e *Engine) scoreSchedule(ctx context.Context, learnerID shared.LearnerID, schedule []objective.ScheduleEntry, now time.Time) ([]candidate, bool) {
	var (
		mu         sync.Mutex
		candidates []candidate
		failed     int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxConcurrentObjectives)

	for _, entry := range schedule {
		g.Go(func() error {
			c, err := e.scoreOne(gctx, learnerID, entry, schedule, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				e.log.Warn("objective skipped",
					logger.LearnerID(string(learnerID)),
					logger.ObjectiveID(string(entry.ObjectiveID)),
					logger.Err(err))
				return nil
			}
			candidates = append(candidates, *c)
			return nil
		})
	}
	_ = g.Wait() // workers swallow their own errors; only ctx cancellation escapes

	return candidates, failed > 0
}

// scoreOne extracts, scores, and persists one objective.
func (e *Engine) scoreOne(ctx context.Context, learnerID shared.LearnerID, entry objective.ScheduleEntry, schedule []objective.ScheduleEntry, now time.Time) (*candidate, error) {
	vector, err := e.extractor.ExtractForEntry(ctx, learnerID, entry, schedule)
	if err != nil {
		return nil, err
	}

	scored, err := e.strategy.Score(ctx, vector)
	if err != nil {
		return nil, err
	}

	pred := prediction.New(learnerID, entry.ObjectiveID, entry.DueAt, now)
	pred.Probability = scored.Probability
	pred.Confidence = scored.Confidence
	pred.DataQuality = vector.Quality
	pred.TopContributions = scored.Contributions
	pred.Features = vector.Values()
	pred.ModelVersion = e.strategy.Version()
	if err := pred.Validate(); err != nil {
		return nil, err
	}

	indicators := deriveIndicators(pred.ID, vector, now)

	replaced, err := e.repo.ReplacePending(ctx, pred, indicators)
	if err != nil {
		return nil, err
	}

	e.publish(shared.PredictionCreatedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventPredictionCreated, pred.ID),
		LearnerID:   string(learnerID),
		ObjectiveID: string(entry.ObjectiveID),
		Probability: pred.Probability.Float64(),
		Confidence:  pred.Confidence.Float64(),
		Replaced:    replaced,
	})

	return &candidate{pred: pred, indicators: indicators, vector: vector, dueAt: entry.DueAt}, nil
}

func (e *Engine) skip(learnerID shared.LearnerID, reason string, opts RunOptions, now time.Time) *RunResult {
	e.publish(shared.DetectionSkippedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventDetectionSkipped, string(learnerID)),
		LearnerID: string(learnerID),
		Reason:    reason,
		Scheduled: !opts.OnDemand,
	})
	return &RunResult{
		LearnerID:  learnerID,
		Skipped:    true,
		SkipReason: reason,
		Indicators: map[string][]*prediction.StruggleIndicator{},
		RanAt:      now,
	}
}

// publish sends an event, logging delivery failures instead of failing the
// run. Events here are notifications, not state.
func (e *Engine) publish(event shared.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(event); err != nil {
		e.log.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
}
