package extractor

import (
	"context"
	"errors"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// Config contains extractor configuration.
type Config struct {
	// ReviewLookbackDays bounds how far back the review series reaches.
	ReviewLookbackDays int

	// SessionLookbackDays bounds how far back session stats reach.
	SessionLookbackDays int

	// HorizonDays bounds the schedule context used for load features.
	HorizonDays int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReviewLookbackDays:  90,
		SessionLookbackDays: 28,
		HorizonDays:         14,
	}
}

// Extractor builds feature vectors. It is safe for concurrent use; the
// detection engine fans extraction out across a learner's objectives.
type Extractor struct {
	curriculum CurriculumSource
	behavior   BehaviorSource
	cache      Cache
	clock      timeutil.Clock
	log        *logger.Logger
	config     Config
}

// New creates an Extractor.
func New(curriculum CurriculumSource, behavior BehaviorSource, cache Cache, clock timeutil.Clock, log *logger.Logger, config Config) *Extractor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Extractor{
		curriculum: curriculum,
		behavior:   behavior,
		cache:      cache,
		clock:      clock,
		log:        log.With(logger.Component("extractor")),
		config:     config,
	}
}

// Extract builds the feature vector for a (learner, objective) pair.
//
// An unknown objective is the one hard failure. Every other missing
// upstream signal substitutes its documented default and pays a
// data-quality penalty; low quality degrades confidence downstream but
// never aborts the extraction.
func (e *Extractor) Extract(ctx context.Context, learnerID shared.LearnerID, objectiveID shared.ObjectiveID) (*features.Vector, error) {
	return e.ExtractForEntry(ctx, learnerID, objective.ScheduleEntry{ObjectiveID: objectiveID}, nil)
}

// ExtractForEntry is Extract with schedule context, used by the detection
// engine so the load features see the surrounding schedule without a
// second upstream read.
func (e *Extractor) ExtractForEntry(ctx context.Context, learnerID shared.LearnerID, entry objective.ScheduleEntry, schedule []objective.ScheduleEntry) (*features.Vector, error) {
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	if !entry.ObjectiveID.IsValid() {
		return nil, shared.ErrInvalidObjectiveID
	}

	obj, err := e.curriculum.Objective(ctx, entry.ObjectiveID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
			return nil, shared.ErrUnknownObjective
		}
		// The graph itself being unreadable is still a hard failure:
		// without the node there is nothing to predict against.
		return nil, shared.WrapError("features", "Extract", shared.ErrUpstream, "objective read failed", err)
	}

	now := e.clock.Now()
	v := features.NewVector(learnerID, entry.ObjectiveID, now)

	perf := e.loadPerformance(ctx, learnerID)
	prof := e.loadProfile(ctx, learnerID)
	pattern := e.loadPattern(ctx, learnerID)

	samples := 0

	// Prerequisite readiness.
	closure, err := e.curriculum.PrerequisiteClosure(ctx, entry.ObjectiveID)
	if err != nil {
		e.log.Warn("prerequisite closure unavailable, defaulting category",
			logger.LearnerID(learnerID.String()), logger.ObjectiveID(entry.ObjectiveID.String()), logger.Err(err))
		v.SetDefault(features.PrereqGap)
		v.SetDefault(features.PrereqDepth)
		v.SetDefault(features.PrereqStaleness)
	} else if perf == nil || !perf.MasteryKnown {
		// A failed mastery read must not score as universally missing
		// prerequisites; the category defaults and quality pays instead.
		v.SetDefault(features.PrereqGap)
		v.SetDefault(features.PrereqDepth)
		v.SetDefault(features.PrereqStaleness)
	} else {
		buildPrerequisiteFeatures(v, closure, perf.Mastery, now)
	}

	// Retention / performance.
	if perf == nil {
		v.SetDefault(features.RetentionScore)
		v.SetDefault(features.RecentAccuracy)
		v.SetDefault(features.LapseRate)
		v.SetDefault(features.PerformanceDecline)
	} else {
		samples += buildRetentionFeatures(v, reviewsFor(perf.Reviews, entry.ObjectiveID), now)
	}

	// Historical struggle affinity + complexity.
	var profilePtr *learner.Profile
	if prof != nil {
		profilePtr = prof.Profile
	}
	if pattern == nil {
		v.SetDefault(features.StruggleAffinity)
		v.SetDefault(features.RepeatStruggle)
		buildComplexityFeatures(v, obj, profilePtr, nil)
	} else {
		samples += buildHistoryFeatures(v, pattern.Struggles, obj.Tags)
		buildComplexityFeatures(v, obj, profilePtr, pattern.Struggles)
	}

	// Engagement / context.
	var sessions []objective.SessionStat
	if pattern != nil {
		sessions = pattern.Sessions
	}
	buildEngagementFeatures(v, sessions, profilePtr, entry, schedule, now)

	v.SampleCount = samples
	v.FinishQuality()

	if err := v.Validate(); err != nil {
		return nil, err
	}

	if v.Quality < 0.5 {
		e.log.Debug("low data quality extraction",
			logger.LearnerID(learnerID.String()),
			logger.ObjectiveID(entry.ObjectiveID.String()),
			logger.Quality(v.Quality.Float64()),
			logger.Int("defaulted", v.DefaultedCount()))
	}

	return v, nil
}

// reviewsFor narrows the review series to the objective itself. With no
// objective-specific reviews the whole series stands in, so a new
// objective still inherits the learner's general retention signal.
func reviewsFor(reviews []objective.Review, id shared.ObjectiveID) []objective.Review {
	var specific []objective.Review
	for _, r := range reviews {
		if r.ObjectiveID == id {
			specific = append(specific, r)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return reviews
}

// ─────────────────────────────────────────────────────────────────────────────
// Tier loading (read-through)
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) loadPerformance(ctx context.Context, learnerID shared.LearnerID) *performanceSnapshot {
	var snap performanceSnapshot
	if hit, err := e.cache.Get(ctx, learnerID, TierPerformance, &snap); err == nil && hit {
		return &snap
	}

	now := e.clock.Now()
	since := now.AddDate(0, 0, -e.config.ReviewLookbackDays)

	reviews, err := e.behavior.Reviews(ctx, learnerID, since)
	if err != nil {
		e.log.Warn("review series unavailable", logger.LearnerID(learnerID.String()), logger.Err(err))
		return nil
	}
	mastery, err := e.curriculum.MasteryStates(ctx, learnerID)
	masteryKnown := err == nil
	if err != nil {
		e.log.Warn("mastery states unavailable", logger.LearnerID(learnerID.String()), logger.Err(err))
		mastery = nil
	}

	snap = performanceSnapshot{Reviews: reviews, Mastery: mastery, MasteryKnown: masteryKnown, FetchedAt: now}
	if err := e.cache.Set(ctx, learnerID, TierPerformance, snap); err != nil {
		e.log.Debug("performance cache write failed", logger.Err(err))
	}
	return &snap
}

func (e *Extractor) loadProfile(ctx context.Context, learnerID shared.LearnerID) *profileSnapshot {
	var snap profileSnapshot
	if hit, err := e.cache.Get(ctx, learnerID, TierProfile, &snap); err == nil && hit {
		return &snap
	}

	profile, err := e.behavior.Profile(ctx, learnerID)
	if err != nil {
		e.log.Warn("behavioral profile unavailable", logger.LearnerID(learnerID.String()), logger.Err(err))
		return nil
	}

	snap = profileSnapshot{Profile: profile, FetchedAt: e.clock.Now()}
	if err := e.cache.Set(ctx, learnerID, TierProfile, snap); err != nil {
		e.log.Debug("profile cache write failed", logger.Err(err))
	}
	return &snap
}

func (e *Extractor) loadPattern(ctx context.Context, learnerID shared.LearnerID) *patternSnapshot {
	var snap patternSnapshot
	if hit, err := e.cache.Get(ctx, learnerID, TierPattern, &snap); err == nil && hit {
		return &snap
	}

	now := e.clock.Now()
	struggles, err := e.curriculum.StruggleHistory(ctx, learnerID)
	if err != nil {
		e.log.Warn("struggle history unavailable", logger.LearnerID(learnerID.String()), logger.Err(err))
		struggles = nil
	}
	sessions, err := e.behavior.Sessions(ctx, learnerID, now.AddDate(0, 0, -e.config.SessionLookbackDays))
	if err != nil {
		e.log.Warn("session stats unavailable", logger.LearnerID(learnerID.String()), logger.Err(err))
		sessions = nil
	}
	if struggles == nil && sessions == nil {
		return nil
	}

	snap = patternSnapshot{Struggles: struggles, Sessions: sessions, FetchedAt: now}
	if err := e.cache.Set(ctx, learnerID, TierPattern, snap); err != nil {
		e.log.Debug("pattern cache write failed", logger.Err(err))
	}
	return &snap
}

// Warm pre-populates all three tiers for a learner, used by scheduled
// sweeps so the interactive path stays cheap.
func (e *Extractor) Warm(ctx context.Context, learnerID shared.LearnerID) {
	e.loadPerformance(ctx, learnerID)
	e.loadProfile(ctx, learnerID)
	e.loadPattern(ctx, learnerID)
}
