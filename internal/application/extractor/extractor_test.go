package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type stubCurriculum struct {
	objectives map[shared.ObjectiveID]*objective.Objective
	closures   map[shared.ObjectiveID][]*objective.Objective
	mastery    map[shared.ObjectiveID]objective.MasteryState
	struggles  []objective.StruggleRecord

	closureErr  error
	masteryErr  error
	struggleErr error
}

func (s *stubCurriculum) Objective(_ context.Context, id shared.ObjectiveID) (*objective.Objective, error) {
	if obj, ok := s.objectives[id]; ok {
		return obj, nil
	}
	return nil, shared.ErrUnknownObjective
}

func (s *stubCurriculum) PrerequisiteClosure(_ context.Context, id shared.ObjectiveID) ([]*objective.Objective, error) {
	if s.closureErr != nil {
		return nil, s.closureErr
	}
	return s.closures[id], nil
}

func (s *stubCurriculum) MasteryStates(context.Context, shared.LearnerID) (map[shared.ObjectiveID]objective.MasteryState, error) {
	if s.masteryErr != nil {
		return nil, s.masteryErr
	}
	return s.mastery, nil
}

func (s *stubCurriculum) UpcomingSchedule(context.Context, shared.LearnerID, int) ([]objective.ScheduleEntry, error) {
	return nil, nil
}

func (s *stubCurriculum) StruggleHistory(context.Context, shared.LearnerID) ([]objective.StruggleRecord, error) {
	if s.struggleErr != nil {
		return nil, s.struggleErr
	}
	return s.struggles, nil
}

type stubBehavior struct {
	profile  *learner.Profile
	reviews  []objective.Review
	sessions []objective.SessionStat

	reviewErr  error
	sessionErr error

	reviewCalls  int
	sessionCalls int
	profileCalls int
}

func (s *stubBehavior) Profile(context.Context, shared.LearnerID) (*learner.Profile, error) {
	s.profileCalls++
	return s.profile, nil
}

func (s *stubBehavior) Privacy(_ context.Context, id shared.LearnerID) (*learner.PrivacySettings, error) {
	return &learner.PrivacySettings{LearnerID: id, AnalysisEnabled: true}, nil
}

func (s *stubBehavior) HistorySpan(_ context.Context, id shared.LearnerID) (learner.HistorySpan, error) {
	return learner.HistorySpan{LearnerID: id}, nil
}

func (s *stubBehavior) Reviews(context.Context, shared.LearnerID, time.Time) ([]objective.Review, error) {
	s.reviewCalls++
	if s.reviewErr != nil {
		return nil, s.reviewErr
	}
	return s.reviews, nil
}

func (s *stubBehavior) Sessions(context.Context, shared.LearnerID, time.Time) ([]objective.SessionStat, error) {
	s.sessionCalls++
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.sessions, nil
}

// mapCache is a TTL-less in-test Cache: everything written stays readable,
// so tests can assert read-through behavior without a clock.
type mapCache struct {
	entries map[string][]byte
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) key(id shared.LearnerID, tier Tier) string {
	return string(id) + "|" + string(tier)
}

func (c *mapCache) Get(_ context.Context, id shared.LearnerID, tier Tier, dest interface{}) (bool, error) {
	raw, ok := c.entries[c.key(id, tier)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *mapCache) Set(_ context.Context, id shared.LearnerID, tier Tier, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[c.key(id, tier)] = raw
	c.sets++
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id shared.LearnerID) error {
	for _, tier := range AllTiers {
		delete(c.entries, c.key(id, tier))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

const testLearner = shared.LearnerID("learner-1")

type fixture struct {
	ext    *Extractor
	curric *stubCurriculum
	behav  *stubBehavior
	cache  *mapCache
	now    time.Time
}

// newFixture describes a beginner learner with twelve solid reviews facing
// an expert-tier objective whose single prerequisite is not mastered.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	prereq := &objective.Objective{ID: "obj-prereq", Title: "Pointers", Tier: shared.TierIntermediate, Tags: []string{"memory"}}
	target := &objective.Objective{ID: "obj-target", Title: "Concurrency", Tier: shared.TierExpert,
		Prerequisites: []shared.ObjectiveID{prereq.ID}, Tags: []string{"concurrency", "memory"}}

	curric := &stubCurriculum{
		objectives: map[shared.ObjectiveID]*objective.Objective{prereq.ID: prereq, target.ID: target},
		closures:   map[shared.ObjectiveID][]*objective.Objective{target.ID: {prereq}},
		mastery:    map[shared.ObjectiveID]objective.MasteryState{},
		struggles: []objective.StruggleRecord{
			{ObjectiveID: "obj-old", Tags: []string{"memory"}, Struggled: true, ObservedAt: now.AddDate(0, 0, -30)},
			{ObjectiveID: "obj-old2", Tags: []string{"memory"}, Struggled: true, ObservedAt: now.AddDate(0, 0, -20)},
		},
	}

	reviews := make([]objective.Review, 0, 12)
	for i := 0; i < 12; i++ {
		reviews = append(reviews, objective.Review{
			ObjectiveID: "obj-other",
			ReviewedAt:  now.AddDate(0, 0, -i*3),
			Score:       0.8,
			Passed:      true,
		})
	}
	sessions := make([]objective.SessionStat, 0, 8)
	for i := 0; i < 8; i++ {
		sessions = append(sessions, objective.SessionStat{StartedAt: now.AddDate(0, 0, -i*3), Minutes: 30})
	}

	behav := &stubBehavior{
		profile: &learner.Profile{
			LearnerID:               testLearner,
			MasteryTier:             shared.TierBeginner,
			BaselineSessionsPerWeek: 3,
		},
		reviews:  reviews,
		sessions: sessions,
	}

	cache := newMapCache()
	log := logger.New(logger.Options{Level: logger.LevelError})
	ext := New(curric, behav, cache, timeutil.NewManualClock(now), log, DefaultConfig())

	return &fixture{ext: ext, curric: curric, behav: behav, cache: cache, now: now}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestExtractAllFeaturesInUnitRange(t *testing.T) {
	f := newFixture(t)

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	for name, val := range v.Values() {
		assert.GreaterOrEqual(t, val, 0.0, "feature %s below range", name)
		assert.LessOrEqual(t, val, 1.0, "feature %s above range", name)
	}
	assert.True(t, v.Quality.IsValid())
	assert.Equal(t, f.now, v.ExtractedAt)
}

func TestExtractUnknownObjective(t *testing.T) {
	f := newFixture(t)

	_, err := f.ext.Extract(context.Background(), testLearner, "obj-missing")
	assert.ErrorIs(t, err, shared.ErrUnknownObjective)
}

func TestExtractInvalidIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ext.Extract(ctx, "", "obj-target")
	assert.ErrorIs(t, err, shared.ErrInvalidLearnerID)

	_, err = f.ext.Extract(ctx, testLearner, "")
	assert.ErrorIs(t, err, shared.ErrInvalidObjectiveID)
}

func TestExtractFullPrerequisiteGap(t *testing.T) {
	f := newFixture(t)

	// No prerequisite of obj-target is mastered.
	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, v.Get(features.PrereqGap).Float64(), 1e-9)
	assert.False(t, v.WasDefaulted(features.PrereqGap))
}

func TestExtractNoPrerequisitesMeansNoGap(t *testing.T) {
	f := newFixture(t)

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-prereq")
	require.NoError(t, err)

	assert.Zero(t, v.Get(features.PrereqGap).Float64())
	assert.Zero(t, v.Get(features.PrereqDepth).Float64())
}

func TestExtractMasteredPrerequisiteClosesGap(t *testing.T) {
	f := newFixture(t)
	f.curric.mastery["obj-prereq"] = objective.MasteryState{
		ObjectiveID: "obj-prereq", Mastered: true, LastTouchedAt: f.now.AddDate(0, 0, -9),
	}

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	assert.Zero(t, v.Get(features.PrereqGap).Float64())
	// 9 days stale against the 90-day cap.
	assert.InDelta(t, 0.1, v.Get(features.PrereqStaleness).Float64(), 1e-9)
}

func TestExtractRetentionFromSolidReviews(t *testing.T) {
	f := newFixture(t)

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	// Uniform 0.8 scores: recency weighting cannot move the average.
	assert.InDelta(t, 0.8, v.Get(features.RetentionScore).Float64(), 1e-9)
	assert.InDelta(t, 0.8, v.Get(features.RecentAccuracy).Float64(), 1e-9)
	assert.Zero(t, v.Get(features.LapseRate).Float64())
	// 12 reviews plus the 2 tag-matched struggle records.
	assert.Equal(t, 14, v.SampleCount)
}

func TestExtractStruggleAffinityFromTagOverlap(t *testing.T) {
	f := newFixture(t)

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	// Both history records overlap on the "memory" tag and both struggled.
	assert.InDelta(t, 1.0, v.Get(features.StruggleAffinity).Float64(), 1e-9)
	// Second struggle on the same tag counts as one repeat against the cap of 3.
	assert.InDelta(t, 1.0/3.0, v.Get(features.RepeatStruggle).Float64(), 1e-9)
}

func TestExtractComplexityGapBeginnerVsExpert(t *testing.T) {
	f := newFixture(t)

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	assert.InDelta(t, 1.0, v.Get(features.ComplexityGap).Float64(), 1e-9)
	assert.False(t, v.WasDefaulted(features.ComplexityGap))
}

func TestExtractDefaultsOnReviewFailure(t *testing.T) {
	f := newFixture(t)

	full, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	f.behav.reviewErr = errors.New("behavior service down")
	require.NoError(t, f.cache.Invalidate(context.Background(), testLearner))

	degraded, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	assert.True(t, degraded.WasDefaulted(features.RetentionScore))
	assert.True(t, degraded.WasDefaulted(features.RecentAccuracy))
	assert.Equal(t, features.DefaultOf(features.RetentionScore), degraded.Get(features.RetentionScore))
	assert.Less(t, degraded.Quality.Float64(), full.Quality.Float64())
}

func TestExtractDefaultsPrereqsOnMasteryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.curric.mastery["obj-prereq"] = objective.MasteryState{
		ObjectiveID: "obj-prereq", Mastered: true, LastTouchedAt: f.now.AddDate(0, 0, -9),
	}

	healthy, err := f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)
	require.Zero(t, healthy.Get(features.PrereqGap).Float64())

	f.curric.masteryErr = errors.New("mastery store down")
	require.NoError(t, f.cache.Invalidate(ctx, testLearner))

	degraded, err := f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)

	// A mastery outage must not read as every prerequisite missing.
	assert.True(t, degraded.WasDefaulted(features.PrereqGap))
	assert.Equal(t, features.DefaultOf(features.PrereqGap), degraded.Get(features.PrereqGap))
	assert.True(t, degraded.WasDefaulted(features.PrereqDepth))
	assert.True(t, degraded.WasDefaulted(features.PrereqStaleness))
	assert.Less(t, degraded.Quality.Float64(), healthy.Quality.Float64())
}

func TestExtractClosureFailureDefaultsCategoryOnly(t *testing.T) {
	f := newFixture(t)
	f.curric.closureErr = errors.New("graph timeout")

	v, err := f.ext.Extract(context.Background(), testLearner, "obj-target")
	require.NoError(t, err)

	assert.True(t, v.WasDefaulted(features.PrereqGap))
	// The retention category still extracts normally.
	assert.False(t, v.WasDefaulted(features.RetentionScore))
}

func TestExtractReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)
	require.Equal(t, 1, f.behav.reviewCalls)

	_, err = f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)

	assert.Equal(t, 1, f.behav.reviewCalls, "second extraction should hit the cache")
	assert.Equal(t, 1, f.behav.profileCalls)
	assert.Equal(t, 1, f.behav.sessionCalls)
}

func TestExtractInvalidationForcesReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)
	require.NoError(t, f.cache.Invalidate(ctx, testLearner))

	_, err = f.ext.Extract(ctx, testLearner, "obj-target")
	require.NoError(t, err)

	assert.Equal(t, 2, f.behav.reviewCalls)
}

func TestWarmPopulatesAllTiers(t *testing.T) {
	f := newFixture(t)

	f.ext.Warm(context.Background(), testLearner)

	assert.Equal(t, len(AllTiers), f.cache.sets)
	assert.Equal(t, 1, f.behav.reviewCalls)
	assert.Equal(t, 1, f.behav.profileCalls)
	assert.Equal(t, 1, f.behav.sessionCalls)
}

func TestReviewsForPrefersObjectiveSpecific(t *testing.T) {
	reviews := []objective.Review{
		{ObjectiveID: "a", Score: 0.2},
		{ObjectiveID: "b", Score: 0.9},
	}

	narrowed := reviewsFor(reviews, "b")
	require.Len(t, narrowed, 1)
	assert.Equal(t, 0.9, narrowed[0].Score)

	// With no objective-specific reviews the whole series stands in.
	assert.Len(t, reviewsFor(reviews, "c"), 2)
}

func TestTTLForCoversEveryTier(t *testing.T) {
	assert.Equal(t, TTLPerformance, TTLFor(TierPerformance))
	assert.Equal(t, TTLProfile, TTLFor(TierProfile))
	assert.Equal(t, TTLPattern, TTLFor(TierPattern))
	assert.Equal(t, TTLPerformance, TTLFor(Tier("unknown")))
}
