package detection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeCurriculum struct {
	objectives map[shared.ObjectiveID]*objective.Objective
	closures   map[shared.ObjectiveID][]*objective.Objective
	mastery    map[shared.ObjectiveID]objective.MasteryState
	schedule   []objective.ScheduleEntry
	struggles  []objective.StruggleRecord

	scheduleErr error
}

func (f *fakeCurriculum) Objective(_ context.Context, id shared.ObjectiveID) (*objective.Objective, error) {
	if obj, ok := f.objectives[id]; ok {
		return obj, nil
	}
	return nil, shared.ErrUnknownObjective
}

func (f *fakeCurriculum) PrerequisiteClosure(_ context.Context, id shared.ObjectiveID) ([]*objective.Objective, error) {
	return f.closures[id], nil
}

func (f *fakeCurriculum) MasteryStates(context.Context, shared.LearnerID) (map[shared.ObjectiveID]objective.MasteryState, error) {
	return f.mastery, nil
}

func (f *fakeCurriculum) UpcomingSchedule(context.Context, shared.LearnerID, int) ([]objective.ScheduleEntry, error) {
	if f.scheduleErr != nil {
		return nil, f.scheduleErr
	}
	return f.schedule, nil
}

func (f *fakeCurriculum) StruggleHistory(context.Context, shared.LearnerID) ([]objective.StruggleRecord, error) {
	return f.struggles, nil
}

type fakeBehavior struct {
	profile  *learner.Profile
	privacy  *learner.PrivacySettings
	span     learner.HistorySpan
	reviews  []objective.Review
	sessions []objective.SessionStat

	privacyErr error
}

func (f *fakeBehavior) Profile(_ context.Context, id shared.LearnerID) (*learner.Profile, error) {
	return f.profile, nil
}

func (f *fakeBehavior) Privacy(context.Context, shared.LearnerID) (*learner.PrivacySettings, error) {
	if f.privacyErr != nil {
		return nil, f.privacyErr
	}
	return f.privacy, nil
}

func (f *fakeBehavior) HistorySpan(context.Context, shared.LearnerID) (learner.HistorySpan, error) {
	return f.span, nil
}

func (f *fakeBehavior) Reviews(context.Context, shared.LearnerID, time.Time) ([]objective.Review, error) {
	return f.reviews, nil
}

func (f *fakeBehavior) Sessions(context.Context, shared.LearnerID, time.Time) ([]objective.SessionStat, error) {
	return f.sessions, nil
}

// noopCache always misses so extraction always reads the fakes.
type noopCache struct{}

func (noopCache) Get(context.Context, shared.LearnerID, extractor.Tier, interface{}) (bool, error) {
	return false, nil
}
func (noopCache) Set(context.Context, shared.LearnerID, extractor.Tier, interface{}) error {
	return nil
}
func (noopCache) Invalidate(context.Context, shared.LearnerID) error { return nil }

type fakeRepo struct {
	mu      sync.Mutex
	pending map[string]*prediction.StrugglePrediction // learner|objective key
	saves   int
	saveErr map[shared.ObjectiveID]error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{pending: make(map[string]*prediction.StrugglePrediction)}
}

func (f *fakeRepo) ReplacePending(_ context.Context, p *prediction.StrugglePrediction, _ []*prediction.StruggleIndicator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.saveErr[p.ObjectiveID]; err != nil {
		return false, err
	}
	key := string(p.LearnerID) + "|" + string(p.ObjectiveID)
	_, replaced := f.pending[key]
	f.pending[key] = p
	f.saves++
	return replaced, nil
}

func (f *fakeRepo) GetByID(context.Context, string) (*prediction.StrugglePrediction, []*prediction.StruggleIndicator, error) {
	return nil, nil, shared.ErrPredictionNotFound
}

func (f *fakeRepo) ListByLearner(context.Context, shared.LearnerID, prediction.Filter) ([]*prediction.StrugglePrediction, error) {
	return nil, nil
}

func (f *fakeRepo) PendingByLearner(context.Context, shared.LearnerID) ([]*prediction.StrugglePrediction, error) {
	return nil, nil
}

func (f *fakeRepo) Resolve(context.Context, string, bool, time.Time) error { return nil }

func (f *fakeRepo) IndicatorsFor(context.Context, string) ([]*prediction.StruggleIndicator, error) {
	return nil, nil
}

type fakeLimiter struct {
	remaining int
	resetAt   time.Time
	calls     int
}

func (f *fakeLimiter) Allow(_ context.Context, learnerID shared.LearnerID) error {
	f.calls++
	if f.remaining <= 0 {
		return &shared.RateLimitError{LearnerID: string(learnerID), Limit: 3, ResetAt: f.resetAt}
	}
	f.remaining--
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *capturingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

const testLearner = shared.LearnerID("learner-1")

type harness struct {
	engine    *Engine
	clock     *timeutil.ManualClock
	repo      *fakeRepo
	limiter   *fakeLimiter
	publisher *capturingPublisher
	behavior  *fakeBehavior
	curric    *fakeCurriculum
}

// newHarness wires an engine over fakes describing a learner with solid
// history facing two scheduled objectives: one far beyond their tier with
// missing prerequisites, one well within reach.
func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewManualClock(now)

	prereq := &objective.Objective{ID: "obj-prereq", Title: "Pointers", Tier: shared.TierIntermediate, Tags: []string{"memory"}}
	hard := &objective.Objective{ID: "obj-hard", Title: "Concurrency", Tier: shared.TierExpert,
		Prerequisites: []shared.ObjectiveID{"obj-prereq"}, Tags: []string{"concurrency"}}
	easy := &objective.Objective{ID: "obj-easy", Title: "Variables", Tier: shared.TierBeginner, Tags: []string{"basics"}}

	curric := &fakeCurriculum{
		objectives: map[shared.ObjectiveID]*objective.Objective{
			prereq.ID: prereq, hard.ID: hard, easy.ID: easy,
		},
		closures: map[shared.ObjectiveID][]*objective.Objective{
			hard.ID: {prereq},
		},
		mastery: map[shared.ObjectiveID]objective.MasteryState{
			easy.ID: {ObjectiveID: easy.ID, Mastered: true, LastTouchedAt: now.AddDate(0, 0, -2)},
		},
		schedule: []objective.ScheduleEntry{
			{ObjectiveID: hard.ID, DueAt: now.AddDate(0, 0, 1)},
			{ObjectiveID: easy.ID, DueAt: now.AddDate(0, 0, 7)},
		},
	}

	reviews := make([]objective.Review, 0, 12)
	for i := 0; i < 12; i++ {
		reviews = append(reviews, objective.Review{
			ObjectiveID: easy.ID,
			ReviewedAt:  now.AddDate(0, 0, -i*3),
			Score:       0.8,
			Passed:      true,
		})
	}
	sessions := make([]objective.SessionStat, 0, 8)
	for i := 0; i < 8; i++ {
		sessions = append(sessions, objective.SessionStat{
			StartedAt: now.AddDate(0, 0, -i*3),
			Minutes:   30,
		})
	}

	behavior := &fakeBehavior{
		profile: &learner.Profile{
			LearnerID:               testLearner,
			MasteryTier:             shared.TierBeginner,
			BaselineSessionsPerWeek: 3,
		},
		privacy:  &learner.PrivacySettings{LearnerID: testLearner, AnalysisEnabled: true},
		span:     learner.HistorySpan{LearnerID: testLearner, WeeksOfData: 8, SessionCount: 40, ReviewCount: 60},
		reviews:  reviews,
		sessions: sessions,
	}

	log := logger.New(logger.Options{Level: logger.LevelError})
	ext := extractor.New(curric, behavior, noopCache{}, clock, log, extractor.DefaultConfig())

	repo := newFakeRepo()
	limiter := &fakeLimiter{remaining: 3, resetAt: now.Add(24 * time.Hour)}
	publisher := &capturingPublisher{}

	engine := New(ext, model.NewRuleScorer(), curric, behavior, repo, limiter,
		publisher, clock, log, DefaultConfig())

	return &harness{
		engine: engine, clock: clock, repo: repo, limiter: limiter,
		publisher: publisher, behavior: behavior, curric: curric,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestRunScoresWholeSchedule(t *testing.T) {
	h := newHarness(t)

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.False(t, result.Partial)
	require.Len(t, result.Predictions, 2)
	assert.Equal(t, 2, h.repo.saves)

	byObjective := make(map[shared.ObjectiveID]*prediction.StrugglePrediction)
	for _, p := range result.Predictions {
		assert.Equal(t, prediction.StatusPending, p.Status)
		assert.True(t, p.Probability.IsValid())
		assert.NotEmpty(t, p.TopContributions)
		byObjective[p.ObjectiveID] = p
	}

	// The out-of-tier objective with missing prerequisites must score well
	// above the mastered in-tier one.
	hard, easy := byObjective["obj-hard"], byObjective["obj-easy"]
	require.NotNil(t, hard)
	require.NotNil(t, easy)
	assert.Greater(t, hard.Probability.Float64(), easy.Probability.Float64())
}

func TestRunIndicatorsBackEachPrediction(t *testing.T) {
	h := newHarness(t)

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)

	for _, p := range result.Predictions {
		for _, ind := range result.Indicators[p.ID] {
			assert.Equal(t, p.ID, ind.PredictionID)
			require.NoError(t, ind.Validate())
		}
	}

	// The high-risk objective fires at minimum the prerequisite-gap signal.
	var hard *prediction.StrugglePrediction
	for _, p := range result.Predictions {
		if p.ObjectiveID == "obj-hard" {
			hard = p
		}
	}
	require.NotNil(t, hard)
	types := make([]prediction.IndicatorType, 0)
	for _, ind := range result.Indicators[hard.ID] {
		types = append(types, ind.Type)
	}
	assert.Contains(t, types, prediction.IndicatorPrerequisiteGap)
}

func TestRunAlertsBoundedAndRanked(t *testing.T) {
	h := newHarness(t)

	// Five high-risk objectives due on successive days.
	h.curric.schedule = nil
	now := h.clock.Now()
	for i := 0; i < 5; i++ {
		id := shared.ObjectiveID([]string{"obj-a", "obj-b", "obj-c", "obj-d", "obj-e"}[i])
		h.curric.objectives[id] = &objective.Objective{
			ID: id, Title: string(id), Tier: shared.TierExpert,
			Prerequisites: []shared.ObjectiveID{"obj-prereq"},
			Tags:          []string{"concurrency"},
		}
		h.curric.closures[id] = h.curric.closures["obj-hard"]
		h.curric.schedule = append(h.curric.schedule, objective.ScheduleEntry{
			ObjectiveID: id, DueAt: now.AddDate(0, 0, i+1),
		})
	}

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)

	require.Len(t, result.Predictions, 5)
	require.Len(t, result.Alerts, MaxAlerts)
	for i := 1; i < len(result.Alerts); i++ {
		assert.GreaterOrEqual(t, result.Alerts[i-1].Composite, result.Alerts[i].Composite)
	}
	// Identical risk everywhere, so urgency decides: the soonest-due wins.
	assert.Equal(t, shared.ObjectiveID("obj-a"), result.Alerts[0].ObjectiveID)
}

func TestRunRerunReplacesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Run(ctx, testLearner, RunOptions{})
	require.NoError(t, err)
	_, err = h.engine.Run(ctx, testLearner, RunOptions{})
	require.NoError(t, err)

	// Second run replaced rather than duplicated.
	assert.Len(t, h.repo.pending, 2)

	created := h.publisher.byType(shared.EventPredictionCreated)
	require.Len(t, created, 4)
	replacedCount := 0
	for _, e := range created {
		if e.(shared.PredictionCreatedEvent).Replaced {
			replacedCount++
		}
	}
	assert.Equal(t, 2, replacedCount)
}

func TestRunInsufficientHistorySkips(t *testing.T) {
	h := newHarness(t)
	h.behavior.span = learner.HistorySpan{LearnerID: testLearner, WeeksOfData: 1, SessionCount: 2, ReviewCount: 3}

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipInsufficientData, result.SkipReason)
	assert.Empty(t, result.Predictions)
	assert.Zero(t, h.repo.saves, "nothing may be persisted on a skipped run")

	skipped := h.publisher.byType(shared.EventDetectionSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, SkipInsufficientData, skipped[0].(shared.DetectionSkippedEvent).Reason)
}

func TestRunOptOutSkipsBeforeQuota(t *testing.T) {
	h := newHarness(t)
	h.behavior.privacy = &learner.PrivacySettings{LearnerID: testLearner, AnalysisEnabled: false}

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{OnDemand: true})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipAnalysisDisabled, result.SkipReason)
	assert.Zero(t, h.repo.saves)
	assert.Zero(t, h.limiter.calls, "opted-out runs must not consume quota")
}

func TestRunOnDemandQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.engine.Run(ctx, testLearner, RunOptions{OnDemand: true})
		require.NoError(t, err, "request %d within quota", i+1)
	}

	_, err := h.engine.Run(ctx, testLearner, RunOptions{OnDemand: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRateLimited)

	var rle *shared.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, h.limiter.resetAt, rle.ResetAt)
}

func TestRunScheduledExemptFromQuota(t *testing.T) {
	h := newHarness(t)
	h.limiter.remaining = 0

	_, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, h.limiter.calls)
}

func TestRunPartialOnPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.saveErr = map[shared.ObjectiveID]error{"obj-hard": errors.New("connection reset")}

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)

	assert.True(t, result.Partial)
	require.Len(t, result.Predictions, 1)
	assert.Equal(t, shared.ObjectiveID("obj-easy"), result.Predictions[0].ObjectiveID)

	completed := h.publisher.byType(shared.EventDetectionCompleted)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].(shared.DetectionCompletedEvent).Partial)
}

func TestRunInvalidLearner(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Run(context.Background(), "", RunOptions{})
	assert.ErrorIs(t, err, shared.ErrInvalidLearnerID)
}

func TestRunEmptySchedule(t *testing.T) {
	h := newHarness(t)
	h.curric.schedule = nil

	result, err := h.engine.Run(context.Background(), testLearner, RunOptions{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Empty(t, result.Predictions)
	assert.Empty(t, result.Alerts)
}
