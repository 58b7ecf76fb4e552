package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appdetection "github.com/learnloop/insight/internal/application/detection"
	"github.com/learnloop/insight/internal/application/extractor"
	appintervention "github.com/learnloop/insight/internal/application/intervention"
	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/intervention"
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

type stubCurriculum struct {
	objectives map[shared.ObjectiveID]*objective.Objective
	closures   map[shared.ObjectiveID][]*objective.Objective
	mastery    map[shared.ObjectiveID]objective.MasteryState
	schedule   []objective.ScheduleEntry
}

func (s *stubCurriculum) Objective(_ context.Context, id shared.ObjectiveID) (*objective.Objective, error) {
	if obj, ok := s.objectives[id]; ok {
		return obj, nil
	}
	return nil, shared.ErrUnknownObjective
}

func (s *stubCurriculum) PrerequisiteClosure(_ context.Context, id shared.ObjectiveID) ([]*objective.Objective, error) {
	return s.closures[id], nil
}

func (s *stubCurriculum) MasteryStates(context.Context, shared.LearnerID) (map[shared.ObjectiveID]objective.MasteryState, error) {
	return s.mastery, nil
}

func (s *stubCurriculum) UpcomingSchedule(context.Context, shared.LearnerID, int) ([]objective.ScheduleEntry, error) {
	return s.schedule, nil
}

func (s *stubCurriculum) StruggleHistory(context.Context, shared.LearnerID) ([]objective.StruggleRecord, error) {
	return nil, nil
}

type stubBehavior struct {
	profile  *learner.Profile
	span     learner.HistorySpan
	reviews  []objective.Review
	sessions []objective.SessionStat
}

func (s *stubBehavior) Profile(context.Context, shared.LearnerID) (*learner.Profile, error) {
	return s.profile, nil
}

func (s *stubBehavior) Privacy(_ context.Context, id shared.LearnerID) (*learner.PrivacySettings, error) {
	return &learner.PrivacySettings{LearnerID: id, AnalysisEnabled: true}, nil
}

func (s *stubBehavior) HistorySpan(context.Context, shared.LearnerID) (learner.HistorySpan, error) {
	return s.span, nil
}

func (s *stubBehavior) Reviews(context.Context, shared.LearnerID, time.Time) ([]objective.Review, error) {
	return s.reviews, nil
}

func (s *stubBehavior) Sessions(context.Context, shared.LearnerID, time.Time) ([]objective.SessionStat, error) {
	return s.sessions, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, shared.LearnerID, extractor.Tier, interface{}) (bool, error) {
	return false, nil
}
func (noopCache) Set(context.Context, shared.LearnerID, extractor.Tier, interface{}) error {
	return nil
}
func (noopCache) Invalidate(context.Context, shared.LearnerID) error { return nil }

type predictionStore struct {
	mu    sync.Mutex
	saves int
}

func (f *predictionStore) ReplacePending(context.Context, *prediction.StrugglePrediction, []*prediction.StruggleIndicator) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return false, nil
}

func (f *predictionStore) GetByID(context.Context, string) (*prediction.StrugglePrediction, []*prediction.StruggleIndicator, error) {
	return nil, nil, shared.ErrPredictionNotFound
}

func (f *predictionStore) ListByLearner(context.Context, shared.LearnerID, prediction.Filter) ([]*prediction.StrugglePrediction, error) {
	return nil, nil
}

func (f *predictionStore) PendingByLearner(context.Context, shared.LearnerID) ([]*prediction.StrugglePrediction, error) {
	return nil, nil
}

func (f *predictionStore) Resolve(context.Context, string, bool, time.Time) error { return nil }

func (f *predictionStore) IndicatorsFor(context.Context, string) ([]*prediction.StruggleIndicator, error) {
	return nil, nil
}

type interventionStore struct {
	mu    sync.Mutex
	saved []*intervention.Recommendation
}

func (f *interventionStore) SaveAll(_ context.Context, recs []*intervention.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, recs...)
	return nil
}

func (f *interventionStore) GetByID(context.Context, string) (*intervention.Recommendation, error) {
	return nil, shared.ErrInterventionNotFound
}

func (f *interventionStore) ListByLearner(context.Context, shared.LearnerID, intervention.Filter) ([]*intervention.Recommendation, error) {
	return nil, nil
}

func (f *interventionStore) UpdateStatus(context.Context, *intervention.Recommendation) error {
	return nil
}

func (f *interventionStore) SupersedeByPrediction(context.Context, string) error { return nil }

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, shared.LearnerID) error { return nil }

// stubGate flips the optional pipeline behaviors per test.
type stubGate struct {
	onDemand  bool
	proposals bool
}

func (g stubGate) OnDemandDetection(shared.LearnerID) bool     { return g.onDemand }
func (g stubGate) InterventionProposals(shared.LearnerID) bool { return g.proposals }

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

const testLearner = shared.LearnerID("learner-1")

type fixture struct {
	service       *Service
	predictions   *predictionStore
	interventions *interventionStore
}

// newFixture wires a real detection and intervention engine over fakes
// describing a beginner learner with solid history facing one expert-tier
// objective with a missing prerequisite, so a run yields a high-risk
// prediction with a prerequisite-gap indicator.
func newFixture(t *testing.T, gate Gate) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewManualClock(now)

	prereq := &objective.Objective{ID: "obj-prereq", Title: "Pointers", Tier: shared.TierIntermediate, Tags: []string{"memory"}}
	hard := &objective.Objective{ID: "obj-hard", Title: "Concurrency", Tier: shared.TierExpert,
		Prerequisites: []shared.ObjectiveID{prereq.ID}, Tags: []string{"concurrency"}}

	curric := &stubCurriculum{
		objectives: map[shared.ObjectiveID]*objective.Objective{prereq.ID: prereq, hard.ID: hard},
		closures:   map[shared.ObjectiveID][]*objective.Objective{hard.ID: {prereq}},
		mastery:    map[shared.ObjectiveID]objective.MasteryState{},
		schedule:   []objective.ScheduleEntry{{ObjectiveID: hard.ID, DueAt: now.AddDate(0, 0, 1)}},
	}

	reviews := make([]objective.Review, 0, 12)
	for i := 0; i < 12; i++ {
		reviews = append(reviews, objective.Review{
			ObjectiveID: "obj-other",
			ReviewedAt:  now.AddDate(0, 0, -i*3),
			Score:       0.4,
			Passed:      i%2 == 0,
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
		span:     learner.HistorySpan{LearnerID: testLearner, WeeksOfData: 8, SessionCount: 40, ReviewCount: 60},
		reviews:  reviews,
		sessions: sessions,
	}

	log := logger.New(logger.Options{Level: logger.LevelError})
	ext := extractor.New(curric, behav, noopCache{}, clock, log, extractor.DefaultConfig())

	predictions := &predictionStore{}
	interventions := &interventionStore{}

	detectionEngine := appdetection.New(ext, model.NewRuleScorer(), curric, behav,
		predictions, allowAllLimiter{}, nil, clock, log, appdetection.DefaultConfig())
	interventionEngine := appintervention.New(curric, behav, interventions, nil, clock, log)

	service := New(detectionEngine, interventionEngine, nil, predictions, gate, log)

	return &fixture{service: service, predictions: predictions, interventions: interventions}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestDetectProposesForEachPrediction(t *testing.T) {
	f := newFixture(t, nil)

	outcome, err := f.service.Detect(context.Background(), testLearner, true)
	require.NoError(t, err)
	require.False(t, outcome.Run.Skipped)
	require.NotEmpty(t, outcome.Run.Predictions)

	pred := outcome.Run.Predictions[0]
	assert.NotEmpty(t, outcome.Recommendations[pred.ID])
	assert.NotEmpty(t, f.interventions.saved)
}

func TestDetectOnDemandDisabledSkips(t *testing.T) {
	f := newFixture(t, stubGate{onDemand: false, proposals: true})

	outcome, err := f.service.Detect(context.Background(), testLearner, true)
	require.NoError(t, err)

	assert.True(t, outcome.Run.Skipped)
	assert.Equal(t, appdetection.SkipOnDemandDisabled, outcome.Run.SkipReason)
	assert.Empty(t, outcome.Run.Predictions)
	assert.Empty(t, outcome.Recommendations)
	assert.Zero(t, f.predictions.saves, "a disabled run must persist nothing")
}

func TestDetectScheduledBypassesOnDemandGate(t *testing.T) {
	f := newFixture(t, stubGate{onDemand: false, proposals: true})

	outcome, err := f.service.Detect(context.Background(), testLearner, false)
	require.NoError(t, err)

	assert.False(t, outcome.Run.Skipped)
	assert.NotEmpty(t, outcome.Run.Predictions)
}

func TestDetectProposalsDisabledKeepsPredictions(t *testing.T) {
	f := newFixture(t, stubGate{onDemand: true, proposals: false})

	outcome, err := f.service.Detect(context.Background(), testLearner, true)
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.Run.Predictions)
	assert.Empty(t, outcome.Recommendations)
	assert.Empty(t, f.interventions.saved)
}

func TestDetectInvalidLearner(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.Detect(context.Background(), "", true)
	assert.ErrorIs(t, err, shared.ErrInvalidLearnerID)
}
