package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
)

func newVector(t *testing.T, values map[features.Name]float64, quality float64, samples int) *features.Vector {
	t.Helper()
	v := features.NewVector("learner-1", "obj-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	for _, name := range features.All() {
		if val, ok := values[name]; ok {
			v.Set(name, val)
		} else {
			v.SetDefault(name)
		}
	}
	v.Quality = shared.ClampUnit(quality)
	v.SampleCount = samples
	require.NoError(t, v.Validate())
	return v
}

// highRisk models an objective with every prerequisite missing, weak recent
// retention, and an advanced objective facing a beginner learner.
func highRisk(t *testing.T) *features.Vector {
	return newVector(t, map[features.Name]float64{
		features.PrereqGap:          1.0,
		features.PrereqDepth:        0.6,
		features.PrereqStaleness:    0.5,
		features.RetentionScore:     0.30,
		features.RecentAccuracy:     0.35,
		features.LapseRate:          0.5,
		features.PerformanceDecline: 0.4,
		features.StruggleAffinity:   0.5,
		features.RepeatStruggle:     0.3,
		features.ComplexityGap:      1.0,
		features.Novelty:            0.7,
		features.CadenceDrop:        0.3,
		features.EngagementDrop:     0.3,
		features.TimeMisalignment:   0.4,
		features.ScheduleLoad:       0.4,
		features.CalibrationError:   0.3,
	}, 0.95, 60)
}

// lowRisk models an objective with all prerequisites mastered and strong
// retention.
func lowRisk(t *testing.T) *features.Vector {
	return newVector(t, map[features.Name]float64{
		features.PrereqGap:          0.0,
		features.PrereqDepth:        0.0,
		features.PrereqStaleness:    0.1,
		features.RetentionScore:     0.90,
		features.RecentAccuracy:     0.90,
		features.LapseRate:          0.05,
		features.PerformanceDecline: 0.0,
		features.StruggleAffinity:   0.1,
		features.RepeatStruggle:     0.0,
		features.ComplexityGap:      0.0,
		features.Novelty:            0.2,
		features.CadenceDrop:        0.1,
		features.EngagementDrop:     0.1,
		features.TimeMisalignment:   0.1,
		features.ScheduleLoad:       0.2,
		features.CalibrationError:   0.1,
	}, 0.95, 60)
}

func TestRuleScorerHighRisk(t *testing.T) {
	res, err := NewRuleScorer().Score(context.Background(), highRisk(t))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Probability.Float64(), 0.75)
	assert.GreaterOrEqual(t, res.Confidence.Float64(), 0.75)
	require.NotEmpty(t, res.Contributions)
	assert.Equal(t, features.PrereqGap, res.Contributions[0].Feature)
}

func TestRuleScorerLowRisk(t *testing.T) {
	res, err := NewRuleScorer().Score(context.Background(), lowRisk(t))
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Probability.Float64(), 0.30)
}

func TestRuleScorerBounds(t *testing.T) {
	scorer := NewRuleScorer()

	for name, v := range map[string]*features.Vector{
		"high": highRisk(t),
		"low":  lowRisk(t),
	} {
		res, err := scorer.Score(context.Background(), v)
		require.NoError(t, err, name)
		assert.True(t, res.Probability.IsValid(), name)
		assert.True(t, res.Confidence.IsValid(), name)
	}
}

// Raising the prerequisite gap alone must never lower the estimate.
func TestRuleScorerMonotoneInPrereqGap(t *testing.T) {
	scorer := NewRuleScorer()

	prev := -1.0
	for _, gap := range []float64{0.0, 0.25, 0.5, 0.75, 1.0} {
		v := lowRisk(t)
		v.Set(features.PrereqGap, gap)
		res, err := scorer.Score(context.Background(), v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Probability.Float64(), prev, "gap=%v", gap)
		prev = res.Probability.Float64()
	}
}

func TestRuleScorerDeterministic(t *testing.T) {
	scorer := NewRuleScorer()
	v := highRisk(t)

	first, err := scorer.Score(context.Background(), v)
	require.NoError(t, err)
	second, err := scorer.Score(context.Background(), v)
	require.NoError(t, err)

	assert.Equal(t, first.Probability, second.Probability)
	assert.Equal(t, first.Contributions, second.Contributions)
}

func TestRuleScorerNilVector(t *testing.T) {
	_, err := NewRuleScorer().Score(context.Background(), nil)
	assert.ErrorIs(t, err, shared.ErrEmptyValue)
}

func TestConfidenceCappedByQuality(t *testing.T) {
	// Plenty of samples, but thin data: quality must win.
	conf := ConfidenceFor(shared.ClampUnit(0.4), 100)
	assert.InDelta(t, 0.4, conf.Float64(), 1e-9)
}

func TestConfidenceGrowsWithSamples(t *testing.T) {
	quality := shared.ClampUnit(0.9)
	few := ConfidenceFor(quality, 5)
	many := ConfidenceFor(quality, 40)
	assert.Greater(t, many.Float64(), few.Float64())

	// Saturates at fullConfidenceSamples.
	assert.Equal(t, many, ConfidenceFor(quality, 400))
}

func TestContributionsRankedAndBounded(t *testing.T) {
	res, err := NewRuleScorer().Score(context.Background(), highRisk(t))
	require.NoError(t, err)

	require.Len(t, res.Contributions, TopContributionCount)
	for i := 1; i < len(res.Contributions); i++ {
		assert.GreaterOrEqual(t,
			abs(res.Contributions[i-1].Share), abs(res.Contributions[i].Share))
	}
	for _, c := range res.Contributions {
		assert.NotEmpty(t, c.Reason)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ─────────────────────────────────────────────────────────────────────────────

type stubStore struct {
	coef *Coefficients
}

func (s *stubStore) Latest(context.Context) (*Coefficients, error) {
	if s.coef == nil {
		return nil, shared.ErrNotFound
	}
	return s.coef, nil
}

func (s *stubStore) Save(_ context.Context, c *Coefficients) error {
	s.coef = c
	return nil
}

func TestLinearScorerScoresWithCoefficients(t *testing.T) {
	store := &stubStore{coef: &Coefficients{
		ID:   "set-1",
		Bias: -1.5,
		Weights: map[features.Name]float64{
			features.PrereqGap:      3.0,
			features.RetentionScore: -2.0,
		},
		TrainedAt: time.Now(),
	}}

	scorer, err := NewLinearScorer(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "linear-set-1", scorer.Version())

	high, err := scorer.Score(context.Background(), highRisk(t))
	require.NoError(t, err)
	low, err := scorer.Score(context.Background(), lowRisk(t))
	require.NoError(t, err)
	assert.Greater(t, high.Probability.Float64(), low.Probability.Float64())
}

func TestLinearScorerReloadSwapsCoefficients(t *testing.T) {
	store := &stubStore{coef: &Coefficients{ID: "set-1", Weights: map[features.Name]float64{}}}
	scorer, err := NewLinearScorer(context.Background(), store)
	require.NoError(t, err)

	store.coef = &Coefficients{ID: "set-2", Weights: map[features.Name]float64{}}
	require.NoError(t, scorer.Reload(context.Background()))
	assert.Equal(t, "linear-set-2", scorer.Version())
}

func TestSelectFallsBackToRuleWhenUntrained(t *testing.T) {
	strategy, err := Select(context.Background(), KindLinear, &stubStore{})
	require.NoError(t, err)
	assert.Equal(t, ruleVersion, strategy.Version())
}

func TestSelectUnknownKind(t *testing.T) {
	_, err := Select(context.Background(), Kind("neural"), &stubStore{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
