package model

import (
	"context"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ruleVersion identifies the baseline strategy. The weight table below is
// part of the version: changing a weight means bumping this.
const ruleVersion = "rule-v1"

// ruleWeights is the documented per-feature weight table of the baseline
// scorer. Risk features carry positive weights and add to the estimate;
// the two protective features carry negative weights and subtract.
// Magnitudes are tuned product constants.
var ruleWeights = map[features.Name]float64{
	features.PrereqGap:       0.90,
	features.PrereqDepth:     0.25,
	features.PrereqStaleness: 0.20,

	features.RetentionScore:     -0.60,
	features.RecentAccuracy:     -0.40,
	features.LapseRate:          0.35,
	features.PerformanceDecline: 0.25,

	features.StruggleAffinity: 0.45,
	features.RepeatStruggle:   0.25,

	features.ComplexityGap: 0.55,
	features.Novelty:       0.25,

	features.CadenceDrop:      0.20,
	features.EngagementDrop:   0.30,
	features.TimeMisalignment: 0.15,
	features.ScheduleLoad:     0.15,

	features.CalibrationError: 0.20,
}

// Squash shape: probability = sigmoid(squashGain · (raw − squashBias)).
// The bias centers a neutral vector near the low-risk end; the gain sets
// how quickly accumulated risk saturates toward 1.
const (
	squashGain = 3.0
	squashBias = 0.45
)

// RuleScorer is the deterministic weighted-sum-with-squash baseline.
// Stateless and safe for concurrent use.
type RuleScorer struct{}

// NewRuleScorer creates the baseline scorer.
func NewRuleScorer() *RuleScorer {
	return &RuleScorer{}
}

// Score implements Strategy.
func (s *RuleScorer) Score(_ context.Context, v *features.Vector) (Result, error) {
	if v == nil {
		return Result{}, shared.NewDomainError("model", "Score", shared.ErrEmptyValue, "nil feature vector")
	}

	var raw float64
	for name, w := range ruleWeights {
		raw += w * v.Get(name).Float64()
	}

	probability := shared.ClampUnit(sigmoid(squashGain * (raw - squashBias)))

	return Result{
		Probability:   probability,
		Confidence:    ConfidenceFor(v.Quality, v.SampleCount),
		Contributions: rankContributions(v, ruleWeights),
	}, nil
}

// Version implements Strategy.
func (s *RuleScorer) Version() string {
	return ruleVersion
}
