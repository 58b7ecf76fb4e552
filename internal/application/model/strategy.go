// Package model scores feature vectors into struggle probabilities behind
// one interchangeable strategy contract. Two strategies exist: the
// deterministic weighted rule (the baseline) and a logistic scorer over
// externally trained coefficients. Callers never branch on which is
// active; retraining swaps the coefficient table, never the contract.
package model

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
)

// Result is one scoring outcome.
type Result struct {
	Probability   shared.Probability
	Confidence    shared.Confidence
	Contributions []prediction.Contribution
}

// Strategy is the single narrow capability both scorers implement.
type Strategy interface {
	// Score estimates the struggle probability for a feature vector.
	Score(ctx context.Context, v *features.Vector) (Result, error)

	// Version identifies the strategy and its coefficient set for
	// accuracy segmentation.
	Version() string
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIDENCE
// ══════════════════════════════════════════════════════════════════════════════

// Confidence shaping constants. Confidence grows with history and data
// quality but is hard-capped by data quality: the model never reports
// more certainty than its inputs support.
const (
	confidenceBase          = 0.35
	confidenceSampleWeight  = 0.45
	confidenceQualityWeight = 0.20

	// fullConfidenceSamples is the history size at which the sample term
	// saturates.
	fullConfidenceSamples = 40
)

// ConfidenceFor computes confidence from data quality and the number of
// historical samples backing the estimate. Monotone in both inputs, and
// never above quality.
func ConfidenceFor(quality shared.DataQuality, samples int) shared.Confidence {
	sampleFactor := float64(samples) / fullConfidenceSamples
	if sampleFactor > 1 {
		sampleFactor = 1
	}
	base := confidenceBase +
		confidenceSampleWeight*sampleFactor +
		confidenceQualityWeight*quality.Float64()
	if base > quality.Float64() {
		return quality
	}
	return shared.ClampUnit(base)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTRIBUTIONS
// ══════════════════════════════════════════════════════════════════════════════

// TopContributionCount is how many ranked contributions surface on a
// prediction for display.
const TopContributionCount = 5

// rankContributions computes weight×value per feature, sorts descending
// by absolute share, and renders the top entries as reasoning strings.
func rankContributions(v *features.Vector, weights map[features.Name]float64) []prediction.Contribution {
	all := make([]prediction.Contribution, 0, len(weights))
	var totalAbs float64
	for name, w := range weights {
		val := v.Get(name).Float64()
		share := w * val
		all = append(all, prediction.Contribution{
			Feature: name,
			Value:   val,
			Weight:  w,
			Share:   share,
		})
		totalAbs += math.Abs(share)
	}

	sort.Slice(all, func(i, j int) bool {
		ai, aj := math.Abs(all[i].Share), math.Abs(all[j].Share)
		if ai != aj {
			return ai > aj
		}
		return all[i].Feature < all[j].Feature
	})

	n := TopContributionCount
	if n > len(all) {
		n = len(all)
	}
	top := all[:n]
	for i := range top {
		top[i].Reason = contributionReason(top[i], totalAbs, i == 0)
	}
	return top
}

// contributionReason renders one contribution as a human-readable string,
// e.g. "missing prerequisites account for the largest share of this
// estimate (41%)".
func contributionReason(c prediction.Contribution, totalAbs float64, largest bool) string {
	label := features.LabelOf(c.Feature)
	pct := 0
	if totalAbs > 0 {
		pct = int(math.Round(math.Abs(c.Share) / totalAbs * 100))
	}
	direction := "push this estimate up"
	if c.Share < 0 {
		direction = "pull this estimate down"
	}
	if largest {
		return fmt.Sprintf("%s account for the largest share of this estimate (%d%%)", label, pct)
	}
	return fmt.Sprintf("%s %s (%d%%)", label, direction, pct)
}

// ══════════════════════════════════════════════════════════════════════════════
// COEFFICIENTS
// ══════════════════════════════════════════════════════════════════════════════

// Coefficients is one trained coefficient set for the logistic scorer.
type Coefficients struct {
	ID        string
	Bias      float64
	Weights   map[features.Name]float64
	TrainedAt time.Time

	// HoldoutAccuracy and HoldoutBrier are the validation metrics the
	// trainer measured before accepting the set.
	HoldoutAccuracy float64
	HoldoutBrier    float64
	ExampleCount    int
}

// CoefficientStore persists coefficient sets. The trainer is the single
// writer; scorers only read.
type CoefficientStore interface {
	// Latest returns the newest accepted coefficient set, or
	// shared.ErrNotFound when the model was never trained.
	Latest(ctx context.Context) (*Coefficients, error)

	// Save stores a new coefficient set as the latest.
	Save(ctx context.Context, c *Coefficients) error
}

// sigmoid is the bounded squashing function shared by both strategies.
func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
