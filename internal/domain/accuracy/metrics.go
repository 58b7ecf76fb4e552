// Package accuracy contains the pure metric computations behind accuracy
// reports: confusion-matrix statistics, decile calibration curves, and the
// Brier score. Everything here is deterministic math over a ledger of
// resolved predictions; no I/O.
package accuracy

import (
	"math"
)

// Sample is one resolved (prediction, outcome) pair from the ledger.
type Sample struct {
	Probability float64
	Struggled   bool
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFUSION MATRIX
// ══════════════════════════════════════════════════════════════════════════════

// ConfusionMatrix tallies predicted-vs-observed outcomes at a decision
// threshold. "Positive" means struggle predicted/observed.
type ConfusionMatrix struct {
	TruePositives  int
	TrueNegatives  int
	FalsePositives int
	FalseNegatives int
}

// BuildConfusion classifies samples at the given probability threshold.
func BuildConfusion(samples []Sample, threshold float64) ConfusionMatrix {
	var m ConfusionMatrix
	for _, s := range samples {
		predicted := s.Probability >= threshold
		switch {
		case predicted && s.Struggled:
			m.TruePositives++
		case predicted && !s.Struggled:
			m.FalsePositives++
		case !predicted && s.Struggled:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
	}
	return m
}

// Total returns the number of classified samples.
func (m ConfusionMatrix) Total() int {
	return m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
}

// Accuracy is the fraction of correct classifications. Empty matrices
// report 0.
func (m ConfusionMatrix) Accuracy() float64 {
	total := m.Total()
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

// Precision is TP / (TP + FP). Reports 0 when nothing was predicted positive.
func (m ConfusionMatrix) Precision() float64 {
	denom := m.TruePositives + m.FalsePositives
	if denom == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(denom)
}

// Recall is TP / (TP + FN). Reports 0 when nothing was observed positive.
func (m ConfusionMatrix) Recall() float64 {
	denom := m.TruePositives + m.FalseNegatives
	if denom == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(denom)
}

// F1 is the harmonic mean of precision and recall.
func (m ConfusionMatrix) F1() float64 {
	p := m.Precision()
	r := m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALIBRATION
// ══════════════════════════════════════════════════════════════════════════════

// CalibrationBin compares predicted probability against observed struggle
// frequency for one decile of the probability range.
type CalibrationBin struct {
	// Lower and Upper bound the bin: [Lower, Upper). The last bin is
	// [0.9, 1.0] inclusive.
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`

	Count int `json:"count"`

	// MeanPredicted is the average predicted probability inside the bin.
	MeanPredicted float64 `json:"mean_predicted"`

	// ObservedRate is the fraction of samples that actually struggled.
	ObservedRate float64 `json:"observed_rate"`
}

// Gap returns |MeanPredicted − ObservedRate| for a populated bin, 0 otherwise.
func (b CalibrationBin) Gap() float64 {
	if b.Count == 0 {
		return 0
	}
	return math.Abs(b.MeanPredicted - b.ObservedRate)
}

// BuildCalibration bins samples into probability deciles. All ten bins are
// returned, empty ones included, so the curve renders with fixed axes.
func BuildCalibration(samples []Sample) []CalibrationBin {
	const bins = 10
	sums := make([]float64, bins)
	hits := make([]int, bins)
	counts := make([]int, bins)

	for _, s := range samples {
		idx := int(s.Probability * bins)
		if idx >= bins {
			idx = bins - 1 // probability exactly 1.0
		}
		counts[idx]++
		sums[idx] += s.Probability
		if s.Struggled {
			hits[idx]++
		}
	}

	out := make([]CalibrationBin, bins)
	for i := 0; i < bins; i++ {
		b := CalibrationBin{
			Lower: float64(i) / bins,
			Upper: float64(i+1) / bins,
			Count: counts[i],
		}
		if counts[i] > 0 {
			b.MeanPredicted = sums[i] / float64(counts[i])
			b.ObservedRate = float64(hits[i]) / float64(counts[i])
		}
		out[i] = b
	}
	return out
}

// MaxCalibrationGap returns the largest per-bin gap across populated bins.
// This is the signal the degradation check compares against its floor.
func MaxCalibrationGap(bins []CalibrationBin) float64 {
	max := 0.0
	for _, b := range bins {
		if g := b.Gap(); g > max {
			max = g
		}
	}
	return max
}

// ══════════════════════════════════════════════════════════════════════════════
// BRIER SCORE
// ══════════════════════════════════════════════════════════════════════════════

// BrierScore is the mean squared error between predicted probability and
// the binary outcome. Lower is better; 0.25 is the score of always
// predicting 0.5. Empty input reports 0.
func BrierScore(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		outcome := 0.0
		if s.Struggled {
			outcome = 1.0
		}
		diff := s.Probability - outcome
		sum += diff * diff
	}
	return sum / float64(len(samples))
}
