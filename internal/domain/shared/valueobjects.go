// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNIT SCORES
// ══════════════════════════════════════════════════════════════════════════════

// UnitScore is a float constrained to [0,1]. Normalized feature values,
// probabilities, confidences, and data-quality scores are all unit scores.
type UnitScore float64

// ClampUnit clamps an arbitrary float to [0,1]. NaN clamps to 0.
func ClampUnit(v float64) UnitScore {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return UnitScore(v)
}

// IsValid reports whether the score is inside [0,1].
func (s UnitScore) IsValid() bool {
	return s >= 0 && s <= 1 && !math.IsNaN(float64(s))
}

// Float64 returns the underlying value.
func (s UnitScore) Float64() float64 {
	return float64(s)
}

// Probability is the predicted chance a learner struggles with an objective.
type Probability = UnitScore

// Confidence expresses how much the model trusts its own estimate.
// It is capped by data quality: the model never claims more certainty
// than the inputs support.
type Confidence = UnitScore

// DataQuality is the weighted completeness of the inputs behind a
// feature vector. Low quality degrades confidence, never aborts extraction.
type DataQuality = UnitScore

// ══════════════════════════════════════════════════════════════════════════════
// MASTERY TIERS
// ══════════════════════════════════════════════════════════════════════════════

// Tier is a coarse mastery/complexity level shared by learners and
// objectives so the two can be compared numerically.
type Tier int

const (
	TierBeginner Tier = iota + 1
	TierIntermediate
	TierAdvanced
	TierExpert
)

// ParseTier parses a tier from its string form. Unknown strings map to
// TierBeginner so a missing upstream value degrades instead of failing.
func ParseTier(s string) Tier {
	switch s {
	case "beginner":
		return TierBeginner
	case "intermediate":
		return TierIntermediate
	case "advanced":
		return TierAdvanced
	case "expert":
		return TierExpert
	default:
		return TierBeginner
	}
}

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierBeginner:
		return "beginner"
	case TierIntermediate:
		return "intermediate"
	case TierAdvanced:
		return "advanced"
	case TierExpert:
		return "expert"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// IsValid reports whether the tier is one of the four known levels.
func (t Tier) IsValid() bool {
	return t >= TierBeginner && t <= TierExpert
}

// GapTo returns the normalized distance from t up to target in [0,1].
// A target at or below t yields 0; the full beginner-to-expert span yields 1.
func (t Tier) GapTo(target Tier) UnitScore {
	span := float64(TierExpert - TierBeginner)
	gap := float64(target - t)
	if gap <= 0 {
		return 0
	}
	return ClampUnit(gap / span)
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTIFIERS
// ══════════════════════════════════════════════════════════════════════════════

// LearnerID identifies a learner. IDs are issued by the identity
// collaborator; this core only validates shape.
type LearnerID string

// IsValid checks that the learner ID is non-empty and of sane length.
func (id LearnerID) IsValid() bool {
	return len(id) >= 1 && len(id) <= 64
}

// String returns the string form of the ID.
func (id LearnerID) String() string {
	return string(id)
}

// ObjectiveID identifies a learning objective in the curriculum graph.
type ObjectiveID string

// IsValid checks that the objective ID is non-empty and of sane length.
func (id ObjectiveID) IsValid() bool {
	return len(id) >= 1 && len(id) <= 64
}

// String returns the string form of the ID.
func (id ObjectiveID) String() string {
	return string(id)
}
