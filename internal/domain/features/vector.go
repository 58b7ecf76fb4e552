// Package features defines the normalized feature vector that encodes a
// learner's readiness for one objective, together with the data-quality
// bookkeeping that downstream scoring depends on.
//
// Every feature is a unit score in [0,1]. Unless noted otherwise a higher
// value means more risk; the two protective features (retention_score,
// recent_accuracy) are inverted by the scoring weights, not here.
package features

import (
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE NAMES
// ══════════════════════════════════════════════════════════════════════════════

// Name identifies a single feature in the vector.
type Name string

const (
	// Prerequisite readiness
	PrereqGap       Name = "prereq_gap"       // fraction of prerequisites not yet mastered
	PrereqDepth     Name = "prereq_depth"     // normalized depth of the longest missing prerequisite chain
	PrereqStaleness Name = "prereq_staleness" // staleness of mastered prerequisites (time since last touch)

	// Retention / performance
	RetentionScore     Name = "retention_score"     // recency-weighted review accuracy (protective)
	RecentAccuracy     Name = "recent_accuracy"     // accuracy over the last review window (protective)
	LapseRate          Name = "lapse_rate"          // fraction of recent reviews failed
	PerformanceDecline Name = "performance_decline" // 0 = improving trend, 1 = steep decline

	// Historical struggle affinity
	StruggleAffinity Name = "struggle_affinity" // struggle frequency on similar-tagged content
	RepeatStruggle   Name = "repeat_struggle"   // repeated struggle on the same tag family

	// Complexity mismatch
	ComplexityGap Name = "complexity_gap" // objective tier above learner tier, normalized
	Novelty       Name = "novelty"        // fraction of the objective's tags never seen before

	// Engagement / context
	CadenceDrop      Name = "cadence_drop"      // irregularity of recent session cadence
	EngagementDrop   Name = "engagement_drop"   // decline in session frequency vs. baseline
	TimeMisalignment Name = "time_misalignment" // scheduled slot vs. the learner's productive windows
	ScheduleLoad     Name = "schedule_load"     // density of the surrounding schedule

	// Self-assessment calibration
	CalibrationError Name = "calibration_error" // gap between self-assessed confidence and actual performance
)

// Category groups features for caching and data-quality weighting.
// Cache keys are (learnerID, category); each category has its own TTL tier.
type Category string

const (
	CategoryPrerequisites Category = "prerequisites"
	CategoryRetention     Category = "retention"
	CategoryHistory       Category = "history"
	CategoryComplexity    Category = "complexity"
	CategoryEngagement    Category = "engagement"
)

// definition describes one feature: its category, the default substituted
// when the upstream signal is unavailable, the weight it carries in the
// data-quality score, and a human-readable label for contribution strings.
type definition struct {
	Category Category
	Default  shared.UnitScore
	QWeight  float64
	Label    string
}

// definitions is the authoritative feature table. Order matters: All()
// iterates in this order so vectors serialize deterministically.
var definitions = []struct {
	Name Name
	Def  definition
}{
	{PrereqGap, definition{CategoryPrerequisites, 0.50, 1.5, "missing prerequisites"}},
	{PrereqDepth, definition{CategoryPrerequisites, 0.25, 0.5, "deep prerequisite chains"}},
	{PrereqStaleness, definition{CategoryPrerequisites, 0.30, 0.5, "stale prerequisite knowledge"}},
	{RetentionScore, definition{CategoryRetention, 0.50, 1.5, "retention strength"}},
	{RecentAccuracy, definition{CategoryRetention, 0.50, 1.0, "recent review accuracy"}},
	{LapseRate, definition{CategoryRetention, 0.20, 0.8, "recent review lapses"}},
	{PerformanceDecline, definition{CategoryRetention, 0.30, 0.7, "a declining performance trend"}},
	{StruggleAffinity, definition{CategoryHistory, 0.30, 1.0, "past struggle with similar content"}},
	{RepeatStruggle, definition{CategoryHistory, 0.20, 0.5, "repeated struggle on this topic family"}},
	{ComplexityGap, definition{CategoryComplexity, 0.25, 1.2, "a difficulty jump above current mastery"}},
	{Novelty, definition{CategoryComplexity, 0.40, 0.5, "unfamiliar topic tags"}},
	{CadenceDrop, definition{CategoryEngagement, 0.30, 0.6, "an irregular study cadence"}},
	{EngagementDrop, definition{CategoryEngagement, 0.20, 0.8, "a drop in study activity"}},
	{TimeMisalignment, definition{CategoryEngagement, 0.30, 0.4, "scheduling outside productive hours"}},
	{ScheduleLoad, definition{CategoryEngagement, 0.30, 0.4, "a crowded upcoming schedule"}},
	{CalibrationError, definition{CategoryHistory, 0.25, 0.5, "miscalibrated self-assessment"}},
}

// defIndex provides O(1) lookup into definitions.
var defIndex = func() map[Name]definition {
	m := make(map[Name]definition, len(definitions))
	for _, d := range definitions {
		m[d.Name] = d.Def
	}
	return m
}()

// All returns every feature name in canonical order.
func All() []Name {
	names := make([]Name, len(definitions))
	for i, d := range definitions {
		names[i] = d.Name
	}
	return names
}

// CategoryOf returns the category a feature belongs to.
func CategoryOf(name Name) Category {
	return defIndex[name].Category
}

// DefaultOf returns the documented fallback value substituted when the
// upstream signal backing a feature is unavailable.
func DefaultOf(name Name) shared.UnitScore {
	return defIndex[name].Default
}

// LabelOf returns the human-readable label used in contribution strings.
func LabelOf(name Name) string {
	return defIndex[name].Label
}

// IsKnown reports whether name is part of the feature table.
func IsKnown(name Name) bool {
	_, ok := defIndex[name]
	return ok
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE VECTOR
// ══════════════════════════════════════════════════════════════════════════════

// Vector is a per-(learner, objective) readiness snapshot. Values are
// normalized unit scores; Defaulted marks features whose upstream signal
// was missing and whose value is the documented fallback.
type Vector struct {
	LearnerID   shared.LearnerID
	ObjectiveID shared.ObjectiveID

	values    map[Name]shared.UnitScore
	defaulted map[Name]bool

	// SampleCount is the number of historical observations backing the
	// retention and history categories. It feeds confidence, not quality.
	SampleCount int

	// Quality is the weighted completeness of the inputs. Set once by
	// FinishQuality after all categories have been written.
	Quality shared.DataQuality

	ExtractedAt time.Time
}

// NewVector creates an empty vector for a (learner, objective) pair.
func NewVector(learnerID shared.LearnerID, objectiveID shared.ObjectiveID, extractedAt time.Time) *Vector {
	return &Vector{
		LearnerID:   learnerID,
		ObjectiveID: objectiveID,
		values:      make(map[Name]shared.UnitScore, len(definitions)),
		defaulted:   make(map[Name]bool),
		ExtractedAt: extractedAt,
	}
}

// Set stores a feature value, clamping it to [0,1].
func (v *Vector) Set(name Name, value float64) {
	v.values[name] = shared.ClampUnit(value)
	delete(v.defaulted, name)
}

// SetDefault stores the documented fallback for a feature and marks it as
// defaulted so the quality score can penalize it.
func (v *Vector) SetDefault(name Name) {
	v.values[name] = DefaultOf(name)
	v.defaulted[name] = true
}

// Get returns a feature value. Features never written read as their
// documented default (and count as defaulted for quality purposes).
func (v *Vector) Get(name Name) shared.UnitScore {
	if val, ok := v.values[name]; ok {
		return val
	}
	return DefaultOf(name)
}

// WasDefaulted reports whether a feature carries a fallback value.
func (v *Vector) WasDefaulted(name Name) bool {
	if _, ok := v.values[name]; !ok {
		return true
	}
	return v.defaulted[name]
}

// Values returns a copy of the value map with unwritten features filled
// from the defaults table, suitable for persistence.
func (v *Vector) Values() map[Name]float64 {
	out := make(map[Name]float64, len(definitions))
	for _, name := range All() {
		out[name] = v.Get(name).Float64()
	}
	return out
}

// Validate checks the vector invariants: every feature and the quality
// score inside [0,1], and a non-zero extraction timestamp.
func (v *Vector) Validate() error {
	for name, val := range v.values {
		if !IsKnown(name) {
			return shared.WrapError("features", "Validate", shared.ErrInvalidInput,
				"unknown feature "+string(name), nil)
		}
		if !val.IsValid() {
			return shared.ErrFeatureOutOfRange
		}
	}
	if !v.Quality.IsValid() {
		return shared.ErrFeatureOutOfRange
	}
	if v.ExtractedAt.IsZero() {
		return shared.NewDomainError("features", "Validate", shared.ErrEmptyValue, "extraction timestamp not set")
	}
	return nil
}
