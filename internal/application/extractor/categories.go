package extractor

import (
	"math"
	"sort"
	"time"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
)

// Normalization constants for the category builders. These cap the raw
// signals so every feature lands on [0,1]; values are tuned, not derived.
const (
	// retentionHalfLife controls recency weighting of review scores.
	retentionHalfLife = 14 * 24 * time.Hour

	// recentReviewWindow is how many latest reviews back recent_accuracy.
	recentReviewWindow = 10

	// prereqStalenessCapDays saturates prerequisite staleness.
	prereqStalenessCapDays = 90.0

	// prereqDepthCap saturates the missing-chain depth feature.
	prereqDepthCap = 5.0

	// repeatStruggleCap saturates the repeated-struggle count.
	repeatStruggleCap = 3.0

	// scheduleLoadCap saturates schedule density (entries within ±2 days).
	scheduleLoadCap = 5.0

	// cadenceGapCapDays saturates the inter-session gap irregularity.
	cadenceGapCapDays = 7.0
)

// ─────────────────────────────────────────────────────────────────────────────
// Prerequisite readiness
// ─────────────────────────────────────────────────────────────────────────────

// buildPrerequisiteFeatures fills prereq_gap, prereq_depth, and
// prereq_staleness from the prerequisite closure and mastery states.
func buildPrerequisiteFeatures(v *features.Vector, closure []*objective.Objective, mastery map[shared.ObjectiveID]objective.MasteryState, now time.Time) {
	if len(closure) == 0 {
		// No prerequisites: the objective is fully reachable.
		v.Set(features.PrereqGap, 0)
		v.Set(features.PrereqDepth, 0)
		v.Set(features.PrereqStaleness, 0)
		return
	}

	missing := 0
	maxDepth := 0
	depth := map[shared.ObjectiveID]int{}
	var staleDays float64
	var masteredCount int

	for _, prereq := range closure {
		state, ok := mastery[prereq.ID]
		if !ok || !state.Mastered {
			missing++
			// Depth of a missing prerequisite is 1 + the max depth of its
			// own missing prerequisites seen so far. The closure is
			// ordered nearest-first, so parents resolve before children.
			d := 1
			for _, pp := range prereq.Prerequisites {
				if pd, seen := depth[pp]; seen && pd+1 > d {
					d = pd + 1
				}
			}
			depth[prereq.ID] = d
			if d > maxDepth {
				maxDepth = d
			}
			continue
		}
		masteredCount++
		if !state.LastTouchedAt.IsZero() {
			staleDays += now.Sub(state.LastTouchedAt).Hours() / 24
		}
	}

	v.Set(features.PrereqGap, float64(missing)/float64(len(closure)))
	v.Set(features.PrereqDepth, float64(maxDepth)/prereqDepthCap)
	if masteredCount > 0 {
		avgStale := staleDays / float64(masteredCount)
		v.Set(features.PrereqStaleness, avgStale/prereqStalenessCapDays)
	} else {
		v.Set(features.PrereqStaleness, 0)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Retention / performance
// ─────────────────────────────────────────────────────────────────────────────

// buildRetentionFeatures fills retention_score, recent_accuracy,
// lapse_rate, and performance_decline from the review time series.
// Returns the number of reviews consumed, which backs the confidence's
// sample count.
func buildRetentionFeatures(v *features.Vector, reviews []objective.Review, now time.Time) int {
	if len(reviews) == 0 {
		v.SetDefault(features.RetentionScore)
		v.SetDefault(features.RecentAccuracy)
		v.SetDefault(features.LapseRate)
		v.SetDefault(features.PerformanceDecline)
		return 0
	}

	sorted := make([]objective.Review, len(reviews))
	copy(sorted, reviews)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ReviewedAt.Before(sorted[j].ReviewedAt)
	})

	// Recency-weighted retention: exponential decay over review age.
	var weightedSum, weightTotal float64
	for _, r := range sorted {
		age := now.Sub(r.ReviewedAt)
		w := math.Exp(-age.Hours() / retentionHalfLife.Hours() * math.Ln2)
		weightedSum += w * r.Score
		weightTotal += w
	}
	if weightTotal > 0 {
		v.Set(features.RetentionScore, weightedSum/weightTotal)
	} else {
		v.SetDefault(features.RetentionScore)
	}

	// Accuracy and lapses over the latest window.
	recent := sorted
	if len(recent) > recentReviewWindow {
		recent = recent[len(recent)-recentReviewWindow:]
	}
	passed, lapses := 0, 0
	var recentScore float64
	for _, r := range recent {
		if r.Passed {
			passed++
		} else {
			lapses++
		}
		recentScore += r.Score
	}
	v.Set(features.RecentAccuracy, recentScore/float64(len(recent)))
	v.Set(features.LapseRate, float64(lapses)/float64(len(recent)))

	// Trend: mean score of the older half vs. the newer half.
	if len(sorted) >= 4 {
		mid := len(sorted) / 2
		older := meanScore(sorted[:mid])
		newer := meanScore(sorted[mid:])
		// A full-point drop maps to 1.0; improvement maps to 0.
		v.Set(features.PerformanceDecline, older-newer)
	} else {
		v.SetDefault(features.PerformanceDecline)
	}

	return len(sorted)
}

func meanScore(reviews []objective.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	var sum float64
	for _, r := range reviews {
		sum += r.Score
	}
	return sum / float64(len(reviews))
}

// ─────────────────────────────────────────────────────────────────────────────
// Historical struggle affinity
// ─────────────────────────────────────────────────────────────────────────────

// buildHistoryFeatures fills struggle_affinity and repeat_struggle from
// struggle records that share tags with the objective. Returns the number
// of matching records for the confidence sample count.
func buildHistoryFeatures(v *features.Vector, records []objective.StruggleRecord, tags []string) int {
	if len(records) == 0 || len(tags) == 0 {
		v.SetDefault(features.StruggleAffinity)
		v.SetDefault(features.RepeatStruggle)
		return 0
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tagSet[t] = struct{}{}
	}

	matched, struggled := 0, 0
	struggledPerTag := map[string]int{}
	for _, rec := range records {
		overlaps := false
		for _, t := range rec.Tags {
			if _, ok := tagSet[t]; ok {
				overlaps = true
				if rec.Struggled {
					struggledPerTag[t]++
				}
			}
		}
		if overlaps {
			matched++
			if rec.Struggled {
				struggled++
			}
		}
	}

	if matched == 0 {
		v.SetDefault(features.StruggleAffinity)
		v.SetDefault(features.RepeatStruggle)
		return 0
	}

	v.Set(features.StruggleAffinity, float64(struggled)/float64(matched))

	maxRepeat := 0
	for _, n := range struggledPerTag {
		if n > maxRepeat {
			maxRepeat = n
		}
	}
	// A single struggle is not a repeat; only the second and later count.
	repeat := float64(maxRepeat - 1)
	if repeat < 0 {
		repeat = 0
	}
	v.Set(features.RepeatStruggle, repeat/repeatStruggleCap)
	return matched
}

// ─────────────────────────────────────────────────────────────────────────────
// Complexity mismatch
// ─────────────────────────────────────────────────────────────────────────────

// buildComplexityFeatures fills complexity_gap and novelty.
func buildComplexityFeatures(v *features.Vector, obj *objective.Objective, profile *learner.Profile, records []objective.StruggleRecord) {
	if profile == nil || !profile.MasteryTier.IsValid() {
		v.SetDefault(features.ComplexityGap)
	} else {
		v.Set(features.ComplexityGap, profile.MasteryTier.GapTo(obj.Tier).Float64())
	}

	if len(obj.Tags) == 0 {
		v.SetDefault(features.Novelty)
		return
	}
	seen := map[string]struct{}{}
	for _, rec := range records {
		for _, t := range rec.Tags {
			seen[t] = struct{}{}
		}
	}
	unseen := 0
	for _, t := range obj.Tags {
		if _, ok := seen[t]; !ok {
			unseen++
		}
	}
	v.Set(features.Novelty, float64(unseen)/float64(len(obj.Tags)))
}

// ─────────────────────────────────────────────────────────────────────────────
// Engagement / context
// ─────────────────────────────────────────────────────────────────────────────

// buildEngagementFeatures fills cadence_drop, engagement_drop,
// time_misalignment, schedule_load, and calibration_error.
func buildEngagementFeatures(v *features.Vector, sessions []objective.SessionStat, profile *learner.Profile, entry objective.ScheduleEntry, schedule []objective.ScheduleEntry, now time.Time) {
	buildCadence(v, sessions, profile, now)

	// Time-of-day alignment of the planned slot with productive windows.
	switch {
	case profile == nil || !profile.HasPeakHours():
		v.SetDefault(features.TimeMisalignment)
	case entry.PlannedAt.IsZero():
		v.SetDefault(features.TimeMisalignment)
	case profile.InPeakHours(entry.PlannedAt):
		v.Set(features.TimeMisalignment, 0)
	default:
		v.Set(features.TimeMisalignment, 0.8)
	}

	// Density of the schedule around this entry.
	if len(schedule) == 0 {
		v.SetDefault(features.ScheduleLoad)
	} else {
		nearby := 0
		for _, other := range schedule {
			if other.ObjectiveID == entry.ObjectiveID {
				continue
			}
			gap := other.DueAt.Sub(entry.DueAt)
			if gap < 0 {
				gap = -gap
			}
			if gap <= 48*time.Hour {
				nearby++
			}
		}
		v.Set(features.ScheduleLoad, float64(nearby)/scheduleLoadCap)
	}

	if profile == nil {
		v.SetDefault(features.CalibrationError)
	} else {
		v.Set(features.CalibrationError, math.Abs(profile.SelfAssessmentBias))
	}
}

func buildCadence(v *features.Vector, sessions []objective.SessionStat, profile *learner.Profile, now time.Time) {
	if len(sessions) < 2 {
		v.SetDefault(features.CadenceDrop)
		v.SetDefault(features.EngagementDrop)
		return
	}

	sorted := make([]objective.SessionStat, len(sessions))
	copy(sorted, sessions)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})

	// Irregularity: standard deviation of inter-session gaps, in days.
	var gaps []float64
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].StartedAt.Sub(sorted[i-1].StartedAt).Hours()/24)
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	v.Set(features.CadenceDrop, math.Sqrt(variance)/cadenceGapCapDays)

	// Activity drop: sessions in the last week vs. the learner's baseline.
	weekAgo := now.AddDate(0, 0, -7)
	recentCount := 0
	for _, s := range sorted {
		if s.StartedAt.After(weekAgo) {
			recentCount++
		}
	}
	baseline := 0.0
	if profile != nil {
		baseline = profile.BaselineSessionsPerWeek
	}
	if baseline <= 0 {
		v.SetDefault(features.EngagementDrop)
		return
	}
	drop := 1 - float64(recentCount)/baseline
	if drop < 0 {
		drop = 0
	}
	v.Set(features.EngagementDrop, drop)
}
