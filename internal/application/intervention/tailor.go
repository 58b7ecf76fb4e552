package intervention

import (
	"fmt"
	"time"

	"github.com/learnloop/insight/internal/domain/intervention"
	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
)

// variantFor maps each indicator type to the single intervention variant
// that addresses it. The catalogue is closed; new signals get a row here,
// never a subclass.
var variantFor = map[prediction.IndicatorType]intervention.Type{
	prediction.IndicatorPrerequisiteGap:          intervention.TypePrerequisiteReview,
	prediction.IndicatorComplexityMismatch:       intervention.TypeDifficultyStepDown,
	prediction.IndicatorRetentionDecay:           intervention.TypeSpacedRepetitionBoost,
	prediction.IndicatorHistoricalPattern:        intervention.TypeFormatAdaptation,
	prediction.IndicatorEngagementDrop:           intervention.TypeScheduleAdjustment,
	prediction.IndicatorConfidenceMiscalibration: intervention.TypeLoadReduction,
}

// priorityFor nudges the variant's base priority by indicator severity:
// critical raises by one, low lowers by one, result clamped to [1,10].
func priorityFor(t intervention.Type, severity prediction.Severity) int {
	p := intervention.BasePriority(t)
	switch severity {
	case prediction.SeverityCritical:
		p++
	case prediction.SeverityLow:
		p--
	}
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// TailorContext carries everything tailoring may draw on. Profile fields
// may be zero-valued; tailoring substitutes documented fallbacks.
type TailorContext struct {
	ObjectiveID shared.ObjectiveID
	Profile     *learner.Profile

	// MissingPrerequisites are the unmastered prerequisites, nearest first.
	MissingPrerequisites []shared.ObjectiveID

	DueAt time.Time
}

// Tailoring fallbacks for learners whose profile the upstream has not yet
// learned.
const (
	fallbackSessionMinutes = 25
	fallbackWindowStart    = 9
	fallbackWindowEnd      = 11
)

var fallbackModality = learner.ModalityInteractive

// Tailor produces the machine-applicable action payload for one variant.
// Pure: same variant and context always yield the same payload.
func Tailor(t intervention.Type, tc TailorContext) intervention.ActionPayload {
	payload := intervention.ActionPayload{TargetObjectiveID: tc.ObjectiveID}

	switch t {
	case intervention.TypePrerequisiteReview:
		payload.Action = "insert_before"
		ids := make([]string, 0, len(tc.MissingPrerequisites))
		for _, id := range tc.MissingPrerequisites {
			ids = append(ids, string(id))
		}
		payload.Params = map[string]interface{}{
			"prerequisite_ids": ids,
		}

	case intervention.TypeDifficultyStepDown:
		maxTier := shared.TierBeginner
		if tc.Profile != nil && tc.Profile.MasteryTier.IsValid() {
			maxTier = tc.Profile.MasteryTier
		}
		payload.Action = "replace_with_easier"
		payload.Params = map[string]interface{}{
			"max_tier": maxTier.String(),
		}

	case intervention.TypeSpacedRepetitionBoost:
		payload.Action = "boost_review_frequency"
		payload.Params = map[string]interface{}{
			"multiplier": 1.5,
			"days":       14,
		}

	case intervention.TypeFormatAdaptation:
		modality := fallbackModality
		if tc.Profile != nil && tc.Profile.PreferredModality.IsValid() {
			modality = tc.Profile.PreferredModality
		}
		payload.Action = "set_modality"
		payload.Params = map[string]interface{}{
			"modality": string(modality),
		}

	case intervention.TypeScheduleAdjustment:
		start, end := fallbackWindowStart, fallbackWindowEnd
		if tc.Profile != nil && tc.Profile.HasPeakHours() {
			start, end = tc.Profile.PeakHours[0].Start, tc.Profile.PeakHours[0].End
		}
		payload.Action = "shift_to_window"
		payload.Params = map[string]interface{}{
			"window_start_hour": start,
			"window_end_hour":   end,
		}

	case intervention.TypeLoadReduction:
		minutes := fallbackSessionMinutes
		if tc.Profile != nil && tc.Profile.PreferredSessionMinutes > 0 {
			minutes = tc.Profile.PreferredSessionMinutes
		}
		payload.Action = "cap_session_minutes"
		payload.Params = map[string]interface{}{
			"minutes": minutes,
		}
	}

	return payload
}

// rationaleFor names what triggered the recommendation.
func rationaleFor(ind *prediction.StruggleIndicator) string {
	return fmt.Sprintf("%s indicator at %s severity: %s", ind.Type, ind.Severity, ind.Evidence)
}
