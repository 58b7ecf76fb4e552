// Package intervention contains the closed catalogue of remediation actions
// the pipeline can recommend. The six variants are a fixed tagged set;
// tailoring adjusts parameters of an action from the learner's profile but
// never changes which variant applies.
package intervention

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVENTION TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type is the closed set of remediation variants.
type Type string

const (
	TypePrerequisiteReview    Type = "prerequisite-review"
	TypeDifficultyStepDown    Type = "difficulty-step-down"
	TypeFormatAdaptation      Type = "format-adaptation"
	TypeLoadReduction         Type = "load-reduction"
	TypeSpacedRepetitionBoost Type = "spaced-repetition-boost"
	TypeScheduleAdjustment    Type = "schedule-adjustment"
)

// AllTypes lists every variant in base-priority order.
func AllTypes() []Type {
	return []Type{
		TypePrerequisiteReview,
		TypeDifficultyStepDown,
		TypeSpacedRepetitionBoost,
		TypeFormatAdaptation,
		TypeScheduleAdjustment,
		TypeLoadReduction,
	}
}

// IsValid reports whether the type is one of the six variants.
func (t Type) IsValid() bool {
	switch t {
	case TypePrerequisiteReview, TypeDifficultyStepDown, TypeFormatAdaptation,
		TypeLoadReduction, TypeSpacedRepetitionBoost, TypeScheduleAdjustment:
		return true
	}
	return false
}

// basePriority is the static priority table (1-10, higher = more urgent).
// Tuned product constants; severity nudges them at recommendation time.
var basePriority = map[Type]int{
	TypePrerequisiteReview:    9,
	TypeDifficultyStepDown:    8,
	TypeSpacedRepetitionBoost: 7,
	TypeFormatAdaptation:      6,
	TypeScheduleAdjustment:    5,
	TypeLoadReduction:         4,
}

// BasePriority returns the static priority for a variant.
func BasePriority(t Type) int {
	return basePriority[t]
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// RecStatus is the one-directional lifecycle of a recommendation:
// proposed → applied or proposed → dismissed, nothing else.
type RecStatus string

const (
	StatusProposed  RecStatus = "proposed"
	StatusApplied   RecStatus = "applied"
	StatusDismissed RecStatus = "dismissed"
)

// IsValid reports whether the status is known.
func (s RecStatus) IsValid() bool {
	switch s {
	case StatusProposed, StatusApplied, StatusDismissed:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTION PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// ActionPayload is the machine-applicable instruction the curriculum
// generator applies verbatim. Action names the operation; Params carry
// its arguments. No free text is generated here.
type ActionPayload struct {
	// Action is the operation, e.g. "insert_before", "replace_with_easier",
	// "set_modality", "cap_session_minutes", "boost_review_frequency",
	// "shift_to_window".
	Action string `json:"action"`

	// TargetObjectiveID is the objective the action applies to.
	TargetObjectiveID shared.ObjectiveID `json:"target_objective_id"`

	// Params are the action's arguments, JSON-serializable.
	Params map[string]interface{} `json:"params,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Recommendation is a ranked, applicable remediation tied to one
// prediction. It cascades with its parent.
type Recommendation struct {
	ID           string
	PredictionID string
	LearnerID    shared.LearnerID

	Type     Type
	Priority int // 1-10, deterministic given type + context

	Payload ActionPayload

	// Rationale names the indicator(s) that triggered the recommendation.
	Rationale string

	Status RecStatus

	CreatedAt  time.Time
	AppliedAt  *time.Time
	DismissedAt *time.Time
}

// NewRecommendation creates a proposed recommendation.
func NewRecommendation(predictionID string, learnerID shared.LearnerID, t Type, priority int, payload ActionPayload, rationale string, now time.Time) (*Recommendation, error) {
	if !t.IsValid() {
		return nil, shared.NewDomainError("intervention", "Create", shared.ErrInvalidInput, "unknown intervention type "+string(t))
	}
	if priority < 1 || priority > 10 {
		return nil, shared.ErrInvalidPriority
	}
	return &Recommendation{
		ID:           uuid.NewString(),
		PredictionID: predictionID,
		LearnerID:    learnerID,
		Type:         t,
		Priority:     priority,
		Payload:      payload,
		Rationale:    rationale,
		Status:       StatusProposed,
		CreatedAt:    now,
	}, nil
}

// Apply transitions proposed → applied. Any other source state rejects.
func (r *Recommendation) Apply(now time.Time) error {
	if r.Status != StatusProposed {
		return shared.ErrInterventionFinal
	}
	r.Status = StatusApplied
	r.AppliedAt = &now
	return nil
}

// Dismiss transitions proposed → dismissed. Any other source state rejects.
func (r *Recommendation) Dismiss(now time.Time) error {
	if r.Status != StatusProposed {
		return shared.ErrInterventionFinal
	}
	r.Status = StatusDismissed
	r.DismissedAt = &now
	return nil
}
