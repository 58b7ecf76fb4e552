// Package prediction contains the core domain model of the struggle
// prediction pipeline: the prediction entity and its lifecycle, the typed
// indicators that explain it, and learner feedback.
package prediction

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of a prediction.
//
// PENDING is the only open state. At most one PENDING prediction may exist
// per (learner, objective); re-running detection replaces the prior PENDING
// row. CONFIRMED and DISCONFIRMED are terminal for the outcome field, but
// feedback may still be attached afterwards.
type Status string

const (
	// StatusPending - awaiting the observed outcome.
	StatusPending Status = "pending"
	// StatusConfirmed - the learner did struggle with the objective.
	StatusConfirmed Status = "confirmed"
	// StatusDisconfirmed - the learner did not struggle.
	StatusDisconfirmed Status = "disconfirmed"
	// StatusSuperseded - replaced by a newer pending prediction before resolution.
	StatusSuperseded Status = "superseded"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDisconfirmed, StatusSuperseded:
		return true
	}
	return false
}

// IsTerminal reports whether the outcome field can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusDisconfirmed || s == StatusSuperseded
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTRIBUTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Contribution is one feature's share of the estimate: weight × value,
// signed. Positive pushes toward struggle, negative away from it.
type Contribution struct {
	Feature features.Name `json:"feature"`
	Value   float64       `json:"value"`
	Weight  float64       `json:"weight"`
	Share   float64       `json:"share"` // Weight * Value
	Reason  string        `json:"reason"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// StrugglePrediction is one probability estimate for one upcoming objective.
// It is immutable once resolved except for attached feedback, which lives
// on its own ledger.
type StrugglePrediction struct {
	ID          string
	LearnerID   shared.LearnerID
	ObjectiveID shared.ObjectiveID

	Probability shared.Probability
	Confidence  shared.Confidence
	DataQuality shared.DataQuality

	// TopContributions are the highest-|share| contributions, ranked.
	TopContributions []Contribution

	// Features is the full normalized vector snapshot the estimate was
	// scored on. Kept so resolved predictions become training examples.
	Features map[features.Name]float64

	// ModelVersion identifies the strategy and coefficient set that scored
	// this prediction, so accuracy reports can segment by model.
	ModelVersion string

	Status Status

	// PredictedFor is when the objective is due; the horizon the estimate
	// speaks to.
	PredictedFor time.Time

	// Struggled holds the observed outcome once resolved.
	Struggled  *bool
	ResolvedAt *time.Time

	CreatedAt time.Time
}

// New creates a PENDING prediction.
func New(learnerID shared.LearnerID, objectiveID shared.ObjectiveID, predictedFor, now time.Time) *StrugglePrediction {
	return &StrugglePrediction{
		ID:           uuid.NewString(),
		LearnerID:    learnerID,
		ObjectiveID:  objectiveID,
		Status:       StatusPending,
		PredictedFor: predictedFor,
		CreatedAt:    now,
	}
}

// Validate checks the prediction invariants.
func (p *StrugglePrediction) Validate() error {
	if p.ID == "" {
		return shared.NewDomainError("prediction", "Validate", shared.ErrEmptyValue, "missing prediction ID")
	}
	if !p.LearnerID.IsValid() {
		return shared.ErrInvalidLearnerID
	}
	if !p.ObjectiveID.IsValid() {
		return shared.ErrInvalidObjectiveID
	}
	if !p.Probability.IsValid() || !p.Confidence.IsValid() || !p.DataQuality.IsValid() {
		return shared.NewDomainError("prediction", "Validate", shared.ErrValueOutOfRange, "scores must be in [0,1]")
	}
	if !p.Status.IsValid() {
		return shared.NewDomainError("prediction", "Validate", shared.ErrInvalidState, "unknown status "+string(p.Status))
	}
	if p.PredictedFor.IsZero() {
		return shared.NewDomainError("prediction", "Validate", shared.ErrEmptyValue, "missing predicted-for date")
	}
	return nil
}

// Resolve records the observed outcome, transitioning PENDING to CONFIRMED
// (struggled) or DISCONFIRMED (did not). Terminal states reject a second
// resolution.
func (p *StrugglePrediction) Resolve(struggled bool, now time.Time) error {
	if p.Status.IsTerminal() {
		return shared.ErrPredictionResolved
	}
	if struggled {
		p.Status = StatusConfirmed
	} else {
		p.Status = StatusDisconfirmed
	}
	p.Struggled = &struggled
	p.ResolvedAt = &now
	return nil
}

// Supersede marks a still-pending prediction as replaced by a newer run.
func (p *StrugglePrediction) Supersede() error {
	if p.Status != StatusPending {
		return shared.ErrPredictionResolved
	}
	p.Status = StatusSuperseded
	return nil
}

// Correct reports whether the resolved outcome matched the estimate at the
// given decision threshold. Unresolved predictions report false.
func (p *StrugglePrediction) Correct(threshold float64) bool {
	if p.Struggled == nil {
		return false
	}
	predicted := p.Probability.Float64() >= threshold
	return predicted == *p.Struggled
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

// Alert is one entry of the bounded alert list a detection run returns.
// At most three alerts surface per run so the learner is never overwhelmed.
type Alert struct {
	PredictionID string
	LearnerID    shared.LearnerID
	ObjectiveID  shared.ObjectiveID

	// Composite is the ranking score:
	// 0.4·urgency + 0.3·confidence + 0.2·severity + 0.1·load.
	Composite float64

	Urgency    float64
	Confidence float64
	Severity   float64
	Load       float64

	DueAt   time.Time
	Message string
}
