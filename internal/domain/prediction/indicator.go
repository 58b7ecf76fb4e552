package prediction

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INDICATOR TYPES
// ══════════════════════════════════════════════════════════════════════════════

// IndicatorType is the closed set of typed warning signals that can back a
// prediction.
type IndicatorType string

const (
	IndicatorPrerequisiteGap          IndicatorType = "prerequisite-gap"
	IndicatorRetentionDecay           IndicatorType = "retention-decay"
	IndicatorHistoricalPattern        IndicatorType = "historical-pattern"
	IndicatorComplexityMismatch       IndicatorType = "complexity-mismatch"
	IndicatorEngagementDrop           IndicatorType = "engagement-drop"
	IndicatorConfidenceMiscalibration IndicatorType = "confidence-miscalibration"
)

// IsValid reports whether the type is one of the six known indicators.
func (t IndicatorType) IsValid() bool {
	switch t {
	case IndicatorPrerequisiteGap, IndicatorRetentionDecay, IndicatorHistoricalPattern,
		IndicatorComplexityMismatch, IndicatorEngagementDrop, IndicatorConfidenceMiscalibration:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SEVERITY
// ══════════════════════════════════════════════════════════════════════════════

// Severity ranks how strongly an indicator signal fires.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Numeric returns the severity encoded on [0,1] for alert ranking.
func (s Severity) Numeric() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// IsValid reports whether the severity is a known level.
func (s Severity) IsValid() bool {
	return s.Numeric() > 0
}

// thresholdRow defines the fixed severity cut points for one indicator.
// The driving signal must be at least the given value to fire that level.
type thresholdRow struct {
	Low      float64
	Medium   float64
	High     float64
	Critical float64
}

// severityTable is the fixed threshold table severities derive from.
// Values are tuned constants from the product, not derived invariants.
var severityTable = map[IndicatorType]thresholdRow{
	IndicatorPrerequisiteGap:          {Low: 0.25, Medium: 0.40, High: 0.60, Critical: 0.85},
	IndicatorRetentionDecay:           {Low: 0.30, Medium: 0.45, High: 0.65, Critical: 0.85},
	IndicatorHistoricalPattern:        {Low: 0.30, Medium: 0.50, High: 0.70, Critical: 0.90},
	IndicatorComplexityMismatch:       {Low: 0.25, Medium: 0.40, High: 0.65, Critical: 0.90},
	IndicatorEngagementDrop:           {Low: 0.30, Medium: 0.50, High: 0.70, Critical: 0.90},
	IndicatorConfidenceMiscalibration: {Low: 0.35, Medium: 0.55, High: 0.75, Critical: 0.90},
}

// SeverityFor maps a driving signal value to a severity for the given
// indicator type. ok is false when the signal is below the lowest cut
// point and no indicator should be derived at all.
func SeverityFor(t IndicatorType, signal float64) (Severity, bool) {
	row, known := severityTable[t]
	if !known {
		return "", false
	}
	switch {
	case signal >= row.Critical:
		return SeverityCritical, true
	case signal >= row.High:
		return SeverityHigh, true
	case signal >= row.Medium:
		return SeverityMedium, true
	case signal >= row.Low:
		return SeverityLow, true
	default:
		return "", false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// INDICATOR ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// StruggleIndicator is a typed warning signal backing exactly one
// prediction. It cascades with its parent.
type StruggleIndicator struct {
	ID           string
	PredictionID string

	Type     IndicatorType
	Severity Severity

	// Feature is the vector entry that drove the signal; Signal its value.
	Feature features.Name
	Signal  float64

	// Evidence is a short human-readable statement of what fired.
	Evidence string

	CreatedAt time.Time
}

// NewIndicator derives an indicator for a prediction, or ok=false when the
// signal is below the indicator's lowest threshold.
func NewIndicator(predictionID string, t IndicatorType, feature features.Name, signal float64, evidence string, now time.Time) (*StruggleIndicator, bool) {
	sev, ok := SeverityFor(t, signal)
	if !ok {
		return nil, false
	}
	return &StruggleIndicator{
		ID:           uuid.NewString(),
		PredictionID: predictionID,
		Type:         t,
		Severity:     sev,
		Feature:      feature,
		Signal:       signal,
		Evidence:     evidence,
		CreatedAt:    now,
	}, true
}

// Validate checks indicator invariants.
func (i *StruggleIndicator) Validate() error {
	if i.PredictionID == "" {
		return shared.NewDomainError("indicator", "Validate", shared.ErrEmptyValue, "indicator must reference a prediction")
	}
	if !i.Type.IsValid() {
		return shared.NewDomainError("indicator", "Validate", shared.ErrInvalidInput, "unknown indicator type "+string(i.Type))
	}
	if !i.Severity.IsValid() {
		return shared.NewDomainError("indicator", "Validate", shared.ErrInvalidInput, "unknown severity "+string(i.Severity))
	}
	if i.Signal < 0 || i.Signal > 1 {
		return shared.ErrFeatureOutOfRange
	}
	return nil
}

// MaxSeverity returns the highest severity across indicators, or 0 when
// the slice is empty. Used for the alert-ranking severity term.
func MaxSeverity(indicators []*StruggleIndicator) float64 {
	max := 0.0
	for _, ind := range indicators {
		if n := ind.Severity.Numeric(); n > max {
			max = n
		}
	}
	return max
}
