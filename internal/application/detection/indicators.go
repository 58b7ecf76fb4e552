package detection

import (
	"fmt"
	"time"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/prediction"
)

// indicatorSource binds an indicator type to the vector entry that drives
// it. Signals already read as risk in [0,1] pass through; retention is the
// one protective feature and gets inverted first.
type indicatorSource struct {
	Type    prediction.IndicatorType
	Feature features.Name
	Invert  bool
}

var indicatorSources = []indicatorSource{
	{Type: prediction.IndicatorPrerequisiteGap, Feature: features.PrereqGap},
	{Type: prediction.IndicatorRetentionDecay, Feature: features.RetentionScore, Invert: true},
	{Type: prediction.IndicatorHistoricalPattern, Feature: features.StruggleAffinity},
	{Type: prediction.IndicatorComplexityMismatch, Feature: features.ComplexityGap},
	{Type: prediction.IndicatorEngagementDrop, Feature: features.EngagementDrop},
	{Type: prediction.IndicatorConfidenceMiscalibration, Feature: features.CalibrationError},
}

// deriveIndicators reads the vector and produces the typed warning signals
// that back a prediction. Signals below their type's lowest threshold
// produce nothing; a clean vector yields an empty slice.
func deriveIndicators(predictionID string, v *features.Vector, now time.Time) []*prediction.StruggleIndicator {
	out := make([]*prediction.StruggleIndicator, 0, len(indicatorSources))
	for _, src := range indicatorSources {
		signal := v.Get(src.Feature).Float64()
		if src.Invert {
			signal = 1 - signal
		}
		evidence := fmt.Sprintf("%s at %.0f%%", features.LabelOf(src.Feature), signal*100)
		if ind, ok := prediction.NewIndicator(predictionID, src.Type, src.Feature, signal, evidence, now); ok {
			out = append(out, ind)
		}
	}
	return out
}
