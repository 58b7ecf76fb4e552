package detection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
)

func alertCandidate(id string, probability, confidence float64, dueAt time.Time) candidate {
	objectiveID := shared.ObjectiveID("obj-" + id)
	pred := &prediction.StrugglePrediction{
		ID:          id,
		LearnerID:   testLearner,
		ObjectiveID: objectiveID,
		Probability: shared.ClampUnit(probability),
		Confidence:  shared.ClampUnit(confidence),
	}
	return candidate{
		pred:   pred,
		vector: features.NewVector(testLearner, objectiveID, dueAt),
		dueAt:  dueAt,
	}
}

// Candidates below the probability floor never compete for an alert slot;
// the top-3 guarantee holds over the eligible set, not all predictions.
func TestBuildAlertsFloorGatesEligibility(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	candidates := make([]candidate, 0, 4)
	for i := 0; i < 4; i++ {
		candidates = append(candidates, alertCandidate(fmt.Sprintf("p%d", i), 0.55, 0.9, now.AddDate(0, 0, i+1)))
	}

	alerts := buildAlerts(candidates, DefaultAlertWeights(), 0.60, MaxAlerts, now)
	assert.Empty(t, alerts, "candidates below the floor must not alert")

	alerts = buildAlerts(candidates, DefaultAlertWeights(), 0, MaxAlerts, now)
	assert.Len(t, alerts, MaxAlerts, "with the floor off the top three alert")
}

func TestBuildAlertsExactTopThreeAboveFloor(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	dueAt := now.AddDate(0, 0, 3)

	// Equal urgency, severity, and load: confidence alone decides the
	// composite, so membership and order are fully determined.
	candidates := []candidate{
		alertCandidate("low", 0.55, 0.99, dueAt), // below floor despite top confidence
		alertCandidate("a", 0.70, 0.90, dueAt),
		alertCandidate("b", 0.70, 0.80, dueAt),
		alertCandidate("c", 0.70, 0.70, dueAt),
		alertCandidate("d", 0.70, 0.60, dueAt),
	}

	alerts := buildAlerts(candidates, DefaultAlertWeights(), 0.60, MaxAlerts, now)
	require.Len(t, alerts, MaxAlerts)

	got := []string{alerts[0].PredictionID, alerts[1].PredictionID, alerts[2].PredictionID}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
