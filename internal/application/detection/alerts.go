package detection

import (
	"fmt"
	"sort"
	"time"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/prediction"
)

// AlertWeights are the composite-ranking weights. Product-tuned defaults;
// configurable, not derived.
type AlertWeights struct {
	Urgency    float64 `yaml:"urgency"`
	Confidence float64 `yaml:"confidence"`
	Severity   float64 `yaml:"severity"`
	Load       float64 `yaml:"load"`
}

// DefaultAlertWeights returns the tuned defaults.
func DefaultAlertWeights() AlertWeights {
	return AlertWeights{Urgency: 0.4, Confidence: 0.3, Severity: 0.2, Load: 0.1}
}

// MaxAlerts bounds how many alerts a single detection run surfaces.
const MaxAlerts = 3

// candidate is one scored objective eligible for alerting.
type candidate struct {
	pred       *prediction.StrugglePrediction
	indicators []*prediction.StruggleIndicator
	vector     *features.Vector
	dueAt      time.Time
}

// buildAlerts ranks high-risk candidates by the composite score and keeps
// the top maxAlerts. Ties break toward the earlier due date so imminent
// work wins.
func buildAlerts(candidates []candidate, w AlertWeights, floor float64, maxAlerts int, now time.Time) []prediction.Alert {
	alerts := make([]prediction.Alert, 0, len(candidates))
	for _, c := range candidates {
		if c.pred.Probability.Float64() < floor {
			continue
		}

		days := float64(0)
		if c.dueAt.After(now) {
			days = c.dueAt.Sub(now).Hours() / 24
		}
		urgency := 1 / (1 + days)
		severity := prediction.MaxSeverity(c.indicators)
		load := 0.5*c.vector.Get(features.ComplexityGap).Float64() +
			0.5*c.vector.Get(features.ScheduleLoad).Float64()
		confidence := c.pred.Confidence.Float64()

		alerts = append(alerts, prediction.Alert{
			PredictionID: c.pred.ID,
			LearnerID:    c.pred.LearnerID,
			ObjectiveID:  c.pred.ObjectiveID,
			Composite: w.Urgency*urgency + w.Confidence*confidence +
				w.Severity*severity + w.Load*load,
			Urgency:    urgency,
			Confidence: confidence,
			Severity:   severity,
			Load:       load,
			DueAt:      c.dueAt,
			Message:    alertMessage(c, now),
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Composite != alerts[j].Composite {
			return alerts[i].Composite > alerts[j].Composite
		}
		return alerts[i].DueAt.Before(alerts[j].DueAt)
	})

	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}
	return alerts
}

func alertMessage(c candidate, now time.Time) string {
	days := 0
	if c.dueAt.After(now) {
		days = int(c.dueAt.Sub(now).Hours() / 24)
	}
	lead := fmt.Sprintf("High struggle risk (%.0f%%) for objective %s",
		c.pred.Probability.Float64()*100, c.pred.ObjectiveID)
	switch {
	case days == 0:
		return lead + ", due today"
	case days == 1:
		return lead + ", due tomorrow"
	default:
		return fmt.Sprintf("%s, due in %d days", lead, days)
	}
}
