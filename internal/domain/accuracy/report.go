package accuracy

import (
	"context"
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// Window selects how far back a report looks.
type Window string

const (
	Window7d  Window = "7d"
	Window30d Window = "30d"
	Window90d Window = "90d"
	WindowAll Window = "all"
)

// ParseWindow parses a window from its wire form. Empty defaults to 30d.
func ParseWindow(s string) (Window, error) {
	switch s {
	case "":
		return Window30d, nil
	case "7d", "30d", "90d", "all":
		return Window(s), nil
	default:
		return "", shared.ErrInvalidWindow
	}
}

// Days returns the window span in days, 0 meaning unbounded.
func (w Window) Days() int {
	switch w {
	case Window7d:
		return 7
	case Window30d:
		return 30
	case Window90d:
		return 90
	default:
		return 0
	}
}

// Since returns the cutoff timestamp for the window, zero when unbounded.
func (w Window) Since(now time.Time) time.Time {
	d := w.Days()
	if d == 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -d)
}

// Report is a point-in-time aggregate over the resolved-prediction ledger.
// It is a derived view: recomputed on demand, never persisted as ground
// truth and never incrementally mutated.
type Report struct {
	Scope  string `json:"scope"` // "global" or a learner ID
	Window Window `json:"window"`

	SampleCount int `json:"sample_count"`

	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`

	// EffectiveAccuracy discounts accuracy by the rate of "inaccurate"
	// learner feedback on confirmed predictions, so learner-reported
	// misses weigh in even when the outcome label agreed with the model.
	EffectiveAccuracy float64 `json:"effective_accuracy"`

	Confusion       ConfusionMatrix  `json:"confusion"`
	CalibrationBins []CalibrationBin `json:"calibration_bins"`
	MaxCalibration  float64          `json:"max_calibration_gap"`
	BrierScore      float64          `json:"brier_score"`

	GeneratedAt time.Time `json:"generated_at"`
}

// LedgerEntry is one resolved prediction joined with its feedback tallies,
// as read from the ledger for report computation.
type LedgerEntry struct {
	PredictionID    string
	LearnerID       shared.LearnerID
	Probability     float64
	Struggled       bool
	ResolvedAt      time.Time
	InaccurateCount int
}

// Ledger is the read contract the tracker computes reports from.
// Implemented by postgres.LedgerRepository.
type Ledger interface {
	// Resolved returns resolved predictions in the window, optionally
	// scoped to one learner (empty scope = global).
	Resolved(ctx context.Context, scope shared.LearnerID, since time.Time) ([]LedgerEntry, error)

	// AppendTrainingExample stores a labelled feature snapshot for the
	// trainer. Written on resolution and on inaccurate feedback.
	AppendTrainingExample(ctx context.Context, ex TrainingExample) error

	// TrainingExamples returns up to limit most recent labelled examples.
	TrainingExamples(ctx context.Context, limit int) ([]TrainingExample, error)
}

// TrainingExample is one labelled feature snapshot the trainer fits on.
type TrainingExample struct {
	PredictionID string
	LearnerID    shared.LearnerID
	Features     map[string]float64
	Struggled    bool
	// Source records what produced the label: "outcome" or "feedback".
	Source    string
	CreatedAt time.Time
}
