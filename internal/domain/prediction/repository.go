package prediction

import (
	"context"
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// Filter narrows prediction listings.
type Filter struct {
	Status      Status
	ObjectiveID shared.ObjectiveID
	Since       time.Time
	Limit       int
}

// Repository is the persistence contract for predictions and their
// cascading indicators. Implemented by postgres.PredictionRepository.
type Repository interface {
	// ReplacePending persists a new PENDING prediction, superseding any
	// prior PENDING row for the same (learner, objective). Returns whether
	// a prior row was replaced.
	ReplacePending(ctx context.Context, p *StrugglePrediction, indicators []*StruggleIndicator) (replaced bool, err error)

	// GetByID returns a prediction with its indicators.
	GetByID(ctx context.Context, id string) (*StrugglePrediction, []*StruggleIndicator, error)

	// ListByLearner returns a learner's predictions matching the filter,
	// newest first.
	ListByLearner(ctx context.Context, learnerID shared.LearnerID, f Filter) ([]*StrugglePrediction, error)

	// PendingByLearner returns all PENDING predictions for a learner.
	PendingByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*StrugglePrediction, error)

	// Resolve transitions a PENDING prediction to its terminal outcome
	// state. Terminal rows return shared.ErrPredictionResolved.
	Resolve(ctx context.Context, id string, struggled bool, resolvedAt time.Time) error

	// IndicatorsFor returns the indicators backing a prediction.
	IndicatorsFor(ctx context.Context, predictionID string) ([]*StruggleIndicator, error)
}

// FeedbackRepository is the append-only persistence contract for feedback.
type FeedbackRepository interface {
	// Append stores a feedback entry. Entries are never updated or deleted.
	Append(ctx context.Context, f *Feedback) error

	// ListByPrediction returns all feedback for a prediction, oldest first.
	ListByPrediction(ctx context.Context, predictionID string) ([]*Feedback, error)

	// CountByType tallies feedback of a given type within a window,
	// used by accuracy reporting.
	CountByType(ctx context.Context, t FeedbackType, since time.Time) (int, error)
}
