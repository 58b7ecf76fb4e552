package intervention

import (
	"context"

	"github.com/learnloop/insight/internal/domain/shared"
)

// Filter narrows recommendation listings.
type Filter struct {
	Status RecStatus
	Type   Type
	Limit  int
}

// Repository is the persistence contract for recommendations.
// Implemented by postgres.InterventionRepository.
type Repository interface {
	// SaveAll persists a batch of proposed recommendations.
	SaveAll(ctx context.Context, recs []*Recommendation) error

	// GetByID returns a recommendation.
	GetByID(ctx context.Context, id string) (*Recommendation, error)

	// ListByLearner returns a learner's recommendations matching the
	// filter, priority-ordered then newest first.
	ListByLearner(ctx context.Context, learnerID shared.LearnerID, f Filter) ([]*Recommendation, error)

	// UpdateStatus persists a proposed → applied/dismissed transition.
	// The transition itself is validated on the entity.
	UpdateStatus(ctx context.Context, rec *Recommendation) error

	// SupersedeByPrediction dismisses the proposed recommendations of a
	// superseded prediction so they cascade with their parent.
	SupersedeByPrediction(ctx context.Context, predictionID string) error
}
