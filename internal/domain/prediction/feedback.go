package prediction

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/insight/internal/domain/shared"
)

// FeedbackType is the closed set of learner judgments on a prediction.
type FeedbackType string

const (
	FeedbackHelpful          FeedbackType = "helpful"
	FeedbackNotHelpful       FeedbackType = "not-helpful"
	FeedbackInaccurate       FeedbackType = "inaccurate"
	FeedbackInterventionGood FeedbackType = "intervention-good"
	FeedbackInterventionBad  FeedbackType = "intervention-bad"
)

// IsValid reports whether the feedback type is known.
func (t FeedbackType) IsValid() bool {
	switch t {
	case FeedbackHelpful, FeedbackNotHelpful, FeedbackInaccurate,
		FeedbackInterventionGood, FeedbackInterventionBad:
		return true
	}
	return false
}

// ParseFeedbackType parses a feedback type from its wire form.
func ParseFeedbackType(s string) (FeedbackType, error) {
	t := FeedbackType(s)
	if !t.IsValid() {
		return "", shared.ErrInvalidFeedbackType
	}
	return t, nil
}

// Feedback is one learner-supplied judgment on a prediction. Feedback is
// owned by the learner, independently appendable, allowed at any time
// including after resolution, and never mutates the prediction itself.
type Feedback struct {
	ID           string
	PredictionID string
	LearnerID    shared.LearnerID

	Type FeedbackType
	Note string

	CreatedAt time.Time
}

// NewFeedback creates a feedback entry for a prediction.
func NewFeedback(predictionID string, learnerID shared.LearnerID, t FeedbackType, note string, now time.Time) (*Feedback, error) {
	if predictionID == "" {
		return nil, shared.NewDomainError("feedback", "Create", shared.ErrEmptyValue, "feedback must reference a prediction")
	}
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	if !t.IsValid() {
		return nil, shared.ErrInvalidFeedbackType
	}
	return &Feedback{
		ID:           uuid.NewString(),
		PredictionID: predictionID,
		LearnerID:    learnerID,
		Type:         t,
		Note:         note,
		CreatedAt:    now,
	}, nil
}
