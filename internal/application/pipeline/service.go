// Package pipeline is the transport-agnostic surface of the struggle
// pipeline. HTTP handlers and scheduler jobs both call through here, so
// gatekeeping and composition live in one place.
package pipeline

import (
	"context"
	"time"

	appaccuracy "github.com/learnloop/insight/internal/application/accuracy"
	appdetection "github.com/learnloop/insight/internal/application/detection"
	appintervention "github.com/learnloop/insight/internal/application/intervention"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/intervention"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
)

// Gate answers per-learner availability of optional pipeline behavior.
// Backed by the feature-flag registry in production; a nil gate leaves
// everything enabled.
type Gate interface {
	// OnDemandDetection reports whether learner-triggered runs are on.
	OnDemandDetection(learnerID shared.LearnerID) bool

	// InterventionProposals reports whether a detection run proposes
	// recommendations for its predictions.
	InterventionProposals(learnerID shared.LearnerID) bool
}

// DetectionOutcome is one full pipeline pass: predictions, their alerts,
// and the recommendations proposed for each.
type DetectionOutcome struct {
	Run *appdetection.RunResult

	// Recommendations is keyed by prediction ID.
	Recommendations map[string][]*intervention.Recommendation
}

// Service composes the engines behind the pipeline's public operations.
type Service struct {
	detection     *appdetection.Engine
	interventions *appintervention.Engine
	tracker       *appaccuracy.Tracker
	predictions   prediction.Repository
	gate          Gate
	log           *logger.Logger
}

// New creates a Service. A nil gate enables every optional behavior.
func New(
	detection *appdetection.Engine,
	interventions *appintervention.Engine,
	tracker *appaccuracy.Tracker,
	predictions prediction.Repository,
	gate Gate,
	log *logger.Logger,
) *Service {
	return &Service{
		detection:     detection,
		interventions: interventions,
		tracker:       tracker,
		predictions:   predictions,
		gate:          gate,
		log:           log.With(logger.Component("pipeline")),
	}
}

func (s *Service) onDemandAllowed(learnerID shared.LearnerID) bool {
	return s.gate == nil || s.gate.OnDemandDetection(learnerID)
}

func (s *Service) proposalsAllowed(learnerID shared.LearnerID) bool {
	return s.gate == nil || s.gate.InterventionProposals(learnerID)
}

// Detect runs detection for a learner and proposes interventions for every
// resulting prediction. A skipped run carries no predictions and proposes
// nothing. Recommendation failures degrade: the predictions stand, the
// failing prediction just goes without proposals.
func (s *Service) Detect(ctx context.Context, learnerID shared.LearnerID, onDemand bool) (*DetectionOutcome, error) {
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	if onDemand && !s.onDemandAllowed(learnerID) {
		s.log.Info("on-demand detection disabled", logger.LearnerID(string(learnerID)))
		return &DetectionOutcome{
			Run: &appdetection.RunResult{
				LearnerID:  learnerID,
				Skipped:    true,
				SkipReason: appdetection.SkipOnDemandDisabled,
				Indicators: map[string][]*prediction.StruggleIndicator{},
				RanAt:      time.Now(),
			},
			Recommendations: map[string][]*intervention.Recommendation{},
		}, nil
	}

	run, err := s.detection.Run(ctx, learnerID, appdetection.RunOptions{OnDemand: onDemand})
	if err != nil {
		return nil, err
	}

	outcome := &DetectionOutcome{
		Run:             run,
		Recommendations: make(map[string][]*intervention.Recommendation, len(run.Predictions)),
	}
	if !s.proposalsAllowed(learnerID) {
		return outcome, nil
	}
	for _, pred := range run.Predictions {
		recs, err := s.interventions.Recommend(ctx, pred, run.Indicators[pred.ID])
		if err != nil {
			s.log.Warn("recommendations unavailable",
				logger.PredictionID(pred.ID), logger.Err(err))
			continue
		}
		if len(recs) > 0 {
			outcome.Recommendations[pred.ID] = recs
		}
	}
	return outcome, nil
}

// Predictions lists a learner's predictions.
func (s *Service) Predictions(ctx context.Context, learnerID shared.LearnerID, f prediction.Filter) ([]*prediction.StrugglePrediction, error) {
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	return s.predictions.ListByLearner(ctx, learnerID, f)
}

// Prediction returns one prediction with its indicators.
func (s *Service) Prediction(ctx context.Context, id string) (*prediction.StrugglePrediction, []*prediction.StruggleIndicator, error) {
	return s.predictions.GetByID(ctx, id)
}

// RecordOutcome resolves a prediction against the observed result.
func (s *Service) RecordOutcome(ctx context.Context, predictionID string, struggled bool) (*prediction.StrugglePrediction, error) {
	return s.tracker.RecordOutcome(ctx, predictionID, struggled)
}

// RecordFeedback appends a learner judgment to a prediction.
func (s *Service) RecordFeedback(ctx context.Context, predictionID string, ft prediction.FeedbackType, note string) (*prediction.Feedback, error) {
	return s.tracker.RecordFeedback(ctx, predictionID, ft, note)
}

// Report computes an accuracy report. Empty scope means global.
func (s *Service) Report(ctx context.Context, scope shared.LearnerID, window accuracy.Window) (*accuracy.Report, error) {
	return s.tracker.Report(ctx, scope, window)
}

// Interventions lists a learner's recommendations.
func (s *Service) Interventions(ctx context.Context, learnerID shared.LearnerID, f intervention.Filter) ([]*intervention.Recommendation, error) {
	return s.interventions.ListForLearner(ctx, learnerID, f)
}

// ApplyIntervention transitions a recommendation to applied.
func (s *Service) ApplyIntervention(ctx context.Context, id string) (*intervention.Recommendation, error) {
	return s.interventions.Apply(ctx, id)
}

// DismissIntervention transitions a recommendation to dismissed.
func (s *Service) DismissIntervention(ctx context.Context, id string) (*intervention.Recommendation, error) {
	return s.interventions.Dismiss(ctx, id)
}
