// Package intervention turns the indicators behind a prediction into
// ranked, machine-applicable recommendations and manages their
// proposed/applied/dismissed lifecycle.
package intervention

import (
	"context"
	"sort"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/domain/intervention"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// Engine produces and manages recommendations. Safe for concurrent use.
type Engine struct {
	curriculum extractor.CurriculumSource
	behavior   extractor.BehaviorSource
	repo       intervention.Repository
	publisher  shared.EventPublisher
	clock      timeutil.Clock
	log        *logger.Logger
}

// New creates an intervention Engine.
func New(
	curriculum extractor.CurriculumSource,
	behavior extractor.BehaviorSource,
	repo intervention.Repository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
) *Engine {
	return &Engine{
		curriculum: curriculum,
		behavior:   behavior,
		repo:       repo,
		publisher:  publisher,
		clock:      clock,
		log:        log.With(logger.Component("intervention")),
	}
}

// Recommend builds one recommendation per distinct indicator type behind a
// prediction, tailored to the learner's profile, ranked by priority
// descending, and persists the batch. An indicator set that maps to no
// variant yields an empty batch, not an error.
func (e *Engine) Recommend(ctx context.Context, pred *prediction.StrugglePrediction, indicators []*prediction.StruggleIndicator) ([]*intervention.Recommendation, error) {
	if pred == nil {
		return nil, shared.NewDomainError("intervention", "Recommend", shared.ErrEmptyValue, "nil prediction")
	}
	now := e.clock.Now()

	tc := e.tailorContext(ctx, pred)

	// One recommendation per variant; when several indicators map to the
	// same variant the most severe one wins.
	strongest := make(map[intervention.Type]*prediction.StruggleIndicator, len(indicators))
	for _, ind := range indicators {
		variant, ok := variantFor[ind.Type]
		if !ok {
			continue
		}
		if prior, seen := strongest[variant]; !seen || ind.Severity.Numeric() > prior.Severity.Numeric() {
			strongest[variant] = ind
		}
	}

	recs := make([]*intervention.Recommendation, 0, len(strongest))
	for variant, ind := range strongest {
		rec, err := intervention.NewRecommendation(
			pred.ID,
			pred.LearnerID,
			variant,
			priorityFor(variant, ind.Severity),
			Tailor(variant, tc),
			rationaleFor(ind),
			now,
		)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Priority != recs[j].Priority {
			return recs[i].Priority > recs[j].Priority
		}
		return recs[i].Type < recs[j].Type
	})

	if len(recs) == 0 {
		return recs, nil
	}

	if err := e.repo.SaveAll(ctx, recs); err != nil {
		return nil, shared.WrapError("intervention", "Recommend", shared.ErrUpstream, "persisting recommendations", err)
	}

	e.publish(shared.InterventionProposedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventInterventionProposed, pred.ID),
		LearnerID:    string(pred.LearnerID),
		PredictionID: pred.ID,
		Count:        len(recs),
	})

	e.log.Info("recommendations proposed",
		logger.LearnerID(string(pred.LearnerID)),
		logger.PredictionID(pred.ID),
		logger.Int("count", len(recs)))

	return recs, nil
}

// Apply transitions a proposed recommendation to applied and emits the
// event the curriculum generator listens for.
func (e *Engine) Apply(ctx context.Context, id string) (*intervention.Recommendation, error) {
	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.Apply(e.clock.Now()); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateStatus(ctx, rec); err != nil {
		return nil, err
	}

	e.publish(shared.InterventionAppliedEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventInterventionApplied, rec.ID),
		LearnerID:        string(rec.LearnerID),
		InterventionType: string(rec.Type),
	})
	return rec, nil
}

// Dismiss transitions a proposed recommendation to dismissed.
func (e *Engine) Dismiss(ctx context.Context, id string) (*intervention.Recommendation, error) {
	rec, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := rec.Dismiss(e.clock.Now()); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateStatus(ctx, rec); err != nil {
		return nil, err
	}

	e.publish(shared.InterventionDismissedEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventInterventionDismissed, rec.ID),
		LearnerID:        string(rec.LearnerID),
		InterventionType: string(rec.Type),
	})
	return rec, nil
}

// ListForLearner returns a learner's recommendations, priority-ordered.
func (e *Engine) ListForLearner(ctx context.Context, learnerID shared.LearnerID, f intervention.Filter) ([]*intervention.Recommendation, error) {
	if !learnerID.IsValid() {
		return nil, shared.ErrInvalidLearnerID
	}
	return e.repo.ListByLearner(ctx, learnerID, f)
}

// tailorContext assembles the profile and prerequisite context tailoring
// reads. Upstream failures degrade to fallback tailoring, never abort.
func (e *Engine) tailorContext(ctx context.Context, pred *prediction.StrugglePrediction) TailorContext {
	tc := TailorContext{ObjectiveID: pred.ObjectiveID, DueAt: pred.PredictedFor}

	profile, err := e.behavior.Profile(ctx, pred.LearnerID)
	if err != nil {
		e.log.Warn("profile unavailable, tailoring with fallbacks",
			logger.LearnerID(string(pred.LearnerID)), logger.Err(err))
	} else {
		tc.Profile = profile
	}

	closure, err := e.curriculum.PrerequisiteClosure(ctx, pred.ObjectiveID)
	if err != nil {
		e.log.Warn("prerequisite closure unavailable",
			logger.ObjectiveID(string(pred.ObjectiveID)), logger.Err(err))
		return tc
	}
	mastery, err := e.curriculum.MasteryStates(ctx, pred.LearnerID)
	if err != nil {
		e.log.Warn("mastery states unavailable",
			logger.LearnerID(string(pred.LearnerID)), logger.Err(err))
		return tc
	}
	for _, prereq := range closure {
		if !mastery[prereq.ID].Mastered {
			tc.MissingPrerequisites = append(tc.MissingPrerequisites, prereq.ID)
		}
	}
	return tc
}

func (e *Engine) publish(event shared.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(event); err != nil {
		e.log.Warn("event publish failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err))
	}
}
