// Package extractor builds the normalized feature vector for a
// (learner, objective) pair from collaborator signals. It owns the tiered
// read-through caching that bounds the cost of repeated extraction across
// many objectives per detection run.
package extractor

import (
	"context"
	"time"

	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
)

// CurriculumSource reads the learning-objective graph and the learner's
// standing in it. Owned by the curriculum subsystem; read-only here.
// Implementations handle their own retries and circuit breaking - any
// error surfacing here means the read was abandoned and the extractor
// substitutes documented defaults.
type CurriculumSource interface {
	// Objective returns one graph node. Unknown IDs return
	// shared.ErrUnknownObjective - the single hard validation failure
	// of extraction.
	Objective(ctx context.Context, id shared.ObjectiveID) (*objective.Objective, error)

	// PrerequisiteClosure returns the transitive prerequisite set of an
	// objective, nearest first.
	PrerequisiteClosure(ctx context.Context, id shared.ObjectiveID) ([]*objective.Objective, error)

	// MasteryStates returns the learner's standing per objective.
	MasteryStates(ctx context.Context, learnerID shared.LearnerID) (map[shared.ObjectiveID]objective.MasteryState, error)

	// UpcomingSchedule returns schedule entries due within horizonDays.
	UpcomingSchedule(ctx context.Context, learnerID shared.LearnerID, horizonDays int) ([]objective.ScheduleEntry, error)

	// StruggleHistory returns historical struggle observations for
	// affinity features.
	StruggleHistory(ctx context.Context, learnerID shared.LearnerID) ([]objective.StruggleRecord, error)
}

// BehaviorSource reads behavioral signals owned by the pattern-recognition
// subsystem: profile, privacy consent, history span, reviews, sessions.
type BehaviorSource interface {
	// Profile returns the behavioral-pattern profile.
	Profile(ctx context.Context, learnerID shared.LearnerID) (*learner.Profile, error)

	// Privacy returns the behavioral-analysis consent flag.
	Privacy(ctx context.Context, learnerID shared.LearnerID) (*learner.PrivacySettings, error)

	// HistorySpan summarizes how much history exists for the learner.
	HistorySpan(ctx context.Context, learnerID shared.LearnerID) (learner.HistorySpan, error)

	// Reviews returns review observations since the given time.
	Reviews(ctx context.Context, learnerID shared.LearnerID, since time.Time) ([]objective.Review, error)

	// Sessions returns study-session records since the given time.
	Sessions(ctx context.Context, learnerID shared.LearnerID, since time.Time) ([]objective.SessionStat, error)
}
