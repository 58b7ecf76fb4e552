// Package objective holds the read-only collaborator types this core
// consumes from the curriculum subsystem: objective nodes with prerequisite
// edges and complexity tiers, mastery state, and the learner's upcoming
// schedule used to window detection runs.
package objective

import (
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// Objective is one node in the learning-objective graph.
type Objective struct {
	ID shared.ObjectiveID

	Title string

	// Tier is the objective's complexity level on the shared mastery scale.
	Tier shared.Tier

	// Prerequisites are the objective IDs that should be mastered first.
	Prerequisites []shared.ObjectiveID

	// Tags describe the topic family, used for struggle-affinity matching.
	Tags []string
}

// MasteryState is the learner's standing on a single objective.
type MasteryState struct {
	ObjectiveID shared.ObjectiveID
	Mastered    bool
	MasteredAt  time.Time
	// LastTouchedAt is the most recent review or study contact.
	LastTouchedAt time.Time
}

// ScheduleEntry is one upcoming item on the learner's study plan.
type ScheduleEntry struct {
	ObjectiveID shared.ObjectiveID
	DueAt       time.Time
	// PlannedAt is the slot the study session is scheduled into, when known.
	PlannedAt time.Time
}

// DaysUntilDue returns whole days from now until the entry is due,
// never negative. Overdue entries are maximally urgent.
func (e ScheduleEntry) DaysUntilDue(now time.Time) int {
	d := int(e.DueAt.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Review is one historical review observation for an objective.
type Review struct {
	ObjectiveID shared.ObjectiveID
	ReviewedAt  time.Time
	// Score is the normalized review outcome in [0,1].
	Score float64
	// Passed mirrors the upstream pass/fail judgment.
	Passed bool
}

// SessionStat is one study-session record used for cadence features.
type SessionStat struct {
	StartedAt time.Time
	Minutes   int
}

// StruggleRecord is a historical struggle observation on similar content,
// supplied by the curriculum subsystem for affinity features.
type StruggleRecord struct {
	ObjectiveID shared.ObjectiveID
	Tags        []string
	Struggled   bool
	ObservedAt  time.Time
}
