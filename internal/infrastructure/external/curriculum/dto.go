package curriculum

import (
	"time"

	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type objectiveDTO struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Tier          string   `json:"tier"`
	Prerequisites []string `json:"prerequisites"`
	Tags          []string `json:"tags"`
}

type masteryDTO struct {
	ObjectiveID   string     `json:"objective_id"`
	Mastered      bool       `json:"mastered"`
	MasteredAt    *time.Time `json:"mastered_at"`
	LastTouchedAt *time.Time `json:"last_touched_at"`
}

type scheduleEntryDTO struct {
	ObjectiveID string     `json:"objective_id"`
	DueAt       time.Time  `json:"due_at"`
	PlannedAt   *time.Time `json:"planned_at"`
}

type struggleRecordDTO struct {
	ObjectiveID string    `json:"objective_id"`
	Tags        []string  `json:"tags"`
	Struggled   bool      `json:"struggled"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (d objectiveDTO) toDomain() *objective.Objective {
	prereqs := make([]shared.ObjectiveID, 0, len(d.Prerequisites))
	for _, p := range d.Prerequisites {
		prereqs = append(prereqs, shared.ObjectiveID(p))
	}

	return &objective.Objective{
		ID:            shared.ObjectiveID(d.ID),
		Title:         d.Title,
		Tier:          shared.ParseTier(d.Tier),
		Prerequisites: prereqs,
		Tags:          d.Tags,
	}
}

func (d masteryDTO) toDomain() objective.MasteryState {
	state := objective.MasteryState{
		ObjectiveID: shared.ObjectiveID(d.ObjectiveID),
		Mastered:    d.Mastered,
	}
	if d.MasteredAt != nil {
		state.MasteredAt = *d.MasteredAt
	}
	if d.LastTouchedAt != nil {
		state.LastTouchedAt = *d.LastTouchedAt
	}
	return state
}

func (d scheduleEntryDTO) toDomain() objective.ScheduleEntry {
	entry := objective.ScheduleEntry{
		ObjectiveID: shared.ObjectiveID(d.ObjectiveID),
		DueAt:       d.DueAt,
	}
	if d.PlannedAt != nil {
		entry.PlannedAt = *d.PlannedAt
	}
	return entry
}

func (d struggleRecordDTO) toDomain() objective.StruggleRecord {
	return objective.StruggleRecord{
		ObjectiveID: shared.ObjectiveID(d.ObjectiveID),
		Tags:        d.Tags,
		Struggled:   d.Struggled,
		ObservedAt:  d.ObservedAt,
	}
}
