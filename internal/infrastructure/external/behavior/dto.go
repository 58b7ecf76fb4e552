package behavior

import (
	"time"

	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type profileDTO struct {
	PeakHours               []hourWindowDTO `json:"peak_hours"`
	PreferredSessionMinutes int             `json:"preferred_session_minutes"`
	PreferredModality       string          `json:"preferred_modality"`
	MasteryTier             string          `json:"mastery_tier"`
	BaselineSessionsPerWeek float64         `json:"baseline_sessions_per_week"`
	SelfAssessmentBias      float64         `json:"self_assessment_bias"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

type hourWindowDTO struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type privacyDTO struct {
	AnalysisEnabled bool      `json:"analysis_enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type historySpanDTO struct {
	FirstSeenAt  time.Time `json:"first_seen_at"`
	WeeksOfData  int       `json:"weeks_of_data"`
	SessionCount int       `json:"session_count"`
	ReviewCount  int       `json:"review_count"`
}

type reviewDTO struct {
	ObjectiveID string    `json:"objective_id"`
	ReviewedAt  time.Time `json:"reviewed_at"`
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
}

type sessionDTO struct {
	StartedAt time.Time `json:"started_at"`
	Minutes   int       `json:"minutes"`
}

type activeLearnersDTO struct {
	LearnerIDs []string `json:"learner_ids"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func (d profileDTO) toDomain(learnerID shared.LearnerID) *learner.Profile {
	windows := make([]learner.HourWindow, 0, len(d.PeakHours))
	for _, w := range d.PeakHours {
		windows = append(windows, learner.HourWindow{Start: w.Start, End: w.End})
	}

	return &learner.Profile{
		LearnerID:               learnerID,
		PeakHours:               windows,
		PreferredSessionMinutes: d.PreferredSessionMinutes,
		PreferredModality:       learner.Modality(d.PreferredModality),
		MasteryTier:             shared.ParseTier(d.MasteryTier),
		BaselineSessionsPerWeek: d.BaselineSessionsPerWeek,
		SelfAssessmentBias:      d.SelfAssessmentBias,
		UpdatedAt:               d.UpdatedAt,
	}
}

func (d privacyDTO) toDomain(learnerID shared.LearnerID) *learner.PrivacySettings {
	return &learner.PrivacySettings{
		LearnerID:       learnerID,
		AnalysisEnabled: d.AnalysisEnabled,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d historySpanDTO) toDomain(learnerID shared.LearnerID) learner.HistorySpan {
	return learner.HistorySpan{
		LearnerID:    learnerID,
		FirstSeenAt:  d.FirstSeenAt,
		WeeksOfData:  d.WeeksOfData,
		SessionCount: d.SessionCount,
		ReviewCount:  d.ReviewCount,
	}
}

func (d reviewDTO) toDomain() objective.Review {
	return objective.Review{
		ObjectiveID: shared.ObjectiveID(d.ObjectiveID),
		ReviewedAt:  d.ReviewedAt,
		Score:       d.Score,
		Passed:      d.Passed,
	}
}

func (d sessionDTO) toDomain() objective.SessionStat {
	return objective.SessionStat{
		StartedAt: d.StartedAt,
		Minutes:   d.Minutes,
	}
}
