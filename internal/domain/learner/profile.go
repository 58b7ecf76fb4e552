// Package learner holds the read-only collaborator types this core consumes
// about a learner: the behavioral-pattern profile, privacy settings, and the
// history span used for insufficient-data gating. These records are owned by
// the pattern-recognition subsystem; this core never writes them.
package learner

import (
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
)

// Modality is the learner's preferred content format.
type Modality string

const (
	ModalityVideo       Modality = "video"
	ModalityText        Modality = "text"
	ModalityInteractive Modality = "interactive"
	ModalityAudio       Modality = "audio"
)

// IsValid reports whether the modality is one of the known formats.
func (m Modality) IsValid() bool {
	switch m {
	case ModalityVideo, ModalityText, ModalityInteractive, ModalityAudio:
		return true
	}
	return false
}

// HourWindow is an inclusive range of hours-of-day [Start, End] in the
// learner's local timezone during which they are known to be productive.
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the given hour falls inside the window.
// Windows may wrap midnight (e.g. 22..02).
func (w HourWindow) Contains(hour int) bool {
	if w.Start <= w.End {
		return hour >= w.Start && hour <= w.End
	}
	return hour >= w.Start || hour <= w.End
}

// Profile is the behavioral-pattern profile from the pattern-recognition
// subsystem. All fields may be zero-valued when the upstream has not yet
// learned the pattern; consumers substitute documented defaults.
type Profile struct {
	LearnerID shared.LearnerID

	// PeakHours are the learner's productive time-of-day windows.
	PeakHours []HourWindow

	// PreferredSessionMinutes is the session length the learner sustains best.
	PreferredSessionMinutes int

	// PreferredModality is the content format the learner engages with most.
	PreferredModality Modality

	// MasteryTier is the learner's current overall mastery level.
	MasteryTier shared.Tier

	// BaselineSessionsPerWeek is the learner's established study cadence.
	BaselineSessionsPerWeek float64

	// SelfAssessmentBias is the signed gap between self-reported confidence
	// and measured performance, in [-1,1]. Positive means overconfident.
	SelfAssessmentBias float64

	UpdatedAt time.Time
}

// InPeakHours reports whether t falls inside any productive window.
// An empty window list means the pattern is unknown, not "never productive".
func (p *Profile) InPeakHours(t time.Time) bool {
	for _, w := range p.PeakHours {
		if w.Contains(t.Hour()) {
			return true
		}
	}
	return false
}

// HasPeakHours reports whether any productive windows are known.
func (p *Profile) HasPeakHours() bool {
	return len(p.PeakHours) > 0
}

// PrivacySettings carries the behavioral-analysis consent flag. When
// analysis is disabled the whole detection run short-circuits to an
// explicit disabled result; it is never treated as an error.
type PrivacySettings struct {
	LearnerID       shared.LearnerID
	AnalysisEnabled bool
	UpdatedAt       time.Time
}

// HistorySpan summarizes how much behavioral history exists for a learner.
// The detection engine refuses to predict below the configured floors and
// returns an insufficient-data result instead.
type HistorySpan struct {
	LearnerID    shared.LearnerID
	FirstSeenAt  time.Time
	WeeksOfData  int
	SessionCount int
	ReviewCount  int
}

// Meets reports whether the span clears the given floors.
func (h HistorySpan) Meets(minWeeks, minSessions, minReviews int) bool {
	return h.WeeksOfData >= minWeeks &&
		h.SessionCount >= minSessions &&
		h.ReviewCount >= minReviews
}
