package behavior

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/shared"
)

func TestProfileDTO_Parsing(t *testing.T) {
	jsonData := `{
    "peak_hours": [{"start": 6, "end": 9}, {"start": 20, "end": 22}],
    "preferred_session_minutes": 45,
    "preferred_modality": "video",
    "mastery_tier": "intermediate",
    "baseline_sessions_per_week": 4.5,
    "self_assessment_bias": 0.2,
    "updated_at": "2026-03-01T10:00:00Z"
}`

	var dto profileDTO
	err := json.Unmarshal([]byte(jsonData), &dto)
	require.NoError(t, err)

	profile := dto.toDomain("learner-1")
	assert.Equal(t, shared.LearnerID("learner-1"), profile.LearnerID)
	assert.Equal(t, []learner.HourWindow{{Start: 6, End: 9}, {Start: 20, End: 22}}, profile.PeakHours)
	assert.Equal(t, 45, profile.PreferredSessionMinutes)
	assert.Equal(t, learner.ModalityVideo, profile.PreferredModality)
	assert.Equal(t, shared.TierIntermediate, profile.MasteryTier)
	assert.InDelta(t, 4.5, profile.BaselineSessionsPerWeek, 1e-9)
	assert.InDelta(t, 0.2, profile.SelfAssessmentBias, 1e-9)
}

func TestClient_Profile_UnknownLearnerDefaultsToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	profile, err := client.Profile(context.Background(), "learner-new")
	require.NoError(t, err)
	assert.Equal(t, shared.LearnerID("learner-new"), profile.LearnerID)
	assert.False(t, profile.HasPeakHours())
	assert.Zero(t, profile.BaselineSessionsPerWeek)
}

func TestClient_Privacy_DefaultsToEnabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	privacy, err := client.Privacy(context.Background(), "learner-new")
	require.NoError(t, err)
	assert.True(t, privacy.AnalysisEnabled)
}

func TestClient_Privacy_OptedOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/learners/learner-1/privacy", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(privacyDTO{AnalysisEnabled: false})
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	privacy, err := client.Privacy(context.Background(), "learner-1")
	require.NoError(t, err)
	assert.False(t, privacy.AnalysisEnabled)
}

func TestClient_HistorySpan_UnknownLearnerFailsFloors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	span, err := client.HistorySpan(context.Background(), "learner-new")
	require.NoError(t, err)
	assert.False(t, span.Meets(2, 5, 10))
}

func TestClient_Reviews_SinceQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/learners/learner-1/reviews", r.URL.Path)
		assert.Equal(t, "2026-02-01T00:00:00Z", r.URL.Query().Get("since"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]reviewDTO{
			{ObjectiveID: "obj-1", Score: 0.8, Passed: true},
			{ObjectiveID: "obj-2", Score: 0.3, Passed: false},
		})
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	since := mustParseTime(t, "2026-02-01T00:00:00Z")
	reviews, err := client.Reviews(context.Background(), "learner-1", since)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, shared.ObjectiveID("obj-1"), reviews[0].ObjectiveID)
	assert.False(t, reviews[1].Passed)
}

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestClient_ActiveLearners(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/learners/active", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(activeLearnersDTO{LearnerIDs: []string{"learner-1", "learner-2"}})
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	ids, err := client.ActiveLearners(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []shared.LearnerID{"learner-1", "learner-2"}, ids)
}

func TestClient_UpstreamFailureWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(DefaultClientConfig(server.URL), nil)

	_, err := client.ActiveLearners(context.Background())
	assert.ErrorIs(t, err, shared.ErrUpstream)
}
