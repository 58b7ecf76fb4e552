package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return NewServer(cfg, Dependencies{Logger: logger.Default(), Version: "test"})
}

func TestWriteDomainError_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/predictions/missing", nil)

	s.writeDomainError(rec, req, shared.ErrPredictionNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestWriteDomainError_AlreadyResolvedConflicts(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions/p1/outcome", nil)

	s.writeDomainError(rec, req, shared.ErrPredictionResolved)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteDomainError_ValidationIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	for _, err := range []error{
		shared.ErrInvalidLearnerID,
		shared.ErrUnknownObjective,
		shared.ErrInvalidFeedbackType,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/learners/x/predictions", nil)
		s.writeDomainError(rec, req, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "error %v", err)
	}
}

func TestWriteDomainError_RateLimitCarriesRetryAfter(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/learners/learner-1/detect", nil)

	resetAt := time.Now().Add(6 * time.Hour)
	s.writeDomainError(rec, req, &shared.RateLimitError{
		LearnerID: "learner-1",
		Limit:     3,
		ResetAt:   resetAt,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 6*3600, retryAfter, 5)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error.Code)
	assert.Contains(t, resp.Error.Details, resetAt.Format(time.RFC3339))
}

func TestWriteDomainError_UpstreamIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/learners/learner-1/detect", nil)

	s.writeDomainError(rec, req, shared.ErrUpstream)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWriteDomainError_InsufficientDataIsUnprocessable(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accuracy/report", nil)

	s.writeDomainError(rec, req, shared.ErrEmptyLedger)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	s := newTestServer(t)

	handler := s.requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, getRequestID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// Provided IDs pass through untouched
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Other clients have their own window
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.handleLive(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// No health checker wired means ready
	rec = httptest.NewRecorder()
	s.handleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPredictionToDTO(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pred := &prediction.StrugglePrediction{
		ID:           "pred-1",
		LearnerID:    "learner-1",
		ObjectiveID:  "obj-recursion",
		Probability:  0.82,
		Confidence:   0.78,
		DataQuality:  0.9,
		ModelVersion: "rule-v1",
		Status:       prediction.StatusPending,
		PredictedFor: now.Add(72 * time.Hour),
		CreatedAt:    now,
	}
	indicator := &prediction.StruggleIndicator{
		ID:           "ind-1",
		PredictionID: "pred-1",
		Type:         prediction.IndicatorPrerequisiteGap,
		Severity:     prediction.SeverityHigh,
		Signal:       1.0,
		Evidence:     "all prerequisites unmastered",
	}

	dto := predictionToDTO(pred, []*prediction.StruggleIndicator{indicator})

	assert.Equal(t, "pred-1", dto.ID)
	assert.Equal(t, "learner-1", dto.LearnerID)
	assert.InDelta(t, 0.82, dto.Probability, 1e-9)
	assert.Equal(t, "pending", dto.Status)
	assert.Nil(t, dto.Struggled)
	require.Len(t, dto.Indicators, 1)
	assert.Equal(t, "high", dto.Indicators[0].Severity)
}
