package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/learnloop/insight/internal/application/pipeline"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/intervention"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "insight",
		"version": s.deps.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.deps.Version,
		"uptime":  s.Uptime().String(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.HealthChecker.Health(ctx); err != nil {
			s.logger.Warn("readiness check failed", logger.Err(err))
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "Backing stores unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// DETECTION & PREDICTIONS
// ══════════════════════════════════════════════════════════════════════════════

// handleDetect runs on-demand detection for a learner. Requests count
// against the daily regeneration quota; the quota error maps to 429 with
// a Retry-After hint.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	learnerID := shared.LearnerID(r.PathValue("id"))

	outcome, err := s.deps.Pipeline.Detect(r.Context(), learnerID, true)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detectionOutcomeToDTO(outcome))
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	learnerID := shared.LearnerID(r.PathValue("id"))

	filter := prediction.Filter{
		Status:      prediction.Status(getQueryParam(r, "status", "")),
		ObjectiveID: shared.ObjectiveID(getQueryParam(r, "objective_id", "")),
		Limit:       getQueryParamInt(r, "limit", 0),
	}
	if since := getQueryParam(r, "since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_status", "unknown prediction status")
		return
	}

	preds, err := s.deps.Pipeline.Predictions(r.Context(), learnerID, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]predictionDTO, 0, len(preds))
	for _, p := range preds {
		out = append(out, predictionToDTO(p, nil))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"predictions": out})
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	pred, indicators, err := s.deps.Pipeline.Prediction(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionToDTO(pred, indicators))
}

type outcomeRequest struct {
	Struggled *bool `json:"struggled"`
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}
	if req.Struggled == nil {
		writeJSONError(w, http.StatusBadRequest, "missing_field", "Field 'struggled' is required")
		return
	}

	pred, err := s.deps.Pipeline.RecordOutcome(r.Context(), r.PathValue("id"), *req.Struggled)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionToDTO(pred, nil))
}

type feedbackRequest struct {
	Type string `json:"type"`
	Note string `json:"note"`
}

func (s *Server) handleRecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "Request body must be JSON")
		return
	}

	ft, err := prediction.ParseFeedbackType(req.Type)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	fb, err := s.deps.Pipeline.RecordFeedback(r.Context(), r.PathValue("id"), ft, req.Note)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feedbackToDTO(fb))
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVENTIONS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	learnerID := shared.LearnerID(r.PathValue("id"))

	filter := intervention.Filter{
		Status: intervention.RecStatus(getQueryParam(r, "status", "")),
		Type:   intervention.Type(getQueryParam(r, "type", "")),
		Limit:  getQueryParamInt(r, "limit", 0),
	}

	recs, err := s.deps.Pipeline.Interventions(r.Context(), learnerID, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]interventionDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, interventionToDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interventions": out})
}

func (s *Server) handleApplyIntervention(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Pipeline.ApplyIntervention(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interventionToDTO(rec))
}

func (s *Server) handleDismissIntervention(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Pipeline.DismissIntervention(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interventionToDTO(rec))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCURACY
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleAccuracyReport(w http.ResponseWriter, r *http.Request) {
	window, err := accuracy.ParseWindow(getQueryParam(r, "window", ""))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	scope := shared.LearnerID(getQueryParam(r, "scope", ""))

	report, err := s.deps.Pipeline.Report(r.Context(), scope, window)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *shared.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := int(rateErr.RetryAfter(time.Now()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSONErrorWithDetails(w, http.StatusTooManyRequests, "rate_limit_exceeded",
			fmt.Sprintf("Daily regeneration limit of %d reached", rateErr.Limit),
			fmt.Sprintf("Quota resets at %s", rateErr.ResetAt.Format(time.RFC3339)))
		return
	}

	switch {
	case errors.Is(err, shared.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrAlreadyResolved), errors.Is(err, shared.ErrStateTransition):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidID),
		errors.Is(err, shared.ErrValueOutOfRange):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, shared.ErrInsufficientData):
		writeJSONError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
	case errors.Is(err, shared.ErrUpstream), errors.Is(err, shared.ErrServiceUnavailable):
		s.logger.Error("upstream failure", logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())))
		writeJSONError(w, http.StatusBadGateway, "upstream_unavailable", "A collaborating service is unavailable")
	default:
		s.logger.Error("unhandled error", logger.Err(err),
			logger.String("request_id", getRequestID(r.Context())))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOS
// ══════════════════════════════════════════════════════════════════════════════

type predictionDTO struct {
	ID          string `json:"id"`
	LearnerID   string `json:"learner_id"`
	ObjectiveID string `json:"objective_id"`

	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	DataQuality float64 `json:"data_quality"`

	TopContributions []prediction.Contribution `json:"top_contributions"`

	ModelVersion string `json:"model_version"`
	Status       string `json:"status"`

	PredictedFor time.Time  `json:"predicted_for"`
	Struggled    *bool      `json:"struggled,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	Indicators []indicatorDTO `json:"indicators,omitempty"`
}

type indicatorDTO struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Severity string  `json:"severity"`
	Feature  string  `json:"feature"`
	Signal   float64 `json:"signal"`
	Evidence string  `json:"evidence"`
}

type alertDTO struct {
	PredictionID string    `json:"prediction_id"`
	ObjectiveID  string    `json:"objective_id"`
	Composite    float64   `json:"composite"`
	DueAt        time.Time `json:"due_at"`
	Message      string    `json:"message"`
}

type interventionDTO struct {
	ID           string `json:"id"`
	PredictionID string `json:"prediction_id"`
	LearnerID    string `json:"learner_id"`

	Type     string `json:"type"`
	Priority int    `json:"priority"`

	Payload   intervention.ActionPayload `json:"payload"`
	Rationale string                     `json:"rationale"`
	Status    string                     `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

type feedbackDTO struct {
	ID           string    `json:"id"`
	PredictionID string    `json:"prediction_id"`
	Type         string    `json:"type"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type detectionOutcomeDTO struct {
	LearnerID  string `json:"learner_id"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skip_reason,omitempty"`
	Partial    bool   `json:"partial,omitempty"`

	Predictions []predictionDTO `json:"predictions"`
	Alerts      []alertDTO      `json:"alerts"`

	// Recommendations keyed by prediction ID.
	Recommendations map[string][]interventionDTO `json:"recommendations,omitempty"`

	RanAt time.Time `json:"ran_at"`
}

func predictionToDTO(p *prediction.StrugglePrediction, indicators []*prediction.StruggleIndicator) predictionDTO {
	dto := predictionDTO{
		ID:               p.ID,
		LearnerID:        string(p.LearnerID),
		ObjectiveID:      string(p.ObjectiveID),
		Probability:      float64(p.Probability),
		Confidence:       float64(p.Confidence),
		DataQuality:      float64(p.DataQuality),
		TopContributions: p.TopContributions,
		ModelVersion:     p.ModelVersion,
		Status:           string(p.Status),
		PredictedFor:     p.PredictedFor,
		Struggled:        p.Struggled,
		ResolvedAt:       p.ResolvedAt,
		CreatedAt:        p.CreatedAt,
	}
	for _, ind := range indicators {
		dto.Indicators = append(dto.Indicators, indicatorDTO{
			ID:       ind.ID,
			Type:     string(ind.Type),
			Severity: string(ind.Severity),
			Feature:  string(ind.Feature),
			Signal:   ind.Signal,
			Evidence: ind.Evidence,
		})
	}
	return dto
}

func interventionToDTO(rec *intervention.Recommendation) interventionDTO {
	return interventionDTO{
		ID:           rec.ID,
		PredictionID: rec.PredictionID,
		LearnerID:    string(rec.LearnerID),
		Type:         string(rec.Type),
		Priority:     rec.Priority,
		Payload:      rec.Payload,
		Rationale:    rec.Rationale,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreatedAt,
		AppliedAt:    rec.AppliedAt,
		DismissedAt:  rec.DismissedAt,
	}
}

func feedbackToDTO(fb *prediction.Feedback) feedbackDTO {
	return feedbackDTO{
		ID:           fb.ID,
		PredictionID: fb.PredictionID,
		Type:         string(fb.Type),
		Note:         fb.Note,
		CreatedAt:    fb.CreatedAt,
	}
}

func detectionOutcomeToDTO(outcome *pipeline.DetectionOutcome) detectionOutcomeDTO {
	run := outcome.Run
	dto := detectionOutcomeDTO{
		LearnerID:   string(run.LearnerID),
		Skipped:     run.Skipped,
		SkipReason:  run.SkipReason,
		Partial:     run.Partial,
		Predictions: make([]predictionDTO, 0, len(run.Predictions)),
		Alerts:      make([]alertDTO, 0, len(run.Alerts)),
		RanAt:       run.RanAt,
	}

	for _, p := range run.Predictions {
		dto.Predictions = append(dto.Predictions, predictionToDTO(p, run.Indicators[p.ID]))
	}
	for _, a := range run.Alerts {
		dto.Alerts = append(dto.Alerts, alertDTO{
			PredictionID: a.PredictionID,
			ObjectiveID:  string(a.ObjectiveID),
			Composite:    a.Composite,
			DueAt:        a.DueAt,
			Message:      a.Message,
		})
	}

	if len(outcome.Recommendations) > 0 {
		dto.Recommendations = make(map[string][]interventionDTO, len(outcome.Recommendations))
		for predID, recs := range outcome.Recommendations {
			out := make([]interventionDTO, 0, len(recs))
			for _, rec := range recs {
				out = append(out, interventionToDTO(rec))
			}
			dto.Recommendations[predID] = out
		}
	}
	return dto
}
