// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the pipeline.
const (
	// Prediction events
	EventPredictionCreated  EventType = "prediction.created"
	EventPredictionReplaced EventType = "prediction.replaced"
	EventPredictionResolved EventType = "prediction.resolved"
	EventFeedbackRecorded   EventType = "prediction.feedback_recorded"

	// Detection events
	EventDetectionCompleted EventType = "detection.run_completed"
	EventDetectionSkipped   EventType = "detection.run_skipped"

	// Intervention events
	EventInterventionProposed  EventType = "intervention.proposed"
	EventInterventionApplied   EventType = "intervention.applied"
	EventInterventionDismissed EventType = "intervention.dismissed"

	// Model lifecycle events
	EventRetrainRequested EventType = "model.retrain_requested"
	EventModelRetrained   EventType = "model.retrained"

	// System events
	EventReportRefreshed EventType = "system.report_refreshed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	Name() string
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, event Event) error
}

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f.Fn(ctx, event)
}

// Name implements EventHandler.
func (f EventHandlerFunc) Name() string {
	return f.HandlerName
}

// EventPublisher publishes domain events to interested subscribers.
type EventPublisher interface {
	Publish(event Event) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Prediction Events
// ═══════════════════════════════════════════════════════════════════════════

// PredictionCreatedEvent is emitted when a detection run persists a new
// PENDING prediction for a (learner, objective) pair.
type PredictionCreatedEvent struct {
	BaseEvent
	LearnerID   string  `json:"learner_id"`
	ObjectiveID string  `json:"objective_id"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	Replaced    bool    `json:"replaced"` // true when a prior PENDING row was superseded
}

// Payload implements Event interface.
func (e PredictionCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":   e.LearnerID,
		"objective_id": e.ObjectiveID,
		"probability":  e.Probability,
		"confidence":   e.Confidence,
		"replaced":     e.Replaced,
	}
}

// PredictionResolvedEvent is emitted when an outcome is recorded against a
// PENDING prediction, transitioning it to CONFIRMED or DISCONFIRMED.
type PredictionResolvedEvent struct {
	BaseEvent
	LearnerID   string  `json:"learner_id"`
	ObjectiveID string  `json:"objective_id"`
	Probability float64 `json:"probability"`
	Struggled   bool    `json:"struggled"`
}

// Payload implements Event interface.
func (e PredictionResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":   e.LearnerID,
		"objective_id": e.ObjectiveID,
		"probability":  e.Probability,
		"struggled":    e.Struggled,
	}
}

// FeedbackRecordedEvent is emitted when a learner attaches feedback to a
// prediction. Feedback never mutates the prediction itself.
type FeedbackRecordedEvent struct {
	BaseEvent
	LearnerID    string `json:"learner_id"`
	FeedbackType string `json:"feedback_type"`
}

// Payload implements Event interface.
func (e FeedbackRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":    e.LearnerID,
		"feedback_type": e.FeedbackType,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Detection Events
// ═══════════════════════════════════════════════════════════════════════════

// DetectionCompletedEvent is emitted after a full detection run for a learner.
type DetectionCompletedEvent struct {
	BaseEvent
	LearnerID       string `json:"learner_id"`
	ObjectiveCount  int    `json:"objective_count"`
	PredictionCount int    `json:"prediction_count"`
	AlertCount      int    `json:"alert_count"`
	Partial         bool   `json:"partial"`
	Scheduled       bool   `json:"scheduled"`
}

// Payload implements Event interface.
func (e DetectionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":       e.LearnerID,
		"objective_count":  e.ObjectiveCount,
		"prediction_count": e.PredictionCount,
		"alert_count":      e.AlertCount,
		"partial":          e.Partial,
		"scheduled":        e.Scheduled,
	}
}

// DetectionSkippedEvent is emitted when gatekeeping stopped a run before
// any scoring happened.
type DetectionSkippedEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	Reason    string `json:"reason"`
	Scheduled bool   `json:"scheduled"`
}

// Payload implements Event interface.
func (e DetectionSkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"reason":     e.Reason,
		"scheduled":  e.Scheduled,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Intervention Events
// ═══════════════════════════════════════════════════════════════════════════

// InterventionProposedEvent is emitted once per recommendation batch.
type InterventionProposedEvent struct {
	BaseEvent
	LearnerID    string `json:"learner_id"`
	PredictionID string `json:"prediction_id"`
	Count        int    `json:"count"`
}

// Payload implements Event interface.
func (e InterventionProposedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":    e.LearnerID,
		"prediction_id": e.PredictionID,
		"count":         e.Count,
	}
}

// InterventionDismissedEvent is emitted when a learner or operator rejects
// a proposed recommendation.
type InterventionDismissedEvent struct {
	BaseEvent
	LearnerID        string `json:"learner_id"`
	InterventionType string `json:"intervention_type"`
}

// Payload implements Event interface.
func (e InterventionDismissedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":        e.LearnerID,
		"intervention_type": e.InterventionType,
	}
}

// InterventionAppliedEvent is emitted when an intervention's action payload
// has been handed to the curriculum generator.
type InterventionAppliedEvent struct {
	BaseEvent
	LearnerID        string `json:"learner_id"`
	InterventionType string `json:"intervention_type"`
}

// Payload implements Event interface.
func (e InterventionAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":        e.LearnerID,
		"intervention_type": e.InterventionType,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Model Lifecycle Events
// ═══════════════════════════════════════════════════════════════════════════

// RetrainSignalEvent is emitted by the accuracy tracker when overall accuracy
// or calibration falls below the configured floor. It is consumed
// asynchronously by the trainer; scoring never mutates coefficients inline.
type RetrainSignalEvent struct {
	BaseEvent
	Reason         string  `json:"reason"` // "accuracy_floor" or "calibration_floor"
	Accuracy       float64 `json:"accuracy"`
	CalibrationGap float64 `json:"calibration_gap"`
	BrierScore     float64 `json:"brier_score"`
	SampleCount    int     `json:"sample_count"`
	WindowDays     int     `json:"window_days"`
}

// Payload implements Event interface.
func (e RetrainSignalEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"reason":          e.Reason,
		"accuracy":        e.Accuracy,
		"calibration_gap": e.CalibrationGap,
		"brier_score":     e.BrierScore,
		"sample_count":    e.SampleCount,
		"window_days":     e.WindowDays,
	}
}

// ModelRetrainedEvent is emitted by the trainer after a new coefficient set
// has been validated and stored.
type ModelRetrainedEvent struct {
	BaseEvent
	CoefficientSetID string  `json:"coefficient_set_id"`
	HoldoutAccuracy  float64 `json:"holdout_accuracy"`
	HoldoutBrier     float64 `json:"holdout_brier"`
	ExampleCount     int     `json:"example_count"`
}

// Payload implements Event interface.
func (e ModelRetrainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"coefficient_set_id": e.CoefficientSetID,
		"holdout_accuracy":   e.HoldoutAccuracy,
		"holdout_brier":      e.HoldoutBrier,
		"example_count":      e.ExampleCount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// ReportRefreshedEvent is emitted after a scheduled accuracy report rebuild.
type ReportRefreshedEvent struct {
	BaseEvent
	Window            string  `json:"window"`
	SampleCount       int     `json:"sample_count"`
	Accuracy          float64 `json:"accuracy"`
	EffectiveAccuracy float64 `json:"effective_accuracy"`
}

// Payload implements Event interface.
func (e ReportRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"window":             e.Window,
		"sample_count":       e.SampleCount,
		"accuracy":           e.Accuracy,
		"effective_accuracy": e.EffectiveAccuracy,
	}
}
