package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEEDBACK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// FeedbackRepository implements prediction.FeedbackRepository for PostgreSQL.
// The table is append-only; there is no update path.
type FeedbackRepository struct {
	conn *Connection
}

// NewFeedbackRepository creates a new FeedbackRepository.
func NewFeedbackRepository(conn *Connection) *FeedbackRepository {
	return &FeedbackRepository{conn: conn}
}

// Append stores a feedback entry.
func (r *FeedbackRepository) Append(ctx context.Context, f *prediction.Feedback) error {
	query := `
		INSERT INTO prediction_feedback (id, prediction_id, learner_id, feedback_type, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.conn.Exec(ctx, query,
		f.ID,
		f.PredictionID,
		string(f.LearnerID),
		string(f.Type),
		f.Note,
		f.CreatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrPredictionNotFound
		}
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

// ListByPrediction returns all feedback for a prediction, oldest first.
func (r *FeedbackRepository) ListByPrediction(ctx context.Context, predictionID string) ([]*prediction.Feedback, error) {
	query := `
		SELECT id, prediction_id, learner_id, feedback_type, note, created_at
		FROM prediction_feedback
		WHERE prediction_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.conn.Query(ctx, query, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []*prediction.Feedback
	for rows.Next() {
		var (
			f         prediction.Feedback
			learnerID string
			fType     string
		)
		if err := rows.Scan(&f.ID, &f.PredictionID, &learnerID, &fType, &f.Note, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.LearnerID = shared.LearnerID(learnerID)
		f.Type = prediction.FeedbackType(fType)
		out = append(out, &f)
	}
	return out, rows.Err()
}

// CountByType tallies feedback of a given type within a window.
func (r *FeedbackRepository) CountByType(ctx context.Context, t prediction.FeedbackType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM prediction_feedback
		WHERE feedback_type = $1 AND created_at >= $2
	`
	var count int
	if err := r.conn.QueryRow(ctx, query, string(t), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count feedback: %w", err)
	}
	return count, nil
}
