package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCURACY LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements accuracy.Ledger for PostgreSQL. It reads
// resolved predictions joined with their inaccurate-feedback tallies and
// owns the training-example table.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Resolved returns resolved predictions in the window, optionally scoped
// to one learner. An empty scope means global.
func (r *LedgerRepository) Resolved(ctx context.Context, scope shared.LearnerID, since time.Time) ([]accuracy.LedgerEntry, error) {
	query := `
		SELECT p.id, p.learner_id, p.probability, p.struggled, p.resolved_at,
		       COUNT(f.id) FILTER (WHERE f.feedback_type = 'inaccurate') AS inaccurate_count
		FROM predictions p
		LEFT JOIN prediction_feedback f ON f.prediction_id = p.id
		WHERE p.status IN ('confirmed', 'disconfirmed')
		  AND p.resolved_at >= $1
		  AND ($2 = '' OR p.learner_id = $2)
		GROUP BY p.id
		ORDER BY p.resolved_at ASC
	`
	rows, err := r.conn.Query(ctx, query, since, string(scope))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []accuracy.LedgerEntry
	for rows.Next() {
		var (
			e         accuracy.LedgerEntry
			learnerID string
		)
		if err := rows.Scan(&e.PredictionID, &learnerID, &e.Probability, &e.Struggled, &e.ResolvedAt, &e.InaccurateCount); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.LearnerID = shared.LearnerID(learnerID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendTrainingExample stores a labelled feature snapshot for the trainer.
func (r *LedgerRepository) AppendTrainingExample(ctx context.Context, ex accuracy.TrainingExample) error {
	featJSON, err := json.Marshal(ex.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	query := `
		INSERT INTO training_examples (prediction_id, learner_id, features, struggled, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.conn.Exec(ctx, query,
		ex.PredictionID,
		string(ex.LearnerID),
		featJSON,
		ex.Struggled,
		ex.Source,
		ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append training example: %w", err)
	}
	return nil
}

// TrainingExamples returns up to limit most recent labelled examples.
func (r *LedgerRepository) TrainingExamples(ctx context.Context, limit int) ([]accuracy.TrainingExample, error) {
	query := `
		SELECT prediction_id, learner_id, features, struggled, source, created_at
		FROM training_examples
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query training examples: %w", err)
	}
	defer rows.Close()

	var out []accuracy.TrainingExample
	for rows.Next() {
		var (
			ex        accuracy.TrainingExample
			learnerID string
			featJSON  []byte
		)
		if err := rows.Scan(&ex.PredictionID, &learnerID, &featJSON, &ex.Struggled, &ex.Source, &ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training example: %w", err)
		}
		ex.LearnerID = shared.LearnerID(learnerID)
		if err := json.Unmarshal(featJSON, &ex.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}
