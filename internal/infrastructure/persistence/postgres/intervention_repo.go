package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/learnloop/insight/internal/domain/intervention"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVENTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// InterventionRepository implements intervention.Repository for PostgreSQL.
type InterventionRepository struct {
	conn *Connection
}

// NewInterventionRepository creates a new InterventionRepository.
func NewInterventionRepository(conn *Connection) *InterventionRepository {
	return &InterventionRepository{conn: conn}
}

const interventionColumns = `
	id, prediction_id, learner_id, intervention_type, priority, payload,
	rationale, status, created_at, applied_at, dismissed_at
`

// SaveAll persists a batch of proposed recommendations in one transaction.
func (r *InterventionRepository) SaveAll(ctx context.Context, recs []*intervention.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		query := `
			INSERT INTO interventions (` + interventionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		for _, rec := range recs {
			payloadJSON, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload: %w", err)
			}
			_, err = tx.Exec(ctx, query,
				rec.ID,
				rec.PredictionID,
				string(rec.LearnerID),
				string(rec.Type),
				rec.Priority,
				payloadJSON,
				rec.Rationale,
				string(rec.Status),
				rec.CreatedAt,
				rec.AppliedAt,
				rec.DismissedAt,
			)
			if err != nil {
				if IsForeignKeyViolation(err) {
					return shared.ErrPredictionNotFound
				}
				return fmt.Errorf("failed to insert intervention: %w", err)
			}
		}
		return nil
	})
}

// GetByID returns a recommendation.
func (r *InterventionRepository) GetByID(ctx context.Context, id string) (*intervention.Recommendation, error) {
	query := `SELECT ` + interventionColumns + ` FROM interventions WHERE id = $1`
	return scanIntervention(r.conn.QueryRow(ctx, query, id))
}

// ListByLearner returns a learner's recommendations matching the filter,
// priority-ordered then newest first.
func (r *InterventionRepository) ListByLearner(ctx context.Context, learnerID shared.LearnerID, f intervention.Filter) ([]*intervention.Recommendation, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + interventionColumns + ` FROM interventions WHERE learner_id = $1`)
	args := []interface{}{string(learnerID)}

	if f.Status != "" {
		args = append(args, string(f.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		fmt.Fprintf(&sb, " AND intervention_type = $%d", len(args))
	}
	sb.WriteString(" ORDER BY priority DESC, created_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list interventions: %w", err)
	}
	defer rows.Close()

	var out []*intervention.Recommendation
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateStatus persists a proposed to applied/dismissed transition. The
// transition itself is validated on the entity.
func (r *InterventionRepository) UpdateStatus(ctx context.Context, rec *intervention.Recommendation) error {
	query := `
		UPDATE interventions
		SET status = $1, applied_at = $2, dismissed_at = $3
		WHERE id = $4
	`
	tag, err := r.conn.Exec(ctx, query, string(rec.Status), rec.AppliedAt, rec.DismissedAt, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update intervention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrInterventionNotFound
	}
	return nil
}

// SupersedeByPrediction dismisses the proposed recommendations of a
// superseded prediction so they cascade with their parent.
func (r *InterventionRepository) SupersedeByPrediction(ctx context.Context, predictionID string) error {
	query := `
		UPDATE interventions
		SET status = 'dismissed', dismissed_at = NOW()
		WHERE prediction_id = $1 AND status = 'proposed'
	`
	if _, err := r.conn.Exec(ctx, query, predictionID); err != nil {
		return fmt.Errorf("failed to supersede interventions: %w", err)
	}
	return nil
}

func scanIntervention(row pgx.Row) (*intervention.Recommendation, error) {
	var (
		rec         intervention.Recommendation
		learnerID   string
		recType     string
		payloadJSON []byte
		status      string
	)
	err := row.Scan(
		&rec.ID, &rec.PredictionID, &learnerID, &recType, &rec.Priority,
		&payloadJSON, &rec.Rationale, &status, &rec.CreatedAt,
		&rec.AppliedAt, &rec.DismissedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrInterventionNotFound
		}
		return nil, fmt.Errorf("failed to scan intervention: %w", err)
	}

	rec.LearnerID = shared.LearnerID(learnerID)
	rec.Type = intervention.Type(recType)
	rec.Status = intervention.RecStatus(status)

	if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &rec, nil
}
