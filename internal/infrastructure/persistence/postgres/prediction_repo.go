package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/prediction"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PredictionRepository implements prediction.Repository for PostgreSQL.
type PredictionRepository struct {
	conn *Connection
}

// NewPredictionRepository creates a new PredictionRepository.
func NewPredictionRepository(conn *Connection) *PredictionRepository {
	return &PredictionRepository{conn: conn}
}

const predictionColumns = `
	id, learner_id, objective_id, probability, confidence, data_quality,
	top_contributions, features, model_version, status, predicted_for,
	struggled, resolved_at, created_at
`

// ReplacePending persists a new PENDING prediction inside one transaction,
// first superseding any prior PENDING row for the same (learner, objective)
// and cascading its proposed interventions to dismissed.
func (r *PredictionRepository) ReplacePending(ctx context.Context, p *prediction.StrugglePrediction, indicators []*prediction.StruggleIndicator) (bool, error) {
	replaced := false

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		supersede := `
			UPDATE predictions
			SET status = 'superseded'
			WHERE learner_id = $1 AND objective_id = $2 AND status = 'pending'
			RETURNING id
		`
		var supersededID string
		err := tx.QueryRow(ctx, supersede, string(p.LearnerID), string(p.ObjectiveID)).Scan(&supersededID)
		switch {
		case err == nil:
			replaced = true
			dismiss := `
				UPDATE interventions
				SET status = 'dismissed', dismissed_at = NOW()
				WHERE prediction_id = $1 AND status = 'proposed'
			`
			if _, err := tx.Exec(ctx, dismiss, supersededID); err != nil {
				return fmt.Errorf("failed to cascade interventions: %w", err)
			}
		case IsNoRows(err):
			// first prediction for this pair
		default:
			return fmt.Errorf("failed to supersede prior prediction: %w", err)
		}

		contribJSON, err := json.Marshal(p.TopContributions)
		if err != nil {
			return fmt.Errorf("failed to marshal contributions: %w", err)
		}
		featJSON, err := json.Marshal(p.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal features: %w", err)
		}

		insert := `
			INSERT INTO predictions (` + predictionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err = tx.Exec(ctx, insert,
			p.ID,
			string(p.LearnerID),
			string(p.ObjectiveID),
			p.Probability.Float64(),
			p.Confidence.Float64(),
			p.DataQuality.Float64(),
			contribJSON,
			featJSON,
			p.ModelVersion,
			string(p.Status),
			p.PredictedFor,
			p.Struggled,
			p.ResolvedAt,
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert prediction: %w", err)
		}

		for _, ind := range indicators {
			indInsert := `
				INSERT INTO struggle_indicators (
					id, prediction_id, indicator_type, severity, feature, signal, evidence, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`
			_, err := tx.Exec(ctx, indInsert,
				ind.ID,
				ind.PredictionID,
				string(ind.Type),
				string(ind.Severity),
				string(ind.Feature),
				ind.Signal,
				ind.Evidence,
				ind.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert indicator: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return replaced, nil
}

// GetByID returns a prediction with its indicators.
func (r *PredictionRepository) GetByID(ctx context.Context, id string) (*prediction.StrugglePrediction, []*prediction.StruggleIndicator, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`

	p, err := scanPrediction(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, nil, err
	}
	indicators, err := r.IndicatorsFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, indicators, nil
}

// ListByLearner returns a learner's predictions matching the filter,
// newest first.
func (r *PredictionRepository) ListByLearner(ctx context.Context, learnerID shared.LearnerID, f prediction.Filter) ([]*prediction.StrugglePrediction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + predictionColumns + ` FROM predictions WHERE learner_id = $1`)
	args := []interface{}{string(learnerID)}

	if f.Status != "" {
		args = append(args, string(f.Status))
		fmt.Fprintf(&sb, " AND status = $%d", len(args))
	}
	if f.ObjectiveID != "" {
		args = append(args, string(f.ObjectiveID))
		fmt.Fprintf(&sb, " AND objective_id = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := r.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	return scanPredictions(rows)
}

// PendingByLearner returns all PENDING predictions for a learner.
func (r *PredictionRepository) PendingByLearner(ctx context.Context, learnerID shared.LearnerID) ([]*prediction.StrugglePrediction, error) {
	return r.ListByLearner(ctx, learnerID, prediction.Filter{Status: prediction.StatusPending})
}

// Resolve transitions a PENDING prediction to its terminal outcome state.
func (r *PredictionRepository) Resolve(ctx context.Context, id string, struggled bool, resolvedAt time.Time) error {
	status := prediction.StatusDisconfirmed
	if struggled {
		status = prediction.StatusConfirmed
	}

	query := `
		UPDATE predictions
		SET status = $1, struggled = $2, resolved_at = $3
		WHERE id = $4 AND status = 'pending'
	`
	tag, err := r.conn.Exec(ctx, query, string(status), struggled, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("failed to resolve prediction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; disambiguate for the caller.
		var exists bool
		if err := r.conn.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM predictions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check prediction: %w", err)
		}
		if !exists {
			return shared.ErrPredictionNotFound
		}
		return shared.ErrPredictionResolved
	}
	return nil
}

// IndicatorsFor returns the indicators backing a prediction.
func (r *PredictionRepository) IndicatorsFor(ctx context.Context, predictionID string) ([]*prediction.StruggleIndicator, error) {
	query := `
		SELECT id, prediction_id, indicator_type, severity, feature, signal, evidence, created_at
		FROM struggle_indicators
		WHERE prediction_id = $1
		ORDER BY signal DESC
	`
	rows, err := r.conn.Query(ctx, query, predictionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	var out []*prediction.StruggleIndicator
	for rows.Next() {
		var (
			ind      prediction.StruggleIndicator
			indType  string
			severity string
			feature  string
		)
		if err := rows.Scan(&ind.ID, &ind.PredictionID, &indType, &severity, &feature, &ind.Signal, &ind.Evidence, &ind.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		ind.Type = prediction.IndicatorType(indType)
		ind.Severity = prediction.Severity(severity)
		ind.Feature = features.Name(feature)
		out = append(out, &ind)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanPrediction(row pgx.Row) (*prediction.StrugglePrediction, error) {
	var (
		p           prediction.StrugglePrediction
		learnerID   string
		objectiveID string
		probability float64
		confidence  float64
		dataQuality float64
		contribJSON []byte
		featJSON    []byte
		status      string
	)
	err := row.Scan(
		&p.ID, &learnerID, &objectiveID, &probability, &confidence, &dataQuality,
		&contribJSON, &featJSON, &p.ModelVersion, &status, &p.PredictedFor,
		&p.Struggled, &p.ResolvedAt, &p.CreatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}

	p.LearnerID = shared.LearnerID(learnerID)
	p.ObjectiveID = shared.ObjectiveID(objectiveID)
	p.Probability = shared.ClampUnit(probability)
	p.Confidence = shared.ClampUnit(confidence)
	p.DataQuality = shared.ClampUnit(dataQuality)
	p.Status = prediction.Status(status)

	if err := json.Unmarshal(contribJSON, &p.TopContributions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contributions: %w", err)
	}
	if err := json.Unmarshal(featJSON, &p.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	return &p, nil
}

func scanPredictions(rows pgx.Rows) ([]*prediction.StrugglePrediction, error) {
	var out []*prediction.StrugglePrediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
