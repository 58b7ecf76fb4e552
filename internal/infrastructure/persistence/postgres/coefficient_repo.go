package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COEFFICIENT STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CoefficientRepository implements model.CoefficientStore for PostgreSQL.
// Sets are append-only; Latest picks by trained_at.
type CoefficientRepository struct {
	conn *Connection
}

// NewCoefficientRepository creates a new CoefficientRepository.
func NewCoefficientRepository(conn *Connection) *CoefficientRepository {
	return &CoefficientRepository{conn: conn}
}

// Latest returns the newest accepted coefficient set, or shared.ErrNotFound
// when the model was never trained.
func (r *CoefficientRepository) Latest(ctx context.Context) (*model.Coefficients, error) {
	query := `
		SELECT id, bias, weights, trained_at, holdout_accuracy, holdout_brier, example_count
		FROM model_coefficients
		ORDER BY trained_at DESC
		LIMIT 1
	`
	var (
		c           model.Coefficients
		weightsJSON []byte
	)
	err := r.conn.QueryRow(ctx, query).Scan(
		&c.ID, &c.Bias, &weightsJSON, &c.TrainedAt,
		&c.HoldoutAccuracy, &c.HoldoutBrier, &c.ExampleCount,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load coefficients: %w", err)
	}
	if err := json.Unmarshal(weightsJSON, &c.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return &c, nil
}

// Save stores a new coefficient set as the latest.
func (r *CoefficientRepository) Save(ctx context.Context, c *model.Coefficients) error {
	weightsJSON, err := json.Marshal(c.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	query := `
		INSERT INTO model_coefficients (id, bias, weights, trained_at, holdout_accuracy, holdout_brier, example_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.conn.Exec(ctx, query,
		c.ID, c.Bias, weightsJSON, c.TrainedAt,
		c.HoldoutAccuracy, c.HoldoutBrier, c.ExampleCount,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to save coefficients: %w", err)
	}
	return nil
}
