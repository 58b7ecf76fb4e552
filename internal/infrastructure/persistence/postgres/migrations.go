package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PREDICTIONS AND INDICATORS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create predictions and struggle indicators
-- Version: 001

CREATE TABLE IF NOT EXISTS predictions (
    id UUID PRIMARY KEY,
    learner_id VARCHAR(64) NOT NULL,
    objective_id VARCHAR(64) NOT NULL,
    probability DOUBLE PRECISION NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    data_quality DOUBLE PRECISION NOT NULL,
    top_contributions JSONB NOT NULL DEFAULT '[]'::jsonb,
    features JSONB NOT NULL DEFAULT '{}'::jsonb,
    model_version VARCHAR(64) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    predicted_for TIMESTAMP WITH TIME ZONE NOT NULL,
    struggled BOOLEAN,
    resolved_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('pending', 'confirmed', 'disconfirmed', 'superseded')),
    CONSTRAINT valid_probability CHECK (probability >= 0 AND probability <= 1),
    CONSTRAINT valid_confidence CHECK (confidence >= 0 AND confidence <= 1),
    CONSTRAINT valid_data_quality CHECK (data_quality >= 0 AND data_quality <= 1),
    CONSTRAINT resolved_has_outcome CHECK (
        (status IN ('confirmed', 'disconfirmed')) = (struggled IS NOT NULL AND resolved_at IS NOT NULL)
        OR status = 'superseded'
    )
);

-- One open prediction per (learner, objective); re-runs supersede.
CREATE UNIQUE INDEX IF NOT EXISTS idx_predictions_open
    ON predictions(learner_id, objective_id) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_predictions_learner ON predictions(learner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_resolved ON predictions(resolved_at)
    WHERE status IN ('confirmed', 'disconfirmed');

CREATE TABLE IF NOT EXISTS struggle_indicators (
    id UUID PRIMARY KEY,
    prediction_id UUID NOT NULL REFERENCES predictions(id) ON DELETE CASCADE,
    indicator_type VARCHAR(40) NOT NULL,
    severity VARCHAR(10) NOT NULL,
    feature VARCHAR(40) NOT NULL,
    signal DOUBLE PRECISION NOT NULL,
    evidence TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_indicator_type CHECK (indicator_type IN (
        'prerequisite-gap', 'retention-decay', 'historical-pattern',
        'complexity-mismatch', 'engagement-drop', 'confidence-miscalibration'
    )),
    CONSTRAINT valid_severity CHECK (severity IN ('low', 'medium', 'high', 'critical')),
    CONSTRAINT valid_signal CHECK (signal >= 0 AND signal <= 1)
);

CREATE INDEX IF NOT EXISTS idx_indicators_prediction ON struggle_indicators(prediction_id);
`

const migration001Down = `
DROP TABLE IF EXISTS struggle_indicators;
DROP TABLE IF EXISTS predictions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: INTERVENTIONS AND FEEDBACK
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create interventions and prediction feedback
-- Version: 002

CREATE TABLE IF NOT EXISTS interventions (
    id UUID PRIMARY KEY,
    prediction_id UUID NOT NULL REFERENCES predictions(id) ON DELETE CASCADE,
    learner_id VARCHAR(64) NOT NULL,
    intervention_type VARCHAR(40) NOT NULL,
    priority SMALLINT NOT NULL,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    rationale TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'proposed',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    applied_at TIMESTAMP WITH TIME ZONE,
    dismissed_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_intervention_type CHECK (intervention_type IN (
        'prerequisite-review', 'difficulty-step-down', 'format-adaptation',
        'load-reduction', 'spaced-repetition-boost', 'schedule-adjustment'
    )),
    CONSTRAINT valid_priority CHECK (priority >= 1 AND priority <= 10),
    CONSTRAINT valid_rec_status CHECK (status IN ('proposed', 'applied', 'dismissed'))
);

CREATE INDEX IF NOT EXISTS idx_interventions_learner
    ON interventions(learner_id, priority DESC, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_interventions_prediction ON interventions(prediction_id);
CREATE INDEX IF NOT EXISTS idx_interventions_proposed ON interventions(learner_id)
    WHERE status = 'proposed';

-- Feedback is append-only: no updated_at, no updates.
CREATE TABLE IF NOT EXISTS prediction_feedback (
    id UUID PRIMARY KEY,
    prediction_id UUID NOT NULL REFERENCES predictions(id) ON DELETE CASCADE,
    learner_id VARCHAR(64) NOT NULL,
    feedback_type VARCHAR(30) NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_feedback_type CHECK (feedback_type IN (
        'helpful', 'not-helpful', 'inaccurate', 'intervention-good', 'intervention-bad'
    ))
);

CREATE INDEX IF NOT EXISTS idx_feedback_prediction ON prediction_feedback(prediction_id, created_at);
CREATE INDEX IF NOT EXISTS idx_feedback_type ON prediction_feedback(feedback_type, created_at);
`

const migration002Down = `
DROP TABLE IF EXISTS prediction_feedback;
DROP TABLE IF EXISTS interventions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TRAINING LEDGER AND COEFFICIENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create training examples and model coefficient sets
-- Version: 003

CREATE TABLE IF NOT EXISTS training_examples (
    id BIGSERIAL PRIMARY KEY,
    prediction_id UUID NOT NULL,
    learner_id VARCHAR(64) NOT NULL,
    features JSONB NOT NULL,
    struggled BOOLEAN NOT NULL,
    source VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_source CHECK (source IN ('outcome', 'feedback'))
);

CREATE INDEX IF NOT EXISTS idx_training_examples_created ON training_examples(created_at DESC);

CREATE TABLE IF NOT EXISTS model_coefficients (
    id UUID PRIMARY KEY,
    bias DOUBLE PRECISION NOT NULL,
    weights JSONB NOT NULL,
    trained_at TIMESTAMP WITH TIME ZONE NOT NULL,
    holdout_accuracy DOUBLE PRECISION NOT NULL,
    holdout_brier DOUBLE PRECISION NOT NULL,
    example_count INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_model_coefficients_trained ON model_coefficients(trained_at DESC);
`

const migration003Down = `
DROP TABLE IF EXISTS model_coefficients;
DROP TABLE IF EXISTS training_examples;
`
