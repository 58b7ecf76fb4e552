package training

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

type fakeLedger struct {
	examples []accuracy.TrainingExample
}

func (f *fakeLedger) Resolved(context.Context, shared.LearnerID, time.Time) ([]accuracy.LedgerEntry, error) {
	return nil, nil
}

func (f *fakeLedger) AppendTrainingExample(_ context.Context, ex accuracy.TrainingExample) error {
	f.examples = append(f.examples, ex)
	return nil
}

func (f *fakeLedger) TrainingExamples(_ context.Context, limit int) ([]accuracy.TrainingExample, error) {
	if limit > 0 && limit < len(f.examples) {
		return f.examples[:limit], nil
	}
	return f.examples, nil
}

type memoryStore struct {
	coef *model.Coefficients
}

func newMemoryStore() *memoryStore { return &memoryStore{} }

func (s *memoryStore) Latest(context.Context) (*model.Coefficients, error) {
	if s.coef == nil {
		return nil, shared.ErrNotFound
	}
	return s.coef, nil
}

func (s *memoryStore) Save(_ context.Context, c *model.Coefficients) error {
	s.coef = c
	return nil
}

type capturingPublisher struct {
	events []shared.Event
}

func (p *capturingPublisher) Publish(event shared.Event) error {
	p.events = append(p.events, event)
	return nil
}

func newTrainer(ledger *fakeLedger, store *memoryStore, publisher *capturingPublisher, cfg Config) *Trainer {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	log := logger.New(logger.Options{Level: logger.LevelFatal})
	var pub shared.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	return New(ledger, store, pub, clock, log, cfg)
}

// separableExamples builds a ledger where struggle is decided by the
// prerequisite gap alone, cleanly separable at 0.5.
func separableExamples(n int) []accuracy.TrainingExample {
	out := make([]accuracy.TrainingExample, 0, n)
	for i := 0; i < n; i++ {
		gap := float64(i) / float64(n-1)
		out = append(out, accuracy.TrainingExample{
			PredictionID: fmt.Sprintf("p%d", i),
			LearnerID:    "l1",
			Features: map[string]float64{
				string(features.PrereqGap):      gap,
				string(features.RetentionScore): 1 - gap,
			},
			Struggled: gap > 0.5,
			Source:    "outcome",
		})
	}
	return out
}

func TestRetrainFitsSeparableData(t *testing.T) {
	ledger := &fakeLedger{examples: separableExamples(100)}
	store := newMemoryStore()
	publisher := &capturingPublisher{}
	trainer := newTrainer(ledger, store, publisher, DefaultConfig())

	coef, err := trainer.Retrain(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, coef.ID)
	assert.Equal(t, 100, coef.ExampleCount)
	assert.GreaterOrEqual(t, coef.HoldoutAccuracy, 0.6)
	assert.Greater(t, coef.Weights[features.PrereqGap], 0.0,
		"the driving feature must learn a positive weight")
	assert.Less(t, coef.Weights[features.RetentionScore], 0.0,
		"the protective feature must learn a negative weight")

	// Persisted as latest.
	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coef.ID, latest.ID)

	require.Len(t, publisher.events, 1)
	retrained, ok := publisher.events[0].(shared.ModelRetrainedEvent)
	require.True(t, ok)
	assert.Equal(t, coef.ID, retrained.CoefficientSetID)
}

func TestRetrainDeterministic(t *testing.T) {
	ledger := &fakeLedger{examples: separableExamples(100)}

	first, err := newTrainer(ledger, newMemoryStore(), nil, DefaultConfig()).Retrain(context.Background())
	require.NoError(t, err)
	second, err := newTrainer(ledger, newMemoryStore(), nil, DefaultConfig()).Retrain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Bias, second.Bias)
	assert.Equal(t, first.Weights, second.Weights)
	assert.Equal(t, first.HoldoutAccuracy, second.HoldoutAccuracy)
}

func TestRetrainInsufficientExamples(t *testing.T) {
	ledger := &fakeLedger{examples: separableExamples(10)}
	trainer := newTrainer(ledger, newMemoryStore(), nil, DefaultConfig())

	_, err := trainer.Retrain(context.Background())
	assert.ErrorIs(t, err, shared.ErrInsufficientData)
}

func TestRetrainRejectsWeakFit(t *testing.T) {
	// Labels carry a rough 70/30 split with no feature signal at all, so
	// the best the fit can do is the majority rate. A 0.95 floor must
	// reject it and leave the store empty.
	examples := make([]accuracy.TrainingExample, 0, 100)
	for i := 0; i < 100; i++ {
		examples = append(examples, accuracy.TrainingExample{
			PredictionID: fmt.Sprintf("p%d", i),
			Features:     map[string]float64{string(features.PrereqGap): 0.5},
			Struggled:    i%10 < 3,
			Source:       "outcome",
		})
	}

	cfg := DefaultConfig()
	cfg.MinHoldoutAccuracy = 0.95
	store := newMemoryStore()
	trainer := newTrainer(&fakeLedger{examples: examples}, store, nil, cfg)

	_, err := trainer.Retrain(context.Background())
	assert.ErrorIs(t, err, shared.ErrFitDiverged)

	_, err = store.Latest(context.Background())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRetrainHoldoutTooSmall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinExamples = 3
	cfg.HoldoutFraction = 0.01
	trainer := newTrainer(&fakeLedger{examples: separableExamples(5)}, newMemoryStore(), nil, cfg)

	_, err := trainer.Retrain(context.Background())
	assert.ErrorIs(t, err, shared.ErrHoldoutTooSmall)
}
