// Package training fits new logistic coefficient sets from the labelled
// example ledger. The trainer is the single writer of model coefficients:
// it runs asynchronously off the retrain signal, validates the fit on a
// holdout slice, and only then persists and announces the new set.
package training

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/learnloop/insight/internal/application/model"
	"github.com/learnloop/insight/internal/domain/accuracy"
	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
	"github.com/learnloop/insight/pkg/timeutil"
)

// Config contains trainer configuration.
type Config struct {
	// MaxExamples caps how much of the ledger one fit reads.
	MaxExamples int

	// MinExamples refuses to fit on less. Tiny sets overfit instantly.
	MinExamples int

	// HoldoutFraction of examples reserved for validation.
	HoldoutFraction float64

	// Epochs and LearningRate drive the gradient descent.
	Epochs       int
	LearningRate float64

	// L2Penalty shrinks weights toward zero each step.
	L2Penalty float64

	// MinHoldoutAccuracy gates acceptance: a fit scoring below it on the
	// holdout slice is discarded and the previous set stays live.
	MinHoldoutAccuracy float64

	// Seed fixes the shuffle for reproducible fits.
	Seed int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxExamples:        5000,
		MinExamples:        50,
		HoldoutFraction:    0.2,
		Epochs:             200,
		LearningRate:       0.1,
		L2Penalty:          0.001,
		MinHoldoutAccuracy: 0.6,
		Seed:               1,
	}
}

// Trainer fits coefficient sets. One Retrain call runs at a time per
// instance; the worker serializes invocations.
type Trainer struct {
	ledger    accuracy.Ledger
	store     model.CoefficientStore
	publisher shared.EventPublisher
	clock     timeutil.Clock
	log       *logger.Logger
	config    Config
}

// New creates a Trainer.
func New(
	ledger accuracy.Ledger,
	store model.CoefficientStore,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config Config,
) *Trainer {
	return &Trainer{
		ledger:    ledger,
		store:     store,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("training")),
		config:    config,
	}
}

// Retrain reads the example ledger, fits a logistic coefficient set,
// validates it on a holdout slice, and persists it when it clears the
// acceptance floor. Returns the accepted set.
//
// Too few examples returns shared.ErrInsufficientData; a holdout that
// would be empty returns shared.ErrHoldoutTooSmall; a fit below the
// acceptance floor returns shared.ErrFitDiverged and leaves the previous
// set untouched.
func (t *Trainer) Retrain(ctx context.Context) (*model.Coefficients, error) {
	examples, err := t.ledger.TrainingExamples(ctx, t.config.MaxExamples)
	if err != nil {
		return nil, shared.WrapError("training", "Retrain", shared.ErrUpstream, "reading example ledger", err)
	}
	if len(examples) < t.config.MinExamples {
		return nil, shared.WrapError("training", "Retrain", shared.ErrInsufficientData,
			fmt.Sprintf("%d examples, need %d", len(examples), t.config.MinExamples), nil)
	}

	train, holdout, err := split(examples, t.config.HoldoutFraction, t.config.Seed)
	if err != nil {
		return nil, err
	}

	bias, weights := fit(train, t.config)

	holdoutAcc, holdoutBrier := evaluate(holdout, bias, weights)
	if holdoutAcc < t.config.MinHoldoutAccuracy {
		t.log.Warn("fit rejected",
			logger.Float64("holdout_accuracy", holdoutAcc),
			logger.Float64("floor", t.config.MinHoldoutAccuracy),
			logger.Int("examples", len(examples)))
		return nil, shared.ErrFitDiverged
	}

	coef := &model.Coefficients{
		ID:              uuid.NewString(),
		Bias:            bias,
		Weights:         weights,
		TrainedAt:       t.clock.Now(),
		HoldoutAccuracy: holdoutAcc,
		HoldoutBrier:    holdoutBrier,
		ExampleCount:    len(examples),
	}
	if err := t.store.Save(ctx, coef); err != nil {
		return nil, shared.WrapError("training", "Retrain", shared.ErrUpstream, "persisting coefficients", err)
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(shared.ModelRetrainedEvent{
			BaseEvent:        shared.NewBaseEvent(shared.EventModelRetrained, coef.ID),
			CoefficientSetID: coef.ID,
			HoldoutAccuracy:  holdoutAcc,
			HoldoutBrier:     holdoutBrier,
			ExampleCount:     len(examples),
		}); err != nil {
			t.log.Warn("event publish failed", logger.Err(err))
		}
	}

	t.log.Info("model retrained",
		logger.String("coefficient_set", coef.ID),
		logger.Float64("holdout_accuracy", holdoutAcc),
		logger.Float64("holdout_brier", holdoutBrier),
		logger.Int("examples", len(examples)))

	return coef, nil
}

// split shuffles deterministically and carves off the holdout slice.
func split(examples []accuracy.TrainingExample, fraction float64, seed int64) (train, holdout []accuracy.TrainingExample, err error) {
	shuffled := make([]accuracy.TrainingExample, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := int(float64(len(shuffled)) * fraction)
	if n < 1 || n >= len(shuffled) {
		return nil, nil, shared.ErrHoldoutTooSmall
	}
	return shuffled[n:], shuffled[:n], nil
}

// fit runs full-batch gradient descent on the cross-entropy loss with L2
// shrinkage. Every known feature gets a weight; absent entries in an
// example read as that feature's documented default.
func fit(train []accuracy.TrainingExample, cfg Config) (bias float64, weights map[features.Name]float64) {
	names := features.All()
	weights = make(map[features.Name]float64, len(names))

	n := float64(len(train))
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		gradBias := 0.0
		grad := make(map[features.Name]float64, len(names))

		for _, ex := range train {
			p := predict(ex, bias, weights)
			y := 0.0
			if ex.Struggled {
				y = 1.0
			}
			residual := p - y
			gradBias += residual
			for _, name := range names {
				grad[name] += residual * featureValue(ex, name)
			}
		}

		bias -= cfg.LearningRate * gradBias / n
		for _, name := range names {
			weights[name] -= cfg.LearningRate * (grad[name]/n + cfg.L2Penalty*weights[name])
		}
	}
	return bias, weights
}

// evaluate scores the holdout slice at the 0.5 threshold.
func evaluate(holdout []accuracy.TrainingExample, bias float64, weights map[features.Name]float64) (acc, brier float64) {
	if len(holdout) == 0 {
		return 0, 0
	}
	correct := 0
	for _, ex := range holdout {
		p := predict(ex, bias, weights)
		y := 0.0
		if ex.Struggled {
			y = 1.0
		}
		if (p >= 0.5) == ex.Struggled {
			correct++
		}
		brier += (p - y) * (p - y)
	}
	n := float64(len(holdout))
	return float64(correct) / n, brier / n
}

func predict(ex accuracy.TrainingExample, bias float64, weights map[features.Name]float64) float64 {
	z := bias
	for name, w := range weights {
		z += w * featureValue(ex, name)
	}
	return 1 / (1 + math.Exp(-z))
}

func featureValue(ex accuracy.TrainingExample, name features.Name) float64 {
	if v, ok := ex.Features[string(name)]; ok {
		return v
	}
	return features.DefaultOf(name).Float64()
}
