package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/learnloop/insight/internal/domain/features"
	"github.com/learnloop/insight/internal/domain/shared"
)

// LinearScorer is the logistic strategy over externally trained
// coefficients. Coefficients are read from the store at construction and
// on Reload; scoring never writes.
type LinearScorer struct {
	store CoefficientStore

	mu   sync.RWMutex
	coef *Coefficients
}

// NewLinearScorer creates a logistic scorer and loads the latest
// coefficient set. Returns shared.ErrNotFound when the model was never
// trained; callers fall back to the rule baseline in that case.
func NewLinearScorer(ctx context.Context, store CoefficientStore) (*LinearScorer, error) {
	s := &LinearScorer{store: store}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload swaps in the latest coefficient set. Called by the retrain
// dispatcher after the trainer accepts a new set.
func (s *LinearScorer) Reload(ctx context.Context) error {
	coef, err := s.store.Latest(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.coef = coef
	s.mu.Unlock()
	return nil
}

// Score implements Strategy.
func (s *LinearScorer) Score(_ context.Context, v *features.Vector) (Result, error) {
	if v == nil {
		return Result{}, shared.NewDomainError("model", "Score", shared.ErrEmptyValue, "nil feature vector")
	}

	s.mu.RLock()
	coef := s.coef
	s.mu.RUnlock()
	if coef == nil {
		return Result{}, shared.NewDomainError("model", "Score", shared.ErrInvalidState, "no coefficients loaded")
	}

	z := coef.Bias
	for name, w := range coef.Weights {
		z += w * v.Get(name).Float64()
	}

	return Result{
		Probability:   shared.ClampUnit(sigmoid(z)),
		Confidence:    ConfidenceFor(v.Quality, v.SampleCount),
		Contributions: rankContributions(v, coef.Weights),
	}, nil
}

// Version implements Strategy.
func (s *LinearScorer) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.coef == nil {
		return "linear-unloaded"
	}
	return fmt.Sprintf("linear-%s", s.coef.ID)
}

// ══════════════════════════════════════════════════════════════════════════════
// SELECTION
// ══════════════════════════════════════════════════════════════════════════════

// Kind selects the active strategy by configuration.
type Kind string

const (
	KindRule   Kind = "rule"
	KindLinear Kind = "linear"
)

// Select builds the configured strategy. KindLinear falls back to the
// rule baseline when no trained coefficients exist yet, so a fresh
// deployment scores from day one.
func Select(ctx context.Context, kind Kind, store CoefficientStore) (Strategy, error) {
	switch kind {
	case KindRule, "":
		return NewRuleScorer(), nil
	case KindLinear:
		linear, err := NewLinearScorer(ctx, store)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return NewRuleScorer(), nil
			}
			return nil, err
		}
		return linear, nil
	default:
		return nil, shared.NewDomainError("model", "Select", shared.ErrInvalidInput, "unknown strategy kind "+string(kind))
	}
}
