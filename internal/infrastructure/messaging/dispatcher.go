package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/learnloop/insight/internal/application/training"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODEL LIFECYCLE DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Reloader is anything that can hot-swap its coefficients from the store.
// Implemented by model.LinearScorer.
type Reloader interface {
	Reload(ctx context.Context) error
}

// WireModelLifecycle subscribes the trainer and scorer to the bus:
// a retrain signal triggers a training run, and a successful retrain
// hot-swaps the linear scorer's coefficients. The trainer stays the
// single writer of coefficient sets; everything downstream only reloads.
func WireModelLifecycle(bus *EventBus, trainer *training.Trainer, scorer Reloader, log *logger.Logger) error {
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component("dispatcher"))

	retrain := shared.EventHandlerFunc{
		HandlerName: "trainer.retrain",
		Fn: func(ctx context.Context, event shared.Event) error {
			coef, err := trainer.Retrain(ctx)
			if err != nil {
				// Thin or weak data is a normal outcome, not a fault.
				if errors.Is(err, shared.ErrInsufficientData) ||
					errors.Is(err, shared.ErrHoldoutTooSmall) ||
					errors.Is(err, shared.ErrFitDiverged) {
					log.Warn("retrain signal declined",
						logger.String("trigger", event.AggregateID()),
						logger.Err(err),
					)
					return nil
				}
				return fmt.Errorf("retrain failed: %w", err)
			}
			log.Info("model retrained",
				logger.String("coefficients_id", coef.ID),
				logger.Float64("holdout_accuracy", coef.HoldoutAccuracy),
				logger.Int("examples", coef.ExampleCount),
			)
			return nil
		},
	}
	if err := bus.Subscribe(shared.EventRetrainRequested, retrain); err != nil {
		return err
	}

	reload := shared.EventHandlerFunc{
		HandlerName: "scorer.reload",
		Fn: func(ctx context.Context, _ shared.Event) error {
			if scorer == nil {
				return nil
			}
			if err := scorer.Reload(ctx); err != nil {
				return fmt.Errorf("coefficient reload failed: %w", err)
			}
			log.Info("scorer coefficients reloaded")
			return nil
		},
	}
	return bus.Subscribe(shared.EventModelRetrained, reload)
}
