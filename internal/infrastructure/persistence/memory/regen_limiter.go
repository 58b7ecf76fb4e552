package memory

import (
	"context"
	"sync"
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGENERATION LIMITER
// ══════════════════════════════════════════════════════════════════════════════

const regenWindow = 24 * time.Hour

type regenState struct {
	count   int
	resetAt time.Time
}

// RegenLimiter implements detection.RegenLimiter in process memory.
// The window opens on a learner's first on-demand run and closes 24
// hours later.
type RegenLimiter struct {
	mu      sync.Mutex
	windows map[shared.LearnerID]regenState
	limit   int
	clock   timeutil.Clock
}

// NewRegenLimiter creates a limiter with the given per-window quota.
func NewRegenLimiter(limit int, clock timeutil.Clock) *RegenLimiter {
	return &RegenLimiter{
		windows: make(map[shared.LearnerID]regenState),
		limit:   limit,
		clock:   clock,
	}
}

// Allow consumes one unit of a learner's quota. Over quota it returns a
// *shared.RateLimitError carrying the window reset time.
func (l *RegenLimiter) Allow(_ context.Context, learnerID shared.LearnerID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	state, ok := l.windows[learnerID]
	if !ok || !now.Before(state.resetAt) {
		state = regenState{count: 0, resetAt: now.Add(regenWindow)}
	}

	state.count++
	l.windows[learnerID] = state

	if state.count > l.limit {
		return &shared.RateLimitError{
			LearnerID: string(learnerID),
			Limit:     l.limit,
			ResetAt:   state.resetAt,
		}
	}
	return nil
}
