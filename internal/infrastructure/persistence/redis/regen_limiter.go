package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGENERATION LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRegenLimit is the on-demand regeneration quota per learner.
// The window opens on a learner's first on-demand run and closes 24 hours
// later. Scheduled background runs never consume quota.
const (
	DefaultRegenLimit = 3
	regenWindow       = 24 * time.Hour
)

// RegenLimiter implements detection.RegenLimiter on Redis with an INCR
// counter per learner. The first increment arms the window TTL; the
// counter and the window disappear together.
type RegenLimiter struct {
	client *Client
	limit  int
	clock  timeutil.Clock
}

// NewRegenLimiter creates a limiter with the given per-window quota.
func NewRegenLimiter(client *Client, limit int, clock timeutil.Clock) *RegenLimiter {
	if limit <= 0 {
		limit = DefaultRegenLimit
	}
	return &RegenLimiter{client: client, limit: limit, clock: clock}
}

// Allow consumes one unit of a learner's quota. Over quota it returns a
// *shared.RateLimitError carrying the window reset time.
func (l *RegenLimiter) Allow(ctx context.Context, learnerID shared.LearnerID) error {
	key := regenKey(learnerID)

	count, err := l.client.Incr(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to increment regen counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, regenWindow); err != nil {
			return fmt.Errorf("failed to arm regen window: %w", err)
		}
	}
	if count <= int64(l.limit) {
		return nil
	}

	ttl, err := l.client.TTL(ctx, key)
	if err != nil || ttl < 0 {
		// Counter exists but has no TTL; repair rather than lock out.
		ttl = regenWindow
		_ = l.client.Expire(ctx, key, regenWindow)
	}
	return &shared.RateLimitError{
		LearnerID: string(learnerID),
		Limit:     l.limit,
		ResetAt:   l.clock.Now().Add(ttl),
	}
}

func regenKey(learnerID shared.LearnerID) string {
	return PrefixRegen + string(learnerID)
}
