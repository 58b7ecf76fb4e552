package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/timeutil"
)

type snapshot struct {
	Score float64 `json:"score"`
}

func TestFeatureCacheRoundTrip(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cache := NewFeatureCache(clock)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "learner-1", extractor.TierPerformance, snapshot{Score: 0.8}))

	var got snapshot
	hit, err := cache.Get(ctx, "learner-1", extractor.TierPerformance, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 0.8, got.Score)
}

func TestFeatureCacheMissOnUnknownLearner(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cache := NewFeatureCache(clock)

	var got snapshot
	hit, err := cache.Get(context.Background(), "learner-absent", extractor.TierProfile, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFeatureCacheTiersExpireIndependently(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cache := NewFeatureCache(clock)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "learner-1", extractor.TierPerformance, snapshot{Score: 0.8}))
	require.NoError(t, cache.Set(ctx, "learner-1", extractor.TierPattern, snapshot{Score: 0.4}))

	// Past the performance TTL but well inside the pattern TTL.
	clock.Advance(extractor.TTLPerformance + time.Minute)

	var got snapshot
	hit, err := cache.Get(ctx, "learner-1", extractor.TierPerformance, &got)
	require.NoError(t, err)
	assert.False(t, hit, "performance tier should have expired")

	hit, err = cache.Get(ctx, "learner-1", extractor.TierPattern, &got)
	require.NoError(t, err)
	assert.True(t, hit, "pattern tier should still be live")
	assert.Equal(t, 0.4, got.Score)
}

func TestFeatureCacheEntryLivesUntilExactTTL(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cache := NewFeatureCache(clock)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "learner-1", extractor.TierProfile, snapshot{Score: 0.6}))

	clock.Advance(extractor.TTLProfile - time.Second)
	var got snapshot
	hit, err := cache.Get(ctx, "learner-1", extractor.TierProfile, &got)
	require.NoError(t, err)
	assert.True(t, hit)

	clock.Advance(time.Second)
	hit, err = cache.Get(ctx, "learner-1", extractor.TierProfile, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFeatureCacheInvalidateDropsAllTiers(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cache := NewFeatureCache(clock)
	ctx := context.Background()

	for _, tier := range extractor.AllTiers {
		require.NoError(t, cache.Set(ctx, "learner-1", tier, snapshot{Score: 0.5}))
	}
	require.NoError(t, cache.Set(ctx, "learner-2", extractor.TierProfile, snapshot{Score: 0.9}))

	require.NoError(t, cache.Invalidate(ctx, "learner-1"))

	var got snapshot
	for _, tier := range extractor.AllTiers {
		hit, err := cache.Get(ctx, "learner-1", tier, &got)
		require.NoError(t, err)
		assert.False(t, hit)
	}

	hit, err := cache.Get(ctx, "learner-2", extractor.TierProfile, &got)
	require.NoError(t, err)
	assert.True(t, hit, "other learners keep their entries")
}

func TestRegenLimiterAllowsUpToQuota(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	limiter := NewRegenLimiter(3, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, "learner-1"))
	}

	err := limiter.Allow(ctx, "learner-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrRateLimited)

	var rle *shared.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3, rle.Limit)
	assert.Equal(t, "learner-1", rle.LearnerID)
	assert.Equal(t, clock.Now().Add(24*time.Hour), rle.ResetAt)
}

func TestRegenLimiterQuotaIsPerLearner(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	limiter := NewRegenLimiter(1, clock)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "learner-1"))
	require.Error(t, limiter.Allow(ctx, "learner-1"))

	assert.NoError(t, limiter.Allow(ctx, "learner-2"))
}

func TestRegenLimiterWindowOpensOnFirstRequest(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewManualClock(start)
	limiter := NewRegenLimiter(3, clock)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "learner-1"))

	// Later requests in the same window do not slide the reset forward.
	clock.Advance(6 * time.Hour)
	require.NoError(t, limiter.Allow(ctx, "learner-1"))
	require.NoError(t, limiter.Allow(ctx, "learner-1"))

	err := limiter.Allow(ctx, "learner-1")
	var rle *shared.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, start.Add(24*time.Hour), rle.ResetAt)
}

func TestRegenLimiterResetsAfterWindow(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	limiter := NewRegenLimiter(2, clock)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, "learner-1"))
	require.NoError(t, limiter.Allow(ctx, "learner-1"))
	require.Error(t, limiter.Allow(ctx, "learner-1"))

	clock.Advance(24*time.Hour + time.Minute)

	err := limiter.Allow(ctx, "learner-1")
	assert.NoError(t, err, "quota should reset once the window closes")
	assert.False(t, errors.Is(err, shared.ErrRateLimited))
}
