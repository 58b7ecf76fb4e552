// Package memory provides in-process implementations of the pipeline's
// cache and quota contracts. They take an injectable clock, so tests can
// assert expiry and window behavior without sleeping, and serve as the
// storage backend for single-node deployments without Redis.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/domain/shared"
	"github.com/learnloop/insight/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE CACHE
// ══════════════════════════════════════════════════════════════════════════════

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// FeatureCache implements extractor.Cache in process memory. Entries are
// stored JSON-encoded so Get/Set round-trip the same way the Redis
// implementation does.
type FeatureCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	clock   timeutil.Clock
}

// NewFeatureCache creates an empty cache on the given clock.
func NewFeatureCache(clock timeutil.Clock) *FeatureCache {
	return &FeatureCache{
		entries: make(map[string]cacheEntry),
		clock:   clock,
	}
}

// Get unmarshals the cached snapshot for (learnerID, tier) into dest.
// The second return is false on miss or expiry.
func (c *FeatureCache) Get(_ context.Context, learnerID shared.LearnerID, tier extractor.Tier, dest interface{}) (bool, error) {
	key := cacheKey(learnerID, tier)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores a snapshot under the tier's TTL.
func (c *FeatureCache) Set(_ context.Context, learnerID shared.LearnerID, tier extractor.Tier, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(learnerID, tier)] = cacheEntry{
		data:      data,
		expiresAt: c.clock.Now().Add(extractor.TTLFor(tier)),
	}
	return nil
}

// Invalidate drops all tiers for a learner.
func (c *FeatureCache) Invalidate(_ context.Context, learnerID shared.LearnerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tier := range extractor.AllTiers {
		delete(c.entries, cacheKey(learnerID, tier))
	}
	return nil
}

// Len returns the number of live entries, expired ones included until
// their next read.
func (c *FeatureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(learnerID shared.LearnerID, tier extractor.Tier) string {
	return string(tier) + ":" + string(learnerID)
}
