package redis

import (
	"context"
	"errors"

	"github.com/learnloop/insight/internal/application/extractor"
	"github.com/learnloop/insight/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE CACHE
// ══════════════════════════════════════════════════════════════════════════════

// FeatureCache implements extractor.Cache on Redis. Each tier is its own
// key so the tiers expire independently.
type FeatureCache struct {
	client *Client
}

// NewFeatureCache creates a FeatureCache on an existing client.
func NewFeatureCache(client *Client) *FeatureCache {
	return &FeatureCache{client: client}
}

// Get unmarshals the cached snapshot for (learnerID, tier) into dest.
// The second return is false on miss or expiry.
func (c *FeatureCache) Get(ctx context.Context, learnerID shared.LearnerID, tier extractor.Tier, dest interface{}) (bool, error) {
	err := c.client.GetJSON(ctx, featureKey(learnerID, tier), dest)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Set stores a snapshot under the tier's TTL.
func (c *FeatureCache) Set(ctx context.Context, learnerID shared.LearnerID, tier extractor.Tier, value interface{}) error {
	return c.client.SetJSON(ctx, featureKey(learnerID, tier), value, extractor.TTLFor(tier))
}

// Invalidate drops all tiers for a learner.
func (c *FeatureCache) Invalidate(ctx context.Context, learnerID shared.LearnerID) error {
	keys := make([]string, 0, len(extractor.AllTiers))
	for _, tier := range extractor.AllTiers {
		keys = append(keys, featureKey(learnerID, tier))
	}
	return c.client.Delete(ctx, keys...)
}

func featureKey(learnerID shared.LearnerID, tier extractor.Tier) string {
	return PrefixFeatures + string(tier) + ":" + string(learnerID)
}
