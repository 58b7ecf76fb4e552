package extractor

import (
	"context"
	"time"

	"github.com/learnloop/insight/internal/domain/learner"
	"github.com/learnloop/insight/internal/domain/objective"
	"github.com/learnloop/insight/internal/domain/shared"
)

// Tier names the three independently-TTL'd cache tiers. Keys are
// (learnerID, tier); invalidation is purely time-based, with no
// write-through coupling to upstream mutations.
type Tier string

const (
	// TierPerformance holds volatile review and mastery data.
	TierPerformance Tier = "performance"
	// TierProfile holds the learner's profile summary.
	TierProfile Tier = "profile"
	// TierPattern holds slow-changing behavioral-pattern data.
	TierPattern Tier = "pattern"
)

// AllTiers lists every cache tier, for whole-learner invalidation.
var AllTiers = []Tier{TierPerformance, TierProfile, TierPattern}

// Default TTLs per tier. Tuned constants: short enough that a detection
// run never scores on stale performance data, long enough that scoring a
// learner's full horizon costs one upstream read per tier.
const (
	TTLPerformance = 30 * time.Minute
	TTLProfile     = 1 * time.Hour
	TTLPattern     = 12 * time.Hour
)

// TTLFor returns the default TTL of a tier.
func TTLFor(tier Tier) time.Duration {
	switch tier {
	case TierPerformance:
		return TTLPerformance
	case TierProfile:
		return TTLProfile
	case TierPattern:
		return TTLPattern
	default:
		return TTLPerformance
	}
}

// Cache is the read-through store the extractor keeps tier snapshots in.
// Implemented by redis.FeatureCache and memory.FeatureCache; the memory
// implementation takes an injectable clock so tests can assert expiry.
type Cache interface {
	// Get unmarshals the cached snapshot for (learnerID, tier) into dest.
	// The second return is false on miss or expiry. Errors are cache
	// infrastructure failures; callers treat them as misses.
	Get(ctx context.Context, learnerID shared.LearnerID, tier Tier, dest interface{}) (bool, error)

	// Set stores a snapshot under the tier's TTL.
	Set(ctx context.Context, learnerID shared.LearnerID, tier Tier, value interface{}) error

	// Invalidate drops all tiers for a learner. Used by tests and
	// operational tooling only; normal invalidation is time-based.
	Invalidate(ctx context.Context, learnerID shared.LearnerID) error
}

// performanceSnapshot is the TierPerformance payload.
type performanceSnapshot struct {
	Reviews []objective.Review                            `json:"reviews"`
	Mastery map[shared.ObjectiveID]objective.MasteryState `json:"mastery"`

	// MasteryKnown distinguishes an empty mastery set from a failed read.
	// Without it a mastery-store outage would read as every prerequisite
	// being unmastered.
	MasteryKnown bool `json:"mastery_known"`

	FetchedAt time.Time `json:"fetched_at"`
}

// profileSnapshot is the TierProfile payload.
type profileSnapshot struct {
	Profile   *learner.Profile `json:"profile"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// patternSnapshot is the TierPattern payload.
type patternSnapshot struct {
	Struggles []objective.StruggleRecord `json:"struggles"`
	Sessions  []objective.SessionStat    `json:"sessions"`
	FetchedAt time.Time                  `json:"fetched_at"`
}
