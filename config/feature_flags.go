package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollouts. Prediction
// features roll out per learner with consistent hashing so a learner's
// experience does not flap between deploys.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	learnerOverrides map[string]map[string]bool // learnerID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Learners are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// Predefined feature flag names.
const (
	// === Detection ===
	FeatureDetectionBatchSweep = "detection.batch_sweep" // nightly all-learner sweep
	FeatureDetectionOnDemand   = "detection.on_demand"   // learner-triggered regeneration

	// === Interventions ===
	FeatureInterventionProposals = "interventions.proposals"    // propose interventions for alerts
	FeatureInterventionTailoring = "interventions.tailoring"    // profile-aware payload tailoring
	FeatureInterventionAutoApply = "interventions.auto_apply"   // apply without learner confirmation
	FeatureAccuracyFeedback      = "accuracy.learner_feedback"  // accept learner feedback on predictions
	FeatureTrainingAutoRetrain   = "training.auto_retrain"      // retrain on degradation signals
	FeatureModelLinearScoring    = "experimental.linear_model"  // trained scorer instead of rules
	FeatureReportsPerLearner     = "experimental.learner_scope" // per-learner accuracy reports
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		learnerOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Detection is the core loop, fully on
	ff.features[FeatureDetectionBatchSweep] = &Feature{
		Name:           FeatureDetectionBatchSweep,
		Description:    "Nightly detection sweep over active learners",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDetectionOnDemand] = &Feature{
		Name:           FeatureDetectionOnDemand,
		Description:    "Learner-triggered prediction regeneration",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureInterventionProposals] = &Feature{
		Name:           FeatureInterventionProposals,
		Description:    "Propose interventions for alert-worthy predictions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureInterventionTailoring] = &Feature{
		Name:           FeatureInterventionTailoring,
		Description:    "Tailor intervention payloads to the behavioral profile",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureInterventionAutoApply] = &Feature{
		Name:           FeatureInterventionAutoApply,
		Description:    "Apply interventions without learner confirmation",
		Enabled:        false, // learners accept or dismiss explicitly
		RolloutPercent: 0,
	}

	ff.features[FeatureAccuracyFeedback] = &Feature{
		Name:           FeatureAccuracyFeedback,
		Description:    "Accept learner feedback on predictions and interventions",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureTrainingAutoRetrain] = &Feature{
		Name:           FeatureTrainingAutoRetrain,
		Description:    "Retrain the model when accuracy degrades",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Experimental features
	ff.features[FeatureModelLinearScoring] = &Feature{
		Name:           FeatureModelLinearScoring,
		Description:    "Trained linear scorer instead of the rule baseline",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout against the rule baseline
	}

	ff.features[FeatureReportsPerLearner] = &Feature{
		Name:           FeatureReportsPerLearner,
		Description:    "Per-learner accuracy report scope",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_DETECTION_ON_DEMAND=true
// Example: FEATURE_EXPERIMENTAL_LINEAR_MODEL=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "detection.on_demand" -> "FEATURE_DETECTION_ON_DEMAND"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given learner. An
// empty learner ID evaluates global state only.
func (ff *FeatureFlags) IsEnabled(featureName string, learnerID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check learner overrides first
	if learnerID != "" {
		if overrides, ok := ff.learnerOverrides[learnerID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && learnerID != "" {
		return ff.isInRollout(learnerID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a learner is in the rollout percentage.
// Uses consistent hashing so learners stay in their bucket.
func (ff *FeatureFlags) isInRollout(learnerID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(learnerID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetLearnerOverride sets a feature override for a specific learner.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetLearnerOverride(learnerID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.learnerOverrides[learnerID]; !ok {
		ff.learnerOverrides[learnerID] = make(map[string]bool)
	}
	ff.learnerOverrides[learnerID][featureName] = enabled
}

// ClearLearnerOverrides removes all overrides for a learner.
func (ff *FeatureFlags) ClearLearnerOverrides(learnerID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.learnerOverrides, learnerID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
