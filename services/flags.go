package services

import (
	"log"

	"reward-sync-system/utils"
)

// FeatureFlags are the kill switches. Each optional optimization can be
// turned off independently, and OPTIMIZATIONS_DISABLED forces all of them off
// at once so the pipeline reverts to naive, uncoalesced, one-at-a-time
// behavior without a code change.
type FeatureFlags struct {
	CoalesceEnabled       bool // merge same-kind pending events before transmission
	AnimationQueueEnabled bool // buffer + schedule popups instead of replacing the current one
	UnloadFlushEnabled    bool // best-effort final flush on shutdown
}

// LoadFeatureFlags reads the kill switches from the environment.
func LoadFeatureFlags() FeatureFlags {
	if utils.EnvBool("OPTIMIZATIONS_DISABLED", false) {
		log.Println("⚠️  OPTIMIZATIONS_DISABLED set — running naive pipeline (no coalescing, no queueing, no unload flush)")
		return FeatureFlags{}
	}
	return FeatureFlags{
		CoalesceEnabled:       utils.EnvBool("COALESCE_ENABLED", true),
		AnimationQueueEnabled: utils.EnvBool("ANIMATION_QUEUE_ENABLED", true),
		UnloadFlushEnabled:    utils.EnvBool("UNLOAD_FLUSH_ENABLED", true),
	}
}
