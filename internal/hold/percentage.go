package hold

// AgentTier classifies couriers for hold sizing. Internal couriers post
// no security hold, verified ones a reduced hold, and unverified ones
// the full order amount.
type AgentTier string

const (
	TierInternal   AgentTier = "internal"
	TierVerified   AgentTier = "verified"
	TierUnverified AgentTier = "unverified"
)

// PercentageConfig holds the per-tier hold percentages, loaded from
// application configuration.
type PercentageConfig struct {
	Internal   int64
	Verified   int64
	Unverified int64
}

// DefaultPercentages returns the stock configuration.
func DefaultPercentages() PercentageConfig {
	return PercentageConfig{Internal: 0, Verified: 80, Unverified: 100}
}

// PercentageFor returns the hold percentage for an agent tier. Unknown
// tiers fall back to the unverified percentage.
func PercentageFor(tier AgentTier, cfg PercentageConfig) int64 {
	switch tier {
	case TierInternal:
		return cfg.Internal
	case TierVerified:
		return cfg.Verified
	default:
		return cfg.Unverified
	}
}

// AgentHoldAmount sizes the agent-side hold as a percentage of the order
// total, truncated to minor units.
func AgentHoldAmount(orderTotal, percentage int64) int64 {
	if orderTotal <= 0 || percentage <= 0 {
		return 0
	}
	return orderTotal * percentage / 100
}
