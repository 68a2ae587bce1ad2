package auth

import (
	"sentinel.io/entities"
	"sentinel.io/infrastructure/config"
)

// TrustPolicy classifies a 1:N match distance into a trust tier and tracks
// the shared retry budget for soft failures.
type TrustPolicy struct {
	golden     float64
	standard   float64
	twoFactor  float64
	maxRetries int

	retryCount int
}

// NewTrustPolicy builds a policy from the security configuration.
func NewTrustPolicy(cfg config.SecurityConfig) *TrustPolicy {
	return &TrustPolicy{
		golden:     cfg.GoldenThreshold,
		standard:   cfg.StandardThreshold,
		twoFactor:  cfg.TwoFactorThreshold,
		maxRetries: cfg.MaxRetries,
	}
}

// Classify maps a cosine distance to a tier. Bands are inclusive on their
// lower bound: d < golden is Tier 1, golden <= d < standard Tier 2,
// standard <= d < twoFactor Tier 3, anything else Tier 4.
func (tp *TrustPolicy) Classify(distance float64) entities.TrustTier {
	switch {
	case distance < tp.golden:
		return entities.TierGolden
	case distance < tp.standard:
		return entities.TierStandard
	case distance < tp.twoFactor:
		return entities.Tier2FA
	default:
		return entities.TierUnknown
	}
}

// ConsumeRetry burns one retry for a soft failure and returns the number of
// attempts remaining.
func (tp *TrustPolicy) ConsumeRetry() int {
	tp.retryCount++
	remaining := tp.maxRetries - tp.retryCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// LockedOut reports whether the retry budget is exhausted.
func (tp *TrustPolicy) LockedOut() bool {
	return tp.retryCount >= tp.maxRetries
}

// Retries returns the number of retries consumed so far.
func (tp *TrustPolicy) Retries() int {
	return tp.retryCount
}
