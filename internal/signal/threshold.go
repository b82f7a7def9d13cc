package signal

import (
	"fmt"

	"solana-smartmoney-bot/internal/config"
)

// ThresholdResult is the gate decision for a scored signal
type ThresholdResult struct {
	Passed             bool
	Score              float64
	Threshold          float64
	PositionMultiplier float64
	Reason             string
}

// ThresholdChecker gates scored signals against the configured trade
// threshold. Unsafe tokens fail regardless of score.
type ThresholdChecker struct {
	cfg *config.Manager
}

// NewThresholdChecker creates a threshold checker
func NewThresholdChecker(cfg *config.Manager) *ThresholdChecker {
	return &ThresholdChecker{cfg: cfg}
}

// Check evaluates a scored signal. The position multiplier equals the
// cluster boost when passing, 1.0 otherwise.
func (c *ThresholdChecker) Check(sig *ScoredSignal) ThresholdResult {
	threshold := c.cfg.GetSignal().TradeThreshold

	if !sig.TokenSafe {
		reason := sig.TokenRejectReason
		if reason == "" {
			reason = "token_unsafe"
		}
		return ThresholdResult{
			Passed:             false,
			Score:              0,
			Threshold:          threshold,
			PositionMultiplier: 1.0,
			Reason:             reason,
		}
	}

	passed := sig.FinalScore >= threshold
	result := ThresholdResult{
		Passed:             passed,
		Score:              sig.FinalScore,
		Threshold:          threshold,
		PositionMultiplier: 1.0,
	}
	if passed {
		result.PositionMultiplier = sig.ClusterBoost
	} else {
		result.Reason = fmt.Sprintf("score %.3f below threshold %.3f", sig.FinalScore, threshold)
	}
	return result
}
