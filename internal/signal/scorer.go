package signal

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/walletcache"
)

// Scorer combines wallet quality, leader bonus and cluster boost into a
// final score in [0,1]. Wallet quality stays the dominant axis; cluster
// co-movement amplifies already-qualified wallets.
type Scorer struct {
	cfg    *config.Manager
	safety ports.TokenSafety
}

// NewScorer creates a signal scorer
func NewScorer(cfg *config.Manager, safety ports.TokenSafety) *Scorer {
	return &Scorer{cfg: cfg, safety: safety}
}

// Score computes the final score for a filtered swap event
func (s *Scorer) Score(ctx context.Context, ev *SwapEvent, meta *walletcache.Entry) (*ScoredSignal, error) {
	cfg := s.cfg.GetSignal()

	walletScore := meta.Reputation
	if meta.IsLeader {
		walletScore = math.Min(1.0, walletScore*cfg.LeaderBonus)
	}

	clusterBoost := 1.0
	if meta.ClusterID != "" {
		clusterBoost = clampRange(meta.ClusterWeight, cfg.MinClusterBoost, cfg.MaxClusterBoost)
	}

	finalScore := clampRange(walletScore*clusterBoost, 0, 1)

	tokenSafe, rejectReason := true, ""
	if s.safety != nil {
		safe, reason, err := s.safety.Check(ctx, ev.Token)
		if err != nil {
			// A safety-source failure is not a verdict; fail closed.
			log.Warn().Err(err).Str("token", ev.Token).Msg("token safety check failed")
			safe, reason = false, "safety_check_unavailable"
		}
		tokenSafe, rejectReason = safe, reason
	}

	scored := &ScoredSignal{
		Event:             *ev,
		WalletScore:       walletScore,
		ClusterBoost:      clusterBoost,
		FinalScore:        finalScore,
		TokenSafe:         tokenSafe,
		TokenRejectReason: rejectReason,
		IsLeader:          meta.IsLeader,
		ClusterID:         meta.ClusterID,
	}
	scored.Explanation = fmt.Sprintf("Wallet: %.2f | Cluster: %.2fx | Final: %.2f",
		walletScore, clusterBoost, finalScore)

	return scored, nil
}

func clampRange(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
