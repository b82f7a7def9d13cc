package signal

import (
	"context"
	"math"
	"testing"

	"solana-smartmoney-bot/internal/adapter/sim"
	"solana-smartmoney-bot/internal/walletcache"
)

const scorerConfig = `
signal:
    trade_threshold: 0.65
    leader_bonus: 1.15
    min_cluster_boost: 1.0
    max_cluster_boost: 1.5
`

func entry(reputation float64, leader bool, clusterID string, weight float64) *walletcache.Entry {
	return &walletcache.Entry{
		Wallet:        "W1",
		IsMonitored:   true,
		Reputation:    reputation,
		IsLeader:      leader,
		ClusterID:     clusterID,
		ClusterWeight: weight,
	}
}

func TestPlainWalletScore(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: true})

	scored, err := s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.80, false, "", 1))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(scored.FinalScore-0.80) > 1e-9 {
		t.Errorf("final score = %v, want 0.80", scored.FinalScore)
	}
	if scored.ClusterBoost != 1.0 {
		t.Errorf("cluster boost = %v, want 1.0 without cluster", scored.ClusterBoost)
	}
}

func TestLeaderAndClusterBoost(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: true})

	// reputation 0.60, leader bonus 1.15 -> 0.69; cluster 1.3 -> 0.897
	scored, err := s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.60, true, "c1", 1.3))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if math.Abs(scored.WalletScore-0.69) > 1e-9 {
		t.Errorf("wallet score = %v, want 0.69", scored.WalletScore)
	}
	if math.Abs(scored.FinalScore-0.897) > 1e-9 {
		t.Errorf("final score = %v, want 0.897", scored.FinalScore)
	}
	if !scored.IsLeader || scored.ClusterID != "c1" {
		t.Errorf("leader/cluster not carried: %+v", scored)
	}
}

func TestScoreClampedToOne(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: true})

	scored, err := s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.95, true, "c1", 1.5))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scored.FinalScore > 1.0 {
		t.Errorf("final score %v exceeds 1", scored.FinalScore)
	}
	if scored.WalletScore > 1.0 {
		t.Errorf("wallet score %v exceeds 1", scored.WalletScore)
	}
}

func TestClusterBoostClampedToRange(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: true})

	scored, _ := s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.5, false, "c1", 9.0))
	if scored.ClusterBoost != 1.5 {
		t.Errorf("cluster boost = %v, want clamp to 1.5", scored.ClusterBoost)
	}

	scored, _ = s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.5, false, "c1", 0.2))
	if scored.ClusterBoost != 1.0 {
		t.Errorf("cluster boost = %v, want clamp to 1.0", scored.ClusterBoost)
	}
}

// Holding all else equal, a better wallet or stronger cluster never
// lowers the final score.
func TestScoringMonotonicity(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: true})
	ctx := context.Background()

	prev := -1.0
	for rep := 0.0; rep <= 1.0; rep += 0.05 {
		scored, err := s.Score(ctx, buyEvent("W1", "T1"), entry(rep, false, "c1", 1.2))
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if scored.FinalScore < prev {
			t.Fatalf("score decreased from %v to %v at reputation %v", prev, scored.FinalScore, rep)
		}
		prev = scored.FinalScore
	}

	prev = -1.0
	for weight := 1.0; weight <= 1.5; weight += 0.05 {
		scored, err := s.Score(ctx, buyEvent("W1", "T1"), entry(0.6, false, "c1", weight))
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if scored.FinalScore < prev {
			t.Fatalf("score decreased from %v to %v at weight %v", prev, scored.FinalScore, weight)
		}
		prev = scored.FinalScore
	}
}

func TestUnsafeTokenRecorded(t *testing.T) {
	s := NewScorer(testConfig(t, scorerConfig), sim.StaticSafety{Safe: false, Reason: "honeypot"})

	scored, err := s.Score(context.Background(), buyEvent("W1", "T1"), entry(0.9, false, "", 1))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scored.TokenSafe {
		t.Error("token should be unsafe")
	}
	if scored.TokenRejectReason != "honeypot" {
		t.Errorf("reject reason = %q, want honeypot", scored.TokenRejectReason)
	}
}
