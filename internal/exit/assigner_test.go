package exit

import (
	"testing"

	"solana-smartmoney-bot/internal/storage"
)

const mappingConfig = `
exit:
    mappings:
        - min_score: 0.65
          max_score: 0.79
          strategy_id: standard-default
        - min_score: 0.80
          max_score: 1.0
          strategy_id: high-conviction
`

func seededAssigner(t *testing.T, cfgContent string) (*Assigner, *storage.DB) {
	t.Helper()
	db := openTestDB(t)
	if err := SeedDefaults(db); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	return NewAssigner(db, testConfig(t, cfgContent)), db
}

func TestManualOverrideWins(t *testing.T) {
	a, db := seededAssigner(t, mappingConfig)

	if err := db.SetStrategyOverride("pos-1", "high-conviction", "op-1"); err != nil {
		t.Fatalf("SetStrategyOverride: %v", err)
	}

	got, err := a.Assign("pos-1", 0.70, storage.TierStandard)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.StrategyID != "high-conviction" || got.Source != SourceManualOverride {
		t.Errorf("assignment = %+v, want manual override", got)
	}
}

func TestScoreMappingPicksFirstContainingRange(t *testing.T) {
	a, _ := seededAssigner(t, mappingConfig)

	got, err := a.Assign("pos-1", 0.85, storage.TierStandard)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.StrategyID != "high-conviction" || got.Source != SourceScoreMapping {
		t.Errorf("assignment = %+v, want score mapping to high-conviction", got)
	}

	got, err = a.Assign("pos-2", 0.70, storage.TierStandard)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.StrategyID != "standard-default" {
		t.Errorf("assignment = %+v, want standard-default", got)
	}
}

func TestTierDefaultFallback(t *testing.T) {
	a, _ := seededAssigner(t, "")

	got, err := a.Assign("pos-1", 0.99, storage.TierHigh)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.StrategyID != "high-conviction" || got.Source != SourceTierDefault {
		t.Errorf("assignment = %+v, want tier default", got)
	}

	got, err = a.Assign("pos-2", 0.70, storage.TierStandard)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if got.StrategyID != "standard-default" {
		t.Errorf("assignment = %+v, want standard default", got)
	}
}

func TestPreviewIsPure(t *testing.T) {
	a, _ := seededAssigner(t, mappingConfig)

	id, source, err := a.Preview(0.85, storage.TierStandard)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if id != "high-conviction" || source != SourceScoreMapping {
		t.Errorf("preview = %s/%s", id, source)
	}

	id, source, err = a.Preview(0.50, storage.TierStandard)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if id != "standard-default" || source != SourceTierDefault {
		t.Errorf("preview = %s/%s, want tier default", id, source)
	}
}
