package exit

import (
	"testing"

	"solana-smartmoney-bot/internal/storage"
)

func TestStrategyValidation(t *testing.T) {
	valid := &Strategy{
		ID:   "s1",
		Name: "ok",
		TakeProfitLevels: []TakeProfitLevel{
			{TriggerMultiplier: 1.5, SellFraction: 0.4},
			{TriggerMultiplier: 2.0, SellFraction: 0.4},
		},
		Moonbag: MoonbagConfig{Fraction: 0.2},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid strategy rejected: %v", err)
	}

	unsorted := &Strategy{
		ID:   "s2",
		Name: "unsorted",
		TakeProfitLevels: []TakeProfitLevel{
			{TriggerMultiplier: 2.0, SellFraction: 0.3},
			{TriggerMultiplier: 1.5, SellFraction: 0.3},
		},
	}
	if err := unsorted.Validate(); err == nil {
		t.Error("unsorted ladder must be rejected")
	}

	overSold := &Strategy{
		ID:   "s3",
		Name: "oversold",
		TakeProfitLevels: []TakeProfitLevel{
			{TriggerMultiplier: 1.5, SellFraction: 0.6},
			{TriggerMultiplier: 2.0, SellFraction: 0.4},
		},
		Moonbag: MoonbagConfig{Fraction: 0.2},
	}
	if err := overSold.Validate(); err == nil {
		t.Error("ladder selling into the moonbag must be rejected")
	}
}

func TestStrategyRowRoundtrip(t *testing.T) {
	s := DefaultStrategies()[0]
	row, err := s.ToRow()
	if err != nil {
		t.Fatalf("ToRow: %v", err)
	}

	back, err := FromRow(row)
	if err != nil {
		t.Fatalf("FromRow: %v", err)
	}
	if back.ID != s.ID || len(back.TakeProfitLevels) != len(s.TakeProfitLevels) {
		t.Errorf("roundtrip mismatch: %+v", back)
	}
	if back.Moonbag.Fraction != s.Moonbag.Fraction {
		t.Errorf("moonbag fraction = %v, want %v", back.Moonbag.Fraction, s.Moonbag.Fraction)
	}
	if back.TimeRules.StagnationHours != s.TimeRules.StagnationHours {
		t.Errorf("stagnation hours = %v, want %v", back.TimeRules.StagnationHours, s.TimeRules.StagnationHours)
	}
}

func TestSeedDefaults(t *testing.T) {
	db := openTestDB(t)

	if err := SeedDefaults(db); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	// Idempotent.
	if err := SeedDefaults(db); err != nil {
		t.Fatalf("second SeedDefaults: %v", err)
	}

	for _, tier := range []string{storage.TierStandard, storage.TierHigh} {
		row, err := db.GetDefaultExitStrategy(tier)
		if err != nil {
			t.Fatalf("GetDefaultExitStrategy(%s): %v", tier, err)
		}
		if row == nil {
			t.Fatalf("no default strategy for tier %s", tier)
		}
		s, err := FromRow(row)
		if err != nil {
			t.Fatalf("FromRow: %v", err)
		}
		if err := s.Validate(); err != nil {
			t.Errorf("seeded strategy %s invalid: %v", s.ID, err)
		}
	}
}
