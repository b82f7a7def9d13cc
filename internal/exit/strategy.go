// Package exit implements exit-strategy configuration, score-based
// strategy assignment, and the per-position exit monitor.
package exit

import (
	"encoding/json"
	"fmt"

	"solana-smartmoney-bot/internal/storage"
)

// Exit reasons carried on EXIT orders
const (
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTrailing   = "TRAILING_STOP"
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonTimeLimit  = "TIME_LIMIT"
	ReasonStagnation = "STAGNATION"
	ReasonManual     = "MANUAL"
)

// TakeProfitLevel is one rung of the take-profit ladder
type TakeProfitLevel struct {
	TriggerMultiplier float64 `json:"trigger_multiplier"`
	SellFraction      float64 `json:"sell_fraction"`
}

// TrailingConfig arms a stop anchored to the running peak
type TrailingConfig struct {
	Enabled              bool    `json:"enabled"`
	ActivationMultiplier float64 `json:"activation_multiplier"`
	DistanceFraction     float64 `json:"distance_fraction"`
}

// TimeRulesConfig holds the time-based exit rules
type TimeRulesConfig struct {
	MaxHoldHours           int     `json:"max_hold_hours"`
	StagnationEnabled      bool    `json:"stagnation_enabled"`
	StagnationThresholdPct float64 `json:"stagnation_threshold_pct"`
	StagnationHours        int     `json:"stagnation_hours"`
}

// MoonbagConfig reserves a residual fraction never sold by take-profit
// rules, with its own wider stop loss.
type MoonbagConfig struct {
	Fraction         float64 `json:"fraction"`
	StopLossFraction float64 `json:"stop_loss_fraction"`
}

// Strategy is a full exit strategy configuration
type Strategy struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Preset           string            `json:"preset,omitempty"`
	IsDefault        bool              `json:"is_default"`
	DefaultTier      string            `json:"default_tier,omitempty"`
	TakeProfitLevels []TakeProfitLevel `json:"take_profit_levels"`
	StopLossFraction float64           `json:"stop_loss_fraction"`
	Trailing         TrailingConfig    `json:"trailing_stop"`
	TimeRules        TimeRulesConfig   `json:"time_rules"`
	Moonbag          MoonbagConfig     `json:"moonbag"`
}

// Validate checks the structural invariants: ladder sorted ascending by
// trigger, and total sell fraction leaving room for the moonbag.
func (s *Strategy) Validate() error {
	totalSell := 0.0
	prev := 0.0
	for i, level := range s.TakeProfitLevels {
		if level.TriggerMultiplier <= prev {
			return fmt.Errorf("take-profit levels must be sorted ascending (level %d)", i)
		}
		prev = level.TriggerMultiplier
		totalSell += level.SellFraction
	}
	if totalSell > 1.0-s.Moonbag.Fraction+1e-9 {
		return fmt.Errorf("take-profit sell fractions (%.2f) exceed 1 - moonbag (%.2f)",
			totalSell, 1.0-s.Moonbag.Fraction)
	}
	return nil
}

// ToRow encodes the strategy for persistence
func (s *Strategy) ToRow() (*storage.ExitStrategyRow, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return &storage.ExitStrategyRow{
		ID:          s.ID,
		Name:        s.Name,
		Preset:      s.Preset,
		IsDefault:   s.IsDefault,
		DefaultTier: s.DefaultTier,
		Config:      string(raw),
	}, nil
}

// FromRow decodes a persisted strategy
func FromRow(row *storage.ExitStrategyRow) (*Strategy, error) {
	var s Strategy
	if err := json.Unmarshal([]byte(row.Config), &s); err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", row.ID, err)
	}
	s.ID = row.ID
	s.Name = row.Name
	s.Preset = row.Preset
	s.IsDefault = row.IsDefault
	s.DefaultTier = row.DefaultTier
	return &s, nil
}

// DefaultStrategies returns the built-in presets seeded on first run
func DefaultStrategies() []*Strategy {
	return []*Strategy{
		{
			ID:          "standard-default",
			Name:        "Standard ladder",
			Preset:      "standard",
			IsDefault:   true,
			DefaultTier: storage.TierStandard,
			TakeProfitLevels: []TakeProfitLevel{
				{TriggerMultiplier: 1.5, SellFraction: 0.30},
				{TriggerMultiplier: 2.0, SellFraction: 0.30},
				{TriggerMultiplier: 3.0, SellFraction: 0.25},
			},
			StopLossFraction: 0.20,
			Trailing: TrailingConfig{
				Enabled:              true,
				ActivationMultiplier: 2.0,
				DistanceFraction:     0.15,
			},
			TimeRules: TimeRulesConfig{
				MaxHoldHours:           48,
				StagnationEnabled:      true,
				StagnationThresholdPct: 5.0,
				StagnationHours:        6,
			},
			Moonbag: MoonbagConfig{Fraction: 0.10, StopLossFraction: 0.50},
		},
		{
			ID:          "high-conviction",
			Name:        "High conviction ladder",
			Preset:      "aggressive",
			IsDefault:   true,
			DefaultTier: storage.TierHigh,
			TakeProfitLevels: []TakeProfitLevel{
				{TriggerMultiplier: 2.0, SellFraction: 0.25},
				{TriggerMultiplier: 3.0, SellFraction: 0.25},
				{TriggerMultiplier: 5.0, SellFraction: 0.25},
			},
			StopLossFraction: 0.25,
			Trailing: TrailingConfig{
				Enabled:              true,
				ActivationMultiplier: 3.0,
				DistanceFraction:     0.20,
			},
			TimeRules: TimeRulesConfig{
				MaxHoldHours:           72,
				StagnationEnabled:      true,
				StagnationThresholdPct: 5.0,
				StagnationHours:        12,
			},
			Moonbag: MoonbagConfig{Fraction: 0.15, StopLossFraction: 0.60},
		},
	}
}

// SeedDefaults writes the built-in presets when absent
func SeedDefaults(db *storage.DB) error {
	for _, s := range DefaultStrategies() {
		existing, err := db.GetExitStrategy(s.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		row, err := s.ToRow()
		if err != nil {
			return err
		}
		if err := db.UpsertExitStrategy(row); err != nil {
			return err
		}
	}
	return nil
}
