package exit

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
)

// Assignment sources
const (
	SourceManualOverride = "manual_override"
	SourceScoreMapping   = "score_mapping"
	SourceTierDefault    = "tier_default"
)

// Assignment is the resolved strategy for a position
type Assignment struct {
	PositionID string
	StrategyID string
	Source     string
	Score      float64
}

// Assigner picks an exit strategy for new positions: manual override
// first, then the configured score ranges, then the tier default.
type Assigner struct {
	db  *storage.DB
	cfg *config.Manager
}

// NewAssigner creates a strategy assigner
func NewAssigner(db *storage.DB, cfg *config.Manager) *Assigner {
	return &Assigner{db: db, cfg: cfg}
}

// Assign resolves and records the strategy for a position
func (a *Assigner) Assign(positionID string, signalScore float64, tier string) (*Assignment, error) {
	assignment := &Assignment{PositionID: positionID, Score: signalScore}

	override, err := a.db.GetStrategyOverride(positionID)
	if err != nil {
		return nil, err
	}
	if override != "" {
		assignment.StrategyID = override
		assignment.Source = SourceManualOverride
	} else if id := a.mappedStrategy(signalScore); id != "" {
		assignment.StrategyID = id
		assignment.Source = SourceScoreMapping
	} else {
		row, err := a.db.GetDefaultExitStrategy(tier)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, fmt.Errorf("no default exit strategy for tier %s", tier)
		}
		assignment.StrategyID = row.ID
		assignment.Source = SourceTierDefault
	}

	if err := a.db.InsertStrategyAssignment(&storage.StrategyAssignment{
		PositionID:  positionID,
		StrategyID:  assignment.StrategyID,
		Source:      assignment.Source,
		SignalScore: signalScore,
		AssignedAt:  time.Now(),
	}); err != nil {
		return nil, err
	}

	log.Info().
		Str("positionID", positionID).
		Str("strategyID", assignment.StrategyID).
		Str("source", assignment.Source).
		Float64("score", signalScore).
		Msg("exit strategy assigned")

	return assignment, nil
}

// Preview resolves which strategy a hypothetical score would receive.
// Pure function of the configuration; nothing is recorded.
func (a *Assigner) Preview(signalScore float64, tier string) (string, string, error) {
	if id := a.mappedStrategy(signalScore); id != "" {
		return id, SourceScoreMapping, nil
	}
	row, err := a.db.GetDefaultExitStrategy(tier)
	if err != nil {
		return "", "", err
	}
	if row == nil {
		return "", "", fmt.Errorf("no default exit strategy for tier %s", tier)
	}
	return row.ID, SourceTierDefault, nil
}

// mappedStrategy returns the first configured range containing the score
func (a *Assigner) mappedStrategy(score float64) string {
	for _, m := range a.cfg.Get().Exit.Mappings {
		if score >= m.MinScore && score <= m.MaxScore {
			return m.StrategyID
		}
	}
	return ""
}
