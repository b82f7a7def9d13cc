package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// ExitStrategyRow is a persisted exit strategy. Config holds the JSON
// rule set (take-profit ladder, stop loss, trailing, time rules, moonbag)
// decoded by the exit package.
type ExitStrategyRow struct {
	ID          string
	Name        string
	Preset      string
	IsDefault   bool
	DefaultTier string
	Config      string
}

// UpsertExitStrategy writes an exit strategy row
func (d *DB) UpsertExitStrategy(s *ExitStrategyRow) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO exit_strategies (id, name, preset, is_default, default_tier, config)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, nullStr(s.Preset), s.IsDefault, nullStr(s.DefaultTier), s.Config)
	return err
}

// GetExitStrategy retrieves an exit strategy by id, or nil
func (d *DB) GetExitStrategy(id string) (*ExitStrategyRow, error) {
	row := d.db.QueryRow(`
		SELECT id, name, preset, is_default, default_tier, config FROM exit_strategies WHERE id = ?`, id)
	return scanStrategy(row)
}

// GetDefaultExitStrategy retrieves the default strategy for a conviction tier.
// Falls back to the global default when no tier default exists.
func (d *DB) GetDefaultExitStrategy(tier string) (*ExitStrategyRow, error) {
	row := d.db.QueryRow(`
		SELECT id, name, preset, is_default, default_tier, config FROM exit_strategies
		WHERE is_default = 1 AND default_tier = ? LIMIT 1`, tier)
	s, err := scanStrategy(row)
	if err != nil || s != nil {
		return s, err
	}
	row = d.db.QueryRow(`
		SELECT id, name, preset, is_default, default_tier, config FROM exit_strategies
		WHERE is_default = 1 LIMIT 1`)
	return scanStrategy(row)
}

func scanStrategy(row rowScanner) (*ExitStrategyRow, error) {
	var s ExitStrategyRow
	var preset, tier sql.NullString
	err := row.Scan(&s.ID, &s.Name, &preset, &s.IsDefault, &tier, &s.Config)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Preset = preset.String
	s.DefaultTier = tier.String
	return &s, nil
}

// GetStrategyOverride returns the manual strategy override for a position, or empty
func (d *DB) GetStrategyOverride(positionID string) (string, error) {
	var strategyID string
	err := d.db.QueryRow(`
		SELECT strategy_id FROM exit_strategy_overrides WHERE position_id = ?`, positionID).Scan(&strategyID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return strategyID, err
}

// SetStrategyOverride records a manual strategy override for a position
func (d *DB) SetStrategyOverride(positionID, strategyID, operatorID string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO exit_strategy_overrides (position_id, strategy_id, operator_id, created_at)
		VALUES (?, ?, ?, ?)`, positionID, strategyID, operatorID, Now())
	return err
}

// StrategyAssignment is an audit record of a strategy assignment
type StrategyAssignment struct {
	PositionID  string
	StrategyID  string
	Source      string
	SignalScore float64
	AssignedAt  time.Time
}

// InsertStrategyAssignment appends an assignment audit record
func (d *DB) InsertStrategyAssignment(a *StrategyAssignment) error {
	_, err := d.db.Exec(`
		INSERT INTO exit_strategy_assignments (position_id, strategy_id, source, signal_score, assigned_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.PositionID, a.StrategyID, a.Source, a.SignalScore, a.AssignedAt.Unix())
	return err
}

// SizingAudit is a persisted record of a sizing decision with its input snapshot
type SizingAudit struct {
	SignalID       string
	SignalScore    float64
	AvailableSol   decimal.Decimal
	AllocatedSol   decimal.Decimal
	PositionCount  int
	ConvictionTier string
	BaseSizeSol    decimal.Decimal
	FinalSizeSol   decimal.Decimal
	Decision       string
	CreatedAt      time.Time
}

// InsertSizingAudit appends a sizing audit record
func (d *DB) InsertSizingAudit(a *SizingAudit) error {
	_, err := d.db.Exec(`
		INSERT INTO sizing_audits
		(signal_id, signal_score, available_sol, allocated_sol, position_count,
		 conviction_tier, base_size_sol, final_size_sol, decision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SignalID, a.SignalScore, decStr(a.AvailableSol), decStr(a.AllocatedSol),
		a.PositionCount, a.ConvictionTier, decStr(a.BaseSizeSol), decStr(a.FinalSizeSol),
		a.Decision, a.CreatedAt.Unix())
	return err
}

// AlertRow is a persisted alert
type AlertRow struct {
	AlertType      string
	Severity       string
	Title          string
	Message        string
	DedupeKey      string
	RequiresAction bool
	CreatedAt      time.Time
}

// InsertAlert appends an alert row
func (d *DB) InsertAlert(a *AlertRow) error {
	_, err := d.db.Exec(`
		INSERT INTO alerts (alert_type, severity, title, message, dedupe_key, requires_action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.AlertType, a.Severity, a.Title, a.Message, a.DedupeKey, a.RequiresAction, a.CreatedAt.Unix())
	return err
}

// LatestAlertTime returns when an alert with the dedupe key was last raised
func (d *DB) LatestAlertTime(dedupeKey string) (time.Time, bool, error) {
	var at int64
	err := d.db.QueryRow(`
		SELECT created_at FROM alerts WHERE dedupe_key = ? ORDER BY created_at DESC LIMIT 1`,
		dedupeKey).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(at, 0), true, nil
}
