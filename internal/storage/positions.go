package storage

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Position statuses
const (
	PositionOpen        = "OPEN"
	PositionPartialExit = "PARTIAL_EXIT"
	PositionClosed      = "CLOSED"
)

// Conviction tiers
const (
	TierStandard = "STANDARD"
	TierHigh     = "HIGH"
)

// Position is a persisted position row. The exit monitor owns it while
// open; the executor mutates it only on FILLED transitions.
type Position struct {
	ID                  string
	SignalID            string
	Token               string
	EntryPrice          decimal.Decimal
	EntryAmountSol      decimal.Decimal
	EntryAmountTokens   uint64
	CurrentAmountTokens uint64
	Status              string
	ExitStrategyID      string
	ConvictionTier      string
	EntryTime           time.Time
	ClosedAt            time.Time
	RealizedPnlSol      decimal.Decimal
	UnrealizedPnlSol    decimal.Decimal
	IsSimulated         bool

	// Exit-monitor state, persisted so ticks are safe to replay
	FiredTPLevels   []int
	TrailingArmed   bool
	TrailingPeak    decimal.NullDecimal
	StagnationStart time.Time
	StagnationPrice decimal.NullDecimal
}

// HasFiredTP reports whether a take-profit level index already fired
func (p *Position) HasFiredTP(level int) bool {
	for _, l := range p.FiredTPLevels {
		if l == level {
			return true
		}
	}
	return false
}

func encodeTPLevels(levels []int) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}

func decodeTPLevels(s string) []int {
	if s == "" {
		return nil
	}
	var levels []int
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(part); err == nil {
			levels = append(levels, n)
		}
	}
	return levels
}

// InsertPosition persists a new position
func (d *DB) InsertPosition(p *Position) error {
	_, err := d.db.Exec(`
		INSERT INTO positions
		(id, signal_id, token, entry_price, entry_amount_sol, entry_amount_tokens,
		 current_amount_tokens, status, exit_strategy_id, conviction_tier, entry_time,
		 closed_at, realized_pnl_sol, unrealized_pnl_sol, is_simulated,
		 fired_tp_levels, trailing_armed, trailing_peak, stagnation_start, stagnation_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SignalID, p.Token, decStr(p.EntryPrice), decStr(p.EntryAmountSol), p.EntryAmountTokens,
		p.CurrentAmountTokens, p.Status, p.ExitStrategyID, p.ConvictionTier, p.EntryTime.Unix(),
		timeVal(p.ClosedAt), decStr(p.RealizedPnlSol), decStr(p.UnrealizedPnlSol), p.IsSimulated,
		encodeTPLevels(p.FiredTPLevels), p.TrailingArmed, nullDecStr(p.TrailingPeak),
		timeVal(p.StagnationStart), nullDecStr(p.StagnationPrice))
	return err
}

// UpdatePosition rewrites the mutable fields of a position row
func (d *DB) UpdatePosition(p *Position) error {
	_, err := d.db.Exec(`
		UPDATE positions SET current_amount_tokens = ?, status = ?, closed_at = ?,
		realized_pnl_sol = ?, unrealized_pnl_sol = ?, fired_tp_levels = ?,
		trailing_armed = ?, trailing_peak = ?, stagnation_start = ?, stagnation_price = ?
		WHERE id = ?`,
		p.CurrentAmountTokens, p.Status, timeVal(p.ClosedAt),
		decStr(p.RealizedPnlSol), decStr(p.UnrealizedPnlSol), encodeTPLevels(p.FiredTPLevels),
		p.TrailingArmed, nullDecStr(p.TrailingPeak),
		timeVal(p.StagnationStart), nullDecStr(p.StagnationPrice), p.ID)
	return err
}

// GetPosition retrieves a position by id
func (d *DB) GetPosition(id string) (*Position, error) {
	row := d.db.QueryRow(positionSelect+` WHERE id = ?`, id)
	return scanPosition(row)
}

// ListOpenPositions retrieves all OPEN and PARTIAL_EXIT positions
func (d *DB) ListOpenPositions() ([]*Position, error) {
	rows, err := d.db.Query(positionSelect+` WHERE status IN (?, ?) ORDER BY entry_time`,
		PositionOpen, PositionPartialExit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// CountOpenPositions returns the number of open positions
func (d *DB) CountOpenPositions() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE status IN (?, ?)`,
		PositionOpen, PositionPartialExit).Scan(&n)
	return n, err
}

// SumOpenEntrySol returns the total entry SOL across open positions
func (d *DB) SumOpenEntrySol() (decimal.Decimal, error) {
	return d.sumOpenColumn("entry_amount_sol")
}

// SumOpenUnrealizedPnl returns the total unrealized PnL across open positions
func (d *DB) SumOpenUnrealizedPnl() (decimal.Decimal, error) {
	return d.sumOpenColumn("unrealized_pnl_sol")
}

func (d *DB) sumOpenColumn(col string) (decimal.Decimal, error) {
	rows, err := d.db.Query(`SELECT `+col+` FROM positions WHERE status IN (?, ?)`,
		PositionOpen, PositionPartialExit)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(scanDec(s))
	}
	return total, rows.Err()
}

// RealizedPnlSince sums realized PnL of positions closed at or after t
func (d *DB) RealizedPnlSince(t time.Time) (decimal.Decimal, error) {
	rows, err := d.db.Query(`
		SELECT realized_pnl_sol FROM positions WHERE status = ? AND closed_at >= ?`,
		PositionClosed, t.Unix())
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(scanDec(s))
	}
	return total, rows.Err()
}

const positionSelect = `
	SELECT id, signal_id, token, entry_price, entry_amount_sol, entry_amount_tokens,
	       current_amount_tokens, status, exit_strategy_id, conviction_tier, entry_time,
	       closed_at, realized_pnl_sol, unrealized_pnl_sol, is_simulated,
	       fired_tp_levels, trailing_armed, trailing_peak, stagnation_start, stagnation_price
	FROM positions`

func scanPosition(row rowScanner) (*Position, error) {
	var p Position
	var sigID, strategyID sql.NullString
	var entryPrice, entrySol, realized, unrealized, fired string
	var trailingPeak, stagPrice sql.NullString
	var entryTime int64
	var closedAt, stagStart sql.NullInt64
	err := row.Scan(&p.ID, &sigID, &p.Token, &entryPrice, &entrySol, &p.EntryAmountTokens,
		&p.CurrentAmountTokens, &p.Status, &strategyID, &p.ConvictionTier, &entryTime,
		&closedAt, &realized, &unrealized, &p.IsSimulated,
		&fired, &p.TrailingArmed, &trailingPeak, &stagStart, &stagPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.SignalID = sigID.String
	p.ExitStrategyID = strategyID.String
	p.EntryPrice = scanDec(entryPrice)
	p.EntryAmountSol = scanDec(entrySol)
	p.RealizedPnlSol = scanDec(realized)
	p.UnrealizedPnlSol = scanDec(unrealized)
	p.EntryTime = time.Unix(entryTime, 0)
	p.ClosedAt = nullTime(closedAt)
	p.FiredTPLevels = decodeTPLevels(fired)
	p.TrailingPeak = scanNullDec(trailingPeak)
	p.StagnationStart = nullTime(stagStart)
	p.StagnationPrice = scanNullDec(stagPrice)
	return &p, nil
}
