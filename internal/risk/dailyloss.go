package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
)

// DailyLossMetrics is the derived daily PnL state
type DailyLossMetrics struct {
	Date               time.Time
	RealizedPnlSol     decimal.Decimal
	UnrealizedPnlSol   decimal.Decimal
	TotalPnlSol        decimal.Decimal
	StartingCapitalSol decimal.Decimal
	PnlPct             decimal.Decimal
	DailyLimitPct      decimal.Decimal
	LimitRemainingPct  decimal.Decimal
	IsLimitHit         bool
	IsWarningZone      bool
}

// DailyLossTracker computes realized + unrealized PnL for the day against
// the starting-of-day capital and blocks new entries past the limit.
// Exits are never blocked.
type DailyLossTracker struct {
	db  *storage.DB
	cfg *config.Manager
}

// NewDailyLossTracker creates a daily loss tracker
func NewDailyLossTracker(db *storage.DB, cfg *config.Manager) *DailyLossTracker {
	return &DailyLossTracker{db: db, cfg: cfg}
}

// GetDailyMetrics computes the current daily PnL metrics
func (t *DailyLossTracker) GetDailyMetrics() (*DailyLossMetrics, error) {
	rc := t.cfg.GetRisk()
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	starting, err := t.startingCapital(dayStart)
	if err != nil {
		return nil, err
	}

	realized, err := t.db.RealizedPnlSince(dayStart)
	if err != nil {
		return nil, fmt.Errorf("realized pnl: %w", err)
	}
	unrealized, err := t.db.SumOpenUnrealizedPnl()
	if err != nil {
		return nil, fmt.Errorf("unrealized pnl: %w", err)
	}

	total := realized.Add(unrealized)
	limitPct := decimal.NewFromFloat(rc.DailyLimitPct)

	pnlPct := decimal.Zero
	if starting.IsPositive() {
		pnlPct = total.Div(starting).Mul(decimal.NewFromInt(100))
	}

	m := &DailyLossMetrics{
		Date:               dayStart,
		RealizedPnlSol:     realized,
		UnrealizedPnlSol:   unrealized,
		TotalPnlSol:        total,
		StartingCapitalSol: starting,
		PnlPct:             pnlPct,
		DailyLimitPct:      limitPct,
		LimitRemainingPct:  limitPct,
	}

	if total.IsNegative() {
		lossPct := pnlPct.Abs()
		m.LimitRemainingPct = decimal.Max(decimal.Zero, limitPct.Sub(lossPct))
		warningAt := limitPct.Mul(decimal.NewFromFloat(rc.WarningThresholdPct)).Div(decimal.NewFromInt(100))
		switch {
		case lossPct.GreaterThanOrEqual(limitPct):
			m.IsLimitHit = true
		case lossPct.GreaterThanOrEqual(warningAt):
			m.IsWarningZone = true
		}
	}

	return m, nil
}

// IsEntryAllowed checks whether new entries are allowed under the daily
// loss limit. Returns the blocking reason when not.
func (t *DailyLossTracker) IsEntryAllowed() (bool, string, *DailyLossMetrics, error) {
	m, err := t.GetDailyMetrics()
	if err != nil {
		return false, "", nil, err
	}

	if m.IsLimitHit {
		reason := fmt.Sprintf("daily loss limit reached: %s%% (limit: %s%%)",
			m.PnlPct.StringFixed(2), m.DailyLimitPct.StringFixed(2))
		log.Warn().Str("reason", reason).Msg("entry blocked by daily limit")
		return false, reason, m, nil
	}

	if m.IsWarningZone {
		log.Info().
			Str("pnlPct", m.PnlPct.StringFixed(2)).
			Str("remaining", m.LimitRemainingPct.StringFixed(2)).
			Msg("daily loss warning zone")
	}

	return true, "", m, nil
}

// startingCapital resolves the capital at start of day:
// today's daily snapshot, else the latest capital snapshot before today,
// else the sum of open positions' entry SOL, floored at the configured
// capital floor.
func (t *DailyLossTracker) startingCapital(dayStart time.Time) (decimal.Decimal, error) {
	floor := decimal.NewFromFloat(t.cfg.GetRisk().CapitalFloorSol)

	if cap, ok, err := t.db.GetDailySnapshot(dayStart.Format("2006-01-02")); err == nil && ok {
		return cap, nil
	} else if err != nil {
		log.Debug().Err(err).Msg("daily snapshot lookup failed")
	}

	if snap, err := t.db.LatestCapitalSnapshotBefore(dayStart); err == nil && snap != nil {
		return snap.Capital, nil
	} else if err != nil {
		log.Debug().Err(err).Msg("capital snapshot lookup failed")
	}

	total, err := t.db.SumOpenEntrySol()
	if err != nil {
		log.Warn().Err(err).Msg("starting capital calculation failed, using floor")
		return floor, nil
	}
	return decimal.Max(total, floor), nil
}

// RecordDailySnapshot stores the starting capital for today if absent
func (t *DailyLossTracker) RecordDailySnapshot(capital decimal.Decimal) error {
	date := time.Now().UTC().Format("2006-01-02")
	if _, ok, err := t.db.GetDailySnapshot(date); err != nil {
		return err
	} else if ok {
		return nil
	}
	return t.db.UpsertDailySnapshot(date, capital)
}
