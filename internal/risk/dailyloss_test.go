package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/storage"
)

const riskConfig = `
risk:
    daily_limit_pct: 5.0
    warning_threshold_pct: 80.0
    capital_floor_sol: 10.0
`

func openPosition(t *testing.T, db *storage.DB, id string, entrySol, unrealized string) {
	t.Helper()
	if err := db.InsertPosition(&storage.Position{
		ID: id, Token: "T-" + id,
		EntryPrice:     decimal.RequireFromString("0.000001"),
		EntryAmountSol: decimal.RequireFromString(entrySol), EntryAmountTokens: 1000,
		CurrentAmountTokens: 1000, Status: storage.PositionOpen,
		ConvictionTier: storage.TierStandard, EntryTime: time.Now(),
		UnrealizedPnlSol: decimal.RequireFromString(unrealized),
	}); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
}

func closedPosition(t *testing.T, db *storage.DB, id string, realized string, closedAt time.Time) {
	t.Helper()
	if err := db.InsertPosition(&storage.Position{
		ID: id, Token: "T-" + id,
		EntryPrice:     decimal.RequireFromString("0.000001"),
		EntryAmountSol: decimal.RequireFromString("1"), EntryAmountTokens: 1000,
		CurrentAmountTokens: 0, Status: storage.PositionClosed,
		ConvictionTier: storage.TierStandard,
		EntryTime:      closedAt.Add(-time.Hour), ClosedAt: closedAt,
		RealizedPnlSol: decimal.RequireFromString(realized),
	}); err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
}

func TestStartingCapitalFromDailySnapshot(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	today := time.Now().UTC().Format("2006-01-02")
	db.UpsertDailySnapshot(today, decimal.RequireFromString("250"))

	m, err := tr.GetDailyMetrics()
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if !m.StartingCapitalSol.Equal(decimal.RequireFromString("250")) {
		t.Errorf("starting capital = %s, want 250 (daily snapshot)", m.StartingCapitalSol)
	}
}

func TestStartingCapitalFromPriorSnapshot(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	db.InsertCapitalSnapshot(&storage.CapitalSnapshot{
		Capital:     decimal.RequireFromString("180"),
		PeakCapital: decimal.RequireFromString("200"),
		Timestamp:   time.Now().UTC().Add(-36 * time.Hour),
	})

	m, err := tr.GetDailyMetrics()
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if !m.StartingCapitalSol.Equal(decimal.RequireFromString("180")) {
		t.Errorf("starting capital = %s, want 180 (prior snapshot)", m.StartingCapitalSol)
	}
}

func TestStartingCapitalFromPositionsWithFloor(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	// 3 SOL of open entries is below the 10 SOL floor.
	openPosition(t, db, "p1", "3", "0")
	m, err := tr.GetDailyMetrics()
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if !m.StartingCapitalSol.Equal(decimal.RequireFromString("10")) {
		t.Errorf("starting capital = %s, want floor 10", m.StartingCapitalSol)
	}

	openPosition(t, db, "p2", "47", "0")
	m, _ = tr.GetDailyMetrics()
	if !m.StartingCapitalSol.Equal(decimal.RequireFromString("50")) {
		t.Errorf("starting capital = %s, want 50 (3 + 47)", m.StartingCapitalSol)
	}
}

func TestDailyLimitHit(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	db.UpsertDailySnapshot(time.Now().UTC().Format("2006-01-02"), decimal.RequireFromString("100"))
	closedPosition(t, db, "c1", "-6", time.Now())

	m, err := tr.GetDailyMetrics()
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if !m.IsLimitHit {
		t.Errorf("limit should be hit at -6%%: %+v", m)
	}

	allowed, reason, _, err := tr.IsEntryAllowed()
	if err != nil {
		t.Fatalf("IsEntryAllowed: %v", err)
	}
	if allowed || reason == "" {
		t.Errorf("entry must be blocked with a reason, got allowed=%v reason=%q", allowed, reason)
	}
}

func TestWarningZone(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	db.UpsertDailySnapshot(time.Now().UTC().Format("2006-01-02"), decimal.RequireFromString("100"))
	openPosition(t, db, "p1", "5", "-4.5")

	m, err := tr.GetDailyMetrics()
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if m.IsLimitHit {
		t.Error("-4.5% must not hit the 5% limit")
	}
	if !m.IsWarningZone {
		t.Error("-4.5% must be in the warning zone (80% of 5%)")
	}

	allowed, _, _, _ := tr.IsEntryAllowed()
	if !allowed {
		t.Error("warning zone must still allow entries")
	}
}

func TestProfitNeverBlocks(t *testing.T) {
	db := testDB(t)
	tr := NewDailyLossTracker(db, testConfig(t, riskConfig))

	db.UpsertDailySnapshot(time.Now().UTC().Format("2006-01-02"), decimal.RequireFromString("100"))
	closedPosition(t, db, "c1", "20", time.Now())

	m, _ := tr.GetDailyMetrics()
	if m.IsLimitHit || m.IsWarningZone {
		t.Errorf("profit flagged as loss: %+v", m)
	}
}

func TestEntryGateBlocksAndRecords(t *testing.T) {
	db := testDB(t)
	cfg := testConfig(t, riskConfig)
	tr := NewDailyLossTracker(db, cfg)
	state, _ := NewStateManager(db)
	gate := NewEntryGate(state, tr, db)

	// Healthy book: entries pass, nothing recorded.
	allowed, _, err := gate.Allow("tx1", "W1", "T1")
	if err != nil || !allowed {
		t.Fatalf("healthy gate: allowed=%v err=%v", allowed, err)
	}

	// Paused system: entry blocked and the signal recorded.
	state.Pause("op-1", "maintenance", "")
	allowed, reason, err := gate.Allow("tx2", "W1", "T1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed || reason == "" {
		t.Errorf("paused gate: allowed=%v reason=%q", allowed, reason)
	}

	n, _ := db.CountBlockedSignals()
	if n != 1 {
		t.Errorf("blocked signals = %d, want 1", n)
	}

	// The gate governs entries only; exits bypass it entirely.
	if !state.CanExit() {
		t.Error("exits must never be blocked")
	}
}

func TestDailyLimitBlocksViaGate(t *testing.T) {
	db := testDB(t)
	cfg := testConfig(t, riskConfig)
	tr := NewDailyLossTracker(db, cfg)
	state, _ := NewStateManager(db)
	gate := NewEntryGate(state, tr, db)

	db.UpsertDailySnapshot(time.Now().UTC().Format("2006-01-02"), decimal.RequireFromString("100"))
	closedPosition(t, db, "c1", "-8", time.Now())

	allowed, reason, err := gate.Allow("tx1", "W1", "T1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Errorf("entry allowed past daily limit, reason=%q", reason)
	}

	n, _ := db.CountBlockedSignals()
	if n != 1 {
		t.Errorf("blocked signals = %d, want 1", n)
	}
}
