package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/storage"
)

const drawdownConfig = `
risk:
    daily_limit_pct: 5.0
    drawdown_threshold_pct: 5.0
    initial_capital: 100.0
`

func newBreaker(t *testing.T, db *storage.DB) (*DrawdownBreaker, *StateManager) {
	t.Helper()
	state, err := NewStateManager(db)
	if err != nil {
		t.Fatalf("NewStateManager: %v", err)
	}
	b, err := NewDrawdownBreaker(db, testConfig(t, drawdownConfig), state, nil)
	if err != nil {
		t.Fatalf("NewDrawdownBreaker: %v", err)
	}
	return b, state
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// The stored peak always equals the running maximum of observations.
func TestPeakIsMonotoneRunningMax(t *testing.T) {
	db := testDB(t)
	b, _ := newBreaker(t, db)
	ctx := context.Background()

	observations := []string{"100", "105", "103", "110", "102", "110", "96", "120"}
	runningMax := dec("100")
	for _, obs := range observations {
		capital := dec(obs)
		if capital.GreaterThan(runningMax) {
			runningMax = capital
		}
		result, err := b.Observe(ctx, capital)
		if err != nil {
			t.Fatalf("Observe(%s): %v", obs, err)
		}
		if !result.PeakCapital.Equal(runningMax) {
			t.Fatalf("peak = %s after %s, want running max %s", result.PeakCapital, obs, runningMax)
		}
	}

	if !b.Peak().Equal(dec("120")) {
		t.Errorf("final peak = %s, want 120", b.Peak())
	}
}

func TestDrawdownTripsBreaker(t *testing.T) {
	db := testDB(t)
	b, state := newBreaker(t, db)
	ctx := context.Background()

	// peak 100, capital 93 -> 7% >= 5% threshold
	result, err := b.Observe(ctx, dec("93"))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !result.IsBreached {
		t.Fatalf("7%% drawdown must breach a 5%% threshold: %+v", result)
	}
	if result.Trigger == nil {
		t.Fatal("breach must create a trigger record")
	}

	active, _ := db.ActiveTriggers(storage.BreakerDrawdown)
	if len(active) != 1 {
		t.Errorf("active triggers = %d, want 1", len(active))
	}
	if state.GetState().Status != StatusPausedDrawdown {
		t.Errorf("status = %s, want PAUSED_DRAWDOWN", state.GetState().Status)
	}
	if state.CanTrade() {
		t.Error("tripped breaker must block trading")
	}
	if !state.CanExit() {
		t.Error("tripped breaker must not block exits")
	}
}

func TestSmallDrawdownDoesNotTrip(t *testing.T) {
	db := testDB(t)
	b, state := newBreaker(t, db)

	result, err := b.Observe(context.Background(), dec("97"))
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if result.IsBreached {
		t.Errorf("3%% drawdown breached a 5%% threshold: %+v", result)
	}
	if !state.CanTrade() {
		t.Error("untripped breaker must not pause the system")
	}
}

func TestNoDuplicateTriggersWhilePaused(t *testing.T) {
	db := testDB(t)
	b, _ := newBreaker(t, db)
	ctx := context.Background()

	b.Observe(ctx, dec("90"))
	b.Observe(ctx, dec("89"))
	b.Observe(ctx, dec("88"))

	active, _ := db.ActiveTriggers(storage.BreakerDrawdown)
	if len(active) != 1 {
		t.Errorf("active triggers = %d, want 1 (no stacking while paused)", len(active))
	}
}

func TestResetRequiresOperator(t *testing.T) {
	db := testDB(t)
	b, _ := newBreaker(t, db)

	b.Observe(context.Background(), dec("90"))

	if _, err := b.Reset(""); err == nil {
		t.Error("reset without an operator id must fail")
	}
	n, err := b.Reset("op-1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d triggers, want 1", n)
	}
}

func TestBreakerSeedsFromSnapshot(t *testing.T) {
	db := testDB(t)
	b1, _ := newBreaker(t, db)
	b1.Observe(context.Background(), dec("150"))

	b2, _ := newBreaker(t, db)
	if !b2.Peak().Equal(dec("150")) {
		t.Errorf("reloaded peak = %s, want 150", b2.Peak())
	}
}
