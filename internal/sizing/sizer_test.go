package sizing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
)

const sizerConfig = `
sizing:
    base_position_pct: 2.0
    min_position_sol: 0.01
    max_position_sol: 1.0
    high_conviction_multiplier: 1.5
    standard_conviction_multiplier: 1.0
    high_conviction_threshold: 0.85
    min_conviction_threshold: 0.70
    max_concurrent_positions: 5
    max_capital_allocation_pct: 50.0
    reserve_sol: 0.05
`

func testSizer(t *testing.T, content string) *Sizer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return NewSizer(nil, cfg)
}

func request(score float64, balance float64, count int, allocated float64) Request {
	return Request{
		SignalID:            "sig-1",
		SignalScore:         score,
		AvailableBalanceSol: decimal.NewFromFloat(balance),
		PositionCount:       count,
		AllocatedSol:        decimal.NewFromFloat(allocated),
	}
}

func approx(t *testing.T, got decimal.Decimal, want float64) {
	t.Helper()
	diff := got.Sub(decimal.NewFromFloat(want)).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("size = %s, want ~%v", got, want)
	}
}

func TestBaseSizeCalculation(t *testing.T) {
	s := testSizer(t, sizerConfig)

	// total 10, cap 5, usable 9.95, budget 5, base = 5*2% = 0.10
	result := s.Calculate(request(0.75, 10.0, 0, 0))

	if result.Decision != DecisionApproved {
		t.Fatalf("decision = %s, want APPROVED (%s)", result.Decision, result.Reason)
	}
	if result.ConvictionTier != storage.TierStandard || result.Multiplier != 1.0 {
		t.Errorf("tier = %s x%v, want STANDARD x1.0", result.ConvictionTier, result.Multiplier)
	}
	approx(t, result.BaseSizeSol, 0.10)
	approx(t, result.FinalSizeSol, 0.10)
	if !result.ShouldTrade() {
		t.Error("approved decision must trade")
	}
}

func TestHighConvictionMultiplier(t *testing.T) {
	s := testSizer(t, sizerConfig)

	result := s.Calculate(request(0.90, 10.0, 0, 0))

	if result.ConvictionTier != storage.TierHigh || result.Multiplier != 1.5 {
		t.Errorf("tier = %s x%v, want HIGH x1.5", result.ConvictionTier, result.Multiplier)
	}
	approx(t, result.FinalSizeSol, 0.15)
}

func TestLowScoreSkipped(t *testing.T) {
	s := testSizer(t, sizerConfig)

	result := s.Calculate(request(0.65, 10.0, 0, 0))

	if result.Decision != DecisionSkippedLowScore {
		t.Errorf("decision = %s, want SKIPPED_LOW_SCORE", result.Decision)
	}
	if !result.FinalSizeSol.IsZero() || result.ShouldTrade() {
		t.Error("skipped decision must produce zero size")
	}
}

func TestMaxPositionsSkipped(t *testing.T) {
	s := testSizer(t, sizerConfig)

	result := s.Calculate(request(0.90, 10.0, 5, 2.0))

	if result.Decision != DecisionSkippedMaxPos {
		t.Errorf("decision = %s, want SKIPPED_MAX_POSITIONS", result.Decision)
	}
}

func TestCapReducesOversizedPosition(t *testing.T) {
	s := testSizer(t, sizerConfig)

	// total 200, cap 100, usable ~200, budget 100, base 2, x1.5 = 3 > max 1
	result := s.Calculate(request(0.90, 200.0, 0, 0))

	if result.Decision != DecisionReduced {
		t.Fatalf("decision = %s, want REDUCED", result.Decision)
	}
	approx(t, result.FinalSizeSol, 1.0)
	if !result.ShouldTrade() {
		t.Error("reduced decision must trade")
	}
}

func TestBelowMinimumSkipped(t *testing.T) {
	s := testSizer(t, sizerConfig)

	// total 0.2, cap 0.1, usable 0.15, budget 0.1, base 0.002 < min 0.01
	result := s.Calculate(request(0.75, 0.2, 0, 0))

	if result.Decision != DecisionSkippedMinSize {
		t.Errorf("decision = %s, want SKIPPED_MIN_SIZE", result.Decision)
	}
}

func TestBelowMinimumRaisedWhenConfigured(t *testing.T) {
	s := testSizer(t, sizerConfig+"    reduce_to_min: true\n")

	result := s.Calculate(request(0.75, 0.2, 0, 0))

	if result.Decision != DecisionReduced {
		t.Fatalf("decision = %s, want REDUCED", result.Decision)
	}
	approx(t, result.FinalSizeSol, 0.01)
}

func TestAllocationCapShrinksBudget(t *testing.T) {
	s := testSizer(t, sizerConfig)

	// total 10, cap 5, already allocated 4.8 -> budget 0.2, base 0.004 < min
	result := s.Calculate(request(0.75, 5.2, 2, 4.8))

	if result.Decision != DecisionSkippedMinSize {
		t.Errorf("decision = %s, want SKIPPED_MIN_SIZE under tight budget", result.Decision)
	}
}

func TestClusterMultiplierScalesSize(t *testing.T) {
	s := testSizer(t, sizerConfig)

	req := request(0.75, 10.0, 0, 0)
	req.PositionMultiplier = 1.3
	result := s.Calculate(req)

	approx(t, result.FinalSizeSol, 0.13)
}

// Any returned size is zero or within [min, max], and never above budget.
func TestSizingBounds(t *testing.T) {
	s := testSizer(t, sizerConfig)

	scores := []float64{0.1, 0.7, 0.75, 0.85, 0.9, 1.0}
	balances := []float64{0, 0.05, 0.5, 5, 50, 500}
	counts := []int{0, 2, 4, 5}
	allocs := []float64{0, 1, 10, 100}

	min := decimal.NewFromFloat(0.01)
	max := decimal.NewFromFloat(1.0)

	for _, score := range scores {
		for _, balance := range balances {
			for _, count := range counts {
				for _, alloc := range allocs {
					r := s.Calculate(request(score, balance, count, alloc))
					size := r.FinalSizeSol
					if size.IsZero() {
						continue
					}
					if size.LessThan(min) || size.GreaterThan(max) {
						t.Fatalf("size %s outside [%s, %s] for score=%v balance=%v count=%d alloc=%v",
							size, min, max, score, balance, count, alloc)
					}
					if size.GreaterThan(r.BudgetSol) {
						t.Fatalf("size %s exceeds budget %s", size, r.BudgetSol)
					}
				}
			}
		}
	}
}
