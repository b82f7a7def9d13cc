// Package sizing computes position sizes from signal scores under the
// configured capital constraints.
package sizing

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
)

// Sizing decisions
const (
	DecisionApproved        = "APPROVED"
	DecisionReduced         = "REDUCED"
	DecisionSkippedLowScore = "SKIPPED_LOW_SCORE"
	DecisionSkippedMaxPos   = "SKIPPED_MAX_POSITIONS"
	DecisionSkippedMinSize  = "SKIPPED_MIN_SIZE"
)

// Request is a sizing request snapshot
type Request struct {
	SignalID            string
	SignalScore         float64
	AvailableBalanceSol decimal.Decimal
	PositionCount       int
	AllocatedSol        decimal.Decimal
	PositionMultiplier  float64
}

// Result is the sizing outcome
type Result struct {
	Decision       string
	ConvictionTier string
	Multiplier     float64
	BaseSizeSol    decimal.Decimal
	FinalSizeSol   decimal.Decimal
	BudgetSol      decimal.Decimal
	Reason         string
}

// ShouldTrade reports whether an order should be created
func (r *Result) ShouldTrade() bool {
	return r.Decision == DecisionApproved || r.Decision == DecisionReduced
}

// Sizer computes position sizes. Each call records a sizing audit row.
type Sizer struct {
	db  *storage.DB
	cfg *config.Manager
}

// NewSizer creates a position sizer
func NewSizer(db *storage.DB, cfg *config.Manager) *Sizer {
	return &Sizer{db: db, cfg: cfg}
}

// Calculate runs the sizing pipeline; the first stop wins.
func (s *Sizer) Calculate(req Request) *Result {
	cfg := s.cfg.GetSizing()
	result := s.calculate(req, cfg)

	if s.db != nil {
		if err := s.db.InsertSizingAudit(&storage.SizingAudit{
			SignalID:       req.SignalID,
			SignalScore:    req.SignalScore,
			AvailableSol:   req.AvailableBalanceSol,
			AllocatedSol:   req.AllocatedSol,
			PositionCount:  req.PositionCount,
			ConvictionTier: result.ConvictionTier,
			BaseSizeSol:    result.BaseSizeSol,
			FinalSizeSol:   result.FinalSizeSol,
			Decision:       result.Decision,
			CreatedAt:      time.Now(),
		}); err != nil {
			log.Error().Err(err).Msg("failed to record sizing audit")
		}
	}

	return result
}

func (s *Sizer) calculate(req Request, cfg config.SizingConfig) *Result {
	if req.SignalScore < cfg.MinConvictionThreshold {
		return &Result{Decision: DecisionSkippedLowScore, Reason: "score below minimum conviction"}
	}

	if req.PositionCount >= cfg.MaxConcurrentPositions {
		return &Result{Decision: DecisionSkippedMaxPos, Reason: "max concurrent positions reached"}
	}

	tier := storage.TierStandard
	multiplier := cfg.StandardConvictionMultiplier
	if req.SignalScore >= cfg.HighConvictionThreshold {
		tier = storage.TierHigh
		multiplier = cfg.HighConvictionMultiplier
	}

	totalCapital := req.AvailableBalanceSol.Add(req.AllocatedSol)
	allocationCap := totalCapital.Mul(decimal.NewFromFloat(cfg.MaxCapitalAllocationPct)).Div(decimal.NewFromInt(100))
	usable := decimal.Max(decimal.Zero, req.AvailableBalanceSol.Sub(decimal.NewFromFloat(cfg.ReserveSol)))
	budget := decimal.Min(usable, decimal.Max(decimal.Zero, allocationCap.Sub(req.AllocatedSol)))

	base := budget.Mul(decimal.NewFromFloat(cfg.BasePositionPct)).Div(decimal.NewFromInt(100))
	mult := decimal.NewFromFloat(multiplier)
	if req.PositionMultiplier > 0 {
		mult = mult.Mul(decimal.NewFromFloat(req.PositionMultiplier))
	}
	calculated := base.Mul(mult)

	result := &Result{
		ConvictionTier: tier,
		Multiplier:     multiplier,
		BaseSizeSol:    base,
		BudgetSol:      budget,
	}

	maxPos := decimal.NewFromFloat(cfg.MaxPositionSol)
	minPos := decimal.NewFromFloat(cfg.MinPositionSol)

	switch {
	case calculated.GreaterThan(maxPos):
		result.Decision = DecisionReduced
		result.FinalSizeSol = decimal.Min(maxPos, budget)
		result.Reason = "capped at max position size"
	case calculated.LessThan(minPos):
		if cfg.ReduceToMin && budget.GreaterThanOrEqual(minPos) {
			result.Decision = DecisionReduced
			result.FinalSizeSol = minPos
			result.Reason = "raised to min position size"
		} else {
			result.Decision = DecisionSkippedMinSize
			result.Reason = "calculated size below minimum"
		}
	default:
		result.Decision = DecisionApproved
		result.FinalSizeSol = decimal.Min(calculated, budget)
	}

	return result
}
