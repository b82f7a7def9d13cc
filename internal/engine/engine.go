// Package engine coordinates the trade side of the pipeline: risk gating,
// sizing, strategy assignment, order creation, and position bookkeeping
// on fills.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/exit"
	"solana-smartmoney-bot/internal/order"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/risk"
	"solana-smartmoney-bot/internal/signal"
	"solana-smartmoney-bot/internal/sizing"
	"solana-smartmoney-bot/internal/storage"
)

// CapitalFn supplies the current total capital for sizing
type CapitalFn func() (decimal.Decimal, error)

type entryContext struct {
	signalID string
	score    float64
	tier     string
}

// Engine implements signal.TradeHandler and order.FillListener
type Engine struct {
	gate     *risk.EntryGate
	sizer    *sizing.Sizer
	assigner *exit.Assigner
	exec     *order.Executor
	db       *storage.DB
	cfg      *config.Manager
	price    ports.PriceFeed
	capital  CapitalFn

	mu      sync.Mutex
	pending map[string]entryContext
}

// New creates the trading engine
func New(gate *risk.EntryGate, sizer *sizing.Sizer, assigner *exit.Assigner, exec *order.Executor, db *storage.DB, cfg *config.Manager, price ports.PriceFeed, capital CapitalFn) *Engine {
	return &Engine{
		gate:     gate,
		sizer:    sizer,
		assigner: assigner,
		exec:     exec,
		db:       db,
		cfg:      cfg,
		price:    price,
		capital:  capital,
		pending:  make(map[string]entryContext),
	}
}

// HandleSignal runs an eligible signal through the entry gates, sizes a
// position, and submits the ENTRY order.
func (e *Engine) HandleSignal(ctx context.Context, sig *signal.ScoredSignal) error {
	ev := sig.Event

	allowed, reason, err := e.gate.Allow(ev.TxSignature, ev.Wallet, ev.Token)
	if err != nil {
		return fmt.Errorf("entry gate: %w", err)
	}
	if !allowed {
		log.Info().Str("tx", ev.TxSignature).Str("reason", reason).Msg("entry blocked")
		return nil
	}

	allocated, err := e.db.SumOpenEntrySol()
	if err != nil {
		return fmt.Errorf("allocated capital: %w", err)
	}
	count, err := e.db.CountOpenPositions()
	if err != nil {
		return fmt.Errorf("position count: %w", err)
	}
	total, err := e.capital()
	if err != nil {
		return fmt.Errorf("capital: %w", err)
	}
	available := decimal.Max(decimal.Zero, total.Sub(allocated))

	result := e.sizer.Calculate(sizing.Request{
		SignalID:            ev.TxSignature,
		SignalScore:         sig.FinalScore,
		AvailableBalanceSol: available,
		PositionCount:       count,
		AllocatedSol:        allocated,
		PositionMultiplier:  sig.PositionMultiplier,
	})
	if !result.ShouldTrade() {
		log.Info().
			Str("tx", ev.TxSignature).
			Str("decision", result.Decision).
			Str("reason", result.Reason).
			Msg("sizing declined entry")
		return nil
	}

	pq, err := e.price.FetchPrice(ctx, ev.Token)
	if err != nil {
		return fmt.Errorf("expected price: %w", err)
	}

	execCfg := e.cfg.GetExecution()
	now := time.Now()
	o := &storage.Order{
		ID:             uuid.NewString(),
		SignalID:       ev.TxSignature,
		Type:           storage.OrderTypeEntry,
		Side:           storage.SideBuy,
		Token:          ev.Token,
		AmountSol:      result.FinalSizeSol,
		ExpectedPrice:  pq.Price,
		MaxSlippageBps: execCfg.MaxSlippageBps,
		Status:         storage.OrderPending,
		MaxAttempts:    execCfg.MaxAttempts,
		IsSimulated:    execCfg.SimulationMode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	e.mu.Lock()
	e.pending[o.ID] = entryContext{
		signalID: ev.TxSignature,
		score:    sig.FinalScore,
		tier:     result.ConvictionTier,
	}
	e.mu.Unlock()

	if err := e.exec.Submit(o, false); err != nil {
		e.mu.Lock()
		delete(e.pending, o.ID)
		e.mu.Unlock()
		return fmt.Errorf("submit entry order: %w", err)
	}

	log.Info().
		Str("tx", ev.TxSignature).
		Str("orderID", o.ID[:8]).
		Str("size", result.FinalSizeSol.String()).
		Str("tier", result.ConvictionTier).
		Msg("entry order created")
	return nil
}

// OnEntryFilled opens a position for a filled ENTRY order
func (e *Engine) OnEntryFilled(ctx context.Context, o *storage.Order) error {
	e.mu.Lock()
	ectx, ok := e.pending[o.ID]
	delete(e.pending, o.ID)
	e.mu.Unlock()
	if !ok {
		// Restarted mid-flight: the scoring context is gone, tier defaults.
		ectx = entryContext{signalID: o.SignalID, tier: storage.TierStandard}
	}

	p := &storage.Position{
		ID:                  uuid.NewString(),
		SignalID:            ectx.signalID,
		Token:               o.Token,
		EntryPrice:          o.ActualPrice.Decimal,
		EntryAmountSol:      o.AmountSol,
		EntryAmountTokens:   o.AmountTokens,
		CurrentAmountTokens: o.AmountTokens,
		Status:              storage.PositionOpen,
		ConvictionTier:      ectx.tier,
		EntryTime:           time.Now(),
		IsSimulated:         o.IsSimulated,
	}

	assignment, err := e.assigner.Assign(p.ID, ectx.score, ectx.tier)
	if err != nil {
		return fmt.Errorf("assign strategy: %w", err)
	}
	p.ExitStrategyID = assignment.StrategyID

	if row, err := e.db.GetExitStrategy(assignment.StrategyID); err == nil && row != nil {
		if strategy, err := exit.FromRow(row); err == nil {
			exit.InitializePosition(p, strategy)
		}
	}

	if err := e.db.InsertPosition(p); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}

	log.Info().
		Str("positionID", p.ID[:8]).
		Str("token", p.Token).
		Str("entrySol", p.EntryAmountSol.String()).
		Str("strategyID", p.ExitStrategyID).
		Msg("position opened")
	return nil
}

// OnExitFilled applies a filled EXIT order's proceeds to its position
func (e *Engine) OnExitFilled(ctx context.Context, o *storage.Order) error {
	p, err := e.db.GetPosition(o.PositionID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("position not found for exit order %s", o.ID)
	}

	sold := o.AmountTokens
	if sold > p.CurrentAmountTokens {
		sold = p.CurrentAmountTokens
	}

	costBasis := decimal.Zero
	if p.EntryAmountTokens > 0 {
		costBasis = p.EntryAmountSol.
			Mul(decimal.NewFromInt(int64(sold))).
			Div(decimal.NewFromInt(int64(p.EntryAmountTokens)))
	}
	realized := o.AmountSol.Sub(costBasis)

	p.CurrentAmountTokens -= sold
	p.RealizedPnlSol = p.RealizedPnlSol.Add(realized)
	if p.CurrentAmountTokens == 0 {
		p.Status = storage.PositionClosed
		p.ClosedAt = time.Now()
		p.UnrealizedPnlSol = decimal.Zero
	} else {
		p.Status = storage.PositionPartialExit
	}

	if err := e.db.UpdatePosition(p); err != nil {
		return fmt.Errorf("persist position: %w", err)
	}

	log.Info().
		Str("positionID", p.ID[:8]).
		Str("reason", o.ExitReason).
		Str("realized", realized.String()).
		Str("status", p.Status).
		Msg("exit applied to position")
	return nil
}
