package exit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/order"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
)

// Monitor periodically evaluates every open position against its exit
// strategy and emits EXIT orders through the priority queue. Rule order
// within one tick: stop-loss, trailing, take-profit, max-hold, stagnation.
// TP levels that fired are recorded on the position so ticks replay safely.
type Monitor struct {
	db    *storage.DB
	price ports.PriceFeed
	exec  *order.Executor
	cfg   *config.Manager

	done chan struct{}
	stop context.CancelFunc
}

// NewMonitor creates the exit monitor
func NewMonitor(db *storage.DB, price ports.PriceFeed, exec *order.Executor, cfg *config.Manager) *Monitor {
	return &Monitor{
		db:    db,
		price: price,
		exec:  exec,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
}

// Start launches the tick loop
func (m *Monitor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.stop = cancel

	go func() {
		defer close(m.done)
		tick := time.Duration(m.cfg.Get().Exit.MonitorTickSeconds) * time.Second
		if tick <= 0 {
			tick = 5 * time.Second
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()

	log.Info().Msg("exit monitor started")
}

// Stop halts the tick loop
func (m *Monitor) Stop() {
	if m.stop != nil {
		m.stop()
	}
	<-m.done
}

// Tick evaluates all open positions once
func (m *Monitor) Tick(ctx context.Context) {
	positions, err := m.db.ListOpenPositions()
	if err != nil {
		log.Error().Err(err).Msg("exit monitor: listing positions failed")
		return
	}

	for _, p := range positions {
		if err := m.Evaluate(ctx, p); err != nil {
			log.Error().Err(err).Str("positionID", p.ID).Msg("position evaluation failed")
		}
	}
}

// Evaluate runs the exit rules for one position
func (m *Monitor) Evaluate(ctx context.Context, p *storage.Position) error {
	if p.CurrentAmountTokens == 0 {
		return nil
	}

	// One unfilled full-exit at a time; TP idempotence is handled by the
	// fired-level record instead.
	if n, err := m.db.CountActiveExitOrders(p.ID); err != nil {
		return err
	} else if n > 0 {
		return nil
	}

	strategy, err := m.strategyFor(p)
	if err != nil {
		return err
	}

	pq, err := m.price.FetchPrice(ctx, p.Token)
	if err != nil {
		return fmt.Errorf("price fetch: %w", err)
	}
	current := pq.Price
	if !current.IsPositive() || !p.EntryPrice.IsPositive() {
		return nil
	}

	m.updateUnrealized(p, current)
	ratio := current.Div(p.EntryPrice)

	if fired, err := m.checkStopLoss(ctx, p, strategy, current, ratio); err != nil || fired {
		return err
	}
	if fired, err := m.checkTrailing(ctx, p, strategy, current, ratio); err != nil || fired {
		return err
	}
	if fired, err := m.checkTakeProfit(ctx, p, strategy, current, ratio); err != nil || fired {
		return err
	}
	if fired, err := m.checkMaxHold(ctx, p, strategy, current); err != nil || fired {
		return err
	}
	if _, err := m.checkStagnation(ctx, p, strategy, current); err != nil {
		return err
	}

	return m.db.UpdatePosition(p)
}

func (m *Monitor) strategyFor(p *storage.Position) (*Strategy, error) {
	var row *storage.ExitStrategyRow
	var err error
	if p.ExitStrategyID != "" {
		row, err = m.db.GetExitStrategy(p.ExitStrategyID)
		if err != nil {
			return nil, err
		}
	}
	if row == nil {
		row, err = m.db.GetDefaultExitStrategy(p.ConvictionTier)
		if err != nil {
			return nil, err
		}
	}
	if row == nil {
		return nil, fmt.Errorf("no exit strategy resolvable for position %s", p.ID)
	}
	return FromRow(row)
}

func (m *Monitor) updateUnrealized(p *storage.Position, current decimal.Decimal) {
	if p.EntryAmountTokens == 0 {
		return
	}
	value := current.Mul(decimal.NewFromInt(int64(p.CurrentAmountTokens)))
	costBasis := p.EntryAmountSol.
		Mul(decimal.NewFromInt(int64(p.CurrentAmountTokens))).
		Div(decimal.NewFromInt(int64(p.EntryAmountTokens)))
	p.UnrealizedPnlSol = value.Sub(costBasis)
}

// moonbagTokens returns the token amount permanently reserved
func moonbagTokens(p *storage.Position, s *Strategy) uint64 {
	if s.Moonbag.Fraction <= 0 {
		return 0
	}
	return uint64(float64(p.EntryAmountTokens) * s.Moonbag.Fraction)
}

func (m *Monitor) checkStopLoss(ctx context.Context, p *storage.Position, s *Strategy, current, ratio decimal.Decimal) (bool, error) {
	// The moonbag's own stop fires on deeper losses and sells everything.
	if s.Moonbag.Fraction > 0 && s.Moonbag.StopLossFraction > 0 {
		floor := decimal.NewFromFloat(1.0 - s.Moonbag.StopLossFraction)
		if ratio.LessThanOrEqual(floor) {
			return true, m.emitExit(ctx, p, p.CurrentAmountTokens, ReasonStopLoss, current)
		}
	}

	if s.StopLossFraction <= 0 {
		return false, nil
	}
	floor := decimal.NewFromFloat(1.0 - s.StopLossFraction)
	if !ratio.LessThanOrEqual(floor) {
		return false, nil
	}

	sellable := sellableTokens(p, moonbagTokens(p, s))
	if sellable == 0 {
		return false, nil
	}
	return true, m.emitExit(ctx, p, sellable, ReasonStopLoss, current)
}

func (m *Monitor) checkTrailing(ctx context.Context, p *storage.Position, s *Strategy, current, ratio decimal.Decimal) (bool, error) {
	if !s.Trailing.Enabled {
		return false, nil
	}

	if !p.TrailingArmed {
		if ratio.GreaterThanOrEqual(decimal.NewFromFloat(s.Trailing.ActivationMultiplier)) {
			p.TrailingArmed = true
			p.TrailingPeak = decimal.NewNullDecimal(current)
			if err := m.db.UpdatePosition(p); err != nil {
				return false, err
			}
			log.Info().Str("positionID", p.ID).Str("peak", current.String()).Msg("trailing stop armed")
		}
		return false, nil
	}

	peak := p.TrailingPeak.Decimal
	if current.GreaterThan(peak) {
		peak = current
		p.TrailingPeak = decimal.NewNullDecimal(peak)
		if err := m.db.UpdatePosition(p); err != nil {
			return false, err
		}
	}

	threshold := peak.Mul(decimal.NewFromFloat(1.0 - s.Trailing.DistanceFraction))
	if current.GreaterThan(threshold) {
		return false, nil
	}
	return true, m.emitExit(ctx, p, p.CurrentAmountTokens, ReasonTrailing, current)
}

func (m *Monitor) checkTakeProfit(ctx context.Context, p *storage.Position, s *Strategy, current, ratio decimal.Decimal) (bool, error) {
	reserved := moonbagTokens(p, s)
	for i, level := range s.TakeProfitLevels {
		if p.HasFiredTP(i) {
			continue
		}
		if ratio.LessThan(decimal.NewFromFloat(level.TriggerMultiplier)) {
			// Ladder is sorted ascending; nothing above can trigger either.
			return false, nil
		}

		amount := uint64(float64(p.EntryAmountTokens) * level.SellFraction)
		if sellable := sellableTokens(p, reserved); amount > sellable {
			amount = sellable
		}
		if amount == 0 {
			return false, nil
		}

		if err := m.emitExit(ctx, p, amount, ReasonTakeProfit, current); err != nil {
			return false, err
		}
		// Recorded only after the order is enqueued, so a cancelled tick
		// cannot mark a level fired without its exit existing.
		p.FiredTPLevels = append(p.FiredTPLevels, i)
		if err := m.db.UpdatePosition(p); err != nil {
			return false, err
		}
		log.Info().Str("positionID", p.ID).Int("level", i).Str("ratio", ratio.StringFixed(2)).Msg("take-profit level fired")
		return true, nil
	}
	return false, nil
}

func (m *Monitor) checkMaxHold(ctx context.Context, p *storage.Position, s *Strategy, current decimal.Decimal) (bool, error) {
	if s.TimeRules.MaxHoldHours <= 0 {
		return false, nil
	}
	held := time.Since(p.EntryTime)
	if held < time.Duration(s.TimeRules.MaxHoldHours)*time.Hour {
		return false, nil
	}
	log.Info().Str("positionID", p.ID).Dur("held", held).Msg("max hold duration reached")
	return true, m.emitExit(ctx, p, p.CurrentAmountTokens, ReasonTimeLimit, current)
}

func (m *Monitor) checkStagnation(ctx context.Context, p *storage.Position, s *Strategy, current decimal.Decimal) (bool, error) {
	if !s.TimeRules.StagnationEnabled || s.TimeRules.StagnationHours <= 0 {
		return false, nil
	}

	if p.StagnationStart.IsZero() || !p.StagnationPrice.Valid {
		p.StagnationStart = time.Now()
		p.StagnationPrice = decimal.NewNullDecimal(current)
		return false, m.db.UpdatePosition(p)
	}

	window := time.Duration(s.TimeRules.StagnationHours) * time.Hour
	if time.Since(p.StagnationStart) < window {
		return false, nil
	}

	startPrice := p.StagnationPrice.Decimal
	if !startPrice.IsPositive() {
		return false, nil
	}
	movementPct := current.Sub(startPrice).Abs().Div(startPrice).Mul(decimal.NewFromInt(100))

	if movementPct.LessThan(decimal.NewFromFloat(s.TimeRules.StagnationThresholdPct)) {
		sellable := sellableTokens(p, moonbagTokens(p, s))
		if sellable == 0 {
			return false, nil
		}
		log.Info().
			Str("positionID", p.ID).
			Str("movementPct", movementPct.StringFixed(2)).
			Msg("stagnation exit triggered")
		return true, m.emitExit(ctx, p, sellable, ReasonStagnation, current)
	}

	// Enough movement: slide the window forward.
	p.StagnationStart = time.Now()
	p.StagnationPrice = decimal.NewNullDecimal(current)
	return false, m.db.UpdatePosition(p)
}

func sellableTokens(p *storage.Position, reserved uint64) uint64 {
	if p.CurrentAmountTokens <= reserved {
		return 0
	}
	return p.CurrentAmountTokens - reserved
}

// emitExit creates an EXIT order and submits it through the queue
func (m *Monitor) emitExit(ctx context.Context, p *storage.Position, tokens uint64, reason string, current decimal.Decimal) error {
	execCfg := m.cfg.GetExecution()
	now := time.Now()
	o := &storage.Order{
		ID:             uuid.NewString(),
		PositionID:     p.ID,
		SignalID:       p.SignalID,
		Type:           storage.OrderTypeExit,
		Side:           storage.SideSell,
		Token:          p.Token,
		AmountTokens:   tokens,
		ExpectedPrice:  current,
		MaxSlippageBps: execCfg.MaxSlippageBps,
		ExitReason:     reason,
		Status:         storage.OrderPending,
		MaxAttempts:    execCfg.MaxAttempts,
		IsSimulated:    p.IsSimulated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.exec.Submit(o, false); err != nil {
		return fmt.Errorf("submit exit order: %w", err)
	}

	log.Info().
		Str("positionID", p.ID).
		Str("orderID", o.ID[:8]).
		Str("reason", reason).
		Uint64("tokens", tokens).
		Msg("exit order emitted")
	return nil
}

// InitializePosition seeds monitor state for a newly opened position
func InitializePosition(p *storage.Position, s *Strategy) {
	if s != nil && s.TimeRules.StagnationEnabled {
		p.StagnationStart = p.EntryTime
		p.StagnationPrice = decimal.NewNullDecimal(p.EntryPrice)
	}
}
