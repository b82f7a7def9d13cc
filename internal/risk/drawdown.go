package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
)

// DrawdownCheckResult is the outcome of one drawdown evaluation
type DrawdownCheckResult struct {
	CurrentCapital   decimal.Decimal
	PeakCapital      decimal.Decimal
	DrawdownPct      decimal.Decimal
	ThresholdPct     decimal.Decimal
	IsBreached       bool
	Trigger          *storage.CircuitBreakerTrigger
}

// DrawdownBreaker tracks the peak-capital watermark and pauses the system
// when drawdown from peak exceeds the configured threshold.
type DrawdownBreaker struct {
	mu      sync.Mutex
	db      *storage.DB
	cfg     *config.Manager
	state   *StateManager
	alerts  ports.AlertSink
	capital decimal.Decimal
	peak    decimal.Decimal
}

// NewDrawdownBreaker creates the breaker, seeding capital and peak from
// the latest persisted snapshot (falling back to configured initial capital).
func NewDrawdownBreaker(db *storage.DB, cfg *config.Manager, state *StateManager, alerts ports.AlertSink) (*DrawdownBreaker, error) {
	initial := decimal.NewFromFloat(cfg.GetRisk().InitialCapitalSol)
	b := &DrawdownBreaker{
		db:      db,
		cfg:     cfg,
		state:   state,
		alerts:  alerts,
		capital: initial,
		peak:    initial,
	}

	snap, err := db.LatestCapitalSnapshot()
	if err != nil {
		return nil, err
	}
	if snap != nil {
		b.capital = snap.Capital
		b.peak = snap.PeakCapital
	}

	log.Info().
		Str("capital", b.capital.String()).
		Str("peak", b.peak.String()).
		Msg("drawdown breaker initialized")
	return b, nil
}

// Observe records a capital observation, updates the watermark, persists
// a snapshot, and trips the breaker on breach.
func (b *DrawdownBreaker) Observe(ctx context.Context, currentCapital decimal.Decimal) (*DrawdownCheckResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Peak never decreases.
	if currentCapital.GreaterThan(b.peak) {
		b.peak = currentCapital
	}
	b.capital = currentCapital

	if err := b.db.InsertCapitalSnapshot(&storage.CapitalSnapshot{
		Capital:     b.capital,
		PeakCapital: b.peak,
		Timestamp:   time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("persist capital snapshot: %w", err)
	}

	threshold := decimal.NewFromFloat(b.cfg.GetRisk().DrawdownThresholdPct)
	drawdown := decimal.Zero
	if b.peak.IsPositive() {
		drawdown = b.peak.Sub(b.capital).Div(b.peak).Mul(decimal.NewFromInt(100))
		if drawdown.IsNegative() {
			drawdown = decimal.Zero
		}
	}

	result := &DrawdownCheckResult{
		CurrentCapital: b.capital,
		PeakCapital:    b.peak,
		DrawdownPct:    drawdown,
		ThresholdPct:   threshold,
		IsBreached:     drawdown.GreaterThanOrEqual(threshold),
	}

	if !result.IsBreached {
		return result, nil
	}

	// Already paused for drawdown: don't stack triggers every poll.
	if b.state.GetState().Status == StatusPausedDrawdown {
		return result, nil
	}

	trigger := &storage.CircuitBreakerTrigger{
		ID:                   uuid.NewString(),
		BreakerType:          storage.BreakerDrawdown,
		ThresholdValue:       threshold,
		ActualValue:          drawdown,
		CapitalAtTrigger:     b.capital,
		PeakCapitalAtTrigger: b.peak,
		TriggeredAt:          time.Now(),
	}
	if err := b.db.InsertTrigger(trigger); err != nil {
		return nil, fmt.Errorf("persist trigger: %w", err)
	}
	result.Trigger = trigger

	if _, err := b.state.SetCircuitBreakerPause(storage.BreakerDrawdown); err != nil {
		return nil, err
	}

	log.Warn().
		Str("drawdown", drawdown.StringFixed(2)).
		Str("threshold", threshold.StringFixed(2)).
		Str("capital", b.capital.String()).
		Str("peak", b.peak.String()).
		Msg("drawdown circuit breaker tripped")

	if b.alerts != nil {
		b.alerts.Raise(ctx, ports.Alert{
			Type:           "circuit_breaker_drawdown",
			Severity:       ports.SeverityCritical,
			Title:          "Drawdown circuit breaker tripped",
			Message:        fmt.Sprintf("drawdown %s%% breached threshold %s%%", drawdown.StringFixed(2), threshold.StringFixed(2)),
			DedupeKey:      "breaker_drawdown_" + trigger.ID,
			RequiresAction: true,
		})
	}

	return result, nil
}

// Reset is the privileged trigger reset. Requires an operator id.
func (b *DrawdownBreaker) Reset(operatorID string) (int64, error) {
	if operatorID == "" {
		return 0, fmt.Errorf("trigger reset requires an operator id")
	}
	return b.db.ResetActiveTriggers(storage.BreakerDrawdown, operatorID)
}

// Peak returns the current peak-capital watermark
func (b *DrawdownBreaker) Peak() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// EntryGate combines the system state, daily-loss and drawdown checks for
// a new ENTRY signal. EXIT orders never consult this gate.
type EntryGate struct {
	State *StateManager
	Daily *DailyLossTracker
	db    *storage.DB
}

// NewEntryGate creates the entry gate
func NewEntryGate(state *StateManager, daily *DailyLossTracker, db *storage.DB) *EntryGate {
	return &EntryGate{State: state, Daily: daily, db: db}
}

// Allow evaluates whether an entry for the signal may proceed. When
// blocked, a blocked_signals row is recorded with the reason.
func (g *EntryGate) Allow(txSignature, wallet, token string) (bool, string, error) {
	if !g.State.CanTrade() {
		reason := "system paused: " + g.State.GetState().Status
		return false, reason, g.recordBlocked(txSignature, wallet, token, reason)
	}

	allowed, reason, _, err := g.Daily.IsEntryAllowed()
	if err != nil {
		return false, "", err
	}
	if !allowed {
		return false, reason, g.recordBlocked(txSignature, wallet, token, reason)
	}

	return true, "", nil
}

func (g *EntryGate) recordBlocked(txSignature, wallet, token, reason string) error {
	return g.db.InsertBlockedSignal(&storage.BlockedSignal{
		TxSignature: txSignature,
		Wallet:      wallet,
		Token:       token,
		Reason:      reason,
		BlockedAt:   time.Now(),
	})
}
