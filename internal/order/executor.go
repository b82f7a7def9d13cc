package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/storage"
	"solana-smartmoney-bot/internal/webhook"
)

const lamportsPerSol = 1_000_000_000

// FillListener is notified after a FILLED transition is persisted.
// The executor mutates positions only through this narrow interface.
type FillListener interface {
	OnEntryFilled(ctx context.Context, o *storage.Order) error
	OnExitFilled(ctx context.Context, o *storage.Order) error
}

var validTransitions = map[string]map[string]bool{
	storage.OrderPending:    {storage.OrderSubmitted: true, storage.OrderCancelled: true, storage.OrderFailed: true},
	storage.OrderSubmitted:  {storage.OrderConfirming: true, storage.OrderFailed: true, storage.OrderCancelled: true},
	storage.OrderConfirming: {storage.OrderFilled: true, storage.OrderFailed: true},
	storage.OrderFailed:     {storage.OrderPending: true, storage.OrderCancelled: true},
}

// Executor drains the priority queue under its concurrency cap and runs
// each order through the execution state machine. State transitions for
// one order are totally ordered; every transition is persisted before the
// in-memory order advances.
type Executor struct {
	queue  *Queue
	db     *storage.DB
	swap   ports.SwapAdapter
	signer ports.Signer
	alerts ports.AlertSink
	cfg    *config.Manager
	fills  FillListener

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped chan struct{}

	executed int64
	failed   int64
	statMu   sync.Mutex
}

// NewExecutor creates the order executor
func NewExecutor(queue *Queue, db *storage.DB, swap ports.SwapAdapter, signer ports.Signer, alerts ports.AlertSink, cfg *config.Manager, fills FillListener) *Executor {
	return &Executor{
		queue:   queue,
		db:      db,
		swap:    swap,
		signer:  signer,
		alerts:  alerts,
		cfg:     cfg,
		fills:   fills,
		stopped: make(chan struct{}),
	}
}

// SetFillListener wires the fill listener after construction. The engine
// holds the executor for submissions, so it cannot exist first.
func (e *Executor) SetFillListener(fills FillListener) {
	e.fills = fills
}

// Submit persists a new order and places it on the queue
func (e *Executor) Submit(o *storage.Order, emergency bool) error {
	if err := e.db.InsertOrder(o); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	e.queue.Enqueue(o, emergency)
	log.Info().
		Str("orderID", shortID(o.ID)).
		Str("type", o.Type).
		Str("token", o.Token).
		Bool("emergency", emergency).
		Msg("order submitted to queue")
	return nil
}

// Start launches the dispatcher loop
func (e *Executor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel

	go func() {
		defer close(e.stopped)
		interval := time.Duration(e.cfg.GetExecution().PollIntervalMs) * time.Millisecond
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.drain(ctx)
			}
		}
	}()

	log.Info().Msg("order executor started")
}

func (e *Executor) drain(ctx context.Context) {
	for {
		o := e.queue.Dequeue()
		if o == nil {
			return
		}
		e.wg.Add(1)
		go func(o *storage.Order) {
			defer e.wg.Done()
			defer e.queue.MarkComplete(o.ID)
			e.executeOrder(ctx, o)
		}(o)
	}
}

// Stop waits up to the shutdown timeout for in-flight orders, then
// returns. FILLED writes are persisted before any executor gives up.
func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.stopped

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timeout := time.Duration(e.cfg.GetExecution().ShutdownTimeoutSeconds) * time.Second
	select {
	case <-done:
		log.Info().Msg("order executor stopped")
	case <-time.After(timeout):
		log.Warn().Msg("order executor stop timeout, abandoning in-flight orders")
	}
}

func (e *Executor) executeOrder(ctx context.Context, o *storage.Order) {
	start := time.Now()
	o.AttemptCount++

	err := e.runStateMachine(ctx, o)

	e.statMu.Lock()
	if err == nil {
		e.executed++
	} else {
		e.failed++
	}
	e.statMu.Unlock()

	if err != nil {
		e.handleFailure(ctx, o, err)
		return
	}

	log.Info().
		Str("orderID", shortID(o.ID)).
		Str("type", o.Type).
		Dur("elapsed", time.Since(start)).
		Msg("order filled")
}

// runStateMachine drives one attempt:
// PENDING → SUBMITTED → CONFIRMING → FILLED.
func (e *Executor) runStateMachine(ctx context.Context, o *storage.Order) error {
	execCfg := e.cfg.GetExecution()

	if err := e.transition(o, storage.OrderSubmitted); err != nil {
		return err
	}

	inMint, outMint, amountBase := swapLegs(o)
	quote, err := e.swap.GetQuote(ctx, inMint, outMint, amountBase, o.MaxSlippageBps)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}

	tx, err := e.swap.BuildSwapTx(ctx, quote, e.signer.PublicKey())
	if err != nil {
		return fmt.Errorf("build tx: %w", err)
	}

	result, err := e.swap.Execute(ctx, tx, e.signer)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("swap rejected: %s", result.Err)
	}

	o.TxSignature = result.TxSignature
	if err := e.transition(o, storage.OrderConfirming); err != nil {
		return err
	}

	confirmCtx, cancel := context.WithTimeout(ctx,
		time.Duration(execCfg.ConfirmationTimeoutSeconds)*time.Second)
	defer cancel()
	if err := e.awaitConfirmation(confirmCtx, result.TxSignature); err != nil {
		return fmt.Errorf("confirmation: %w", err)
	}

	applyFill(o, quote)
	if err := e.transition(o, storage.OrderFilled); err != nil {
		return err
	}

	if e.fills != nil {
		var fillErr error
		if o.IsExit() {
			fillErr = e.fills.OnExitFilled(ctx, o)
		} else {
			fillErr = e.fills.OnEntryFilled(ctx, o)
		}
		if fillErr != nil {
			// The order is filled; position bookkeeping failure is its own alert.
			log.Error().Err(fillErr).Str("orderID", shortID(o.ID)).Msg("fill bookkeeping failed")
		}
	}

	return nil
}

// swapLegs derives the swap mints and base-unit amount from the order side
func swapLegs(o *storage.Order) (inMint, outMint string, amountBase uint64) {
	if o.Side == storage.SideBuy {
		lamports := o.AmountSol.Mul(decimal.NewFromInt(lamportsPerSol)).IntPart()
		return webhook.WSOLMint, o.Token, uint64(lamports)
	}
	return o.Token, webhook.WSOLMint, o.AmountTokens
}

// applyFill records the actual price and output amount from the quote
func applyFill(o *storage.Order, quote *ports.Quote) {
	if o.Side == storage.SideBuy {
		o.AmountTokens = quote.OutAmount
		if quote.OutAmount > 0 {
			o.ActualPrice = decimal.NewNullDecimal(
				o.AmountSol.Div(decimal.NewFromInt(int64(quote.OutAmount))))
		}
		return
	}
	proceeds := decimal.New(int64(quote.OutAmount), 0).Div(decimal.NewFromInt(lamportsPerSol))
	o.AmountSol = proceeds
	if o.AmountTokens > 0 {
		o.ActualPrice = decimal.NewNullDecimal(
			proceeds.Div(decimal.NewFromInt(int64(o.AmountTokens))))
	}
}

func (e *Executor) awaitConfirmation(ctx context.Context, txSig string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		confirmed, err := e.swap.Confirm(ctx, txSig)
		if err == nil && confirmed {
			return nil
		}
		if err != nil {
			log.Debug().Err(err).Str("txSig", txSig).Msg("confirmation poll error")
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s", txSig)
		case <-ticker.C:
		}
	}
}

// transition validates, stamps and persists a status change. Invalid
// transitions are programmer errors: rejected loudly, never applied.
func (e *Executor) transition(o *storage.Order, next string) error {
	if !validTransitions[o.Status][next] {
		err := fmt.Errorf("invalid order transition %s -> %s (order %s)", o.Status, next, o.ID)
		log.Error().Err(err).Msg("order state machine violation")
		return err
	}
	if next == storage.OrderFilled && (!o.ActualPrice.Valid || o.TxSignature == "") {
		return fmt.Errorf("fill without price/signature (order %s)", o.ID)
	}

	prev := o.Status
	o.Status = next
	o.UpdatedAt = time.Now()
	if err := e.db.UpdateOrder(o); err != nil {
		o.Status = prev
		return fmt.Errorf("persist %s: %w", next, err)
	}
	return nil
}

// handleFailure marks the order FAILED, then either schedules a retry or
// finalizes with an alert.
func (e *Executor) handleFailure(ctx context.Context, o *storage.Order, cause error) {
	o.LastError = cause.Error()
	if err := e.transition(o, storage.OrderFailed); err != nil {
		log.Error().Err(err).Str("orderID", shortID(o.ID)).Msg("failed to persist FAILED status")
		return
	}

	log.Warn().
		Str("orderID", shortID(o.ID)).
		Str("type", o.Type).
		Int("attempt", o.AttemptCount).
		Int("maxAttempts", o.MaxAttempts).
		Err(cause).
		Msg("order attempt failed")

	if o.CanRetry() {
		e.scheduleRetry(o)
		return
	}

	severity := ports.SeverityHigh
	if o.IsExit() {
		severity = ports.SeverityCritical
	}
	if e.alerts != nil {
		e.alerts.Raise(ctx, ports.Alert{
			Type:           "order_execution_failed",
			Severity:       severity,
			Title:          fmt.Sprintf("%s order failed", o.Type),
			Message:        fmt.Sprintf("order %s failed after %d attempts: %s", shortID(o.ID), o.AttemptCount, cause),
			DedupeKey:      "order_failed_" + o.ID,
			RequiresAction: true,
		})
	}
}

// scheduleRetry re-queues a failed order after an exponential backoff.
// Exit retries use the shorter base.
func (e *Executor) scheduleRetry(o *storage.Order) {
	backoff := e.retryBackoff(o)
	log.Info().
		Str("orderID", shortID(o.ID)).
		Dur("backoff", backoff).
		Msg("retry scheduled")

	time.AfterFunc(backoff, func() {
		if err := e.transition(o, storage.OrderPending); err != nil {
			log.Error().Err(err).Str("orderID", shortID(o.ID)).Msg("retry transition failed")
			return
		}
		e.queue.Enqueue(o, false)
	})
}

func (e *Executor) retryBackoff(o *storage.Order) time.Duration {
	execCfg := e.cfg.GetExecution()
	base := time.Duration(execCfg.RetryBackoffBaseMs) * time.Millisecond
	if o.IsExit() {
		base = time.Duration(execCfg.ExitRetryBackoffBaseMs) * time.Millisecond
	}
	cap := time.Duration(execCfg.RetryBackoffCapMs) * time.Millisecond

	backoff := base
	for i := 1; i < o.AttemptCount; i++ {
		backoff *= 2
		if backoff >= cap {
			return cap
		}
	}
	if backoff > cap {
		return cap
	}
	return backoff
}

// Cancel removes a still-queued order and marks it CANCELLED. Orders
// already processing are not interrupted.
func (e *Executor) Cancel(orderID string) error {
	if !e.queue.Remove(orderID) {
		return fmt.Errorf("order not queued: %s", orderID)
	}
	o, err := e.db.GetOrder(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("order not found: %s", orderID)
	}
	return e.transition(o, storage.OrderCancelled)
}

// Stats returns executed/failed counters plus queue statistics
func (e *Executor) Stats() (executed, failed int64, queue Stats) {
	e.statMu.Lock()
	executed, failed = e.executed, e.failed
	e.statMu.Unlock()
	return executed, failed, e.queue.GetStats()
}
