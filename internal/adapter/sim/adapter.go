// Package sim provides the simulated swap adapter and signer. The
// executor's state machine is identical for simulated orders; only the
// venue calls diverge.
package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/ports"
)

const lamportsPerSol = 1_000_000_000

// wsolMint is the wrapped native asset mint used in swap routes
const wsolMint = "So11111111111111111111111111111111111111112"

// Adapter simulates the swap venue with bounded artificial latency.
// Quotes derive from the injected price source so fills land at the
// expected price scaled by the configured multiplier.
type Adapter struct {
	price      ports.PriceFeed
	latency    time.Duration
	multiplier decimal.Decimal
	seq        atomic.Uint64
}

// NewAdapter creates a simulated swap adapter
func NewAdapter(price ports.PriceFeed, latency time.Duration, fillMultiplier float64) *Adapter {
	mult := decimal.NewFromFloat(fillMultiplier)
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return &Adapter{price: price, latency: latency, multiplier: mult}
}

func (a *Adapter) sleep(ctx context.Context) error {
	if a.latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.latency):
		return nil
	}
}

// GetQuote simulates a quote at the current feed price
func (a *Adapter) GetQuote(ctx context.Context, inMint, outMint string, amountBase uint64, slippageBps int) (*ports.Quote, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}

	token := outMint
	if outMint == wsolMint {
		token = inMint
	}
	pq, err := a.price.FetchPrice(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("sim quote price: %w", err)
	}
	price := pq.Price.Mul(a.multiplier)
	if !price.IsPositive() {
		return nil, fmt.Errorf("sim quote: no positive price for %s", token)
	}

	var outAmount uint64
	if outMint == wsolMint {
		// Selling tokens for SOL: proceeds = tokens * price, in lamports.
		proceeds := decimal.NewFromInt(int64(amountBase)).Mul(price)
		outAmount = uint64(proceeds.Mul(decimal.NewFromInt(lamportsPerSol)).IntPart())
	} else {
		// Buying tokens with SOL lamports.
		sol := decimal.NewFromInt(int64(amountBase)).Div(decimal.NewFromInt(lamportsPerSol))
		outAmount = uint64(sol.Div(price).IntPart())
	}

	return &ports.Quote{
		InputMint:   inMint,
		OutputMint:  outMint,
		InAmount:    amountBase,
		OutAmount:   outAmount,
		Route:       "simulated",
		SlippageBps: slippageBps,
	}, nil
}

// BuildSwapTx returns a placeholder transaction
func (a *Adapter) BuildSwapTx(ctx context.Context, quote *ports.Quote, userPubkey string) ([]byte, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("sim:%s:%s:%d", quote.InputMint, quote.OutputMint, quote.InAmount)), nil
}

// Execute synthesizes a transaction signature
func (a *Adapter) Execute(ctx context.Context, tx []byte, signer ports.Signer) (*ports.SwapResult, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}
	if _, err := signer.Sign(tx); err != nil {
		return nil, err
	}
	return &ports.SwapResult{
		Success:     true,
		TxSignature: fmt.Sprintf("SIM%016d", a.seq.Add(1)),
	}, nil
}

// Confirm always confirms simulated transactions
func (a *Adapter) Confirm(ctx context.Context, txSignature string) (bool, error) {
	return true, nil
}

// Signer is a no-key simulator signer
type Signer struct {
	pubkey string
}

// NewSigner creates a simulated signer
func NewSigner(pubkey string) *Signer {
	if pubkey == "" {
		pubkey = "SimSigner11111111111111111111111111111111111"
	}
	return &Signer{pubkey: pubkey}
}

// PublicKey returns the simulated public key
func (s *Signer) PublicKey() string { return s.pubkey }

// Sign returns the transaction unchanged
func (s *Signer) Sign(tx []byte) ([]byte, error) { return tx, nil }

// StaticSafety is a fixed-verdict token safety gate for simulation and tests
type StaticSafety struct {
	Safe   bool
	Reason string
}

// Check returns the configured verdict
func (s StaticSafety) Check(ctx context.Context, token string) (bool, string, error) {
	return s.Safe, s.Reason, nil
}

// StaticPrice is a fixed-price feed for simulation and tests
type StaticPrice struct {
	P decimal.Decimal
}

// FetchPrice returns the fixed price
func (s StaticPrice) FetchPrice(ctx context.Context, token string) (ports.PriceQuote, error) {
	return ports.PriceQuote{Price: s.P, Source: "static", FetchedAt: time.Now()}, nil
}
