// Package ports defines the narrow contracts the trading core depends on.
// Each collaborator (price feed, swap venue, key holder, token safety,
// alerting) is injectable for tests.
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a point-in-time price observation for a token, quoted in
// the same denomination as position entry prices.
type PriceQuote struct {
	Price     decimal.Decimal
	Source    string
	FetchedAt time.Time
	IsStale   bool
}

// PriceFeed fetches current token prices. Implementations may cache.
type PriceFeed interface {
	FetchPrice(ctx context.Context, token string) (PriceQuote, error)
}

// Quote is a swap quote from a venue.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct decimal.Decimal
	Route          string
	SlippageBps    int
}

// SwapResult is the outcome of a swap submission.
type SwapResult struct {
	Success     bool
	TxSignature string
	Err         string
}

// Signer abstracts a key holder: software key, hardware signer, or simulator.
type Signer interface {
	PublicKey() string
	Sign(tx []byte) ([]byte, error)
}

// SwapAdapter drives swaps against a venue. GetQuote is read-only;
// Execute is the only side-effecting call.
type SwapAdapter interface {
	GetQuote(ctx context.Context, inMint, outMint string, amountBase uint64, slippageBps int) (*Quote, error)
	BuildSwapTx(ctx context.Context, quote *Quote, userPubkey string) ([]byte, error)
	Execute(ctx context.Context, tx []byte, signer Signer) (*SwapResult, error)
	Confirm(ctx context.Context, txSignature string) (bool, error)
}

// TokenSafety is the binary safety gate consulted during scoring.
// The reason is recorded for audit when safe is false.
type TokenSafety interface {
	Check(ctx context.Context, token string) (safe bool, reason string, err error)
}

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityInfo     = "info"
)

// Alert is a user-visible failure or policy event.
type Alert struct {
	Type           string
	Severity       string
	Title          string
	Message        string
	DedupeKey      string
	RequiresAction bool
}

// AlertSink receives alerts. Implementations dedupe by DedupeKey.
type AlertSink interface {
	Raise(ctx context.Context, alert Alert) error
}
