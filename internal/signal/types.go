// Package signal implements the signal pipeline: wallet filtering,
// scoring, threshold gating, and the asynchronous audit log.
package signal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Swap directions
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// SwapEvent is an immutable parsed on-chain swap
type SwapEvent struct {
	TxSignature  string
	Wallet       string
	Token        string
	Direction    string
	AmountSol    decimal.Decimal
	AmountTokens uint64
	Slot         uint64
	FeeLamports  uint64
	Timestamp    time.Time
}

// FilterStatus classifies a filter outcome
type FilterStatus string

const (
	FilterPassed        FilterStatus = "PASSED"
	FilterNotMonitored  FilterStatus = "DISCARDED_NOT_MONITORED"
	FilterBlacklisted   FilterStatus = "BLOCKED_BLACKLISTED"
	FilterError         FilterStatus = "ERROR"
)

// ScoredSignal is a swap event enriched with scoring results
type ScoredSignal struct {
	Event SwapEvent

	WalletScore        float64
	ClusterBoost       float64
	FinalScore         float64
	TokenSafe          bool
	TokenRejectReason  string
	IsLeader           bool
	ClusterID          string
	ShouldTrade        bool
	PositionMultiplier float64
	Explanation        string
}

// Signal log statuses
const (
	LogScored       = "SCORED"
	LogTraded       = "TRADED"
	LogBelowGate    = "BELOW_THRESHOLD"
	LogUnsafeToken  = "UNSAFE_TOKEN"
	LogNotMonitored = "NOT_MONITORED"
	LogBlacklisted  = "BLACKLISTED"
	LogBlocked      = "BLOCKED"
)
