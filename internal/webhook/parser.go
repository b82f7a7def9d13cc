// Package webhook receives and parses swap events from the blockchain
// event provider.
package webhook

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/signal"
)

// WSOLMint is the wrapped native asset mint used in swap routes
const WSOLMint = "So11111111111111111111111111111111111111112"

const lamportsPerSol = 1_000_000_000

// TokenTransfer is one token movement inside a webhook payload
type TokenTransfer struct {
	FromUserAccount string          `json:"fromUserAccount"`
	ToUserAccount   string          `json:"toUserAccount"`
	Mint            string          `json:"mint"`
	TokenAmount     decimal.Decimal `json:"tokenAmount"`
}

// AccountData is an account entry inside a webhook payload
type AccountData struct {
	Account string `json:"account"`
}

// Payload is the inbound webhook body for one transaction
type Payload struct {
	Type           string          `json:"type"`
	Signature      string          `json:"signature"`
	Timestamp      int64           `json:"timestamp"`
	Slot           uint64          `json:"slot"`
	Fee            uint64          `json:"fee"`
	FeePayer       string          `json:"feePayer"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
	Source         string          `json:"source"`
	AccountData    []AccountData   `json:"accountData"`
}

// Parser converts webhook payloads into swap events
type Parser struct {
	droppedNonSwap atomic.Int64
	droppedInvalid atomic.Int64
}

// NewParser creates a webhook payload parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts a swap event from a payload. Non-SWAP payloads and
// payloads without a recognizable direction return nil.
//
// A BUY is identified when the fee payer receives the non-wrapped-native
// token; a SELL when it sends that token in exchange for the wrapped
// native mint.
func (p *Parser) Parse(payload *Payload) *signal.SwapEvent {
	if payload.Type != "SWAP" {
		p.droppedNonSwap.Add(1)
		return nil
	}

	var solLeg, tokenLeg *TokenTransfer
	for i := range payload.TokenTransfers {
		t := &payload.TokenTransfers[i]
		if t.Mint == WSOLMint {
			if solLeg == nil {
				solLeg = t
			}
			continue
		}
		if t.ToUserAccount == payload.FeePayer || t.FromUserAccount == payload.FeePayer {
			tokenLeg = t
		}
	}

	if tokenLeg == nil {
		p.droppedInvalid.Add(1)
		return nil
	}

	var direction string
	switch {
	case tokenLeg.ToUserAccount == payload.FeePayer:
		direction = signal.DirectionBuy
	case tokenLeg.FromUserAccount == payload.FeePayer && solLeg != nil:
		direction = signal.DirectionSell
	default:
		p.droppedInvalid.Add(1)
		return nil
	}

	amountSol := decimal.Zero
	if solLeg != nil {
		amountSol = solLeg.TokenAmount.Div(decimal.NewFromInt(lamportsPerSol))
	}

	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp == 0 {
		ts = time.Now()
	}

	return &signal.SwapEvent{
		TxSignature:  payload.Signature,
		Wallet:       payload.FeePayer,
		Token:        tokenLeg.Mint,
		Direction:    direction,
		AmountSol:    amountSol,
		AmountTokens: uint64(tokenLeg.TokenAmount.IntPart()),
		Slot:         payload.Slot,
		FeeLamports:  payload.Fee,
		Timestamp:    ts,
	}
}

// DroppedNonSwap returns the count of dropped non-swap payloads
func (p *Parser) DroppedNonSwap() int64 {
	return p.droppedNonSwap.Load()
}

// DroppedInvalid returns the count of payloads with no recognizable swap
func (p *Parser) DroppedInvalid() int64 {
	return p.droppedInvalid.Load()
}
