package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/storage"
)

// TradeHandler receives signals that cleared the filter, scoring and
// threshold gates. The handler owns risk gating, sizing and order creation.
type TradeHandler interface {
	HandleSignal(ctx context.Context, sig *ScoredSignal) error
}

// Pipeline strings the filter, scorer, threshold checker and async
// logger together for each incoming swap event.
type Pipeline struct {
	filter    *Filter
	scorer    *Scorer
	threshold *ThresholdChecker
	logger    *AsyncLogger
	trader    TradeHandler
}

// NewPipeline creates the signal pipeline
func NewPipeline(filter *Filter, scorer *Scorer, threshold *ThresholdChecker, logger *AsyncLogger, trader TradeHandler) *Pipeline {
	return &Pipeline{
		filter:    filter,
		scorer:    scorer,
		threshold: threshold,
		logger:    logger,
		trader:    trader,
	}
}

// Process runs one swap event through the pipeline. Errors inside the
// pipeline drop the event; they never propagate to the webhook intake.
func (p *Pipeline) Process(ctx context.Context, ev *SwapEvent) {
	fr := p.filter.FilterSignal(ctx, ev)

	switch fr.Status {
	case FilterError:
		return
	case FilterNotMonitored:
		// Cheap rejection: no scoring, no log row for unmonitored noise.
		return
	case FilterBlacklisted:
		p.logEntry(ev, nil, LogBlacklisted, "wallet blacklisted")
		return
	}

	scored, err := p.scorer.Score(ctx, ev, fr.Metadata)
	if err != nil {
		log.Error().Err(err).Str("tx", ev.TxSignature).Msg("scoring failed, dropping signal")
		return
	}

	tr := p.threshold.Check(scored)
	scored.ShouldTrade = tr.Passed
	scored.PositionMultiplier = tr.PositionMultiplier

	status := LogScored
	reason := tr.Reason
	switch {
	case !scored.TokenSafe:
		status = LogUnsafeToken
	case !tr.Passed:
		status = LogBelowGate
	case ev.Direction != DirectionBuy:
		// Smart-money sells do not open positions; they are audit-only.
		status = LogScored
		reason = "sell signal, audit only"
	default:
		status = LogTraded
	}
	p.logEntry(ev, scored, status, reason)

	log.Debug().
		Str("wallet", ev.Wallet).
		Str("token", ev.Token).
		Float64("score", scored.FinalScore).
		Bool("cacheHit", fr.CacheHit).
		Float64("lookupMs", fr.LookupMs).
		Bool("trade", status == LogTraded).
		Msg("signal processed")

	if status != LogTraded || p.trader == nil {
		return
	}

	if err := p.trader.HandleSignal(ctx, scored); err != nil {
		log.Error().Err(err).Str("tx", ev.TxSignature).Msg("trade handling failed")
	}
}

func (p *Pipeline) logEntry(ev *SwapEvent, scored *ScoredSignal, status, reason string) {
	entry := &storage.SignalLog{
		TxSignature:  ev.TxSignature,
		Wallet:       ev.Wallet,
		Token:        ev.Token,
		Direction:    ev.Direction,
		AmountSol:    ev.AmountSol,
		AmountTokens: ev.AmountTokens,
		TokenSafe:    true,
		Status:       status,
		Reason:       reason,
		CreatedAt:    time.Now(),
	}
	if scored != nil {
		entry.WalletScore = scored.WalletScore
		entry.ClusterBoost = scored.ClusterBoost
		entry.FinalScore = scored.FinalScore
		entry.TokenSafe = scored.TokenSafe
		entry.TokenRejectReason = scored.TokenRejectReason
	}
	p.logger.Log(entry)
}
