package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/walletcache"
)

// FilterResult carries the filter outcome plus lookup telemetry
type FilterResult struct {
	Status   FilterStatus
	Metadata *walletcache.Entry
	LookupMs float64
	CacheHit bool
}

// Filter gates swap events against the monitored wallet set
type Filter struct {
	cache *walletcache.Cache
}

// NewFilter creates a signal filter backed by the wallet cache
func NewFilter(cache *walletcache.Cache) *Filter {
	return &Filter{cache: cache}
}

// FilterSignal classifies a swap event. Blacklisted wallets block,
// unmonitored wallets are discarded cheaply, lookup errors drop the event.
func (f *Filter) FilterSignal(ctx context.Context, ev *SwapEvent) FilterResult {
	start := time.Now()

	meta, hit, err := f.cache.Get(ctx, ev.Wallet)
	lookupMs := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		log.Error().Err(err).Str("wallet", ev.Wallet).Msg("wallet lookup failed, dropping signal")
		return FilterResult{Status: FilterError, LookupMs: lookupMs, CacheHit: hit}
	}

	result := FilterResult{Metadata: meta, LookupMs: lookupMs, CacheHit: hit}

	switch {
	case meta.IsBlacklisted:
		result.Status = FilterBlacklisted
		log.Warn().Str("wallet", ev.Wallet).Str("tx", ev.TxSignature).Msg("blacklisted wallet blocked")
	case !meta.IsMonitored:
		result.Status = FilterNotMonitored
	default:
		result.Status = FilterPassed
	}

	return result
}
