// Package walletcache holds the in-memory wallet metadata cache consulted
// on every incoming swap event.
package walletcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/storage"
)

// Entry is a cached wallet metadata view. Entries are shared read-only;
// lifetime equals the cache TTL.
type Entry struct {
	Wallet        string
	IsMonitored   bool
	IsBlacklisted bool
	Reputation    float64
	ClusterID     string
	IsLeader      bool
	ClusterWeight float64
	CachedAt      time.Time
	TTL           time.Duration
}

// Expired reports whether the entry has outlived its TTL
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CachedAt) >= e.TTL
}

// ScoreParams derives a wallet reputation from its profile:
// win_rate weighted against normalized total PnL, clamped to [0,1].
type ScoreParams struct {
	WinRateWeight   float64
	PnlWeight       float64
	PnlNormalizeMin float64
	PnlNormalizeMax float64
}

// Derive computes the reputation score for a wallet profile
func (p ScoreParams) Derive(winRate, totalPnlSol float64) float64 {
	normPnl := 0.0
	if span := p.PnlNormalizeMax - p.PnlNormalizeMin; span > 0 {
		normPnl = (totalPnlSol - p.PnlNormalizeMin) / span
	}
	normPnl = clamp01(normPnl)
	return clamp01(winRate*p.WinRateWeight + normPnl*p.PnlWeight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Repository is the wallet profile source consulted on cache miss
type Repository interface {
	GetWallet(address string) (*storage.WalletRow, error)
}

// Cache maps wallet address to metadata with TTL expiry. A miss for one
// wallet never blocks hits or concurrent misses for other wallets.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	loading map[string]chan struct{}
	repo    Repository
	ttl     time.Duration
	params  ScoreParams

	hits   int64
	misses int64
}

// New creates a wallet metadata cache
func New(repo Repository, ttl time.Duration, params ScoreParams) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		loading: make(map[string]chan struct{}),
		repo:    repo,
		ttl:     ttl,
		params:  params,
	}
}

// Get returns the metadata for a wallet and whether it was a cache hit.
// On miss the profile is fetched from the repository; concurrent misses
// for the same wallet share one fetch.
func (c *Cache) Get(ctx context.Context, wallet string) (*Entry, bool, error) {
	for {
		c.mu.Lock()
		if e, ok := c.entries[wallet]; ok && !e.Expired(time.Now()) {
			c.hits++
			c.mu.Unlock()
			return e, true, nil
		}

		if ch, inflight := c.loading[wallet]; inflight {
			c.mu.Unlock()
			select {
			case <-ch:
				continue // re-check the map; loader may have failed
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		ch := make(chan struct{})
		c.loading[wallet] = ch
		c.misses++
		c.mu.Unlock()

		entry, err := c.load(wallet)

		c.mu.Lock()
		delete(c.loading, wallet)
		close(ch)
		if err != nil {
			c.mu.Unlock()
			return nil, false, err
		}
		c.entries[wallet] = entry
		c.mu.Unlock()
		return entry, false, nil
	}
}

// load fetches the wallet profile without holding the cache lock.
// An unknown wallet is cached as unmonitored to avoid repeat lookups.
func (c *Cache) load(wallet string) (*Entry, error) {
	row, err := c.repo.GetWallet(wallet)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Wallet:        wallet,
		ClusterWeight: 1.0,
		CachedAt:      time.Now(),
		TTL:           c.ttl,
	}
	if row != nil {
		entry.IsMonitored = row.IsMonitored
		entry.IsBlacklisted = row.IsBlacklisted
		entry.Reputation = c.params.Derive(row.WinRate, row.TotalPnlSol)
		entry.ClusterID = row.ClusterID
		entry.IsLeader = row.IsLeader
		if row.ClusterWeight > 0 {
			entry.ClusterWeight = row.ClusterWeight
		}
	}
	return entry, nil
}

// Invalidate drops a wallet's cached entry
func (c *Cache) Invalidate(wallet string) {
	c.mu.Lock()
	delete(c.entries, wallet)
	c.mu.Unlock()
}

// Clear drops all cached entries
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	log.Debug().Msg("wallet cache cleared")
}

// Stats returns hit and miss counters
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Size returns the number of cached entries (expired included)
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
