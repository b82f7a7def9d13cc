// Package pricefeed implements the price-feed port over an HTTP price
// API, with a short-TTL cache and an optional websocket stream feeding
// the same cache.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/ports"
)

type cacheEntry struct {
	quote ports.PriceQuote
}

// Client fetches token prices with caching. Results are cached for the
// TTL; on fetch failure a stale cached value is returned marked IsStale.
type Client struct {
	apiURL string
	http   *http.Client
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewClient creates a price feed client
func NewClient(apiURL string, ttl, timeout time.Duration) *Client {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: timeout},
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// FetchPrice returns the current price for a token
func (c *Client) FetchPrice(ctx context.Context, token string) (ports.PriceQuote, error) {
	c.mu.RLock()
	entry, ok := c.cache[token]
	c.mu.RUnlock()

	if ok && time.Since(entry.quote.FetchedAt) < c.ttl {
		return entry.quote, nil
	}

	quote, err := c.fetch(ctx, token)
	if err != nil {
		if ok {
			// Degrade gracefully: use the stale value, marked.
			stale := entry.quote
			stale.IsStale = true
			log.Warn().Err(err).Str("token", token).Msg("price fetch failed, serving stale value")
			return stale, nil
		}
		return ports.PriceQuote{}, err
	}

	c.mu.Lock()
	c.cache[token] = cacheEntry{quote: quote}
	c.mu.Unlock()
	return quote, nil
}

func (c *Client) fetch(ctx context.Context, token string) (ports.PriceQuote, error) {
	reqURL := c.apiURL + "?ids=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ports.PriceQuote{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.PriceQuote{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.PriceQuote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return ports.PriceQuote{}, fmt.Errorf("price api status %d", resp.StatusCode)
	}

	var pr struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &pr); err != nil {
		return ports.PriceQuote{}, fmt.Errorf("decode price response: %w", err)
	}

	entry, ok := pr.Data[token]
	if !ok {
		return ports.PriceQuote{}, fmt.Errorf("no price for token %s", token)
	}
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		return ports.PriceQuote{}, fmt.Errorf("parse price %q: %w", entry.Price, err)
	}

	return ports.PriceQuote{
		Price:     price,
		Source:    "http",
		FetchedAt: time.Now(),
	}, nil
}

// Put injects a price into the cache (used by the websocket stream)
func (c *Client) Put(token string, price decimal.Decimal, source string) {
	c.mu.Lock()
	c.cache[token] = cacheEntry{quote: ports.PriceQuote{
		Price:     price,
		Source:    source,
		FetchedAt: time.Now(),
	}}
	c.mu.Unlock()
}
