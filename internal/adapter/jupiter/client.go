// Package jupiter implements the swap-adapter port against the Jupiter
// swap API with HTTP/2 connection pooling and API key rotation.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/net/http2"

	"solana-smartmoney-bot/internal/ports"
)

// HTTPClientPool provides HTTP/2 connection pooling
type HTTPClientPool struct {
	clients []*http.Client
	idx     atomic.Uint32
}

// NewHTTPClientPool creates an HTTP/2 optimized client pool
func NewHTTPClientPool(size int, timeout time.Duration) *HTTPClientPool {
	pool := &HTTPClientPool{
		clients: make([]*http.Client, size),
	}

	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}

		http2.ConfigureTransport(transport)

		pool.clients[i] = &http.Client{
			Transport: transport,
			Timeout:   timeout,
		}
	}

	return pool
}

// Get returns the next pooled client (round-robin)
func (p *HTTPClientPool) Get() *http.Client {
	idx := p.idx.Add(1)
	return p.clients[idx%uint32(len(p.clients))]
}

// Client is the Jupiter swap adapter
type Client struct {
	baseURL    string
	clientPool *HTTPClientPool
	apiKeys    []string
	keyIdx     atomic.Uint32
}

// NewClient creates a Jupiter swap adapter. API keys come from the given
// environment variable (comma separated) when present.
func NewClient(baseURL, apiKeysEnv string, timeout time.Duration) *Client {
	var apiKeys []string
	if envKeys := os.Getenv(apiKeysEnv); envKeys != "" {
		apiKeys = strings.Split(envKeys, ",")
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientPool: NewHTTPClientPool(4, timeout),
		apiKeys:    apiKeys,
	}
}

func (c *Client) getAPIKey() string {
	if len(c.apiKeys) == 0 {
		return ""
	}
	idx := c.keyIdx.Add(1)
	return c.apiKeys[idx%uint32(len(c.apiKeys))]
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// GetQuote fetches a swap quote. Read-only.
func (c *Client) GetQuote(ctx context.Context, inMint, outMint string, amountBase uint64, slippageBps int) (*ports.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inMint)
	params.Set("outputMint", outMint)
	params.Set("amount", strconv.FormatUint(amountBase, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	reqURL := c.baseURL + "/quote?" + params.Encode()
	body, err := c.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	inAmount, _ := strconv.ParseUint(qr.InAmount, 10, 64)
	outAmount, err := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("quote outAmount %q: %w", qr.OutAmount, err)
	}

	impact, _ := decimal.NewFromString(qr.PriceImpactPct)
	route := ""
	if len(qr.RoutePlan) > 0 {
		labels := make([]string, 0, len(qr.RoutePlan))
		for _, step := range qr.RoutePlan {
			labels = append(labels, step.SwapInfo.Label)
		}
		route = strings.Join(labels, ">")
	}

	return &ports.Quote{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		Route:          route,
		SlippageBps:    qr.SlippageBps,
	}, nil
}

// BuildSwapTx requests a serialized swap transaction for a quote
func (c *Client) BuildSwapTx(ctx context.Context, quote *ports.Quote, userPubkey string) ([]byte, error) {
	payload := map[string]any{
		"userPublicKey": userPubkey,
		"quoteResponse": map[string]any{
			"inputMint":   quote.InputMint,
			"inAmount":    strconv.FormatUint(quote.InAmount, 10),
			"outputMint":  quote.OutputMint,
			"outAmount":   strconv.FormatUint(quote.OutAmount, 10),
			"slippageBps": quote.SlippageBps,
		},
		"wrapAndUnwrapSol": true,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/swap", raw)
	if err != nil {
		return nil, fmt.Errorf("swap request: %w", err)
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	tx, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	return tx, nil
}

// Execute signs and submits the transaction
func (c *Client) Execute(ctx context.Context, tx []byte, signer ports.Signer) (*ports.SwapResult, error) {
	signed, err := signer.Sign(tx)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"signedTransaction": base64.StdEncoding.EncodeToString(signed),
	})
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/execute", payload)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	var er struct {
		Status    string `json:"status"`
		Signature string `json:"signature"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("decode execute: %w", err)
	}

	result := &ports.SwapResult{
		Success:     er.Status == "Success" && er.Signature != "",
		TxSignature: er.Signature,
		Err:         er.Error,
	}
	return result, nil
}

// Confirm polls the transaction status once
func (c *Client) Confirm(ctx context.Context, txSignature string) (bool, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/status?signature="+url.QueryEscape(txSignature), nil)
	if err != nil {
		return false, err
	}
	var sr struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &sr); err != nil {
		return false, err
	}
	return sr.Status == "Finalized" || sr.Status == "Confirmed", nil
}

func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.getAPIKey(); key != "" {
		req.Header.Set("x-api-key", key)
	}

	resp, err := c.clientPool.Get().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Fallback wraps a primary and secondary swap adapter: quote, build and
// execute fall back to the secondary on primary errors.
type Fallback struct {
	primary   ports.SwapAdapter
	secondary ports.SwapAdapter
}

// NewFallback creates a fallback swap adapter
func NewFallback(primary, secondary ports.SwapAdapter) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

func (f *Fallback) GetQuote(ctx context.Context, inMint, outMint string, amountBase uint64, slippageBps int) (*ports.Quote, error) {
	q, err := f.primary.GetQuote(ctx, inMint, outMint, amountBase, slippageBps)
	if err == nil {
		return q, nil
	}
	log.Warn().Err(err).Msg("primary quote failed, falling back")
	return f.secondary.GetQuote(ctx, inMint, outMint, amountBase, slippageBps)
}

func (f *Fallback) BuildSwapTx(ctx context.Context, quote *ports.Quote, userPubkey string) ([]byte, error) {
	tx, err := f.primary.BuildSwapTx(ctx, quote, userPubkey)
	if err == nil {
		return tx, nil
	}
	log.Warn().Err(err).Msg("primary swap build failed, falling back")
	return f.secondary.BuildSwapTx(ctx, quote, userPubkey)
}

func (f *Fallback) Execute(ctx context.Context, tx []byte, signer ports.Signer) (*ports.SwapResult, error) {
	res, err := f.primary.Execute(ctx, tx, signer)
	if err == nil {
		return res, nil
	}
	log.Warn().Err(err).Msg("primary execute failed, falling back")
	return f.secondary.Execute(ctx, tx, signer)
}

func (f *Fallback) Confirm(ctx context.Context, txSignature string) (bool, error) {
	ok, err := f.primary.Confirm(ctx, txSignature)
	if err == nil {
		return ok, nil
	}
	return f.secondary.Confirm(ctx, txSignature)
}
