package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solana-smartmoney-bot/internal/adapter/sim"
	"solana-smartmoney-bot/internal/ports"
)

func quoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("inputMint") == "" {
			http.Error(w, "missing inputMint", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"inputMint":      r.URL.Query().Get("inputMint"),
			"inAmount":       r.URL.Query().Get("amount"),
			"outputMint":     r.URL.Query().Get("outputMint"),
			"outAmount":      "250000",
			"slippageBps":    500,
			"priceImpactPct": "0.12",
			"routePlan": []map[string]any{
				{"swapInfo": map[string]any{"label": "Raydium"}},
				{"swapInfo": map[string]any{"label": "Orca"}},
			},
		})
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"swapTransaction":      base64.StdEncoding.EncodeToString([]byte("raw-tx-bytes")),
			"lastValidBlockHeight": 12345,
		})
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "Success",
			"signature": "ExecSig111",
		})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "Finalized"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetQuote(t *testing.T) {
	srv := quoteServer(t)
	c := NewClient(srv.URL, "UNSET_ENV", 5*time.Second)

	q, err := c.GetQuote(context.Background(), "MintIn", "MintOut", 1_000_000, 500)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.InAmount != 1_000_000 || q.OutAmount != 250_000 {
		t.Errorf("amounts = %d/%d", q.InAmount, q.OutAmount)
	}
	if q.Route != "Raydium>Orca" {
		t.Errorf("route = %s", q.Route)
	}
	if q.PriceImpactPct.String() != "0.12" {
		t.Errorf("impact = %s", q.PriceImpactPct)
	}
}

func TestBuildAndExecute(t *testing.T) {
	srv := quoteServer(t)
	c := NewClient(srv.URL, "UNSET_ENV", 5*time.Second)
	ctx := context.Background()

	q, err := c.GetQuote(ctx, "MintIn", "MintOut", 1000, 500)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}

	tx, err := c.BuildSwapTx(ctx, q, "UserPubkey111")
	if err != nil {
		t.Fatalf("BuildSwapTx: %v", err)
	}
	if string(tx) != "raw-tx-bytes" {
		t.Errorf("tx = %q", tx)
	}

	res, err := c.Execute(ctx, tx, sim.NewSigner(""))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.TxSignature != "ExecSig111" {
		t.Errorf("result = %+v", res)
	}

	ok, err := c.Confirm(ctx, res.TxSignature)
	if err != nil || !ok {
		t.Errorf("Confirm: ok=%v err=%v", ok, err)
	}
}

func TestQuoteErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "UNSET_ENV", time.Second)

	if _, err := c.GetQuote(context.Background(), "A", "B", 1000, 100); err == nil {
		t.Error("expected quote error")
	}
}

type countingAdapter struct {
	inner ports.SwapAdapter
	fail  bool
	calls int
}

func (c *countingAdapter) GetQuote(ctx context.Context, in, out string, amount uint64, bps int) (*ports.Quote, error) {
	c.calls++
	if c.fail {
		return nil, fmt.Errorf("primary down")
	}
	return c.inner.GetQuote(ctx, in, out, amount, bps)
}

func (c *countingAdapter) BuildSwapTx(ctx context.Context, q *ports.Quote, pk string) ([]byte, error) {
	if c.fail {
		return nil, fmt.Errorf("primary down")
	}
	return c.inner.BuildSwapTx(ctx, q, pk)
}

func (c *countingAdapter) Execute(ctx context.Context, tx []byte, s ports.Signer) (*ports.SwapResult, error) {
	if c.fail {
		return nil, fmt.Errorf("primary down")
	}
	return c.inner.Execute(ctx, tx, s)
}

func (c *countingAdapter) Confirm(ctx context.Context, sig string) (bool, error) {
	if c.fail {
		return false, fmt.Errorf("primary down")
	}
	return c.inner.Confirm(ctx, sig)
}

func TestFallbackOnPrimaryError(t *testing.T) {
	srv := quoteServer(t)
	secondary := NewClient(srv.URL, "UNSET_ENV", 5*time.Second)
	primary := &countingAdapter{fail: true}
	f := NewFallback(primary, secondary)

	q, err := f.GetQuote(context.Background(), "MintIn", "MintOut", 1000, 500)
	if err != nil {
		t.Fatalf("fallback GetQuote: %v", err)
	}
	if q.OutAmount != 250_000 {
		t.Errorf("out = %d", q.OutAmount)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
}

func TestFallbackSkippedWhenPrimaryHealthy(t *testing.T) {
	srv := quoteServer(t)
	healthy := &countingAdapter{inner: NewClient(srv.URL, "UNSET_ENV", 5*time.Second)}
	f := NewFallback(healthy, &countingAdapter{fail: true})

	if _, err := f.GetQuote(context.Background(), "MintIn", "MintOut", 1000, 500); err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if healthy.calls != 1 {
		t.Errorf("primary calls = %d, want 1", healthy.calls)
	}
}
