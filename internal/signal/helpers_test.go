package signal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/storage"
	"solana-smartmoney-bot/internal/walletcache"
)

func testConfig(t *testing.T, content string) *config.Manager {
	t.Helper()
	if content == "" {
		content = "signal:\n    trade_threshold: 0.65\n"
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	m, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

type walletMapRepo map[string]*storage.WalletRow

func (r walletMapRepo) GetWallet(address string) (*storage.WalletRow, error) {
	return r[address], nil
}

func testCache(t *testing.T, rows walletMapRepo) *walletcache.Cache {
	t.Helper()
	return testCacheWithRepo(t, rows)
}

func testCacheWithRepo(t *testing.T, repo walletcache.Repository) *walletcache.Cache {
	t.Helper()
	return walletcache.New(repo, time.Minute, walletcache.ScoreParams{
		WinRateWeight:   0.6,
		PnlWeight:       0.4,
		PnlNormalizeMin: -100,
		PnlNormalizeMax: 1000,
	})
}

func buyEvent(wallet, token string) *SwapEvent {
	return &SwapEvent{
		TxSignature:  "sig-" + wallet,
		Wallet:       wallet,
		Token:        token,
		Direction:    DirectionBuy,
		AmountSol:    decimal.NewFromFloat(1.5),
		AmountTokens: 1_000_000,
		Slot:         1234,
		Timestamp:    time.Now(),
	}
}
