// Simulation driver: runs a synthetic smart-money signal through the full
// pipeline (filter → score → threshold → size → order → fill → monitor)
// against the simulated swap adapter, then prints the resulting state.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/adapter/sim"
	"solana-smartmoney-bot/internal/alerts"
	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/engine"
	"solana-smartmoney-bot/internal/exit"
	"solana-smartmoney-bot/internal/order"
	"solana-smartmoney-bot/internal/risk"
	"solana-smartmoney-bot/internal/signal"
	"solana-smartmoney-bot/internal/sizing"
	"solana-smartmoney-bot/internal/storage"
	"solana-smartmoney-bot/internal/walletcache"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Update(func(c *config.Config) {
		c.Execution.SimulationMode = true
	}); err != nil {
		log.Warn().Err(err).Msg("could not persist simulation flag")
	}

	dir, err := os.MkdirTemp("", "simrun")
	if err != nil {
		log.Fatal().Err(err).Msg("temp dir failed")
	}
	defer os.RemoveAll(dir)

	db, err := storage.NewDB(filepath.Join(dir, "sim.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()

	if err := exit.SeedDefaults(db); err != nil {
		log.Fatal().Err(err).Msg("seeding strategies failed")
	}

	// A monitored smart-money wallet with a strong track record.
	smartWallet := "SmartWa11et111111111111111111111111111111111"
	token := "SimT0ken1111111111111111111111111111111111111"
	if err := db.UpsertWallet(&storage.WalletRow{
		Address:     smartWallet,
		IsMonitored: true,
		WinRate:     0.9,
		TotalPnlSol: 450,
	}); err != nil {
		log.Fatal().Err(err).Msg("seeding wallet failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	price := sim.StaticPrice{P: decimal.RequireFromString("0.000001")}
	adapter := sim.NewAdapter(price, 50*time.Millisecond, 1.0)
	signer := sim.NewSigner("")

	alertSvc := alerts.NewService(db, time.Minute)
	state, err := risk.NewStateManager(db)
	if err != nil {
		log.Fatal().Err(err).Msg("state load failed")
	}
	daily := risk.NewDailyLossTracker(db, cfg)
	gate := risk.NewEntryGate(state, daily, db)

	sc := cfg.GetSignal()
	cache := walletcache.New(db, cfg.WalletCacheTTL(), walletcache.ScoreParams{
		WinRateWeight:   sc.WalletWinRateWeight,
		PnlWeight:       sc.WalletPnlWeight,
		PnlNormalizeMin: sc.PnlNormalizeMin,
		PnlNormalizeMax: sc.PnlNormalizeMax,
	})
	filter := signal.NewFilter(cache)
	scorer := signal.NewScorer(cfg, sim.StaticSafety{Safe: true})
	threshold := signal.NewThresholdChecker(cfg)
	asyncLog := signal.NewAsyncLogger(db, 1000, 10, time.Second)

	queue := order.NewQueue(cfg.GetExecution().MaxConcurrent)
	executor := order.NewExecutor(queue, db, adapter, signer, alertSvc, cfg, nil)

	capitalFn := func() (decimal.Decimal, error) {
		return decimal.NewFromFloat(cfg.GetRisk().InitialCapitalSol), nil
	}

	sizer := sizing.NewSizer(db, cfg)
	assigner := exit.NewAssigner(db, cfg)
	eng := engine.New(gate, sizer, assigner, executor, db, cfg, price, capitalFn)
	executor.SetFillListener(eng)

	pipeline := signal.NewPipeline(filter, scorer, threshold, asyncLog, eng)
	executor.Start(ctx)
	monitor := exit.NewMonitor(db, price, executor, cfg)

	log.Info().Msg("injecting synthetic BUY signal")
	pipeline.Process(ctx, &signal.SwapEvent{
		TxSignature:  "SimSig111111111111111111111111111111111111111111",
		Wallet:       smartWallet,
		Token:        token,
		Direction:    signal.DirectionBuy,
		AmountSol:    decimal.NewFromFloat(1.5),
		AmountTokens: 1_500_000,
		Slot:         1,
		Timestamp:    time.Now(),
	})

	// Let the dispatcher pick up and fill the entry.
	time.Sleep(3 * time.Second)
	monitor.Tick(ctx)

	positions, err := db.ListOpenPositions()
	if err != nil {
		log.Fatal().Err(err).Msg("listing positions failed")
	}
	for _, p := range positions {
		log.Info().
			Str("positionID", p.ID[:8]).
			Str("token", p.Token).
			Str("entrySol", p.EntryAmountSol.String()).
			Str("entryPrice", p.EntryPrice.String()).
			Str("strategy", p.ExitStrategyID).
			Msg("open position")
	}

	executed, failed, stats := executor.Stats()
	log.Info().
		Int64("executed", executed).
		Int64("failed", failed).
		Int("queued", stats.QueueSize).
		Msg("simulation complete")

	executor.Stop()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	asyncLog.Close(flushCtx)
}
