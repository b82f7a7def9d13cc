package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"solana-smartmoney-bot/internal/adapter/jupiter"
	"solana-smartmoney-bot/internal/adapter/pricefeed"
	"solana-smartmoney-bot/internal/adapter/sim"
	"solana-smartmoney-bot/internal/adapter/tokensafety"
	"solana-smartmoney-bot/internal/alerts"
	"solana-smartmoney-bot/internal/config"
	"solana-smartmoney-bot/internal/engine"
	"solana-smartmoney-bot/internal/exit"
	"solana-smartmoney-bot/internal/health"
	"solana-smartmoney-bot/internal/order"
	"solana-smartmoney-bot/internal/ports"
	"solana-smartmoney-bot/internal/risk"
	"solana-smartmoney-bot/internal/signal"
	"solana-smartmoney-bot/internal/sizing"
	"solana-smartmoney-bot/internal/storage"
	"solana-smartmoney-bot/internal/wallet"
	"solana-smartmoney-bot/internal/walletcache"
	"solana-smartmoney-bot/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	setupLogger()
	log.Info().Msg("smart-money bot starting...")

	cfg, err := config.NewManager(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	db, err := storage.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()

	if err := exit.SeedDefaults(db); err != nil {
		log.Fatal().Err(err).Msg("seeding exit strategies failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Risk side
	alertSvc := alerts.NewService(db, 5*time.Minute)
	state, err := risk.NewStateManager(db)
	if err != nil {
		log.Fatal().Err(err).Msg("system state load failed")
	}
	daily := risk.NewDailyLossTracker(db, cfg)
	breaker, err := risk.NewDrawdownBreaker(db, cfg, state, alertSvc)
	if err != nil {
		log.Fatal().Err(err).Msg("drawdown breaker init failed")
	}
	gate := risk.NewEntryGate(state, daily, db)

	// Adapters
	pfCfg := cfg.Get().PriceFeed
	price := pricefeed.NewClient(pfCfg.APIURL,
		time.Duration(pfCfg.CacheTTLSecs)*time.Second,
		time.Duration(pfCfg.TimeoutSeconds)*time.Second)
	if pfCfg.WSURL != "" {
		stream := pricefeed.NewStream(pfCfg.WSURL, price)
		stream.Start(ctx)
		defer stream.Stop()
	}

	swap, signer := buildExecutionStack(cfg, price)

	var safety ports.TokenSafety
	if safetyURL := os.Getenv("TOKEN_SAFETY_API_URL"); safetyURL != "" {
		safety = tokensafety.NewClient(safetyURL, 10*time.Second)
	} else {
		log.Warn().Msg("no token safety API configured, accepting all tokens")
		safety = sim.StaticSafety{Safe: true}
	}

	// Signal pipeline
	sc := cfg.GetSignal()
	cache := walletcache.New(db, cfg.WalletCacheTTL(), walletcache.ScoreParams{
		WinRateWeight:   sc.WalletWinRateWeight,
		PnlWeight:       sc.WalletPnlWeight,
		PnlNormalizeMin: sc.PnlNormalizeMin,
		PnlNormalizeMax: sc.PnlNormalizeMax,
	})
	filter := signal.NewFilter(cache)
	scorer := signal.NewScorer(cfg, safety)
	threshold := signal.NewThresholdChecker(cfg)
	slCfg := cfg.Get().SignalLog
	asyncLog := signal.NewAsyncLogger(db, slCfg.QueueCapacity, slCfg.BatchSize,
		time.Duration(slCfg.FlushIntervalSeconds)*time.Second)

	// Order side
	queue := order.NewQueue(cfg.GetExecution().MaxConcurrent)
	executor := order.NewExecutor(queue, db, swap, signer, alertSvc, cfg, nil)

	capitalFn := func() (decimal.Decimal, error) {
		realized, err := db.RealizedPnlSince(time.Unix(0, 0))
		if err != nil {
			return decimal.Zero, err
		}
		unrealized, err := db.SumOpenUnrealizedPnl()
		if err != nil {
			return decimal.Zero, err
		}
		initial := decimal.NewFromFloat(cfg.GetRisk().InitialCapitalSol)
		return initial.Add(realized).Add(unrealized), nil
	}

	sizer := sizing.NewSizer(db, cfg)
	assigner := exit.NewAssigner(db, cfg)
	eng := engine.New(gate, sizer, assigner, executor, db, cfg, price, capitalFn)
	executor.SetFillListener(eng)

	pipeline := signal.NewPipeline(filter, scorer, threshold, asyncLog, eng)

	// Webhook intake
	eventChan := make(chan *signal.SwapEvent, 1000)
	checker := health.NewChecker(map[string]string{
		"price_feed": pfCfg.APIURL,
	})
	checker.Start(ctx)

	webCfg := cfg.Get().Webhook
	server := webhook.NewServer(webCfg.ListenHost, webCfg.ListenPort, cfg.GetHMACSecret, eventChan, checker)

	go func() {
		for ev := range eventChan {
			pipeline.Process(ctx, ev)
		}
	}()

	// Background workers
	executor.Start(ctx)
	monitor := exit.NewMonitor(db, price, executor, cfg)
	monitor.Start(ctx)
	go riskLoop(ctx, cfg, daily, breaker, capitalFn)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("webhook server failed")
		}
	}()
	log.Info().
		Str("host", webCfg.ListenHost).
		Int("port", webCfg.ListenPort).
		Bool("simulation", cfg.GetExecution().SimulationMode).
		Msg("webhook server started")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	server.Shutdown()
	cancel()
	monitor.Stop()
	executor.Stop()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := asyncLog.Close(flushCtx); err != nil {
		log.Warn().Err(err).Msg("signal log flush incomplete")
	}

	log.Info().Msg("goodbye")
}

// buildExecutionStack picks the simulated or real swap adapter + signer
func buildExecutionStack(cfg *config.Manager, price *pricefeed.Client) (ports.SwapAdapter, ports.Signer) {
	execCfg := cfg.GetExecution()

	if execCfg.SimulationMode {
		log.Info().Msg("simulation mode: using simulated swap adapter")
		adapter := sim.NewAdapter(price,
			time.Duration(execCfg.SimLatencyMs)*time.Millisecond,
			execCfg.SimFillMultiplier)
		return adapter, sim.NewSigner("")
	}

	jupCfg := cfg.Get().Jupiter
	timeout := time.Duration(jupCfg.TimeoutSeconds) * time.Second
	var swap ports.SwapAdapter = jupiter.NewClient(jupCfg.QuoteAPIURL, jupCfg.APIKeysEnv, timeout)
	if jupCfg.FallbackURL != "" {
		fallback := jupiter.NewClient(jupCfg.FallbackURL, jupCfg.APIKeysEnv, timeout)
		swap = jupiter.NewFallback(swap, fallback)
	}

	signer, err := wallet.NewSigner(cfg.GetPrivateKey())
	if err != nil {
		log.Fatal().Err(err).Msg("signer load failed")
	}
	return swap, signer
}

// riskLoop records capital snapshots and evaluates the drawdown breaker
func riskLoop(ctx context.Context, cfg *config.Manager, daily *risk.DailyLossTracker, breaker *risk.DrawdownBreaker, capitalFn engine.CapitalFn) {
	interval := time.Duration(cfg.GetRisk().PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			capital, err := capitalFn()
			if err != nil {
				log.Error().Err(err).Msg("capital computation failed")
				continue
			}
			if err := daily.RecordDailySnapshot(capital); err != nil {
				log.Error().Err(err).Msg("daily snapshot failed")
			}
			if _, err := breaker.Observe(ctx, capital); err != nil {
				log.Error().Err(err).Msg("drawdown check failed")
			}
		}
	}
}

func setupLogger() {
	level := zerolog.InfoLevel
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
		FormatLevel: func(i any) string {
			return fmt.Sprintf("| %-5v |", i)
		},
	})
}
