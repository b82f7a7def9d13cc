package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all bot configuration
type Config struct {
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Cache     CacheConfig     `mapstructure:"cache"`
	SignalLog SignalLogConfig `mapstructure:"signal_log"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Jupiter   JupiterConfig   `mapstructure:"jupiter"`
	PriceFeed PriceFeedConfig `mapstructure:"price_feed"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type WebhookConfig struct {
	ListenHost    string `mapstructure:"listen_host"`
	ListenPort    int    `mapstructure:"listen_port"`
	HMACSecretEnv string `mapstructure:"hmac_secret_env"`
}

type SignalConfig struct {
	TradeThreshold      float64 `mapstructure:"trade_threshold"`
	WalletWinRateWeight float64 `mapstructure:"wallet_win_rate_weight"`
	WalletPnlWeight     float64 `mapstructure:"wallet_pnl_weight"`
	LeaderBonus         float64 `mapstructure:"leader_bonus"`
	MinClusterBoost     float64 `mapstructure:"min_cluster_boost"`
	MaxClusterBoost     float64 `mapstructure:"max_cluster_boost"`
	PnlNormalizeMin     float64 `mapstructure:"pnl_normalize_min"`
	PnlNormalizeMax     float64 `mapstructure:"pnl_normalize_max"`
}

type CacheConfig struct {
	WalletCacheTTLSeconds int `mapstructure:"wallet_cache_ttl_seconds"`
}

type SignalLogConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	FlushIntervalSeconds int `mapstructure:"flush_interval_seconds"`
	QueueCapacity        int `mapstructure:"queue_capacity"`
}

type RiskConfig struct {
	DailyLimitPct        float64 `mapstructure:"daily_limit_pct"`
	WarningThresholdPct  float64 `mapstructure:"warning_threshold_pct"`
	DrawdownThresholdPct float64 `mapstructure:"drawdown_threshold_pct"`
	InitialCapitalSol    float64 `mapstructure:"initial_capital"`
	CapitalFloorSol      float64 `mapstructure:"capital_floor_sol"`
	PollIntervalSeconds  int     `mapstructure:"poll_interval_seconds"`
}

type SizingConfig struct {
	BasePositionPct              float64 `mapstructure:"base_position_pct"`
	MinPositionSol               float64 `mapstructure:"min_position_sol"`
	MaxPositionSol               float64 `mapstructure:"max_position_sol"`
	HighConvictionMultiplier     float64 `mapstructure:"high_conviction_multiplier"`
	StandardConvictionMultiplier float64 `mapstructure:"standard_conviction_multiplier"`
	HighConvictionThreshold      float64 `mapstructure:"high_conviction_threshold"`
	MinConvictionThreshold       float64 `mapstructure:"min_conviction_threshold"`
	MaxConcurrentPositions       int     `mapstructure:"max_concurrent_positions"`
	MaxCapitalAllocationPct      float64 `mapstructure:"max_capital_allocation_pct"`
	ReserveSol                   float64 `mapstructure:"reserve_sol"`
	ReduceToMin                  bool    `mapstructure:"reduce_to_min"`
}

type ExecutionConfig struct {
	MaxConcurrent              int     `mapstructure:"max_concurrent"`
	PollIntervalMs             int     `mapstructure:"poll_interval_ms"`
	ConfirmationTimeoutSeconds int     `mapstructure:"confirmation_timeout_seconds"`
	ShutdownTimeoutSeconds     int     `mapstructure:"shutdown_timeout_seconds"`
	MaxAttempts                int     `mapstructure:"max_attempts"`
	RetryBackoffBaseMs         int     `mapstructure:"retry_backoff_base_ms"`
	ExitRetryBackoffBaseMs     int     `mapstructure:"exit_retry_backoff_base_ms"`
	RetryBackoffCapMs          int     `mapstructure:"retry_backoff_cap_ms"`
	MaxSlippageBps             int     `mapstructure:"max_slippage_bps"`
	SimulationMode             bool    `mapstructure:"simulation_mode"`
	SimLatencyMs               int     `mapstructure:"sim_latency_ms"`
	SimFillMultiplier          float64 `mapstructure:"sim_fill_multiplier"`
}

type JupiterConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	APIKeysEnv     string `mapstructure:"api_keys_env"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	FallbackURL    string `mapstructure:"fallback_url"`
}

type PriceFeedConfig struct {
	APIURL         string `mapstructure:"api_url"`
	WSURL          string `mapstructure:"ws_url"`
	CacheTTLSecs   int    `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ExitConfig struct {
	MonitorTickSeconds int               `mapstructure:"monitor_tick_seconds"`
	Mappings           []StrategyMapping `mapstructure:"mappings"`
}

// StrategyMapping routes a score range to an exit strategy
type StrategyMapping struct {
	MinScore   float64 `mapstructure:"min_score"`
	MaxScore   float64 `mapstructure:"max_score"`
	StrategyID string  `mapstructure:"strategy_id"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
}

type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager creates a new config manager
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	// Watch for config changes
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("webhook.listen_host", "0.0.0.0")
	v.SetDefault("webhook.listen_port", 8080)
	v.SetDefault("webhook.hmac_secret_env", "WEBHOOK_HMAC_SECRET")

	v.SetDefault("signal.trade_threshold", 0.65)
	v.SetDefault("signal.wallet_win_rate_weight", 0.6)
	v.SetDefault("signal.wallet_pnl_weight", 0.4)
	v.SetDefault("signal.leader_bonus", 1.15)
	v.SetDefault("signal.min_cluster_boost", 1.0)
	v.SetDefault("signal.max_cluster_boost", 1.5)
	v.SetDefault("signal.pnl_normalize_min", -100.0)
	v.SetDefault("signal.pnl_normalize_max", 1000.0)

	v.SetDefault("cache.wallet_cache_ttl_seconds", 300)

	v.SetDefault("signal_log.batch_size", 50)
	v.SetDefault("signal_log.flush_interval_seconds", 5)
	v.SetDefault("signal_log.queue_capacity", 10000)

	v.SetDefault("risk.daily_limit_pct", 5.0)
	v.SetDefault("risk.warning_threshold_pct", 80.0)
	v.SetDefault("risk.drawdown_threshold_pct", 15.0)
	v.SetDefault("risk.initial_capital", 100.0)
	v.SetDefault("risk.capital_floor_sol", 10.0)
	v.SetDefault("risk.poll_interval_seconds", 60)

	v.SetDefault("sizing.base_position_pct", 2.0)
	v.SetDefault("sizing.min_position_sol", 0.01)
	v.SetDefault("sizing.max_position_sol", 1.0)
	v.SetDefault("sizing.high_conviction_multiplier", 1.5)
	v.SetDefault("sizing.standard_conviction_multiplier", 1.0)
	v.SetDefault("sizing.high_conviction_threshold", 0.85)
	v.SetDefault("sizing.min_conviction_threshold", 0.65)
	v.SetDefault("sizing.max_concurrent_positions", 5)
	v.SetDefault("sizing.max_capital_allocation_pct", 50.0)
	v.SetDefault("sizing.reserve_sol", 0.05)
	v.SetDefault("sizing.reduce_to_min", false)

	v.SetDefault("execution.max_concurrent", 3)
	v.SetDefault("execution.poll_interval_ms", 1000)
	v.SetDefault("execution.confirmation_timeout_seconds", 60)
	v.SetDefault("execution.shutdown_timeout_seconds", 10)
	v.SetDefault("execution.max_attempts", 3)
	v.SetDefault("execution.retry_backoff_base_ms", 2000)
	v.SetDefault("execution.exit_retry_backoff_base_ms", 500)
	v.SetDefault("execution.retry_backoff_cap_ms", 30000)
	v.SetDefault("execution.max_slippage_bps", 500)
	v.SetDefault("execution.simulation_mode", false)
	v.SetDefault("execution.sim_latency_ms", 150)
	v.SetDefault("execution.sim_fill_multiplier", 1.0)

	v.SetDefault("jupiter.quote_api_url", "https://api.jup.ag/swap/v1")
	v.SetDefault("jupiter.api_keys_env", "JUPITER_API_KEYS")
	v.SetDefault("jupiter.timeout_seconds", 10)

	v.SetDefault("price_feed.cache_ttl_seconds", 30)
	v.SetDefault("price_feed.timeout_seconds", 10)

	v.SetDefault("exit.monitor_tick_seconds", 5)

	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")

	v.SetDefault("storage.sqlite_path", "./data/bot.db")
}

// Get returns the current config (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetSignal returns signal scoring config
func (m *Manager) GetSignal() SignalConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Signal
}

// GetSizing returns position sizing config
func (m *Manager) GetSizing() SizingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Sizing
}

// GetRisk returns risk config
func (m *Manager) GetRisk() RiskConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Risk
}

// GetExecution returns execution config
func (m *Manager) GetExecution() ExecutionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Execution
}

// WalletCacheTTL returns the wallet metadata cache TTL
func (m *Manager) WalletCacheTTL() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Cache.WalletCacheTTLSeconds) * time.Second
}

// SetOnChange registers a callback for config changes
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update modifies config values and saves to file
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.config)

	m.viper.Set("signal.trade_threshold", m.config.Signal.TradeThreshold)
	m.viper.Set("risk.daily_limit_pct", m.config.Risk.DailyLimitPct)
	m.viper.Set("risk.drawdown_threshold_pct", m.config.Risk.DrawdownThresholdPct)
	m.viper.Set("sizing.base_position_pct", m.config.Sizing.BasePositionPct)
	m.viper.Set("sizing.max_concurrent_positions", m.config.Sizing.MaxConcurrentPositions)
	m.viper.Set("execution.simulation_mode", m.config.Execution.SimulationMode)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}

	return nil
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetHMACSecret loads the webhook HMAC secret from environment
func (m *Manager) GetHMACSecret() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Webhook.HMACSecretEnv)
}

// GetPrivateKey loads the signing key from environment
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}
