package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Feed      FeedConfig      `yaml:"feed"`
	Chain     ChainConfig     `yaml:"chain"`
	Queue     QueueConfig     `yaml:"queue"`
	Risk      RiskConfig      `yaml:"risk"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Exec      ExecConfig      `yaml:"exec"`
	MEV       MEVConfig       `yaml:"mev"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	QuoteBaseURL   string        `yaml:"quote_base_url"`
	QuoteTimeout   time.Duration `yaml:"quote_timeout"`
}

type ChainConfig struct {
	RPCURL         string            `yaml:"rpc_url"`
	ChainID        int64             `yaml:"chain_id"`
	Timeout        time.Duration     `yaml:"timeout"`
	Venues         map[string]string `yaml:"venues"`
	GasLimit       uint64            `yaml:"gas_limit"`
	MinGasPriceWei uint64            `yaml:"min_gas_price_wei"`
	MaxGasPriceWei uint64            `yaml:"max_gas_price_wei"`
}

type QueueConfig struct {
	Capacity     int           `yaml:"capacity"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RiskConfig struct {
	TokenBlacklist         []string `yaml:"token_blacklist"`
	TokenWhitelist         []string `yaml:"token_whitelist"`
	MaxTokenExposureUSD    float64  `yaml:"max_token_exposure_usd"`
	MaxVenueExposureUSD    float64  `yaml:"max_venue_exposure_usd"`
	MaxSingleTradeUSD      float64  `yaml:"max_single_trade_usd"`
	MaxDailyVolumeUSD      float64  `yaml:"max_daily_volume_usd"`
	MinLiquidityUSD        float64  `yaml:"min_liquidity_usd"`
	MaxPriceImpactPct      float64  `yaml:"max_price_impact_pct"`
	MaxHourlyTrades        int      `yaml:"max_hourly_trades"`
	MaxConsecutiveFailures int      `yaml:"max_consecutive_failures"`
	BaseSlippageBps        int      `yaml:"base_slippage_bps"`
	MaxSlippageBps         int      `yaml:"max_slippage_bps"`
}

type BreakerConfig struct {
	MaxConsecutiveFailures  int           `yaml:"max_consecutive_failures"`
	FailureRateWindow       time.Duration `yaml:"failure_rate_window"`
	FailureRateThresholdPct float64       `yaml:"failure_rate_threshold_pct"`
	MinWindowSamples        int           `yaml:"min_window_samples"`
	MaxDrawdownUSD          float64       `yaml:"max_drawdown_usd"`
	Cooldown                time.Duration `yaml:"cooldown"`
	AutoRecovery            bool          `yaml:"auto_recovery"`
	RecoveryProbation       bool          `yaml:"recovery_probation"`
}

type ExecConfig struct {
	Workers            int           `yaml:"workers"`
	DispatchRatePerSec float64       `yaml:"dispatch_rate_per_sec"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
}

type MEVConfig struct {
	ProtectThreshold      float64       `yaml:"protect_threshold"`
	CommitRevealThreshold float64       `yaml:"commit_reveal_threshold"`
	ExtremeThreshold      float64       `yaml:"extreme_threshold"`
	MaxProtectDelay       time.Duration `yaml:"max_protect_delay"`
	GasBumpPct            float64       `yaml:"gas_bump_pct"`
	SlippageTightenBps    int           `yaml:"slippage_tighten_bps"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Feed.QuoteTimeout == 0 {
		cfg.Feed.QuoteTimeout = 5 * time.Second
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 10 * time.Second
	}
	if cfg.Chain.GasLimit == 0 {
		cfg.Chain.GasLimit = 400_000
	}
	if cfg.Chain.MinGasPriceWei == 0 {
		cfg.Chain.MinGasPriceWei = 1_000_000_000
	}
	if cfg.Chain.MaxGasPriceWei == 0 {
		cfg.Chain.MaxGasPriceWei = 500_000_000_000
	}
	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 256
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 8
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 250 * time.Millisecond
	}
	if cfg.Risk.MaxHourlyTrades == 0 {
		cfg.Risk.MaxHourlyTrades = 60
	}
	if cfg.Risk.MaxConsecutiveFailures == 0 {
		cfg.Risk.MaxConsecutiveFailures = 5
	}
	if cfg.Risk.BaseSlippageBps == 0 {
		cfg.Risk.BaseSlippageBps = 50
	}
	if cfg.Risk.MaxSlippageBps == 0 {
		cfg.Risk.MaxSlippageBps = 500
	}
	if cfg.Risk.MaxPriceImpactPct == 0 {
		cfg.Risk.MaxPriceImpactPct = 3
	}
	if cfg.Breaker.MaxConsecutiveFailures == 0 {
		cfg.Breaker.MaxConsecutiveFailures = 5
	}
	if cfg.Breaker.FailureRateWindow == 0 {
		cfg.Breaker.FailureRateWindow = 10 * time.Minute
	}
	if cfg.Breaker.FailureRateThresholdPct == 0 {
		cfg.Breaker.FailureRateThresholdPct = 50
	}
	if cfg.Breaker.MinWindowSamples == 0 {
		cfg.Breaker.MinWindowSamples = 4
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 5 * time.Minute
	}
	if cfg.Exec.Workers == 0 {
		cfg.Exec.Workers = 4
	}
	if cfg.Exec.DispatchRatePerSec == 0 {
		cfg.Exec.DispatchRatePerSec = 10
	}
	if cfg.Exec.SubmitTimeout == 0 {
		cfg.Exec.SubmitTimeout = 30 * time.Second
	}
	if cfg.Exec.MaxRetries == 0 {
		cfg.Exec.MaxRetries = 3
	}
	if cfg.Exec.RetryBackoff == 0 {
		cfg.Exec.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MEV.ProtectThreshold == 0 {
		cfg.MEV.ProtectThreshold = 40
	}
	if cfg.MEV.CommitRevealThreshold == 0 {
		cfg.MEV.CommitRevealThreshold = 70
	}
	if cfg.MEV.ExtremeThreshold == 0 {
		cfg.MEV.ExtremeThreshold = 90
	}
	if cfg.MEV.MaxProtectDelay == 0 {
		cfg.MEV.MaxProtectDelay = 2 * time.Second
	}
	if cfg.MEV.GasBumpPct == 0 {
		cfg.MEV.GasBumpPct = 15
	}
	if cfg.MEV.SlippageTightenBps == 0 {
		cfg.MEV.SlippageTightenBps = 10
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/arb-exec-bot.db"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
}

func validate(cfg *Config) error {
	if cfg.Risk.MaxSingleTradeUSD <= 0 {
		return errors.New("risk.max_single_trade_usd must be > 0")
	}
	if cfg.Risk.MaxDailyVolumeUSD <= 0 {
		return errors.New("risk.max_daily_volume_usd must be > 0")
	}
	if cfg.Risk.MaxSingleTradeUSD > cfg.Risk.MaxDailyVolumeUSD {
		return errors.New("risk.max_single_trade_usd exceeds risk.max_daily_volume_usd")
	}
	if cfg.Risk.MaxTokenExposureUSD <= 0 {
		return errors.New("risk.max_token_exposure_usd must be > 0")
	}
	if cfg.Risk.MaxVenueExposureUSD <= 0 {
		return errors.New("risk.max_venue_exposure_usd must be > 0")
	}
	if cfg.Risk.BaseSlippageBps > cfg.Risk.MaxSlippageBps {
		return errors.New("risk.base_slippage_bps exceeds risk.max_slippage_bps")
	}
	if cfg.Breaker.FailureRateThresholdPct < 0 || cfg.Breaker.FailureRateThresholdPct > 100 {
		return fmt.Errorf("breaker.failure_rate_threshold_pct %.1f out of range [0,100]", cfg.Breaker.FailureRateThresholdPct)
	}
	if cfg.Breaker.MaxDrawdownUSD < 0 {
		return errors.New("breaker.max_drawdown_usd must be >= 0")
	}
	if cfg.Exec.Workers < 1 {
		return errors.New("exec.workers must be >= 1")
	}
	if cfg.Chain.MinGasPriceWei > cfg.Chain.MaxGasPriceWei {
		return errors.New("chain.min_gas_price_wei exceeds chain.max_gas_price_wei")
	}
	if cfg.MEV.ProtectThreshold > cfg.MEV.ExtremeThreshold {
		return errors.New("mev.protect_threshold exceeds mev.extreme_threshold")
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
