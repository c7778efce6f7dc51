package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	BrokerConfig   BrokerConfig   `json:"broker"`
	UniverseConfig UniverseConfig `json:"universe"`
	DrawdownConfig DrawdownConfig `json:"drawdown"`
	RegimeConfig   RegimeConfig   `json:"regime"`
	RotationConfig RotationConfig `json:"rotation"`
	MonitorConfig  MonitorConfig  `json:"monitor"`
	SizingConfig   SizingConfig   `json:"sizing"`
	ScannerConfig  ScannerConfig  `json:"scanner"`
	RetryConfig    RetryConfig    `json:"retry"`
	BreakerConfig  BreakerConfig  `json:"circuit_breaker"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	VaultConfig    VaultConfig    `json:"vault"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	BotConfig      BotConfig      `json:"bot"`
}

// BrokerConfig holds brokerage API connection settings
type BrokerConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	PaperMode bool   `json:"paper_mode"` // Use paper-trading endpoint
	DryRun    bool   `json:"dry_run"`    // Log orders instead of submitting
}

// UniverseConfig defines the set of symbols the bot scans
type UniverseConfig struct {
	Benchmark string   `json:"benchmark"` // Index proxy used for regime detection
	Symbols   []string `json:"symbols"`
	Exclude   []string `json:"exclude"`
}

// DrawdownConfig holds drawdown protection thresholds
type DrawdownConfig struct {
	ThresholdPercent float64 `json:"threshold_percent"` // Negative, e.g. -8.0
	RecoveryDays     int     `json:"recovery_days"`     // Cooldown after liquidation
}

// RegimeConfig holds the bottoming-structure detection thresholds
type RegimeConfig struct {
	LongSMAPeriod          int     `json:"long_sma_period"`           // Benchmark lock threshold MA
	ShortEMAPeriod         int     `json:"short_ema_period"`          // Follow-through confirmation EMA
	HistoryBars            int     `json:"history_bars"`              // Rolling benchmark window capacity
	CapitulationDropPct    float64 `json:"capitulation_drop_pct"`     // Single-day drop to flag panic
	CapitulationVolumeMult float64 `json:"capitulation_volume_mult"`  // Volume vs average
	CascadeDays            int     `json:"cascade_days"`              // Consecutive down days alternative
	CascadeDropPct         float64 `json:"cascade_drop_pct"`          // Cumulative decline over the cascade
	SwingLowHoldBars       int     `json:"swing_low_hold_bars"`       // Bars price must hold above the low
	SwingLowTolerancePct   float64 `json:"swing_low_tolerance_pct"`   // Undercut tolerance, e.g. 0.2
	FollowThroughMinWait   int     `json:"follow_through_min_wait"`   // Bars after confirmation before FTD counts
	FollowThroughMaxWait   int     `json:"follow_through_max_wait"`   // Window expiry
	FollowThroughGainPct   float64 `json:"follow_through_gain_pct"`   // Gain on above-average volume
	FollowThroughAltGain   float64 `json:"follow_through_alt_gain"`   // Smaller gain + close above short EMA
	FollowThroughVolMult   float64 `json:"follow_through_vol_mult"`   // Volume vs average for the main trigger
	MaxRecoveryDays        int     `json:"max_recovery_days"`         // Recovery mode hard duration cap
	RecoveryDownDays       int     `json:"recovery_down_days"`        // Consecutive down days that end recovery
	BreadthFloorPct        float64 `json:"breadth_floor_pct"`         // % of universe above short MA
	SwingLowBreakPct       float64 `json:"swing_low_break_pct"`       // Break below confirmed low that ends recovery
	RecoveryMultiplier     float64 `json:"recovery_multiplier"`       // Position multiplier while in recovery
	RecoveryMaxPositions   int     `json:"recovery_max_positions"`    // Cap while in recovery
	RecoveryMaxPositionsHL int     `json:"recovery_max_positions_hl"` // Cap when the low was a higher low
	RecoveryProfitTarget   float64 `json:"recovery_profit_target"`    // Relaxed profit target in recovery
	NormalMaxPositions     int     `json:"normal_max_positions"`
}

// RotationConfig holds per-ticker tiering thresholds
type RotationConfig struct {
	CadenceDays            int     `json:"cadence_days"`
	FrozenMinTrades        int     `json:"frozen_min_trades"`
	FrozenWinRate          float64 `json:"frozen_win_rate"`
	PremiumMinTrades       int     `json:"premium_min_trades"`
	PremiumWinRate         float64 `json:"premium_win_rate"`
	PremiumMinProfitFactor float64 `json:"premium_min_profit_factor"`
	StandardMinTrades      int     `json:"standard_min_trades"`
	StandardWinRate        float64 `json:"standard_win_rate"`
	RecoveryPasses         int     `json:"recovery_passes"` // Consecutive qualifying passes to unfreeze
	PremiumMultiplier      float64 `json:"premium_multiplier"`
	StandardMultiplier     float64 `json:"standard_multiplier"`
}

// MonitorConfig holds the tiered exit engine thresholds
type MonitorConfig struct {
	InitialStopATRMult  float64 `json:"initial_stop_atr_mult"`  // Level 0 stop distance
	TrailingStopATRMult float64 `json:"trailing_stop_atr_mult"` // Level 2 chandelier distance
	Tier1TargetPct      float64 `json:"tier1_target_pct"`       // Gain that advances to level 1
	Tier1SellFraction   float64 `json:"tier1_sell_fraction"`    // Fraction of position sold at tier 1
	Tier2TargetPct      float64 `json:"tier2_target_pct"`       // Gain that advances to level 2
	Tier2SellFraction   float64 `json:"tier2_sell_fraction"`    // Fraction of the remainder sold
	KillSwitchDropPct   float64 `json:"kill_switch_drop_pct"`   // Drop from tier1 lock price that exits
	KillSwitchHoldDays  int     `json:"kill_switch_hold_days"`  // Min hold before the switch arms on its own
	MaxLossLowVol       float64 `json:"max_loss_low_vol"`       // Hard backstops by volatility class
	MaxLossMediumVol    float64 `json:"max_loss_medium_vol"`
	MaxLossHighVol      float64 `json:"max_loss_high_vol"`
	MaxLossVeryHighVol  float64 `json:"max_loss_very_high_vol"`
	StagnantMaxDays     int     `json:"stagnant_max_days"`
	StagnantMinGainPct  float64 `json:"stagnant_min_gain_pct"`
	RemnantMinShares    float64 `json:"remnant_min_shares"`
	RemnantMinValue     float64 `json:"remnant_min_value"`
	FallbackStopPct     float64 `json:"fallback_stop_pct"` // Used when ATR is unavailable
}

// SizingConfig holds allocation limits
type SizingConfig struct {
	BasePositionPct     float64 `json:"base_position_pct"`     // % of deployable cash per entry
	MinPositionValue    float64 `json:"min_position_value"`    // Below this, skip the entry
	MaxConcentrationPct float64 `json:"max_concentration_pct"` // Existing + new exposure cap per ticker
	MinCompositeScore   float64 `json:"min_composite_score"`   // Opportunities below this are rejected
	CashReservePct      float64 `json:"cash_reserve_pct"`      // Never deployed
}

// ScannerConfig holds opportunity scanner settings
type ScannerConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
	HistoryBars     int `json:"history_bars"`
	MaxResults      int `json:"max_results"`
}

// RetryConfig holds bounded retry-with-backoff settings for external calls
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier"`
}

// BreakerConfig holds call circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	CooldownSeconds  int `json:"cooldown_seconds"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	// MaxUnpersistedMinutes bounds the in-memory fallback window when the
	// store is unreachable. Past it the bot refuses new commitments.
	MaxUnpersistedMinutes int `json:"max_unpersisted_minutes"`
}

// RedisConfig holds the optional position state cache settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ServerConfig holds the status API settings
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// AuthConfig holds operator authentication settings for the status API
type AuthConfig struct {
	JWTSecret            string `json:"jwt_secret"`
	OperatorPasswordHash string `json:"operator_password_hash"` // bcrypt
	TokenTTLMinutes      int    `json:"token_ttl_minutes"`
}

// VaultConfig holds optional HashiCorp Vault credential sourcing
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // Console writer when false
}

// BotConfig holds cycle scheduling settings
type BotConfig struct {
	CycleIntervalMinutes int  `json:"cycle_interval_minutes"`
	RunOnStart           bool `json:"run_on_start"`
}

// Default returns the configuration the bot ships with. Every threshold is
// overridable via config.json or environment.
func Default() *Config {
	return &Config{
		BrokerConfig: BrokerConfig{
			BaseURL:   "https://paper-api.alpaca.markets",
			PaperMode: true,
		},
		UniverseConfig: UniverseConfig{
			Benchmark: "SPY",
		},
		DrawdownConfig: DrawdownConfig{
			ThresholdPercent: -8.0,
			RecoveryDays:     10,
		},
		RegimeConfig: RegimeConfig{
			LongSMAPeriod:          200,
			ShortEMAPeriod:         21,
			HistoryBars:            50,
			CapitulationDropPct:    2.0,
			CapitulationVolumeMult: 1.5,
			CascadeDays:            3,
			CascadeDropPct:         4.0,
			SwingLowHoldBars:       1,
			SwingLowTolerancePct:   0.2,
			FollowThroughMinWait:   1,
			FollowThroughMaxWait:   15,
			FollowThroughGainPct:   1.25,
			FollowThroughAltGain:   1.0,
			FollowThroughVolMult:   1.0,
			MaxRecoveryDays:        40,
			RecoveryDownDays:       3,
			BreadthFloorPct:        30.0,
			SwingLowBreakPct:       0.5,
			RecoveryMultiplier:     0.6,
			RecoveryMaxPositions:   8,
			RecoveryMaxPositionsHL: 12,
			RecoveryProfitTarget:   8.0,
			NormalMaxPositions:     25,
		},
		RotationConfig: RotationConfig{
			CadenceDays:            7,
			FrozenMinTrades:        8,
			FrozenWinRate:          35.0,
			PremiumMinTrades:       6,
			PremiumWinRate:         60.0,
			PremiumMinProfitFactor: 1.4,
			StandardMinTrades:      4,
			StandardWinRate:        45.0,
			RecoveryPasses:         3,
			PremiumMultiplier:      1.5,
			StandardMultiplier:     1.0,
		},
		MonitorConfig: MonitorConfig{
			InitialStopATRMult:  2.75,
			TrailingStopATRMult: 2.0,
			Tier1TargetPct:      12.0,
			Tier1SellFraction:   0.33,
			Tier2TargetPct:      25.0,
			Tier2SellFraction:   0.50,
			KillSwitchDropPct:   3.5,
			KillSwitchHoldDays:  10,
			MaxLossLowVol:       8.0,
			MaxLossMediumVol:    10.0,
			MaxLossHighVol:      12.0,
			MaxLossVeryHighVol:  15.0,
			StagnantMaxDays:     45,
			StagnantMinGainPct:  5.0,
			RemnantMinShares:    2,
			RemnantMinValue:     200.0,
			FallbackStopPct:     8.0,
		},
		SizingConfig: SizingConfig{
			BasePositionPct:     12.0,
			MinPositionValue:    500.0,
			MaxConcentrationPct: 20.0,
			MinCompositeScore:   55.0,
			CashReservePct:      5.0,
		},
		ScannerConfig: ScannerConfig{
			CacheTTLSeconds: 300,
			HistoryBars:     120,
			MaxResults:      20,
		},
		RetryConfig: RetryConfig{
			MaxAttempts:    4,
			InitialDelayMs: 500,
			MaxDelayMs:     8000,
			Multiplier:     2.0,
		},
		BreakerConfig: BreakerConfig{
			FailureThreshold: 5,
			CooldownSeconds:  60,
		},
		DatabaseConfig: DatabaseConfig{
			Host:                  "localhost",
			Port:                  5432,
			User:                  "swingbot",
			Database:              "swingbot",
			SSLMode:               "disable",
			MaxUnpersistedMinutes: 30,
		},
		RedisConfig: RedisConfig{
			Addr: "localhost:6379",
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		AuthConfig: AuthConfig{
			TokenTTLMinutes: 720,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			JSONFormat: true,
		},
		BotConfig: BotConfig{
			CycleIntervalMinutes: 30,
			RunOnStart:           true,
		},
	}
}

// Load reads config.json (if present) over the defaults, then applies
// environment variable overrides. A .env file is honored first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := loadFromFile(cfg, getEnvOrDefault("SWINGBOT_CONFIG", "config.json")); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the risk engine cannot run safely with.
func (c *Config) Validate() error {
	if c.DrawdownConfig.ThresholdPercent >= 0 {
		return fmt.Errorf("drawdown threshold must be negative, got %.2f", c.DrawdownConfig.ThresholdPercent)
	}
	if c.MonitorConfig.Tier1SellFraction <= 0 || c.MonitorConfig.Tier1SellFraction >= 1 {
		return fmt.Errorf("tier1 sell fraction must be in (0,1), got %.2f", c.MonitorConfig.Tier1SellFraction)
	}
	if c.MonitorConfig.Tier2SellFraction <= 0 || c.MonitorConfig.Tier2SellFraction >= 1 {
		return fmt.Errorf("tier2 sell fraction must be in (0,1), got %.2f", c.MonitorConfig.Tier2SellFraction)
	}
	if c.MonitorConfig.Tier2TargetPct <= c.MonitorConfig.Tier1TargetPct {
		return fmt.Errorf("tier2 target must exceed tier1 target")
	}
	if c.SizingConfig.BasePositionPct <= 0 || c.SizingConfig.BasePositionPct > 100 {
		return fmt.Errorf("base position pct must be in (0,100], got %.2f", c.SizingConfig.BasePositionPct)
	}
	if c.RetryConfig.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be >= 1")
	}
	if c.BreakerConfig.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be >= 1")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Broker credentials come from environment (or Vault) rather than the
	// config file so the file can be committed.
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.SecretKey = getEnvOrDefault("BROKER_SECRET_KEY", cfg.BrokerConfig.SecretKey)
	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	if v := os.Getenv("BROKER_DRY_RUN"); v != "" {
		cfg.BrokerConfig.DryRun = v == "true"
	}

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvInt("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true"
	}
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.VaultConfig.Enabled = v == "true"
	}
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.OperatorPasswordHash = getEnvOrDefault("OPERATOR_PASSWORD_HASH", cfg.AuthConfig.OperatorPasswordHash)

	cfg.ServerConfig.Port = getEnvInt("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LoggingConfig.JSONFormat = v == "true"
	}

	cfg.BotConfig.CycleIntervalMinutes = getEnvInt("CYCLE_INTERVAL_MINUTES", cfg.BotConfig.CycleIntervalMinutes)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
