// Package config defines the top-level configuration for the flowtrader
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLOWTRADER_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Flow     FlowConfig     `toml:"flow"`
	Exec     ExecConfig     `toml:"exec"`
	Risk     RiskConfig     `toml:"risk"`
	Regime   RegimeConfig   `toml:"regime"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds exchange connectivity and credentials.
type ExchangeConfig struct {
	RestHost            string   `toml:"rest_host"`
	WsHost              string   `toml:"ws_host"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindowMs        int      `toml:"recv_window_ms"`
	RequestsPerSecond   float64  `toml:"requests_per_second"`
	RequestBurst        int      `toml:"request_burst"`
	Symbols             []string `toml:"symbols"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the stats
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// FlowConfig holds order-flow analysis parameters.
type FlowConfig struct {
	HistorySize    int     `toml:"history_size"`
	MinSamples     int     `toml:"min_samples"`
	ZThreshold     float64 `toml:"z_threshold"`
	StrongZ        float64 `toml:"strong_z"`
	MomentumZ      float64 `toml:"momentum_z"`
	ReversalZ      float64 `toml:"reversal_z"`
	MaxSpreadPct   float64 `toml:"max_spread_pct"`
	VWAPWindowSize int     `toml:"vwap_window_size"`
	StopPct        float64 `toml:"stop_pct"`
	TargetPct      float64 `toml:"target_pct"`
}

// ExecConfig holds order execution parameters.
type ExecConfig struct {
	ChaseTimeout duration `toml:"chase_timeout"`
	PollInterval duration `toml:"poll_interval"`
	MaxRetries   int      `toml:"max_retries"`
}

// RiskConfig holds position sizing and risk guard parameters.
type RiskConfig struct {
	Advisor             string   `toml:"advisor"`
	RiskFraction        float64  `toml:"risk_fraction"`
	MaxPositionFraction float64  `toml:"max_position_fraction"`
	MinStrength         float64  `toml:"min_strength"`
	MaxPositions        int      `toml:"max_positions"`
	DrawdownCeiling     float64  `toml:"drawdown_ceiling"`
	DrawdownBaseline    float64  `toml:"drawdown_baseline"`
	Cooldown            duration `toml:"cooldown"`
	MinHold             duration `toml:"min_hold"`
	MaxHold             duration `toml:"max_hold"`
	TimeExitInterval    duration `toml:"time_exit_interval"`
}

// RegimeConfig holds market regime detection parameters.
type RegimeConfig struct {
	Enabled         bool     `toml:"enabled"`
	BarHistory      int      `toml:"bar_history"`
	RetrainInterval duration `toml:"retrain_interval"`
	BlockSideways   bool     `toml:"block_sideways"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "2s", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "2s" or "10m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestHost:          "https://fapi.binance.com",
			WsHost:            "wss://fstream.binance.com",
			RecvWindowMs:      5000,
			RequestsPerSecond: 8,
			RequestBurst:      16,
			Symbols:           []string{"BTCUSDT"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flowtrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flowtrader-data",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Flow: FlowConfig{
			HistorySize:    100,
			MinSamples:     20,
			ZThreshold:     1.5,
			StrongZ:        3.0,
			MomentumZ:      4.0,
			ReversalZ:      0.6,
			MaxSpreadPct:   0.05,
			VWAPWindowSize: 500,
			StopPct:        0.5,
			TargetPct:      1.0,
		},
		Exec: ExecConfig{
			ChaseTimeout: duration{2 * time.Second},
			PollInterval: duration{200 * time.Millisecond},
			MaxRetries:   5,
		},
		Risk: RiskConfig{
			Advisor:             "balanced",
			RiskFraction:        0.01,
			MaxPositionFraction: 0.10,
			MinStrength:         0.3,
			MaxPositions:        3,
			DrawdownCeiling:     0.05,
			DrawdownBaseline:    1000,
			Cooldown:            duration{30 * time.Second},
			MinHold:             duration{10 * time.Second},
			MaxHold:             duration{5 * time.Minute},
			TimeExitInterval:    duration{10 * time.Second},
		},
		Regime: RegimeConfig{
			Enabled:         true,
			BarHistory:      200,
			RetrainInterval: duration{30 * time.Minute},
			BlockSideways:   true,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_open", "trade_close", "emergency_stop", "drawdown_pause"},
		},
		Mode:     "sim",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade": true,
	"sim":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, sim)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange — credentials are only mandatory for live trading.
	if c.Exchange.RestHost == "" {
		errs = append(errs, "exchange: rest_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if len(c.Exchange.Symbols) == 0 {
		errs = append(errs, "exchange: at least one symbol must be configured")
	}
	if strings.ToLower(c.Mode) == "trade" {
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for mode trade")
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for mode trade")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.RecvWindowMs <= 0 {
		errs = append(errs, "exchange: recv_window_ms must be > 0")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		errs = append(errs, "exchange: requests_per_second must be > 0")
	}
	if c.Exchange.RequestBurst < 1 {
		errs = append(errs, "exchange: request_burst must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Flow
	if c.Flow.HistorySize < 2 {
		errs = append(errs, "flow: history_size must be >= 2")
	}
	if c.Flow.MinSamples < 2 {
		errs = append(errs, "flow: min_samples must be >= 2")
	}
	if c.Flow.MinSamples > c.Flow.HistorySize {
		errs = append(errs, "flow: min_samples must not exceed history_size")
	}
	if c.Flow.ZThreshold <= 0 {
		errs = append(errs, "flow: z_threshold must be > 0")
	}
	if c.Flow.MaxSpreadPct <= 0 {
		errs = append(errs, "flow: max_spread_pct must be > 0")
	}
	if c.Flow.StopPct <= 0 {
		errs = append(errs, "flow: stop_pct must be > 0")
	}
	if c.Flow.TargetPct <= 0 {
		errs = append(errs, "flow: target_pct must be > 0")
	}

	// Exec
	if c.Exec.ChaseTimeout.Duration <= 0 {
		errs = append(errs, "exec: chase_timeout must be > 0")
	}
	if c.Exec.PollInterval.Duration <= 0 {
		errs = append(errs, "exec: poll_interval must be > 0")
	}
	if c.Exec.PollInterval.Duration >= c.Exec.ChaseTimeout.Duration {
		errs = append(errs, "exec: poll_interval must be shorter than chase_timeout")
	}
	if c.Exec.MaxRetries < 0 {
		errs = append(errs, "exec: max_retries must be >= 0")
	}

	// Risk
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		errs = append(errs, fmt.Sprintf("risk: risk_fraction must be in (0,1], got %g", c.Risk.RiskFraction))
	}
	if c.Risk.MaxPositionFraction <= 0 || c.Risk.MaxPositionFraction > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_position_fraction must be in (0,1], got %g", c.Risk.MaxPositionFraction))
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.DrawdownCeiling <= 0 {
		errs = append(errs, "risk: drawdown_ceiling must be > 0")
	}
	if c.Risk.DrawdownBaseline <= 0 {
		errs = append(errs, "risk: drawdown_baseline must be > 0")
	}
	switch c.Risk.Advisor {
	case "balanced", "threshold":
	default:
		errs = append(errs, fmt.Sprintf("risk: unknown advisor %q, want balanced or threshold", c.Risk.Advisor))
	}

	// Regime
	if c.Regime.Enabled {
		if c.Regime.BarHistory < 10 {
			errs = append(errs, "regime: bar_history must be >= 10 when enabled")
		}
		if c.Regime.RetrainInterval.Duration <= 0 {
			errs = append(errs, "regime: retrain_interval must be > 0 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
