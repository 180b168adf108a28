package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLOWTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLOWTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestHost, "FLOWTRADER_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "FLOWTRADER_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.ApiKey, "FLOWTRADER_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "FLOWTRADER_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "FLOWTRADER_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "FLOWTRADER_EXCHANGE_SECRET_PASSWORD")
	setInt(&cfg.Exchange.RecvWindowMs, "FLOWTRADER_EXCHANGE_RECV_WINDOW_MS")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "FLOWTRADER_EXCHANGE_REQUESTS_PER_SECOND")
	setInt(&cfg.Exchange.RequestBurst, "FLOWTRADER_EXCHANGE_REQUEST_BURST")
	setStringSlice(&cfg.Exchange.Symbols, "FLOWTRADER_EXCHANGE_SYMBOLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLOWTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOWTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOWTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOWTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOWTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOWTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOWTRADER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOWTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOWTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOWTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLOWTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOWTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOWTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOWTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOWTRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLOWTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLOWTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOWTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOWTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOWTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOWTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOWTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOWTRADER_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "FLOWTRADER_S3_RETENTION_DAYS")

	// ── Flow ──
	setInt(&cfg.Flow.HistorySize, "FLOWTRADER_FLOW_HISTORY_SIZE")
	setInt(&cfg.Flow.MinSamples, "FLOWTRADER_FLOW_MIN_SAMPLES")
	setFloat64(&cfg.Flow.ZThreshold, "FLOWTRADER_FLOW_Z_THRESHOLD")
	setFloat64(&cfg.Flow.StrongZ, "FLOWTRADER_FLOW_STRONG_Z")
	setFloat64(&cfg.Flow.MomentumZ, "FLOWTRADER_FLOW_MOMENTUM_Z")
	setFloat64(&cfg.Flow.ReversalZ, "FLOWTRADER_FLOW_REVERSAL_Z")
	setFloat64(&cfg.Flow.MaxSpreadPct, "FLOWTRADER_FLOW_MAX_SPREAD_PCT")
	setInt(&cfg.Flow.VWAPWindowSize, "FLOWTRADER_FLOW_VWAP_WINDOW_SIZE")
	setFloat64(&cfg.Flow.StopPct, "FLOWTRADER_FLOW_STOP_PCT")
	setFloat64(&cfg.Flow.TargetPct, "FLOWTRADER_FLOW_TARGET_PCT")

	// ── Exec ──
	setDuration(&cfg.Exec.ChaseTimeout, "FLOWTRADER_EXEC_CHASE_TIMEOUT")
	setDuration(&cfg.Exec.PollInterval, "FLOWTRADER_EXEC_POLL_INTERVAL")
	setInt(&cfg.Exec.MaxRetries, "FLOWTRADER_EXEC_MAX_RETRIES")

	// ── Risk ──
	setStr(&cfg.Risk.Advisor, "FLOWTRADER_RISK_ADVISOR")
	setFloat64(&cfg.Risk.RiskFraction, "FLOWTRADER_RISK_RISK_FRACTION")
	setFloat64(&cfg.Risk.MaxPositionFraction, "FLOWTRADER_RISK_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Risk.MinStrength, "FLOWTRADER_RISK_MIN_STRENGTH")
	setInt(&cfg.Risk.MaxPositions, "FLOWTRADER_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.DrawdownCeiling, "FLOWTRADER_RISK_DRAWDOWN_CEILING")
	setFloat64(&cfg.Risk.DrawdownBaseline, "FLOWTRADER_RISK_DRAWDOWN_BASELINE")
	setDuration(&cfg.Risk.Cooldown, "FLOWTRADER_RISK_COOLDOWN")
	setDuration(&cfg.Risk.MinHold, "FLOWTRADER_RISK_MIN_HOLD")
	setDuration(&cfg.Risk.MaxHold, "FLOWTRADER_RISK_MAX_HOLD")
	setDuration(&cfg.Risk.TimeExitInterval, "FLOWTRADER_RISK_TIME_EXIT_INTERVAL")

	// ── Regime ──
	setBool(&cfg.Regime.Enabled, "FLOWTRADER_REGIME_ENABLED")
	setInt(&cfg.Regime.BarHistory, "FLOWTRADER_REGIME_BAR_HISTORY")
	setDuration(&cfg.Regime.RetrainInterval, "FLOWTRADER_REGIME_RETRAIN_INTERVAL")
	setBool(&cfg.Regime.BlockSideways, "FLOWTRADER_REGIME_BLOCK_SIDEWAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLOWTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOWTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLOWTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLOWTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOWTRADER_MODE")
	setStr(&cfg.LogLevel, "FLOWTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
