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
// built-in defaults, applies SIDESTAKE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIDESTAKE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Postgres
	setStr(&cfg.Postgres.DSN, "SIDESTAKE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SIDESTAKE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIDESTAKE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIDESTAKE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIDESTAKE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIDESTAKE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIDESTAKE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIDESTAKE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIDESTAKE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIDESTAKE_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "SIDESTAKE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIDESTAKE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIDESTAKE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIDESTAKE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIDESTAKE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIDESTAKE_REDIS_TLS_ENABLED")

	// Server
	setInt(&cfg.Server.Port, "SIDESTAKE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIDESTAKE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SIDESTAKE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SIDESTAKE_SERVER_RATE_LIMIT_WINDOW")

	// Metrics
	setBool(&cfg.Metrics.Enabled, "SIDESTAKE_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "SIDESTAKE_METRICS_PORT")

	// Cache
	setDuration(&cfg.Cache.LeaderboardTTL, "SIDESTAKE_CACHE_LEADERBOARD_TTL")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "SIDESTAKE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIDESTAKE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIDESTAKE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIDESTAKE_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.LogLevel, "SIDESTAKE_LOG_LEVEL")
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
