package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OPINIONMARKET_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPINIONMARKET_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPINIONMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Pricing, "MARKET_PRICING")
	setAmount(&cfg.Market.MinPrice, "MARKET_MIN_PRICE")
	setAmount(&cfg.Market.MaxPrice, "MARKET_MAX_PRICE")
	setInt64(&cfg.Market.CreatorBps, "MARKET_CREATOR_BPS")
	setInt64(&cfg.Market.PlatformBps, "MARKET_PLATFORM_BPS")
	setInt64(&cfg.Market.ResalePlatformBps, "MARKET_RESALE_PLATFORM_BPS")
	setInt64(&cfg.Market.CreationFeeBps, "MARKET_CREATION_FEE_BPS")
	setAmount(&cfg.Market.MinCreationFee, "MARKET_MIN_CREATION_FEE")
	setStringSlice(&cfg.Market.Categories, "MARKET_CATEGORIES")

	// ── Rate limit ──
	setInt(&cfg.RateLimit.MaxTradesPerBlock, "RATE_LIMIT_MAX_TRADES_PER_BLOCK")
	setDuration(&cfg.RateLimit.RapidTradeWindow, "RATE_LIMIT_RAPID_TRADE_WINDOW")
	setInt64(&cfg.RateLimit.PenaltyBps, "RATE_LIMIT_PENALTY_BPS")

	// ── Pool ──
	setDuration(&cfg.Pool.MinDuration, "POOL_MIN_DURATION")
	setDuration(&cfg.Pool.MaxDuration, "POOL_MAX_DURATION")
	setAmount(&cfg.Pool.MinContribution, "POOL_MIN_CONTRIBUTION")
	setAmount(&cfg.Pool.CreationFee, "POOL_CREATION_FEE")

	// ── Access ──
	setStringSlice(&cfg.Access.Admins, "ACCESS_ADMINS")
	setStringSlice(&cfg.Access.Moderators, "ACCESS_MODERATORS")
	setStringSlice(&cfg.Access.Operators, "ACCESS_OPERATORS")
	setStringSlice(&cfg.Access.Treasury, "ACCESS_TREASURY")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.SettlementToken, "CHAIN_SETTLEMENT_TOKEN")
	setStringSlice(&cfg.Chain.ExtraTokens, "CHAIN_EXTRA_TOKENS")
	setDuration(&cfg.Chain.BlockInterval, "CHAIN_BLOCK_INTERVAL")
	setTime(&cfg.Chain.BlockEpoch, "CHAIN_BLOCK_EPOCH")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setBool(&cfg.Storage.SnapshotRestore, "STORAGE_SNAPSHOT_RESTORE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive / keeper ──
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.Retention, "ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.SnapshotInterval, "ARCHIVE_SNAPSHOT_INTERVAL")
	setBool(&cfg.Keeper.Enabled, "KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "KEEPER_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setBool(&cfg.Server.TrustCallerHeader, "SERVER_TRUST_CALLER_HEADER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func env(key string) string { return os.Getenv(EnvPrefix + key) }

func setStr(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := env(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := env(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setTime(dst *time.Time, key string) {
	if v := env(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
		}
	}
}

func setAmount(dst *amount, key string) {
	if v := env(key); v != "" {
		if a, err := domain.ParseAmount(v); err == nil {
			dst.Amount = a
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := env(key); v != "" {
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
