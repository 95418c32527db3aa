// Package config defines the top-level configuration for the opinion market
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPINIONMARKET_* environment variables.
type Config struct {
	Market    MarketConfig    `toml:"market"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Pool      PoolConfig      `toml:"pool"`
	Access    AccessConfig    `toml:"access"`
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Storage   StorageConfig   `toml:"storage"`
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// MarketConfig holds pricing, fee and text-field rules.
type MarketConfig struct {
	// Pricing names the price policy: "percent_step" or "tiered".
	Pricing  string `toml:"pricing"`
	MinPrice amount `toml:"min_price"`
	MaxPrice amount `toml:"max_price"`

	CreatorBps        int64  `toml:"creator_bps"`
	PlatformBps       int64  `toml:"platform_bps"`
	ResalePlatformBps int64  `toml:"resale_platform_bps"`
	CreationFeeBps    int64  `toml:"creation_fee_bps"`
	MinCreationFee    amount `toml:"min_creation_fee"`

	QuestionMin         int      `toml:"question_min"`
	QuestionMax         int      `toml:"question_max"`
	RequireQuestionMark bool     `toml:"require_question_mark"`
	AnswerMin           int      `toml:"answer_min"`
	AnswerMax           int      `toml:"answer_max"`
	DescriptionMax      int      `toml:"description_max"`
	LinkMax             int      `toml:"link_max"`
	MaxCategories       int      `toml:"max_categories"`
	Categories          []string `toml:"categories"`
}

// RateLimitConfig bounds same-block trading and prices rapid re-trades.
type RateLimitConfig struct {
	MaxTradesPerBlock int      `toml:"max_trades_per_block"`
	RapidTradeWindow  duration `toml:"rapid_trade_window"`
	PenaltyBps        int64    `toml:"penalty_bps"`
	MaxPenaltyShare   int64    `toml:"max_penalty_share_bps"`
}

// PoolConfig bounds crowdfunding pools.
type PoolConfig struct {
	MinDuration     duration `toml:"min_duration"`
	MaxDuration     duration `toml:"max_duration"`
	MinContribution amount   `toml:"min_contribution"`
	NameMax         int      `toml:"name_max"`
	CreationFee     amount   `toml:"creation_fee"`
}

// AccessConfig lists the role holders granted on an empty store.
type AccessConfig struct {
	Admins     []string `toml:"admins"`
	Moderators []string `toml:"moderators"`
	Operators  []string `toml:"operators"`
	Treasury   []string `toml:"treasury"`
}

// ChainConfig selects the settlement token and block source. With RPCURL
// empty the market settles against an in-memory ledger and derives blocks
// from wall time.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	SettlementToken string   `toml:"settlement_token"`
	ExtraTokens     []string `toml:"extra_tokens"`
	BlockInterval   duration `toml:"block_interval"`
	HeadTTL         duration `toml:"head_ttl"`
	HeadStaleWindow duration `toml:"head_stale_window"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`

	// BlockEpoch anchors wall-time block numbers when no RPC is configured,
	// so numbering carries across restarts.
	BlockEpoch time.Time `toml:"block_epoch"`
}

// WalletConfig holds the escrow operator key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// StorageConfig selects the state store: "memory" or "postgres".
type StorageConfig struct {
	Backend string `toml:"backend"`
	// SnapshotRestore seeds a memory store from the latest S3 snapshot.
	SnapshotRestore bool `toml:"snapshot_restore"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	CacheTTL   duration `toml:"cache_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig schedules cold-storage exports.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
	// Retention is the age an event or history entry must reach before it is
	// archived.
	Retention        duration `toml:"retention"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// KeeperConfig drives the pool expiry sweep.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// Address is the caller recorded on sweep events.
	Address string `toml:"address"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
	SignatureWindow   duration `toml:"signature_window"`
	TrustCallerHeader bool     `toml:"trust_caller_header"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// amount decodes settlement amounts written as decimal strings ("2.50").
type amount struct {
	domain.Amount
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *amount) UnmarshalText(text []byte) error {
	var err error
	a.Amount, err = domain.ParseAmount(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (a amount) MarshalText() ([]byte, error) {
	return []byte(a.Amount.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Pricing:             "percent_step",
			MinPrice:            amount{1 * domain.USDC},
			MaxPrice:            amount{100 * domain.USDC},
			CreatorBps:          300,
			PlatformBps:         200,
			ResalePlatformBps:   1_000,
			CreationFeeBps:      2_000,
			MinCreationFee:      amount{5 * domain.USDC},
			QuestionMin:         10,
			QuestionMax:         120,
			RequireQuestionMark: true,
			AnswerMin:           3,
			AnswerMax:           40,
			DescriptionMax:      120,
			LinkMax:             260,
			MaxCategories:       3,
		},
		RateLimit: RateLimitConfig{
			MaxTradesPerBlock: 3,
			RapidTradeWindow:  duration{30 * time.Second},
			PenaltyBps:        2_000,
			MaxPenaltyShare:   5_000,
		},
		Pool: PoolConfig{
			MinDuration:     duration{time.Hour},
			MaxDuration:     duration{31 * 24 * time.Hour},
			MinContribution: amount{domain.USDC},
			NameMax:         32,
		},
		Chain: ChainConfig{
			ChainID:         137,
			SettlementToken: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			BlockInterval:   duration{2 * time.Second},
			BlockEpoch:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			HeadTTL:         duration{time.Second},
			HeadStaleWindow: duration{30 * time.Second},
			ReceiptTimeout:  duration{2 * time.Minute},
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "opinionmarket",
			CacheTTL:   duration{10 * time.Minute},
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "opinionmarket-data",
			ForcePathStyle: true,
			Prefix:         "market",
		},
		Archive: ArchiveConfig{
			Interval:         duration{24 * time.Hour},
			Retention:        duration{30 * 24 * time.Hour},
			SnapshotInterval: duration{6 * time.Hour},
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{time.Minute},
			Address:  "0x000000000000000000000000000000000000beef",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			SignatureWindow: duration{5 * time.Minute},
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_executed", "paused", "unpaused", "emergency_withdraw"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPricing = map[string]bool{
	"percent_step": true,
	"tiered":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Market
	m := c.Market
	if !validPricing[m.Pricing] {
		add("market: unknown pricing %q (valid: percent_step, tiered)", m.Pricing)
	}
	if m.MinPrice.Amount <= 0 || m.MaxPrice.Amount < m.MinPrice.Amount {
		add("market: need 0 < min_price <= max_price, got %s..%s", m.MinPrice, m.MaxPrice)
	}
	if m.CreatorBps < 0 || m.PlatformBps < 0 || m.CreatorBps+m.PlatformBps >= domain.BasisPoints {
		add("market: creator_bps + platform_bps must be in [0, %d)", domain.BasisPoints)
	}
	if m.ResalePlatformBps < 0 || m.ResalePlatformBps > domain.BasisPoints {
		add("market: resale_platform_bps must be in [0, %d]", domain.BasisPoints)
	}
	if m.CreationFeeBps < 0 || m.MinCreationFee.Amount < 0 {
		add("market: creation fee must not be negative")
	}
	if m.QuestionMin < 1 || m.QuestionMax < m.QuestionMin {
		add("market: need 1 <= question_min <= question_max")
	}
	if m.AnswerMin < 1 || m.AnswerMax < m.AnswerMin {
		add("market: need 1 <= answer_min <= answer_max")
	}
	if m.MaxCategories < 1 {
		add("market: max_categories must be >= 1")
	}

	// Rate limit
	if c.RateLimit.MaxTradesPerBlock < 1 {
		add("rate_limit: max_trades_per_block must be >= 1")
	}
	if c.RateLimit.PenaltyBps < 0 || c.RateLimit.MaxPenaltyShare < 0 || c.RateLimit.MaxPenaltyShare > domain.BasisPoints {
		add("rate_limit: penalty_bps and max_penalty_share_bps must be in [0, %d]", domain.BasisPoints)
	}

	// Pool
	if c.Pool.MinDuration.Duration <= 0 || c.Pool.MaxDuration.Duration <= c.Pool.MinDuration.Duration {
		add("pool: need 0 < min_duration < max_duration")
	}
	if c.Pool.MinContribution.Amount <= 0 {
		add("pool: min_contribution must be > 0")
	}
	if c.Pool.NameMax < 1 {
		add("pool: name_max must be >= 1")
	}

	// Access
	for role, list := range map[string][]string{
		"admins": c.Access.Admins, "moderators": c.Access.Moderators,
		"operators": c.Access.Operators, "treasury": c.Access.Treasury,
	} {
		for _, a := range list {
			if !common.IsHexAddress(a) {
				add("access: %s entry %q is not an address", role, a)
			}
		}
	}

	// Chain
	if !common.IsHexAddress(c.Chain.SettlementToken) {
		add("chain: settlement_token %q is not an address", c.Chain.SettlementToken)
	}
	for _, t := range c.Chain.ExtraTokens {
		if !common.IsHexAddress(t) {
			add("chain: extra_tokens entry %q is not an address", t)
		}
	}
	if c.Chain.RPCURL != "" {
		if c.Chain.ChainID <= 0 {
			add("chain: chain_id must be positive")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set when chain.rpc_url is set")
		}
	} else {
		if c.Chain.BlockInterval.Duration <= 0 {
			add("chain: block_interval must be > 0 without rpc_url")
		}
		if c.Chain.BlockEpoch.IsZero() {
			add("chain: block_epoch is required without rpc_url")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
		if c.Storage.SnapshotRestore && !c.S3.Enabled {
			add("storage: snapshot_restore requires s3.enabled")
		}
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				add("supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				add("supabase: port must be 1-65535, got %d", c.Supabase.Port)
			}
			if c.Supabase.Database == "" {
				add("supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			add("supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			add("supabase: need 0 <= pool_min_conns <= pool_max_conns")
		}
	default:
		add("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			add("redis: lock_ttl must be >= 1s")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	// Archive
	if mode == "archive" || mode == "full" {
		if !c.S3.Enabled {
			add("archive: mode %s requires s3.enabled", mode)
		}
		if c.Archive.Interval.Duration <= 0 || c.Archive.SnapshotInterval.Duration <= 0 {
			add("archive: interval and snapshot_interval must be > 0")
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if c.Keeper.Interval.Duration <= 0 {
			add("keeper: interval must be > 0")
		}
		if !common.IsHexAddress(c.Keeper.Address) {
			add("keeper: address %q is not an address", c.Keeper.Address)
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
		if !c.Server.TrustCallerHeader && c.Server.SignatureWindow.Duration <= 0 {
			add("server: signature_window must be > 0")
		}
	}

	// Notify
	for _, k := range c.Notify.Events {
		if strings.TrimSpace(k) == "" {
			add("notify: events must not contain empty names")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Grants returns the configured role holders.
func (a AccessConfig) Grants() []domain.RoleGrant {
	var out []domain.RoleGrant
	for _, g := range []struct {
		role domain.Role
		list []string
	}{
		{domain.RoleAdmin, a.Admins},
		{domain.RoleModerator, a.Moderators},
		{domain.RoleOperator, a.Operators},
		{domain.RoleTreasury, a.Treasury},
	} {
		for _, s := range g.list {
			out = append(out, domain.RoleGrant{Role: g.role, Account: common.HexToAddress(s)})
		}
	}
	return out
}
