package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/opinionmarket/internal/blob/s3"
	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/cache/redis"
	"github.com/alanyoungcy/opinionmarket/internal/chain"
	"github.com/alanyoungcy/opinionmarket/internal/config"
	"github.com/alanyoungcy/opinionmarket/internal/crypto"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
	"github.com/alanyoungcy/opinionmarket/internal/engine"
	"github.com/alanyoungcy/opinionmarket/internal/fees"
	"github.com/alanyoungcy/opinionmarket/internal/ledger"
	"github.com/alanyoungcy/opinionmarket/internal/notify"
	"github.com/alanyoungcy/opinionmarket/internal/pool"
	"github.com/alanyoungcy/opinionmarket/internal/pricing"
	"github.com/alanyoungcy/opinionmarket/internal/ratelimit"
	"github.com/alanyoungcy/opinionmarket/internal/store/postgres"
)

// localStreamLen bounds the in-process bus when Redis is disabled.
const localStreamLen = 10_000

// memoryEscrow holds market funds when settling in memory.
var memoryEscrow = common.HexToAddress("0x00000000000000000000000000000000000e5c40")

// instanceLockKey guards a shared store against two writers.
const instanceLockKey = "instance"

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine *engine.Engine

	// Stores
	Store   domain.StateStore
	Events  domain.EventLog
	History domain.HistoryArchive
	Audit   domain.AuditStore

	// Caches and coordination. Cache, RateLimiter and Replay are nil without
	// Redis.
	Cache       domain.OpinionCache
	RateLimiter domain.RateLimiter
	Replay      domain.ReplayGuard
	SignalBus   domain.SignalBus

	// Blob storage; nil unless s3 is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{}

	// --- Redis (optional) ---
	var locks domain.LockManager
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewOpinionCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		lm := redis.NewLockManager(redisClient)
		locks, deps.Replay = lm, lm
	} else {
		deps.SignalBus = bus.NewLocal(localStreamLen)
	}

	// --- State store ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		state := postgres.NewStateStore(pgClient.Pool())
		deps.Store, deps.Events, deps.History = state, state, state
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())

		// One writer per database: the engine's lock is in-process only.
		if locks != nil {
			unlock, err := locks.Acquire(ctx, instanceLockKey, cfg.Redis.LockTTL.Duration)
			if errors.Is(err, domain.ErrLockHeld) {
				return fail("instance lock", errors.New("another instance is serving this database"))
			}
			if err != nil {
				return fail("instance lock", err)
			}
			closers = append(closers, unlock)
		} else {
			logger.WarnContext(ctx, "wire: redis disabled; nothing prevents a second instance from writing the same database")
		}
	default:
		mem := engine.NewMemoryStore()
		deps.Store, deps.Events, deps.History = mem, mem, mem
	}

	// --- S3 blob storage (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter, deps.BlobReader = s3Client, s3Client
		deps.Archiver = s3blob.NewArchiver(s3Client, s3Client, deps.Events, deps.History, deps.Audit)

		if cfg.Storage.Backend == "memory" && cfg.Storage.SnapshotRestore {
			if err := restoreSnapshot(ctx, deps.Archiver, deps.Store, logger); err != nil {
				return fail("snapshot restore", err)
			}
		}
	}

	// --- Settlement ---
	clock := domain.SystemClock{}
	token, extra, blocks, closeChain, err := wireChain(ctx, cfg, clock, logger)
	if err != nil {
		return fail("chain", err)
	}
	if closeChain != nil {
		closers = append(closers, closeChain)
	}

	// --- Market engine ---
	bounds := pricing.Bounds{Min: cfg.Market.MinPrice.Amount, Max: cfg.Market.MaxPrice.Amount}
	priceFn, err := pricing.NewRegistry(bounds).Get(cfg.Market.Pricing)
	if err != nil {
		return fail("pricing", err)
	}

	eng, err := engine.New(engine.Deps{
		Token:     token,
		Tokens:    extra,
		Blocks:    blocks,
		Clock:     clock,
		Store:     deps.Store,
		Events:    deps.Events,
		Cache:     deps.Cache,
		Publisher: bus.NewPublisher(deps.SignalBus, logger),
		Audit:     deps.Audit,
		Pricing:   priceFn,
		Bounds:    bounds,
		Fees:      feePolicy(cfg),
		Limiter:   ratelimit.New(limiterConfig(cfg)),
		Rules:     ledgerRules(cfg),
		Pools:     poolPolicy(cfg),
		Logger:    logger,
	})
	if err != nil {
		return fail("engine", err)
	}
	if err := eng.Load(ctx); err != nil {
		return fail("engine load", err)
	}
	if err := eng.Bootstrap(ctx, cfg.Access.Grants()); err != nil {
		return fail("engine bootstrap", err)
	}
	deps.Engine = eng

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("",
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireChain returns the settlement token, any extra escrow tokens and the
// block source. Without an RPC URL it settles against in-memory balances and
// derives blocks from wall time.
func wireChain(ctx context.Context, cfg *config.Config, clock domain.Clock, logger *slog.Logger) (domain.Token, []domain.Token, domain.BlockSource, func(), error) {
	settlement := common.HexToAddress(cfg.Chain.SettlementToken)

	if cfg.Chain.RPCURL == "" {
		logger.WarnContext(ctx, "wire: chain.rpc_url not set; settling against in-memory balances",
			slog.String("token", settlement.Hex()),
		)
		var extra []domain.Token
		for _, t := range cfg.Chain.ExtraTokens {
			extra = append(extra, chain.NewMemoryToken(common.HexToAddress(t), memoryEscrow))
		}
		blocks := chain.TimeBlocks{Clock: clock, Genesis: cfg.Chain.BlockEpoch, Interval: cfg.Chain.BlockInterval.Duration}
		return chain.NewMemoryToken(settlement, memoryEscrow), extra, blocks, nil, nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load escrow key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dial rpc: %w", err)
	}

	erc20 := func(addr common.Address) *chain.ERC20 {
		return chain.NewERC20(client, key, chain.ERC20Config{
			Token:          addr,
			ChainID:        big.NewInt(cfg.Chain.ChainID),
			ReceiptTimeout: cfg.Chain.ReceiptTimeout.Duration,
			PollInterval:   time.Second,
		}, logger)
	}

	token := erc20(settlement)
	decimals, err := token.Decimals(ctx)
	if err != nil {
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("settlement token decimals: %w", err)
	}
	if decimals != domain.AmountDecimals {
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("settlement token has %d decimals, want %d", decimals, domain.AmountDecimals)
	}

	var extra []domain.Token
	for _, t := range cfg.Chain.ExtraTokens {
		extra = append(extra, erc20(common.HexToAddress(t)))
	}

	head := chain.NewHeadTracker(client, chain.HeadConfig{
		TTL:         cfg.Chain.HeadTTL.Duration,
		StaleWindow: cfg.Chain.HeadStaleWindow.Duration,
	}, clock, logger)

	logger.InfoContext(ctx, "wire: settling on-chain",
		slog.String("token", settlement.Hex()),
		slog.String("escrow", token.Escrow().Hex()),
		slog.Int64("chain_id", cfg.Chain.ChainID),
	)
	return token, extra, head, client.Close, nil
}

// restoreSnapshot seeds an empty memory store from the newest snapshot in
// object storage. A bucket with no snapshots is not an error.
func restoreSnapshot(ctx context.Context, archiver *s3blob.Archiver, store domain.StateStore, logger *slog.Logger) error {
	snap, path, err := archiver.LatestSnapshot(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		logger.InfoContext(ctx, "wire: no snapshot to restore")
		return nil
	}
	if err != nil {
		return err
	}
	if err := store.Commit(ctx, snapshotChangeset(snap)); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	logger.InfoContext(ctx, "wire: restored snapshot",
		slog.String("path", path),
		slog.Int("opinions", len(snap.Opinions)),
		slog.Int("pools", len(snap.Pools)),
	)
	return nil
}

func snapshotChangeset(s *domain.Snapshot) domain.Changeset {
	return domain.Changeset{
		Opinions:     s.Opinions,
		History:      s.History,
		Pools:        s.Pools,
		Fees:         s.Fees,
		RolesGranted: s.Roles,
		TradeMarks:   s.TradeMarks,
		Meta: domain.Meta{
			NextOpinionID: s.NextOpinionID,
			NextPoolID:    s.NextPoolID,
			NextEventSeq:  s.NextEventSeq,
			Paused:        s.Paused,
			PlatformFees:  s.PlatformFees,
		},
	}
}

func feePolicy(cfg *config.Config) fees.Standard {
	m := cfg.Market
	return fees.Standard{
		CreatorBps:        m.CreatorBps,
		PlatformBps:       m.PlatformBps,
		ResalePlatformBps: m.ResalePlatformBps,
		CreationFeeBps:    m.CreationFeeBps,
		MinCreationFee:    m.MinCreationFee.Amount,
		PoolFee:           cfg.Pool.CreationFee.Amount,
	}
}

func limiterConfig(cfg *config.Config) ratelimit.Config {
	return ratelimit.Config{
		MaxTradesPerBlock: cfg.RateLimit.MaxTradesPerBlock,
		RapidTradeWindow:  cfg.RateLimit.RapidTradeWindow.Duration,
		PenaltyBps:        cfg.RateLimit.PenaltyBps,
		MaxPenaltyShare:   cfg.RateLimit.MaxPenaltyShare,
	}
}

func ledgerRules(cfg *config.Config) ledger.Rules {
	m := cfg.Market
	cats := m.Categories
	if len(cats) == 0 {
		cats = ledger.DefaultCategories
	}
	return ledger.Rules{
		QuestionMin:         m.QuestionMin,
		QuestionMax:         m.QuestionMax,
		RequireQuestionMark: m.RequireQuestionMark,
		AnswerMin:           m.AnswerMin,
		AnswerMax:           m.AnswerMax,
		DescriptionMax:      m.DescriptionMax,
		LinkMax:             m.LinkMax,
		MaxCategories:       m.MaxCategories,
		Categories:          cats,
	}
}

func poolPolicy(cfg *config.Config) pool.Policy {
	return pool.Policy{
		MinDuration:     cfg.Pool.MinDuration.Duration,
		MaxDuration:     cfg.Pool.MaxDuration.Duration,
		MinContribution: cfg.Pool.MinContribution.Amount,
		NameMax:         cfg.Pool.NameMax,
	}
}
