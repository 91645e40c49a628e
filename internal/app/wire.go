package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/venuerouter/internal/aggregator"
	s3blob "github.com/alanyoungcy/venuerouter/internal/blob/s3"
	"github.com/alanyoungcy/venuerouter/internal/cache/memory"
	"github.com/alanyoungcy/venuerouter/internal/cache/redis"
	"github.com/alanyoungcy/venuerouter/internal/config"
	"github.com/alanyoungcy/venuerouter/internal/crypto"
	"github.com/alanyoungcy/venuerouter/internal/domain"
	"github.com/alanyoungcy/venuerouter/internal/metrics"
	"github.com/alanyoungcy/venuerouter/internal/notify"
	"github.com/alanyoungcy/venuerouter/internal/platform/coingecko"
	"github.com/alanyoungcy/venuerouter/internal/platform/evm"
	"github.com/alanyoungcy/venuerouter/internal/platform/pyth"
	"github.com/alanyoungcy/venuerouter/internal/platform/venue"
	"github.com/alanyoungcy/venuerouter/internal/pricefeed"
	"github.com/alanyoungcy/venuerouter/internal/router"
	"github.com/alanyoungcy/venuerouter/internal/scoring"
	"github.com/alanyoungcy/venuerouter/internal/server/handler"
	"github.com/alanyoungcy/venuerouter/internal/sideeffect"
	"github.com/alanyoungcy/venuerouter/internal/store/postgres"
)

// sourceVenueNative names the price source backed by a venue gateway.
const sourceVenueNative = "venue_native"

// Dependencies bundles everything the modes run. It is built by Wire and torn
// down by the returned cleanup function.
type Dependencies struct {
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// Stores
	TradeStore *postgres.TradeStore
	VenueStore *postgres.VenueStore
	AuditStore *postgres.AuditStore

	// Caches and coordination
	PriceCache     domain.PriceCache
	SourceLimiter  domain.SourceRateLimiter
	LockManager    domain.LockManager
	Reconciliation domain.ReconciliationQueue

	// Side effects. Exactly one of TaskChannel and TaskStream is set.
	TaskChannel *sideeffect.ChannelQueue
	TaskStream  *redis.TaskStream
	Worker      *sideeffect.Worker

	// Pricing and routing
	Tickers    []*venue.Ticker
	Aggregator *aggregator.Aggregator
	Router     *router.Router

	// APILimiter throttles HTTP clients per IP; nil disables it.
	APILimiter *memory.RateLimiter

	// Archiver is nil unless archival is enabled.
	Archiver *s3blob.TradeArchiver

	HealthChecks map[string]handler.Checker

	// sweepers drop expired in-memory entries; run periodically.
	sweepers []func() int
}

// Wire constructs every dependency from cfg. The cleanup function releases
// them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Metrics:      metrics.New(reg),
		HealthChecks: make(map[string]handler.Checker),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}
	pool := pgClient.Pool()
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.VenueStore = postgres.NewVenueStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

	// --- Redis (only when a component uses it) ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient.Ping
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Reconciliation = redis.NewReconciliationStream(redisClient)
	} else {
		deps.Reconciliation = &auditReconciliation{audit: deps.AuditStore}
	}

	// --- Price cache and source limiter ---
	intervals := sourceCooldowns(cfg)
	if cfg.Cache.Backend == "redis" {
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SourceLimiter = redis.NewCooldownLimiter(redisClient, intervals)
	} else {
		pc := memory.NewPriceCache()
		lim := memory.NewSourceLimiter(intervals)
		deps.PriceCache = pc
		deps.SourceLimiter = lim
		deps.sweepers = append(deps.sweepers, pc.Sweep, func() int { return lim.Sweep(time.Hour) })
	}

	if cfg.Server.RateLimitPerSec > 0 {
		deps.APILimiter = memory.NewKeyedLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst)
		deps.sweepers = append(deps.sweepers, func() int { return deps.APILimiter.Sweep(10 * time.Minute) })
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venues ---
	registry := router.NewRegistry()
	clients := make(map[string]*venue.Client, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		client, err := newVenueClient(vc)
		if err != nil {
			return fail(fmt.Errorf("wire: venue %s: %w", vc.ID, err))
		}
		clients[vc.ID] = client
		if err := registry.Register(client); err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				return fail(fmt.Errorf("wire: venue %s: %w", vc.ID, err))
			}
			logger.WarnContext(ctx, "venue kind already registered, sharing adapter",
				slog.String("venue_id", vc.ID),
				slog.String("kind", vc.Kind),
			)
		}
		if err := deps.VenueStore.Upsert(ctx, domain.Venue{
			ID:     vc.ID,
			Name:   vc.Name,
			Kind:   domain.VenueKind(strings.ToLower(vc.Kind)),
			FeeBps: vc.FeeBps,
			Active: vc.Active,
		}); err != nil {
			return fail(fmt.Errorf("wire: upsert venue %s: %w", vc.ID, err))
		}
	}

	// --- Price sources ---
	var eth *ethclient.Client
	if cfg.Sources.Uniswap.Enabled || cfg.Sources.Chainlink.Enabled {
		eth, err = evm.Dial(ctx, cfg.EVM.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: evm: %w", err))
		}
		closers = append(closers, eth.Close)
	}
	srcDeps := pricefeed.Deps{
		Cache:   deps.PriceCache,
		Limiter: deps.SourceLimiter,
		Metrics: deps.Metrics,
		Logger:  logger,
	}
	sources, tickers := buildSources(cfg, eth, clients, srcDeps, logger)
	if len(sources) == 0 {
		logger.WarnContext(ctx, "no price sources enabled; quotes will fail")
	}
	deps.Tickers = tickers
	deps.Aggregator = aggregator.New(sources, cfg.Aggregator.Window.Duration, deps.Metrics, logger)

	// --- Side effects ---
	if cfg.SideEffects.Backend == "redis" {
		deps.TaskStream = redis.NewTaskStream(redisClient, redis.TaskStreamConfig{
			Consumer: cfg.SideEffects.Consumer,
			MaxLen:   int64(cfg.Redis.StreamMaxLen),
		})
	} else {
		deps.TaskChannel = sideeffect.NewChannelQueue(cfg.SideEffects.QueueSize)
	}
	handlers := map[domain.TaskKind]sideeffect.Handler{
		domain.TaskReputation: sideeffect.NewReputationHandler(deps.VenueStore, logger),
	}
	if v := sideeffect.NewValidationHandler(cfg.SideEffects.ValidationURL, cfg.SideEffects.ValidationTimeout.Duration, logger); v.Enabled() {
		handlers[domain.TaskValidation] = v
	}
	deps.Worker = sideeffect.NewWorker(handlers, sideeffect.WorkerConfig{
		MaxAttempts: cfg.SideEffects.MaxAttempts,
		BaseBackoff: cfg.SideEffects.BaseBackoff.Duration,
		MaxBackoff:  cfg.SideEffects.MaxBackoff.Duration,
	}, deps.Metrics, logger)

	// --- Router ---
	latency := scoring.NewLatencyTracker(cfg.Scoring.LatencyAlpha)
	scorer := scoring.New(scoring.Config{
		ReputationPrior: cfg.Scoring.ReputationPrior,
		DefaultKind:     domain.VenueKind(strings.ToLower(cfg.Scoring.DefaultKind)),
	}, scoring.StaticLiquidity{
		Default:  cfg.Scoring.DefaultLiquidity,
		PerVenue: cfg.Scoring.Liquidity,
	}, latency)

	rdeps := router.Deps{
		Venues:         deps.VenueStore,
		Trades:         deps.TradeStore,
		Audit:          deps.AuditStore,
		Prices:         deps.Aggregator,
		Scorer:         scorer,
		Registry:       registry,
		Reconciliation: deps.Reconciliation,
		Alerts:         deps.Notifier,
		Latency:        latency,
		Metrics:        deps.Metrics,
		Logger:         logger,
	}
	// Typed nils must not leak into the interfaces.
	if deps.TaskStream != nil {
		rdeps.Tasks = deps.TaskStream
	} else {
		rdeps.Tasks = deps.TaskChannel
	}
	if deps.LockManager != nil {
		rdeps.Locks = deps.LockManager
	}
	deps.Router = router.New(rdeps, routerConfig(cfg.Router))

	// --- Archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewTradeArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, deps.AuditStore, cfg.Archive.BatchSize, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

func newVenueClient(vc config.VenueConfig) (*venue.Client, error) {
	kind, err := domain.ParseVenueKind(vc.Kind)
	if err != nil {
		return nil, err
	}
	var auth *crypto.HMACAuth
	if vc.APIKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretSource{
			Raw:           vc.APISecret,
			EncryptedPath: vc.EncryptedSecretPath,
			Password:      vc.SecretPassword,
		})
		if err != nil {
			return nil, err
		}
		auth = &crypto.HMACAuth{Key: vc.APIKey, Secret: secret, Passphrase: vc.APIPassphrase}
	}
	return venue.NewClient(venue.Config{
		Kind:    kind,
		BaseURL: vc.BaseURL,
		Auth:    auth,
		Timeout: vc.Timeout.Duration,
	}), nil
}

// buildSources creates the enabled price sources in priority order.
func buildSources(
	cfg *config.Config,
	eth *ethclient.Client,
	venues map[string]*venue.Client,
	deps pricefeed.Deps,
	logger *slog.Logger,
) ([]domain.PriceSourceAdapter, []*venue.Ticker) {
	src := cfg.Sources
	var (
		out     []domain.PriceSourceAdapter
		tickers []*venue.Ticker
	)
	add := func(name string, c config.SourceCommon, f pricefeed.Fetcher) {
		out = append(out, pricefeed.NewSource(pricefeed.SourceConfig{
			Name:            name,
			TTL:             c.TTL.Duration,
			Timeout:         c.Timeout.Duration,
			BreakerFailures: c.BreakerFailures,
			BreakerCooldown: c.BreakerCooldown.Duration,
		}, f, deps))
	}

	if src.Pyth.Enabled {
		add(pricefeed.SourcePyth, src.Pyth.SourceCommon, &pricefeed.OracleFetcher{
			Client: pyth.NewClient(src.Pyth.BaseURL, src.Pyth.Timeout.Duration),
			Feeds:  upperKeys(src.Pyth.Feeds),
		})
	}

	if src.Uniswap.Enabled && eth != nil {
		tokens := make(map[string]evm.Token, len(src.Uniswap.Tokens))
		for sym, t := range src.Uniswap.Tokens {
			tokens[strings.ToUpper(sym)] = evm.Token{Address: common.HexToAddress(t.Address), Decimals: t.Decimals}
		}
		add(pricefeed.SourceUniswap, src.Uniswap.SourceCommon, &pricefeed.RouterFetcher{
			Router: evm.NewRouter(eth, common.HexToAddress(src.Uniswap.RouterAddress)),
			Tokens: tokens,
			Quote:  evm.Token{Address: common.HexToAddress(src.Uniswap.Quote.Address), Decimals: src.Uniswap.Quote.Decimals},
		})
	}

	if src.Chainlink.Enabled && eth != nil {
		feeds := make(map[string]common.Address, len(src.Chainlink.Feeds))
		for sym, addr := range src.Chainlink.Feeds {
			feeds[strings.ToUpper(sym)] = common.HexToAddress(addr)
		}
		add(pricefeed.SourceChainlink, src.Chainlink.SourceCommon, &pricefeed.FeedContractFetcher{
			Contract:     evm.NewChainlink(eth),
			Feeds:        feeds,
			MaxStaleness: src.Chainlink.MaxStaleness.Duration,
		})
	}

	if src.CoinGecko.Enabled {
		add(pricefeed.SourceCoinGecko, src.CoinGecko.SourceCommon, &pricefeed.AggregatorAPIFetcher{
			Client:     coingecko.NewClient(src.CoinGecko.BaseURL, src.CoinGecko.APIKey, src.CoinGecko.Timeout.Duration),
			IDs:        upperKeys(src.CoinGecko.IDs),
			VsCurrency: src.CoinGecko.VsCurrency,
		})
	}

	if vn := src.VenueNative; vn.Enabled {
		client, ok := venues[vn.Venue]
		if !ok {
			logger.Warn("venue_native source names an unknown venue", slog.String("venue", vn.Venue))
			return out, tickers
		}
		f := &pricefeed.VenueFetcher{
			Client:  client,
			Quote:   vn.Quote,
			MaxTick: vn.MaxTickAge.Duration,
		}
		if vn.WSURL != "" {
			t := venue.NewTicker(vn.WSURL, vn.Pairs, logger)
			f.Ticker = t
			tickers = append(tickers, t)
		}
		add(sourceVenueNative, vn.SourceCommon, f)
	}

	return out, tickers
}

func sourceCooldowns(cfg *config.Config) map[string]time.Duration {
	s := cfg.Sources
	return map[string]time.Duration{
		pricefeed.SourcePyth:      s.Pyth.Cooldown.Duration,
		pricefeed.SourceUniswap:   s.Uniswap.Cooldown.Duration,
		pricefeed.SourceChainlink: s.Chainlink.Cooldown.Duration,
		pricefeed.SourceCoinGecko: s.CoinGecko.Cooldown.Duration,
		sourceVenueNative:         s.VenueNative.Cooldown.Duration,
	}
}

func routerConfig(c config.RouterConfig) router.Config {
	buckets := make([]router.SlippageBucket, 0, len(c.SlippageBuckets))
	for _, b := range c.SlippageBuckets {
		buckets = append(buckets, router.SlippageBucket{
			UpTo: decimal.NewFromFloat(b.UpTo),
			Pct:  decimal.NewFromFloat(b.Pct),
		})
	}
	return router.Config{
		MaxLeverage:            c.MaxLeverage,
		SlippageBuckets:        buckets,
		MaintenanceMargin:      decimal.NewFromFloat(c.MaintenanceMargin),
		FeeRate:                decimal.NewFromFloat(c.FeeRate),
		DefaultSlippagePct:     decimal.NewFromFloat(c.DefaultSlippagePct),
		ValidationThresholdUsd: decimal.NewFromFloat(c.ValidationThresholdUsd),
		HighValueAlertUsd:      decimal.NewFromFloat(c.HighValueAlertUsd),
		CloseLockTTL:           c.CloseLockTTL.Duration,
		PublishTimeout:         c.PublishTimeout.Duration,
	}
}

func upperKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// auditReconciliation records persistence gaps in the audit log when no
// Redis stream is configured.
type auditReconciliation struct {
	audit domain.AuditStore
}

func (a *auditReconciliation) Record(ctx context.Context, e domain.ReconciliationEntry) error {
	return a.audit.Log(ctx, "reconciliation_gap", map[string]any{
		"trade_id":     e.TradeID,
		"venue_id":     e.VenueID,
		"user_address": e.UserAddress,
		"tx_hash":      e.TxHash,
		"error":        e.Error,
		"recorded_at":  e.RecordedAt,
	})
}
