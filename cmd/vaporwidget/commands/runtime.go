package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaporfund/staking-widget/internal/chain"
	"github.com/vaporfund/staking-widget/internal/client"
	"github.com/vaporfund/staking-widget/internal/config"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/internal/staking"
	"github.com/vaporfund/staking-widget/internal/util"
	"github.com/vaporfund/staking-widget/internal/wallet"
	"github.com/vaporfund/staking-widget/internal/widget"
	"github.com/vaporfund/staking-widget/pkg/types"
)

const (
	cliContainer      = "cli"
	receiptPoll       = 2 * time.Second
	cacheCleanupEvery = 10 * time.Minute
	redisKeyPrefix    = "vaporwidget:"
)

// Runtime is the widget stack a command runs against
type Runtime struct {
	Config  *config.Config
	Metrics *metrics.Collector
	Manager *widget.Manager

	locator wallet.ProviderLocator
	cache   client.Cache
	redis   *redis.Client
}

// NewRuntime assembles the shared stack. Wallets are found through locator.
func NewRuntime(ctx context.Context, cfg *config.Config, locator wallet.ProviderLocator) (*Runtime, error) {
	rt := &Runtime{
		Config:  cfg,
		Metrics: metrics.NewCollector(),
		locator: locator,
	}

	ttl := time.Duration(cfg.Cache.TTLSecs) * time.Second
	switch cfg.Cache.Backend {
	case "redis":
		rdb, err := client.ConnectRedis(ctx, cfg.Cache.RedisAddr, "", cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		rt.redis = rdb
		rt.cache = client.NewRedisCache(rdb, redisKeyPrefix)
	default:
		rt.cache = client.NewMemoryCache(ttl, cacheCleanupEvery)
	}

	rt.Manager = widget.NewManager(rt.build, rt.Metrics)
	return rt, nil
}

// Close tears down every widget and the shared cache connection
func (rt *Runtime) Close() {
	rt.Manager.Close()
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logging.Debug("redis close failed", logging.Err(err))
		}
	}
}

// Open initializes the CLI's widget instance from the config file
func (rt *Runtime) Open(ctx context.Context) (*widget.Instance, error) {
	cfg := rt.Config
	if cfg.Widget.APIKey == "" {
		return nil, fmt.Errorf("no API key configured: run 'vaporwidget init' or set %s", envAPIKey)
	}
	return rt.Manager.Init(ctx, widget.Options{
		Container:       cliContainer,
		APIKey:          cfg.Widget.APIKey,
		ReferralCode:    cfg.Widget.ReferralCode,
		Network:         types.Network(cfg.Widget.Network),
		DefaultToken:    cfg.Widget.DefaultToken,
		DefaultStrategy: cfg.Widget.DefaultStrategy,
		OnError: func(err *types.WidgetError) {
			logging.Debug("widget error", "code", err.Code, "message", err.Message)
		},
	})
}

// build wires one widget instance against the configured network
func (rt *Runtime) build(ctx context.Context, opts widget.Options) (widget.Deps, error) {
	cfg := rt.Config
	info, err := cfg.LookupNetwork(opts.Network)
	if err != nil {
		return widget.Deps{}, err
	}

	session := wallet.NewSessionManager(rt.locator, wallet.SessionOptions{
		DetectTimeout: time.Duration(cfg.Wallet.DetectTimeoutMs) * time.Millisecond,
		PollInterval:  time.Duration(cfg.Wallet.PollIntervalMs) * time.Millisecond,
		Metrics:       rt.Metrics,
	})
	sender := wallet.NewProviderSender(session)

	var rpc *chain.Client
	if !cfg.MockContracts {
		rpc = chain.NewClient(&chain.ClientConfig{
			RPCURL:              info.RPCURL,
			ChainID:             info.ChainID,
			BlockConfirmations:  cfg.Staking.BlockConfirmations,
			GasLimitBuffer:      cfg.Staking.GasLimitBuffer,
			ConfirmationTimeout: time.Duration(cfg.Staking.ConfirmationTimeoutSecs) * time.Second,
			PollInterval:        receiptPoll,
			RetryConfig:         util.DefaultRetryConfig(),
		})
		if err := rpc.Connect(ctx); err != nil {
			session.Close()
			return widget.Deps{}, err
		}
	} else {
		logging.Warn("using in-memory contracts", logging.Network(string(opts.Network)))
	}

	cleanup := func() {
		if rpc != nil {
			rpc.Close()
		}
	}

	tokens, err := chain.NewTokenContract(rpc, sender)
	if err != nil {
		cleanup()
		session.Close()
		return widget.Deps{}, err
	}
	vault, err := chain.NewStakingContract(rpc, sender, tokens, info.StakingAddress)
	if err != nil {
		cleanup()
		session.Close()
		return widget.Deps{}, err
	}

	api := client.NewAPIClient(opts.APIKey, client.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   time.Duration(cfg.API.TimeoutSecs) * time.Second,
		RateLimit: cfg.API.RateLimitRPS,
		Burst:     cfg.API.RateLimitBurst,
		Cache:     rt.cache,
		CacheTTL:  time.Duration(cfg.Cache.TTLSecs) * time.Second,
		Network:   string(opts.Network),
		Retry:     listingRetry(cfg.API.MaxRetries),
		Metrics:   rt.Metrics,
	})

	minAmount, maxAmount, err := cfg.Staking.AmountBounds()
	if err != nil {
		cleanup()
		session.Close()
		return widget.Deps{}, err
	}
	orch, err := staking.NewOrchestrator(staking.Config{
		Session:      session,
		Tokens:       tokens,
		Staking:      vault,
		Referrals:    api,
		ReferralCode: opts.ReferralCode,
		Bounds:       staking.Bounds{Min: minAmount, Max: maxAmount},
		OnSuccess:    opts.OnSuccess,
		OnError:      opts.OnError,
		Metrics:      rt.Metrics,
	})
	if err != nil {
		cleanup()
		session.Close()
		return widget.Deps{}, err
	}

	return widget.Deps{
		Session:      session,
		Orchestrator: orch,
		Metadata:     api,
		Network:      info,
		Close:        cleanup,
	}, nil
}

// listingRetry is the retry policy for metadata listing reads
func listingRetry(maxRetries int) *util.RetryConfig {
	if maxRetries == 0 {
		return util.NoRetry()
	}
	retry := util.DefaultRetryConfig()
	retry.MaxRetries = maxRetries
	return retry
}
