// Command runner is the strategy runtime's entrypoint: it loads one
// strategy's configuration, wires the Market Data Source, Feature
// Pipeline, Composer, Execution Gateway and Portfolio Service into a
// Decision Coordinator, and drives it through a Stream Controller until
// cancelled or persistence marks the strategy stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/nof0labs/stratrun/internal/runtimeconfig"
	"github.com/nof0labs/stratrun/internal/telemetry"
	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/composer/grid"
	"github.com/nof0labs/stratrun/pkg/composer/prompt"
	"github.com/nof0labs/stratrun/pkg/coordinator"
	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/eventbus"
	"github.com/nof0labs/stratrun/pkg/execution"
	binancegw "github.com/nof0labs/stratrun/pkg/execution/binance"
	hyperliquidgw "github.com/nof0labs/stratrun/pkg/execution/hyperliquid"
	"github.com/nof0labs/stratrun/pkg/execution/paper"
	hyperliquidexchange "github.com/nof0labs/stratrun/pkg/exchange/hyperliquid"
	"github.com/nof0labs/stratrun/pkg/features"
	llmpkg "github.com/nof0labs/stratrun/pkg/llm"
	"github.com/nof0labs/stratrun/pkg/marketdata"
	"github.com/nof0labs/stratrun/pkg/persistence"
	"github.com/nof0labs/stratrun/pkg/portfolio"
	"github.com/nof0labs/stratrun/pkg/stream"
)

func main() {
	configPath := flag.String("f", "etc/runner.yaml", "path to runner config file")
	flag.Parse()
	logx.MustSetup(logx.LogConf{})

	cfg, err := runtimeconfig.Load(*configPath)
	if err != nil {
		logx.Errorf("runner: failed to load config %s: %v", *configPath, err)
		os.Exit(1)
	}

	otelShutdown, err := telemetry.SetupOTelSDK(context.Background(), "stratrun-runner")
	if err != nil {
		logx.Errorf("runner: failed to set up telemetry: %v", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logx.Errorf("runner: telemetry shutdown error: %v", err)
		}
	}()

	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		logx.Errorf("runner: failed to build llm client: %v", err)
		os.Exit(1)
	}
	defer func() {
		if llmClient != nil {
			_ = llmClient.Close()
		}
	}()

	store := buildPersistence(cfg)
	events := buildEventBus(cfg)
	defer func() {
		if events != nil {
			_ = events.Close()
		}
	}()

	source := marketdata.NewHyperliquidSource(cfg.Request.ExchangeConfig.Testnet)
	source.Cache = buildSnapshotCache(cfg)
	pipeline := features.New(source)

	comp, err := buildComposer(cfg, llmClient)
	if err != nil {
		logx.Errorf("runner: failed to build composer: %v", err)
		os.Exit(1)
	}

	gateway, err := buildGateway(cfg)
	if err != nil {
		logx.Errorf("runner: failed to build execution gateway: %v", err)
		os.Exit(1)
	}

	constraints := buildConstraints(cfg.Request.TradingConfig)
	pf := portfolio.New(cfg.StrategyID, cfg.Request.ExchangeConfig.MarketType, constraints,
		cfg.Request.TradingConfig.MaxLeverage, cfg.Request.TradingConfig.InitialCapital)

	co := coordinator.New(cfg.StrategyID, nil, pipeline, comp, gateway, pf, constraints,
		cfg.Request.TradingConfig, cfg.Request.IsSpot())

	sc := stream.New(cfg.StrategyID, co, store, events)
	sc.IsLive = cfg.Request.ExchangeConfig.TradingMode == domain.TradingModeLive
	sc.InitialCash = cfg.Request.TradingConfig.InitialCapital

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decideInterval := time.Duration(cfg.Request.TradingConfig.DecideIntervalSec) * time.Second
	logx.Infof("runner: starting strategy=%s composer=%s trading_mode=%s decide_interval=%s",
		cfg.StrategyID, cfg.Composer, cfg.Request.ExchangeConfig.TradingMode, decideInterval)

	sc.Run(ctx, pf, decideInterval)
	logx.Infof("runner: strategy=%s stopped", cfg.StrategyID)
}

func buildLLMClient(cfg *runtimeconfig.Config) (*llmpkg.Client, error) {
	llmCfg := cfg.LLM.Value
	if llmCfg == nil {
		return nil, nil
	}
	return llmpkg.NewClient(llmCfg)
}

func buildPersistence(cfg *runtimeconfig.Config) *persistence.Service {
	if cfg.Postgres.DSN == "" {
		return persistence.New(nil)
	}
	conn := sqlx.NewSqlConn("pgx", cfg.Postgres.DSN)
	return persistence.New(conn)
}

func buildEventBus(cfg *runtimeconfig.Config) *eventbus.Publisher {
	return eventbus.NewPublisher(eventbus.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
}

func buildComposer(cfg *runtimeconfig.Config, llmClient *llmpkg.Client) (composer.Composer, error) {
	model := cfg.Request.LLMModelConfig.ModelID

	switch cfg.Composer {
	case runtimeconfig.ComposerGrid:
		g := grid.New()
		if llmClient != nil && model != "" {
			g.Advisor = &grid.LLMAdvisor{Client: llmClient, Model: model}
		}
		return g, nil
	case runtimeconfig.ComposerPrompt, "":
		if llmClient == nil {
			return nil, fmt.Errorf("prompt composer requires an llm client, none configured")
		}
		return &prompt.Composer{Client: llmClient, Model: model}, nil
	default:
		return nil, fmt.Errorf("unknown composer kind %q", cfg.Composer)
	}
}

func buildGateway(cfg *runtimeconfig.Config) (execution.Gateway, error) {
	ec := cfg.Request.ExchangeConfig
	if ec.TradingMode != domain.TradingModeLive {
		return paper.New(buildIdempotencyCache(cfg)), nil
	}

	switch ec.ExchangeID {
	case "binance":
		client := binance.NewFuturesClient(ec.APIKey, ec.SecretKey)
		return binancegw.New(client, ec.FeeBps), nil
	case "hyperliquid", "":
		provider, err := hyperliquidexchange.NewProvider(ec.SecretKey, ec.Testnet)
		if err != nil {
			return nil, fmt.Errorf("build hyperliquid provider: %w", err)
		}
		return hyperliquidgw.New(provider, ec.MarginMode, ec.FeeBps), nil
	default:
		return nil, fmt.Errorf("unsupported live exchange_id %q", ec.ExchangeID)
	}
}

func buildIdempotencyCache(cfg *runtimeconfig.Config) paper.IdempotencyCache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &paper.RedisIdempotencyCache{Client: client}
}

func buildSnapshotCache(cfg *runtimeconfig.Config) marketdata.SnapshotCache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &marketdata.RedisSnapshotCache{Client: client}
}

func buildConstraints(tc domain.TradingConfig) domain.Constraints {
	return domain.Constraints{
		MaxPositions: tc.MaxPositions,
		MaxLeverage:  tc.MaxLeverage,
	}
}
