// Arbitrage Core CLI
// Wires the path and amount optimizers against one live market snapshot and
// runs a single optimization cycle: build the graph, solve for a cycle,
// size it, and report the result. It does not loop or dispatch trades --
// running it on a schedule and executing the plan it prints are an
// operator's or an external dispatcher's job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xarbhq/xarb-core/internal/amountopt"
	"github.com/xarbhq/xarb-core/internal/config"
	"github.com/xarbhq/xarb-core/internal/exchange"
	"github.com/xarbhq/xarb-core/internal/execution"
	"github.com/xarbhq/xarb-core/internal/graph"
	"github.com/xarbhq/xarb-core/internal/market"
	"github.com/xarbhq/xarb-core/internal/metrics"
	"github.com/xarbhq/xarb-core/internal/pathopt"
	"github.com/xarbhq/xarb-core/internal/risk"
	"github.com/xarbhq/xarb-core/internal/runlog"
	"github.com/xarbhq/xarb-core/internal/snapshot"
)

var (
	configPath = flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml or ./config.yaml)")
	tick       = flag.Int("tick", 0, "Refresh tick counter, controls whether fee/price data is rebuilt this cycle")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, "console")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, cfg, *tick); err != nil {
		log.Fatal().Err(err).Msg("arbitrage cycle failed")
	}
}

func run(ctx context.Context, cfg *config.ArbitrageConfig, tick int) error {
	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, metricsLog)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	exchanges, err := buildExchanges(cfg)
	if err != nil {
		return fmt.Errorf("build exchanges: %w", err)
	}

	breakers := risk.NewCircuitBreakerManager()
	priceOracle := buildPriceOracle(cfg, breakers)
	feeOracle := market.NewHTTPWithdrawalFeeOracle(cfg.Oracle.WithdrawalFeeURL)

	builder := graph.NewBuilder(exchanges, priceOracle, cfg)
	g, err := builder.Build(ctx)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	log.Info().Int("nodes", g.NumNodes()).Int("edges", len(g.Edges)).Msg("graph built")

	snapshotter := snapshot.NewSnapshotter(g, exchanges, priceOracle, feeOracle, cfg, breakers)
	snap, err := snapshotter.Refresh(ctx, tick)
	if err != nil {
		return fmt.Errorf("refresh snapshot: %w", err)
	}

	pathOptimizer := pathopt.NewOptimizer(cfg)
	if err := pathOptimizer.Init(ctx, g); err != nil {
		return fmt.Errorf("init path optimizer: %w", err)
	}
	pathResult, err := pathOptimizer.Solve(ctx, snap)
	if err != nil {
		return fmt.Errorf("solve path optimizer: %w", err)
	}

	writer, err := runlog.NewWriter(cfg.RunLog.Path)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}

	if !pathResult.HasOpportunity {
		log.Info().Msg("no arbitrage opportunity found this cycle")
		return writer.WriteCycle(pathResult, execution.Plan{})
	}

	amountOptimizer := amountopt.NewOptimizer(cfg, g, snap, pathResult.Path, exchanges)
	amountPlan, err := amountOptimizer.Solve(ctx)
	if err != nil {
		return fmt.Errorf("solve amount optimizer: %w", err)
	}
	if !amountPlan.HasSolution {
		log.Info().Msg("path optimizer found a cycle but amount optimizer found no workable sizing")
		return writer.WriteCycle(pathResult, execution.Plan{})
	}

	plan, err := execution.BuildPlan(pathResult, amountPlan)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	if err := writer.WriteCycle(pathResult, plan); err != nil {
		return fmt.Errorf("write run log: %w", err)
	}

	if metricsServer != nil {
		metricsServer.RegisterHandler("/plan", metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(plan)
		})).ServeHTTP)
	}

	publisher, err := execution.NewPublisher(cfg.NATS)
	if err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	defer publisher.Close()
	if err := publisher.Publish(plan); err != nil {
		return fmt.Errorf("publish plan: %w", err)
	}

	fmt.Print(plan.MarshalRunLogEntry())
	return nil
}

// buildExchanges constructs an adapter per configured exchange. Only
// Binance has a live adapter today; any other configured name is skipped
// with a warning rather than failing the whole cycle.
func buildExchanges(cfg *config.ArbitrageConfig) (map[string]exchange.Exchange, error) {
	exchanges := make(map[string]exchange.Exchange, len(cfg.Exchanges))
	for name, ec := range cfg.Exchanges {
		switch name {
		case "binance":
			exch, err := exchange.NewBinanceExchange(exchange.BinanceConfig{
				APIKey:    ec.APIKey,
				SecretKey: ec.SecretKey,
				Testnet:   ec.Testnet,
			})
			if err != nil {
				return nil, fmt.Errorf("binance: %w", err)
			}
			if err := exch.LoadMarkets(context.Background()); err != nil {
				return nil, fmt.Errorf("binance: load markets: %w", err)
			}
			exchanges[name] = exch
		default:
			log.Warn().Str("exchange", name).Msg("configured exchange has no adapter, skipping")
		}
	}
	if len(exchanges) == 0 {
		return nil, fmt.Errorf("no usable exchange adapters configured")
	}
	return exchanges, nil
}

// buildPriceOracle wraps the CoinGecko oracle with a Redis memoization
// layer when Redis is configured, matching how the cached snapshot path
// keeps from re-pricing on every tick. The cache's Set writes are routed
// through the shared Redis circuit breaker, and its Redis calls through
// metrics.RedisMetrics
// so hit rate and per-operation counts show up on the metrics server
// started in run().
func buildPriceOracle(cfg *config.ArbitrageConfig, breakers *risk.CircuitBreakerManager) market.PriceOracle {
	base := market.NewCoinGeckoOracle(cfg.Oracle.PriceAPIKey)
	if cfg.Redis.Host == "" {
		return base
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ttl := time.Duration(cfg.Redis.TTLSec) * time.Second
	oracle := market.NewCachedPriceOracle(base, client, ttl)
	oracle.Cache().WithBreaker(breakers.Redis()).WithMetrics(metrics.NewRedisMetrics(client))
	return oracle
}
