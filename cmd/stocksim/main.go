package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/stocksim/params"
	"github.com/uhyunpark/stocksim/pkg/api"
	"github.com/uhyunpark/stocksim/pkg/events"
	"github.com/uhyunpark/stocksim/pkg/exchange"
	"github.com/uhyunpark/stocksim/pkg/gamification"
	"github.com/uhyunpark/stocksim/pkg/ledger"
	"github.com/uhyunpark/stocksim/pkg/market"
	"github.com/uhyunpark/stocksim/pkg/matching"
	"github.com/uhyunpark/stocksim/pkg/metrics"
	"github.com/uhyunpark/stocksim/pkg/noise"
	"github.com/uhyunpark/stocksim/pkg/quote"
	"github.com/uhyunpark/stocksim/pkg/settlement"
	"github.com/uhyunpark/stocksim/pkg/util"
)

func main() {
	// ENV > .env > defaults
	cfg := params.LoadFromEnv("")

	logger, err := util.OpenLogger(cfg.LogFile, cfg.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "verbose", cfg.Verbose)

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("stocksim_failed", "err", err)
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Instruments ----
	registry := market.NewRegistry()
	for _, ic := range cfg.Market.Instruments {
		inst, err := market.NewInstrument(ic.Ticker, ic.DisplayName, ic.Sector, ic.InitialPrice, ic.TotalShares)
		if err != nil {
			return err
		}
		if err := registry.Register(inst); err != nil {
			return err
		}
	}

	// ---- Ledger ----
	store, err := ledger.Open(cfg.Ledger.Path, logger, ledger.Options{InitialBalance: cfg.Ledger.InitialBalance})
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Matching ----
	stp, err := matching.ParseSelfTradePolicy(cfg.Market.SelfTradePolicy)
	if err != nil {
		return err
	}
	remainder, err := matching.ParseRemainderPolicy(cfg.Market.MarketRemainderPolicy)
	if err != nil {
		return err
	}
	engine := matching.NewEngine(logger, registry, matching.Options{SelfTrade: stp, Remainder: remainder})
	sugar.Infow("engine_config",
		"tickers", registry.Tickers(),
		"self_trade", stp.String(),
		"market_remainder", remainder.String(),
	)

	m := metrics.New()
	hook := gamification.NewRewardHook(store, logger, cfg.Ledger.FirstBuyBonus, cfg.Ledger.FirstSellBonus)
	reconciler := settlement.NewReconciler(logger, engine, registry, store, hook, m)
	quotes := quote.NewPublisher(registry, engine, cfg.Market.HistorySize, util.RealClock{})
	hub := api.NewHub(logger)

	sinks := matching.FanOut{reconciler, m, hub}

	g, gctx := errgroup.WithContext(ctx)

	// ---- Trade feed (optional) ----
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(logger, events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), 4096)
		sinks = append(sinks, pub)
		g.Go(func() error { return pub.Run(gctx) })
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		sugar.Info("kafka_disabled")
	}
	engine.AddSink(sinks)

	// ---- Noise trader (optional) ----
	var trader *noise.Trader
	if cfg.Noise.Enabled {
		gen := noise.NewGenerator(noise.Config{Spread: cfg.Noise.Spread, MaxQty: cfg.Noise.MaxQty, MinPrice: cfg.Noise.MinPrice}, 0)
		trader = noise.NewTrader(logger, registry, engine, gen)
	}

	x := exchange.New(logger, exchange.Config{
		TickInterval: cfg.Market.TickInterval,
		MaxPrice:     cfg.Market.MaxOrderPrice,
		MaxQuantity:  cfg.Market.MaxOrderQuantity,
	}, registry, engine, store, reconciler, quotes, trader, m)
	x.SetQuoteSink(hub)
	if err := x.Restore(ctx); err != nil {
		return err
	}

	// ---- API Server ----
	server := api.NewServer(logger, x, store, quotes, m, hub, cfg.API.CORSOrigins)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return server.Start(gctx, cfg.API.Addr) })
	g.Go(func() error { return x.Run(gctx) })

	sugar.Infow("stocksim_started", "api_addr", cfg.API.Addr, "ledger", cfg.Ledger.Path, "tick", cfg.Market.TickInterval)
	err = g.Wait()
	sugar.Infow("stocksim_stopped", "err", err)
	return err
}
