// Command streakworker runs one scope's execution worker. It is spawned by
// the supervisor: logs go to stderr and stdout carries only heartbeats.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/app"
	"github.com/jamesmarlowww/tradingbot/internal/cache"
	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/controller"
	"github.com/jamesmarlowww/tradingbot/internal/execution"
	"github.com/jamesmarlowww/tradingbot/internal/gate"
	"github.com/jamesmarlowww/tradingbot/internal/logger"
	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/worker"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "streakworker:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("streakworker", flag.ContinueOnError)
	scopeName := fs.String("scope", "", "combination key or group name")
	botType := fs.String("bot-type", "", "monitor|test|prod")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if strings.TrimSpace(*scopeName) == "" {
		return fmt.Errorf("--scope is required")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logger.ForWorker(cfg.Log, *scopeName, os.Getenv("ST_WORKER_INSTANCE"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	settings, err := controller.SettingsFromConfig(cfg)
	if err != nil {
		return err
	}
	scope, ok := settings.Scope(*scopeName)
	if !ok {
		return fmt.Errorf("unknown scope %s", *scopeName)
	}
	bot := scope.BotType
	if strings.TrimSpace(*botType) != "" {
		bot = strings.TrimSpace(*botType)
	}
	if !worker.ValidBotType(bot) {
		return fmt.Errorf("invalid bot type %q", bot)
	}
	combos := make([]models.Combination, 0, len(scope.Members))
	for _, key := range scope.Members {
		c, err := models.ParseCombinationKey(key)
		if err != nil {
			return err
		}
		combos = append(combos, c)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader, closeReader, err := decisionReader(cfg.Gate.Source, cfg, logger)
	if err != nil {
		return err
	}
	defer closeReader()

	notional, err := decimal.NewFromString(strings.TrimSpace(cfg.Worker.OrderNotional))
	if err != nil {
		return fmt.Errorf("worker.order_notional: %w", err)
	}
	model, err := app.TradeModel(cfg.Evaluator)
	if err != nil {
		return err
	}

	w := &worker.Worker{
		Config: worker.Config{
			Scope:             scope.Name,
			BotType:           bot,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			HistoryBars:       cfg.Worker.HistoryBars,
			PollInterval:      cfg.Worker.PollInterval,
			OrderNotional:     notional,
			MinConfidence:     cfg.Worker.MinConfidence,
		},
		Combinations: combos,
		Defaults:     cfg.StrategyDefaults,
		History:      app.NewBinance(cfg.MarketData, logger.Named("marketdata")),
		Gate: &gate.Gate{
			Reader:         reader,
			Logger:         logger.Named("gate"),
			StalenessBound: settings.StalenessBound,
			ReadTimeout:    cfg.Gate.ReadTimeout,
			ClockSkew:      cfg.Gate.ClockSkew,
		},
		// Every bot type trades on the paper backend; prod differs only in
		// logging until a live backend exists.
		Backend:   execution.NewPaperBackend(model.FeeRate, logger.Named("paper")),
		Heartbeat: os.Stdout,
		Logger:    logger,
	}
	if cfg.Worker.UseStream {
		w.Streams = func(c models.Combination) worker.BarStream {
			return marketdata.NewKlineStream(marketdata.KlineStreamOptions{
				URL:      cfg.MarketData.StreamURL,
				Symbol:   c.Symbol,
				Interval: c.Timeframe,
				Logger:   logger.Named("stream"),
			})
		}
	}
	return w.Run(ctx)
}

// decisionReader opens the gate's source: the database, or the decision
// cache the daemon publishes to redis.
func decisionReader(source string, cfg config.Config, logger *zap.Logger) (gate.DecisionReader, func(), error) {
	if strings.EqualFold(strings.TrimSpace(source), "redis") {
		rs := app.OpenRedis(cfg.Redis)
		if rs == nil {
			return nil, nil, fmt.Errorf("gate.source=redis but redis.addr is empty")
		}
		return &cache.DecisionCache{Store: rs, Prefix: cfg.Redis.Prefix}, func() { _ = rs.Close() }, nil
	}
	store, err := app.OpenStore(cfg, false, logger)
	if err != nil {
		return nil, nil, err
	}
	return store.Repo, func() { _ = store.Close() }, nil
}
