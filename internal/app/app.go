// Package app assembles the shared runtime pieces of the daemon and the
// worker binary from a loaded Config.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/cache"
	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/db"
	"github.com/jamesmarlowww/tradingbot/internal/evaluator"
	"github.com/jamesmarlowww/tradingbot/internal/handler"
	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	gormrepository "github.com/jamesmarlowww/tradingbot/internal/repository/gorm"
	"github.com/jamesmarlowww/tradingbot/internal/repository/memory"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

// LoadConfig reads ST_CONFIG (default config/config.yaml); ST_ENV_ONLY=true
// skips the file.
func LoadConfig() (config.Config, error) {
	cfgPath := os.Getenv("ST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("ST_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	return config.Load(cfgPath, envOnly)
}

// Store is the opened persistence layer plus what /readyz should ping.
type Store struct {
	Repo   repository.Repository
	Checks map[string]handler.Pinger
	close  func() error
}

func (s *Store) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore opens postgres (migrating when migrate is set) or, with
// store.driver=memory, an in-process store.
func OpenStore(cfg config.Config, migrate bool, logger *zap.Logger) (*Store, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Store.Driver), "memory") {
		logger.Warn("using in-memory store; state is lost on exit")
		return &Store{Repo: memory.New(), Checks: map[string]handler.Pinger{}}, nil
	}
	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if migrate {
		if err := db.AutoMigrate(dbConn); err != nil {
			_ = db.Close(dbConn)
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return &Store{
		Repo: gormrepository.New(dbConn.Gorm),
		Checks: map[string]handler.Pinger{
			"db": func(ctx context.Context) error { return db.Ping(ctx, dbConn) },
		},
		close: func() error { return db.Close(dbConn) },
	}, nil
}

// OpenRedis returns nil when redis.addr is empty.
func OpenRedis(cfg config.RedisConfig) *cache.RedisStore {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil
	}
	return cache.NewRedisStore(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func Combinations(cfg config.Config) []models.Combination {
	out := make([]models.Combination, 0, len(cfg.Combinations))
	for _, c := range cfg.Combinations {
		out = append(out, models.NewCombination(c.Symbol, c.Strategy, c.Timeframe))
	}
	return out
}

func NewBinance(cfg config.MarketDataConfig, logger *zap.Logger) *marketdata.BinanceClient {
	return marketdata.NewBinanceClient(cfg.BaseURL, cfg.Timeout, cfg.PageLimit, logger)
}

func TradeModel(cfg config.EvaluatorConfig) (evaluator.TradeModel, error) {
	m := evaluator.DefaultTradeModel()
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"evaluator.initial_balance", cfg.InitialBalance, &m.InitialBalance},
		{"evaluator.position_pct", cfg.PositionPct, &m.PositionPct},
		{"evaluator.stop_loss_pct", cfg.StopLossPct, &m.StopLossPct},
		{"evaluator.take_profit_pct", cfg.TakeProfitPct, &m.TakeProfitPct},
		{"evaluator.fee_rate", cfg.FeeRate, &m.FeeRate},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return m, fmt.Errorf("%s: %w", f.name, err)
		}
		if v.IsNegative() {
			return m, fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = v
	}
	return m, nil
}

// NewEvaluator builds the daily-result evaluator over Binance bars and
// registers the configured combinations.
func NewEvaluator(ctx context.Context, cfg config.Config, repo repository.Repository, logger *zap.Logger) (*evaluator.Evaluator, error) {
	model, err := TradeModel(cfg.Evaluator)
	if err != nil {
		return nil, err
	}
	combos := Combinations(cfg)
	for i := range combos {
		if err := repo.EnsureCombination(ctx, &combos[i]); err != nil {
			return nil, fmt.Errorf("register combination %s: %w", combos[i].Key, err)
		}
	}
	persistBackoff := cfg.Automation.PersistBackoff
	return &evaluator.Evaluator{
		Repo:     repo,
		Provider: NewBinance(cfg.MarketData, logger.Named("marketdata")),
		Logger:   logger,
		Settings: evaluator.Settings{
			Workers:      cfg.Evaluator.Workers,
			LookbackDays: cfg.Evaluator.LookbackDays,
			WarmupBars:   cfg.Evaluator.WarmupBars,
			Fetch: retry.Policy{
				Attempts: cfg.Evaluator.FetchRetries,
				Base:     cfg.Evaluator.FetchBackoff,
				Max:      10 * cfg.Evaluator.FetchBackoff,
				Timeout:  cfg.Evaluator.FetchTimeout,
				Jitter:   true,
			},
			Persist: retry.Policy{
				Attempts: cfg.Automation.PersistRetries,
				Base:     persistBackoff,
				Max:      10 * persistBackoff,
				Timeout:  cfg.Automation.PersistTimeout,
				Jitter:   true,
			},
			Model: model,
		},
		StrategyDefaults: cfg.StrategyDefaults,
		Combinations:     combos,
	}, nil
}
