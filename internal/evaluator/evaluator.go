package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
	"github.com/jamesmarlowww/tradingbot/internal/strategy"
)

const (
	SkipFetchFailed    = "fetch_failed"
	SkipIncompleteBars = "incomplete_bars"
)

type Settings struct {
	Workers      int
	LookbackDays int
	WarmupBars   int
	Fetch        retry.Policy
	Persist      retry.Policy
	Model        TradeModel
}

// Evaluator turns bars into one DailyResult per (combination, date).
type Evaluator struct {
	Repo     repository.Repository
	Provider marketdata.Provider
	Logger   *zap.Logger
	Settings Settings

	StrategyDefaults map[string]any
	Combinations     []models.Combination

	now func() time.Time
}

// Summary reports one EvaluateAll run.
type Summary struct {
	Range     marketdata.DateRange
	Evaluated int
	Complete  int
	Skipped   int
	Failed    map[string]string
}

func (e *Evaluator) Evaluate(ctx context.Context, combo models.Combination, r marketdata.DateRange) ([]models.DailyResult, error) {
	if e == nil || e.Provider == nil {
		return nil, fmt.Errorf("evaluator has no market data provider")
	}
	days := r.Days()
	if len(days) == 0 {
		return nil, nil
	}
	strat, err := strategy.New(combo.Strategy, e.StrategyDefaults)
	if err != nil {
		return nil, err
	}
	step, err := marketdata.TimeframeDuration(combo.Timeframe)
	if err != nil {
		return nil, err
	}
	perDay := int((24 * time.Hour) / step)

	warmup := e.Settings.WarmupBars
	if lb := strat.Lookback(); warmup < lb {
		warmup = lb
	}
	warmupDays := int((time.Duration(warmup)*step + 24*time.Hour - 1) / (24 * time.Hour))
	fetchRange := marketdata.DateRange{From: r.Start().AddDate(0, 0, -warmupDays), To: r.To}

	var bars []marketdata.Bar
	fetchErr := retry.Do(ctx, e.Settings.Fetch, func(ctx context.Context) error {
		var err error
		bars, err = e.Provider.GetBars(ctx, combo, fetchRange)
		return err
	})

	results := make([]models.DailyResult, 0, len(days))
	if fetchErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.Logger != nil {
			e.Logger.Warn("bars unavailable, days skipped",
				zap.String("combination", combo.Key),
				zap.Time("from", r.Start()),
				zap.Time("to", models.DateOnly(r.To)),
				zap.Error(fetchErr),
			)
		}
		for _, d := range days {
			results = append(results, skipped(combo.Key, d, SkipFetchFailed))
		}
	} else {
		bars = normalizeBars(bars)
		for _, d := range days {
			start, end := dayBounds(bars, d)
			if end-start != perDay {
				results = append(results, skipped(combo.Key, d, SkipIncompleteBars))
				continue
			}
			outcome := SimulateDay(strat, bars[:end], start, e.Settings.Model)
			results = append(results, models.DailyResult{
				CombinationKey: combo.Key,
				Date:           d,
				Profit:         outcome.Profit,
				TradeCount:     outcome.Trades,
				Status:         models.DailyStatusComplete,
			})
		}
	}

	if err := e.persist(ctx, combo, results); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Evaluator) persist(ctx context.Context, combo models.Combination, results []models.DailyResult) error {
	if e.Repo == nil {
		return nil
	}
	c := combo
	if err := retry.Do(ctx, e.Settings.Persist, func(ctx context.Context) error {
		return e.Repo.EnsureCombination(ctx, &c)
	}); err != nil {
		return fmt.Errorf("ensure combination %s: %w", combo.Key, err)
	}
	for i := range results {
		row := results[i]
		if err := retry.Do(ctx, e.Settings.Persist, func(ctx context.Context) error {
			return e.Repo.UpsertDailyResult(ctx, &row)
		}); err != nil {
			return fmt.Errorf("upsert daily result %s %s: %w", combo.Key, row.Date.Format(time.DateOnly), err)
		}
	}
	return nil
}

// EvaluateAll evaluates every combination on a bounded worker pool. A
// failing combination never blocks the others.
func (e *Evaluator) EvaluateAll(ctx context.Context, combos []models.Combination, r marketdata.DateRange) Summary {
	summary := Summary{Range: r, Failed: map[string]string{}}
	workers := e.Settings.Workers
	if workers <= 0 {
		workers = 1
	}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)
	for _, combo := range combos {
		select {
		case <-ctx.Done():
			mu.Lock()
			summary.Failed[combo.Key] = ctx.Err().Error()
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results, err := e.evaluateSafe(ctx, combo, r)
			mu.Lock()
			defer mu.Unlock()
			summary.Evaluated++
			for _, res := range results {
				if res.Complete() {
					summary.Complete++
				} else {
					summary.Skipped++
				}
			}
			if err != nil {
				summary.Failed[combo.Key] = err.Error()
			}
		}()
	}
	wg.Wait()
	if e.Logger != nil {
		e.Logger.Info("evaluation finished",
			zap.Time("from", r.Start()),
			zap.Time("to", models.DateOnly(r.To)),
			zap.Int("combinations", summary.Evaluated),
			zap.Int("complete_days", summary.Complete),
			zap.Int("skipped_days", summary.Skipped),
			zap.Int("failed", len(summary.Failed)),
		)
	}
	return summary
}

func (e *Evaluator) evaluateSafe(ctx context.Context, combo models.Combination, r marketdata.DateRange) (results []models.DailyResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("evaluate %s panicked: %v", combo.Key, rec)
		}
	}()
	results, err = e.Evaluate(ctx, combo, r)
	if err != nil && e.Logger != nil && !errors.Is(err, context.Canceled) {
		e.Logger.Warn("combination evaluation failed", zap.String("combination", combo.Key), zap.Error(err))
	}
	return results, err
}

// RunOnce evaluates the configured combinations over the days ending
// yesterday (UTC).
func (e *Evaluator) RunOnce(ctx context.Context) Summary {
	return e.EvaluateAll(ctx, e.Combinations, e.DefaultRange())
}

func (e *Evaluator) DefaultRange() marketdata.DateRange {
	now := time.Now().UTC()
	if e != nil && e.now != nil {
		now = e.now()
	}
	lookback := 1
	if e != nil && e.Settings.LookbackDays > 0 {
		lookback = e.Settings.LookbackDays
	}
	to := models.DateOnly(now).AddDate(0, 0, -1)
	return marketdata.DateRange{From: to.AddDate(0, 0, -(lookback - 1)), To: to}
}

func skipped(key string, day time.Time, reason string) models.DailyResult {
	return models.DailyResult{
		CombinationKey: key,
		Date:           day,
		Profit:         decimal.Zero,
		Status:         models.DailyStatusSkipped,
		SkipReason:     reason,
	}
}

// normalizeBars sorts by open time and drops duplicates.
func normalizeBars(bars []marketdata.Bar) []marketdata.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.OpenTime.Equal(out[len(out)-1].OpenTime) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// dayBounds returns the [start, end) indexes of the bars opening on day.
func dayBounds(bars []marketdata.Bar, day time.Time) (int, int) {
	startT := models.DateOnly(day)
	endT := startT.AddDate(0, 0, 1)
	start := sort.Search(len(bars), func(i int) bool { return !bars[i].OpenTime.Before(startT) })
	end := sort.Search(len(bars), func(i int) bool { return !bars[i].OpenTime.Before(endT) })
	return start, end
}
