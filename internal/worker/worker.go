// Package worker is the runtime of a supervised execution worker. Every order
// it places is preceded by a gate check for its scope.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/execution"
	"github.com/jamesmarlowww/tradingbot/internal/gate"
	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
	"github.com/jamesmarlowww/tradingbot/internal/strategy"
)

const (
	BotMonitor = "monitor"
	BotTest    = "test"
	BotProd    = "prod"

	HeartbeatLine = "heartbeat"
)

func ValidBotType(v string) bool {
	return v == BotMonitor || v == BotTest || v == BotProd
}

type History interface {
	Recent(ctx context.Context, symbol, timeframe string, n int) ([]marketdata.Bar, error)
}

type BarStream interface {
	Run(ctx context.Context, onBar func(marketdata.Bar)) error
}

type Checker interface {
	Check(ctx context.Context, scope string) gate.Verdict
}

type Config struct {
	Scope             string
	BotType           string
	HeartbeatInterval time.Duration
	HistoryBars       int
	PollInterval      time.Duration
	OrderNotional     decimal.Decimal
	MinConfidence     float64
}

type Worker struct {
	Config       Config
	Combinations []models.Combination
	Defaults     map[string]any

	History History
	// Streams is optional; without it legs poll History.
	Streams   func(c models.Combination) BarStream
	Gate      Checker
	Backend   execution.Backend
	Heartbeat io.Writer
	Logger    *zap.Logger

	hbMu sync.Mutex
}

type leg struct {
	combo    models.Combination
	strat    strategy.Strategy
	bars     []marketdata.Bar
	position execution.Side
	qty      decimal.Decimal
}

// Run blocks until ctx is done. Heartbeats are written from the start so the
// supervisor can observe liveness while history loads.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("worker is nil")
	}
	if !ValidBotType(w.Config.BotType) {
		return fmt.Errorf("invalid bot type %q", w.Config.BotType)
	}
	if len(w.Combinations) == 0 {
		return fmt.Errorf("scope %s has no combinations", w.Config.Scope)
	}
	legs := make([]*leg, 0, len(w.Combinations))
	for _, c := range w.Combinations {
		s, err := strategy.New(c.Strategy, w.Defaults)
		if err != nil {
			return err
		}
		legs = append(legs, &leg{combo: c, strat: s})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	errCh := make(chan error, len(legs))
	for _, l := range legs {
		wg.Add(1)
		go func(l *leg) {
			defer wg.Done()
			if err := w.runLeg(ctx, l); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", l.combo.Key, err)
				cancel()
			}
		}(l)
	}
	if w.Logger != nil {
		w.Logger.Info("worker started",
			zap.String("scope", w.Config.Scope),
			zap.String("bot_type", w.Config.BotType),
			zap.Int("legs", len(legs)),
		)
	}
	wg.Wait()
	close(errCh)
	if err, ok := <-errCh; ok {
		return err
	}
	return ctx.Err()
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	interval := w.Config.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w.beat()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.beat()
		}
	}
}

func (w *Worker) beat() {
	if w.Heartbeat == nil {
		return
	}
	w.hbMu.Lock()
	defer w.hbMu.Unlock()
	_, _ = io.WriteString(w.Heartbeat, HeartbeatLine+"\n")
}

func (w *Worker) runLeg(ctx context.Context, l *leg) error {
	n := w.Config.HistoryBars
	if lb := l.strat.Lookback() + 1; n < lb {
		n = lb
	}
	seed, err := w.seed(ctx, l, n)
	if err != nil {
		return err
	}
	l.bars = seed

	if w.Streams != nil {
		if stream := w.Streams(l.combo); stream != nil {
			return stream.Run(ctx, func(b marketdata.Bar) {
				w.onBar(ctx, l, b, n)
			})
		}
	}
	return w.poll(ctx, l, n)
}

func (w *Worker) seed(ctx context.Context, l *leg, n int) ([]marketdata.Bar, error) {
	var bars []marketdata.Bar
	err := retry.Do(ctx, retry.Policy{Attempts: 5, Base: time.Second, Max: 30 * time.Second, Timeout: 30 * time.Second}, func(ctx context.Context) error {
		var err error
		bars, err = w.History.Recent(ctx, l.combo.Symbol, l.combo.Timeframe, n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("seed history: %w", err)
	}
	return bars, nil
}

func (w *Worker) poll(ctx context.Context, l *leg, n int) error {
	interval := w.Config.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, interval)
		bars, err := w.History.Recent(pctx, l.combo.Symbol, l.combo.Timeframe, 2)
		cancel()
		if err != nil {
			if w.Logger != nil {
				w.Logger.Warn("poll bars failed", zap.String("combination", l.combo.Key), zap.Error(err))
			}
			continue
		}
		for _, b := range bars {
			w.onBar(ctx, l, b, n)
		}
	}
}

// onBar appends a closed bar (ignoring repeats) and acts on the signal.
func (w *Worker) onBar(ctx context.Context, l *leg, b marketdata.Bar, keep int) {
	if len(l.bars) > 0 && !b.OpenTime.After(l.bars[len(l.bars)-1].OpenTime) {
		return
	}
	l.bars = append(l.bars, b)
	if len(l.bars) > keep {
		l.bars = l.bars[len(l.bars)-keep:]
	}
	sig := l.strat.Evaluate(l.bars)
	if sig.Action == strategy.ActionHold {
		return
	}
	if w.Logger != nil {
		w.Logger.Info("signal",
			zap.String("scope", w.Config.Scope),
			zap.String("combination", l.combo.Key),
			zap.String("action", string(sig.Action)),
			zap.Float64("confidence", sig.Confidence),
			zap.String("reason", sig.Reason),
		)
	}
	if w.Config.BotType == BotMonitor || sig.Confidence < w.Config.MinConfidence {
		return
	}
	w.act(ctx, l, sig, b.Close)
}

func (w *Worker) act(ctx context.Context, l *leg, sig strategy.Signal, price decimal.Decimal) {
	var side execution.Side
	qty := decimal.Zero
	switch {
	case l.position == "" && sig.Action == strategy.ActionBuy:
		side = execution.SideBuy
	case l.position == "" && sig.Action == strategy.ActionSell:
		side = execution.SideSell
	case l.position == execution.SideBuy && sig.Action == strategy.ActionSell:
		side, qty = execution.SideSell, l.qty
	case l.position == execution.SideSell && sig.Action == strategy.ActionBuy:
		side, qty = execution.SideBuy, l.qty
	default:
		return
	}
	if !price.IsPositive() {
		return
	}
	opening := qty.IsZero()
	if opening {
		qty = w.Config.OrderNotional.Div(price).Round(8)
	}

	if w.Gate == nil || w.Backend == nil {
		return
	}
	verdict := w.Gate.Check(ctx, w.Config.Scope)
	if !verdict.Allow {
		return
	}
	order, err := w.Backend.PlaceOrder(ctx, execution.OrderRequest{
		Scope:    w.Config.Scope,
		Symbol:   l.combo.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Reason:   sig.Reason,
	})
	if err != nil {
		if w.Logger != nil {
			w.Logger.Warn("place order failed", zap.String("combination", l.combo.Key), zap.Error(err))
		}
		return
	}
	if opening {
		l.position, l.qty = side, order.Quantity
	} else {
		l.position, l.qty = "", decimal.Zero
	}
}
