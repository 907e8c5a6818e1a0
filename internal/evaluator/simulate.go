package evaluator

import (
	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/strategy"
)

// TradeModel is the paper-trading model applied to every evaluated day.
type TradeModel struct {
	InitialBalance decimal.Decimal
	PositionPct    decimal.Decimal
	StopLossPct    decimal.Decimal
	TakeProfitPct  decimal.Decimal
	FeeRate        decimal.Decimal
	// Window caps the history handed to the strategy per bar.
	Window int
}

func DefaultTradeModel() TradeModel {
	return TradeModel{
		InitialBalance: decimal.NewFromInt(10000),
		PositionPct:    decimal.RequireFromString("0.05"),
		StopLossPct:    decimal.RequireFromString("0.02"),
		TakeProfitPct:  decimal.RequireFromString("0.06"),
		FeeRate:        decimal.RequireFromString("0.001"),
		Window:         200,
	}
}

type side int

const (
	long side = iota + 1
	short
)

type position struct {
	side  side
	entry decimal.Decimal
	qty   decimal.Decimal
}

// DayOutcome is the fee-adjusted result of one simulated day.
type DayOutcome struct {
	Profit decimal.Decimal
	Trades int
}

// SimulateDay trades bars[start:] with history bars[:start] available as
// warmup. Every position opened during the day is closed at the last bar.
func SimulateDay(s strategy.Strategy, bars []marketdata.Bar, start int, m TradeModel) DayOutcome {
	out := DayOutcome{Profit: decimal.Zero}
	if s == nil || start < 0 || start >= len(bars) {
		return out
	}
	window := m.Window
	if lb := s.Lookback(); window < lb {
		window = lb
	}
	balance := m.InitialBalance
	var pos *position

	closePos := func(price decimal.Decimal) {
		if pos == nil {
			return
		}
		var gross decimal.Decimal
		if pos.side == long {
			gross = price.Sub(pos.entry).Mul(pos.qty)
		} else {
			gross = pos.entry.Sub(price).Mul(pos.qty)
		}
		fees := pos.entry.Mul(pos.qty).Add(price.Mul(pos.qty)).Mul(m.FeeRate)
		net := gross.Sub(fees)
		balance = balance.Add(net)
		out.Profit = out.Profit.Add(net)
		out.Trades++
		pos = nil
	}

	for i := start; i < len(bars); i++ {
		price := bars[i].Close
		if !price.IsPositive() {
			continue
		}
		if pos != nil {
			move := price.Sub(pos.entry).Div(pos.entry)
			if pos.side == short {
				move = move.Neg()
			}
			if move.LessThanOrEqual(m.StopLossPct.Neg()) || move.GreaterThanOrEqual(m.TakeProfitPct) {
				closePos(price)
			}
		}

		from := i + 1 - window
		if from < 0 {
			from = 0
		}
		sig := s.Evaluate(bars[from : i+1])
		switch {
		case pos == nil && (sig.Action == strategy.ActionBuy || sig.Action == strategy.ActionSell):
			if !balance.IsPositive() {
				continue
			}
			sd := long
			if sig.Action == strategy.ActionSell {
				sd = short
			}
			pos = &position{side: sd, entry: price, qty: balance.Mul(m.PositionPct).Div(price)}
		case pos != nil && pos.side == long && sig.Action == strategy.ActionSell:
			closePos(price)
		case pos != nil && pos.side == short && sig.Action == strategy.ActionBuy:
			closePos(price)
		}
	}
	closePos(bars[len(bars)-1].Close)
	out.Profit = out.Profit.Round(8)
	return out
}
