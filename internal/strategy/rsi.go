package strategy

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
)

type RSIParams struct {
	Period     int     `json:"rsi_period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
	// TrendPeriod filters entries against the short/long SMA spread; 0 turns
	// the filter off.
	TrendPeriod int `json:"trend_period"`
}

// RSIStrategy is mean reversion on RSI extremes.
type RSIStrategy struct {
	p RSIParams
}

func NewRSI() *RSIStrategy {
	return &RSIStrategy{p: RSIParams{Period: 14, Overbought: 70, Oversold: 30}}
}

func (s *RSIStrategy) Name() string { return "RSIStrategy" }

func (s *RSIStrategy) DefaultParams() json.RawMessage {
	return mustJSON(NewRSI().p)
}

func (s *RSIStrategy) SetParams(raw json.RawMessage) error {
	p := s.p
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	if p.Period < 2 {
		return fmt.Errorf("rsi_period must be >= 2")
	}
	if p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return fmt.Errorf("invalid rsi thresholds %.2f/%.2f", p.Oversold, p.Overbought)
	}
	if p.TrendPeriod < 0 {
		return fmt.Errorf("trend_period must be >= 0")
	}
	s.p = p
	return nil
}

func (s *RSIStrategy) Lookback() int {
	if s.p.TrendPeriod > s.p.Period+1 {
		return s.p.TrendPeriod
	}
	return s.p.Period + 1
}

func (s *RSIStrategy) Evaluate(bars []marketdata.Bar) Signal {
	if len(bars) < s.Lookback() {
		return Hold("warmup")
	}
	c := closes(bars)
	rsi := RSI(c, s.p.Period)
	if math.IsNaN(rsi) {
		return Hold("warmup")
	}
	trend := 0.0
	if s.p.TrendPeriod >= 2 {
		long := SMA(c, s.p.TrendPeriod)
		short := SMA(c, s.p.TrendPeriod/2)
		if long != 0 {
			trend = (short - long) / long
		}
	}
	switch {
	case rsi < s.p.Oversold && (s.p.TrendPeriod == 0 || trend >= 0):
		return Signal{Action: ActionBuy, Confidence: clamp01((s.p.Oversold - rsi) / s.p.Oversold), Reason: fmt.Sprintf("rsi=%.2f<%.0f", rsi, s.p.Oversold)}
	case rsi > s.p.Overbought && (s.p.TrendPeriod == 0 || trend <= 0):
		return Signal{Action: ActionSell, Confidence: clamp01((rsi - s.p.Overbought) / (100 - s.p.Overbought)), Reason: fmt.Sprintf("rsi=%.2f>%.0f", rsi, s.p.Overbought)}
	}
	return Hold(fmt.Sprintf("rsi=%.2f", rsi))
}

type EnhancedRSIParams struct {
	Period           int     `json:"rsi_period"`
	Oversold         float64 `json:"oversold_threshold"`
	Overbought       float64 `json:"overbought_threshold"`
	VolatilityPeriod int     `json:"volatility_period"`
	VolatilityFactor float64 `json:"volatility_factor"`
}

// EnhancedRSIStrategy widens its RSI band as recent volatility rises.
type EnhancedRSIStrategy struct {
	p EnhancedRSIParams
}

func NewEnhancedRSI() *EnhancedRSIStrategy {
	return &EnhancedRSIStrategy{p: EnhancedRSIParams{Period: 14, Oversold: 45, Overbought: 55, VolatilityPeriod: 5, VolatilityFactor: 0.1}}
}

func (s *EnhancedRSIStrategy) Name() string { return "EnhancedRSIStrategy" }

func (s *EnhancedRSIStrategy) DefaultParams() json.RawMessage {
	return mustJSON(NewEnhancedRSI().p)
}

func (s *EnhancedRSIStrategy) SetParams(raw json.RawMessage) error {
	p := s.p
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	if p.Period < 2 || p.VolatilityPeriod < 2 {
		return fmt.Errorf("periods must be >= 2")
	}
	if p.Oversold >= p.Overbought {
		return fmt.Errorf("invalid rsi thresholds %.2f/%.2f", p.Oversold, p.Overbought)
	}
	s.p = p
	return nil
}

func (s *EnhancedRSIStrategy) Lookback() int {
	if s.p.VolatilityPeriod+1 > s.p.Period+1 {
		return s.p.VolatilityPeriod + 1
	}
	return s.p.Period + 1
}

func (s *EnhancedRSIStrategy) Evaluate(bars []marketdata.Bar) Signal {
	if len(bars) < s.Lookback() {
		return Hold("warmup")
	}
	c := closes(bars)
	rsi := RSI(c, s.p.Period)
	vol := StdDev(Returns(c, s.p.VolatilityPeriod), s.p.VolatilityPeriod)
	if math.IsNaN(rsi) {
		return Hold("warmup")
	}
	adj := 0.0
	if !math.IsNaN(vol) {
		// Volatility is a fraction; scale to RSI points.
		adj = vol * 100 * s.p.VolatilityFactor * 100
	}
	oversold := s.p.Oversold - adj
	overbought := s.p.Overbought + adj
	switch {
	case rsi < oversold:
		return Signal{Action: ActionBuy, Confidence: clamp01((oversold - rsi) / math.Max(oversold, 1)), Reason: fmt.Sprintf("rsi=%.2f<%.2f", rsi, oversold)}
	case rsi > overbought:
		return Signal{Action: ActionSell, Confidence: clamp01((rsi - overbought) / math.Max(100-overbought, 1)), Reason: fmt.Sprintf("rsi=%.2f>%.2f", rsi, overbought)}
	}
	return Hold(fmt.Sprintf("rsi=%.2f", rsi))
}
