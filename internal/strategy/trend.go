package strategy

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
)

type MACrossoverParams struct {
	ShortWindow int `json:"short_window"`
	LongWindow  int `json:"long_window"`
}

// MACrossover signals on the bar where the short SMA crosses the long SMA.
type MACrossover struct {
	p MACrossoverParams
}

func NewMACrossover() *MACrossover {
	return &MACrossover{p: MACrossoverParams{ShortWindow: 8, LongWindow: 21}}
}

func (s *MACrossover) Name() string { return "MovingAverageCrossover" }

func (s *MACrossover) DefaultParams() json.RawMessage { return mustJSON(NewMACrossover().p) }

func (s *MACrossover) SetParams(raw json.RawMessage) error {
	p := s.p
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	if p.ShortWindow < 1 || p.LongWindow <= p.ShortWindow {
		return fmt.Errorf("need 1 <= short_window < long_window")
	}
	s.p = p
	return nil
}

func (s *MACrossover) Lookback() int { return s.p.LongWindow + 1 }

func (s *MACrossover) Evaluate(bars []marketdata.Bar) Signal {
	if len(bars) < s.Lookback() {
		return Hold("warmup")
	}
	c := closes(bars)
	prev := c[:len(c)-1]
	shortNow, longNow := SMA(c, s.p.ShortWindow), SMA(c, s.p.LongWindow)
	shortPrev, longPrev := SMA(prev, s.p.ShortWindow), SMA(prev, s.p.LongWindow)
	if longNow == 0 {
		return Hold("flat")
	}
	spread := math.Abs(shortNow-longNow) / longNow
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		return Signal{Action: ActionBuy, Confidence: clamp01(0.5 + spread*100), Reason: "golden cross"}
	case shortPrev >= longPrev && shortNow < longNow:
		return Signal{Action: ActionSell, Confidence: clamp01(0.5 + spread*100), Reason: "death cross"}
	}
	return Hold("no cross")
}

type BollingerParams struct {
	Period int     `json:"period"`
	StdDev float64 `json:"std_dev"`
}

// Bollinger is mean reversion on closes outside the bands.
type Bollinger struct {
	p BollingerParams
}

func NewBollinger() *Bollinger {
	return &Bollinger{p: BollingerParams{Period: 20, StdDev: 2.0}}
}

func (s *Bollinger) Name() string { return "BollingerBandStrategy" }

func (s *Bollinger) DefaultParams() json.RawMessage { return mustJSON(NewBollinger().p) }

func (s *Bollinger) SetParams(raw json.RawMessage) error {
	p := s.p
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	if p.Period < 2 || p.StdDev <= 0 {
		return fmt.Errorf("need period >= 2 and std_dev > 0")
	}
	s.p = p
	return nil
}

func (s *Bollinger) Lookback() int { return s.p.Period }

func (s *Bollinger) Evaluate(bars []marketdata.Bar) Signal {
	if len(bars) < s.Lookback() {
		return Hold("warmup")
	}
	c := closes(bars)
	mid := SMA(c, s.p.Period)
	sd := StdDev(c, s.p.Period)
	if math.IsNaN(sd) || sd == 0 {
		return Hold("flat")
	}
	last := c[len(c)-1]
	upper, lower := mid+s.p.StdDev*sd, mid-s.p.StdDev*sd
	switch {
	case last < lower:
		return Signal{Action: ActionBuy, Confidence: clamp01((lower - last) / sd), Reason: "close below lower band"}
	case last > upper:
		return Signal{Action: ActionSell, Confidence: clamp01((last - upper) / sd), Reason: "close above upper band"}
	}
	return Hold("inside bands")
}

type MomentumParams struct {
	Period    int     `json:"period"`
	Threshold float64 `json:"threshold"`
}

// Momentum follows the rate of change over Period bars.
type Momentum struct {
	p MomentumParams
}

func NewMomentum() *Momentum {
	return &Momentum{p: MomentumParams{Period: 14, Threshold: 0.001}}
}

func (s *Momentum) Name() string { return "MomentumStrategy" }

func (s *Momentum) DefaultParams() json.RawMessage { return mustJSON(NewMomentum().p) }

func (s *Momentum) SetParams(raw json.RawMessage) error {
	p := s.p
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
	}
	if p.Period < 1 || p.Threshold < 0 {
		return fmt.Errorf("need period >= 1 and threshold >= 0")
	}
	s.p = p
	return nil
}

func (s *Momentum) Lookback() int { return s.p.Period + 1 }

func (s *Momentum) Evaluate(bars []marketdata.Bar) Signal {
	if len(bars) < s.Lookback() {
		return Hold("warmup")
	}
	c := closes(bars)
	base := c[len(c)-1-s.p.Period]
	if base == 0 {
		return Hold("flat")
	}
	roc := c[len(c)-1]/base - 1
	conf := 0.0
	if s.p.Threshold > 0 {
		conf = clamp01(math.Abs(roc) / (s.p.Threshold * 4))
	}
	switch {
	case roc > s.p.Threshold:
		return Signal{Action: ActionBuy, Confidence: conf, Reason: fmt.Sprintf("roc=%.4f", roc)}
	case roc < -s.p.Threshold:
		return Signal{Action: ActionSell, Confidence: conf, Reason: fmt.Sprintf("roc=%.4f", roc)}
	}
	return Hold(fmt.Sprintf("roc=%.4f", roc))
}
