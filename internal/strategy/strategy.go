package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is a strategy's view of the most recent bar.
type Signal struct {
	Action     Action
	Confidence float64
	Reason     string
}

func Hold(reason string) Signal {
	return Signal{Action: ActionHold, Reason: reason}
}

// Strategy maps a bar history (oldest first, newest last) to a signal.
// Evaluate must be pure: the same bars give the same signal.
type Strategy interface {
	Name() string
	DefaultParams() json.RawMessage
	SetParams(raw json.RawMessage) error
	// Lookback is the number of bars Evaluate needs for a non-HOLD signal.
	Lookback() int
	Evaluate(bars []marketdata.Bar) Signal
}

var ErrUnknownStrategy = errors.New("unknown strategy")

var registry = map[string]func() Strategy{
	"RSIStrategy":            func() Strategy { return NewRSI() },
	"EnhancedRSIStrategy":    func() Strategy { return NewEnhancedRSI() },
	"MovingAverageCrossover": func() Strategy { return NewMACrossover() },
	"BollingerBandStrategy":  func() Strategy { return NewBollinger() },
	"MomentumStrategy":       func() Strategy { return NewMomentum() },
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds a registered strategy with its defaults overlaid by the
// configured parameters for that name.
func New(name string, defaults map[string]any) (Strategy, error) {
	ctor, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	s := ctor()
	params := mergeParams(s, defaults, s.Name())
	if err := s.SetParams(params); err != nil {
		return nil, fmt.Errorf("strategy %s params: %w", name, err)
	}
	return s, nil
}

func mergeParams(s Strategy, defaults map[string]any, name string) json.RawMessage {
	base := map[string]any{}
	if s != nil {
		_ = json.Unmarshal(s.DefaultParams(), &base)
	}
	if raw, ok := lookupDefaults(defaults, name); ok {
		if m, ok := raw.(map[string]any); ok {
			for k, v := range m {
				if strings.EqualFold(k, "enabled") {
					continue
				}
				base[strings.ToLower(k)] = v
			}
		}
	}
	raw, err := json.Marshal(base)
	if err != nil && s != nil {
		return s.DefaultParams()
	}
	return raw
}

// viper lower-cases map keys, so the strategy name is matched both ways.
func lookupDefaults(defaults map[string]any, name string) (any, bool) {
	if v, ok := defaults[name]; ok {
		return v, true
	}
	v, ok := defaults[strings.ToLower(name)]
	return v, ok
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

func closes(bars []marketdata.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close.InexactFloat64()
	}
	return out
}
