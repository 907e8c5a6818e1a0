package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

// Bar is one closed kline.
type Bar struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// DateRange is an inclusive range of UTC calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: models.DateOnly(from), To: models.DateOnly(to)}
}

// Days lists every date in the range, oldest first.
func (r DateRange) Days() []time.Time {
	from, to := models.DateOnly(r.From), models.DateOnly(r.To)
	if to.Before(from) {
		return nil
	}
	out := make([]time.Time, 0, int(to.Sub(from).Hours()/24)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// Start is the first instant of the range.
func (r DateRange) Start() time.Time { return models.DateOnly(r.From) }

// End is the first instant after the range.
func (r DateRange) End() time.Time { return models.DateOnly(r.To).AddDate(0, 0, 1) }

// Provider supplies historical bars for a combination. Implementations must
// only return closed bars whose open time falls inside the range.
type Provider interface {
	GetBars(ctx context.Context, c models.Combination, r DateRange) ([]Bar, error)
}

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

func TimeframeDuration(tf string) (time.Duration, error) {
	d, ok := timeframes[strings.TrimSpace(tf)]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
	return d, nil
}

// BarsPerDay is the number of bars a complete UTC day holds.
func BarsPerDay(tf string) (int, error) {
	d, err := TimeframeDuration(tf)
	if err != nil {
		return 0, err
	}
	return int((24 * time.Hour) / d), nil
}
