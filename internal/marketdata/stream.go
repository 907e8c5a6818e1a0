package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

const DefaultBinanceStreamURL = "wss://stream.binance.com:9443/ws"

type KlineStreamOptions struct {
	URL        string
	Symbol     string
	Interval   string
	BackoffMin time.Duration
	BackoffMax time.Duration
	// ReadTimeout closes a silent connection; Binance pushes kline updates
	// every couple of seconds.
	ReadTimeout time.Duration
	Logger      *zap.Logger
}

// KlineStream follows the Binance kline stream of one symbol and reconnects
// with backoff until ctx is done.
type KlineStream struct {
	opts KlineStreamOptions
}

func NewKlineStream(opts KlineStreamOptions) *KlineStream {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultBinanceStreamURL
	}
	if opts.BackoffMin == 0 {
		opts.BackoffMin = time.Second
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = time.Minute
	}
	return &KlineStream{opts: opts}
}

func (s *KlineStream) endpoint() string {
	return strings.TrimRight(s.opts.URL, "/") + "/" + strings.ToLower(strings.TrimSpace(s.opts.Symbol)) + "@kline_" + s.opts.Interval
}

// Run delivers closed bars to onBar. It returns ctx.Err() on cancellation.
func (s *KlineStream) Run(ctx context.Context, onBar func(Bar)) error {
	if s == nil {
		return fmt.Errorf("stream is nil")
	}
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, onBar)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			failures = 0
			continue
		}
		failures++
		wait := retry.Backoff(failures, s.opts.BackoffMin, s.opts.BackoffMax)
		if s.opts.Logger != nil {
			s.opts.Logger.Warn("kline stream dropped",
				zap.String("symbol", s.opts.Symbol),
				zap.Int("failures", failures),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}
		if err := retry.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *KlineStream) consume(ctx context.Context, onBar func(Bar)) error {
	conn, _, err := websocket.Dial(ctx, s.endpoint(), nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()
	if s.opts.Logger != nil {
		s.opts.Logger.Info("kline stream connected", zap.String("endpoint", s.endpoint()))
	}
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
		_, msg, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("read: %w", err)
		}
		bar, closed, err := parseKlineEvent(msg)
		if err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Debug("kline event ignored", zap.Error(err))
			}
			continue
		}
		if closed && onBar != nil {
			onBar(bar)
		}
	}
}

// klineEvent declares every key Binance sends. encoding/json falls back to a
// case-insensitive match, so an undeclared "E", "L" or "V" would land on
// "e", "l" or "v".
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime      int64  `json:"t"`
		CloseTime     int64  `json:"T"`
		Symbol        string `json:"s"`
		Interval      string `json:"i"`
		FirstTradeID  int64  `json:"f"`
		LastTradeID   int64  `json:"L"`
		Open          string `json:"o"`
		Close         string `json:"c"`
		High          string `json:"h"`
		Low           string `json:"l"`
		Volume        string `json:"v"`
		Trades        int64  `json:"n"`
		Closed        bool   `json:"x"`
		QuoteVolume   string `json:"q"`
		TakerBuyBase  string `json:"V"`
		TakerBuyQuote string `json:"Q"`
		Ignore        string `json:"B"`
	} `json:"k"`
}

func parseKlineEvent(raw []byte) (Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Bar{}, false, err
	}
	if ev.EventType != "kline" {
		return Bar{}, false, fmt.Errorf("unexpected event %q", ev.EventType)
	}
	k := ev.Kline
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	vals := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return Bar{}, false, err
		}
		vals[i] = d
	}
	return Bar{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, k.Closed, nil
}
