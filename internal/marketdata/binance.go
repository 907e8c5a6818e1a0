package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

const DefaultBinanceBaseURL = "https://api.binance.com"

// BinanceClient reads klines from the public Binance REST API. No key is
// needed.
type BinanceClient struct {
	HTTP      *http.Client
	Logger    *zap.Logger
	BaseURL   string
	PageLimit int

	now func() time.Time
}

var _ Provider = (*BinanceClient)(nil)

func NewBinanceClient(baseURL string, timeout time.Duration, pageLimit int, logger *zap.Logger) *BinanceClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BinanceClient{
		HTTP:      &http.Client{Timeout: timeout},
		Logger:    logger,
		BaseURL:   baseURL,
		PageLimit: pageLimit,
	}
}

func (c *BinanceClient) GetBars(ctx context.Context, combo models.Combination, r DateRange) ([]Bar, error) {
	step, err := TimeframeDuration(combo.Timeframe)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	end := r.End()
	now := time.Now().UTC()
	if c.now != nil {
		now = c.now()
	}
	return c.fetchRange(ctx, combo.Symbol, combo.Timeframe, step, r.Start(), end, now)
}

// Recent returns the last n closed bars.
func (c *BinanceClient) Recent(ctx context.Context, symbol, timeframe string, n int) ([]Bar, error) {
	step, err := TimeframeDuration(timeframe)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 100
	}
	now := time.Now().UTC()
	if c.now != nil {
		now = c.now()
	}
	start := now.Add(-time.Duration(n+1) * step)
	bars, err := c.fetchRange(ctx, symbol, timeframe, step, start, now, now)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

func (c *BinanceClient) fetchRange(ctx context.Context, symbol, timeframe string, step time.Duration, start, end, now time.Time) ([]Bar, error) {
	limit := c.PageLimit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	out := make([]Bar, 0)
	cursor := start
	for cursor.Before(end) {
		page, err := c.fetchPage(ctx, symbol, timeframe, cursor, end, limit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			if b.OpenTime.Before(start) || !b.OpenTime.Before(end) {
				continue
			}
			// Unfinished kline.
			if !b.CloseTime.Before(now) {
				continue
			}
			out = append(out, b)
		}
		next := page[len(page)-1].OpenTime.Add(step)
		if !next.After(cursor) || len(page) < limit {
			break
		}
		cursor = next
	}
	if c.Logger != nil {
		c.Logger.Debug("binance klines fetched",
			zap.String("symbol", symbol),
			zap.String("interval", timeframe),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int("bars", len(out)),
		)
	}
	return out, nil
}

func (c *BinanceClient) fetchPage(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) ([]Bar, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBinanceBaseURL
	}
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(strings.TrimSpace(symbol)))
	q.Set("interval", timeframe)
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(limit))
	endpoint := base + "/api/v3/klines?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("binance klines http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	return parseKlineRows(rows)
}

func parseKlineRows(rows [][]json.RawMessage) ([]Bar, error) {
	out := make([]Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row %d: %d fields", i, len(row))
		}
		var openMs, closeMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}
		if err := json.Unmarshal(row[6], &closeMs); err != nil {
			return nil, fmt.Errorf("kline row %d close time: %w", i, err)
		}
		vals := make([]decimal.Decimal, 5)
		for j := 0; j < 5; j++ {
			var s string
			if err := json.Unmarshal(row[j+1], &s); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j+1, err)
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j+1, err)
			}
			vals[j] = d
		}
		out = append(out, Bar{
			OpenTime:  time.UnixMilli(openMs).UTC(),
			CloseTime: time.UnixMilli(closeMs).UTC(),
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return out, nil
}
