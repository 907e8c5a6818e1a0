package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

func TestDateRange_Days(t *testing.T) {
	r := NewDateRange(time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC))
	days := r.Days()
	if len(days) != 4 {
		t.Fatalf("days=%d want=4", len(days))
	}
	if !days[3].Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("last=%v", days[3])
	}
	if !r.End().Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end=%v", r.End())
	}
}

func TestBarsPerDay(t *testing.T) {
	if n, _ := BarsPerDay("15m"); n != 96 {
		t.Fatalf("15m bars=%d want=96", n)
	}
	if n, _ := BarsPerDay("4h"); n != 6 {
		t.Fatalf("4h bars=%d want=6", n)
	}
	if _, err := BarsPerDay("7m"); err == nil {
		t.Fatalf("expected error for unsupported timeframe")
	}
}

func TestBinanceClient_GetBarsPaginates(t *testing.T) {
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	step := time.Hour
	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		start, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
		rows := make([]string, 0, limit)
		for ts := start; ts <= end && len(rows) < limit; ts += step.Milliseconds() {
			rows = append(rows, fmt.Sprintf(`[%d,"1.0","2.0","0.5","1.5","10",%d,"0",1,"0","0","0"]`, ts, ts+step.Milliseconds()-1))
		}
		_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, time.Second, 10, nil)
	c.now = func() time.Time { return day.AddDate(0, 0, 2) }
	bars, err := c.GetBars(context.Background(), models.NewCombination("BTCUSDT", "RSIStrategy", "1h"), NewDateRange(day, day))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(bars) != 24 {
		t.Fatalf("bars=%d want=24", len(bars))
	}
	if pages != 3 {
		t.Fatalf("pages=%d want=3", pages)
	}
	if !bars[0].OpenTime.Equal(day) || bars[0].Close.String() != "1.5" {
		t.Fatalf("first bar=%+v", bars[0])
	}
}

func TestBinanceClient_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewBinanceClient(srv.URL, time.Second, 10, nil)
	day := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.GetBars(context.Background(), models.NewCombination("NOPE", "RSIStrategy", "1h"), NewDateRange(day, day))
	if err == nil || !retry.IsPermanent(err) {
		t.Fatalf("err=%v want permanent", err)
	}
}

func TestParseKlineEvent(t *testing.T) {
	raw := []byte(`{
		"e": "kline",
		"E": 1700000900001,
		"s": "BTCUSDT",
		"k": {
			"t": 1700000000000,
			"T": 1700000899999,
			"s": "BTCUSDT",
			"i": "15m",
			"f": 100,
			"L": 200,
			"o": "1",
			"c": "1.25",
			"h": "2",
			"l": "0.5",
			"v": "3",
			"n": 101,
			"x": true,
			"q": "3.4",
			"V": "1.5",
			"Q": "1.7",
			"B": "0"
		}
	}`)
	bar, closed, err := parseKlineEvent(raw)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !closed || bar.Close.String() != "1.25" {
		t.Fatalf("bar=%+v closed=%v", bar, closed)
	}
	if bar.Low.String() != "0.5" || bar.Volume.String() != "3" {
		t.Fatalf("low=%s volume=%s want 0.5 and 3", bar.Low, bar.Volume)
	}
	if !bar.OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("open_time=%s", bar.OpenTime)
	}
	if _, _, err := parseKlineEvent([]byte(`{"e":"trade"}`)); err == nil {
		t.Fatalf("expected error for non-kline event")
	}
}
