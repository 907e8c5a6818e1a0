package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseCombinationKey(t *testing.T) {
	c, err := ParseCombinationKey("btcusdt:RSIStrategy:15m")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if c.Symbol != "BTCUSDT" || c.Strategy != "RSIStrategy" || c.Timeframe != "15m" {
		t.Fatalf("parsed=%+v", c)
	}
	if c.Key != "BTCUSDT:RSIStrategy:15m" {
		t.Fatalf("key=%s", c.Key)
	}
	for _, bad := range []string{"", "BTCUSDT", "BTCUSDT::15m", "a:b:c:d"} {
		if _, err := ParseCombinationKey(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDailyResult_SameContent(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	a := DailyResult{CombinationKey: "K", Date: day, Profit: decimal.RequireFromString("1.50"), TradeCount: 2, Status: DailyStatusComplete}
	b := a
	b.ID = 9
	b.Date = day.Add(13 * time.Hour)
	b.Profit = decimal.RequireFromString("1.5")
	if !a.SameContent(b) {
		t.Fatalf("expected same content")
	}
	b.TradeCount = 3
	if a.SameContent(b) {
		t.Fatalf("trade count change should differ")
	}
}
