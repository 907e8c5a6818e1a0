package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
)

func TestUpsertDailyResult_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	row := &models.DailyResult{CombinationKey: "BTCUSDT:RSIStrategy:15m", Date: day, Profit: decimal.NewFromInt(3), TradeCount: 2, Status: models.DailyStatusComplete}
	if err := s.UpsertDailyResult(ctx, row); err != nil {
		t.Fatalf("upsert err=%v", err)
	}
	again := *row
	again.Profit = decimal.NewFromInt(4)
	if err := s.UpsertDailyResult(ctx, &again); err != nil {
		t.Fatalf("upsert err=%v", err)
	}
	items, _ := s.ListDailyResults(ctx, repository.ListDailyResultsParams{})
	if len(items) != 1 {
		t.Fatalf("rows=%d want=1", len(items))
	}
	if !items[0].Profit.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("profit=%s want=4", items[0].Profit)
	}
	if !items[0].Date.Equal(models.DateOnly(day)) {
		t.Fatalf("date=%v not truncated", items[0].Date)
	}
}

func TestAppendAutomationDecision_DedupAndLatest(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_ = s.AppendAutomationDecision(ctx, &models.AutomationDecision{Scope: "A", DecidedAt: t0, Enabled: false})
	_ = s.AppendAutomationDecision(ctx, &models.AutomationDecision{Scope: "A", DecidedAt: t0, Enabled: true})
	_ = s.AppendAutomationDecision(ctx, &models.AutomationDecision{Scope: "A", DecidedAt: t0.Add(time.Hour), Enabled: true})
	_ = s.AppendAutomationDecision(ctx, &models.AutomationDecision{Scope: "B", DecidedAt: t0.Add(2 * time.Hour), Enabled: false})

	scope := "A"
	items, _ := s.ListAutomationDecisions(ctx, repository.ListDecisionsParams{Scope: &scope})
	if len(items) != 2 {
		t.Fatalf("decisions=%d want=2", len(items))
	}
	latest, _ := s.LatestAutomationDecision(ctx, "A")
	if latest == nil || !latest.Enabled || !latest.DecidedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("latest=%+v", latest)
	}
	if none, _ := s.LatestAutomationDecision(ctx, "C"); none != nil {
		t.Fatalf("expected nil for unknown scope")
	}
}

func TestListSystemSettings_Prefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"override.global", "override.scope.X", "hold.scope.X"} {
		_ = s.UpsertSystemSetting(ctx, &models.SystemSetting{Key: k, Value: []byte("true")})
	}
	prefix := "override."
	items, _ := s.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix})
	if len(items) != 2 {
		t.Fatalf("settings=%d want=2", len(items))
	}
}
