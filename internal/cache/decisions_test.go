package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

func TestDecisionCache_PublishKeepsNewest(t *testing.T) {
	ctx := context.Background()
	c := &DecisionCache{Store: NewMemoryStore(), Prefix: "t:", TTL: time.Hour}
	t0 := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	if err := c.Publish(ctx, &models.AutomationDecision{Scope: "S", DecidedAt: t0.Add(time.Hour), Enabled: true}); err != nil {
		t.Fatalf("publish err=%v", err)
	}
	if err := c.Publish(ctx, &models.AutomationDecision{Scope: "S", DecidedAt: t0, Enabled: false}); err != nil {
		t.Fatalf("publish err=%v", err)
	}
	got, err := c.LatestAutomationDecision(ctx, "S")
	if err != nil {
		t.Fatalf("read err=%v", err)
	}
	if got == nil || !got.Enabled || !got.DecidedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("latest=%+v", got)
	}
	if none, err := c.LatestAutomationDecision(ctx, "other"); err != nil || none != nil {
		t.Fatalf("missing scope=%+v err=%v", none, err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatalf("expected expired key")
	}
}
