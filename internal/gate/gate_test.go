package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

type stubReader struct {
	d     *models.AutomationDecision
	err   error
	block bool
}

func (r stubReader) LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.d, r.err
}

var now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newGate(r DecisionReader) *Gate {
	return &Gate{Reader: r, StalenessBound: 48 * time.Hour, ReadTimeout: 20 * time.Millisecond, now: func() time.Time { return now }}
}

func TestCheck_AllowsFreshEnabled(t *testing.T) {
	g := newGate(stubReader{d: &models.AutomationDecision{Scope: "S", Enabled: true, DecidedAt: now.Add(-time.Hour)}})
	v := g.Check(context.Background(), "S")
	if !v.Allow || v.Reason != ReasonAllowed {
		t.Fatalf("verdict=%+v want allow", v)
	}
}

func TestCheck_DenyReasons(t *testing.T) {
	cases := map[string]DecisionReader{
		ReasonReadFailed:       stubReader{err: errors.New("connection refused")},
		ReasonTimeout:          stubReader{block: true},
		ReasonNoDecision:       stubReader{},
		ReasonStaleDecision:    stubReader{d: &models.AutomationDecision{Enabled: true, DecidedAt: now.Add(-49 * time.Hour)}},
		ReasonFutureDecision:   stubReader{d: &models.AutomationDecision{Enabled: true, DecidedAt: now.Add(10 * time.Minute)}},
		ReasonDecisionDisabled: stubReader{d: &models.AutomationDecision{Enabled: false, DecidedAt: now.Add(-time.Hour)}},
	}
	for want, reader := range cases {
		v := newGate(reader).Check(context.Background(), "S")
		if v.Allow {
			t.Fatalf("%s: expected deny", want)
		}
		if v.Reason != want {
			t.Fatalf("reason=%s want=%s", v.Reason, want)
		}
	}
}

func TestCheck_SmallClockSkewAllowed(t *testing.T) {
	g := newGate(stubReader{d: &models.AutomationDecision{Scope: "S", Enabled: true, DecidedAt: now.Add(20 * time.Second)}})
	if v := g.Check(context.Background(), "S"); !v.Allow {
		t.Fatalf("verdict=%+v want allow within skew", v)
	}
}

func TestCheck_NilReaderDenies(t *testing.T) {
	var g *Gate
	if v := g.Check(context.Background(), "S"); v.Allow || v.Reason != ReasonReadFailed {
		t.Fatalf("verdict=%+v", v)
	}
}
