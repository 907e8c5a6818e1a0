// Package gate answers "may this scope place an order right now?". It fails
// closed: anything other than a fresh enabled decision is a deny.
package gate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

const (
	ReasonAllowed          = "allowed"
	ReasonReadFailed       = "read_failed"
	ReasonTimeout          = "timeout"
	ReasonNoDecision       = "no_decision"
	ReasonStaleDecision    = "stale_decision"
	ReasonFutureDecision   = "future_decision"
	ReasonDecisionDisabled = "decision_disabled"
)

// DecisionReader is satisfied by the repository and the decision cache.
type DecisionReader interface {
	LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error)
}

type Verdict struct {
	Allow     bool       `json:"allow"`
	Reason    string     `json:"reason"`
	Scope     string     `json:"scope"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

type Gate struct {
	Reader         DecisionReader
	Logger         *zap.Logger
	StalenessBound time.Duration
	ReadTimeout    time.Duration
	// ClockSkew is how far decided_at may lie ahead of the local clock.
	// Defaults to one minute.
	ClockSkew time.Duration

	now func() time.Time
}

// Check performs one bounded read. Errors are never retried here; the caller
// simply does not trade.
func (g *Gate) Check(ctx context.Context, scope string) Verdict {
	v := g.check(ctx, scope)
	if g != nil && g.Logger != nil {
		if v.Allow {
			g.Logger.Debug("gate allow", zap.String("scope", scope))
		} else {
			fields := []zap.Field{zap.String("scope", scope), zap.String("reason", v.Reason)}
			if v.DecidedAt != nil {
				fields = append(fields, zap.Time("decided_at", *v.DecidedAt))
			}
			g.Logger.Warn("gate deny", fields...)
		}
	}
	return v
}

func (g *Gate) check(ctx context.Context, scope string) Verdict {
	deny := func(reason string) Verdict { return Verdict{Scope: scope, Reason: reason} }
	if g == nil || g.Reader == nil {
		return deny(ReasonReadFailed)
	}
	timeout := g.ReadTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		d   *models.AutomationDecision
		err error
	}
	ch := make(chan result, 1)
	go func() {
		d, err := g.Reader.LatestAutomationDecision(cctx, scope)
		ch <- result{d: d, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-cctx.Done():
		return deny(ReasonTimeout)
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return deny(ReasonTimeout)
		}
		return deny(ReasonReadFailed)
	}
	if res.d == nil {
		return deny(ReasonNoDecision)
	}
	decidedAt := res.d.DecidedAt
	now := time.Now().UTC()
	if g.now != nil {
		now = g.now()
	}
	skew := g.ClockSkew
	if skew <= 0 {
		skew = time.Minute
	}
	if decidedAt.Sub(now) > skew {
		v := deny(ReasonFutureDecision)
		v.DecidedAt = &decidedAt
		return v
	}
	if g.StalenessBound > 0 && now.Sub(decidedAt) > g.StalenessBound {
		v := deny(ReasonStaleDecision)
		v.DecidedAt = &decidedAt
		return v
	}
	if !res.d.Enabled {
		v := deny(ReasonDecisionDisabled)
		v.DecidedAt = &decidedAt
		return v
	}
	return Verdict{Allow: true, Reason: ReasonAllowed, Scope: scope, DecidedAt: &decidedAt}
}
