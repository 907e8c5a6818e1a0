// Package controller runs the automation loop: per scope it turns streak
// state, overrides and holds into a committed enabled/disabled decision,
// drives the supervisor, and appends the decision to the audit trail.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
	"github.com/jamesmarlowww/tradingbot/internal/service"
	"github.com/jamesmarlowww/tradingbot/internal/streak"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
)

// ErrShuttingDown is returned by Trigger once the loop is stopping.
var ErrShuttingDown = errors.New("controller shutting down")

const (
	ActionNone     = "none"
	ActionPending  = "pending"
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionBlocked  = "blocked_degraded"
	ActionFailed   = "failed"
	ReasonOverride = "emergency_override=true"
	ReasonHold     = "operator_hold=true"
)

type Supervisor interface {
	Start(ctx context.Context, scope, botType string) error
	Stop(ctx context.Context, scope string) error
	Status(scope string) (supervisor.WorkerProcess, bool)
	StopAll(ctx context.Context) error
}

type SwitchReader interface {
	Snapshot(ctx context.Context) (service.Switches, error)
}

type Publisher interface {
	Publish(ctx context.Context, d *models.AutomationDecision) error
}

// ScopeOutcome is what one cycle did for one scope.
type ScopeOutcome struct {
	Scope        string `json:"scope"`
	Desired      bool   `json:"desired"`
	Enabled      bool   `json:"enabled"`
	Streak       int    `json:"streak"`
	Reason       string `json:"reason"`
	Action       string `json:"action"`
	WorkerStatus string `json:"worker_status"`
	Error        string `json:"error,omitempty"`
}

type Report struct {
	Source     string         `json:"source"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Reloaded   bool           `json:"reloaded"`
	Scopes     []ScopeOutcome `json:"scopes"`
	Failed     int            `json:"failed"`
}

type progress struct {
	desired bool
	cycles  int
}

type Controller struct {
	Repo       repository.Repository
	Supervisor Supervisor
	Switches   SwitchReader
	// Cache is optional; decisions are published after they are persisted.
	Cache  Publisher
	Logger *zap.Logger

	mu       sync.Mutex
	settings Settings
	pending  *Settings
	progress map[string]progress
	base     context.Context

	cycleMu sync.Mutex
	closing atomic.Bool
	now     func() time.Time
}

func New(repo repository.Repository, sup Supervisor, switches SwitchReader, settings Settings, logger *zap.Logger) *Controller {
	return &Controller{
		Repo:       repo,
		Supervisor: sup,
		Switches:   switches,
		Logger:     logger,
		settings:   settings,
		progress:   map[string]progress{},
	}
}

func (c *Controller) clock() time.Time {
	if c.now != nil {
		return c.now().UTC()
	}
	return time.Now().UTC()
}

func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Reload stages settings for the next cycle start.
func (c *Controller) Reload(s Settings) {
	c.mu.Lock()
	c.pending = &s
	c.mu.Unlock()
	if c.Logger != nil {
		c.Logger.Info("controller settings staged", zap.Int("scopes", len(s.Scopes)))
	}
}

// Run cycles once immediately and then on every interval until ctx is done.
// On cancellation an in-flight cycle gets ShutdownGrace to finish before it
// is abandoned, then every worker is stopped.
func (c *Controller) Run(ctx context.Context) error {
	if c == nil || c.Repo == nil {
		return nil
	}
	base, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()
	c.mu.Lock()
	c.base = base
	c.mu.Unlock()

	interval := c.Settings().EvaluationInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := c.cycle(base, models.DecisionSourceTimer); err != nil && !errors.Is(err, ErrShuttingDown) && c.Logger != nil {
				c.Logger.Warn("automation cycle failed", zap.Error(err))
			}
		}()
		select {
		case <-ctx.Done():
			c.shutdown(abandon)
			return ctx.Err()
		case <-done:
		}

		if next := c.Settings().EvaluationInterval; next > 0 && next != interval {
			interval = next
			ticker.Reset(interval)
		}
		select {
		case <-ctx.Done():
			c.shutdown(abandon)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Trigger runs a manual cycle and returns its report. It waits for an
// in-flight cycle to finish first.
func (c *Controller) Trigger(ctx context.Context, source string) (Report, error) {
	if c == nil {
		return Report{}, fmt.Errorf("controller not configured")
	}
	if source == "" {
		source = models.DecisionSourceManual
	}
	c.mu.Lock()
	base := c.base
	c.mu.Unlock()
	if base == nil {
		base = ctx
	}
	type result struct {
		r   Report
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := c.cycle(base, source)
		ch <- result{r, err}
	}()
	select {
	case res := <-ch:
		return res.r, res.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

func (c *Controller) shutdown(abandon context.CancelFunc) {
	c.closing.Store(true)
	grace := c.Settings().ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	idle := make(chan struct{})
	go func() {
		c.cycleMu.Lock()
		close(idle)
		c.cycleMu.Unlock()
	}()
	select {
	case <-idle:
	case <-time.After(grace):
		if c.Logger != nil {
			c.Logger.Warn("abandoning in-flight cycle", zap.Duration("grace", grace))
		}
		abandon()
		select {
		case <-idle:
		case <-time.After(5 * time.Second):
		}
	}
	abandon()

	if c.Supervisor == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	defer cancel()
	if err := c.Supervisor.StopAll(stopCtx); err != nil && c.Logger != nil {
		c.Logger.Warn("stop workers on shutdown failed", zap.Error(err))
	}
	if c.Logger != nil {
		c.Logger.Info("controller stopped")
	}
}

func (c *Controller) applyPending() (Settings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return c.settings, false
	}
	c.settings = *c.pending
	c.pending = nil
	for scope := range c.progress {
		if _, ok := c.settings.Scope(scope); !ok {
			delete(c.progress, scope)
		}
	}
	return c.settings, true
}

func (c *Controller) cycle(ctx context.Context, source string) (Report, error) {
	if c.closing.Load() {
		return Report{}, ErrShuttingDown
	}
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	if c.closing.Load() {
		return Report{}, ErrShuttingDown
	}

	settings, reloaded := c.applyPending()
	started := c.clock().Truncate(time.Microsecond)
	report := Report{Source: source, StartedAt: started, Reloaded: reloaded}
	if reloaded && c.Logger != nil {
		c.Logger.Info("controller settings applied",
			zap.Int("required_positive_days", settings.RequiredPositiveDays),
			zap.String("min_profit_threshold", settings.MinProfitThreshold.String()),
			zap.String("skipped_day_policy", string(settings.Policy)),
			zap.Int("hysteresis_cycles", settings.HysteresisCycles),
			zap.Bool("emergency_override", settings.EmergencyOverride),
			zap.Int("scopes", len(settings.Scopes)),
		)
	}

	var switches service.Switches
	if c.Switches != nil {
		err := retry.Do(ctx, settings.Persist, func(ctx context.Context) error {
			var err error
			switches, err = c.Switches.Snapshot(ctx)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("read switches: %w", err)
		}
	}

	for _, scope := range settings.Scopes {
		if ctx.Err() != nil {
			break
		}
		out, err := c.processScopeSafe(ctx, settings, switches, scope, source, started)
		if err != nil {
			out.Error = err.Error()
			report.Failed++
			if c.Logger != nil {
				c.Logger.Error("scope cycle failed", zap.String("scope", scope.Name), zap.Error(err))
			}
		}
		report.Scopes = append(report.Scopes, out)
	}
	report.FinishedAt = c.clock()
	if c.Logger != nil {
		c.Logger.Info("automation cycle done",
			zap.String("source", source),
			zap.Int("scopes", len(report.Scopes)),
			zap.Int("failed", report.Failed),
			zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
		)
	}
	return report, ctx.Err()
}

func (c *Controller) processScopeSafe(ctx context.Context, settings Settings, sw service.Switches, scope Scope, source string, decidedAt time.Time) (out ScopeOutcome, err error) {
	out = ScopeOutcome{Scope: scope.Name, Action: ActionNone}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	timeout := settings.ScopeTimeout
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.processScope(sctx, settings, sw, scope, source, decidedAt)
}

func (c *Controller) processScope(ctx context.Context, settings Settings, sw service.Switches, scope Scope, source string, decidedAt time.Time) (ScopeOutcome, error) {
	out := ScopeOutcome{Scope: scope.Name, Action: ActionNone}
	override := settings.EmergencyOverride || sw.OverrideFor(scope.Name)
	hold := sw.HeldFor(scope.Name)
	immediate := override || hold

	switch {
	case override:
		out.Desired = true
		out.Reason = ReasonOverride
		if st, err := c.Repo.ReadStreakState(ctx, scope.Name); err == nil && st != nil {
			out.Streak = st.CurrentStreak
		}
	case hold:
		out.Desired = false
		out.Reason = ReasonHold
		if st, err := c.Repo.ReadStreakState(ctx, scope.Name); err == nil && st != nil {
			out.Streak = st.CurrentStreak
		}
	default:
		state, err := c.track(ctx, settings, scope)
		if err != nil {
			return out, err
		}
		out.Streak = state.CurrentStreak
		out.Desired = state.Enabled
		if state.Enabled {
			out.Reason = fmt.Sprintf("streak=%d >= required=%d", state.CurrentStreak, settings.RequiredPositiveDays)
		} else {
			out.Reason = fmt.Sprintf("streak=%d < required=%d", state.CurrentStreak, settings.RequiredPositiveDays)
		}
	}

	var proc supervisor.WorkerProcess
	if c.Supervisor != nil {
		proc, _ = c.Supervisor.Status(scope.Name)
	}
	out.WorkerStatus = string(proc.Status)
	running := proc.Running()

	var pending int
	out.Enabled, out.Action, pending = c.resolve(scope.Name, out.Desired, running, immediate, settings.HysteresisCycles)
	if out.Action == ActionStart && proc.Status == supervisor.StatusDegraded {
		out.Action = ActionBlocked
		out.Reason += "; worker degraded, operator resume required"
	}

	var actErr error
	if c.Supervisor != nil {
		switch out.Action {
		case ActionStart:
			actErr = c.Supervisor.Start(ctx, scope.Name, scope.BotType)
		case ActionStop:
			actErr = c.Supervisor.Stop(ctx, scope.Name)
		}
	}
	if actErr != nil {
		out.Reason += "; " + out.Action + " failed: " + actErr.Error()
		out.Action = ActionFailed
	}
	if c.Supervisor != nil {
		proc, _ = c.Supervisor.Status(scope.Name)
		out.WorkerStatus = string(proc.Status)
	}

	details, _ := json.Marshal(map[string]any{
		"required_positive_days": settings.RequiredPositiveDays,
		"min_profit_threshold":   settings.MinProfitThreshold.String(),
		"skipped_day_policy":     string(settings.Policy),
		"emergency_override":     override,
		"operator_hold":          hold,
		"hysteresis_cycles":      settings.HysteresisCycles,
		"hysteresis_progress":    pending,
		"desired":                out.Desired,
		"worker_status":          out.WorkerStatus,
		"bot_type":               scope.BotType,
	})
	decision := &models.AutomationDecision{
		Scope:            scope.Name,
		DecidedAt:        decidedAt,
		Enabled:          out.Enabled,
		TriggeringStreak: out.Streak,
		Reason:           out.Reason,
		Source:           source,
		Action:           out.Action,
		Details:          datatypes.JSON(details),
	}
	if err := retry.Do(ctx, settings.Persist, func(ctx context.Context) error {
		return c.Repo.AppendAutomationDecision(ctx, decision)
	}); err != nil {
		return out, fmt.Errorf("append decision: %w", err)
	}
	if c.Cache != nil {
		if err := c.Cache.Publish(ctx, decision); err != nil && c.Logger != nil {
			c.Logger.Warn("publish decision failed", zap.String("scope", scope.Name), zap.Error(err))
		}
	}
	if c.Logger != nil {
		c.Logger.Info("automation decision",
			zap.String("scope", scope.Name),
			zap.Bool("enabled", out.Enabled),
			zap.Bool("desired", out.Desired),
			zap.Int("streak", out.Streak),
			zap.String("action", out.Action),
			zap.String("reason", out.Reason),
		)
	}
	if actErr != nil {
		return out, actErr
	}
	return out, nil
}

// resolve applies hysteresis. Overrides and holds act at once; otherwise a
// change must be wanted on HysteresisCycles consecutive cycles. The returned
// enabled value is the committed one.
func (c *Controller) resolve(scope string, desired, running, immediate bool, cycles int) (enabled bool, action string, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desired == running {
		delete(c.progress, scope)
		return desired, ActionNone, 0
	}
	if !immediate && cycles > 1 {
		p := c.progress[scope]
		if p.desired != desired || p.cycles == 0 {
			p = progress{desired: desired}
		}
		p.cycles++
		c.progress[scope] = p
		if p.cycles < cycles {
			return running, ActionPending, p.cycles
		}
	}
	delete(c.progress, scope)
	if desired {
		return true, ActionStart, 0
	}
	return false, ActionStop, 0
}

// track recomputes and stores the scope's StreakState from its history.
func (c *Controller) track(ctx context.Context, settings Settings, scope Scope) (models.StreakState, error) {
	since := c.clock().AddDate(0, 0, -settings.LookbackDays)
	var rows []models.DailyResult
	err := retry.Do(ctx, settings.Persist, func(ctx context.Context) error {
		var err error
		rows, err = c.Repo.ListDailyResults(ctx, repository.ListDailyResultsParams{
			CombinationKeys: scope.Members,
			Since:           &since,
			Limit:           (settings.LookbackDays + 2) * len(scope.Members),
		})
		return err
	})
	if err != nil {
		return models.StreakState{}, fmt.Errorf("read history: %w", err)
	}
	if scope.Group() {
		members := make(map[string][]models.DailyResult, len(scope.Members))
		for _, m := range scope.Members {
			members[m] = nil
		}
		for _, r := range rows {
			members[r.CombinationKey] = append(members[r.CombinationKey], r)
		}
		rows = streak.Aggregate(scope.Name, members)
	}
	params := settings.StreakParams()
	params.AsOf = models.DateOnly(c.clock()).AddDate(0, 0, -1)
	state := streak.Evaluate(scope.Name, rows, params, false)
	if err := retry.Do(ctx, settings.Persist, func(ctx context.Context) error {
		return c.Repo.WriteStreakState(ctx, &state)
	}); err != nil {
		return state, fmt.Errorf("write streak state: %w", err)
	}
	return state, nil
}
