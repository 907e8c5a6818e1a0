// Package supervisor owns the lifecycle of one execution worker per scope:
// start, graceful stop, heartbeat monitoring and restart with backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
)

type Status string

const (
	StatusStarting Status = "STARTING"
	StatusActive   Status = "ACTIVE"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
	StatusDegraded Status = "DEGRADED"
)

// ErrDegraded is returned by Start when the scope needs an operator reset.
var ErrDegraded = errors.New("worker degraded")

type Config struct {
	StartTimeout     time.Duration
	GracePeriod      time.Duration
	HeartbeatTimeout time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	MaxFailures      int
	MaxRestarts      int
	StableAfter      time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 15 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 45 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.StableAfter <= 0 {
		c.StableAfter = 10 * time.Minute
	}
	return c
}

// ConfigFrom maps the supervisor section of the daemon config.
func ConfigFrom(c config.SupervisorConfig) Config {
	return Config{
		StartTimeout:     c.StartTimeout,
		GracePeriod:      c.GracePeriod,
		HeartbeatTimeout: c.HeartbeatTimeout,
		BaseBackoff:      c.BaseBackoff,
		MaxBackoff:       c.MaxBackoff,
		MaxFailures:      c.MaxFailures,
		MaxRestarts:      c.MaxRestarts,
		StableAfter:      c.StableAfter,
	}
}

// StartBudget is the longest a single Start can take: MaxFailures attempts of
// StartTimeout each plus the backoff between them.
func (c Config) StartBudget() time.Duration {
	c = c.withDefaults()
	total := time.Duration(c.MaxFailures) * c.StartTimeout
	for n := 1; n < c.MaxFailures; n++ {
		total += retry.Backoff(n, c.BaseBackoff, c.MaxBackoff)
	}
	return total
}

// WorkerProcess is the supervisor's view of a scope's worker.
type WorkerProcess struct {
	Scope         string     `json:"scope"`
	BotType       string     `json:"bot_type"`
	Status        Status     `json:"status"`
	InstanceID    string     `json:"instance_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	RestartCount  int        `json:"restart_count"`
	LastError     string     `json:"last_error,omitempty"`
}

func (p WorkerProcess) Running() bool {
	return p.Status == StatusStarting || p.Status == StatusActive
}

type Notifier interface {
	Notify(ctx context.Context, level, message string, fields map[string]any)
}

type Supervisor struct {
	Launcher Launcher
	Repo     repository.Repository
	Notifier Notifier
	Logger   *zap.Logger
	Config   Config

	mu     sync.Mutex
	scopes map[string]*scopeState
}

type scopeState struct {
	// op serializes start, stop, reset and restart for the scope.
	op sync.Mutex

	mu     sync.Mutex
	proc   WorkerProcess
	handle Handle
	// gen changes whenever an instance is launched or the scope is stopped;
	// monitors of an older generation give up.
	gen    uint64
	cancel context.CancelFunc
	loaded bool
	// spawnFailures counts consecutive failed starts across Start calls,
	// including attempts cut short by the caller's deadline.
	spawnFailures int
}

func New(launcher Launcher, repo repository.Repository, cfg Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		Launcher: launcher,
		Repo:     repo,
		Logger:   logger,
		Config:   cfg.withDefaults(),
		scopes:   map[string]*scopeState{},
	}
}

func (s *Supervisor) state(scope string) *scopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scopes == nil {
		s.scopes = map[string]*scopeState{}
	}
	st, ok := s.scopes[scope]
	if !ok {
		st = &scopeState{proc: WorkerProcess{Scope: scope, Status: StatusStopped}}
		s.scopes[scope] = st
	}
	return st
}

func (s *Supervisor) lookup(scope string) *scopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopes[scope]
}

// Start launches the scope's worker and waits for its first heartbeat. It is a
// no-op while the worker is STARTING or ACTIVE.
func (s *Supervisor) Start(ctx context.Context, scope, botType string) error {
	if s == nil || s.Launcher == nil {
		return fmt.Errorf("supervisor not configured")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return fmt.Errorf("scope required")
	}
	cfg := s.Config.withDefaults()
	st := s.state(scope)
	st.op.Lock()
	defer st.op.Unlock()

	s.loadRestarts(ctx, st, cfg)

	st.mu.Lock()
	status := st.proc.Status
	st.mu.Unlock()
	switch status {
	case StatusStarting, StatusActive:
		return nil
	case StatusDegraded:
		return ErrDegraded
	}

	lifeCtx, cancel := context.WithCancel(context.Background())
	st.mu.Lock()
	st.proc.BotType = botType
	st.cancel = cancel
	st.mu.Unlock()
	s.transition(st, StatusStarting, "start requested")

	for {
		err := s.launch(ctx, lifeCtx, st, cfg)
		if err == nil {
			return nil
		}
		st.mu.Lock()
		st.spawnFailures++
		failures := st.spawnFailures
		st.proc.LastError = err.Error()
		st.mu.Unlock()
		if s.Logger != nil {
			s.Logger.Warn("worker spawn failed",
				zap.String("scope", scope),
				zap.Int("failures", failures),
				zap.Error(err),
			)
		}
		if failures >= cfg.MaxFailures {
			s.degrade(st, fmt.Sprintf("spawn failed %d times: %v", failures, err))
			return fmt.Errorf("%w: %v", ErrDegraded, err)
		}
		if ctx.Err() != nil {
			cancel()
			s.transition(st, StatusStopped, "start abandoned: "+ctx.Err().Error())
			return ctx.Err()
		}
		if serr := retry.Sleep(ctx, retry.Backoff(failures, cfg.BaseBackoff, cfg.MaxBackoff)); serr != nil {
			cancel()
			s.transition(st, StatusStopped, "start abandoned: "+serr.Error())
			return serr
		}
	}
}

// launch spawns one instance and waits for its first heartbeat. Caller holds
// st.op.
func (s *Supervisor) launch(ctx, lifeCtx context.Context, st *scopeState, cfg Config) error {
	id := uuid.NewString()
	st.mu.Lock()
	spec := Spec{Scope: st.proc.Scope, BotType: st.proc.BotType, InstanceID: id}
	st.mu.Unlock()

	lctx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	h, err := s.Launcher.Launch(lctx, spec)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	select {
	case <-h.Heartbeats():
	case <-h.Done():
		// A beat that raced the exit still counts as a start; the monitor
		// then handles the exit as a crash.
		select {
		case <-h.Heartbeats():
		default:
			return fmt.Errorf("exited before first heartbeat: %v", h.Err())
		}
	case <-lctx.Done():
		s.kill(h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("no heartbeat within %s", cfg.StartTimeout)
	}

	now := time.Now().UTC()
	st.mu.Lock()
	st.gen++
	gen := st.gen
	st.handle = h
	st.proc.InstanceID = id
	st.proc.StartedAt = &now
	st.proc.LastHeartbeat = &now
	st.proc.LastError = ""
	st.spawnFailures = 0
	st.mu.Unlock()
	s.transition(st, StatusActive, "first heartbeat")

	go s.monitor(lifeCtx, st, h, gen, cfg)
	return nil
}

func (s *Supervisor) monitor(lifeCtx context.Context, st *scopeState, h Handle, gen uint64, cfg Config) {
	interval := cfg.HeartbeatTimeout / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-lifeCtx.Done():
			return
		case at := <-h.Heartbeats():
			s.onHeartbeat(st, gen, at.UTC(), cfg)
		case <-h.Done():
			s.restart(lifeCtx, st, gen, fmt.Sprintf("worker exited: %v", h.Err()), cfg)
			return
		case <-t.C:
			st.mu.Lock()
			stale := st.gen != gen
			last := st.proc.LastHeartbeat
			st.mu.Unlock()
			if stale {
				return
			}
			if last != nil && time.Since(*last) > cfg.HeartbeatTimeout {
				s.kill(h)
				s.restart(lifeCtx, st, gen, "heartbeat timeout", cfg)
				return
			}
		}
	}
}

func (s *Supervisor) onHeartbeat(st *scopeState, gen uint64, at time.Time, cfg Config) {
	st.mu.Lock()
	if st.gen != gen {
		st.mu.Unlock()
		return
	}
	st.proc.LastHeartbeat = &at
	reset := st.proc.RestartCount > 0 && st.proc.StartedAt != nil && at.Sub(*st.proc.StartedAt) >= cfg.StableAfter
	if reset {
		st.proc.RestartCount = 0
	}
	scope := st.proc.Scope
	st.mu.Unlock()
	if reset {
		s.saveRestarts(scope, 0)
		if s.Logger != nil {
			s.Logger.Info("worker stable, restart count reset", zap.String("scope", scope))
		}
	}
}

// restart relaunches a crashed instance with capped exponential backoff until
// it succeeds, the scope is stopped, or the restart budget is exhausted.
func (s *Supervisor) restart(lifeCtx context.Context, st *scopeState, gen uint64, reason string, cfg Config) {
	for {
		st.op.Lock()
		st.mu.Lock()
		if st.gen != gen || lifeCtx.Err() != nil {
			st.mu.Unlock()
			st.op.Unlock()
			return
		}
		st.handle = nil
		st.proc.RestartCount++
		n := st.proc.RestartCount
		st.proc.LastError = reason
		scope := st.proc.Scope
		st.mu.Unlock()
		s.saveRestarts(scope, n)

		if n > cfg.MaxRestarts {
			s.degrade(st, fmt.Sprintf("%s; %d consecutive restarts", reason, n))
			st.op.Unlock()
			return
		}
		s.transition(st, StatusStarting, fmt.Sprintf("restart %d: %s", n, reason))
		wait := retry.Backoff(n, cfg.BaseBackoff, cfg.MaxBackoff)
		st.op.Unlock()

		if err := retry.Sleep(lifeCtx, wait); err != nil {
			return
		}

		st.op.Lock()
		st.mu.Lock()
		stale := st.gen != gen
		st.mu.Unlock()
		if stale || lifeCtx.Err() != nil {
			st.op.Unlock()
			return
		}
		err := s.launch(lifeCtx, lifeCtx, st, cfg)
		st.op.Unlock()
		if err == nil {
			return
		}
		reason = err.Error()
	}
}

// degrade parks the scope until an operator reset. Caller holds st.op.
func (s *Supervisor) degrade(st *scopeState, reason string) {
	st.mu.Lock()
	st.handle = nil
	st.proc.LastError = reason
	cancel := st.cancel
	st.cancel = nil
	scope := st.proc.Scope
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.transition(st, StatusDegraded, reason)
	if s.Notifier != nil {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		s.Notifier.Notify(ctx, "error", "worker degraded", map[string]any{
			"scope":  scope,
			"reason": reason,
		})
	}
}

// Stop signals the worker, waits the grace period and kills it if needed.
func (s *Supervisor) Stop(ctx context.Context, scope string) error {
	if s == nil {
		return nil
	}
	st := s.lookup(strings.TrimSpace(scope))
	if st == nil {
		return nil
	}
	cfg := s.Config.withDefaults()
	st.op.Lock()
	defer st.op.Unlock()

	st.mu.Lock()
	st.gen++
	h := st.handle
	st.handle = nil
	cancel := st.cancel
	st.cancel = nil
	status := st.proc.Status
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if status == StatusStopped || status == StatusDegraded {
		return nil
	}

	s.transition(st, StatusStopping, "stop requested")
	if h != nil {
		s.terminate(ctx, h, cfg.GracePeriod)
	}
	st.mu.Lock()
	st.proc.StartedAt = nil
	st.mu.Unlock()
	s.transition(st, StatusStopped, "stopped")
	return nil
}

func (s *Supervisor) terminate(ctx context.Context, h Handle, grace time.Duration) {
	_ = h.Signal()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.Done():
		return
	case <-timer.C:
		if s.Logger != nil {
			s.Logger.Warn("worker ignored graceful stop, killing", zap.Duration("grace", grace))
		}
	case <-ctx.Done():
	}
	s.kill(h)
}

func (s *Supervisor) kill(h Handle) {
	_ = h.Kill()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		if s.Logger != nil {
			s.Logger.Error("worker did not exit after kill")
		}
	}
}

// StopAll stops every known scope concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	scopes := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		scopes = append(scopes, scope)
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, scope := range scopes {
		wg.Add(1)
		go func(scope string) {
			defer wg.Done()
			if err := s.Stop(ctx, scope); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", scope, err))
				mu.Unlock()
			}
		}(scope)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Reset clears DEGRADED and the restart count so the scope may start again.
func (s *Supervisor) Reset(ctx context.Context, scope string) error {
	if s == nil {
		return fmt.Errorf("supervisor not configured")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return fmt.Errorf("scope required")
	}
	st := s.state(scope)
	st.op.Lock()
	defer st.op.Unlock()
	s.loadRestarts(ctx, st, s.Config.withDefaults())

	st.mu.Lock()
	st.proc.RestartCount = 0
	st.proc.LastError = ""
	st.spawnFailures = 0
	degraded := st.proc.Status == StatusDegraded
	st.mu.Unlock()
	s.saveRestarts(scope, 0)
	if degraded {
		s.transition(st, StatusStopped, "operator reset")
	}
	return nil
}

func (s *Supervisor) Status(scope string) (WorkerProcess, bool) {
	if s == nil {
		return WorkerProcess{Scope: scope, Status: StatusStopped}, false
	}
	st := s.lookup(scope)
	if st == nil {
		return WorkerProcess{Scope: scope, Status: StatusStopped}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.proc, true
}

func (s *Supervisor) List() []WorkerProcess {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	states := make([]*scopeState, 0, len(s.scopes))
	for _, st := range s.scopes {
		states = append(states, st)
	}
	s.mu.Unlock()
	out := make([]WorkerProcess, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.proc)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// loadRestarts restores the persisted restart count once per scope. A count
// beyond the budget means the scope was degraded before the daemon restarted.
func (s *Supervisor) loadRestarts(ctx context.Context, st *scopeState, cfg Config) {
	st.mu.Lock()
	loaded := st.loaded
	scope := st.proc.Scope
	st.mu.Unlock()
	if loaded {
		return
	}
	if s.Repo == nil {
		st.mu.Lock()
		st.loaded = true
		st.mu.Unlock()
		return
	}
	row, err := s.Repo.GetWorkerRestart(ctx, scope)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("load restart count failed", zap.String("scope", scope), zap.Error(err))
		}
		return
	}
	st.mu.Lock()
	st.loaded = true
	if row != nil {
		st.proc.RestartCount = row.RestartCount
		if row.RestartCount > cfg.MaxRestarts && st.proc.Status == StatusStopped {
			st.proc.Status = StatusDegraded
			st.proc.LastError = fmt.Sprintf("%d consecutive restarts before daemon restart", row.RestartCount)
		}
	}
	st.mu.Unlock()
}

func (s *Supervisor) saveRestarts(scope string, n int) {
	if s.Repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Repo.SaveWorkerRestart(ctx, &models.WorkerRestart{Scope: scope, RestartCount: n}); err != nil && s.Logger != nil {
		s.Logger.Warn("persist restart count failed", zap.String("scope", scope), zap.Error(err))
	}
}

func (s *Supervisor) transition(st *scopeState, to Status, reason string) {
	st.mu.Lock()
	from := st.proc.Status
	st.proc.Status = to
	ev := models.WorkerEvent{
		Scope:      st.proc.Scope,
		InstanceID: st.proc.InstanceID,
		BotType:    st.proc.BotType,
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     reason,
		At:         time.Now().UTC(),
	}
	st.mu.Unlock()

	if s.Logger != nil {
		fields := []zap.Field{
			zap.String("scope", ev.Scope),
			zap.String("instance_id", ev.InstanceID),
			zap.String("from", ev.FromStatus),
			zap.String("to", ev.ToStatus),
			zap.String("reason", reason),
		}
		if to == StatusDegraded {
			s.Logger.Error("worker transition", fields...)
		} else {
			s.Logger.Info("worker transition", fields...)
		}
	}
	if s.Repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Repo.InsertWorkerEvent(ctx, &ev); err != nil && s.Logger != nil {
		s.Logger.Warn("record worker event failed", zap.String("scope", ev.Scope), zap.Error(err))
	}
}
