package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jamesmarlowww/tradingbot/internal/cache"
	"github.com/jamesmarlowww/tradingbot/internal/config"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	"github.com/jamesmarlowww/tradingbot/internal/repository/memory"
	"github.com/jamesmarlowww/tradingbot/internal/retry"
	"github.com/jamesmarlowww/tradingbot/internal/service"
	"github.com/jamesmarlowww/tradingbot/internal/strategy"
	"github.com/jamesmarlowww/tradingbot/internal/streak"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
)

const btc = "BTCUSDT:RSIStrategy:15m"

var cycleNow = time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

type fakeSupervisor struct {
	mu       sync.Mutex
	status   map[string]supervisor.Status
	starts   []string
	stops    []string
	startErr error
	stopAll  int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{status: map[string]supervisor.Status{}}
}

func (f *fakeSupervisor) Start(ctx context.Context, scope, botType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, scope)
	if f.startErr != nil {
		return f.startErr
	}
	f.status[scope] = supervisor.StatusActive
	return nil
}

func (f *fakeSupervisor) Stop(ctx context.Context, scope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, scope)
	f.status[scope] = supervisor.StatusStopped
	return nil
}

func (f *fakeSupervisor) Status(scope string) (supervisor.WorkerProcess, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[scope]
	if !ok {
		st = supervisor.StatusStopped
	}
	return supervisor.WorkerProcess{Scope: scope, Status: st}, ok
}

func (f *fakeSupervisor) StopAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
	for k := range f.status {
		f.status[k] = supervisor.StatusStopped
	}
	return nil
}

func (f *fakeSupervisor) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts), len(f.stops)
}

func testSettings(scopes ...Scope) Settings {
	if len(scopes) == 0 {
		scopes = []Scope{{Name: btc, BotType: "test", Members: []string{btc}}}
	}
	return Settings{
		RequiredPositiveDays: 5,
		MinProfitThreshold:   decimal.Zero,
		EvaluationInterval:   time.Hour,
		Policy:               streak.SkippedNeutral,
		StalenessBound:       48 * time.Hour,
		HysteresisCycles:     2,
		LookbackDays:         30,
		ScopeTimeout:         5 * time.Second,
		ShutdownGrace:        time.Second,
		Persist:              retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond},
		Scopes:               scopes,
	}
}

// seed writes one COMPLETE result per profit, ending yesterday.
func seed(t *testing.T, repo repository.Repository, key string, profits ...float64) {
	t.Helper()
	first := models.DateOnly(cycleNow).AddDate(0, 0, -len(profits))
	for i, p := range profits {
		err := repo.UpsertDailyResult(context.Background(), &models.DailyResult{
			CombinationKey: key,
			Date:           first.AddDate(0, 0, i),
			Profit:         decimal.NewFromFloat(p),
			Status:         models.DailyStatusComplete,
			TradeCount:     1,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func newController(repo repository.Repository, sup Supervisor, s Settings) *Controller {
	c := New(repo, sup, &service.SwitchService{Repo: repo}, s, nil)
	c.now = func() time.Time { return cycleNow }
	return c
}

func tick(c *Controller) {
	cycleNow = cycleNow.Add(time.Second)
}

func TestScenarioStreakOfFiveEnablesAfterHysteresis(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	seed(t, repo, btc, 1, 2, 1, -1, 3, 4, 5, 6, 7)
	decisions := &cache.DecisionCache{Store: cache.NewMemoryStore(), TTL: time.Hour}
	c := newController(repo, sup, testSettings())
	c.Cache = decisions
	ctx := context.Background()

	r1, err := c.Trigger(ctx, "")
	if err != nil {
		t.Fatalf("cycle 1 err=%v", err)
	}
	out := r1.Scopes[0]
	if out.Streak != 5 || !out.Desired || out.Enabled || out.Action != ActionPending {
		t.Fatalf("cycle 1 outcome=%+v", out)
	}
	if out.Reason != "streak=5 >= required=5" {
		t.Fatalf("reason=%q", out.Reason)
	}
	st, _ := repo.ReadStreakState(ctx, btc)
	if st == nil || st.CurrentStreak != 5 || !st.Enabled {
		t.Fatalf("streak state=%+v", st)
	}

	tick(c)
	r2, err := c.Trigger(ctx, "")
	if err != nil {
		t.Fatalf("cycle 2 err=%v", err)
	}
	out = r2.Scopes[0]
	if !out.Enabled || out.Action != ActionStart || out.WorkerStatus != string(supervisor.StatusActive) {
		t.Fatalf("cycle 2 outcome=%+v", out)
	}
	if starts, _ := sup.counts(); starts != 1 {
		t.Fatalf("starts=%d want=1", starts)
	}

	scope := btc
	rows, _ := repo.ListAutomationDecisions(ctx, repository.ListDecisionsParams{Scope: &scope})
	if len(rows) != 2 {
		t.Fatalf("decisions=%d want=2", len(rows))
	}
	if !rows[0].Enabled || rows[1].Enabled {
		t.Fatalf("decision enabled flags newest-first=%v,%v", rows[0].Enabled, rows[1].Enabled)
	}
	if rows[0].Source != models.DecisionSourceManual || rows[0].TriggeringStreak != 5 {
		t.Fatalf("latest decision=%+v", rows[0])
	}
	cached, err := decisions.LatestAutomationDecision(ctx, btc)
	if err != nil || cached == nil || !cached.Enabled {
		t.Fatalf("cached=%+v err=%v", cached, err)
	}
}

func TestStaleHistoryResetsUnderResetPolicy(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	s := testSettings()
	s.Policy = streak.SkippedReset
	s.HysteresisCycles = 1
	c := newController(repo, sup, s)
	later := cycleNow.AddDate(0, 0, 10)
	c.now = func() time.Time { return later }

	r, err := c.Trigger(context.Background(), "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	out := r.Scopes[0]
	if out.Streak != 0 || out.Desired || out.Enabled {
		t.Fatalf("outcome=%+v want streak 0 and disabled", out)
	}
	if starts, _ := sup.counts(); starts != 0 {
		t.Fatalf("starts=%d want=0", starts)
	}
}

func TestScenarioEmergencyOverrideWithZeroStreak(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	seed(t, repo, btc, -1, -2)
	sw := &service.SwitchService{Repo: repo}
	if err := sw.SetEnabled(context.Background(), service.ScopeOverrideKey(btc), true, "alice"); err != nil {
		t.Fatalf("set override: %v", err)
	}
	c := newController(repo, sup, testSettings())

	r, err := c.Trigger(context.Background(), "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	out := r.Scopes[0]
	if !out.Enabled || out.Action != ActionStart || out.Reason != ReasonOverride || out.Streak != 0 {
		t.Fatalf("outcome=%+v", out)
	}
	if starts, _ := sup.counts(); starts != 1 {
		t.Fatalf("starts=%d want=1 (override bypasses hysteresis)", starts)
	}
}

func TestConfiguredOverrideBypassesStreak(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	s := testSettings()
	s.EmergencyOverride = true
	c := newController(repo, sup, s)
	r, err := c.Trigger(context.Background(), "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !r.Scopes[0].Enabled || r.Scopes[0].Reason != ReasonOverride {
		t.Fatalf("outcome=%+v", r.Scopes[0])
	}
}

func TestHoldStopsImmediately(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	sup.status[btc] = supervisor.StatusActive
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	sw := &service.SwitchService{Repo: repo}
	_ = sw.SetEnabled(context.Background(), service.ScopeHoldKey(btc), true, "alice")
	c := newController(repo, sup, testSettings())

	r, err := c.Trigger(context.Background(), "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	out := r.Scopes[0]
	if out.Enabled || out.Action != ActionStop || out.Reason != ReasonHold {
		t.Fatalf("outcome=%+v", out)
	}
	if _, stops := sup.counts(); stops != 1 {
		t.Fatalf("stops=%d want=1", stops)
	}
}

func TestHysteresisResetsWhenDesireFlips(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	c := newController(repo, sup, testSettings())
	ctx := context.Background()

	if r, _ := c.Trigger(ctx, ""); r.Scopes[0].Action != ActionPending {
		t.Fatalf("cycle 1 action=%s", r.Scopes[0].Action)
	}
	// a losing day lands: desire now agrees with the stopped worker
	_ = repo.UpsertDailyResult(ctx, &models.DailyResult{CombinationKey: btc, Date: models.DateOnly(cycleNow), Profit: decimal.NewFromInt(-1), Status: models.DailyStatusComplete})
	tick(c)
	if r, _ := c.Trigger(ctx, ""); r.Scopes[0].Action != ActionNone || r.Scopes[0].Desired {
		t.Fatalf("cycle 2 outcome=%+v", r.Scopes[0])
	}
	// the day is corrected back to a win; hysteresis starts over
	_ = repo.UpsertDailyResult(ctx, &models.DailyResult{CombinationKey: btc, Date: models.DateOnly(cycleNow), Profit: decimal.NewFromInt(1), Status: models.DailyStatusComplete})
	tick(c)
	if r, _ := c.Trigger(ctx, ""); r.Scopes[0].Action != ActionPending {
		t.Fatalf("cycle 3 action=%s want pending", r.Scopes[0].Action)
	}
	if starts, _ := sup.counts(); starts != 0 {
		t.Fatalf("starts=%d want=0", starts)
	}
}

func TestDegradedScopeIsNotAutoStarted(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	sup.status[btc] = supervisor.StatusDegraded
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	s := testSettings()
	s.HysteresisCycles = 1
	c := newController(repo, sup, s)

	r, _ := c.Trigger(context.Background(), "")
	out := r.Scopes[0]
	if out.Action != ActionBlocked || !strings.Contains(out.Reason, "operator resume required") {
		t.Fatalf("outcome=%+v", out)
	}
	if starts, _ := sup.counts(); starts != 0 {
		t.Fatalf("starts=%d want=0", starts)
	}
}

func TestStartFailureIsRecorded(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	sup.startErr = supervisor.ErrDegraded
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	s := testSettings()
	s.HysteresisCycles = 1
	c := newController(repo, sup, s)

	r, _ := c.Trigger(context.Background(), "")
	if r.Failed != 1 || r.Scopes[0].Action != ActionFailed {
		t.Fatalf("report=%+v", r)
	}
	latest, _ := repo.LatestAutomationDecision(context.Background(), btc)
	if latest == nil || latest.Action != ActionFailed || !strings.Contains(latest.Reason, "start failed") {
		t.Fatalf("decision=%+v", latest)
	}
}

// flakyRepo fails history reads for one combination.
type flakyRepo struct {
	*memory.Store
	failKey string
}

func (r flakyRepo) ListDailyResults(ctx context.Context, p repository.ListDailyResultsParams) ([]models.DailyResult, error) {
	for _, k := range p.CombinationKeys {
		if k == r.failKey {
			return nil, errors.New("connection refused")
		}
	}
	return r.Store.ListDailyResults(ctx, p)
}

func TestScopeFailureIsIsolated(t *testing.T) {
	eth := "ETHUSDT:RSIStrategy:15m"
	store := memory.New()
	repo := flakyRepo{Store: store, failKey: btc}
	seed(t, store, eth, 1, 1, 1, 1, 1)
	sup := newFakeSupervisor()
	s := testSettings(
		Scope{Name: btc, BotType: "test", Members: []string{btc}},
		Scope{Name: eth, BotType: "test", Members: []string{eth}},
	)
	s.HysteresisCycles = 1
	c := newController(repo, sup, s)

	r, err := c.Trigger(context.Background(), "")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if r.Failed != 1 || r.Scopes[0].Error == "" {
		t.Fatalf("report=%+v", r)
	}
	if r.Scopes[1].Action != ActionStart || r.Scopes[1].Error != "" {
		t.Fatalf("eth outcome=%+v", r.Scopes[1])
	}
	if latest, _ := store.LatestAutomationDecision(context.Background(), btc); latest != nil {
		t.Fatalf("failed scope should not record a decision: %+v", latest)
	}
}

func TestGroupScopeNeedsEveryMember(t *testing.T) {
	eth := "ETHUSDT:RSIStrategy:15m"
	repo := memory.New()
	seed(t, repo, btc, 1, 1, 1, 1, 1)
	seed(t, repo, eth, 1, 1, 1, 1)
	sup := newFakeSupervisor()
	s := testSettings(Scope{Name: "majors", BotType: "monitor", Members: []string{btc, eth}})
	s.HysteresisCycles = 1
	c := newController(repo, sup, s)

	r, _ := c.Trigger(context.Background(), "")
	out := r.Scopes[0]
	// eth lacks the first day, so the group day is SKIPPED and neutral
	if out.Streak != 4 || out.Desired {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestReloadAppliesAtNextCycle(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	seed(t, repo, btc, 1, 1, 1)
	c := newController(repo, sup, testSettings())
	ctx := context.Background()

	r, _ := c.Trigger(ctx, "")
	if r.Scopes[0].Desired || r.Reloaded {
		t.Fatalf("outcome=%+v reloaded=%v", r.Scopes[0], r.Reloaded)
	}
	s := testSettings()
	s.RequiredPositiveDays = 3
	s.HysteresisCycles = 1
	c.Reload(s)
	if c.Settings().RequiredPositiveDays != 5 {
		t.Fatalf("reload applied before the next cycle")
	}
	tick(c)
	r, _ = c.Trigger(ctx, "")
	if !r.Reloaded || !r.Scopes[0].Enabled || r.Scopes[0].Action != ActionStart {
		t.Fatalf("outcome=%+v reloaded=%v", r.Scopes[0], r.Reloaded)
	}
}

func TestRunShutdownStopsWorkers(t *testing.T) {
	repo := memory.New()
	sup := newFakeSupervisor()
	c := newController(repo, sup, testSettings())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if latest, _ := repo.LatestAutomationDecision(context.Background(), btc); latest != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run err=%v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return")
	}
	if sup.stopAll != 1 {
		t.Fatalf("StopAll calls=%d want=1", sup.stopAll)
	}
	if _, err := c.Trigger(context.Background(), ""); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("trigger after shutdown err=%v", err)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Config{
		Automation: config.AutomationConfig{
			RequiredPositiveDays:          5,
			MinProfitThreshold:            "0.5",
			EvaluationIntervalSeconds:     86400,
			SkippedDayPolicy:              "reset",
			DecisionStalenessBoundSeconds: 172800,
			HysteresisCycles:              2,
			LookbackDays:                  30,
		},
		Combinations: []config.CombinationConfig{
			{Symbol: "btcusdt", Strategy: "RSIStrategy", Timeframe: "15m"},
			{Symbol: "ETHUSDT", Strategy: "RSIStrategy", Timeframe: "15m", BotType: "prod"},
		},
		Groups: []config.GroupConfig{{Name: "majors", Members: []string{btc, "ETHUSDT:RSIStrategy:15m"}}},
	}
	s, err := SettingsFromConfig(cfg)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(s.Scopes) != 3 || s.Scopes[0].Name != btc || s.Scopes[0].BotType != "test" || s.Scopes[1].BotType != "prod" {
		t.Fatalf("scopes=%+v", s.Scopes)
	}
	if !s.Scopes[2].Group() || s.Scopes[0].Group() {
		t.Fatalf("group detection wrong: %+v", s.Scopes)
	}
	if s.Policy != streak.SkippedReset || !s.MinProfitThreshold.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("settings=%+v", s)
	}

	bad := cfg
	bad.Groups = []config.GroupConfig{{Name: "x", Members: []string{"SOLUSDT:RSIStrategy:15m"}}}
	if _, err := SettingsFromConfig(bad); err == nil {
		t.Fatalf("expected unknown member error")
	}
	bad = cfg
	bad.Automation.LookbackDays = 2
	if _, err := SettingsFromConfig(bad); err == nil {
		t.Fatalf("expected lookback error")
	}
	bad = cfg
	bad.Groups = nil
	bad.Combinations = []config.CombinationConfig{{Symbol: "BTCUSDT", Strategy: "Martingale", Timeframe: "1h"}}
	if _, err := SettingsFromConfig(bad); !errors.Is(err, strategy.ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}

	// Default supervisor: 5 starts of 30s plus 2s+4s+8s+16s of backoff.
	bad = cfg
	bad.Automation.ScopeTimeout = 2 * time.Minute
	if _, err := SettingsFromConfig(bad); err == nil {
		t.Fatalf("expected scope_timeout below the start budget to be rejected")
	}
	ok := cfg
	ok.Automation.ScopeTimeout = 3 * time.Minute
	if _, err := SettingsFromConfig(ok); err != nil {
		t.Fatalf("scope_timeout equal to the start budget: %v", err)
	}
}
