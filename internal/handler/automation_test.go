package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamesmarlowww/tradingbot/internal/controller"
	"github.com/jamesmarlowww/tradingbot/internal/evaluator"
	"github.com/jamesmarlowww/tradingbot/internal/gate"
	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository/memory"
	"github.com/jamesmarlowww/tradingbot/internal/service"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
)

const testScope = "BTCUSDT:RSIStrategy:15m"

type fakeController struct {
	settings controller.Settings
	err      error
	triggers []string
}

func (f *fakeController) Settings() controller.Settings { return f.settings }

func (f *fakeController) Trigger(ctx context.Context, source string) (controller.Report, error) {
	f.triggers = append(f.triggers, source)
	if f.err != nil {
		return controller.Report{}, f.err
	}
	return controller.Report{Source: source, Scopes: []controller.ScopeOutcome{{Scope: testScope, Action: controller.ActionNone}}}, nil
}

type fakeWorkers struct {
	procs  map[string]supervisor.WorkerProcess
	stops  []string
	resets []string
}

func (f *fakeWorkers) Status(scope string) (supervisor.WorkerProcess, bool) {
	p, ok := f.procs[scope]
	return p, ok
}

func (f *fakeWorkers) List() []supervisor.WorkerProcess {
	out := []supervisor.WorkerProcess{}
	for _, p := range f.procs {
		out = append(out, p)
	}
	return out
}

func (f *fakeWorkers) Stop(ctx context.Context, scope string) error {
	f.stops = append(f.stops, scope)
	f.procs[scope] = supervisor.WorkerProcess{Scope: scope, Status: supervisor.StatusStopped}
	return nil
}

func (f *fakeWorkers) Reset(ctx context.Context, scope string) error {
	f.resets = append(f.resets, scope)
	return nil
}

type fakeEvaluator struct {
	ranges []marketdata.DateRange
}

func (f *fakeEvaluator) EvaluateAll(ctx context.Context, combos []models.Combination, r marketdata.DateRange) evaluator.Summary {
	f.ranges = append(f.ranges, r)
	return evaluator.Summary{Range: r, Evaluated: len(combos), Complete: len(combos), Failed: map[string]string{}}
}

func (f *fakeEvaluator) DefaultRange() marketdata.DateRange {
	y := models.DateOnly(time.Now()).AddDate(0, 0, -1)
	return marketdata.DateRange{From: y, To: y}
}

type fixture struct {
	engine   *gin.Engine
	repo     *memory.Store
	ctrl     *fakeController
	workers  *fakeWorkers
	switches *service.SwitchService
	eval     *fakeEvaluator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memory.New()
	f := &fixture{
		repo: repo,
		ctrl: &fakeController{settings: controller.Settings{
			Scopes: []controller.Scope{{Name: testScope, BotType: "test", Members: []string{testScope}}},
		}},
		workers:  &fakeWorkers{procs: map[string]supervisor.WorkerProcess{testScope: {Scope: testScope, Status: supervisor.StatusActive}}},
		switches: &service.SwitchService{Repo: repo},
		eval:     &fakeEvaluator{},
	}
	h := &AutomationHandler{
		Repo:         repo,
		Controller:   f.ctrl,
		Workers:      f.workers,
		Switches:     f.switches,
		Gate:         &gate.Gate{Reader: repo, StalenessBound: time.Hour},
		Evaluator:    f.eval,
		Combinations: []models.Combination{models.NewCombination("BTCUSDT", "RSIStrategy", "15m")},
	}
	f.engine = gin.New()
	h.Register(f.engine)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w, out
}

func TestGetScopeIncludesStreakDecisionAndWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 9, 9, 0, 0, 0, 0, time.UTC)
	if err := f.repo.WriteStreakState(ctx, &models.StreakState{Scope: testScope, CurrentStreak: 5, LastEvaluatedDate: &day, Enabled: true}); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if err := f.repo.AppendAutomationDecision(ctx, &models.AutomationDecision{
		Scope: testScope, DecidedAt: time.Now().UTC(), Enabled: true, TriggeringStreak: 5,
		Reason: "streak 5/5 met", Source: models.DecisionSourceTimer, Action: controller.ActionStart,
	}); err != nil {
		t.Fatalf("append decision: %v", err)
	}

	w, body := f.do(t, http.MethodGet, "/api/v1/scopes/"+testScope, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	data := body["data"].(map[string]any)
	streak := data["streak"].(map[string]any)
	if streak["current_streak"].(float64) != 5 || streak["last_evaluated_date"] != "2026-09-09" {
		t.Fatalf("unexpected streak %v", streak)
	}
	decision := data["latest_decision"].(map[string]any)
	if decision["action"] != controller.ActionStart || decision["enabled"] != true {
		t.Fatalf("unexpected decision %v", decision)
	}
	if data["worker"].(map[string]any)["status"] != string(supervisor.StatusActive) {
		t.Fatalf("unexpected worker %v", data["worker"])
	}
}

func TestUnknownScopeIsNotFound(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/v1/scopes/ETHUSDT:RSIStrategy:1h", "/api/v1/gate/nope", "/api/v1/workers/nope/events"} {
		w, _ := f.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
	}
}

func TestPutOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, _ := f.do(t, http.MethodPut, "/api/v1/override", overrideRequest{Enabled: true, Scope: testScope})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	sw, err := f.switches.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !sw.OverrideFor(testScope) || sw.GlobalOverride {
		t.Fatalf("expected scope override only, got %+v", sw)
	}

	if w, _ := f.do(t, http.MethodPut, "/api/v1/override", overrideRequest{Enabled: true}); w.Code != http.StatusOK {
		t.Fatalf("global status = %d", w.Code)
	}
	if sw, _ := f.switches.Snapshot(ctx); !sw.GlobalOverride {
		t.Fatalf("expected global override")
	}

	if w, _ := f.do(t, http.MethodPut, "/api/v1/override", overrideRequest{Enabled: true, Scope: "missing"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown scope status = %d", w.Code)
	}
}

func TestStopThenResumeWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w, _ := f.do(t, http.MethodPost, "/api/v1/workers/"+testScope+"/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.workers.stops) != 1 {
		t.Fatalf("expected one stop, got %v", f.workers.stops)
	}
	if sw, _ := f.switches.Snapshot(ctx); !sw.HeldFor(testScope) {
		t.Fatalf("expected hold after stop")
	}

	w, _ = f.do(t, http.MethodPost, "/api/v1/workers/"+testScope+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}
	if len(f.workers.resets) != 1 {
		t.Fatalf("expected one reset, got %v", f.workers.resets)
	}
	if sw, _ := f.switches.Snapshot(ctx); sw.HeldFor(testScope) {
		t.Fatalf("expected hold cleared after resume")
	}
}

func TestEvaluateMapsShutdown(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(t, http.MethodPost, "/api/v1/controller/evaluate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["data"].(map[string]any)["source"] != models.DecisionSourceManual {
		t.Fatalf("unexpected report %v", body["data"])
	}

	f.ctrl.err = controller.ErrShuttingDown
	if w, _ := f.do(t, http.MethodPost, "/api/v1/controller/evaluate", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	f.ctrl.err = errors.Join(errors.New("start BTC"), supervisor.ErrDegraded)
	if w, _ := f.do(t, http.MethodPost, "/api/v1/controller/evaluate", nil); w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGateDeniesWithoutDecision(t *testing.T) {
	f := newFixture(t)
	w, body := f.do(t, http.MethodGet, "/api/v1/gate/"+testScope, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := body["data"].(map[string]any)
	if data["allow"] != false || data["reason"] != gate.ReasonNoDecision {
		t.Fatalf("unexpected verdict %v", data)
	}
}

func TestListDecisionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := f.repo.AppendAutomationDecision(ctx, &models.AutomationDecision{
			Scope: testScope, DecidedAt: base.Add(time.Duration(i) * time.Hour), Reason: "r", Source: "timer", Action: "none",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	w, body := f.do(t, http.MethodGet, "/api/v1/decisions?scope="+testScope+"&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	items := body["data"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(items))
	}
	first := items[0].(map[string]any)["decided_at"].(string)
	if first != base.Add(2*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expected newest first, got %s", first)
	}
	if w, _ := f.do(t, http.MethodGet, "/api/v1/decisions?since=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d", w.Code)
	}
}

func TestRunEvaluatorValidatesRange(t *testing.T) {
	f := newFixture(t)
	if w, _ := f.do(t, http.MethodPost, "/api/v1/evaluator/run?from=2026-09-05&to=2026-09-01", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("reversed range status = %d", w.Code)
	}
	today := models.DateOnly(time.Now()).Format(dateLayout)
	if w, _ := f.do(t, http.MethodPost, "/api/v1/evaluator/run?to="+today, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("today status = %d", w.Code)
	}
	w, body := f.do(t, http.MethodPost, "/api/v1/evaluator/run?from=2026-09-01&to=2026-09-03", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(f.eval.ranges) != 1 || f.eval.ranges[0].From.Day() != 1 || f.eval.ranges[0].To.Day() != 3 {
		t.Fatalf("unexpected ranges %+v", f.eval.ranges)
	}
	if body["data"].(map[string]any)["combinations"].(float64) != 1 {
		t.Fatalf("unexpected summary %v", body["data"])
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&HealthHandler{Checks: map[string]Pinger{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("down") },
	}}).Register(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["db"] != "ok" || body.Checks["redis"] != "redis_unreachable" {
		t.Fatalf("unexpected checks %v", body.Checks)
	}
}
