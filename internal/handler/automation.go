package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/auth"
	"github.com/jamesmarlowww/tradingbot/internal/controller"
	"github.com/jamesmarlowww/tradingbot/internal/evaluator"
	"github.com/jamesmarlowww/tradingbot/internal/gate"
	"github.com/jamesmarlowww/tradingbot/internal/marketdata"
	"github.com/jamesmarlowww/tradingbot/internal/models"
	"github.com/jamesmarlowww/tradingbot/internal/repository"
	"github.com/jamesmarlowww/tradingbot/internal/service"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"
)

type Controller interface {
	Settings() controller.Settings
	Trigger(ctx context.Context, source string) (controller.Report, error)
}

type Workers interface {
	Status(scope string) (supervisor.WorkerProcess, bool)
	List() []supervisor.WorkerProcess
	Stop(ctx context.Context, scope string) error
	Reset(ctx context.Context, scope string) error
}

type Switches interface {
	Snapshot(ctx context.Context) (service.Switches, error)
	SetEnabled(ctx context.Context, key string, enabled bool, actor string) error
}

type GateChecker interface {
	Check(ctx context.Context, scope string) gate.Verdict
}

type Evaluator interface {
	EvaluateAll(ctx context.Context, combos []models.Combination, r marketdata.DateRange) evaluator.Summary
	DefaultRange() marketdata.DateRange
}

// AutomationHandler is the operator surface of the streak automation.
type AutomationHandler struct {
	Repo       repository.Repository
	Controller Controller
	Workers    Workers
	Switches   Switches
	Gate       GateChecker
	Evaluator  Evaluator
	// Combinations evaluated by POST /evaluator/run.
	Combinations []models.Combination
	// TriggerTimeout bounds a manual cycle or evaluator run.
	TriggerTimeout time.Duration
	Logger         *zap.Logger
}

func (h *AutomationHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.GET("/scopes", h.listScopes)
	group.GET("/scopes/:scope", h.getScope)
	group.GET("/decisions", h.listDecisions)
	group.GET("/results", h.listResults)
	group.POST("/controller/evaluate", h.evaluate)
	group.GET("/override", h.getOverride)
	group.PUT("/override", h.putOverride)
	group.GET("/workers", h.listWorkers)
	group.GET("/workers/:scope/events", h.listWorkerEvents)
	group.POST("/workers/:scope/stop", h.stopWorker)
	group.POST("/workers/:scope/resume", h.resumeWorker)
	group.GET("/gate/:scope", h.checkGate)
	group.POST("/evaluator/run", h.runEvaluator)
}

func (h *AutomationHandler) timeout() time.Duration {
	if h.TriggerTimeout > 0 {
		return h.TriggerTimeout
	}
	return 5 * time.Minute
}

func (h *AutomationHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// lookupScope writes a 404 and returns false for an unknown scope.
func (h *AutomationHandler) lookupScope(c *gin.Context) (controller.Scope, bool) {
	name := strings.TrimSpace(c.Param("scope"))
	if h.Controller == nil {
		Error(c, http.StatusInternalServerError, "controller unavailable", nil)
		return controller.Scope{}, false
	}
	sc, ok := h.Controller.Settings().Scope(name)
	if !ok {
		Error(c, http.StatusNotFound, "unknown scope "+name, nil)
		return controller.Scope{}, false
	}
	return sc, true
}

func (h *AutomationHandler) buildScope(ctx context.Context, sc controller.Scope, sw service.Switches) (scopeView, error) {
	view := scopeView{
		Scope:    sc.Name,
		BotType:  sc.BotType,
		Members:  sc.Members,
		Group:    sc.Group(),
		Override: h.Controller.Settings().EmergencyOverride || sw.OverrideFor(sc.Name),
		Hold:     sw.HeldFor(sc.Name),
	}
	if h.Repo != nil {
		state, err := h.Repo.ReadStreakState(ctx, sc.Name)
		if err != nil {
			return view, err
		}
		view.Streak = toStreakView(state)
		latest, err := h.Repo.LatestAutomationDecision(ctx, sc.Name)
		if err != nil {
			return view, err
		}
		view.Decision = toDecisionView(latest)
	}
	if h.Workers != nil {
		if proc, ok := h.Workers.Status(sc.Name); ok {
			view.Worker = &proc
		}
	}
	return view, nil
}

func (h *AutomationHandler) snapshot(ctx context.Context) (service.Switches, error) {
	if h.Switches == nil {
		return service.Switches{ScopeOverride: map[string]bool{}, Hold: map[string]bool{}}, nil
	}
	return h.Switches.Snapshot(ctx)
}

// @Summary List scopes with streak, latest decision and worker status
// @Tags automation
// @Success 200 {object} apiResponse
// @Router /api/v1/scopes [get]
func (h *AutomationHandler) listScopes(c *gin.Context) {
	if h.Controller == nil {
		Error(c, http.StatusInternalServerError, "controller unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	sw, err := h.snapshot(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	scopes := h.Controller.Settings().Scopes
	items := make([]scopeView, 0, len(scopes))
	for _, sc := range scopes {
		view, err := h.buildScope(ctx, sc, sw)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		items = append(items, view)
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Get one scope
// @Tags automation
// @Param scope path string true "combination key or group name"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/v1/scopes/{scope} [get]
func (h *AutomationHandler) getScope(c *gin.Context) {
	sc, ok := h.lookupScope(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sw, err := h.snapshot(ctx)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	view, err := h.buildScope(ctx, sc, sw)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, view, nil)
}

// @Summary List automation decisions (newest first)
// @Tags automation
// @Param scope query string false "scope"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} apiResponse
// @Router /api/v1/decisions [get]
func (h *AutomationHandler) listDecisions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	since, err := timeQueryPtr(c, "since")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid since", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListAutomationDecisions(c.Request.Context(), repository.ListDecisionsParams{
		Scope:  strQueryPtr(c, "scope"),
		Since:  since,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]*decisionView, 0, len(items))
	for i := range items {
		out = append(out, toDecisionView(&items[i]))
	}
	Ok(c, out, paginationMeta(limit, offset, len(out)))
}

// @Summary List daily results
// @Tags automation
// @Param combination query string false "comma separated combination keys"
// @Param since query string false "first date (YYYY-MM-DD)"
// @Param until query string false "last date (YYYY-MM-DD)"
// @Param limit query int false "max rows"
// @Success 200 {object} apiResponse
// @Router /api/v1/results [get]
func (h *AutomationHandler) listResults(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	since, err := timeQueryPtr(c, "since")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid since", nil)
		return
	}
	until, err := timeQueryPtr(c, "until")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid until", nil)
		return
	}
	limit := intQuery(c, "limit", 500)
	items, err := h.Repo.ListDailyResults(c.Request.Context(), repository.ListDailyResultsParams{
		CombinationKeys: cleanStrings(c.QueryArray("combination")),
		Since:           since,
		Until:           until,
		Limit:           limit,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]resultView, 0, len(items))
	for _, item := range items {
		out = append(out, toResultView(item))
	}
	Ok(c, out, map[string]any{"count": len(out), "limit": limit})
}

// @Summary Run one controller cycle now
// @Tags automation
// @Success 200 {object} apiResponse
// @Failure 503 {object} apiResponse
// @Router /api/v1/controller/evaluate [post]
func (h *AutomationHandler) evaluate(c *gin.Context) {
	if h.Controller == nil {
		Error(c, http.StatusInternalServerError, "controller unavailable", nil)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout())
	defer cancel()
	report, err := h.Controller.Trigger(ctx, models.DecisionSourceManual)
	if err != nil {
		h.logger().Warn("manual cycle failed", zap.Error(err))
		Fail(c, err)
		return
	}
	Ok(c, report, map[string]any{"failed": report.Failed})
}

type overrideRequest struct {
	Enabled bool   `json:"enabled"`
	Scope   string `json:"scope"`
}

// @Summary Read emergency override switches
// @Tags automation
// @Success 200 {object} apiResponse
// @Router /api/v1/override [get]
func (h *AutomationHandler) getOverride(c *gin.Context) {
	sw, err := h.snapshot(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	configured := false
	if h.Controller != nil {
		configured = h.Controller.Settings().EmergencyOverride
	}
	Ok(c, gin.H{
		"configured": configured,
		"global":     sw.GlobalOverride,
		"scopes":     sw.ScopeOverride,
		"holds":      sw.Hold,
	}, nil)
}

// @Summary Set the emergency override, globally or for one scope
// @Tags automation
// @Param body body overrideRequest true "override"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/override [put]
func (h *AutomationHandler) putOverride(c *gin.Context) {
	if h.Switches == nil {
		Error(c, http.StatusInternalServerError, "switches unavailable", nil)
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	key := service.SwitchGlobalOverride
	scope := strings.TrimSpace(req.Scope)
	if scope != "" {
		if h.Controller == nil {
			Error(c, http.StatusInternalServerError, "controller unavailable", nil)
			return
		}
		if _, ok := h.Controller.Settings().Scope(scope); !ok {
			Error(c, http.StatusNotFound, "unknown scope "+scope, nil)
			return
		}
		key = service.ScopeOverrideKey(scope)
	}
	actor := auth.Operator(c, "api")
	if err := h.Switches.SetEnabled(c.Request.Context(), key, req.Enabled, actor); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	h.logger().Info("emergency override set",
		zap.String("key", key),
		zap.Bool("enabled", req.Enabled),
		zap.String("operator", actor),
	)
	Ok(c, gin.H{"key": key, "enabled": req.Enabled}, nil)
}

// @Summary List supervised workers
// @Tags workers
// @Success 200 {object} apiResponse
// @Router /api/v1/workers [get]
func (h *AutomationHandler) listWorkers(c *gin.Context) {
	if h.Workers == nil {
		Ok(c, []supervisor.WorkerProcess{}, map[string]any{"count": 0})
		return
	}
	items := h.Workers.List()
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary List worker status transitions (newest first)
// @Tags workers
// @Param scope path string true "scope"
// @Param limit query int false "max rows"
// @Success 200 {object} apiResponse
// @Router /api/v1/workers/{scope}/events [get]
func (h *AutomationHandler) listWorkerEvents(c *gin.Context) {
	sc, ok := h.lookupScope(c)
	if !ok {
		return
	}
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repository unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	items, err := h.Repo.ListWorkerEvents(c.Request.Context(), repository.ListWorkerEventsParams{Scope: &sc.Name, Limit: limit})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]workerEventView, 0, len(items))
	for _, item := range items {
		out = append(out, toWorkerEventView(item))
	}
	Ok(c, out, map[string]any{"count": len(out), "limit": limit})
}

// @Summary Hold a scope and stop its worker
// @Description The hold keeps the controller from restarting the worker until resume.
// @Tags workers
// @Param scope path string true "scope"
// @Success 200 {object} apiResponse
// @Router /api/v1/workers/{scope}/stop [post]
func (h *AutomationHandler) stopWorker(c *gin.Context) {
	sc, ok := h.lookupScope(c)
	if !ok {
		return
	}
	if h.Switches == nil || h.Workers == nil {
		Error(c, http.StatusInternalServerError, "supervisor unavailable", nil)
		return
	}
	actor := auth.Operator(c, "api")
	ctx := c.Request.Context()
	if err := h.Switches.SetEnabled(ctx, service.ScopeHoldKey(sc.Name), true, actor); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if err := h.Workers.Stop(ctx, sc.Name); err != nil {
		Fail(c, err)
		return
	}
	h.logger().Info("operator hold set", zap.String("scope", sc.Name), zap.String("operator", actor))
	proc, _ := h.Workers.Status(sc.Name)
	Ok(c, gin.H{"scope": sc.Name, "hold": true, "worker": proc}, nil)
}

// @Summary Clear a hold and reset a degraded worker
// @Description The worker starts again at the next cycle if its streak still qualifies.
// @Tags workers
// @Param scope path string true "scope"
// @Success 200 {object} apiResponse
// @Router /api/v1/workers/{scope}/resume [post]
func (h *AutomationHandler) resumeWorker(c *gin.Context) {
	sc, ok := h.lookupScope(c)
	if !ok {
		return
	}
	if h.Switches == nil || h.Workers == nil {
		Error(c, http.StatusInternalServerError, "supervisor unavailable", nil)
		return
	}
	actor := auth.Operator(c, "api")
	ctx := c.Request.Context()
	if err := h.Switches.SetEnabled(ctx, service.ScopeHoldKey(sc.Name), false, actor); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if err := h.Workers.Reset(ctx, sc.Name); err != nil {
		Fail(c, err)
		return
	}
	h.logger().Info("operator hold cleared", zap.String("scope", sc.Name), zap.String("operator", actor))
	proc, _ := h.Workers.Status(sc.Name)
	Ok(c, gin.H{"scope": sc.Name, "hold": false, "worker": proc}, nil)
}

// @Summary Ask the execution gate whether a scope may trade now
// @Tags automation
// @Param scope path string true "scope"
// @Success 200 {object} apiResponse
// @Router /api/v1/gate/{scope} [get]
func (h *AutomationHandler) checkGate(c *gin.Context) {
	sc, ok := h.lookupScope(c)
	if !ok {
		return
	}
	if h.Gate == nil {
		Error(c, http.StatusInternalServerError, "gate unavailable", nil)
		return
	}
	Ok(c, h.Gate.Check(c.Request.Context(), sc.Name), nil)
}

// @Summary Evaluate daily results for the configured combinations
// @Tags evaluator
// @Param from query string false "first date (YYYY-MM-DD), defaults to the configured lookback"
// @Param to query string false "last date (YYYY-MM-DD), defaults to yesterday"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/v1/evaluator/run [post]
func (h *AutomationHandler) runEvaluator(c *gin.Context) {
	if h.Evaluator == nil {
		Error(c, http.StatusInternalServerError, "evaluator unavailable", nil)
		return
	}
	r := h.Evaluator.DefaultRange()
	from, err := timeQueryPtr(c, "from")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid from", nil)
		return
	}
	to, err := timeQueryPtr(c, "to")
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid to", nil)
		return
	}
	if from != nil {
		r.From = models.DateOnly(*from)
	}
	if to != nil {
		r.To = models.DateOnly(*to)
	}
	if r.To.Before(r.From) {
		Error(c, http.StatusBadRequest, "to is before from", nil)
		return
	}
	if today := models.DateOnly(time.Now()); !r.To.Before(today) {
		Error(c, http.StatusBadRequest, "only completed days can be evaluated", nil)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout())
	defer cancel()
	summary := h.Evaluator.EvaluateAll(ctx, h.Combinations, r)
	Ok(c, gin.H{
		"from":          r.From.Format(dateLayout),
		"to":            r.To.Format(dateLayout),
		"combinations":  summary.Evaluated,
		"complete_days": summary.Complete,
		"skipped_days":  summary.Skipped,
		"failed":        summary.Failed,
	}, nil)
}
