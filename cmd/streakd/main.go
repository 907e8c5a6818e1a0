package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/jamesmarlowww/tradingbot/internal/app"
	"github.com/jamesmarlowww/tradingbot/internal/auth"
	"github.com/jamesmarlowww/tradingbot/internal/cache"
	"github.com/jamesmarlowww/tradingbot/internal/controller"
	cronrunner "github.com/jamesmarlowww/tradingbot/internal/cron"
	"github.com/jamesmarlowww/tradingbot/internal/gate"
	"github.com/jamesmarlowww/tradingbot/internal/handler"
	"github.com/jamesmarlowww/tradingbot/internal/logger"
	"github.com/jamesmarlowww/tradingbot/internal/notify"
	"github.com/jamesmarlowww/tradingbot/internal/service"
	"github.com/jamesmarlowww/tradingbot/internal/supervisor"

	_ "github.com/jamesmarlowww/tradingbot/docs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	settings, err := controller.SettingsFromConfig(cfg)
	if err != nil {
		logger.Fatal("invalid automation config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(cfg, true, logger)
	if err != nil {
		logger.Fatal("store open failed", zap.Error(err))
	}
	defer store.Close()
	repo := store.Repo

	checks := store.Checks
	var decisions *cache.DecisionCache
	if rs := app.OpenRedis(cfg.Redis); rs != nil {
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		checks["redis"] = rs.Ping
		decisions = &cache.DecisionCache{Store: rs, Prefix: cfg.Redis.Prefix, TTL: settings.StalenessBound}
	}

	notifier := notify.New(cfg.Notify.BaseURL, cfg.Notify.APIKey, cfg.Notify.Agent, logger.Named("notify"))

	sup := supervisor.New(&supervisor.ExecLauncher{
		Command: cfg.Supervisor.WorkerCommand,
		Logger:  logger.Named("launcher"),
	}, repo, supervisor.ConfigFrom(cfg.Supervisor), logger.Named("supervisor"))
	if notifier != nil {
		sup.Notifier = notifier
	}

	switches := &service.SwitchService{Repo: repo}
	ctrl := controller.New(repo, sup, switches, settings, logger.Named("controller"))
	if decisions != nil {
		ctrl.Cache = decisions
	}

	eval, err := app.NewEvaluator(ctx, cfg, repo, logger.Named("evaluator"))
	if err != nil {
		logger.Fatal("evaluator init failed", zap.Error(err))
	}

	var reader gate.DecisionReader = repo
	if strings.EqualFold(cfg.Gate.Source, "redis") && decisions != nil {
		reader = decisions
	}
	execGate := &gate.Gate{
		Reader:         reader,
		Logger:         logger.Named("gate"),
		StalenessBound: settings.StalenessBound,
		ReadTimeout:    cfg.Gate.ReadTimeout,
		ClockSkew:      cfg.Gate.ClockSkew,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	jwtAuth := auth.JWT{Secret: []byte(cfg.Server.JWTSecret), TokenTTL: cfg.Server.TokenTTL}
	if !jwtAuth.Enabled() {
		logger.Warn("server.jwt_secret not set; the operator API is unauthenticated")
	}
	engine.Use(auth.Middleware(jwtAuth))
	engine.Use(notify.AuditMiddleware(notifier, logger))

	healthHandler := &handler.HealthHandler{Checks: checks}
	healthHandler.Register(engine)
	automationHandler := &handler.AutomationHandler{
		Repo:           repo,
		Controller:     ctrl,
		Workers:        sup,
		Switches:       switches,
		Gate:           execGate,
		Evaluator:      eval,
		Combinations:   eval.Combinations,
		TriggerTimeout: cfg.Automation.ManualTriggerTTL,
		Logger:         logger.Named("api"),
	}
	automationHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	cronRunner := cronrunner.New(logger, ctx)
	var evalEntry cron.EntryID
	if cfg.Cron.Enabled {
		evalEntry, err = cronRunner.Add("evaluator", cfg.Cron.Evaluator, func(ctx context.Context) {
			summary := eval.RunOnce(ctx)
			if len(summary.Failed) > 0 {
				notifier.Notify(ctx, "warn", "evaluation failures", map[string]any{
					"failed": summary.Failed,
					"from":   summary.Range.Start().Format("2006-01-02"),
				})
			}
		})
		if err != nil {
			logger.Warn("cron register evaluator failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()
	if evalEntry != 0 {
		logger.Info("evaluator scheduled", zap.Time("next", cronRunner.Next(evalEntry)))
	}

	go reloadOnHangup(ctx, ctrl, logger)

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("controller stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	// The controller stops every worker before Run returns.
	<-ctrlDone
	logger.Info("shutdown complete")
}

// reloadOnHangup re-reads the config on SIGHUP; the new settings apply from
// the next cycle.
func reloadOnHangup(ctx context.Context, ctrl *controller.Controller, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := app.LoadConfig()
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			settings, err := controller.SettingsFromConfig(cfg)
			if err != nil {
				logger.Warn("config reload rejected", zap.Error(err))
				continue
			}
			ctrl.Reload(settings)
			logger.Info("config reloaded", zap.Int("scopes", len(settings.Scopes)))
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
