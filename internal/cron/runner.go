package cronrunner

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules named jobs on second-resolution cron specs. Every job
// receives the runner's base context, so cancelling it stops in-flight work.
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name. Overlapping runs of the same job are skipped.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		ctx := r.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if r.logger != nil {
			r.logger.Info("cron job started", zap.String("job", name))
		}
		job(ctx)
		if r.logger != nil {
			r.logger.Info("cron job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
		}
	})
}

// Next returns the next scheduled time of an entry, zero when unknown.
func (r *Runner) Next(id cron.EntryID) time.Time {
	e := r.cron.Entry(id)
	if e.Next.IsZero() && e.Schedule != nil {
		return e.Schedule.Next(time.Now().UTC())
	}
	return e.Next
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started")
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}
