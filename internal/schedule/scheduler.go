package schedule

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// CronScheduler runs jobs on minute-resolution cron specs. A job still
// running when its next tick fires is skipped, not queued.
type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	entry := &jobEntry{scheduler: c, job: job, spec: spec}
	if _, err := c.cron.AddFunc(spec, entry.tick); err != nil {
		entry.logger(context.Background()).Error("schedule job failed", zap.Error(err))
		return err
	}
	entry.logger(context.Background()).Info("job scheduled")
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

// Stop waits for in-flight jobs to return before coming back.
func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) runCtx() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

type jobEntry struct {
	scheduler *CronScheduler
	job       Job
	spec      string
	running   atomic.Bool
}

func (e *jobEntry) logger(ctx context.Context) *zap.Logger {
	return logutil.GetLogger(ctx).With(
		zap.String("job", e.job.Name()),
		zap.String("spec", e.spec),
	)
}

func (e *jobEntry) tick() {
	if !e.running.CompareAndSwap(false, true) {
		e.logger(context.Background()).Info("job skipped: still running")
		return
	}
	defer e.running.Store(false)

	ctx := e.scheduler.runCtx()
	logger := e.logger(ctx)
	// A panicking job must not take the whole cron loop down with it.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", zap.Any("panic", r))
		}
	}()
	start := time.Now()
	logger.Info("job started")
	err := e.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
}
