// Package scheduler runs the periodic sweeps: overdue payments, lease
// activation and expiry, and monthly rent issuance.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names
const (
	JobOverdue = "overdue"
	JobLeases  = "leases"
	JobRent    = "rent"
)

// Scheduler owns the cron runner
type Scheduler struct {
	engines *engine.Engines
	cfg     config.SchedulerConfig
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time
	jobs    map[string]func(context.Context) error

	mu      sync.Mutex
	started bool
}

// New creates a scheduler; nothing runs until Start
func New(engines *engine.Engines, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	s := &Scheduler{
		engines: engines,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
	}
	s.jobs = map[string]func(context.Context) error{
		JobOverdue: s.sweepOverdue,
		JobLeases:  s.sweepLeases,
		JobRent:    s.issueRent,
	}
	return s
}

// Start registers the jobs and starts the runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	specs := map[string]string{
		JobOverdue: s.cfg.OverdueSpec,
		JobLeases:  s.cfg.LeaseSpec,
		JobRent:    s.cfg.RentSpec,
	}
	for name, spec := range specs {
		if spec == "" {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.run(name) }); err != nil {
			return fmt.Errorf("invalid schedule for %s job %q: %w", name, spec, err)
		}
		s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
	s.started = false
}

// Jobs lists the job names
func Jobs() []string {
	out := []string{JobOverdue, JobLeases, JobRent}
	sort.Strings(out)
	return out
}

// RunOnce runs one job immediately
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job(ctx)
}

func (s *Scheduler) run(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
	defer cancel()

	start := time.Now()
	err := s.jobs[name](ctx)
	metrics.RecordJob(name, time.Since(start), err == nil)
	if err != nil {
		s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) sweepOverdue(ctx context.Context) error {
	_, err := s.engines.Payments.MarkOverdue(ctx)
	return err
}

func (s *Scheduler) sweepLeases(ctx context.Context) error {
	if _, err := s.engines.Leases.ActivateDue(ctx); err != nil {
		return err
	}
	_, err := s.engines.Leases.ExpireDue(ctx)
	return err
}

// issueRent bills the month that starts within the lead time
func (s *Scheduler) issueRent(ctx context.Context) error {
	period := s.now().UTC().AddDate(0, 0, s.cfg.RentLeadDays).Format("2006-01")
	_, err := s.engines.Payments.IssueMonthlyRent(ctx, period)
	return err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
