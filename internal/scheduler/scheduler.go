// Package scheduler runs the daily ledger sweeps on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/sweep"
)

// ReturnsSweeper accrues daily FCI returns.
type ReturnsSweeper interface {
	ProcessDailyReturns(ctx context.Context) (sweep.Report, error)
}

// OverdueSweeper penalises overdue installments.
type OverdueSweeper interface {
	ProcessOverdueInstallments(ctx context.Context) (sweep.Report, error)
}

// Config holds the cron expressions and the calendar they run in.
type Config struct {
	ReturnsSchedule string
	OverdueSchedule string
	Location        *time.Location
	// Timeout bounds a single run. Zero means 30 minutes.
	Timeout time.Duration
}

// Jobs contains the logic for the scheduled sweeps.
type Jobs struct {
	returns ReturnsSweeper
	overdue OverdueSweeper
	log     *zap.Logger
	timeout time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(returns ReturnsSweeper, overdue OverdueSweeper, log *zap.Logger, timeout time.Duration) *Jobs {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Jobs{returns: returns, overdue: overdue, log: log, timeout: timeout}
}

// DailyReturns runs the accrual sweep once.
func (j *Jobs) DailyReturns() {
	j.run(sweep.DailyReturns, j.returns.ProcessDailyReturns)
}

// OverdueInstallments runs the penalty sweep once.
func (j *Jobs) OverdueInstallments() {
	j.run(sweep.OverdueInstallments, j.overdue.ProcessOverdueInstallments)
}

func (j *Jobs) run(name string, fn func(context.Context) (sweep.Report, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info("starting sweep", zap.String("sweep", name))
	report, err := fn(ctx)
	if err != nil {
		j.log.Error("sweep aborted", zap.String("sweep", name), zap.Error(err),
			zap.Int("processed", report.Processed), zap.Int("failed", report.Failed))
		return
	}
	if report.Failed > 0 {
		j.log.Warn("sweep finished with failures", zap.String("sweep", name),
			zap.Int("processed", report.Processed), zap.Int("skipped", report.Skipped), zap.Int("failed", report.Failed))
		return
	}
	j.log.Info("sweep finished", zap.String("sweep", name),
		zap.Int("processed", report.Processed), zap.Int("skipped", report.Skipped))
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
	log  *zap.Logger
	cfg  Config
}

// New creates a scheduler. Runs of the same job never overlap.
func New(jobs *Jobs, log *zap.Logger, cfg Config) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, jobs: jobs, log: log, cfg: cfg}
}

// Start registers the jobs and starts the cron scheduler. An invalid
// schedule is an error; nothing is started in that case.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReturnsSchedule, s.jobs.DailyReturns); err != nil {
		return fmt.Errorf("schedule %s %q: %w", sweep.DailyReturns, s.cfg.ReturnsSchedule, err)
	}
	s.log.Info("scheduled sweep", zap.String("sweep", sweep.DailyReturns), zap.String("schedule", s.cfg.ReturnsSchedule))

	if _, err := s.cron.AddFunc(s.cfg.OverdueSchedule, s.jobs.OverdueInstallments); err != nil {
		return fmt.Errorf("schedule %s %q: %w", sweep.OverdueInstallments, s.cfg.OverdueSchedule, err)
	}
	s.log.Info("scheduled sweep", zap.String("sweep", sweep.OverdueInstallments), zap.String("schedule", s.cfg.OverdueSchedule))

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done
// once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports the next run of every registered job.
func (s *Scheduler) Entries() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
