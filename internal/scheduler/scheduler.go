// Package scheduler runs the periodic sync jobs on a cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPushCheckInterval is how often push channel liveness is checked.
const DefaultPushCheckInterval = 15 * time.Second

// DefaultHousekeepingSpec is the cron spec for the housekeeping job.
const DefaultHousekeepingSpec = "@daily"

// ErrInvalidInterval is returned for a non-positive update interval.
var ErrInvalidInterval = errors.New("scheduler: interval must be positive")

// Logger is the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Syncer is the work the scheduler drives.
type Syncer interface {
	Update(ctx context.Context) error
	CheckPush(ctx context.Context) int
}

// Options configures a Scheduler.
type Options struct {
	// UpdateInterval is the update cycle period.
	UpdateInterval time.Duration

	// PushCheckInterval is the liveness check period. Zero means
	// DefaultPushCheckInterval; negative disables the check.
	PushCheckInterval time.Duration

	// Housekeeping runs on HousekeepingSpec when set, e.g. audit pruning.
	Housekeeping func(ctx context.Context) error

	// HousekeepingSpec is a cron spec. Empty means DefaultHousekeepingSpec.
	HousekeepingSpec string

	Logger Logger
}

// Scheduler runs update cycles, push liveness checks and housekeeping. A job that is
// still running when its next tick fires skips that tick.
//
// Thread Safety:
//   - Start, Stop and RunNow are safe for concurrent use.
type Scheduler struct {
	cron         *cron.Cron
	syncer       Syncer
	housekeeping func(ctx context.Context) error
	logger       Logger

	// updateMu serializes update cycles from the cron and RunNow.
	updateMu sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs. Nothing runs until Start.
func New(s Syncer, opts Options) (*Scheduler, error) {
	if opts.UpdateInterval <= 0 {
		return nil, ErrInvalidInterval
	}
	if opts.PushCheckInterval == 0 {
		opts.PushCheckInterval = DefaultPushCheckInterval
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	cl := cronLogger{logger}
	sch := &Scheduler{
		cron:         cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		syncer:       s,
		housekeeping: opts.Housekeeping,
		logger:       logger,
		ctx:          context.Background(),
	}

	if _, err := sch.cron.AddFunc(every(opts.UpdateInterval), sch.runUpdate); err != nil {
		return nil, fmt.Errorf("scheduling update cycle: %w", err)
	}
	if opts.PushCheckInterval > 0 {
		if _, err := sch.cron.AddFunc(every(opts.PushCheckInterval), sch.runPushCheck); err != nil {
			return nil, fmt.Errorf("scheduling push check: %w", err)
		}
	}
	if opts.Housekeeping != nil {
		spec := opts.HousekeepingSpec
		if spec == "" {
			spec = DefaultHousekeepingSpec
		}
		if _, err := sch.cron.AddFunc(spec, sch.runHousekeeping); err != nil {
			return nil, fmt.Errorf("scheduling housekeeping %q: %w", spec, err)
		}
	}
	return sch, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins running jobs. Jobs receive a context derived from ctx that
// is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow runs one update cycle immediately, waiting for any scheduled
// cycle in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.syncer.Update(ctx)
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) runUpdate() {
	ctx := s.jobContext()
	if !s.updateMu.TryLock() {
		s.logger.Debug("update cycle already running, skipping tick")
		return
	}
	defer s.updateMu.Unlock()

	if err := s.syncer.Update(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduled update failed", "error", err)
	}
}

func (s *Scheduler) runPushCheck() {
	if n := s.syncer.CheckPush(s.jobContext()); n > 0 {
		s.logger.Info("reconnected stale push channels", "count", n)
	}
}

func (s *Scheduler) runHousekeeping() {
	ctx := s.jobContext()
	if err := s.housekeeping(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("housekeeping failed", "error", err)
	}
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	l Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
