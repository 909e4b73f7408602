// Package scheduler runs the rental service's periodic jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OverdueNotifier is the job that sends overdue notices
type OverdueNotifier interface {
	NotifyOverdue(ctx context.Context) error
}

// EventRetrier republishes events that previously failed
type EventRetrier interface {
	RetryBufferedEvents(ctx context.Context) int
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron       *cron.Cron
	notifier   OverdueNotifier
	retrier    EventRetrier
	jobTimeout time.Duration
	logger     *zap.Logger
}

// Config holds cron specs (with seconds) for each job
type Config struct {
	NotifyOverdue string
	RetryEvents   string
	JobTimeout    time.Duration
	Location      *time.Location
}

// New creates a scheduler and registers its jobs. retrier may be nil.
func New(cfg Config, notifier OverdueNotifier, retrier EventRetrier, logger *zap.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	cronLogger := NewCronLogger(logger)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
		),
		notifier:   notifier,
		retrier:    retrier,
		jobTimeout: cfg.JobTimeout,
		logger:     logger,
	}

	if _, err := s.cron.AddFunc(cfg.NotifyOverdue, s.runNotifyOverdue); err != nil {
		return nil, fmt.Errorf("failed to register NotifyOverdue job: %w", err)
	}

	if retrier != nil && cfg.RetryEvents != "" {
		if _, err := s.cron.AddFunc(cfg.RetryEvents, s.runRetryEvents); err != nil {
			return nil, fmt.Errorf("failed to register RetryEvents job: %w", err)
		}
	}

	return s, nil
}

// Start starts the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Stopping scheduler")
	return s.cron.Stop()
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	if s.jobTimeout > 0 {
		return context.WithTimeout(context.Background(), s.jobTimeout)
	}
	return context.WithCancel(context.Background())
}

func (s *Scheduler) runNotifyOverdue() {
	s.runWithRecovery("NotifyOverdue", func(ctx context.Context) {
		if err := s.notifier.NotifyOverdue(ctx); err != nil {
			s.logger.Error("Overdue notification run failed", zap.Error(err))
		}
	})
}

func (s *Scheduler) runRetryEvents() {
	s.runWithRecovery("RetryEvents", func(ctx context.Context) {
		s.retrier.RetryBufferedEvents(ctx)
	})
}

// runWithRecovery keeps a panicking job from taking down the process
func (s *Scheduler) runWithRecovery(name string, job func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := s.jobContext()
	defer cancel()

	start := time.Now()
	job(ctx)
	s.logger.Debug("Job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// CronLogger adapts a zap logger to cron.Logger
type CronLogger struct {
	sugar *zap.SugaredLogger
}

var _ cron.Logger = CronLogger{}

func NewCronLogger(logger *zap.Logger) CronLogger {
	return CronLogger{sugar: logger.Sugar()}
}

// Info logs routine cron messages at debug level
func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
