// Package schedule runs pipeline jobs on a cron schedule for watch mode.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work
type Job func(ctx context.Context)

// Scheduler wraps a seconds-resolution cron that never overlaps runs
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	logger  *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New parses spec (six fields, seconds first) in timezone and binds job to it
func New(spec, timezone string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
		loc = l
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := s.cron.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.Time("next", s.cron.Entry(s.entryID).Next))
}

// Stop halts activations, cancels the running job's context and waits for it to
// return. A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next activation time, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
