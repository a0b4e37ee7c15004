// Package h3sched runs many driver state machines (h3request.SendDriver,
// h3response.RecvDriver) concurrently on a bounded goroutine pool, per
// spec §5's "multiple drivers may run concurrently on one or multiple
// executor threads". Adapted from the teacher's internal/worker.Pool: an
// available-capacity channel plays the role of Pool.available, but a slot
// here is a concurrency token, not a reusable worker — an HTTP/3 driver
// is a one-shot state machine, unlike a PHP worker process that's handed
// back to the pool after each request.
package h3sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes a Scheduler, mirroring the Scheduler section of
// internal/config.
type Config struct {
	// MaxConcurrentDrivers bounds how many driver tasks may run at once.
	MaxConcurrentDrivers int
	// SubmitTimeout bounds how long Run/Go wait for a free slot before
	// failing. Zero means wait indefinitely (subject to ctx).
	SubmitTimeout time.Duration
}

// StatsGetter mirrors the teacher's worker.StatsGetter shape, repointed at
// driver goroutines instead of PHP worker processes.
type StatsGetter interface {
	TotalCapacity() int
	ActiveDrivers() int
	IdleCapacity() int
	TotalRun() int64
}

// Stats is a point-in-time snapshot of a Scheduler's occupancy.
type Stats struct {
	totalCapacity int
	active        int
	idle          int
	totalRun      int64
}

func (s Stats) TotalCapacity() int { return s.totalCapacity }
func (s Stats) ActiveDrivers() int { return s.active }
func (s Stats) IdleCapacity() int  { return s.idle }
func (s Stats) TotalRun() int64    { return s.totalRun }

// Scheduler bounds concurrent driver execution to Config.MaxConcurrentDrivers.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	available chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active   atomic.Int32
	totalRun atomic.Int64
}

// New constructs a Scheduler with cfg.MaxConcurrentDrivers slots of
// capacity (at least 1). logger may be nil.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MaxConcurrentDrivers <= 0 {
		cfg.MaxConcurrentDrivers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:       cfg,
		logger:    logger,
		available: make(chan struct{}, cfg.MaxConcurrentDrivers),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.MaxConcurrentDrivers; i++ {
		s.available <- struct{}{}
	}
	return s
}

// Run acquires a slot and runs task synchronously on the caller's
// goroutine, blocking until a slot is free (or ctx is cancelled, the
// scheduler is stopped, or SubmitTimeout elapses). Use this to drive a
// SendDriver directly: sched.Run(ctx, "req-1", drv.Run).
func (s *Scheduler) Run(ctx context.Context, label string, task func(context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.exec(ctx, label, task)
}

// Go acquires a slot and runs task on a new goroutine, returning
// immediately. The returned channel receives task's result (including any
// failure to acquire a slot) exactly once. Use this to drive a
// RecvDriver's head-of-stream read off the caller's goroutine.
func (s *Scheduler) Go(ctx context.Context, label string, task func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	if err := s.acquire(ctx); err != nil {
		done <- err
		return done
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		done <- s.exec(ctx, label, task)
	}()
	return done
}

func (s *Scheduler) exec(ctx context.Context, label string, task func(context.Context) error) error {
	s.active.Add(1)
	defer s.active.Add(-1)
	s.totalRun.Add(1)

	if s.logger != nil {
		s.logger.Debug("driver started", "label", label)
	}
	err := task(ctx)
	if s.logger != nil {
		if err != nil {
			s.logger.Warn("driver failed", "label", label, "error", err)
		} else {
			s.logger.Debug("driver finished", "label", label)
		}
	}
	return err
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("h3sched: scheduler shutting down")
	}
	var timeoutCh <-chan time.Time
	if s.cfg.SubmitTimeout > 0 {
		timer := time.NewTimer(s.cfg.SubmitTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case <-s.available:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("h3sched: scheduler shutting down")
	case <-timeoutCh:
		return fmt.Errorf("h3sched: no capacity available within %s", s.cfg.SubmitTimeout)
	}
}

func (s *Scheduler) release() {
	select {
	case s.available <- struct{}{}:
	default:
	}
}

// Stop prevents further submissions and waits for every driver scheduled
// via Go to finish. Drivers started via Run are the caller's own
// goroutine's responsibility and are not waited on here.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Stats reports current pool occupancy, mirroring the teacher's
// worker.Pool.Stats.
func (s *Scheduler) Stats() StatsGetter {
	return Stats{
		totalCapacity: s.cfg.MaxConcurrentDrivers,
		active:        int(s.active.Load()),
		idle:          s.cfg.MaxConcurrentDrivers - int(s.active.Load()),
		totalRun:      s.totalRun.Load(),
	}
}
