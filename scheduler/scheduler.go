package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// 1. Wait for the initial delay
// 2. Run the job, then keep running it at a fixed rate
// 3. Never run two executions of the same job at once

// Job is one execution of a recurring task.
type Job func(ctx context.Context)

// Runner drives a Job on a fixed-rate timer. Executions are serial: the job
// runs on the Start goroutine only. If an execution outlasts the interval,
// at most one tick is held for it and any further ticks are dropped, so a
// slow job delays the schedule instead of stacking or overlapping.
type Runner struct {
	Name     string
	Delay    time.Duration
	Interval time.Duration
	Job      Job

	logger *zap.SugaredLogger
}

var ErrInvalidSchedule = errors.New("invalid schedule")

func New(name string, delay, interval time.Duration, job Job, logger *zap.SugaredLogger) (*Runner, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: %s has no job", ErrInvalidSchedule, name)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s interval must be positive, got %v", ErrInvalidSchedule, name, interval)
	}
	if delay < 0 || delay >= interval {
		return nil, fmt.Errorf("%w: %s initial delay %v must be shorter than interval %v", ErrInvalidSchedule, name, delay, interval)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Runner{
		Name:     name,
		Delay:    delay,
		Interval: interval,
		Job:      job,
		logger:   logger.With(zap.String("runner", name)),
	}, nil
}

// Start blocks until ctx is cancelled. It always returns nil so it can be
// handed to an errgroup without turning a clean shutdown into an error.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Debugw("Waiting before first run", zap.Duration("delay", r.Delay))

	timer := time.NewTimer(r.Delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.run(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Runner stopped")
			return nil
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Runner) run(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorw("Job panicked", zap.Any("panic", p))
		}
	}()

	start := time.Now()
	r.Job(ctx)
	if elapsed := time.Since(start); elapsed > r.Interval {
		r.logger.Warnw("Job outlasted its interval", zap.Duration("elapsed", elapsed), zap.Duration("interval", r.Interval))
	}
}
