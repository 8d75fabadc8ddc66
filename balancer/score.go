package balancer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"cortex/stats"
)

var (
	ErrInvalidThreshold = errors.New("tolerance threshold must be greater than 0")
	ErrNegativeLoad     = errors.New("load counters must not be negative")
	ErrScoreOverflow    = errors.New("balance score overflows")
)

// Score is the outcome of one score computation. When the computation
// fails, Fallback is set, Err holds the cause and Value is the configured
// minimum container count rather than a derived number.
type Score struct {
	Value    int
	Fallback bool
	Err      error
}

// RawScore returns (queued - running*threshold) / threshold. The division
// truncates toward zero, so load within one threshold of balance scores 0.
func RawScore(queued, running int64, threshold int) (int, error) {
	if threshold <= 0 {
		return 0, fmt.Errorf("%w, got %d", ErrInvalidThreshold, threshold)
	}
	if queued < 0 || running < 0 {
		return 0, fmt.Errorf("%w: queued=%d running=%d", ErrNegativeLoad, queued, running)
	}

	t := int64(threshold)
	if running > math.MaxInt64/t {
		return 0, fmt.Errorf("%w: running=%d threshold=%d", ErrScoreOverflow, running, threshold)
	}

	v := (queued - running*t) / t
	if v > math.MaxInt || v < math.MinInt {
		return 0, fmt.Errorf("%w: %d", ErrScoreOverflow, v)
	}
	return int(v), nil
}

func (b *Balancer) calculateScore(ctx context.Context, load stats.Snapshot) Score {
	v, err := RawScore(load.QueuedJobs, load.RunningWorkers, b.cfg.ToleranceThreshold)
	if err != nil {
		b.logger.Errorw("Failed to calculate balance score, falling back to min containers",
			zap.Error(err), zap.Int("fallback", b.cfg.MinContainers))
		return Score{Value: b.cfg.MinContainers, Fallback: true, Err: err}
	}

	b.logger.Debugw("Calculated balance score",
		zap.Int("score", v),
		zap.Int64("queuedJobs", load.QueuedJobs),
		zap.Int64("runningWorkers", load.RunningWorkers))
	b.metrics.recordScore(ctx, v)
	return Score{Value: v}
}
