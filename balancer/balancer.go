package balancer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cortex/config"
	"cortex/scheduler"
	"cortex/stats"
)

// 1. Read the load counters and the container inventory
// 2. Score the load against the tolerance threshold
// 3. Start or kill a bounded number of containers

// Balancer is the elastic balancer. One instance is built by the process
// composition root and handed to whatever needs to trigger it.
//
// Scheduled cycles and provisioning share mu, so at most one of them is
// mutating the pool at any time.
type Balancer struct {
	cfg      config.BalancerConfig
	counters *stats.Counters
	driver   Driver
	metrics  *balancerMetrics
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	provisions chan struct{}
	last       atomic.Pointer[Status]
	now        func() time.Time
}

// Outcome describes what a single cycle did.
type Outcome struct {
	// Paused is set when fewer containers than the minimum are registered.
	// No score is computed and no command is issued.
	Paused  bool
	Score   Score
	Command Command
	// Err is the lifecycle driver failure that ended the cycle early.
	Err error
}

// Status is the last cycle's outcome and when it finished.
type Status struct {
	At      time.Time
	Outcome Outcome
}

type Option func(*Balancer)

// WithMeterProvider records balancer metrics on mp instead of the global
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(b *Balancer) {
		b.metrics = newMetrics(mp)
	}
}

func New(cfg config.BalancerConfig, counters *stats.Counters, driver Driver, logger *zap.SugaredLogger, opts ...Option) (*Balancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if counters == nil {
		return nil, errors.New("'counters' must not be nil")
	}
	if driver == nil {
		return nil, errors.New("'driver' must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	b := &Balancer{
		cfg:        cfg,
		counters:   counters,
		driver:     driver,
		logger:     logger,
		provisions: make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = newMetrics(nil)
	}

	b.logger.Infow("Elastic balancer loaded",
		zap.Bool("allowProvision", cfg.AllowProvision),
		zap.Int("toleranceThreshold", cfg.ToleranceThreshold),
		zap.Int("minContainers", cfg.MinContainers),
		zap.Int("maxContainers", cfg.MaxContainers))
	return b, nil
}

// Balance runs one cycle: inventory read, minimum-pool guard, score,
// decision, lifecycle command, metrics. Driver failures end the cycle and
// are returned in the outcome; the next cycle tries again.
func (b *Balancer) Balance(ctx context.Context) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.balance(ctx)
	b.last.Store(&Status{At: b.now(), Outcome: out})
	return out
}

func (b *Balancer) balance(ctx context.Context) Outcome {
	registered, err := b.listAll(ctx)
	if err != nil {
		b.logger.Errorw("Failed to list containers, skipping cycle", zap.Error(err))
		return Outcome{Err: err}
	}

	if registered < b.cfg.MinContainers {
		b.logger.Infow("Registered containers don't reach the minimum, elastic balance paused",
			zap.Int("registered", registered), zap.Int("min", b.cfg.MinContainers))
		return Outcome{Paused: true}
	}

	b.logger.Debug("Calculating balancer score")
	load := b.counters.Snapshot()
	score := b.calculateScore(ctx, load)

	running, err := b.listRunning(ctx)
	if err != nil {
		b.logger.Errorw("Failed to list running containers, skipping cycle", zap.Error(err))
		return Outcome{Score: score, Err: err}
	}

	cmd := b.decide(score.Value, int(load.RunningWorkers), running)
	if err := b.execute(ctx, cmd); err != nil {
		b.logger.Errorw("Failed to issue scaling command", zap.Stringer("command", cmd), zap.Error(err))
		return Outcome{Score: score, Command: cmd, Err: err}
	}
	return Outcome{Score: score, Command: cmd}
}

// LastStatus returns the outcome of the most recent cycle, or nil before
// the first one completes.
func (b *Balancer) LastStatus() *Status {
	return b.last.Load()
}

// Run starts the cycle scheduler and the provisioning worker and blocks
// until ctx is cancelled.
func (b *Balancer) Run(ctx context.Context) error {
	runner, err := scheduler.New("elastic-balancer", b.cfg.InitialDelay, b.cfg.Interval,
		func(ctx context.Context) { b.Balance(ctx) }, b.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Start(ctx)
	})
	g.Go(func() error {
		b.provisionLoop(ctx)
		return nil
	})
	return g.Wait()
}
