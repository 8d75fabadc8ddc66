package balancer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cortex/config"
)

// Action is what a cycle asks the lifecycle driver to do.
type Action int

const (
	NoOp Action = iota
	StartContainers
	KillContainers
)

func (a Action) String() string {
	switch a {
	case StartContainers:
		return "start"
	case KillContainers:
		return "kill"
	default:
		return "noop"
	}
}

// Command is the single scaling command issued by a cycle. Target is the
// post-balance container count the command was derived from.
type Command struct {
	Action Action
	Count  int
	Target int
}

func (c Command) String() string {
	return fmt.Sprintf("%s(%d)", c.Action, c.Count)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// poolBoundsClamp keeps the post-balance target inside the pool bounds.
// It must run before rateLimitClamp.
func poolBoundsClamp(action Action, target, runningWorkers int, cfg config.BalancerConfig) int {
	switch action {
	case KillContainers:
		if runningWorkers-target <= cfg.MinContainers {
			return cfg.MinContainers
		}
	case StartContainers:
		if target >= cfg.MaxContainers {
			return cfg.MaxContainers
		}
	}
	return target
}

// rateLimitClamp caps a per-cycle start or kill count.
func rateLimitClamp(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}

// decide turns a balance score into a bounded command.
func decide(score, runningWorkers, runningContainers int, cfg config.BalancerConfig) Command {
	target := abs(score)

	switch sign(score) {
	case -1:
		target = poolBoundsClamp(KillContainers, target, runningWorkers, cfg)
		n := abs(runningContainers - target)
		return Command{Action: KillContainers, Count: rateLimitClamp(n, cfg.MaxShutdownsPerCycle), Target: target}
	case 1:
		target = poolBoundsClamp(StartContainers, target, runningWorkers, cfg)
		n := abs(target - runningContainers)
		return Command{Action: StartContainers, Count: rateLimitClamp(n, cfg.MaxBootsPerCycle), Target: target}
	default:
		return Command{Action: NoOp, Target: target}
	}
}

func (b *Balancer) decide(score, runningWorkers, runningContainers int) Command {
	if runningContainers != runningWorkers {
		b.logger.Warnw("Workers and containers don't match",
			zap.Int("workers", runningWorkers), zap.Int("containers", runningContainers))
	}

	cmd := decide(score, runningWorkers, runningContainers, b.cfg)

	switch cmd.Action {
	case KillContainers:
		if want := abs(runningContainers - cmd.Target); want > cmd.Count {
			b.logger.Infow("Max containers to kill per cycle reached",
				zap.Int("wanted", want), zap.Int("max", b.cfg.MaxShutdownsPerCycle))
		}
	case StartContainers:
		if want := abs(cmd.Target - runningContainers); want > cmd.Count {
			b.logger.Infow("Max containers to start per cycle reached",
				zap.Int("wanted", want), zap.Int("max", b.cfg.MaxBootsPerCycle))
		}
	case NoOp:
		b.logger.Debugw("Null score, keeping containers",
			zap.Int("workers", runningWorkers), zap.Int("afterBalance", runningWorkers-cmd.Target))
	}
	return cmd
}

// execute issues cmd through the driver and records the issued count.
func (b *Balancer) execute(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case KillContainers:
		b.logger.Infow("Killing containers", zap.Int("count", cmd.Count), zap.Int("left", cmd.Target))
		if err := b.kill(ctx, cmd.Count); err != nil {
			return err
		}
		b.metrics.recordKilled(ctx, cmd.Count)
	case StartContainers:
		b.logger.Infow("Adding containers", zap.Int("count", cmd.Count), zap.Int("present", cmd.Target))
		if err := b.start(ctx, cmd.Count); err != nil {
			return err
		}
		b.metrics.recordStarted(ctx, cmd.Count)
	}
	return nil
}
