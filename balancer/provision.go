package balancer

import (
	"context"

	"go.uber.org/zap"
)

// Provision tops the pool up to the configured maximum in one burst,
// bypassing the score. It is a no-op unless provisioning is allowed and
// returns the number of containers it asked the driver to start.
func (b *Balancer) Provision(ctx context.Context) int {
	if !b.cfg.AllowProvision {
		b.logger.Debug("Container provisioning is disabled")
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("Triggered container provision")
	if err := b.refresh(ctx); err != nil {
		b.logger.Errorw("Failed to refresh container inventory", zap.Error(err))
		return 0
	}

	current, err := b.listAll(ctx)
	if err != nil {
		b.logger.Errorw("Failed to list containers", zap.Error(err))
		return 0
	}

	maxContainers := b.cfg.MaxContainers
	b.logger.Infow("Provision inventory", zap.Int("current", current), zap.Int("max", maxContainers))
	if maxContainers <= current {
		return 0
	}

	n := maxContainers - current
	// Cannot trigger while current >= 0; kept as the hard ceiling on a burst.
	if n > maxContainers {
		b.logger.Warnw("Max provision containers reached", zap.Int("wanted", n), zap.Int("max", maxContainers))
		n = maxContainers
	}

	b.logger.Infow("Loading new containers", zap.Int("count", n))
	if err := b.start(ctx, n); err != nil {
		b.logger.Errorw("Failed to provision containers", zap.Int("count", n), zap.Error(err))
		return 0
	}
	return n
}

// TriggerProvision requests a provision without waiting for it. The work
// runs on the balancer's own goroutine (see Run); requests made while one
// is already pending are folded into it.
func (b *Balancer) TriggerProvision() {
	if !b.cfg.AllowProvision {
		b.logger.Debug("Container provisioning is disabled, ignoring trigger")
		return
	}

	select {
	case b.provisions <- struct{}{}:
	default:
		b.logger.Debug("Provision already pending")
	}
}

func (b *Balancer) provisionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.provisions:
			b.Provision(ctx)
		}
	}
}
