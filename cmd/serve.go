package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cortex/api"
	"cortex/balancer"
	"cortex/config"
	"cortex/logging"
	"cortex/manager"
	"cortex/scheduler"
	"cortex/stats"
	"cortex/worker"
)

func newServeCmd(load loader) *cobra.Command {
	var provision bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job server and the elastic balancer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, provision, logger)
		},
	}
	cmd.Flags().BoolVar(&provision, "provision", false, "top the pool up to max_containers on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, provision bool, logger *zap.SugaredLogger) error {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	driver, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}

	counters := stats.NewCounters()
	bal, err := balancer.New(cfg.Balancer, counters, driver, logging.Named(logger, "balancer"), balancer.WithMeterProvider(mp))
	if err != nil {
		return err
	}
	m := manager.New(counters, logging.Named(logger, "manager"))
	workers := worker.NewRegistry(counters, logging.Named(logger, "workers"))

	observer, err := scheduler.New("container-observer", cfg.Docker.ObserverDelay, cfg.Docker.ObserverInterval,
		func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, cfg.Balancer.DriverTimeout)
			defer cancel()
			if err := driver.Refresh(ctx); err != nil {
				logger.Warnw("Failed to refresh container inventory", zap.Error(err))
			}
		}, logging.Named(logger, "observer"))
	if err != nil {
		return err
	}

	reaper, err := scheduler.New("worker-reaper", 0, cfg.Workers.ReapInterval,
		func(context.Context) {
			for _, name := range workers.Reap(cfg.Workers.HeartbeatTTL) {
				m.ReleaseWorker(name)
			}
		}, logging.Named(logger, "workers"))
	if err != nil {
		return err
	}

	srv := api.NewServer(cfg.Server.Address, m, workers, bal, counters,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logging.Named(logger, "api"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bal.Run(ctx) })
	g.Go(func() error { return observer.Start(ctx) })
	g.Go(func() error { return reaper.Start(ctx) })
	g.Go(func() error { return srv.Serve(ctx) })

	if provision {
		bal.TriggerProvision()
	}

	logger.Infow("Cortex started", zap.String("address", cfg.Server.Address), zap.String("driver", cfg.Docker.Driver))
	err = g.Wait()
	logger.Info("Cortex stopped")
	return err
}
