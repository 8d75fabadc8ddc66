package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cortex/balancer"
	"cortex/logging"
	"cortex/stats"
)

func newProvisionCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Top the worker pool up to max_containers once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if !cfg.Balancer.AllowProvision {
				return fmt.Errorf("provisioning is disabled, set balancer.allow_provision_containers")
			}

			driver, err := newDriver(cfg, logger)
			if err != nil {
				return err
			}
			bal, err := balancer.New(cfg.Balancer, stats.NewCounters(), driver, logging.Named(logger, "balancer"))
			if err != nil {
				return err
			}

			n := bal.Provision(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "started %d containers\n", n)
			return nil
		},
	}
}
