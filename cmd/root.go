package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cortex/config"
	"cortex/logging"
)

// NewRootCmd returns the cortex command tree.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "cortex",
		Short: "Job server with an elastic worker container pool",
		Long: `Cortex queues jobs for a pool of worker containers and keeps the pool
sized to the load: a periodic balancer scores queued jobs against running
workers and starts or kills containers within the configured bounds.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	load := func() (*config.Config, *zap.SugaredLogger, error) {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return nil, nil, err
		}
		logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newProvisionCmd(load),
		newScoreCmd(),
	)
	return root
}

type loader func() (*config.Config, *zap.SugaredLogger, error)
