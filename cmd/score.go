package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cortex/balancer"
)

func newScoreCmd() *cobra.Command {
	var (
		queued    int64
		running   int64
		threshold int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Print the balance score for a given load",
		Long: `Score computes (queued - running*threshold) / threshold the way the
balancer does. Positive scores grow the pool, negative scores shrink it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := balancer.RawScore(queued, running, threshold)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "score: %d\n", score)
			return nil
		},
	}
	cmd.Flags().Int64Var(&queued, "queued", 0, "queued jobs")
	cmd.Flags().Int64Var(&running, "running", 0, "running workers")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "tolerance threshold (jobs per worker)")
	return cmd
}
