package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the fast cache",
	}

	cmd.AddCommand(newCacheWarmCmd())

	return cmd
}

func newCacheWarmCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Populate the cache with every active key",
		Long:  "Read all keys from the durable store and write the cache projection of every active, unexpired key.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				if !cmd.Flags().Changed("workers") {
					workers = e.cfg.Cache.WarmWorkers
				}
				n, err := e.service.WarmCache(cmd.Context(), workers)
				if err != nil {
					return fmt.Errorf("warm cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Warmed %d cache entries\n", n)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "number of concurrent cache writers")

	return cmd
}
