package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Replay graph writes that were deferred while the graph was down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			report, err := eng.Reconcile(ctx)
			if err != nil {
				return err
			}

			return printJSON(report)
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Delete memories past retention from both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, cfg, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			if cfg.Retention.MaxAge <= 0 {
				return fmt.Errorf("retention.max_age is not set")
			}

			removed, err := eng.Sweep(ctx)
			if err != nil {
				return err
			}

			return printJSON(map[string]int{"removed": removed})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show store sizes and the reconciliation backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			return printJSON(eng.Stats(ctx))
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Snapshot the knowledge graph to a file or an S3 bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			eng, _, err := openEngine(ctx)
			if err != nil {
				return err
			}

			defer eng.Close(ctx)

			location, err := eng.Export(ctx)
			if err != nil {
				return err
			}

			return printJSON(map[string]string{"location": location})
		},
	}
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
}
