package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/runner"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail processing records that no loop owns",
	Long:  "Runs one orphan sweep: entities stuck in processing longer than the orphan timeout are marked failed (orphaned). Run only when no local server shares the store, since this process cannot see its loops.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		policy := cfg.ReconcilePolicy()
		if d, _ := cmd.Flags().GetDuration("orphan-timeout"); d > 0 {
			policy.OrphanTimeout = d
		}

		var active runner.ActiveChecker
		if cfg.Runner.Dispatcher == "temporal" {
			c, err := dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()
			active = runner.NewTemporalDispatcher(c, cfg.Temporal.TaskQueue, cfg.WorkflowPolicy())
		}

		n, err := runner.NewReconciler(st, active, policy).Sweep(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("reconcile complete", zap.Int("orphaned", n), zap.Duration("orphan_timeout", policy.OrphanTimeout))
		fmt.Printf("%d orphaned records marked failed\n", n)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Duration("orphan-timeout", 0, "override runner.orphan_timeout_mins (e.g. 45m)")
	rootCmd.AddCommand(reconcileCmd)
}
