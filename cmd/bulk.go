package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/extraction"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk <file.csv|file.xlsx>",
	Short: "Start extractions for every row of a CSV or XLSX file",
	Long: "Reads entity_type and external_place_id columns (plus optional search_query, name, locality, override, force, force_all) " +
		"and submits one request per row in paced batches. With the local dispatcher the command waits for every loop to finish.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := bulk.Load(ctx, args[0])
		if err != nil {
			return err
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		zap.L().Info("bulk input loaded", zap.String("file", args[0]), zap.Int("items", len(items)))

		env, err := initEnv(ctx, "bulk")
		if err != nil {
			return err
		}
		defer env.Close()

		disp, err := initDispatcher(env, false)
		if err != nil {
			return err
		}
		svc := extraction.NewService(initGuard(env, disp), disp, env.Registry, env.Store)
		sum := bulk.NewDriver(svc, env.Throttle).Run(ctx, items)

		// Local loops keep running after submission; Shutdown waits for
		// them unless the deadline or an interrupt cuts it short.
		if ld, ok := disp.(localDispatcher); ok {
			zap.L().Info("waiting for extraction loops", zap.Int("active", ld.Active()))
			waitLocal(ctx, ld)
		}
		sctx, cancel := shutdownContext()
		defer cancel()
		disp.Shutdown(sctx)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := writeJSON(os.Stdout, sum); err != nil {
				return err
			}
		} else {
			formatBulkSummary(os.Stdout, sum)
		}
		if sum.Interrupted {
			return eris.New("bulk: interrupted")
		}
		return nil
	},
}

// waitLocal blocks until the local pool drains or ctx ends.
func waitLocal(ctx context.Context, ld localDispatcher) {
	done := make(chan struct{})
	go func() {
		ld.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func init() {
	bulkCmd.Flags().Int("limit", 0, "max rows to submit (0 = all)")
	bulkCmd.Flags().Bool("json", false, "print the summary as JSON")
	rootCmd.AddCommand(bulkCmd)
}
