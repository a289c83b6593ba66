package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/runner"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker for durable extraction",
	Long:  "Polls the configured task queue and runs extraction workflows dispatched by serve or bulk with runner.dispatcher=temporal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize: cfg.Runner.PoolSize,
		})
		w.RegisterWorkflow(runner.ExtractWorkflow)
		w.RegisterActivity(&runner.Activities{Exec: env.Orchestrator})

		if err := w.Start(); err != nil {
			return eris.Wrap(err, "start temporal worker")
		}
		zap.L().Info("temporal worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.Int("concurrency", cfg.Runner.PoolSize),
		)

		<-ctx.Done()
		zap.L().Info("stopping temporal worker")
		w.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
