package main

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/directory-cli/internal/api"
	"github.com/sells-group/directory-cli/internal/bulk"
	"github.com/sells-group/directory-cli/internal/extraction"
	"github.com/sells-group/directory-cli/internal/metrics"
	"github.com/sells-group/directory-cli/internal/monitoring"
	"github.com/sells-group/directory-cli/internal/runner"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API with background extraction",
	Long:  "Serves the admin API, runs extraction loops on the configured dispatcher, sweeps orphaned records and, when enabled, checks alert thresholds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		disp, err := initDispatcher(env, false)
		if err != nil {
			return err
		}

		svc := extraction.NewService(initGuard(env, disp), disp, env.Registry, env.Store)
		srv := api.New(api.Config{
			Extractor:      svc,
			Bulk:           bulk.NewDriver(svc, env.Throttle),
			Store:          env.Store,
			Breakers:       env.Breakers,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxBulkItems:   cfg.Server.MaxBulkItems,
			BaseContext:    ctx,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("dispatcher", cfg.Runner.Dispatcher))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			runner.NewReconciler(env.Store, disp, cfg.ReconcilePolicy()).Run(gctx)
			return nil
		})

		if cfg.Monitoring.Enabled {
			g.Go(func() error {
				checker := monitoring.NewChecker(
					monitoring.NewCollector(env.Store, env.Breakers),
					monitoring.NewAlerter(cfg.Monitoring),
					cfg.Monitoring,
					monitoring.WithSnapshotHook(func(s monitoring.MetricsSnapshot) {
						metrics.RecordWindow(s.FailRate, s.CostUSD, len(s.OpenCircuits))
					}),
				)
				checker.Run(gctx)
				return nil
			})
		}

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := shutdownContext()
			defer cancel()
			if err := httpSrv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			srv.Wait()
			disp.Shutdown(sctx)
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
