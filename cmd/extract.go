package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/extraction"
	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/runner"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a single entity in-process",
	Long:  "Admits one extraction request and runs its loop in this process until it reaches a terminal state.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		r, err := runner.New(env.Orchestrator, env.Store, 1)
		if err != nil {
			return err
		}
		svc := extraction.NewService(initGuard(env, r), r, env.Registry, env.Store)

		acc, err := svc.StartExtraction(ctx, req)
		if err != nil {
			if ce, ok := guard.AsConflict(err); ok {
				return eris.Errorf("extract: %s (existing entity %s is %s)", ce.Reason, ce.ExistingID, ce.ExistingStatus)
			}
			return err
		}
		zap.L().Info("extraction started",
			zap.String("entity_id", acc.EntityID),
			zap.Float64("est_cost_usd", acc.EstCostUSD),
			zap.Duration("est_duration", acc.EstDuration),
		)

		done := make(chan struct{})
		go func() {
			r.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			zap.L().Warn("interrupted, cancelling extraction", zap.String("entity_id", acc.EntityID))
			if _, err := r.Cancel(cmd.Context(), acc.EntityID); err != nil {
				zap.L().Warn("cancel failed", zap.Error(err))
			}
			<-done
		}
		sctx, cancel := shutdownContext()
		defer cancel()
		r.Stop(sctx)

		e, err := env.Store.GetEntity(cmd.Context(), acc.EntityID)
		if err != nil {
			return eris.Wrap(err, "extract: reload entity")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, e)
		}
		formatEntity(os.Stdout, e, env.Registry.Names(e.Type))
		if e.Status == model.StatusFailed {
			return eris.Errorf("extract: entity %s failed: %s", e.ID, e.FailureReason)
		}
		return nil
	},
}

// requestFromFlags builds a guard request from the extract flags.
func requestFromFlags(cmd *cobra.Command) (guard.Request, error) {
	typ, _ := cmd.Flags().GetString("type")
	placeID, _ := cmd.Flags().GetString("place-id")
	query, _ := cmd.Flags().GetString("query")
	name, _ := cmd.Flags().GetString("name")
	locality, _ := cmd.Flags().GetString("locality")
	override, _ := cmd.Flags().GetBool("override")
	force, _ := cmd.Flags().GetStringSlice("force")
	forceAll, _ := cmd.Flags().GetBool("force-all")

	t, err := model.ParseEntityType(typ)
	if err != nil {
		return guard.Request{}, err
	}
	req := guard.Request{
		EntityType:      t,
		ExternalPlaceID: placeID,
		SearchQuery:     query,
		Name:            name,
		Locality:        locality,
		Override:        override,
		Force:           force,
		ForceAll:        forceAll,
	}
	if err := req.Validate(); err != nil {
		return guard.Request{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}

func init() {
	f := extractCmd.Flags()
	f.String("type", "", "entity type (restaurant, hotel, mall, attraction, fitness_center, school)")
	f.String("place-id", "", "external place id")
	f.String("query", "", "search query used when the place id does not resolve")
	f.String("name", "", "name hint for the duplicate check")
	f.String("locality", "", "locality hint for the duplicate check")
	f.Bool("override", false, "resume or re-run an existing entity")
	f.StringSlice("force", nil, "steps to re-run even if completed")
	f.Bool("force-all", false, "re-run every step")
	f.Bool("json", false, "print the entity as JSON")
	_ = extractCmd.MarkFlagRequired("type")
	_ = extractCmd.MarkFlagRequired("place-id")
	rootCmd.AddCommand(extractCmd)
}
