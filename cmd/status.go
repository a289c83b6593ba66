package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/registry"
	"github.com/sells-group/directory-cli/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [entity-id]",
	Short: "Show an entity's extraction state, or list entities",
	Long:  "With an id (or --place-id) prints the entity and its step table. Without one lists entities matching the filters.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		asJSON, _ := cmd.Flags().GetBool("json")
		placeID, _ := cmd.Flags().GetString("place-id")

		var e *model.Entity
		switch {
		case len(args) == 1:
			e, err = st.GetEntity(ctx, args[0])
		case placeID != "":
			e, err = st.FindByExternalID(ctx, placeID)
		}
		if err != nil {
			if store.IsNotFound(err) {
				return eris.New("status: entity not found")
			}
			return eris.Wrap(err, "status")
		}
		if e != nil {
			if asJSON {
				return writeJSON(os.Stdout, e)
			}
			formatEntity(os.Stdout, e, registry.Default().Names(e.Type))
			return nil
		}

		filter, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}
		list, err := st.ListEntities(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "status: list")
		}
		if asJSON {
			return writeJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No entities found.")
			return nil
		}
		formatEntityList(os.Stdout, list)
		return nil
	},
}

func filterFromFlags(cmd *cobra.Command) (store.EntityFilter, error) {
	typ, _ := cmd.Flags().GetString("type")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.EntityFilter{Status: model.OverallStatus(status), Limit: limit}
	if typ != "" {
		t, err := model.ParseEntityType(typ)
		if err != nil {
			return store.EntityFilter{}, err
		}
		filter.Type = t
	}
	if cmd.Flags().Changed("active") {
		active, _ := cmd.Flags().GetBool("active")
		filter.Active = &active
	}
	return filter, nil
}

func init() {
	f := statusCmd.Flags()
	f.String("place-id", "", "look up by external place id")
	f.String("type", "", "filter by entity type")
	f.String("status", "", "filter by overall status (pending, processing, completed, failed)")
	f.Bool("active", false, "filter by published flag")
	f.Int("limit", 50, "max entities to list")
	f.Bool("json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}
