package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/output"
)

var (
	listStatus string

	listCmd = &cobra.Command{
		Use:   "list [plugins|themes]",
		Short: "List tracked packages",
		Long: `List the plugin and theme records with their status, installed version
and the version of the last attempt.

Names marked with * were fetched under a proxy name.`,
		Example: `  # Everything
  addonsync list

  # Themes whose last update failed
  addonsync list themes --status failed_update`,
		Args: cobra.MaximumNArgs(1),
		RunE: runList,
	}
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show records in this status")
}

func runList(cmd *cobra.Command, args []string) error {
	kinds := addon.Kinds()
	if len(args) == 1 {
		k, err := addon.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []addon.Kind{k}
	}

	status := addon.Status(listStatus)
	if listStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var records []*addon.Record
	for _, k := range kinds {
		recs, err := e.store.List(cmd.Context(), k)
		if err != nil {
			return fmt.Errorf("failed to list %ss: %w", k, err)
		}
		for _, r := range recs {
			if listStatus == "" || r.Status == status {
				records = append(records, r)
			}
		}
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderRecordTable(records))
	return nil
}
