package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	settingCmd = &cobra.Command{
		Use:   "setting",
		Short: "Read and write host settings",
		Long: `Read and write the host settings stored alongside the package records,
such as main_repository_name.`,
	}

	settingGetCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE:  runSettingGet,
	}

	settingSetCmd = &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Change a setting",
		Example: `  addonsync setting set main_repository_name main`,
		Args:    cobra.ExactArgs(2),
		RunE:    runSettingSet,
	}
)

func init() {
	settingCmd.AddCommand(settingGetCmd)
	settingCmd.AddCommand(settingSetCmd)
}

func runSettingGet(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	value, ok, err := e.store.GetSetting(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read setting: %w", err)
	}
	if !ok {
		return fmt.Errorf("setting %s is not set", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSettingSet(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.store.SetSetting(cmd.Context(), args[0], args[1]); err != nil {
		return fmt.Errorf("failed to write setting: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s = %s\n", args[0], args[1])
	return nil
}
