package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/output"
)

var (
	repoCmd = &cobra.Command{
		Use:   "repo",
		Short: "Manage package repositories",
		Long: `Manage the repositories packages are fetched from. Every record points at
one repository; a package reporting an unknown repository is attributed to
the repository named by the main_repository_name setting.`,
	}

	repoAddCmd = &cobra.Command{
		Use:     "add <name> <url>",
		Short:   "Add a repository",
		Example: `  addonsync repo add main https://packages.example.com`,
		Args:    cobra.ExactArgs(2),
		RunE:    runRepoAdd,
	}

	repoListCmd = &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		Args:  cobra.NoArgs,
		RunE:  runRepoList,
	}
)

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := e.store.InsertRepository(cmd.Context(), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to add repository: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Repository %s added (id %d)\n", args[0], id)
	return nil
}

func runRepoList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	repos, err := e.store.ListRepositories(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), output.RenderRepositoryTable(repos))
	return nil
}
