package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/installer"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
	"github.com/blackwell-systems/addonsync/internal/output"
)

// newBackend builds the package manager backend. Tests replace it.
var newBackend = func(e *env) installer.Backend {
	return installer.NewExecBackend(installer.ExecConfig{
		Commands:      e.cfg.Commands(),
		WorkDir:       e.cfg.WorkDir,
		Timeout:       e.cfg.CommandTimeout,
		MaxRetries:    e.cfg.CommandRetries,
		RetryInterval: e.cfg.RetryInterval,
	}, e.logger)
}

// runOptions are the flags of one installer command.
type runOptions struct {
	attemptFlags
	kind string
}

var (
	installOpts   runOptions
	updateOpts    runOptions
	uninstallOpts runOptions

	installCmd = &cobra.Command{
		Use:   "install <package:version>...",
		Short: "Install packages and record the outcome",
		Long: `Install one or more packages through the configured package manager
(composer by default) and record each outcome.

Operations on the same package run in the order given; different packages
run concurrently up to ADDONSYNC_CONCURRENCY. A failed install keeps the
record in failed_install status and queues an install_failed notification.`,
		Example: `  # Install a plugin
  addonsync install vendor/seo:2.4.1

  # Install a theme with its manifest
  addonsync install --manifest vendor/aurora/composer.json

  # Install several plugins from a mirror repository
  addonsync install vendor/seo:2.4.1 vendor/forms:1.0.0 --repository mirror`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackages(cmd, lifecycle.VerbInstall, &installOpts, args)
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update <package:version>...",
		Short: "Update packages and record the outcome",
		Long: `Update one or more installed packages to a new version and record each
outcome. A failed update keeps the last good version and marks the record
failed_update.`,
		Example: `  addonsync update vendor/seo:2.5.0
  addonsync update vendor/aurora:3.1.0 --kind theme --supports blog,shop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackages(cmd, lifecycle.VerbUpdate, &updateOpts, args)
		},
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall <package>...",
		Short: "Uninstall packages and record the outcome",
		Long: `Uninstall one or more packages and record each outcome.

Records in deactivated status are retained after their files are removed.
Every other record is deleted and an uninstalled notification is queued.`,
		Example: `  addonsync uninstall vendor/seo
  addonsync uninstall vendor/aurora --kind theme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPackages(cmd, lifecycle.VerbUninstall, &uninstallOpts, args)
		},
	}
)

func init() {
	for _, c := range []struct {
		cmd  *cobra.Command
		opts *runOptions
	}{
		{installCmd, &installOpts},
		{updateCmd, &updateOpts},
		{uninstallCmd, &uninstallOpts},
	} {
		c.opts.register(c.cmd)
		c.cmd.Flags().StringVar(&c.opts.kind, "kind", "", "package kind: plugin or theme (default: manifest type, else plugin)")
	}
}

// buildOperations turns package arguments into runner operations.
func buildOperations(verb lifecycle.Verb, opts *runOptions, args []string) ([]installer.Operation, error) {
	if len(args) == 0 {
		if opts.manifest == "" {
			return nil, errors.New("at least one package is required")
		}
		args = []string{""}
	}
	if opts.manifest != "" && len(args) > 1 {
		return nil, errors.New("--manifest describes a single package")
	}

	ops := make([]installer.Operation, 0, len(args))
	for _, arg := range args {
		name, version := splitPackageArg(arg)
		a, err := opts.attempt(opts.kind, name, version)
		if err != nil {
			return nil, err
		}
		if verb != lifecycle.VerbUninstall && a.Version == "" {
			return nil, fmt.Errorf("missing version for %s (use %s:<version>)", a.Package, a.Package)
		}
		ops = append(ops, installer.Operation{Verb: verb, Attempt: a})
	}
	return ops, nil
}

func runPackages(cmd *cobra.Command, verb lifecycle.Verb, opts *runOptions, args []string) error {
	ops, err := buildOperations(verb, opts, args)
	if err != nil {
		return err
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	runner := e.runner(newBackend(e))
	bar := output.NewProgress(len(ops), "packages")
	bar.SetWriter(cmd.ErrOrStderr())
	runner.OnProgress(func(installer.Report) { bar.Increment() })

	reports, runErr := runner.Run(cmd.Context(), ops)
	bar.Finish()

	failed := printReports(cmd.OutOrStdout(), e.cfg.ProxyMarker, reports)
	if runErr != nil {
		return fmt.Errorf("failed to record outcomes: %w", runErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d %s operations failed", failed, len(reports), verb)
	}
	return nil
}

// printReports writes one line per report and returns how many operations
// did not succeed.
func printReports(w io.Writer, marker string, reports []installer.Report) int {
	failed := 0
	for _, rep := range reports {
		op := rep.Operation
		name := addon.ResolveIdentity(op.Attempt.Package, marker).CanonicalName

		switch {
		case rep.Skipped:
			failed++
			fmt.Fprintf(w, "%s: skipped after an earlier error\n", name)
		case rep.Err != nil:
			failed++
			fmt.Fprintf(w, "%s: %v\n", name, rep.Err)
		case rep.BackendErr != nil:
			failed++
			fmt.Fprintf(w, "%s (%s failed: %v)\n", describeResult(op.Verb, name, rep.Result), op.Verb, rep.BackendErr)
		default:
			fmt.Fprintln(w, describeResult(op.Verb, name, rep.Result))
		}
	}
	return failed
}
