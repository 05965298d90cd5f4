package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/installer"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
)

// attemptFlags are the per-package flags shared by hook and the installer
// commands.
type attemptFlags struct {
	repository string
	supports   []string
	listeners  []string
	manifest   string
}

func (f *attemptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repository, "repository", "", "repository the package was fetched from (default: main repository setting)")
	cmd.Flags().StringSliceVar(&f.supports, "supports", nil, "capability tags a theme provides (comma-separated)")
	cmd.Flags().StringArrayVar(&f.listeners, "listener", nil, "declared listener as event=ref, repeatable")
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "composer.json manifest supplying kind, version, supports and listeners")
}

// attempt builds a lifecycle attempt. Explicit arguments and flags win over
// the manifest; kind defaults to plugin when neither names it.
func (f *attemptFlags) attempt(kind, pkg, version string) (lifecycle.Attempt, error) {
	a := lifecycle.Attempt{
		Package:    pkg,
		Version:    version,
		Repository: f.repository,
		Supports:   f.supports,
	}

	var declared addon.Listeners
	if f.manifest != "" {
		m, err := installer.LoadManifest(f.manifest)
		if err != nil {
			return lifecycle.Attempt{}, err
		}
		if a.Package == "" {
			a.Package = m.Name
		}
		if kind == "" {
			kind = string(m.Kind)
		}
		if a.Version == "" {
			a.Version = m.Version
		}
		if len(a.Supports) == 0 {
			a.Supports = m.Supports
		}
		declared = m.Listeners
	}

	if kind == "" {
		kind = string(addon.KindPlugin)
	}
	k, err := addon.ParseKind(kind)
	if err != nil {
		return lifecycle.Attempt{}, err
	}
	a.Kind = k

	if a.Package == "" {
		return lifecycle.Attempt{}, errors.New("package name is required")
	}

	extra, err := parseListeners(f.listeners)
	if err != nil {
		return lifecycle.Attempt{}, err
	}
	a.Listeners = mergeListeners(declared, extra)
	return a, nil
}

var (
	hookFlags  attemptFlags
	hookFailed bool
	hookError  string

	hookCmd = &cobra.Command{
		Use:   "hook <install|update|uninstall> <plugin|theme> <package> [version]",
		Short: "Record an outcome reported by an external installer",
		Long: `Record the outcome of one install, update or uninstall that another tool
already performed.

Package managers call this from their post-install scripts. The package
record is updated and a notification is queued for the serving process;
nothing is installed or removed by this command.

A package fetched under a proxy name (ending in -latus-proxied by default)
is recorded under its canonical name.`,
		Example: `  # A plugin was installed
  addonsync hook install plugin vendor/seo 2.4.1 --repository main

  # A theme update failed
  addonsync hook update theme vendor/aurora 3.1.0 --error "checksum mismatch"

  # Take kind, version and listeners from the package manifest
  addonsync hook install theme vendor/aurora --manifest vendor/aurora/composer.json`,
		Args: cobra.RangeArgs(3, 4),
		RunE: runHook,
	}
)

func init() {
	hookFlags.register(hookCmd)
	hookCmd.Flags().BoolVar(&hookFailed, "failed", false, "the operation failed")
	hookCmd.Flags().StringVar(&hookError, "error", "", "failure message reported by the installer (implies --failed)")
}

func runHook(cmd *cobra.Command, args []string) error {
	verb, ok := lifecycle.ParseVerb(args[0])
	if !ok {
		return fmt.Errorf("unknown operation %q (want install, update or uninstall)", args[0])
	}

	version := ""
	if len(args) == 4 {
		version = args[3]
	}
	a, err := hookFlags.attempt(args[1], args[2], version)
	if err != nil {
		return err
	}

	out := lifecycle.Success()
	if hookFailed || hookError != "" {
		msg := hookError
		if msg == "" {
			msg = "reported by installer"
		}
		out = lifecycle.Failure(errors.New(msg))
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.orchestrator().Apply(cmd.Context(), verb, a, out)
	if err != nil {
		return fmt.Errorf("failed to record %s of %s: %w", verb, a.Package, err)
	}

	name := addon.ResolveIdentity(a.Package, e.cfg.ProxyMarker).CanonicalName
	fmt.Fprintln(cmd.OutOrStdout(), describeResult(verb, name, res))
	return nil
}
