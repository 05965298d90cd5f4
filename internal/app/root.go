package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/addonsync/internal/config"
)

var (
	dbPath    string
	queuePath string

	// RootCmd is the root command for addonsync
	RootCmd = &cobra.Command{
		Use:   "addonsync",
		Short: "Track plugin and theme lifecycle and notify listeners",
		Long: `addonsync keeps a record of every plugin and theme the package manager
installs, updates or removes, and notifies listeners about each change.

The installer side runs short-lived: each install, update or uninstall
outcome updates the package record and appends a notification to a durable
queue. The serving side runs long-lived: 'addonsync serve' drains the queue
once per request boundary and hands each event to its listeners.

Quick Start:
  1. addonsync repo add main https://packages.example.com
  2. addonsync setting set main_repository_name main
  3. addonsync serve --daemon
  4. addonsync install vendor/plugin:1.0.0

Features:
  • One status per package, failures never lose the last good version
  • Proxy-named packages tracked under their canonical name
  • Durable event queue shared between installer and server
  • Log and webhook listeners, plus aliases from ~/.config/addonsync/listeners

Examples:
  # Record an outcome reported by an external installer
  addonsync hook install plugin vendor/plugin 1.0.0

  # Install through the configured package manager
  addonsync install vendor/plugin:1.0.0 --repository main

  # List tracked themes that failed to update
  addonsync list themes --status failed_update

  # Show and deliver pending notifications
  addonsync queue
  addonsync drain`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				if _, statErr := os.Stat(cfg.DBPath); statErr == nil {
					fmt.Println("addonsync: plugin and theme lifecycle tracking")
					fmt.Println()
					fmt.Println("Tip: Run 'addonsync list' to see tracked packages.")
					fmt.Println("     Run 'addonsync queue' to see pending notifications.")
					fmt.Println("     Run 'addonsync --help' for all commands.")
					return nil
				}
			}
			fmt.Println("addonsync: plugin and theme lifecycle tracking")
			fmt.Println()
			fmt.Println("Run 'addonsync repo add' to configure a repository.")
			fmt.Println("Run 'addonsync --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: ~/.addonsync/addonsync.db)")
	RootCmd.PersistentFlags().StringVar(&queuePath, "queue", "", "event queue path (default: ~/.addonsync/queue.json)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2

	RootCmd.AddCommand(hookCmd)
	RootCmd.AddCommand(installCmd)
	RootCmd.AddCommand(updateCmd)
	RootCmd.AddCommand(uninstallCmd)
	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(queueCmd)
	RootCmd.AddCommand(drainCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(repoCmd)
	RootCmd.AddCommand(settingCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig reads the environment, applies the --db and --queue overrides
// and makes sure the data directory exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if queuePath != "" {
		cfg.QueuePath = queuePath
	}

	for _, dir := range []string{cfg.DataDir, filepath.Dir(cfg.DBPath), filepath.Dir(cfg.QueuePath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create addonsync directory: %w", err)
		}
	}
	return cfg, nil
}
